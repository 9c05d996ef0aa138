package telemetry

// Histogram bucket definitions for different profiles
var (
	// DeliveryBuckets for outbound destination calls (network + remote service)
	DeliveryBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// BatchSizeBuckets for flushed alert batch sizes
	BatchSizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}

	// PayloadBuckets for bulk index request payload bytes
	PayloadBuckets = []float64{1 << 10, 10 << 10, 100 << 10, 1 << 20, 5 << 20, 10 << 20}
)

// Bus Metrics
var (
	// BusEventsPublished counts events accepted by the ring buffer
	BusEventsPublished Counter = NoopStat{}

	// BusProducerWaits counts producer blocks caused by a gating consumer
	BusProducerWaits Counter = NoopStat{}

	// BusConsumerLag tracks unread events per consumer
	BusConsumerLag GaugeVec = noopGaugeVec{}

	// BusConsumerPanics counts recovered consumer handler panics
	BusConsumerPanics CounterVec = noopCounterVec{}
)

// Alert Delivery Metrics
var (
	// DeliveriesTotal counts destination calls by type and result (success, retriable, permanent)
	DeliveriesTotal CounterVec = noopCounterVec{}

	// DeliveryDurationSeconds measures destination call latency by type
	DeliveryDurationSeconds HistogramVec = noopHistogramVec{}

	// DeliveryBatchSize measures events per flushed batch
	DeliveryBatchSize Histogram = NoopStat{}

	// BackoffLevel tracks the current backoff rung per subscription-destination pair
	BackoffLevel GaugeVec = noopGaugeVec{}

	// EventsFiltered counts events rejected by trigger or rule filters
	EventsFiltered CounterVec = noopCounterVec{}

	// PublishersLive tracks the number of live publishers
	PublishersLive Gauge = NoopStat{}
)

// Bulk Index Sink Metrics
var (
	// BulkRequestsTotal counts bulk calls by result (success, partial, failed)
	BulkRequestsTotal CounterVec = noopCounterVec{}

	// BulkRecordsTotal counts records by outcome (succeeded, failed, oversized)
	BulkRecordsTotal CounterVec = noopCounterVec{}

	// BulkPayloadBytes measures compressed-before payload size per bulk call
	BulkPayloadBytes Histogram = NoopStat{}
)

// Audit / Notification Metrics
var (
	// AuditAppendedTotal counts change events persisted to the audit log
	AuditAppendedTotal Counter = NoopStat{}

	// AuditDuplicatesTotal counts redelivered events dropped by the dedupe filter
	AuditDuplicatesTotal Counter = NoopStat{}

	// NotifyDroppedTotal counts UI notifications dropped because a subscriber lagged
	NotifyDroppedTotal Counter = NoopStat{}
)

// InitializeMetrics binds all metric variables to the Prometheus registry.
// Called by InitializeTelemetry after the registry exists.
func InitializeMetrics() {
	BusEventsPublished = NewCounter(
		"bus_events_published_total",
		"Total change events accepted by the event bus",
	)
	BusProducerWaits = NewCounter(
		"bus_producer_waits_total",
		"Producer blocks waiting for a gating consumer",
	)
	BusConsumerLag = NewGaugeVec(
		"bus_consumer_lag",
		"Unread events per bus consumer",
		[]string{"consumer"},
	)
	BusConsumerPanics = NewCounterVec(
		"bus_consumer_panics_total",
		"Recovered consumer handler panics",
		[]string{"consumer"},
	)

	DeliveriesTotal = NewCounterVec(
		"deliveries_total",
		"Destination delivery calls by type and result",
		[]string{"destination_type", "result"},
	)
	DeliveryDurationSeconds = NewHistogramVec(
		"delivery_duration_seconds",
		"Destination delivery call duration in seconds",
		[]string{"destination_type"},
		DeliveryBuckets,
	)
	DeliveryBatchSize = NewHistogramWithBuckets(
		"delivery_batch_size",
		"Events per flushed alert batch",
		BatchSizeBuckets,
	)
	BackoffLevel = NewGaugeVec(
		"backoff_level",
		"Current backoff ladder rung per subscription-destination pair",
		[]string{"subscription", "destination"},
	)
	EventsFiltered = NewCounterVec(
		"events_filtered_total",
		"Events rejected by subscription filters",
		[]string{"stage"},
	)
	PublishersLive = NewGauge(
		"publishers_live",
		"Number of live alert publishers",
	)

	BulkRequestsTotal = NewCounterVec(
		"bulk_requests_total",
		"Bulk index calls by result",
		[]string{"result"},
	)
	BulkRecordsTotal = NewCounterVec(
		"bulk_records_total",
		"Bulk index records by outcome",
		[]string{"outcome"},
	)
	BulkPayloadBytes = NewHistogramWithBuckets(
		"bulk_payload_bytes",
		"Estimated payload size per bulk call in bytes",
		PayloadBuckets,
	)

	AuditAppendedTotal = NewCounter(
		"audit_appended_total",
		"Change events persisted to the audit log",
	)
	AuditDuplicatesTotal = NewCounter(
		"audit_duplicates_total",
		"Redelivered change events dropped by the audit dedupe filter",
	)
	NotifyDroppedTotal = NewCounter(
		"notify_dropped_total",
		"UI notifications dropped because a subscriber channel was full",
	)
}
