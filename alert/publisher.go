package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/alert/destination"
	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/rules"
	"github.com/opencatalyst/catalyst/telemetry"
)

// PublisherConfig configures one publisher for a subscription-destination
// pair.
type PublisherConfig struct {
	Subscription Subscription
	Destination  destination.Config

	// Dest overrides the destination built from Destination. Used by tests.
	Dest destination.Destination

	Evaluator *rules.Evaluator

	// Rungs overrides the backoff ladder. nil selects DefaultRungs.
	Rungs []time.Duration
}

// Publisher filters, batches and delivers change events for one
// subscription-destination pair. It consumes the event bus on a dedicated
// goroutine; sleeping through a backoff rung therefore stalls its bus cursor,
// which is the engine's deliberate load-shedding mechanism.
type Publisher struct {
	subID    string
	destID   string
	destType destination.Type

	dest    destination.Destination
	trigger map[string]struct{}
	ruleSet *rules.Set

	batchSize       int
	timeout         time.Duration
	dropFailedBatch bool

	// batch and backoff are touched only by the consumer goroutine.
	batch   []*event.ChangeEvent
	backoff *Backoff

	halted   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	statusMu sync.Mutex
	status   DeliveryStatus
}

// NewPublisher compiles the subscription's filters and builds the
// destination transport.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("rule evaluator is required")
	}

	ruleSet, err := cfg.Evaluator.CompileSet(cfg.Subscription.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules for subscription %s: %w", cfg.Subscription.ID, err)
	}

	dest := cfg.Dest
	if dest == nil {
		dest, err = destination.New(cfg.Destination)
		if err != nil {
			return nil, fmt.Errorf("failed to create destination %s: %w", cfg.Destination.ID, err)
		}
	}

	batchSize := cfg.Subscription.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	timeoutSeconds := cfg.Subscription.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}

	var trigger map[string]struct{}
	if len(cfg.Subscription.TriggerEntityTypes) > 0 {
		trigger = make(map[string]struct{}, len(cfg.Subscription.TriggerEntityTypes))
		for _, t := range cfg.Subscription.TriggerEntityTypes {
			trigger[t] = struct{}{}
		}
	}

	p := &Publisher{
		subID:           cfg.Subscription.ID,
		destID:          cfg.Destination.ID,
		destType:        cfg.Destination.Type,
		dest:            dest,
		trigger:         trigger,
		ruleSet:         ruleSet,
		batchSize:       batchSize,
		timeout:         time.Duration(timeoutSeconds) * time.Second,
		dropFailedBatch: cfg.Subscription.DropFailedBatch,
		batch:           make([]*event.ChangeEvent, 0, batchSize),
		backoff:         NewBackoff(cfg.Rungs),
		stopCh:          make(chan struct{}),
	}
	p.setStatus(StatusActive, "")
	return p, nil
}

// SubscriptionID returns the owning subscription id.
func (p *Publisher) SubscriptionID() string { return p.subID }

// DestinationID returns the destination id this publisher delivers to.
func (p *Publisher) DestinationID() string { return p.destID }

// OnEvent implements the bus consumer contract: trigger filter, rule
// evaluation, batch append, and flush on batch-size or end-of-available.
func (p *Publisher) OnEvent(ev *event.ChangeEvent, _ uint64, endOfBatch bool) {
	if p.halted.Load() {
		return
	}

	if p.accepts(ev) {
		p.batch = append(p.batch, ev)
	}

	if len(p.batch) >= p.batchSize || (endOfBatch && len(p.batch) > 0) {
		p.flush()
	}
}

// accepts runs the coarse trigger filter, then the compiled rule set.
func (p *Publisher) accepts(ev *event.ChangeEvent) bool {
	if ev == nil {
		return false
	}
	if p.trigger != nil {
		if _, ok := p.trigger[ev.EntityType]; !ok {
			telemetry.EventsFiltered.With("trigger").Inc()
			return false
		}
	}
	if !p.ruleSet.Matches(ev) {
		telemetry.EventsFiltered.With("rules").Inc()
		return false
	}
	return true
}

// flush delivers the current batch. On a retriable failure it climbs one
// backoff rung and sleeps before either retrying the same batch (default) or
// dropping it, depending on the subscription's failed-batch policy. The
// sleep happens on the consumer goroutine on purpose: it holds the bus
// cursor and creates producer-side backpressure.
func (p *Publisher) flush() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		start := time.Now()
		err := p.dest.Deliver(ctx, p.batch)
		cancel()
		telemetry.DeliveryDurationSeconds.With(string(p.destType)).Observe(time.Since(start).Seconds())

		if err == nil {
			telemetry.DeliveriesTotal.With(string(p.destType), "success").Inc()
			telemetry.DeliveryBatchSize.Observe(float64(len(p.batch)))
			p.batch = p.batch[:0]
			p.backoff.Reset()
			telemetry.BackoffLevel.With(p.subID, p.destID).Set(0)
			p.setStatus(StatusActive, "")
			return
		}

		if destination.IsPermanent(err) {
			telemetry.DeliveriesTotal.With(string(p.destType), "permanent").Inc()
			log.Error().
				Err(err).
				Str("subscription", p.subID).
				Str("destination", p.destID).
				Int("batch_size", len(p.batch)).
				Msg("Permanent delivery failure, dropping batch")
			p.batch = p.batch[:0]
			p.setStatus(StatusActiveWithError, err.Error())
			return
		}

		telemetry.DeliveriesTotal.With(string(p.destType), "retriable").Inc()
		rung := p.backoff.Advance()
		telemetry.BackoffLevel.With(p.subID, p.destID).Set(float64(p.backoff.Level()))
		p.setStatus(StatusActiveWithError, err.Error())

		log.Warn().
			Err(err).
			Str("subscription", p.subID).
			Str("destination", p.destID).
			Int("batch_size", len(p.batch)).
			Dur("backoff", rung).
			Msg("Retriable delivery failure, backing off")

		if !p.sleep(rung) {
			// Halted during backoff; the retained batch gets one last
			// attempt in Drain.
			return
		}

		if p.dropFailedBatch {
			log.Warn().
				Str("subscription", p.subID).
				Str("destination", p.destID).
				Int("dropped", len(p.batch)).
				Msg("Dropping failed batch per subscription policy")
			p.batch = p.batch[:0]
			return
		}
	}
}

// sleep waits for d unless the publisher is halted first. Returns false when
// interrupted by halt.
func (p *Publisher) sleep(d time.Duration) bool {
	if d <= 0 {
		return !p.halted.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Halt signals the publisher to stop accepting events and interrupts any
// backoff sleep. The in-flight delivery call is not cancelled; halting is
// cooperative.
func (p *Publisher) Halt() {
	p.stopOnce.Do(func() {
		p.halted.Store(true)
		close(p.stopCh)
	})
}

// Drain makes a final best-effort attempt to deliver the retained batch,
// then closes the destination. Callers must have detached the publisher
// from the bus first.
func (p *Publisher) Drain() {
	if len(p.batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.dest.Deliver(ctx, p.batch)
		cancel()
		if err != nil {
			log.Warn().
				Err(err).
				Str("subscription", p.subID).
				Str("destination", p.destID).
				Int("lost", len(p.batch)).
				Msg("Final flush failed, batch lost")
		}
		p.batch = p.batch[:0]
	}

	if err := p.dest.Close(); err != nil {
		log.Warn().
			Err(err).
			Str("subscription", p.subID).
			Str("destination", p.destID).
			Msg("Failed to close destination")
	}
}

// MarkDisabled records that the pair was disabled by configuration. The
// ladder never self-disables; this is always an explicit operation.
func (p *Publisher) MarkDisabled() {
	p.setStatus(StatusDisabled, "")
}

// Status returns a copy of the current delivery status.
func (p *Publisher) Status() DeliveryStatus {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

func (p *Publisher) setStatus(s Status, reason string) {
	p.statusMu.Lock()
	p.status = DeliveryStatus{
		Status:        s,
		Timestamp:     time.Now().UnixMilli(),
		FailureReason: reason,
	}
	p.statusMu.Unlock()
}

// BackoffLevel exposes the current rung for tests and diagnostics. Only
// meaningful from the consumer goroutine's point of view.
func (p *Publisher) BackoffLevel() int {
	return p.backoff.Level()
}
