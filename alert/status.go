package alert

// Status enumerates the delivery health of a subscription-destination pair.
type Status string

const (
	StatusActive          Status = "active"
	StatusActiveWithError Status = "activeWithError"
	StatusDisabled        Status = "disabled"
)

// DeliveryStatus is the last-run outcome of one publisher. Mutated only by
// the owning publisher; callers get copies.
type DeliveryStatus struct {
	Status        Status `json:"status"`
	Timestamp     int64  `json:"timestamp"` // unix millis of the last change
	FailureReason string `json:"failureReason,omitempty"`
}
