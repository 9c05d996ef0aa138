package destination

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencatalyst/catalyst/event"
)

// Type enumerates the supported destination kinds. The set is closed:
// adding a kind means extending New, not registering a factory.
type Type string

const (
	TypeWebhook Type = "webhook"
	TypeSlack   Type = "slack"
	TypeKafka   Type = "kafka"
	TypeNats    Type = "nats"
)

// Config describes one destination of a subscription.
type Config struct {
	ID      string `json:"id" toml:"id"`
	Type    Type   `json:"type" toml:"type"`
	Enabled bool   `json:"enabled" toml:"enabled"`

	// Webhook / Slack
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`
	Secret   string `json:"secret,omitempty" toml:"secret"`

	// Kafka
	Brokers []string `json:"brokers,omitempty" toml:"brokers"`
	Topic   string   `json:"topic,omitempty" toml:"topic"`

	// NATS
	NatsURL     string `json:"natsUrl,omitempty" toml:"nats_url"`
	NatsSubject string `json:"natsSubject,omitempty" toml:"nats_subject"`
}

// Destination delivers one batch of change events to an external system.
// Implementations classify failures via DeliveryError so the publisher can
// decide between backoff and dropping the batch.
type Destination interface {
	Deliver(ctx context.Context, batch []*event.ChangeEvent) error
	Close() error
}

// New constructs the destination for a config. Unknown types are an error.
func New(cfg Config) (Destination, error) {
	switch cfg.Type {
	case TypeWebhook:
		return NewWebhook(cfg)
	case TypeSlack:
		return NewSlack(cfg)
	case TypeKafka:
		return NewKafka(cfg)
	case TypeNats:
		return NewNats(cfg)
	default:
		return nil, fmt.Errorf("unknown destination type: %s", cfg.Type)
	}
}

// DeliveryError wraps a destination failure with its retry classification.
// Permanent failures (malformed payload, HTTP 4xx) must not advance the
// backoff ladder; everything else is considered transient.
type DeliveryError struct {
	Permanent bool
	Status    int // HTTP status when applicable, 0 otherwise
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "retriable"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s delivery failure (status %d): %v", kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Retriable wraps err as a transient delivery failure.
func Retriable(err error) *DeliveryError {
	return &DeliveryError{Err: err}
}

// Permanent wraps err as a non-retriable delivery failure.
func Permanent(err error) *DeliveryError {
	return &DeliveryError{Permanent: true, Err: err}
}

// IsPermanent reports whether err is classified as non-retriable. Unknown
// errors default to retriable, so a misbehaving destination degrades to
// delayed delivery rather than silent data loss.
func IsPermanent(err error) bool {
	var derr *DeliveryError
	if errors.As(err, &derr) {
		return derr.Permanent
	}
	return false
}
