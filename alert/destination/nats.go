package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/opencatalyst/catalyst/event"
)

// Nats publishes change events to a JetStream subject. The stream is ensured
// once at construction; per-event publishes then go straight through.
type Nats struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNats creates a NATS JetStream destination.
func NewNats(cfg Config) (*Nats, error) {
	if cfg.NatsURL == "" {
		return nil, fmt.Errorf("nats destination requires nats_url")
	}
	subject := cfg.NatsSubject
	if subject == "" {
		subject = "catalyst.changes"
	}

	nc, err := nats.Connect(cfg.NatsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      sanitizeStreamName(subject),
		Subjects:  []string{subject, subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream for %s: %w", subject, err)
	}

	return &Nats{nc: nc, js: js, subject: subject}, nil
}

// Deliver publishes one message per event on {subject}.{entityType}.
func (n *Nats) Deliver(ctx context.Context, batch []*event.ChangeEvent) error {
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			return Permanent(fmt.Errorf("failed to encode event %s: %w", ev.ID, err))
		}

		msg := &nats.Msg{
			Subject: n.subject + "." + ev.EntityType,
			Data:    data,
			Header:  nats.Header{"key": []string{ev.EntityID}},
		}
		if _, err := n.js.PublishMsg(ctx, msg); err != nil {
			return Retriable(fmt.Errorf("failed to publish to %s: %w", msg.Subject, err))
		}
	}
	return nil
}

// Close releases the NATS connection.
func (n *Nats) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name.
// Stream names can't contain "." so we replace with "_".
func sanitizeStreamName(subject string) string {
	return strings.ReplaceAll(subject, ".", "_")
}
