package destination

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/opencatalyst/catalyst/event"
)

const (
	defaultKafkaBatchBytes = 1 << 20 // 1MB
)

// Kafka streams change events to a Kafka topic, one message per event keyed
// by entity id so updates to the same entity land on the same partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a Kafka destination.
func NewKafka(cfg Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka destination requires at least one broker address")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka destination requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchBytes:             defaultKafkaBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Kafka{writer: writer}, nil
}

// Deliver writes one message per event. Broker failures are transient; only
// payload encoding problems are permanent.
func (k *Kafka) Deliver(ctx context.Context, batch []*event.ChangeEvent) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		value, err := json.Marshal(ev)
		if err != nil {
			return Permanent(fmt.Errorf("failed to encode event %s: %w", ev.ID, err))
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.EntityID),
			Value: value,
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return Retriable(fmt.Errorf("kafka write failed: %w", err))
	}
	return nil
}

// Close releases the writer.
func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
