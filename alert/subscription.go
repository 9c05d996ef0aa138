package alert

import (
	"fmt"

	"github.com/opencatalyst/catalyst/alert/destination"
	"github.com/opencatalyst/catalyst/rules"
)

// Default publisher tuning.
const (
	DefaultBatchSize      = 10
	DefaultTimeoutSeconds = 10
)

// Subscription is one configured alert registration: a coarse entity-type
// trigger, a fine-grained rule list, and the destinations that should
// receive the filtered batches.
type Subscription struct {
	ID      string `json:"id" toml:"id"`
	Name    string `json:"name" toml:"name"`
	Enabled bool   `json:"enabled" toml:"enabled"`

	// TriggerEntityTypes is the coarse filter: entity types this
	// subscription participates in at all. Empty means every type.
	TriggerEntityTypes []string `json:"triggerEntityTypes,omitempty" toml:"trigger_entity_types"`

	// Rules is the ordered include/exclude filter evaluated per event.
	Rules []rules.Spec `json:"rules,omitempty" toml:"rules"`

	BatchSize      int `json:"batchSize,omitempty" toml:"batch_size"`
	TimeoutSeconds int `json:"timeoutSeconds,omitempty" toml:"timeout_seconds"`

	// DropFailedBatch selects the failed-batch policy for retriable
	// delivery failures: false (default) retains the batch and retries it
	// after each backoff sleep; true drops it after a single backoff sleep
	// and only future events are delivered.
	DropFailedBatch bool `json:"dropFailedBatch,omitempty" toml:"drop_failed_batch"`

	Destinations []destination.Config `json:"destinations" toml:"destinations"`
}

// Validate checks the parts the registry depends on.
func (s *Subscription) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("subscription id is required")
	}
	if len(s.Destinations) == 0 {
		return fmt.Errorf("subscription %s has no destinations", s.ID)
	}
	seen := make(map[string]struct{}, len(s.Destinations))
	for _, d := range s.Destinations {
		if d.ID == "" {
			return fmt.Errorf("subscription %s has a destination without an id", s.ID)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("subscription %s has duplicate destination id %s", s.ID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
