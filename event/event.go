package event

// Event types emitted by the entity persistence layer.
type Type string

const (
	TypeCreated     Type = "entityCreated"
	TypeUpdated     Type = "entityUpdated"
	TypeDeleted     Type = "entityDeleted"
	TypeSoftDeleted Type = "entitySoftDeleted"
	TypeRestored    Type = "entityRestored"
)

// RefKind identifies what a Ref points at.
type RefKind string

const (
	RefUser RefKind = "user"
	RefTeam RefKind = "team"
)

// Ref is a lightweight reference to another entity (typically an owner).
type Ref struct {
	ID   string  `json:"id" msgpack:"id"`
	Kind RefKind `json:"kind" msgpack:"kind"`
	Name string  `json:"name,omitempty" msgpack:"name"`
}

// FieldChange records one field-level diff inside a ChangeDescription.
type FieldChange struct {
	Name     string `json:"name" msgpack:"name"`
	OldValue any    `json:"oldValue,omitempty" msgpack:"old"`
	NewValue any    `json:"newValue,omitempty" msgpack:"new"`
}

// ChangeDescription holds the ordered field diffs of one mutation.
type ChangeDescription struct {
	FieldsAdded     []FieldChange `json:"fieldsAdded,omitempty" msgpack:"added"`
	FieldsUpdated   []FieldChange `json:"fieldsUpdated,omitempty" msgpack:"updated"`
	FieldsDeleted   []FieldChange `json:"fieldsDeleted,omitempty" msgpack:"deleted"`
	PreviousVersion float64       `json:"previousVersion" msgpack:"prev"`
}

// ChangeEvent describes one entity mutation. Instances are immutable after
// publication and shared across all bus consumers without copying; a consumer
// that needs to redact fields must work on a Clone.
type ChangeEvent struct {
	ID          string             `json:"id" msgpack:"id"`
	EventType   Type               `json:"eventType" msgpack:"type"`
	EntityType  string             `json:"entityType" msgpack:"etype"`
	EntityID    string             `json:"entityId" msgpack:"eid"`
	EntityFQN   string             `json:"entityFullyQualifiedName,omitempty" msgpack:"fqn"`
	UserName    string             `json:"userName,omitempty" msgpack:"user"`
	Timestamp   int64              `json:"timestamp" msgpack:"ts"` // unix millis
	Version     float64            `json:"currentVersion" msgpack:"ver"`
	Owner       *Ref               `json:"owner,omitempty" msgpack:"owner"`
	Description *ChangeDescription `json:"changeDescription,omitempty" msgpack:"desc"`
	Entity      map[string]any     `json:"entity,omitempty" msgpack:"entity"` // post-mutation snapshot
}

// Clone returns a deep copy safe for consumer-local mutation (field masking).
func (e *ChangeEvent) Clone() *ChangeEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Owner != nil {
		owner := *e.Owner
		c.Owner = &owner
	}
	if e.Description != nil {
		c.Description = &ChangeDescription{
			FieldsAdded:     cloneFieldChanges(e.Description.FieldsAdded),
			FieldsUpdated:   cloneFieldChanges(e.Description.FieldsUpdated),
			FieldsDeleted:   cloneFieldChanges(e.Description.FieldsDeleted),
			PreviousVersion: e.Description.PreviousVersion,
		}
	}
	if e.Entity != nil {
		c.Entity = make(map[string]any, len(e.Entity))
		for k, v := range e.Entity {
			c.Entity[k] = v
		}
	}
	return &c
}

func cloneFieldChanges(in []FieldChange) []FieldChange {
	if in == nil {
		return nil
	}
	out := make([]FieldChange, len(in))
	copy(out, in)
	return out
}
