package subject

import "context"

// StaticDirectory is an in-memory Directory keyed by id and name. Used when
// no SQL directory is configured, and by tests.
type StaticDirectory struct {
	byKey map[string]Subject
}

// NewStaticDirectory builds a directory from a fixed subject list.
func NewStaticDirectory(subjects []Subject) *StaticDirectory {
	d := &StaticDirectory{byKey: make(map[string]Subject, len(subjects)*2)}
	for _, s := range subjects {
		if s.ID != "" {
			d.byKey[string(s.Kind)+"/"+s.ID] = s
		}
		if s.Name != "" {
			d.byKey[string(s.Kind)+"/"+s.Name] = s
		}
	}
	return d
}

func (d *StaticDirectory) Lookup(_ context.Context, kind Kind, ref string) (Subject, error) {
	if s, ok := d.byKey[string(kind)+"/"+ref]; ok {
		return s, nil
	}
	return Subject{}, ErrNotFound
}
