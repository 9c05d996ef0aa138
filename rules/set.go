package rules

import (
	"fmt"

	"github.com/opencatalyst/catalyst/event"
)

// All matches when every rule matches. An empty All matches everything.
func All(rs ...Rule) Rule {
	return func(ev *event.ChangeEvent) bool {
		if ev == nil {
			return false
		}
		for _, r := range rs {
			if !r(ev) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one rule matches.
func Any(rs ...Rule) Rule {
	return func(ev *event.ChangeEvent) bool {
		if ev == nil {
			return false
		}
		for _, r := range rs {
			if r(ev) {
				return true
			}
		}
		return false
	}
}

// Not inverts a rule. A nil event still never matches.
func Not(r Rule) Rule {
	return func(ev *event.ChangeEvent) bool {
		if ev == nil {
			return false
		}
		return !r(ev)
	}
}

// Set is a compiled subscription filter: include rules are OR'd, exclude
// rules veto. Evaluated top to bottom with short-circuiting; rules are pure,
// so the order of side effects is not a concern.
type Set struct {
	includes []Rule
	excludes []Rule
}

// CompileSet compiles a subscription's ordered rule list.
func (e *Evaluator) CompileSet(specs []Spec) (*Set, error) {
	s := &Set{}
	for _, spec := range specs {
		r, err := e.Compile(spec.Name, spec.Args)
		if err != nil {
			return nil, err
		}
		switch spec.Effect {
		case EffectExclude:
			s.excludes = append(s.excludes, r)
		case EffectInclude, "":
			s.includes = append(s.includes, r)
		default:
			return nil, fmt.Errorf("unknown rule effect: %s", spec.Effect)
		}
	}
	return s, nil
}

// Matches reports whether the event passes the set: no exclude rule matches,
// and either no include rules exist or at least one matches. A nil event
// never passes.
func (s *Set) Matches(ev *event.ChangeEvent) bool {
	if ev == nil {
		return false
	}
	for _, r := range s.excludes {
		if r(ev) {
			return false
		}
	}
	if len(s.includes) == 0 {
		return true
	}
	for _, r := range s.includes {
		if r(ev) {
			return true
		}
	}
	return false
}
