package rules

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/subject"
)

// Rule is a compiled predicate over one change event. Rules have no side
// effects and return false, never an error, when the event lacks the fields
// they inspect.
type Rule func(ev *event.ChangeEvent) bool

// Effect says whether a matching rule includes or excludes the event.
type Effect string

const (
	EffectInclude Effect = "include"
	EffectExclude Effect = "exclude"
)

// Spec is one named rule from a subscription's filter configuration.
type Spec struct {
	Name   string   `json:"name" toml:"name"`
	Args   []string `json:"args" toml:"args"`
	Effect Effect   `json:"effect" toml:"effect"`
}

// Rule names accepted by Compile.
const (
	MatchAnySource    = "matchAnySource"
	MatchAnyOwnerName = "matchAnyOwnerName"
	MatchAnyEntityFqn = "matchAnyEntityFqn"
	MatchAnyEntityID  = "matchAnyEntityId"
	MatchUpdatedBy    = "matchUpdatedBy"
	MatchAnyEventType = "matchAnyEventType"
)

// Evaluator compiles rule specs into predicates, binding owner-name rules to
// the subject resolver.
type Evaluator struct {
	subjects *subject.Resolver
}

// NewEvaluator creates an evaluator. The resolver may be nil, in which case
// owner-name rules never match.
func NewEvaluator(subjects *subject.Resolver) *Evaluator {
	return &Evaluator{subjects: subjects}
}

// Compile turns a rule name plus argument list into a predicate. Matching is
// case-sensitive exact comparison except matchAnyEntityFqn, which accepts
// glob patterns.
func (e *Evaluator) Compile(name string, args []string) (Rule, error) {
	switch name {
	case MatchAnySource:
		return matchString(args, func(ev *event.ChangeEvent) string { return ev.EntityType }), nil
	case MatchAnyEntityID:
		return matchString(args, func(ev *event.ChangeEvent) string { return ev.EntityID }), nil
	case MatchUpdatedBy:
		return matchString(args, func(ev *event.ChangeEvent) string { return ev.UserName }), nil
	case MatchAnyEventType:
		return matchString(args, func(ev *event.ChangeEvent) string { return string(ev.EventType) }), nil
	case MatchAnyEntityFqn:
		return matchFQN(args)
	case MatchAnyOwnerName:
		return e.matchOwnerName(args), nil
	default:
		return nil, fmt.Errorf("unknown rule: %s", name)
	}
}

func matchString(args []string, field func(*event.ChangeEvent) string) Rule {
	return func(ev *event.ChangeEvent) bool {
		if ev == nil {
			return false
		}
		v := field(ev)
		if v == "" {
			return false
		}
		for _, a := range args {
			if v == a {
				return true
			}
		}
		return false
	}
}

func matchFQN(patterns []string) (Rule, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid fqn pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return func(ev *event.ChangeEvent) bool {
		if ev == nil || ev.EntityFQN == "" {
			return false
		}
		for _, g := range globs {
			if g.Match(ev.EntityFQN) {
				return true
			}
		}
		return false
	}, nil
}

// matchOwnerName resolves the event's owner reference through the subject
// resolver and compares the resolved name against the arguments. A missing
// owner or a resolution miss is simply "no match".
func (e *Evaluator) matchOwnerName(args []string) Rule {
	return func(ev *event.ChangeEvent) bool {
		if ev == nil || ev.Owner == nil || e.subjects == nil {
			return false
		}

		kind := subject.KindUser
		if ev.Owner.Kind == event.RefTeam {
			kind = subject.KindTeam
		}

		ref := ev.Owner.ID
		if ref == "" {
			ref = ev.Owner.Name
		}
		sub, ok := e.subjects.Resolve(context.Background(), kind, ref)
		if !ok {
			return false
		}
		for _, a := range args {
			if sub.Name == a {
				return true
			}
		}
		return false
	}
}
