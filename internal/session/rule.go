package session

import "github.com/nugget/melocore/internal/obevent"

// Rule is a binary equivalence predicate over events deciding whether two
// events belong to the same conversation. Any predicate that is
// reflexive, symmetric, and deterministic is admissible; the manager does
// not enforce transitivity.
type Rule interface {
	Equiv(e1, e2 obevent.Event) bool
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc func(e1, e2 obevent.Event) bool

// Equiv implements Rule.
func (f RuleFunc) Equiv(e1, e2 obevent.Event) bool { return f(e1, e2) }

// AttrRule compares nested field accesses (e.g. "sender.user_id",
// "group_id") between two events' raw payloads. All paths must resolve
// to equal values for the events to be considered the same conversation.
type AttrRule struct {
	Paths []string
}

// NewAttrRule builds an AttrRule over the given dotted paths.
func NewAttrRule(paths ...string) AttrRule {
	return AttrRule{Paths: paths}
}

// Equiv implements Rule.
func (r AttrRule) Equiv(e1, e2 obevent.Event) bool {
	for _, path := range r.Paths {
		v1, ok1 := obevent.Get(e1, path)
		v2, ok2 := obevent.Get(e2, path)
		if ok1 != ok2 {
			return false
		}
		if ok1 && v1 != v2 {
			return false
		}
	}
	return true
}

// AnyRule treats every event as equivalent, producing a single global
// session per handler.
type AnyRule struct{}

// Equiv implements Rule.
func (AnyRule) Equiv(obevent.Event, obevent.Event) bool { return true }

// AndRule requires every wrapped rule to hold.
type AndRule []Rule

// Equiv implements Rule.
func (a AndRule) Equiv(e1, e2 obevent.Event) bool {
	for _, r := range a {
		if !r.Equiv(e1, e2) {
			return false
		}
	}
	return true
}

// NotRule negates a wrapped rule.
type NotRule struct{ Rule Rule }

// Equiv implements Rule.
func (n NotRule) Equiv(e1, e2 obevent.Event) bool { return !n.Rule.Equiv(e1, e2) }
