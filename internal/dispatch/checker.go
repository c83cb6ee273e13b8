package dispatch

import (
	"context"

	"github.com/nugget/melocore/internal/obevent"
)

// Checker is a boolean-algebra predicate over an inbound event, per
// spec §4.5: checkers compose with And/Or/Not/Xor and short-circuit
// where the operator permits.
type Checker interface {
	Check(ctx context.Context, event obevent.Event) bool
}

// CheckerFunc adapts a plain function to the Checker interface.
type CheckerFunc func(ctx context.Context, event obevent.Event) bool

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, event obevent.Event) bool { return f(ctx, event) }

type andChecker struct{ a, b Checker }

func (c andChecker) Check(ctx context.Context, e obevent.Event) bool {
	return c.a.Check(ctx, e) && c.b.Check(ctx, e)
}

type orChecker struct{ a, b Checker }

func (c orChecker) Check(ctx context.Context, e obevent.Event) bool {
	return c.a.Check(ctx, e) || c.b.Check(ctx, e)
}

type notChecker struct{ a Checker }

func (c notChecker) Check(ctx context.Context, e obevent.Event) bool { return !c.a.Check(ctx, e) }

type xorChecker struct{ a, b Checker }

func (c xorChecker) Check(ctx context.Context, e obevent.Event) bool {
	return c.a.Check(ctx, e) != c.b.Check(ctx, e)
}

// And returns a Checker matching iff both a and b match (short-circuits
// on a false a).
func And(a, b Checker) Checker { return andChecker{a, b} }

// Or returns a Checker matching iff either a or b matches (short-circuits
// on a true a).
func Or(a, b Checker) Checker { return orChecker{a, b} }

// Not negates a.
func Not(a Checker) Checker { return notChecker{a} }

// Xor matches iff exactly one of a, b matches.
func Xor(a, b Checker) Checker { return xorChecker{a, b} }

// Predicate wraps an arbitrary function as a Checker, for plugin-defined
// conditions that don't fit the other built-ins.
func Predicate(f func(ctx context.Context, event obevent.Event) bool) Checker {
	return CheckerFunc(f)
}

// AccessLevel is the owner/su/white/normal/black tier hierarchy from
// original utils/check.py's RoleCheckBuilder, supplemental per
// SPEC_FULL §3.5.
type AccessLevel int

const (
	LevelBlack AccessLevel = iota
	LevelNormal
	LevelWhite
	LevelSU
	LevelOwner
)

// Roles resolves per-user access tiers and an optional group whitelist
// for the AccessLevelChecker built-in.
type Roles struct {
	Owner     int64
	SUs       map[int64]bool
	Whitelist map[int64]bool
	Blacklist map[int64]bool
	// Groups, if non-empty, restricts matching to events originating
	// from one of these group ids (private messages never match when
	// Groups is non-empty).
	Groups map[int64]bool
}

// LevelOf classifies a user id against the configured roles.
func (r Roles) LevelOf(userID int64) AccessLevel {
	switch {
	case r.Blacklist[userID]:
		return LevelBlack
	case userID == r.Owner:
		return LevelOwner
	case r.SUs[userID]:
		return LevelSU
	case r.Whitelist[userID]:
		return LevelWhite
	default:
		return LevelNormal
	}
}

// AccessLevelChecker builds a Checker requiring the event's user id to
// resolve to at least Min, and (if Roles.Groups is set) the event's
// group id to be whitelisted.
func AccessLevelChecker(roles Roles, min AccessLevel) Checker {
	return CheckerFunc(func(_ context.Context, e obevent.Event) bool {
		userID, groupID, ok := actorOf(e)
		if !ok {
			return false
		}
		if len(roles.Groups) > 0 && (groupID == 0 || !roles.Groups[groupID]) {
			return false
		}
		return roles.LevelOf(userID) >= min
	})
}

// AtMentionChecker matches message events that @-mention selfID.
func AtMentionChecker() Checker {
	return CheckerFunc(func(_ context.Context, e obevent.Event) bool {
		msg, ok := e.(*obevent.MessageEvent)
		if !ok {
			return false
		}
		for _, seg := range msg.Segments {
			if seg.Kind != obevent.KindAt {
				continue
			}
			if qq, ok := seg.Data["qq"]; ok && atMatchesSelf(qq, msg.SelfID()) {
				return true
			}
		}
		return false
	})
}

func atMatchesSelf(qq any, selfID int64) bool {
	switch v := qq.(type) {
	case string:
		return v == "all"
	case int64:
		return v == selfID
	case float64:
		return int64(v) == selfID
	default:
		return false
	}
}

// actorOf extracts the (user id, group id) identity pair from whichever
// event variant carries one.
func actorOf(e obevent.Event) (userID, groupID int64, ok bool) {
	switch v := e.(type) {
	case *obevent.MessageEvent:
		return v.UserID, v.GroupID, true
	case *obevent.NoticeEvent:
		return v.UserID, v.GroupID, true
	case *obevent.RequestEvent:
		return v.UserID, v.GroupID, true
	default:
		return 0, 0, false
	}
}
