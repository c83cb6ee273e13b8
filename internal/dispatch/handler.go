// Package dispatch implements the handler registry and event dispatcher
// from spec §4.5: binding plugin-declared handlers, matching events
// against a checker/matcher/parser chain, and driving priority-ordered,
// blocking-aware, one-shot-aware execution. It sits above
// internal/session (C4) and internal/correlator (C3), and is driven by
// internal/bot (C7).
package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nugget/melocore/internal/correlator"
	"github.com/nugget/melocore/internal/obevent"
	"github.com/nugget/melocore/internal/session"
)

// ActionSender is the narrow contract a handler body needs to emit
// actions; internal/bot.Bot implements it by binding the correlator to
// the wire codec.
type ActionSender interface {
	Send(ctx context.Context, action *obevent.Action) (*correlator.ActionHandle, error)
}

// Ctx is the explicit context handle passed into every handler body and
// conflict callback, replacing the source framework's task-local
// "current event/session" lookup (DESIGN NOTES §9).
type Ctx struct {
	Context context.Context
	Bot     ActionSender
	Event   obevent.Event
	Session *session.Session

	mgr     *session.Manager
	handler *Handler
	retain  bool
}

// Args returns the session's most recent parser output.
func (c *Ctx) Args() any { return c.Session.Args() }

// Store returns the session's free-form keyed store.
func (c *Ctx) Store() map[string]any { return c.Session.Store() }

// Retain requests that the session survive past the handler body's
// return even if the handler's Hold flag is false, per spec §4.4.4's
// "or the body did not explicitly request retention" clause.
func (c *Ctx) Retain() { c.retain = true }

// Hup suspends the current session, per spec §4.4.2. Blocks until the
// session is woken by an attaching event or timeout elapses (timeout<=0
// waits forever).
func (c *Ctx) Hup(timeout time.Duration) error {
	return c.mgr.Hup(c.Context, c.Session, timeout)
}

// Send emits an action through the bot's action sender.
func (c *Ctx) Send(action *obevent.Action) (*correlator.ActionHandle, error) {
	return c.Bot.Send(c.Context, action.WithTrigger(c.Event))
}

// HandlerFunc is a handler body. Returning an error marks the invocation
// failed (logged with the offending handler abandoned; other handlers
// for the same event are unaffected, per spec §7).
type HandlerFunc func(ctx *Ctx) error

// ConflictFunc runs, under a temporary one-shot session, when a ruled
// handler's matching session is busy and ConflictWait is false.
type ConflictFunc func(ctx *Ctx)

// Handler is the static, registration-time configuration for one plugin
// handler, per spec §3's "Handler descriptor."
type Handler struct {
	// Name identifies the handler for logging/audit purposes.
	Name string
	// Channel is the event variant this handler subscribes to.
	Channel obevent.PostType
	// Checker is the boolean-algebra predicate chain; nil always passes.
	Checker Checker
	// Matcher and Parser are mutually exclusive (spec §3); only one may
	// be set. Both apply only to message events.
	Matcher *Matcher
	Parser  *Parser
	// Priority: higher runs first within a channel.
	Priority int
	// Block: if this handler's body runs, lower-priority handlers for
	// the same event are skipped.
	Block bool
	// Temp: the handler is consumed after its first successful spawn.
	Temp bool
	// SessionRule is nil for rule-less (always one-shot) handlers.
	SessionRule session.Rule
	// Hold keeps the session alive past the body's return.
	Hold bool
	// DirectRouse: a suspended session belonging to this handler can be
	// woken by any matching event without re-running checker/matcher.
	DirectRouse bool
	// ConflictWait selects between awaiting a busy session (true) and
	// invoking ConflictCallback against a temporary session (false).
	ConflictWait bool
	// ConflictCallback runs when ConflictWait is false and a matching
	// session is busy.
	ConflictCallback ConflictFunc
	// Body is the handler implementation.
	Body HandlerFunc

	invalidated atomic.Bool
}

// invalidate marks a Temp handler as consumed; no further event fires it.
func (h *Handler) invalidate() { h.invalidated.Store(true) }

// isLive reports whether the handler may still fire (always true for
// non-Temp handlers).
func (h *Handler) isLive() bool { return !h.invalidated.Load() }

// sessionSpec adapts a Handler's session policy to session.HandlerSpec.
func (h *Handler) sessionSpec() session.HandlerSpec {
	return session.HandlerSpec{
		Owner:        h,
		Rule:         h.SessionRule,
		ConflictWait: h.ConflictWait,
	}
}

// MinPriority is the dispatcher's initial permit watermark, per spec's
// "priority (integer, higher first)" ordering: any real handler
// priority is expected to exceed it.
const MinPriority = -1 << 31
