package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/melocore/internal/obevent"
	"github.com/nugget/melocore/internal/session"
)

// Dispatcher holds the registered handlers for every channel and drives
// the priority-ordered broadcast algorithm from spec §4.5.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[obevent.PostType][]*Handler

	sessions *session.Manager
	bot      ActionSender
	audit    *AuditLog
	log      *slog.Logger

	wg sync.WaitGroup
}

// New builds a Dispatcher bound to bot for outbound actions and sessions
// for per-handler conversation state. Pass logger=nil to use slog.Default.
func New(bot ActionSender, sessions *session.Manager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[obevent.PostType][]*Handler),
		sessions: sessions,
		bot:      bot,
		audit:    NewAuditLog(0),
		log:      logger,
	}
}

// Audit returns the dispatcher's decision ring buffer, for the
// supervisor's diagnostics surface.
func (d *Dispatcher) Audit() *AuditLog { return d.audit }

// Register adds h to its channel's handler list, keeping the list sorted
// descending by priority (spec §4.5 step 3).
func (d *Dispatcher) Register(h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := append(d.handlers[h.Channel], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	d.handlers[h.Channel] = list
}

// Wait blocks until every in-flight handler body spawned by Dispatch has
// returned, for use during the supervisor's graceful-shutdown drain.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// SessionStats reports active/parked session counts keyed by handler
// name, for the supervisor's Health() surface (spec's api.SessionStats,
// repurposed per SPEC_FULL §3.4).
func (d *Dispatcher) SessionStats() map[string]session.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]session.Stats)
	for _, list := range d.handlers {
		for _, h := range list {
			if h.SessionRule == nil {
				continue
			}
			out[h.Name] = d.sessions.StatsFor(h)
		}
	}
	return out
}

// Dispatch runs the broadcast algorithm for one typed event: iterate
// this channel's handlers in descending priority order, maintaining the
// permit watermark, evaluating direct-rouse attachment ahead of the
// normal checker/matcher/parser pipeline, and spawning matched handler
// bodies concurrently. It does not block on handler bodies completing.
func (d *Dispatcher) Dispatch(ctx context.Context, event obevent.Event) {
	eventID := uuid.NewString()
	channel := event.Type()

	d.mu.RLock()
	handlers := make([]*Handler, len(d.handlers[channel]))
	copy(handlers, d.handlers[channel])
	d.mu.RUnlock()

	permit := MinPriority
	var evaluated, matched []string

	for _, h := range handlers {
		if !h.isLive() {
			continue
		}
		if h.Priority < permit {
			continue
		}
		evaluated = append(evaluated, h.Name)

		if h.DirectRouse && h.SessionRule != nil {
			attached, err := d.sessions.TryAttach(ctx, event, h, h.SessionRule)
			if err != nil {
				d.log.Warn("dispatch: try_attach error", "handler", h.Name, "err", err)
			}
			if attached {
				matched = append(matched, h.Name)
				if h.Block && h.Priority > permit {
					permit = h.Priority
				}
				continue
			}
		}

		args, ok := d.preProcess(ctx, event, h)
		if !ok {
			continue
		}
		matched = append(matched, h.Name)

		spawned := d.spawn(ctx, event, h, args)
		if spawned {
			if h.Block && h.Priority > permit {
				permit = h.Priority
			}
			if h.Temp {
				h.invalidate()
			}
		}
	}

	if d.audit != nil {
		d.audit.Record(Decision{
			EventID:           eventID,
			Timestamp:         time.Now(),
			Channel:           string(channel),
			HandlersEvaluated: evaluated,
			HandlersMatched:   matched,
			FinalPermit:       permit,
		})
	}
}

// preProcess evaluates H's checker chain and (for message events) its
// matcher or parser against event, without yet acquiring a session. A
// non-nil *ParseArgs is returned only when H carries a Parser that
// matched.
func (d *Dispatcher) preProcess(ctx context.Context, event obevent.Event, h *Handler) (*ParseArgs, bool) {
	if h.Checker != nil && !h.Checker.Check(ctx, event) {
		return nil, false
	}

	msg, isMessage := event.(*obevent.MessageEvent)
	switch {
	case h.Matcher != nil:
		if !isMessage || !h.Matcher.Match(msg) {
			return nil, false
		}
		return nil, true
	case h.Parser != nil:
		if !isMessage {
			return nil, false
		}
		args, ok := h.Parser.Parse(msg)
		if !ok {
			return nil, false
		}
		return args, true
	default:
		return nil, true
	}
}

// spawn acquires the handler's session (applying its conflict policy)
// and runs the handler body in its own goroutine, recycling the session
// on return. Reports whether a body was actually spawned: a busy
// conflicting session with conflict_wait=false yields false (the
// conflict callback, if any, already ran synchronously inside Get).
func (d *Dispatcher) spawn(ctx context.Context, event obevent.Event, h *Handler, args *ParseArgs) bool {
	spec := h.sessionSpec()
	if h.ConflictCallback != nil {
		spec.ConflictCallback = func(cbCtx context.Context, temp *session.Session, ev obevent.Event) {
			cx := &Ctx{Context: cbCtx, Bot: d.bot, Event: ev, Session: temp, mgr: d.sessions, handler: h}
			h.ConflictCallback(cx)
		}
	}

	sess, err := d.sessions.Get(ctx, event, spec)
	if err != nil {
		if err != session.ErrNoSession {
			d.log.Warn("dispatch: session acquisition failed", "handler", h.Name, "err", err)
		}
		return false
	}

	if args != nil {
		sess.SetArgs(args)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		cx := &Ctx{Context: ctx, Bot: d.bot, Event: event, Session: sess, mgr: d.sessions, handler: h}
		if err := h.Body(cx); err != nil {
			d.log.Error("dispatch: handler body failed", "handler", h.Name, "err", err)
		}
		d.sessions.Recycle(sess, h.Hold || cx.retain)
	}()
	return true
}
