// Package session implements the per-handler keyed conversation store
// described in spec §4.4: acquisition, suspension, wake-on-event
// attachment, and recycling, with the work/attach/deadlock-flag triple
// that keeps those three paths from deadlocking each other.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nugget/melocore/internal/obevent"
)

// Errors returned by Manager operations.
var (
	// ErrNoSession is returned by Get when a matching session is busy,
	// conflict_wait is false, and no conflict callback absorbed the event.
	ErrNoSession = errors.New("session: no session available (conflict)")
	// ErrOneShotHup is returned by Hup on a session with no owning handler.
	ErrOneShotHup = errors.New("session: one-shot session cannot suspend")
	// ErrExpiredSession is returned by operations on an expired session.
	ErrExpiredSession = errors.New("session: session has expired")
	// ErrHupTimeout is returned by Hup when the timeout elapses first.
	ErrHupTimeout = errors.New("session: hup timed out")
)

// HandlerSpec carries the per-handler policy Manager needs: the
// equivalence rule (nil means "no rule" / one-shot handler), and the
// conflict-resolution policy from spec §4.4.1.
type HandlerSpec struct {
	// Owner identifies the handler. Must be comparable (typically a
	// *dispatch.Handler pointer); used as the map key for this handler's
	// session-space.
	Owner any
	// Rule is nil for handlers with no session_rule (always one-shot).
	Rule Rule
	// ConflictWait selects between awaiting a busy session (true) and
	// invoking ConflictCallback against a temporary session (false).
	ConflictWait bool
	// ConflictCallback runs (in a temporary one-shot session) when a
	// matching session is busy and ConflictWait is false. May be nil.
	ConflictCallback func(ctx context.Context, temp *Session, event obevent.Event)
}

// space holds the four per-handler structures from spec §4.4: active and
// parked session sets, a work lock, an attach lock, and a deadlock flag.
type space struct {
	workLock sync.Mutex // guards active/parked and serializes get() decisions

	active map[*Session]struct{}
	parked map[*Session]struct{}

	attachLock sync.Mutex // serializes try_attach calls

	deadlockMu  sync.Mutex
	deadlockArmed bool
	deadlockGate  *gate
}

func newSpace() *space {
	return &space{
		active:       make(map[*Session]struct{}),
		parked:       make(map[*Session]struct{}),
		deadlockGate: newGate(),
	}
}

func (sp *space) armDeadlock() {
	sp.deadlockMu.Lock()
	defer sp.deadlockMu.Unlock()
	if !sp.deadlockArmed {
		sp.deadlockArmed = true
		sp.deadlockGate.fire()
	}
}

// disarmIfArmed resets the flag after a try_attach consumes it, per
// spec's "treat the flag as single-shot" resolution of the open question.
func (sp *space) disarmIfArmed() {
	sp.deadlockMu.Lock()
	defer sp.deadlockMu.Unlock()
	if sp.deadlockArmed {
		sp.deadlockArmed = false
		sp.deadlockGate = newGate()
	}
}

// Manager owns one space per handler and constructs/recycles sessions.
type Manager struct {
	mu     sync.Mutex
	spaces map[any]*space
}

// New creates an empty session manager.
func New() *Manager {
	return &Manager{spaces: make(map[any]*space)}
}

func (m *Manager) spaceFor(owner any) *space {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.spaces[owner]
	if !ok {
		sp = newSpace()
		m.spaces[owner] = sp
	}
	return sp
}

// Get implements spec §4.4.1 acquisition. For rule-less handlers it
// always returns a fresh one-shot session. For ruled handlers it scans
// active sessions under the work lock, binding a free match, waiting on
// a busy match per ConflictWait, or constructing a new session.
func (m *Manager) Get(ctx context.Context, event obevent.Event, spec HandlerSpec) (*Session, error) {
	if spec.Rule == nil {
		s := newSession(nil, event)
		s.markBusy()
		return s, nil
	}

	sp := m.spaceFor(spec.Owner)
	sp.workLock.Lock()

	for {
		match := findMatch(sp.active, spec.Rule, event)
		if match == nil {
			ns := newSession(spec.Owner, event)
			ns.markBusy()
			sp.active[ns] = struct{}{}
			sp.workLock.Unlock()
			return ns, nil
		}

		if match.Free() {
			match.markBusy()
			match.bindEvent(event)
			sp.workLock.Unlock()
			return match, nil
		}

		// Busy match.
		if !spec.ConflictWait {
			sp.workLock.Unlock()
			if spec.ConflictCallback != nil {
				temp := newSession(nil, event)
				temp.markBusy()
				spec.ConflictCallback(ctx, temp, event)
			}
			return nil, ErrNoSession
		}

		freeCh := match.freeWait()
		hupCh := match.hupWait() // fires if/when match transitions into parked (hup)
		sp.workLock.Unlock()

		select {
		case <-freeCh:
			sp.workLock.Lock()
			continue
		case <-hupCh:
			sp.armDeadlock()
			<-match.freeWait()
			sp.workLock.Lock()
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// hupWait returns a channel that closes the moment the session is parked
// (moved to hup). Distinct from awakeWait, which closes on the opposite
// transition (a parked session being woken). It piggybacks on a dedicated
// gate fired by Hup.
func (s *Session) hupWait() <-chan struct{} {
	return s.hupGate.wait()
}

// findMatch scans set for a non-expired session equivalent to event under rule.
func findMatch(set map[*Session]struct{}, rule Rule, event obevent.Event) *Session {
	for s := range set {
		if s.Expired() {
			continue
		}
		if rule.Equiv(s.Event(), event) {
			return s
		}
	}
	return nil
}

// Hup implements spec §4.4.2 suspension: moves the session from active to
// parked, clears awake (sets hup), and waits for either an attach-driven
// wake or the timeout. On timeout it re-rouses the session (moves it back
// to active) before returning an error.
func (m *Manager) Hup(ctx context.Context, s *Session, timeout time.Duration) error {
	if s.IsOneShot() {
		return ErrOneShotHup
	}
	if s.Expired() {
		return ErrExpiredSession
	}

	sp := m.spaceFor(s.owner)

	sp.workLock.Lock()
	delete(sp.active, s)
	sp.parked[s] = struct{}{}
	sp.workLock.Unlock()

	s.markHup()
	s.hupGate.fire() // unblocks any Get() waiting on this session's busy->hup transition
	wakeCh := s.awakeWait()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-wakeCh:
		return nil
	case <-timeoutCh:
		m.rouse(sp, s)
		return ErrHupTimeout
	case <-ctx.Done():
		m.rouse(sp, s)
		return ctx.Err()
	}
}

// rouse moves a parked session back to active without waking it via an
// attaching event (used on Hup timeout/cancellation).
func (m *Manager) rouse(sp *space, s *Session) {
	sp.workLock.Lock()
	delete(sp.parked, s)
	sp.active[s] = struct{}{}
	sp.workLock.Unlock()
	s.clearHup()
}

// TryAttach implements spec §4.4.3: absorbs event into a parked session
// for owner, if one matches, waking it in place of a fresh handler
// invocation. Returns true iff a session was attached.
func (m *Manager) TryAttach(ctx context.Context, event obevent.Event, owner any, rule Rule) (bool, error) {
	sp := m.spaceFor(owner)

	sp.attachLock.Lock()
	defer sp.attachLock.Unlock()

	deadlockCh := sp.deadlockWait()
	acquireCh := make(chan struct{}, 1)
	go func() {
		sp.workLock.Lock()
		acquireCh <- struct{}{}
	}()

	select {
	case <-deadlockCh:
		sp.disarmIfArmed()
		// The lock-acquiring goroutine above will eventually succeed;
		// release it asynchronously since this path doesn't need the lock.
		go func() { <-acquireCh; sp.workLock.Unlock() }()
		return m.doAttach(sp, event, rule), nil
	case <-acquireCh:
		defer sp.workLock.Unlock()
		return m.doAttach(sp, event, rule), nil
	case <-ctx.Done():
		go func() { <-acquireCh; sp.workLock.Unlock() }()
		return false, ctx.Err()
	}
}

func (sp *space) deadlockWait() <-chan struct{} {
	sp.deadlockMu.Lock()
	defer sp.deadlockMu.Unlock()
	if sp.deadlockArmed {
		// Armed before this wait began: the gate has already fired.
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sp.deadlockGate.wait()
}

// doAttach scans parked[owner] for a rule match and wakes it. Caller must
// hold (or have just released under the deadlock path) the space's
// coordination as appropriate; the parked/active maps are always guarded
// for mutation purposes independently via workLock semantics captured by
// the caller's branch.
func (m *Manager) doAttach(sp *space, event obevent.Event, rule Rule) bool {
	var found *Session
	for s := range sp.parked {
		if s.Expired() {
			continue
		}
		if rule.Equiv(s.Event(), event) {
			found = s
			break
		}
	}
	if found == nil {
		return false
	}
	delete(sp.parked, found)
	sp.active[found] = struct{}{}
	found.wake(event)
	return true
}

// Recycle implements spec §4.4.4: marks the session free after its
// handler body returns; if hold is false the session is expired
// immediately (store cleared, removed from active).
func (m *Manager) Recycle(s *Session, hold bool) {
	s.markFree()
	if hold {
		return
	}
	if s.IsOneShot() {
		s.expire()
		return
	}
	sp := m.spaceFor(s.owner)
	sp.workLock.Lock()
	delete(sp.active, s)
	sp.workLock.Unlock()
	s.expire()
}

// Stats reports active/parked counts per handler owner, for the
// supervisor's health surface.
type Stats struct {
	Active int
	Parked int
}

// StatsFor returns the current active/parked counts for owner's space.
func (m *Manager) StatsFor(owner any) Stats {
	sp := m.spaceFor(owner)
	sp.workLock.Lock()
	defer sp.workLock.Unlock()
	return Stats{Active: len(sp.active), Parked: len(sp.parked)}
}
