package session

import (
	"sync"

	"github.com/nugget/melocore/internal/obevent"
)

// gate is a resettable one-shot broadcast signal: Wait returns a channel
// that closes the next time Fire is called. Go has no native
// condition-variable-with-select, so close-and-replace channels are the
// idiomatic substitute when a wait must race against other channels.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// wait returns the channel that will close on the next Fire.
func (g *gate) wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// fire closes the current channel and installs a fresh one for the next wait.
func (g *gate) fire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.ch)
	g.ch = make(chan struct{})
}

// Session is per-conversation state: the most recent event bound to it,
// the most recent parser output, a free-form store, and the twin
// free/suspended lifecycle described in spec §3 and §4.4.
type Session struct {
	mu sync.Mutex

	owner   any // the handler (Owner) whose session-space owns this session; nil for one-shot
	event   obevent.Event
	args    any
	store   map[string]any
	free    bool
	hup     bool
	expired bool

	freeGate  *gate // fires whenever free transitions to true
	awakeGate *gate // fires when a parked session is attached (woken)
	hupGate   *gate // fires whenever the session transitions into parked (hup)
}

func newSession(owner any, ev obevent.Event) *Session {
	return &Session{
		owner:     owner,
		event:     ev,
		store:     make(map[string]any),
		free:      false,
		freeGate:  newGate(),
		awakeGate: newGate(),
		hupGate:   newGate(),
	}
}

// Event returns the most recently bound event.
func (s *Session) Event() obevent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// Args returns the most recent parser output.
func (s *Session) Args() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args
}

// SetArgs stores the parser output for this session.
func (s *Session) SetArgs(args any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = args
}

// Store returns the session's free-form keyed map. Callers must not
// retain it past session expiry.
func (s *Session) Store() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// IsOneShot reports whether this session has no owning handler
// (constructed for a rule-less handler); one-shot sessions cannot suspend.
func (s *Session) IsOneShot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner == nil
}

// Expired reports whether the session has been recycled away.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Free reports whether the session is not currently executing a handler body.
func (s *Session) Free() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.free
}

// Suspended reports whether the session is parked (awake=clear, hup=set).
func (s *Session) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.free && s.hup
}

func (s *Session) bindEvent(ev obevent.Event) {
	s.mu.Lock()
	s.event = ev
	s.mu.Unlock()
}

func (s *Session) markBusy() {
	s.mu.Lock()
	s.free = false
	s.mu.Unlock()
}

func (s *Session) markFree() {
	s.mu.Lock()
	s.free = true
	s.mu.Unlock()
	s.freeGate.fire()
}

func (s *Session) freeWait() <-chan struct{} {
	return s.freeGate.wait()
}

func (s *Session) markHup() {
	s.mu.Lock()
	s.hup = true
	s.mu.Unlock()
}

func (s *Session) clearHup() {
	s.mu.Lock()
	s.hup = false
	s.mu.Unlock()
}

func (s *Session) isHup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hup
}

func (s *Session) awakeWait() <-chan struct{} {
	return s.awakeGate.wait()
}

// wake clears hup, binds the new event, and fires the awake gate.
// Called by try_attach when it absorbs an event into a parked session.
func (s *Session) wake(ev obevent.Event) {
	s.mu.Lock()
	s.hup = false
	s.event = ev
	s.mu.Unlock()
	s.awakeGate.fire()
}

// expire clears the store and marks the session permanently unusable.
func (s *Session) expire() {
	s.mu.Lock()
	s.store = nil
	s.expired = true
	s.mu.Unlock()
}
