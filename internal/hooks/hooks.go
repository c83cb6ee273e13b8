// Package hooks implements the lifecycle hook bus and plugin
// signal/shared-object registries from spec §4.6. It is deliberately
// nil-safe and non-blocking: a *Bus with no registered callbacks for an
// event is a no-op, and a slow callback never blocks its siblings.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

// Event is the fixed lifecycle-hook enum from spec §4.6: a closed set —
// the bot core only ever fires these nine moments.
type Event string

const (
	Loaded         Event = "loaded"
	FirstConnected Event = "first_connected"
	Reconnected    Event = "reconnected"
	BeforeClose    Event = "before_close"
	BeforeStop     Event = "before_stop"
	EventBuilt     Event = "event_built"
	ActionPresend  Event = "action_presend"
	Started        Event = "started"
	Restarted      Event = "restarted"
)

// Callback is a lifecycle hook body. ctx carries the cancellation scope
// of the emitting call; data is event-specific (the built obevent.Event
// for EventBuilt, the outbound *obevent.Action for ActionPresend, nil
// for the rest).
type Callback func(ctx context.Context, data any)

// Bus multicasts lifecycle hooks to every registered callback and
// manages the plugin signal and shared-object registries.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]Callback

	signalsMu sync.Mutex
	signals   map[signalKey]func(ctx context.Context, payload any) (any, error)

	objectsMu sync.Mutex
	getters   map[objectKey]func() any
	mutators  map[objectKey]func(any) error
}

type signalKey struct{ namespace, name string }
type objectKey struct{ namespace, id string }

// New builds an empty hook bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[Event][]Callback),
		signals:  make(map[signalKey]func(ctx context.Context, payload any) (any, error)),
		getters:  make(map[objectKey]func() any),
		mutators: make(map[objectKey]func(any) error),
	}
}

// On registers cb to run whenever evt fires. Safe to call from any
// goroutine; registration never blocks an in-flight Emit.
func (b *Bus) On(evt Event, cb Callback) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[evt] = append(b.subs[evt], cb)
}

// Emit fires evt's callbacks concurrently and returns immediately
// without waiting for any of them to finish.
func (b *Bus) Emit(ctx context.Context, evt Event, data any) {
	if b == nil {
		return
	}
	for _, cb := range b.snapshot(evt) {
		go cb(ctx, data)
	}
}

// EmitWait fires evt's callbacks concurrently and blocks until every one
// of them has returned, per spec §4.6's "wait=true variant joins all of
// them before the emit-call returns."
func (b *Bus) EmitWait(ctx context.Context, evt Event, data any) {
	if b == nil {
		return
	}
	cbs := b.snapshot(evt)
	var wg sync.WaitGroup
	wg.Add(len(cbs))
	for _, cb := range cbs {
		go func(cb Callback) {
			defer wg.Done()
			cb(ctx, data)
		}(cb)
	}
	wg.Wait()
}

func (b *Bus) snapshot(evt Event) []Callback {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cbs := b.subs[evt]
	out := make([]Callback, len(cbs))
	copy(out, cbs)
	return out
}

// ErrSignalExists is returned by RegisterSignal when (namespace, name)
// already has a bound callback — spec §7's "Signal overflow" error kind,
// which is fatal at plugin-load time, not recoverable at runtime.
var ErrSignalExists = fmt.Errorf("hooks: signal already registered")

// RegisterSignal binds a callback to the named channel (namespace, name).
// Returns ErrSignalExists if a callback is already bound; at most one
// callback may own a given channel.
func (b *Bus) RegisterSignal(namespace, name string, cb func(ctx context.Context, payload any) (any, error)) error {
	b.signalsMu.Lock()
	defer b.signalsMu.Unlock()
	key := signalKey{namespace, name}
	if _, exists := b.signals[key]; exists {
		return fmt.Errorf("%w: %s.%s", ErrSignalExists, namespace, name)
	}
	b.signals[key] = cb
	return nil
}

// ErrNoSuchSignal is returned by Signal when no callback is bound for
// the requested channel.
var ErrNoSuchSignal = fmt.Errorf("hooks: no such signal")

// Signal invokes the callback bound to (namespace, name) with payload,
// returning its result. A plugin signal is a point-to-point RPC, unlike
// the broadcast lifecycle hooks.
func (b *Bus) Signal(ctx context.Context, namespace, name string, payload any) (any, error) {
	b.signalsMu.Lock()
	cb, ok := b.signals[signalKey{namespace, name}]
	b.signalsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchSignal, namespace, name)
	}
	return cb(ctx, payload)
}

// ErrObjectExists is returned by RegisterObject when (namespace, id)
// already has a bound getter.
var ErrObjectExists = fmt.Errorf("hooks: shared object already registered")

// RegisterObject binds a value getter for (namespace, id), and
// optionally a mutator (nil if the object is read-only to everyone but
// its declaring plugin). Only the declaring plugin calls RegisterObject
// for a given key, so the mutator it supplies here is the only one that
// will ever exist for that key.
func (b *Bus) RegisterObject(namespace, id string, get func() any, mutate func(any) error) error {
	b.objectsMu.Lock()
	defer b.objectsMu.Unlock()
	key := objectKey{namespace, id}
	if _, exists := b.getters[key]; exists {
		return fmt.Errorf("%w: %s.%s", ErrObjectExists, namespace, id)
	}
	b.getters[key] = get
	if mutate != nil {
		b.mutators[key] = mutate
	}
	return nil
}

// ErrNoSuchObject is returned by Object/Mutate when no getter is bound.
var ErrNoSuchObject = fmt.Errorf("hooks: no such shared object")

// ErrObjectReadOnly is returned by Mutate when the object was registered
// without a mutator.
var ErrObjectReadOnly = fmt.Errorf("hooks: shared object has no mutator")

// Object reads the current value of the shared object (namespace, id).
func (b *Bus) Object(namespace, id string) (any, error) {
	b.objectsMu.Lock()
	get, ok := b.getters[objectKey{namespace, id}]
	b.objectsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchObject, namespace, id)
	}
	return get(), nil
}

// Mutate applies v to the shared object (namespace, id) via its
// registered mutator.
func (b *Bus) Mutate(namespace, id string, v any) error {
	b.objectsMu.Lock()
	key := objectKey{namespace, id}
	if _, ok := b.getters[key]; !ok {
		b.objectsMu.Unlock()
		return fmt.Errorf("%w: %s.%s", ErrNoSuchObject, namespace, id)
	}
	mutate, ok := b.mutators[key]
	b.objectsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrObjectReadOnly, namespace, id)
	}
	return mutate(v)
}
