package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestEmitWaitJoinsAllCallbacks(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	for i := 0; i < 5; i++ {
		b.On(Started, func(ctx context.Context, data any) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	b.EmitWait(context.Background(), Started, nil)
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected all 5 callbacks to have run, got %d", count)
	}
}

func TestNilBusIsNoOp(t *testing.T) {
	var b *Bus
	b.On(Loaded, func(ctx context.Context, data any) { t.Fatal("should never run") })
	b.Emit(context.Background(), Loaded, nil)
	b.EmitWait(context.Background(), Loaded, nil)
}

func TestRegisterSignalRejectsDuplicate(t *testing.T) {
	b := New()
	cb := func(ctx context.Context, payload any) (any, error) { return nil, nil }
	if err := b.RegisterSignal("plugin.echo", "ping", cb); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	err := b.RegisterSignal("plugin.echo", "ping", cb)
	if !errors.Is(err, ErrSignalExists) {
		t.Fatalf("expected ErrSignalExists, got %v", err)
	}
}

func TestSignalRoundTrip(t *testing.T) {
	b := New()
	err := b.RegisterSignal("plugin.echo", "ping", func(ctx context.Context, payload any) (any, error) {
		return "pong:" + payload.(string), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := b.Signal(context.Background(), "plugin.echo", "ping", "hi")
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result != "pong:hi" {
		t.Fatalf("unexpected result %v", result)
	}

	if _, err := b.Signal(context.Background(), "plugin.echo", "missing", nil); !errors.Is(err, ErrNoSuchSignal) {
		t.Fatalf("expected ErrNoSuchSignal, got %v", err)
	}
}

func TestSharedObjectGetMutate(t *testing.T) {
	b := New()
	value := "initial"
	err := b.RegisterObject("plugin.counter", "state", func() any { return value }, func(v any) error {
		value = v.(string)
		return nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := b.Object("plugin.counter", "state")
	if err != nil || got != "initial" {
		t.Fatalf("unexpected get result %v, %v", got, err)
	}

	if err := b.Mutate("plugin.counter", "state", "updated"); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	got, _ = b.Object("plugin.counter", "state")
	if got != "updated" {
		t.Fatalf("expected updated value, got %v", got)
	}
}

func TestSharedObjectReadOnlyRejectsMutate(t *testing.T) {
	b := New()
	if err := b.RegisterObject("plugin.readonly", "v", func() any { return 1 }, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := b.Mutate("plugin.readonly", "v", 2); !errors.Is(err, ErrObjectReadOnly) {
		t.Fatalf("expected ErrObjectReadOnly, got %v", err)
	}
}

func TestRegisterObjectRejectsDuplicate(t *testing.T) {
	b := New()
	get := func() any { return nil }
	if err := b.RegisterObject("ns", "id", get, nil); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := b.RegisterObject("ns", "id", get, nil); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
}
