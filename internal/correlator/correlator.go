// Package correlator implements the action/echo bridge from spec §4.3:
// it routes handler-issued actions through a transport.Connector,
// holding futures keyed by echo-id until a matching echo frame arrives
// or the wait is abandoned, and paces outbound writes with a cooldown.
//
// The pending-futures map is grounded on the Home Assistant WebSocket
// client's sendAndWait/pending map pattern, generalized from an
// int64-sequence key to the uuid-string echo-ids OneBot requires.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/melocore/internal/obevent"
)

// Errors returned by Correlator operations.
var (
	ErrPendingOverflow = errors.New("correlator: echo-pending map at capacity")
	ErrEchoTimeout     = errors.New("correlator: echo timed out")
	ErrTransportClosed = errors.New("correlator: transport closed before echo arrived")
)

// DefaultPendingCap is the soft cap on in-flight echo-pending entries
// (spec §4.1).
const DefaultPendingCap = 256

// Sender abstracts the underlying transport.Connector.Output call so
// Correlator can be tested without a real connector.
type Sender interface {
	Output(ctx context.Context, payload []byte, needEcho bool) error
}

// HandleState is the lifecycle of an ActionHandle.
type HandleState int

const (
	StatePending HandleState = iota
	StateFinished
	StateTimedOut
	StateCancelled
)

// ActionHandle is returned by Call; Resp blocks for a needs-echo action's
// matching obevent.Echo, or returns immediately for fire-and-forget ones.
type ActionHandle struct {
	state HandleState
	echo  obevent.Echo
	errCh chan error
	done  chan struct{}
	once  sync.Once

	// abort is closed by Resp when its caller's context is cancelled
	// before an echo or error arrives; awaitEcho selects on it so the
	// pending-map entry is removed instead of leaking until a stray echo
	// (or CloseTransport) eventually arrives. Nil on a finished handle.
	abort chan struct{}
}

func finishedHandle() *ActionHandle {
	h := &ActionHandle{state: StateFinished, done: make(chan struct{})}
	close(h.done)
	return h
}

// Resp blocks until the echo resolves (or ctx is cancelled), returning
// the echo payload. Safe to call once; a finished (no-echo) handle
// returns immediately with a zero Echo. Cancelling ctx abandons the wait
// and removes the pending-map entry (spec §4.3/§7).
func (h *ActionHandle) Resp(ctx context.Context) (obevent.Echo, error) {
	if h.state == StateFinished {
		return h.echo, nil
	}
	select {
	case <-h.done:
		return h.echo, nil
	case err := <-h.errCh:
		return obevent.Echo{}, err
	case <-ctx.Done():
		h.cancel()
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrEchoTimeout
		}
		return obevent.Echo{}, err
	}
}

// cancel signals awaitEcho to abandon the wait. Idempotent: safe even if
// awaitEcho has already finished through another branch.
func (h *ActionHandle) cancel() {
	h.once.Do(func() {
		if h.abort != nil {
			close(h.abort)
		}
	})
}

type pendingEntry struct {
	resultCh chan obevent.Echo
	errCh    chan error
}

// Correlator bridges the codec (C2) and transport (C1) layers: it
// assigns echo-ids, serializes actions, and demultiplexes inbound echo
// frames back to the awaiting caller.
type Correlator struct {
	sender   Sender
	cooldown time.Duration

	mu       sync.Mutex
	pending  map[string]pendingEntry
	lastSend time.Time

	pendingCap int
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithCooldown sets the per-transport send cooldown (spec's cd_time);
// default 200ms.
func WithCooldown(d time.Duration) Option {
	return func(c *Correlator) { c.cooldown = d }
}

// WithPendingCap overrides DefaultPendingCap.
func WithPendingCap(n int) Option {
	return func(c *Correlator) { c.pendingCap = n }
}

// New constructs a Correlator atop sender.
func New(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:     sender,
		cooldown:   200 * time.Millisecond,
		pending:    make(map[string]pendingEntry),
		pendingCap: DefaultPendingCap,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EncodeFunc serializes an action to the wire payload; injected so this
// package does not import the codec directly (kept decoupled per C2/C3
// layering — the bot supervisor wires the concrete encoder in).
type EncodeFunc func(action *obevent.Action) ([]byte, error)

// Call implements spec §4.3's call(action) algorithm.
func (c *Correlator) Call(ctx context.Context, action *obevent.Action, encode EncodeFunc, requireEcho bool) (*ActionHandle, error) {
	if requireEcho {
		action.NeedEcho = true
	}

	if action.NeedEcho && action.Echo == "" {
		action.Echo = uuid.NewString()
	}

	payload, err := encode(action)
	if err != nil {
		return nil, fmt.Errorf("correlator: encode action: %w", err)
	}

	if !action.NeedEcho {
		if err := c.paceAndSend(ctx, payload, false); err != nil {
			return nil, err
		}
		return finishedHandle(), nil
	}

	c.mu.Lock()
	if len(c.pending) >= c.pendingCap {
		c.mu.Unlock()
		return nil, ErrPendingOverflow
	}
	entry := pendingEntry{
		resultCh: make(chan obevent.Echo, 1),
		errCh:    make(chan error, 1),
	}
	c.pending[action.Echo] = entry
	c.mu.Unlock()

	if err := c.paceAndSend(ctx, payload, true); err != nil {
		c.removePending(action.Echo)
		return nil, err
	}

	handle := &ActionHandle{
		state: StatePending,
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
		abort: make(chan struct{}),
	}
	go c.awaitEcho(action.Echo, entry, handle)
	return handle, nil
}

// awaitEcho resolves handle from whichever of three sources fires first:
// a matching echo frame, an error pushed by CloseTransport, or the
// handle's own abort signal (Resp's caller gave up). Every branch removes
// the pending-map entry, so an abandoned wait never leaks it.
func (c *Correlator) awaitEcho(echoID string, entry pendingEntry, handle *ActionHandle) {
	select {
	case echo := <-entry.resultCh:
		handle.echo = echo
		handle.state = StateFinished
		close(handle.done)
	case err := <-entry.errCh:
		handle.state = StateTimedOut
		handle.errCh <- err
	case <-handle.abort:
		handle.state = StateCancelled
	}
	c.removePending(echoID)
}

func (c *Correlator) removePending(echoID string) {
	c.mu.Lock()
	delete(c.pending, echoID)
	c.mu.Unlock()
}

func (c *Correlator) paceAndSend(ctx context.Context, payload []byte, needEcho bool) error {
	c.mu.Lock()
	wait := c.cooldown - time.Since(c.lastSend)
	c.mu.Unlock()
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.lastSend = time.Now()
	c.mu.Unlock()
	return c.sender.Output(ctx, payload, needEcho)
}

// Dispatch demultiplexes an inbound echo frame to its awaiting caller.
// Unmatched echo-ids are logged and dropped by the caller (the bot
// supervisor), not here; Dispatch simply reports whether it found a
// waiter.
func (c *Correlator) Dispatch(echo obevent.Echo) bool {
	c.mu.Lock()
	entry, ok := c.pending[echo.EchoID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.resultCh <- echo:
	default:
	}
	return true
}

// CloseTransport fails every outstanding future with ErrTransportClosed,
// per spec §4.3's "if the transport closes before an echo arrives,
// outstanding futures fail" rule.
func (c *Correlator) CloseTransport() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]pendingEntry)
	c.mu.Unlock()

	for _, entry := range pending {
		select {
		case entry.errCh <- ErrTransportClosed:
		default:
		}
	}
}

// Stats reports the number of in-flight echo waits.
func (c *Correlator) Stats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// UnmarshalEcho decodes a raw inbound frame known to be an echo frame
// (carries a non-empty "echo" field) into an obevent.Echo.
func UnmarshalEcho(raw map[string]any) (obevent.Echo, bool) {
	echoID, _ := raw["echo"].(string)
	if echoID == "" {
		return obevent.Echo{}, false
	}
	status := obevent.EchoFailed
	if s, _ := raw["status"].(string); s == "ok" {
		status = obevent.EchoOK
	}
	retcode, _ := raw["retcode"].(float64)

	var data json.RawMessage
	if d, ok := raw["data"]; ok {
		if b, err := json.Marshal(d); err == nil {
			data = b
		}
	}

	return obevent.Echo{
		EchoID:  echoID,
		Status:  status,
		Retcode: int(retcode),
		Data:    data,
	}, true
}
