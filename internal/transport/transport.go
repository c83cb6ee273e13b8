// Package transport implements the connector state machine shared by the
// WebSocket-client, WebSocket-server, and HTTP-duplex realizations: a
// single logical bidirectional frame stream with the remote OneBot
// endpoint, reconnect/backoff, and a cooldown-paced output loop.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/melocore/internal/connwatch"
)

// State is a node in the shared connector state machine:
//
//	Closed -> Opening -> Open -> Linked <-> Relinking -> Open
//	                                               \-> Closed
//
// Linked is entered only after the first successful peer I/O; a
// transport-level close while Linked transitions to Relinking rather than
// straight back to Closed, so the supervisor can tell "never connected"
// apart from "dropped and retrying" when deciding whether to emit
// restarted.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateLinked
	StateRelinking
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateLinked:
		return "linked"
	case StateRelinking:
		return "relinking"
	default:
		return "unknown"
	}
}

// Errors returned by Connector operations.
var (
	ErrOutputOverflow = errors.New("transport: output buffer at capacity")
	ErrEchoOverflow   = errors.New("transport: echo-pending map at capacity")
	ErrClosed         = errors.New("transport: connector closed")
)

const (
	// DefaultOutputCap is the soft cap on queued outbound packets before
	// Output starts failing synchronously, per spec §4.1 backpressure.
	DefaultOutputCap = 100
	// DefaultEchoCap is the soft cap on in-flight echo-pending entries
	// tracked by the correlator against this connector.
	DefaultEchoCap = 256
)

// InPacket is a frame surfaced upward to the codec: either raw bytes
// ready for C2 to parse, or a transport-level notice (e.g. closed).
type InPacket struct {
	Payload []byte
}

// OutPacket is a frame handed down from the correlator for transmission.
type OutPacket struct {
	Payload  []byte
	NeedEcho bool
}

// EchoPacket is returned by Output when the caller declared NeedEcho; it
// carries nothing itself — callers correlate responses by echo-id through
// C3, not through this value. A zero value with Queued=false indicates
// the send was rejected.
type EchoPacket struct {
	Queued bool
}

// Peer is the minimal duplex byte-stream contract a realization adapts
// its underlying connection to. Realizations for WS-client, WS-server,
// and HTTP-duplex each implement this against gorilla/websocket conns or
// HTTP request/response bodies respectively.
type Peer interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens a fresh Peer, e.g. re-dialing a WebSocket URL or
// re-establishing an HTTP-duplex listener handoff.
type Dialer interface {
	Dial(ctx context.Context) (Peer, error)
}

// Connector drives the shared state machine over a Dialer: it owns the
// two independent cooperative input/output loops against the current
// Peer, reconnects on loss, and exposes Input/Output to C2/C3.
type Connector struct {
	dialer  Dialer
	cdTime  time.Duration
	backoff Backoff
	logger  *slog.Logger

	name string

	mu          sync.Mutex
	state       State
	peer        Peer
	lastSend    time.Time
	everLinked  bool
	lastErr     error
	lastCheck   time.Time

	in     chan InPacket
	out    chan outRequest
	opened chan struct{} // closed and replaced each time a peer handle is retired

	onRestarted func()
	onLinked    func()

	closeOnce sync.Once
	closeCh   chan struct{}
}

type outRequest struct {
	pkt    OutPacket
	result chan error
}

// Backoff describes the exponential-capped retry schedule used while
// dialing, mirroring connwatch's DefaultBackoffConfig shape.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// DefaultBackoff is the WS-client retry schedule from spec §4.1: capped
// exponential growth, fatal after MaxRetries attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
	}
}

// Config bundles Connector construction options.
type Config struct {
	Name         string // identifies this connector in Status() snapshots
	Dialer       Dialer
	CooldownTime time.Duration // spec's cd_time; default 200ms
	Backoff      Backoff
	Logger       *slog.Logger // used by the post-link connwatch reconnect loop; slog.Default() if nil
	OnRestarted  func()       // lifecycle hook: relink after a Linked transport-level close
	OnLinked     func()       // lifecycle hook: first successful peer I/O
}

// New constructs a Connector in state Closed. Call Open to begin dialing.
func New(cfg Config) *Connector {
	cd := cfg.CooldownTime
	if cd <= 0 {
		cd = 200 * time.Millisecond
	}
	name := cfg.Name
	if name == "" {
		name = "onebot"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		name:        name,
		dialer:      cfg.Dialer,
		cdTime:      cd,
		backoff:     cfg.Backoff,
		logger:      logger,
		state:       StateClosed,
		in:          make(chan InPacket, DefaultOutputCap),
		out:         make(chan outRequest, DefaultOutputCap),
		opened:      make(chan struct{}),
		onRestarted: cfg.OnRestarted,
		onLinked:    cfg.OnLinked,
		closeCh:     make(chan struct{}),
	}
}

// Status reports a connwatch.ServiceStatus-shaped snapshot of the
// connector's health for the supervisor's Health() surface: ready iff
// currently Open or Linked, with the most recent dial error if any.
func (c *Connector) Status() connwatch.ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := connwatch.ServiceStatus{
		Name:      c.name,
		Ready:     c.state == StateOpen || c.state == StateLinked,
		LastCheck: c.lastCheck,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// State returns the connector's current state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open dials the peer (with backoff on failure) and starts the
// independent input/output loops. Returns once the first peer handle is
// established; reconnects after that happen transparently in the
// background. Returns a fatal error only if MaxRetries is exhausted.
func (c *Connector) Open(ctx context.Context) error {
	c.setState(StateOpening)
	peer, err := c.dialWithBackoff(ctx)
	if err != nil {
		c.setState(StateClosed)
		return err
	}
	c.setPeer(peer)
	c.setState(StateOpen)

	go c.inputLoop(ctx)
	go c.outputLoop(ctx)
	return nil
}

func (c *Connector) dialWithBackoff(ctx context.Context) (Peer, error) {
	b := c.backoff
	if b.MaxRetries <= 0 {
		b = DefaultBackoff()
	}
	delay := b.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		peer, err := c.dialer.Dial(ctx)
		c.recordDial(err)
		if err == nil {
			return peer, nil
		}
		lastErr = err

		if attempt == b.MaxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		delay = time.Duration(float64(delay) * b.Multiplier)
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	return nil, lastErr
}

func (c *Connector) recordDial(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.lastCheck = time.Now()
	c.mu.Unlock()
}

func (c *Connector) setPeer(p Peer) {
	c.mu.Lock()
	c.peer = p
	c.mu.Unlock()
}

func (c *Connector) currentPeer() Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// inputLoop reads frames from the current peer until it errors, then
// triggers a relink attempt.
func (c *Connector) inputLoop(ctx context.Context) {
	for {
		peer := c.currentPeer()
		if peer == nil {
			return
		}
		payload, err := peer.ReadFrame(ctx)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			c.onPeerLost(ctx)
			continue
		}

		c.markLinked()
		select {
		case c.in <- InPacket{Payload: payload}:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connector) markLinked() {
	c.mu.Lock()
	first := !c.everLinked
	c.everLinked = true
	c.state = StateLinked
	c.mu.Unlock()
	if first && c.onLinked != nil {
		c.onLinked()
	}
}

// onPeerLost transitions Linked->Relinking (or Open->Closed if never
// linked) and blocks the loop until a fresh peer is dialed or the
// connector is closed.
//
// The redial strategy differs by phase (SPEC_FULL §3.1, grounded on
// original_source's io/ws_impl.py and io/reverse.py): a connector that
// never linked still gives up after Backoff.MaxRetries, matching the
// WS-client spec's "fail permanently after N attempts" semantics for a
// connection that was never proven to work. But once a peer has linked
// at least once, losing it never permanently closes the connector — it
// redials indefinitely in the background instead, at a capped interval,
// via reconnectForever.
func (c *Connector) onPeerLost(ctx context.Context) {
	c.mu.Lock()
	wasLinked := c.state == StateLinked
	if wasLinked {
		c.state = StateRelinking
	} else {
		c.state = StateClosed
	}
	dead := c.peer
	c.peer = nil
	c.mu.Unlock()
	if dead != nil {
		dead.Close()
	}

	var peer Peer
	var err error
	if wasLinked {
		peer, err = c.reconnectForever(ctx)
	} else {
		peer, err = c.dialWithBackoff(ctx)
	}
	if err != nil {
		c.setState(StateClosed)
		c.closeOnce.Do(func() { close(c.closeCh) })
		return
	}
	c.setPeer(peer)
	c.setState(StateOpen)

	if wasLinked && c.onRestarted != nil {
		c.onRestarted()
	}
}

// reconnectForever redials a previously-linked peer using a
// connwatch.Manager/Watcher: the watcher's own bounded exponential-backoff
// startup phase mirrors c.backoff for the first few attempts, then falls
// through to connwatch's indefinite PollInterval-paced background polling
// rather than giving up, so a connector that has proven it can link never
// closes permanently on a transient outage. Returns only on success or on
// ctx cancellation (shutdown).
func (c *Connector) reconnectForever(ctx context.Context) (Peer, error) {
	var mu sync.Mutex
	var dialed Peer
	ready := make(chan struct{}, 1)

	backoff := connwatch.DefaultBackoffConfig()
	if c.backoff.InitialDelay > 0 {
		backoff.InitialDelay = c.backoff.InitialDelay
	}
	if c.backoff.MaxDelay > 0 {
		backoff.MaxDelay = c.backoff.MaxDelay
	}
	if c.backoff.Multiplier > 0 {
		backoff.Multiplier = c.backoff.Multiplier
	}
	if c.backoff.MaxRetries > 0 {
		backoff.MaxRetries = c.backoff.MaxRetries
	}

	mgr := connwatch.NewManager(c.logger)
	w := mgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    c.name,
		Backoff: backoff,
		Probe: func(probeCtx context.Context) error {
			mu.Lock()
			already := dialed != nil
			mu.Unlock()
			if already {
				return nil
			}
			peer, err := c.dialer.Dial(probeCtx)
			c.recordDial(err)
			if err != nil {
				return err
			}
			mu.Lock()
			dialed = peer
			mu.Unlock()
			select {
			case ready <- struct{}{}:
			default:
			}
			return nil
		},
		OnReady: func() {
			select {
			case ready <- struct{}{}:
			default:
			}
		},
	})
	defer w.Stop()

	select {
	case <-ready:
		mu.Lock()
		peer := dialed
		mu.Unlock()
		return peer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// outputLoop serializes all writes to the current peer, pacing them by
// cdTime as required by spec §4.1/§4.3.
func (c *Connector) outputLoop(ctx context.Context) {
	for {
		select {
		case req := <-c.out:
			c.paceSend()
			peer := c.currentPeer()
			if peer == nil {
				req.result <- ErrClosed
				continue
			}
			req.result <- peer.WriteFrame(ctx, req.pkt.Payload)
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connector) paceSend() {
	c.mu.Lock()
	wait := c.cdTime - time.Since(c.lastSend)
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	c.mu.Lock()
	c.lastSend = time.Now()
	c.mu.Unlock()
}

// Input blocks until a frame is available, the context is cancelled, or
// the connector closes.
func (c *Connector) Input(ctx context.Context) (InPacket, error) {
	select {
	case p := <-c.in:
		return p, nil
	case <-c.closeCh:
		return InPacket{}, ErrClosed
	case <-ctx.Done():
		return InPacket{}, ctx.Err()
	}
}

// Output enqueues a frame for transmission, failing synchronously with
// ErrOutputOverflow if the output buffer is at its soft cap (spec §4.1).
func (c *Connector) Output(ctx context.Context, pkt OutPacket) (EchoPacket, error) {
	req := outRequest{pkt: pkt, result: make(chan error, 1)}
	select {
	case c.out <- req:
	default:
		return EchoPacket{}, ErrOutputOverflow
	}

	select {
	case err := <-req.result:
		if err != nil {
			return EchoPacket{}, err
		}
		return EchoPacket{Queued: true}, nil
	case <-ctx.Done():
		return EchoPacket{}, ctx.Err()
	case <-c.closeCh:
		return EchoPacket{}, ErrClosed
	}
}

// Close tears down the connector permanently.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	c.setState(StateClosed)
	if peer := c.currentPeer(); peer != nil {
		return peer.Close()
	}
	return nil
}
