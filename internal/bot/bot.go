// Package bot wires the transport, correlator, session, dispatch, and
// hooks layers (C1-C6) into a single runnable unit (C7): the supervisor
// described in spec §4 and §5's graceful-shutdown ordering.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/melocore/internal/buildinfo"
	"github.com/nugget/melocore/internal/codec"
	"github.com/nugget/melocore/internal/config"
	"github.com/nugget/melocore/internal/correlator"
	"github.com/nugget/melocore/internal/dispatch"
	"github.com/nugget/melocore/internal/hooks"
	"github.com/nugget/melocore/internal/obevent"
	"github.com/nugget/melocore/internal/session"
	"github.com/nugget/melocore/internal/transport"
)

// connectorSender adapts transport.Connector.Output to correlator.Sender.
type connectorSender struct {
	c *transport.Connector
}

func (s connectorSender) Output(ctx context.Context, payload []byte, needEcho bool) error {
	_, err := s.c.Output(ctx, transport.OutPacket{Payload: payload, NeedEcho: needEcho})
	return err
}

// Bot is the running supervisor: one transport connector, one correlator,
// one session manager, one dispatcher, and one hook bus.
type Bot struct {
	name string

	transport  *transport.Connector
	correlator *correlator.Correlator
	sessions   *session.Manager
	dispatch   *dispatch.Dispatcher
	hooks      *hooks.Bus
	log        *slog.Logger

	drainGrace time.Duration

	cancel context.CancelFunc
	loopDone chan struct{}
}

// Config bundles the pieces a caller assembles before Run: a dialed-but-
// not-yet-open transport connector and the drain grace period used on
// Close.
type Config struct {
	Name       string
	Transport  *transport.Connector
	Sessions   *session.Manager
	Hooks      *hooks.Bus
	Logger     *slog.Logger
	Cooldown   time.Duration
	DrainGrace time.Duration
}

// New assembles a Bot from its constituent layers. Sessions and Hooks
// are created fresh if nil.
func New(cfg Config) *Bot {
	if cfg.Sessions == nil {
		cfg.Sessions = session.New()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}

	corr := correlator.New(connectorSender{c: cfg.Transport}, correlator.WithCooldown(cfg.Cooldown))
	b := &Bot{
		name:       cfg.Name,
		transport:  cfg.Transport,
		correlator: corr,
		sessions:   cfg.Sessions,
		hooks:      cfg.Hooks,
		log:        cfg.Logger,
		drainGrace: cfg.DrainGrace,
	}
	b.dispatch = dispatch.New(b, cfg.Sessions, cfg.Logger)
	return b
}

// Dispatcher exposes the handler registry for plugin registration.
func (b *Bot) Dispatcher() *dispatch.Dispatcher { return b.dispatch }

// Hooks exposes the lifecycle hook bus for plugin registration.
func (b *Bot) Hooks() *hooks.Bus { return b.hooks }

// Send implements dispatch.ActionSender: it fires the action_presend
// hook, then routes the action through the correlator.
func (b *Bot) Send(ctx context.Context, action *obevent.Action) (*correlator.ActionHandle, error) {
	b.hooks.Emit(ctx, hooks.ActionPresend, action)
	return b.correlator.Call(ctx, action, b.encodeAndTrace, action.NeedEcho)
}

// encodeAndTrace wraps codec.EncodeAction so every outbound action is
// visible at trace level, mirroring handleFrame's inbound trace logging.
func (b *Bot) encodeAndTrace(action *obevent.Action) ([]byte, error) {
	payload, err := codec.EncodeAction(action)
	if err != nil {
		return nil, err
	}
	config.LogFrame(b.log, "out", payload)
	return payload, nil
}

// Run opens the transport and processes inbound frames until ctx is
// cancelled or Close is called. Blocks until the read loop exits.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.loopDone = make(chan struct{})

	if err := b.transport.Open(runCtx); err != nil {
		cancel()
		close(b.loopDone)
		return fmt.Errorf("bot: open transport: %w", err)
	}

	b.hooks.Emit(runCtx, hooks.Loaded, nil)
	b.hooks.Emit(runCtx, hooks.Started, nil)

	go b.readLoop(runCtx)
	<-b.loopDone
	return nil
}

func (b *Bot) readLoop(ctx context.Context) {
	defer close(b.loopDone)
	for {
		pkt, err := b.transport.Input(ctx)
		if err != nil {
			return
		}
		b.handleFrame(ctx, pkt.Payload)
	}
}

func (b *Bot) handleFrame(ctx context.Context, payload []byte) {
	config.LogFrame(b.log, "in", payload)

	raw, err := codec.ParseFrame(payload)
	if err != nil {
		b.log.Warn("bot: malformed frame dropped", "err", err)
		return
	}

	if codec.IsEcho(raw) {
		echo, ok := correlator.UnmarshalEcho(raw)
		if !ok {
			b.log.Warn("bot: frame has neither post_type nor echo, dropping")
			return
		}
		if !b.correlator.Dispatch(echo) {
			b.log.Warn("bot: unsolicited echo frame dropped", "echo_id", echo.EchoID)
		}
		return
	}

	event, err := codec.DecodeEvent(raw)
	if err != nil {
		b.log.Warn("bot: event decode failed, frame dropped", "err", err)
		return
	}
	b.hooks.Emit(ctx, hooks.EventBuilt, event)
	b.dispatch.Dispatch(ctx, event)
}

// Health is a single JSON-able snapshot of the supervisor's constituent
// layers, the Go-native replacement for the CLI's informal status
// output (SPEC_FULL §3.7).
type Health struct {
	Uptime       string                 `json:"uptime"`
	Transport    interface{}            `json:"transport"`
	PendingEchos int                    `json:"pending_echos"`
	Sessions     map[string]interface{} `json:"sessions"`
	RecentAudit  []dispatch.Decision    `json:"recent_audit"`
}

// Health aggregates the process uptime, transport, correlator, session
// manager, and dispatch-audit surfaces into one snapshot.
func (b *Bot) Health() Health {
	sessions := make(map[string]interface{})
	for name, stats := range b.dispatch.SessionStats() {
		sessions[name] = stats
	}
	return Health{
		Uptime:       buildinfo.Uptime().String(),
		Transport:    b.transport.Status(),
		PendingEchos: b.correlator.Stats(),
		Sessions:     sessions,
		RecentAudit:  b.dispatch.Audit().Recent(20),
	}
}

// Close implements spec §5's graceful shutdown ordering: emit
// before_close (wait), cancel the dispatch task, drain in-flight handler
// bodies with a grace period, close the transport, emit before_stop
// (wait).
func (b *Bot) Close(ctx context.Context) error {
	b.hooks.EmitWait(ctx, hooks.BeforeClose, nil)

	if b.cancel != nil {
		b.cancel()
	}

	drained := make(chan struct{})
	go func() {
		b.dispatch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(b.drainGrace):
		b.log.Warn("bot: drain grace period elapsed with handlers still in flight")
	}

	b.correlator.CloseTransport()
	err := b.transport.Close()

	b.hooks.EmitWait(ctx, hooks.BeforeStop, nil)
	return err
}
