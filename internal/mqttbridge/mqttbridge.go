// Package mqttbridge mirrors the lifecycle hook bus onto an MQTT topic
// for external dashboards (SPEC_FULL §2/§3.6): an optional, off-by-default
// sink, not a required transport. Connection management uses Eclipse
// Paho v2's autopaho for automatic reconnection, a birth/will
// availability topic, and retained discovery-style payloads, retargeted
// from Home Assistant sensor state to hook-bus lifecycle counters.
package mqttbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/melocore/internal/hooks"
)

// Config configures the bridge connection; mirrors config.MQTTBridgeConfig.
type Config struct {
	BrokerURL string
	ClientID  string
	TopicBase string
	Username  string
	Password  string
}

// counters tracks how many times each lifecycle hook has fired, mirrored
// to MQTT as a JSON snapshot on every increment.
type counters struct {
	mu     sync.Mutex
	counts map[hooks.Event]int64
}

func (c *counters) bump(evt hooks.Event) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[hooks.Event]int64)
	}
	c.counts[evt]++
	return c.counts[evt]
}

// Bridge subscribes to a hooks.Bus and republishes a JSON summary of
// each lifecycle hook to "{TopicBase}/hooks/{event}" on a configured
// MQTT broker, plus a retained birth/will availability topic at
// "{TopicBase}/availability".
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	counters counters
	cm       *autopaho.ConnectionManager
	started  atomic.Bool
}

// New builds a Bridge that is not yet connected; call Start to dial the
// broker and begin subscribing to bus. A nil logger falls back to
// slog.Default.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = "melocore"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "melocore"
	}
	return &Bridge{cfg: cfg, logger: logger}
}

// hookEvents is the fixed nine-member lifecycle enum from spec §4.6,
// subscribed to in full so every moment is mirrored.
var hookEvents = []hooks.Event{
	hooks.Loaded, hooks.FirstConnected, hooks.Reconnected,
	hooks.BeforeClose, hooks.BeforeStop, hooks.EventBuilt,
	hooks.ActionPresend, hooks.Started, hooks.Restarted,
}

// Start connects to the broker and registers callbacks on bus for every
// lifecycle hook. Blocks until the initial connection attempt resolves
// (success or the 30s timeout, after which autopaho keeps retrying in
// the background; a slow broker logs a warning but never fails startup).
func (b *Bridge) Start(ctx context.Context, bus *hooks.Bus) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	availTopic := b.cfg.TopicBase + "/availability"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqttbridge: connected", "broker", b.cfg.BrokerURL)
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = cm.Publish(pubCtx, &paho.Publish{
				Topic: availTopic, Payload: []byte("online"), QoS: 1, Retain: true,
			})
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqttbridge: connection error", "err", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: b.cfg.ClientID},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm
	b.started.Store(true)

	for _, evt := range hookEvents {
		evt := evt
		bus.On(evt, func(cbCtx context.Context, data any) { b.mirror(cbCtx, evt, data) })
	}

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqttbridge: initial connection timed out, will retry in background", "err", err)
	}
	return nil
}

type snapshot struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
	At    int64  `json:"at"`
}

// mirror publishes a retained JSON snapshot for evt's running count.
func (b *Bridge) mirror(ctx context.Context, evt hooks.Event, _ any) {
	if b.cm == nil {
		return
	}
	count := b.counters.bump(evt)
	payload, err := json.Marshal(snapshot{Event: string(evt), Count: count, At: time.Now().Unix()})
	if err != nil {
		return
	}
	topic := b.cfg.TopicBase + "/hooks/" + string(evt)
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := b.cm.Publish(pubCtx, &paho.Publish{Topic: topic, Payload: payload, QoS: 0, Retain: true}); err != nil {
		b.logger.Warn("mqttbridge: publish failed", "topic", topic, "err", err)
	}
}

// Stop publishes the offline availability message and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	_, _ = b.cm.Publish(ctx, &paho.Publish{
		Topic: b.cfg.TopicBase + "/availability", Payload: []byte("offline"), QoS: 1, Retain: true,
	})
	return b.cm.Disconnect(ctx)
}

// Connected reports whether Start has completed its setup (not
// necessarily currently connected — autopaho reconnects transparently).
func (b *Bridge) Connected() bool { return b.started.Load() }
