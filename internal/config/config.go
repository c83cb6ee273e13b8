// Package config handles melocore configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/melocore/config.yaml, /config/config.yaml, /etc/melocore/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "melocore", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/melocore/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can override the search order
// without touching the developer's real config files.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all melocore configuration.
type Config struct {
	Transport  TransportConfig  `yaml:"transport"`
	Roles      RolesConfig      `yaml:"roles"`
	MQTTBridge MQTTBridgeConfig `yaml:"mqtt_bridge"`
	Forge      ForgeConfig      `yaml:"forge"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// TransportConfig selects and configures one of the three OneBot
// realizations from spec §4.1/§6. Exactly one of the Mode-selected
// sub-configs is consulted.
type TransportConfig struct {
	// Mode selects the realization: "ws-client", "ws-server", or "http-duplex".
	Mode string `yaml:"mode"`

	WSClient   WSClientConfig   `yaml:"ws_client"`
	WSServer   WSServerConfig   `yaml:"ws_server"`
	HTTPDuplex HTTPDuplexConfig `yaml:"http_duplex"`

	// CooldownMS is the minimum spacing between consecutive outbound
	// writes (spec's cd_time); default 200ms.
	CooldownMS int `yaml:"cooldown_ms"`
	// MaxRetry is the startup dial attempt cap (SPEC_FULL §3.1's two-phase
	// backoff), consulted only before the first successful link; 0 keeps
	// the connector's default of 10 attempts. After a link, a lost peer is
	// redialed indefinitely whatever this value is.
	MaxRetry int `yaml:"max_retry"`
}

// WSClientConfig dials a remote OneBot WebSocket endpoint.
type WSClientConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"` // sent as "Authorization: Bearer <token>"
}

// WSServerConfig accepts a single WebSocket peer.
type WSServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"` // expected in the peer's Authorization header
}

// HTTPDuplexConfig pairs an outbound HTTP client leg with an inbound
// HTTP listener leg.
type HTTPDuplexConfig struct {
	PostURL string `yaml:"post_url"` // outbound: POST {PostURL}/{action}
	Address string `yaml:"address"`  // inbound listener bind address
	Port    int    `yaml:"port"`
	Secret  string `yaml:"secret"` // HMAC-SHA1 shared secret for X-Signature verification
}

// RolesConfig defines the owner/su/whitelist/blacklist access tiers
// consumed by dispatch.AccessLevelChecker (SPEC_FULL §3.5, grounded on
// original utils/check.py's RoleCheckBuilder).
type RolesConfig struct {
	Owner     int64   `yaml:"owner"`
	SUs       []int64 `yaml:"sus"`
	Whitelist []int64 `yaml:"whitelist"`
	Blacklist []int64 `yaml:"blacklist"`
	Groups    []int64 `yaml:"groups"`
}

// MQTTBridgeConfig configures the optional MQTT mirror of lifecycle
// hooks (SPEC_FULL §3.6); off by default.
type MQTTBridgeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrokerURL  string `yaml:"broker_url"` // e.g. "mqtt://localhost:1883"
	ClientID   string `yaml:"client_id"`
	TopicBase  string `yaml:"topic_base"` // default "melocore"
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

// ForgeConfig configures the GitHub issue-filing example plugin
// (SPEC_FULL §2, internal/forge).
type ForgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
}

// Configured reports whether the forge plugin has enough information to
// authenticate against GitHub.
func (c ForgeConfig) Configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// Cooldown returns the configured outbound write spacing as a
// time.Duration, falling back to 200ms.
func (c TransportConfig) Cooldown() time.Duration {
	if c.CooldownMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.CooldownMS) * time.Millisecond
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MELOCORE_TOKEN}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Transport.Mode == "" {
		c.Transport.Mode = "ws-client"
	}
	if c.Transport.CooldownMS == 0 {
		c.Transport.CooldownMS = 200
	}
	if c.Transport.WSServer.Port == 0 {
		c.Transport.WSServer.Port = 8080
	}
	if c.Transport.HTTPDuplex.Port == 0 {
		c.Transport.HTTPDuplex.Port = 8081
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.MQTTBridge.TopicBase == "" {
		c.MQTTBridge.TopicBase = "melocore"
	}
	if c.MQTTBridge.ClientID == "" {
		c.MQTTBridge.ClientID = "melocore"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "ws-client":
		if c.Transport.WSClient.URL == "" {
			return fmt.Errorf("transport.ws_client.url is required when transport.mode is ws-client")
		}
	case "ws-server":
		if c.Transport.WSServer.Port < 1 || c.Transport.WSServer.Port > 65535 {
			return fmt.Errorf("transport.ws_server.port %d out of range (1-65535)", c.Transport.WSServer.Port)
		}
	case "http-duplex":
		if c.Transport.HTTPDuplex.PostURL == "" {
			return fmt.Errorf("transport.http_duplex.post_url is required when transport.mode is http-duplex")
		}
		if c.Transport.HTTPDuplex.Port < 1 || c.Transport.HTTPDuplex.Port > 65535 {
			return fmt.Errorf("transport.http_duplex.port %d out of range (1-65535)", c.Transport.HTTPDuplex.Port)
		}
	default:
		return fmt.Errorf("transport.mode %q must be one of ws-client, ws-server, http-duplex", c.Transport.Mode)
	}

	if c.MQTTBridge.Enabled && c.MQTTBridge.BrokerURL == "" {
		return fmt.Errorf("mqtt_bridge.broker_url is required when mqtt_bridge.enabled is true")
	}

	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development
// against a ws-client endpoint on localhost. All defaults are already
// applied.
func Default() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			Mode: "ws-client",
			WSClient: WSClientConfig{
				URL: "ws://127.0.0.1:6700",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
