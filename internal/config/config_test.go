package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("transport:\n  mode: ws-client\n  ws_client:\n    url: ws://localhost:6700\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error. Override
	// searchPathsFunc to avoid finding real config files on
	// developer/deploy machines (~/.config/melocore/config.yaml, etc.).
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("transport:\n  mode: ws-client\n  ws_client:\n    url: ws://localhost:6700\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("transport:\n  mode: ws-client\n  ws_client:\n    url: ws://localhost:6700\n    token: ${MELOCORE_TEST_TOKEN}\n"), 0600)
	os.Setenv("MELOCORE_TEST_TOKEN", "secret123")
	defer os.Unsetenv("MELOCORE_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Transport.WSClient.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.Transport.WSClient.Token, "secret123")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("transport:\n  mode: ws-client\n  ws_client:\n    url: ws://localhost:6700\nforge:\n  token: ghp_inline_test\n  owner: nugget\n  repo: melocore\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Forge.Token != "ghp_inline_test" {
		t.Errorf("forge.token = %q, want %q", cfg.Forge.Token, "ghp_inline_test")
	}
	if !cfg.Forge.Configured() {
		t.Error("expected forge to be configured")
	}
}

func TestValidate_TransportModeRequired(t *testing.T) {
	cfg := Default()
	cfg.Transport.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown transport.mode")
	}
}

func TestValidate_WSClientRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Transport.Mode = "ws-client"
	cfg.Transport.WSClient.URL = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing ws_client.url")
	}
	if !strings.Contains(err.Error(), "ws_client.url") {
		t.Errorf("error should mention ws_client.url, got: %v", err)
	}
}

func TestValidate_WSServerPortRange(t *testing.T) {
	cfg := Default()
	cfg.Transport.Mode = "ws-server"
	cfg.Transport.WSServer.Port = 70000
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for out-of-range ws_server.port")
	}
	if !strings.Contains(err.Error(), "ws_server.port") {
		t.Errorf("error should mention ws_server.port, got: %v", err)
	}
}

func TestValidate_HTTPDuplexRequiresPostURL(t *testing.T) {
	cfg := Default()
	cfg.Transport.Mode = "http-duplex"
	cfg.Transport.HTTPDuplex.PostURL = ""
	cfg.Transport.HTTPDuplex.Port = 8081
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing http_duplex.post_url")
	}
	if !strings.Contains(err.Error(), "http_duplex.post_url") {
		t.Errorf("error should mention http_duplex.post_url, got: %v", err)
	}
}

func TestValidate_MQTTBridgeRequiresBrokerWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.MQTTBridge.Enabled = true
	cfg.MQTTBridge.BrokerURL = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for enabled mqtt_bridge without broker_url")
	}
	if !strings.Contains(err.Error(), "mqtt_bridge.broker_url") {
		t.Errorf("error should mention mqtt_bridge.broker_url, got: %v", err)
	}
}

func TestValidate_MQTTBridgeDisabledSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.MQTTBridge.Enabled = false
	cfg.MQTTBridge.BrokerURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mqtt_bridge should skip validation, got: %v", err)
	}
}

func TestApplyDefaults_TransportMode(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if cfg.Transport.Mode != "ws-client" {
		t.Errorf("expected default transport.mode 'ws-client', got %q", cfg.Transport.Mode)
	}
	if cfg.Transport.CooldownMS != 200 {
		t.Errorf("expected default cooldown_ms 200, got %d", cfg.Transport.CooldownMS)
	}
}

func TestApplyDefaults_DataDir(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if cfg.DataDir != "./data" {
		t.Errorf("expected default data_dir './data', got %q", cfg.DataDir)
	}
}

func TestTransportConfig_Cooldown(t *testing.T) {
	var c TransportConfig
	if got := c.Cooldown().Milliseconds(); got != 200 {
		t.Errorf("zero-value cooldown = %dms, want 200ms", got)
	}
	c.CooldownMS = 50
	if got := c.Cooldown().Milliseconds(); got != 50 {
		t.Errorf("cooldown = %dms, want 50ms", got)
	}
}

func TestForgeConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ForgeConfig
		want bool
	}{
		{"all set", ForgeConfig{Token: "t", Owner: "o", Repo: "r"}, true},
		{"no token", ForgeConfig{Owner: "o", Repo: "r"}, false},
		{"no owner", ForgeConfig{Token: "t", Repo: "r"}, false},
		{"no repo", ForgeConfig{Token: "t", Owner: "o"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}
