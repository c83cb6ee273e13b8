// Package main is the entry point for melocore.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/melocore/internal/bot"
	"github.com/nugget/melocore/internal/buildinfo"
	"github.com/nugget/melocore/internal/config"
	"github.com/nugget/melocore/internal/dispatch"
	"github.com/nugget/melocore/internal/forge"
	"github.com/nugget/melocore/internal/mqttbridge"
	"github.com/nugget/melocore/internal/transport"
	"github.com/nugget/melocore/plugins"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	runServe(logger, *configPath)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting melocore", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		logger.Info("config loaded", "path", cfgPath, "transport_mode", cfg.Transport.Mode)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	conn, err := buildConnector(cfg, logger)
	if err != nil {
		logger.Error("failed to configure transport", "error", err)
		os.Exit(1)
	}

	b := bot.New(bot.Config{
		Name:      "melocore",
		Transport: conn,
		Logger:    logger,
		Cooldown:  cfg.Transport.Cooldown(),
	})

	roles := dispatch.Roles{
		Owner:     cfg.Roles.Owner,
		SUs:       toSet(cfg.Roles.SUs),
		Whitelist: toSet(cfg.Roles.Whitelist),
		Blacklist: toSet(cfg.Roles.Blacklist),
		Groups:    toSet(cfg.Roles.Groups),
	}

	plugins.RegisterEcho(b.Dispatcher())
	plugins.RegisterConversation(b.Dispatcher())
	plugins.RegisterHelp(b.Dispatcher())

	if cfg.Forge.Configured() {
		provider, err := forge.NewProvider(forge.Config{
			Token: cfg.Forge.Token,
			Owner: cfg.Forge.Owner,
			Repo:  cfg.Forge.Repo,
		}, logger)
		if err != nil {
			logger.Error("failed to configure forge provider", "error", err)
			os.Exit(1)
		}
		repo := cfg.Forge.Owner + "/" + cfg.Forge.Repo
		plugins.RegisterForge(b.Dispatcher(), provider, repo, roles)
		logger.Info("forge plugin enabled", "repo", repo)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bridge *mqttbridge.Bridge
	if cfg.MQTTBridge.Enabled {
		bridge = mqttbridge.New(mqttbridge.Config{
			BrokerURL: cfg.MQTTBridge.BrokerURL,
			ClientID:  cfg.MQTTBridge.ClientID,
			TopicBase: cfg.MQTTBridge.TopicBase,
			Username:  cfg.MQTTBridge.Username,
			Password:  cfg.MQTTBridge.Password,
		}, logger)
		if err := bridge.Start(ctx, b.Hooks()); err != nil {
			logger.Error("failed to start mqtt bridge", "error", err)
			os.Exit(1)
		}
		logger.Info("mqtt bridge enabled", "broker", cfg.MQTTBridge.BrokerURL)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*cfg.Transport.Cooldown())
		defer shutdownCancel()
		if bridge != nil {
			_ = bridge.Stop(shutdownCtx)
		}
		if err := b.Close(shutdownCtx); err != nil {
			logger.Error("shutdown: close error", "error", err)
		}
		cancel()
	}()

	if err := b.Run(ctx); err != nil {
		logger.Error("bot run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("melocore stopped")
}

// buildConnector constructs the transport.Connector realization selected
// by cfg.Transport.Mode, per SPEC_FULL §4.1/§6.
func buildConnector(cfg *config.Config, logger *slog.Logger) (*transport.Connector, error) {
	var dialer transport.Dialer
	switch cfg.Transport.Mode {
	case "ws-client":
		dialer = transport.NewWSClientDialer(cfg.Transport.WSClient.URL, cfg.Transport.WSClient.Token)
	case "ws-server":
		dialer = transport.NewWSServerDialer(
			fmt.Sprintf("%s:%d", cfg.Transport.WSServer.Address, cfg.Transport.WSServer.Port),
			cfg.Transport.WSServer.Token,
		)
	case "http-duplex":
		dialer = transport.NewHTTPDuplexDialer(
			cfg.Transport.HTTPDuplex.PostURL,
			fmt.Sprintf("%s:%d", cfg.Transport.HTTPDuplex.Address, cfg.Transport.HTTPDuplex.Port),
			cfg.Transport.HTTPDuplex.Secret,
		)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}

	backoff := transport.DefaultBackoff()
	if cfg.Transport.MaxRetry > 0 {
		backoff.MaxRetries = cfg.Transport.MaxRetry
	}

	conn := transport.New(transport.Config{
		Name:         cfg.Transport.Mode,
		Dialer:       dialer,
		CooldownTime: cfg.Transport.Cooldown(),
		Backoff:      backoff,
		Logger:       logger,
	})
	return conn, nil
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
