// Command hive is the multi-strategy trading orchestrator: one long-running
// process hosting N independently configured strategies against a shared
// exchange connection, with an HTTP control plane for the manager console.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 unrecoverable
// runtime error.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivebot/hive/internal/app"
	"github.com/hivebot/hive/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to TOML configuration file")
	port := flag.Int("port", 0, "control plane HTTP port (overrides config)")
	trading := flag.Bool("trading", false, "enable live order submission")
	privateKey := flag.String("private-key", "", "delegated agent key (hex; overrides config)")
	network := flag.String("network", "", "venue network: mainnet or testnet (overrides config)")
	dashboardURL := flag.String("dashboard-url", "", "manager dashboard base URL (overrides config)")
	monitor := flag.Bool("monitor", false, "read-only mode: log order intents instead of submitting")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Flags override both the file and environment.
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *privateKey != "" {
		cfg.Wallet.PrivateKey = *privateKey
	}
	if *network != "" {
		cfg.Network = *network
	}
	if *dashboardURL != "" {
		cfg.DashboardURL = *dashboardURL
	}
	if *monitor {
		cfg.Monitor = true
	}
	if *trading {
		cfg.Monitor = false
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("hive starting",
		slog.String("network", cfg.Network),
		slog.Bool("monitor", cfg.Monitor),
		slog.Int("port", cfg.Server.Port),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hive exited with error", slog.String("error", err.Error()))
		return 2
	}

	logger.Info("hive stopped")
	return 0
}
