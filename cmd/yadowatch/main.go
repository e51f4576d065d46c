package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/yadowatch/monitor"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := env("CONFIG", "config.yaml")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := monitor.LoadConfig(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	svc, err := monitor.New(cfg, logger)
	if err != nil {
		logger.Error("service init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("yadowatch starting", "sources", len(cfg.Sources), "addr", cfg.ListenAddr)
	if err := svc.Run(ctx); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("yadowatch stopped")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
