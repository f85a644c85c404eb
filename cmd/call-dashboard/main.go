package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"call_dashboard/internal/app"
	"call_dashboard/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("call-dashboard", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML or JSON config file (default $CONFIG_PATH or config.yaml)")
	port := flags.String("port", "", "listen address, overrides HTTP_PORT")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.HTTPPort = *port
		if !strings.Contains(cfg.HTTPPort, ":") {
			cfg.HTTPPort = ":" + cfg.HTTPPort
		}
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("config loaded", "config", cfg.Redacted())

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := application.Run(ctx); err != nil {
		logger.Error("run", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("env", cfg.Environment)
}
