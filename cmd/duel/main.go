package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"duel/internal/config"
	"duel/internal/game"
)

func main() {
	configPath := flag.String("config", os.Getenv("DUEL_CONFIG"), "path to TOML config file (optional)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	dsn := flag.String("db", "", "archive DSN, overrides store.dsn")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := game.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app, err := game.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		logger.Error("close error", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("server error", zap.Error(runErr))
	}
	logger.Info("shutdown complete")
}
