package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/relay"
	"github.com/parleychat/parley/internal/websocket"
	"github.com/parleychat/parley/ws"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "parley")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core := relay.New(logger)
	server := websocket.New(&websocket.ServerConfig{
		Addr:   cfg.Server.Address,
		Core:   core,
		Logger: logger,
		RateLimitConfig: &websocket.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
		},
		CheckOrigin: ws.AllowedOrigins(cfg.Server.Origins),
	})

	if err := server.Start(ctx); err != nil {
		logger.Error("server failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("chat relay listening", slog.String("address", cfg.Server.Address))

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
