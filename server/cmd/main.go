package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multiplayer/internal/config"
	"multiplayer/internal/logging"
	"multiplayer/server"
	"multiplayer/server/application"
	"multiplayer/server/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServer()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "err", err)
		os.Exit(1)
	}

	logger, shutdownLogging, err := logging.New(ctx, logging.Options{
		ServiceName:  "multiplayer-server",
		Level:        cfg.LogLevel,
		Writer:       os.Stdout,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up logging", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownLogging(flushCtx); err != nil {
			slog.ErrorContext(flushCtx, "log flush failed", "err", err)
		}
	}()

	// PubSub初期化
	pubsub := domain.NewSimplePubSub()

	// デフォルトルーム設定
	defaultRoomID := domain.RoomIDFromName("default")
	roomManager := domain.NewSimpleRoomManager(defaultRoomID)

	app := application.NewMultiplayerApplication(ctx, applicationConfig(cfg))
	room := domain.NewRoom(defaultRoomID, pubsub, app, cfg.TickInterval())
	go func() {
		if err := room.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "room error", "err", err)
		}
	}()

	options := domain.EndpointOptions{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
	}
	handler := server.Route(pubsub, roomManager, options, room)
	s := server.NewServer(cfg.ListenAddr(), handler)

	go func() {
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "err", err)
			stop()
		}
	}()
	slog.InfoContext(ctx, "server listening",
		"addr", cfg.ListenAddr(),
		"tickRate", cfg.TickRate,
		"ownershipActors", len(cfg.OwnershipActors),
	)

	<-ctx.Done()
	slog.InfoContext(ctx, "shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "graceful shutdown failed", "error", err)
		if err := s.Close(); err != nil {
			slog.ErrorContext(ctx, "forced close failed", "error", err)
		}
	}
	slog.InfoContext(ctx, "server shutdown complete")
}

func applicationConfig(cfg config.Server) application.Config {
	appCfg := application.DefaultConfig()
	appCfg.TickInterval = cfg.TickInterval()
	appCfg.OwnershipRadius = cfg.OwnershipRadius
	appCfg.DebugOverlay = cfg.DebugOverlay
	appCfg.Character.InitialAmmo = cfg.InitialAmmo
	appCfg.Character.FireCooldown = cfg.FireCooldown
	for _, l := range cfg.OwnershipActors {
		appCfg.ProximityActors = append(appCfg.ProximityActors, application.Vector3{X: l.X, Y: l.Y, Z: l.Z})
	}
	for _, l := range cfg.SpawnPoints {
		appCfg.SpawnPoints = append(appCfg.SpawnPoints, application.Vector3{X: l.X, Y: l.Y, Z: l.Z})
	}
	return appCfg
}
