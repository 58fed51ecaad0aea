package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AudioRooms/internal/adapters/coordinator"
	"github.com/dkeye/AudioRooms/internal/adapters/events"
	router "github.com/dkeye/AudioRooms/internal/adapters/http"
	"github.com/dkeye/AudioRooms/internal/adapters/memory"
	"github.com/dkeye/AudioRooms/internal/adapters/permission"
	"github.com/dkeye/AudioRooms/internal/app"
	"github.com/dkeye/AudioRooms/internal/config"
	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	gate, closeGate, err := newGate(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build permission gate")
	}
	defer closeGate()

	manager := app.NewCallSessionManager(
		newClientFactory(cfg),
		gate,
		app.WithPollInterval(cfg.PollInterval),
		app.WithCallType(domain.CallType(cfg.CallType)),
	)

	hub := events.NewHub()
	hub.Attach(manager)
	defer hub.Close()

	go initialize(ctx, cfg, manager)

	r := router.SetupRouter(ctx, cfg, manager, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("AudioRooms server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := manager.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("call manager close")
	}
	log.Info().Msg("Server exited gracefully")
}

// initialize connects the user and joins cfg.AutoJoin when set. Failures
// are logged; the HTTP API stays up so an operator can retry a join.
func initialize(ctx context.Context, cfg *config.Config, manager *app.CallSessionManager) {
	creds, err := cfg.Credentials()
	if err != nil {
		log.Error().Err(err).Msg("invalid credentials")
		return
	}
	if err := manager.Initialize(ctx, creds); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("initialize failed")
		}
		return
	}
	if cfg.AutoJoin == "" {
		return
	}
	if err := manager.JoinCall(ctx, cfg.AutoJoin); err != nil {
		log.Error().Err(err).Str("call_id", cfg.AutoJoin).Msg("auto join failed")
	}
}

func newClientFactory(cfg *config.Config) core.ClientFactory {
	if cfg.Provider == config.ProviderCoordinator {
		return func() core.SessionClient {
			return coordinator.New(coordinator.Options{BaseURL: cfg.BaseURL, WSURL: cfg.WSURL})
		}
	}
	provider := memory.NewProvider()
	return func() core.SessionClient { return provider }
}

func newGate(cfg *config.Config) (core.PermissionGate, func(), error) {
	if cfg.Permission == config.PermissionFile {
		g, err := permission.NewFileGate(cfg.PermissionDir)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	}
	if cfg.PermissionGranted {
		return permission.NewStatic(domain.PermissionMicrophone), func() {}, nil
	}
	return permission.NewStatic(), func() {}, nil
}
