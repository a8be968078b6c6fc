package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/auth"
	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/store"
	transporthttp "github.com/vovakirdan/pulse-server/internal/transport/http"
)

// App wires together storage, the coordinator and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	coord           *core.Coordinator
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("driver", cfg.StorageDriver).
		Str("path", store.Location(cfg)).
		Msg("store initialized")

	admin, err := auth.NewAdmin(cfg.AdminUser, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init admin credential: %w", err)
	}
	if !admin.Enabled() {
		logger.Warn().Msg("admin password not configured, reset endpoint disabled")
	}

	coord := core.NewCoordinator(st, CoordinatorOptions(cfg), logger)
	server := transporthttp.NewServer(coord, admin, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		coord:           coord,
		store:           st,
		log:             logger,
	}, nil
}

// CoordinatorOptions maps configuration onto coordinator options.
func CoordinatorOptions(cfg *config.Config) core.Options {
	return core.Options{
		Room:           cfg.Room,
		SendBuffer:     cfg.SendBuffer,
		StorageTimeout: cfg.StorageTimeout,
		StorageRetries: cfg.StorageRetries,
		RetryBackoff:   cfg.StorageRetryBackoff,
		MaxChannels:    cfg.MaxChannels,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	coordCtx, stopCoord := context.WithCancel(ctx)
	defer stopCoord()
	go a.coord.Run(coordCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopCoord()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked websocket connections are not tracked by Shutdown; the
		// coordinator drain closes their outbound queues instead.
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup waits for the coordinator to drain, then closes the store.
func (a *App) cleanup() {
	select {
	case <-a.coord.Done():
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Msg("coordinator did not stop in time")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
