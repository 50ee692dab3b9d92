package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crowdsignal/internal/market"
	"github.com/alanyoungcy/crowdsignal/internal/server"
	"github.com/alanyoungcy/crowdsignal/internal/server/handler"
	"github.com/alanyoungcy/crowdsignal/internal/server/ws"
	"github.com/alanyoungcy/crowdsignal/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServeMode loads the market store and serves the HTTP and WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode periodically uploads the stored market collection to S3.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 archiver not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startSnapshotter(ctx, g, deps)
	return g.Wait()
}

// FullMode serves the API and, when archiving is enabled, runs the
// snapshotter alongside it.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Archiver != nil {
		a.startSnapshotter(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "archive disabled, snapshotter not started")
	}
	return g.Wait()
}

// RestoreMode writes the newest snapshot back into the key-value store and
// exits.
func (a *App) RestoreMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting restore mode")

	if deps.Archiver == nil {
		return fmt.Errorf("restore mode: s3 archiver not configured")
	}

	snap := a.newSnapshotter(deps)
	s, count, err := snap.restore(ctx)
	if err != nil {
		return fmt.Errorf("restore mode: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot restored",
		slog.String("path", s.Path),
		slog.Time("taken", s.Taken),
		slog.Int("markets", count),
		slog.String("key", a.cfg.Storage.MarketsKey),
	)
	return nil
}

func (a *App) newSnapshotter(deps *Dependencies) *snapshotter {
	return newSnapshotter(
		deps.KV,
		a.cfg.Storage.MarketsKey,
		deps.Archiver,
		deps.LockManager,
		a.cfg.Archive.Interval.Duration,
		a.root,
	)
}

func (a *App) startSnapshotter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	snap := a.newSnapshotter(deps)
	g.Go(func() error {
		return snap.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	deps.Store.Initialize(ctx)
	userID := market.LoadOrCreateUserID(ctx, deps.KV, a.cfg.Storage.UserKey, a.root)

	// A nil *notify.Notifier must not reach the service as a non-nil
	// interface.
	var notifier service.EventNotifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	marketSvc := service.NewMarketService(deps.Store, deps.SignalBus, notifier, deps.Audit, a.root)

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Channel:        service.MarketsChannel,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
	}, a.root)

	srv := server.NewServer(server.Config{
		Host:          a.cfg.Server.Host,
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		RateLimit:     a.cfg.Server.RateLimit,
		RateWindow:    a.cfg.Server.RateWindow.Duration,
		DefaultUserID: userID,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.root),
		User:    handler.NewUserHandler(),
		Markets: handler.NewMarketHandler(marketSvc, a.root),
	}, hub, deps.RateLimiter, a.root)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)),
			slog.String("user_id", userID),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		// Let in-flight notifications finish before dependencies close.
		marketSvc.Wait()
		return err
	})
}
