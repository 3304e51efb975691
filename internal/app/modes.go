package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/pipeline"
	"github.com/alanyoungcy/cascademarket/internal/server"
	"github.com/alanyoungcy/cascademarket/internal/server/handler"
)

const shutdownTimeout = 5 * time.Second

// bootstrap initializes the registry and spawn engine with the operator as
// admin and rebuilds the market directory. Instances already initialized by
// an earlier run are left alone.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	op := deps.Operator.Identity()

	if err := deps.Registry.Initialize(ctx, op, op); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("initialize registry: %w", err)
	}
	if err := deps.Spawner.Initialize(ctx, op, op); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("initialize spawn engine: %w", err)
	}

	n, err := deps.Markets.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("reindex markets: %w", err)
	}
	a.logger.InfoContext(ctx, "bootstrap complete",
		slog.String("registry", string(deps.Instances.Registry)),
		slog.String("engine", string(deps.Instances.Engine)),
		slog.Int("markets_indexed", n),
	)
	return nil
}

// NodeMode consumes the envelope transport and sweeps pending spawns.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNode(ctx, g, deps, nil)
	return g.Wait()
}

// ServerMode runs a node plus the HTTP API and websocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNode(ctx, g, deps, nil)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the server plus the daily S3 archive when it is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.Bool("archive", deps.Archiver != nil))
	g, ctx := errgroup.WithContext(ctx)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Registry, deps.Spawner, deps.Archiver, nil, a.logger)
	}
	a.startNode(ctx, g, deps, archiver)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startNode adds the transport consumer and the pipeline to g. archiver may
// be nil.
func (a *App) startNode(ctx context.Context, g *errgroup.Group, deps *Dependencies, archiver *pipeline.Archiver) {
	g.Go(func() error {
		err := deps.Transport.Run(ctx, deps.Host.Dispatch, a.cfg.Runtime.RetryInterval.Duration)
		return ignoreCanceled(ctx, err)
	})

	sweeper := pipeline.NewSweeper(deps.Spawner, deps.Host, deps.Operator.Identity(), a.logger)
	orch := pipeline.NewOrchestrator(sweeper, archiver,
		a.cfg.Runtime.SweepInterval.Duration, a.cfg.Archive.Interval.Duration, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startHTTPServer adds the websocket hub and the API server to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Hub != nil {
		g.Go(func() error {
			return ignoreCanceled(ctx, deps.Hub.Run(ctx))
		})
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Markets:  handler.NewMarketHandler(deps.Markets, a.logger),
		Registry: handler.NewRegistryHandler(deps.Registry, a.logger),
		Spawn:    handler.NewSpawnHandler(deps.Spawner, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
	}, handlers, deps.Hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats the group's own cancellation as a clean stop.
func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
