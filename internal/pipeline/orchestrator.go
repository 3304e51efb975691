package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the sweeper and, when configured, the archiver.
type Orchestrator struct {
	sweeper         *Sweeper
	archiver        *Archiver
	sweepInterval   time.Duration
	archiveInterval time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(sweeper *Sweeper, archiver *Archiver, sweepInterval, archiveInterval time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sweeper:         sweeper,
		archiver:        archiver,
		sweepInterval:   sweepInterval,
		archiveInterval: archiveInterval,
		logger:          logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a loop fails. Cancellation is a clean
// stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Duration("sweep_interval", o.sweepInterval),
		slog.Bool("archive", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.sweeper.RunLoop(ctx, o.sweepInterval)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("sweeper: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
