// Package pipeline runs the node's scheduled background work: redelivering
// committed outboxes, promoting due pending spawns and archiving the market
// tree.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// PendingProcessor submits ProcessPendingSpawns to the spawn engine.
type PendingProcessor interface {
	ProcessPending(ctx context.Context, caller domain.InstanceID) error
}

// Maintainer is the host housekeeping the sweeper drives.
type Maintainer interface {
	// FlushOutboxes redelivers committed envelopes a failed transport left
	// behind.
	FlushOutboxes(ctx context.Context) (int, error)
	// PruneDedup forgets envelope ids older than the dedup window.
	PruneDedup() int
}

// Sweeper redelivers stranded outboxes and promotes due pending spawns on
// the operator's behalf.
type Sweeper struct {
	spawner  PendingProcessor
	maint    Maintainer
	operator domain.InstanceID
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. maint may be nil.
func NewSweeper(spawner PendingProcessor, maint Maintainer, operator domain.InstanceID, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		spawner:  spawner,
		maint:    maint,
		operator: operator,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run performs one sweep. Outboxes are flushed first so resolutions held back
// by a transport outage reach the spawn engine before it is swept.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.maint != nil {
		n, err := s.maint.FlushOutboxes(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "outbox flush incomplete",
				slog.Int("delivered", n),
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "redelivered outbox envelopes", slog.Int("count", n))
		}
	}
	if err := s.spawner.ProcessPending(ctx, s.operator); err != nil {
		return fmt.Errorf("sweeper: process pending: %w", err)
	}
	if s.maint != nil {
		if n := s.maint.PruneDedup(); n > 0 {
			s.logger.DebugContext(ctx, "pruned dedup entries", slog.Int("count", n))
		}
	}
	return nil
}

// RunLoop sweeps immediately and then every interval until ctx is cancelled.
// Failed sweeps are logged and retried on the next tick.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := s.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
