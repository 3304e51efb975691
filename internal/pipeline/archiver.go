package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// TreeSource lists registered markets.
type TreeSource interface {
	Markets(ctx context.Context) ([]domain.MarketInfo, error)
}

// SpawnSource lists the pending-spawn queue.
type SpawnSource interface {
	Pending(ctx context.Context, unprocessedOnly bool) ([]domain.PendingSpawn, error)
}

// ArchiveSink writes one day's export per kind. Implementations skip days
// already written and return the number of records stored.
type ArchiveSink interface {
	ArchiveRegistry(ctx context.Context, day time.Time, markets []domain.MarketInfo) (int64, error)
	ArchiveSpawns(ctx context.Context, day time.Time, spawns []domain.PendingSpawn) (int64, error)
}

// Archiver exports the registry tree and the spawn audit trail to cold
// storage once per UTC day.
type Archiver struct {
	tree   TreeSource
	spawns SpawnSource
	sink   ArchiveSink
	clock  func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an Archiver. A nil clock uses time.Now.
func NewArchiver(tree TreeSource, spawns SpawnSource, sink ArchiveSink, clock func() time.Time, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = time.Now
	}
	return &Archiver{
		tree:   tree,
		spawns: spawns,
		sink:   sink,
		clock:  clock,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run exports today's snapshot. The first successful run of a day wins.
func (a *Archiver) Run(ctx context.Context) error {
	day := a.clock().UTC()

	markets, err := a.tree.Markets(ctx)
	if err != nil {
		return fmt.Errorf("archiver: list registry: %w", err)
	}
	nMarkets, err := a.sink.ArchiveRegistry(ctx, day, markets)
	if err != nil {
		return fmt.Errorf("archiver: registry: %w", err)
	}

	spawns, err := a.spawns.Pending(ctx, false)
	if err != nil {
		return fmt.Errorf("archiver: list spawns: %w", err)
	}
	nSpawns, err := a.sink.ArchiveSpawns(ctx, day, spawns)
	if err != nil {
		return fmt.Errorf("archiver: spawns: %w", err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.String("day", day.Format(time.DateOnly)),
		slog.Int64("markets_archived", nMarkets),
		slog.Int64("spawns_archived", nSpawns),
	)
	return nil
}

// RunLoop archives immediately and then every interval until ctx is
// cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
