package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
	"github.com/alanyoungcy/cascademarket/internal/market"
)

// Projector keeps the market directory and snapshot cache in step with
// committed market state. Either collaborator may be nil.
type Projector struct {
	directory domain.MarketDirectory
	cache     domain.MarketCache
	logger    *slog.Logger
}

var _ host.Observer = (*Projector)(nil)

// NewProjector creates a Projector.
func NewProjector(directory domain.MarketDirectory, cache domain.MarketCache, logger *slog.Logger) *Projector {
	return &Projector{
		directory: directory,
		cache:     cache,
		logger:    logger.With(slog.String("component", "projector")),
	}
}

// Committed implements host.Observer.
func (p *Projector) Committed(ctx context.Context, c host.Commit) {
	mc, ok := c.Contract.(*market.Contract)
	if !ok {
		return
	}
	m := mc.Snapshot()

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, m.MarketID); err != nil {
			p.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("market_id", m.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.directory != nil {
		if err := p.directory.Upsert(ctx, m); err != nil {
			p.logger.ErrorContext(ctx, "directory upsert failed",
				slog.String("market_id", m.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
