package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/market"
)

// MarketService serves market operations and snapshot queries.
type MarketService struct {
	runner    Runner
	states    domain.StateStore
	directory domain.MarketDirectory
	cache     domain.MarketCache
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. directory and cache may be nil;
// listing then scans the state store and reads go straight to the host.
func NewMarketService(
	runner Runner,
	states domain.StateStore,
	directory domain.MarketDirectory,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		runner:    runner,
		states:    states,
		directory: directory,
		cache:     cache,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// Create opens a market with caller as creator.
func (s *MarketService) Create(ctx context.Context, caller domain.InstanceID, op domain.CreateMarket) error {
	if err := s.runner.Execute(ctx, domain.MarketInstance(op.MarketID), caller, op); err != nil {
		return fmt.Errorf("market_service: create %s: %w", op.MarketID, err)
	}
	return nil
}

// PlaceBet stakes amount on outcome of market id.
func (s *MarketService) PlaceBet(ctx context.Context, caller domain.InstanceID, id, outcome string, amount domain.Amount) error {
	op := domain.PlaceBet{Outcome: outcome, Amount: amount}
	if err := s.runner.Execute(ctx, domain.MarketInstance(id), caller, op); err != nil {
		return fmt.Errorf("market_service: bet on %s: %w", id, err)
	}
	return nil
}

// Resolve settles market id. Only the market creator may do this.
func (s *MarketService) Resolve(ctx context.Context, caller domain.InstanceID, id, outcome string) error {
	op := domain.ResolveMarket{WinningOutcome: outcome}
	if err := s.runner.Execute(ctx, domain.MarketInstance(id), caller, op); err != nil {
		return fmt.Errorf("market_service: resolve %s: %w", id, err)
	}
	return nil
}

// Get returns the snapshot of market id, reading through the cache.
func (s *MarketService) Get(ctx context.Context, id string) (domain.MarketState, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	c, err := loadAs[*market.Contract](ctx, s.runner, domain.MarketInstance(id))
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	m := c.Snapshot()
	if !m.Exists() {
		return domain.MarketState{}, fmt.Errorf("market_service: get %s: %w", id, domain.ErrNotFound)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// Odds returns the odds table of market id.
func (s *MarketService) Odds(ctx context.Context, id string) ([]domain.OutcomeOdds, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return market.Odds(m), nil
}

// Bets returns the bets of bettor on market id.
func (s *MarketService) Bets(ctx context.Context, id string, bettor domain.InstanceID) ([]domain.PlacedBet, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return market.BetsBy(m, bettor), nil
}

// List returns markets matching filter, newest first.
func (s *MarketService) List(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketState, error) {
	if s.directory != nil {
		markets, err := s.directory.List(ctx, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("market_service: list: %w", err)
		}
		return markets, nil
	}

	ids, err := s.states.List(ctx, market.Kind)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	var out []domain.MarketState
	for _, id := range ids {
		c, err := loadAs[*market.Contract](ctx, s.runner, id)
		if err != nil {
			return nil, fmt.Errorf("market_service: list: %w", err)
		}
		if m := c.Snapshot(); m.Exists() && matchesFilter(m, filter, opts) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MarketID < out[j].MarketID
	})
	return paginate(out, opts), nil
}

func matchesFilter(m domain.MarketState, f domain.MarketFilter, opts domain.ListOpts) bool {
	if f.Resolved != nil && m.Resolved != *f.Resolved {
		return false
	}
	if f.ParentID != "" && m.ParentMarketID != f.ParentID {
		return false
	}
	if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](xs []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(xs) {
		return []T{}
	}
	xs = xs[opts.Offset:]
	if opts.Limit > 0 && len(xs) > opts.Limit {
		xs = xs[:opts.Limit]
	}
	return xs
}

type batchUpserter interface {
	UpsertBatch(ctx context.Context, markets []domain.MarketState) error
}

// Reindex rebuilds the directory from committed market state and returns the
// number of markets written.
func (s *MarketService) Reindex(ctx context.Context) (int, error) {
	if s.directory == nil {
		return 0, nil
	}
	ids, err := s.states.List(ctx, market.Kind)
	if err != nil {
		return 0, fmt.Errorf("market_service: reindex: %w", err)
	}
	markets := make([]domain.MarketState, 0, len(ids))
	for _, id := range ids {
		c, err := loadAs[*market.Contract](ctx, s.runner, id)
		if err != nil {
			return 0, fmt.Errorf("market_service: reindex: %w", err)
		}
		if m := c.Snapshot(); m.Exists() {
			markets = append(markets, m)
		}
	}

	if b, ok := s.directory.(batchUpserter); ok {
		if err := b.UpsertBatch(ctx, markets); err != nil {
			return 0, fmt.Errorf("market_service: reindex: %w", err)
		}
	} else {
		for _, m := range markets {
			if err := s.directory.Upsert(ctx, m); err != nil {
				return 0, fmt.Errorf("market_service: reindex %s: %w", m.MarketID, err)
			}
		}
	}
	s.logger.InfoContext(ctx, "directory reindexed", slog.Int("markets", len(markets)))
	return len(markets), nil
}
