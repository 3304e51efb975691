package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// MarketDirectory implements domain.MarketDirectory. The full snapshot lives
// in a JSONB column; the filterable fields are copied into their own columns.
type MarketDirectory struct {
	pool *pgxpool.Pool
}

var _ domain.MarketDirectory = (*MarketDirectory)(nil)

// NewMarketDirectory creates a MarketDirectory backed by pool.
func NewMarketDirectory(pool *pgxpool.Pool) *MarketDirectory {
	return &MarketDirectory{pool: pool}
}

const upsertMarket = `
	INSERT INTO markets (
		id, question, parent_market_id, creator, resolved,
		winning_outcome, total_staked, expiry_time, snapshot, created_at, updated_at
	) VALUES (
		$1, $2, NULLIF($3, ''), $4, $5,
		NULLIF($6, ''), $7::numeric, $8, $9, $10, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		resolved        = EXCLUDED.resolved,
		winning_outcome = EXCLUDED.winning_outcome,
		total_staked    = EXCLUDED.total_staked,
		snapshot        = EXCLUDED.snapshot,
		updated_at      = NOW()`

func upsertArgs(m domain.MarketState) ([]any, error) {
	snapshot, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal market %s: %w", m.MarketID, err)
	}
	return []any{
		m.MarketID, m.Question, m.ParentMarketID, string(m.Creator), m.Resolved,
		m.WinningOutcome, m.TotalStaked.String(), m.ExpiryTime, snapshot, m.CreatedAt,
	}, nil
}

// Upsert inserts or refreshes one market.
func (d *MarketDirectory) Upsert(ctx context.Context, m domain.MarketState) error {
	args, err := upsertArgs(m)
	if err != nil {
		return err
	}
	if _, err := d.pool.Exec(ctx, upsertMarket, args...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

// UpsertBatch inserts or refreshes many markets in one round trip.
func (d *MarketDirectory) UpsertBatch(ctx context.Context, markets []domain.MarketState) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := upsertArgs(m)
		if err != nil {
			return err
		}
		batch.Queue(upsertMarket, args...)
	}

	br := d.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanSnapshot(row pgx.Row) (domain.MarketState, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.MarketState{}, err
	}
	var m domain.MarketState
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.MarketState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return m, nil
}

// GetByID returns the snapshot of market id.
func (d *MarketDirectory) GetByID(ctx context.Context, id string) (domain.MarketState, error) {
	m, err := scanSnapshot(d.pool.QueryRow(ctx, `SELECT snapshot FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketState{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets matching filter, newest first.
func (d *MarketDirectory) List(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketState, error) {
	query := `SELECT snapshot FROM markets WHERE 1=1`
	var args []any
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	if filter.ParentID != "" {
		args = append(args, filter.ParentID)
		query += fmt.Sprintf(" AND parent_market_id = $%d", len(args))
	}
	query, args = pageClause(query, args, "created_at", opts)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MarketState, error) {
		return scanSnapshot(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// Count returns the number of markets in the directory.
func (d *MarketDirectory) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
