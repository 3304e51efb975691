package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// StateStore implements domain.StateStore with one JSONB row per instance.
// Saves are optimistic: a row is only written when its stored version is
// exactly one below the new record's.
type StateStore struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a StateStore backed by pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Load returns the committed record of id.
func (s *StateStore) Load(ctx context.Context, id domain.InstanceID) (domain.StateRecord, error) {
	rec := domain.StateRecord{Instance: id}
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT kind, version, state, outbox, seq, inbox, updated_at FROM instance_state WHERE instance = $1`, string(id),
	).Scan(&rec.Kind, &rec.Version, &rec.State, &rec.Outbox, &seq, &rec.Inbox, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StateRecord{}, fmt.Errorf("postgres: state %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StateRecord{}, fmt.Errorf("postgres: load state %s: %w", id, err)
	}
	rec.Seq = uint64(seq)
	return rec, nil
}

// Save writes rec if no concurrent writer got there first.
func (s *StateStore) Save(ctx context.Context, rec domain.StateRecord) error {
	var (
		query string
		args  []any
	)
	outbox := rec.Outbox
	if outbox == nil {
		outbox = []domain.Envelope{}
	}
	inbox := rec.Inbox
	if inbox == nil {
		inbox = map[domain.InstanceID]uint64{}
	}
	args = []any{string(rec.Instance), rec.Kind, rec.Version, rec.State, outbox, int64(rec.Seq), inbox, rec.UpdatedAt}
	if rec.Version == 1 {
		query = `
			INSERT INTO instance_state (instance, kind, version, state, outbox, seq, inbox, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (instance) DO NOTHING`
	} else {
		query = `
			UPDATE instance_state
			SET kind = $2, version = $3, state = $4, outbox = $5, seq = $6, inbox = $7, updated_at = $8
			WHERE instance = $1 AND version = $9`
		args = append(args, rec.Version-1)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: save state %s: %w", rec.Instance, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("postgres: save state %s version %d: %w", rec.Instance, rec.Version, domain.ErrVersionConflict)
	}
	return nil
}

// List returns the ids of instances of kind, sorted.
func (s *StateStore) List(ctx context.Context, kind string) ([]domain.InstanceID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instance FROM instance_state WHERE kind = $1 ORDER BY instance`, kind)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s instances: %w", kind, err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InstanceID, error) {
		var id string
		err := row.Scan(&id)
		return domain.InstanceID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s instances: %w", kind, err)
	}
	return ids, nil
}

// Undelivered returns the ids of instances with a pending outbox.
func (s *StateStore) Undelivered(ctx context.Context) ([]domain.InstanceID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instance FROM instance_state WHERE jsonb_array_length(outbox) > 0 ORDER BY instance`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list undelivered outboxes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InstanceID, error) {
		var id string
		err := row.Scan(&id)
		return domain.InstanceID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan undelivered outboxes: %w", err)
	}
	return ids, nil
}
