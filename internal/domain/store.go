package domain

import (
	"context"
	"time"
)

// StateRecord is the persisted state of one instance. Version increases by
// one on every committed step.
type StateRecord struct {
	Instance InstanceID
	Kind     string
	Version  int64
	State    []byte
	// Outbox holds signed envelopes committed with the state but not yet
	// handed to the transport, oldest first.
	Outbox []Envelope
	// Seq is the sequence number of the last envelope this instance emitted.
	Seq uint64
	// Inbox maps each sender to the highest envelope Seq applied from it.
	Inbox     map[InstanceID]uint64
	UpdatedAt time.Time
}

// StateStore persists instance state. Save fails with ErrVersionConflict when
// rec.Version is not exactly one above the stored version.
type StateStore interface {
	Load(ctx context.Context, id InstanceID) (StateRecord, error)
	Save(ctx context.Context, rec StateRecord) error
	List(ctx context.Context, kind string) ([]InstanceID, error)
	// Undelivered returns the instances whose outbox is not empty.
	Undelivered(ctx context.Context) ([]InstanceID, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// MarketDirectory is a queryable projection of market snapshots.
type MarketDirectory interface {
	Upsert(ctx context.Context, m MarketState) error
	GetByID(ctx context.Context, id string) (MarketState, error)
	List(ctx context.Context, filter MarketFilter, opts ListOpts) ([]MarketState, error)
	Count(ctx context.Context) (int64, error)
}
