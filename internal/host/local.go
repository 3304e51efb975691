package host

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// LocalTransport is an in-process FIFO queue of envelopes. A single consumer
// applies them in delivery order.
type LocalTransport struct {
	mu      sync.Mutex
	queue   []domain.Envelope
	ready   chan struct{}
	drainMu sync.Mutex
}

var _ domain.Transport = (*LocalTransport)(nil)

// NewLocalTransport returns an empty queue.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{ready: make(chan struct{}, 1)}
}

// Deliver appends env to the queue.
func (t *LocalTransport) Deliver(_ context.Context, env domain.Envelope) error {
	t.mu.Lock()
	t.queue = append(t.queue, env)
	t.mu.Unlock()

	select {
	case t.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued envelopes.
func (t *LocalTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Drain applies queued envelopes, including ones queued while draining,
// until the queue is empty. On a handler error the envelope stays at the head
// of the queue and the error is returned.
func (t *LocalTransport) Drain(ctx context.Context, handler domain.EnvelopeHandler) (int, error) {
	t.drainMu.Lock()
	defer t.drainMu.Unlock()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return n, nil
		}
		env := t.queue[0]
		t.mu.Unlock()

		if err := handler(ctx, env); err != nil {
			return n, fmt.Errorf("host: local transport: envelope %s: %w", env.ID, err)
		}

		t.mu.Lock()
		t.queue = t.queue[1:]
		t.mu.Unlock()
		n++
	}
}

// Run drains the queue whenever envelopes arrive until ctx is cancelled.
func (t *LocalTransport) Run(ctx context.Context, handler domain.EnvelopeHandler, retry time.Duration) error {
	for {
		if _, err := t.Drain(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ready:
		}
	}
}

// MemoryStateStore keeps instance state in memory.
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[domain.InstanceID]domain.StateRecord
}

var _ domain.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[domain.InstanceID]domain.StateRecord)}
}

// Load returns the record of id or domain.ErrNotFound.
func (s *MemoryStateStore) Load(_ context.Context, id domain.InstanceID) (domain.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.StateRecord{}, fmt.Errorf("memory: state %s: %w", id, domain.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// Save stores rec if its version directly follows the stored one.
func (s *MemoryStateStore) Save(_ context.Context, rec domain.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.records[rec.Instance]
	if rec.Version != cur.Version+1 {
		return fmt.Errorf("memory: state %s version %d after %d: %w", rec.Instance, rec.Version, cur.Version, domain.ErrVersionConflict)
	}
	s.records[rec.Instance] = cloneRecord(rec)
	return nil
}

// Undelivered returns the ids of instances with a pending outbox, sorted.
func (s *MemoryStateStore) Undelivered(_ context.Context) ([]domain.InstanceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []domain.InstanceID
	for id, rec := range s.records {
		if len(rec.Outbox) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func cloneRecord(rec domain.StateRecord) domain.StateRecord {
	rec.State = append([]byte(nil), rec.State...)
	rec.Outbox = slices.Clone(rec.Outbox)
	rec.Inbox = maps.Clone(rec.Inbox)
	return rec
}

// List returns the ids of instances of the given kind, sorted.
func (s *MemoryStateStore) List(_ context.Context, kind string) ([]domain.InstanceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []domain.InstanceID
	for id, rec := range s.records {
		if rec.Kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// MemoryAuditStore keeps the audit log in memory.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

var _ domain.AuditStore = (*MemoryAuditStore)(nil)

// NewMemoryAuditStore returns an empty audit log.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{now: time.Now}
}

// Log appends an entry.
func (s *MemoryAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *MemoryAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
