package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// EnvelopeAuth signs outgoing and verifies incoming envelopes.
type EnvelopeAuth interface {
	Sign(env domain.Envelope) string
	Verify(env domain.Envelope) error
}

// Commit describes one successfully applied step.
type Commit struct {
	Instance domain.InstanceID
	Caller   domain.InstanceID
	Kind     string
	// Input is the domain.Operation or domain.Message that was applied.
	Input    any
	Contract Contract
	Outbox   []domain.Envelope
	Version  int64
	At       time.Time
}

// Observer is notified after each commit. Observers must not block.
type Observer interface {
	Committed(ctx context.Context, c Commit)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Commit)

// Committed implements Observer.
func (f ObserverFunc) Committed(ctx context.Context, c Commit) { f(ctx, c) }

// Config tunes a Host.
type Config struct {
	// StrictErrors returns rejections to the submitter. When false,
	// rejections are logged and audited and the operation acknowledges
	// with nil.
	StrictErrors bool
	// LockTTL bounds how long a distributed instance lock is held.
	LockTTL time.Duration
	// DedupTTL is how long delivered envelope ids are remembered.
	DedupTTL time.Duration
}

// Option configures optional Host collaborators.
type Option func(*Host)

// WithAudit records every step in the audit log.
func WithAudit(a domain.AuditStore) Option { return func(h *Host) { h.audit = a } }

// WithLocks adds a distributed per-instance lock on top of the local one.
func WithLocks(l domain.LockManager) Option { return func(h *Host) { h.locks = l } }

// WithAuth signs outgoing and verifies incoming envelopes.
func WithAuth(a EnvelopeAuth) Option { return func(h *Host) { h.auth = a } }

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(h *Host) { h.observers = append(h.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(h *Host) { h.clock = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Host) { h.logger = l } }

// Host executes operations and messages against instances.
type Host struct {
	factory   Factory
	states    domain.StateStore
	transport domain.Transport
	audit     domain.AuditStore
	locks     domain.LockManager
	auth      EnvelopeAuth
	dedup     *Dedup
	observers []Observer
	clock     func() time.Time
	logger    *slog.Logger
	cfg       Config

	mu        sync.Mutex
	instances map[domain.InstanceID]*sync.Mutex
}

// New creates a Host.
func New(factory Factory, states domain.StateStore, transport domain.Transport, cfg Config, opts ...Option) *Host {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	h := &Host{
		factory:   factory,
		states:    states,
		transport: transport,
		dedup:     NewDedup(cfg.DedupTTL),
		clock:     time.Now,
		logger:    slog.Default(),
		cfg:       cfg,
		instances: make(map[domain.InstanceID]*sync.Mutex),
	}
	for _, o := range opts {
		o(h)
	}
	h.dedup.now = h.clock
	h.logger = h.logger.With(slog.String("component", "host"))
	return h
}

// Now returns the host clock's current time.
func (h *Host) Now() time.Time { return h.clock() }

// Execute applies op to target on behalf of caller. Rejections are returned
// in strict mode and swallowed otherwise; infrastructure failures are always
// returned.
func (h *Host) Execute(ctx context.Context, target, caller domain.InstanceID, op domain.Operation) error {
	err := h.run(ctx, target, caller, op.OperationKind(), op, origin{}, func(c Contract, rt Runtime) error {
		return c.ExecuteOperation(rt, op)
	})
	if err != nil && domain.IsRejection(err) && !h.cfg.StrictErrors {
		return nil
	}
	return err
}

// Dispatch applies an inbound envelope. Rejections are logged and audited but
// not returned: there is nobody to report them to. A non-nil error means the
// envelope was not applied and should be redelivered.
func (h *Host) Dispatch(ctx context.Context, env domain.Envelope) error {
	if h.auth != nil {
		if err := h.auth.Verify(env); err != nil {
			h.logger.WarnContext(ctx, "dropping envelope with bad signature",
				slog.String("envelope", env.ID),
				slog.String("from", string(env.From)),
				slog.String("error", err.Error()),
			)
			h.auditLog(ctx, "envelope_rejected", map[string]any{
				"envelope": env.ID, "from": string(env.From), "to": string(env.To), "kind": env.Kind, "error": err.Error(),
			})
			return nil
		}
	}
	if h.dedup.Seen(env.ID) {
		h.logger.DebugContext(ctx, "duplicate envelope", slog.String("envelope", env.ID))
		return nil
	}

	from := origin{sender: env.From, seq: env.Seq}
	var err error
	switch env.Type {
	case domain.EnvelopeOperation:
		op, derr := domain.DecodeOperation(env.Kind, env.Payload)
		if derr != nil {
			err = derr
			break
		}
		err = h.run(ctx, env.To, env.Caller, env.Kind, op, from, func(c Contract, rt Runtime) error {
			return c.ExecuteOperation(rt, op)
		})
	case domain.EnvelopeMessage:
		msg, derr := domain.DecodeMessage(env.Kind, env.Payload)
		if derr != nil {
			err = derr
			break
		}
		err = h.run(ctx, env.To, env.From, env.Kind, msg, from, func(c Contract, rt Runtime) error {
			return c.HandleMessage(rt, msg)
		})
	default:
		err = fmt.Errorf("host: envelope %s has unknown type %q: %w", env.ID, env.Type, domain.ErrInvalidParameters)
	}

	if err != nil && !domain.IsRejection(err) {
		return err
	}
	h.dedup.Mark(env.ID)
	return nil
}

// Load returns the committed contract of id. An instance that was never
// written is returned empty.
func (h *Host) Load(ctx context.Context, id domain.InstanceID) (Contract, error) {
	c, _, err := h.load(ctx, id)
	return c, err
}

// PruneDedup drops expired envelope ids.
func (h *Host) PruneDedup() int { return h.dedup.Cleanup() }

// FlushOutboxes redelivers every committed envelope still waiting in an
// instance outbox. It returns how many envelopes reached the transport. A
// failing instance does not stop the others; their errors are joined.
func (h *Host) FlushOutboxes(ctx context.Context) (int, error) {
	ids, err := h.states.Undelivered(ctx)
	if err != nil {
		return 0, fmt.Errorf("host: list undelivered outboxes: %w", err)
	}
	total := 0
	var errs []error
	for _, id := range ids {
		n, err := h.flushInstance(ctx, id)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (h *Host) flushInstance(ctx context.Context, id domain.InstanceID) (int, error) {
	unlock, err := h.lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	rec, err := h.states.Load(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("host: load %s: %w", id, err)
	}
	return h.flush(ctx, rec)
}

func (h *Host) load(ctx context.Context, id domain.InstanceID) (Contract, domain.StateRecord, error) {
	c, err := h.factory(id)
	if err != nil {
		return nil, domain.StateRecord{}, fmt.Errorf("host: no contract for %s: %w", id, err)
	}
	rec, err := h.states.Load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c, domain.StateRecord{Instance: id}, nil
	case err != nil:
		return nil, domain.StateRecord{}, fmt.Errorf("host: load %s: %w", id, err)
	}
	if err := json.Unmarshal(rec.State, c.State()); err != nil {
		return nil, domain.StateRecord{}, fmt.Errorf("host: decode state of %s: %w", id, err)
	}
	return c, rec, nil
}

// maxConflictRetries bounds how often a step is re-applied after another
// writer committed the same instance first.
const maxConflictRetries = 3

// origin names the sender and sequence number of an inbound envelope. A zero
// seq disables the sequence check.
type origin struct {
	sender domain.InstanceID
	seq    uint64
}

func (h *Host) run(ctx context.Context, target, caller domain.InstanceID, kind string, input any, from origin, apply func(Contract, Runtime) error) error {
	unlock, err := h.lock(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		err := h.runOnce(ctx, target, caller, kind, input, from, apply)
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxConflictRetries {
			return err
		}
		h.logger.WarnContext(ctx, "version conflict, reapplying step",
			slog.String("instance", string(target)),
			slog.String("kind", kind),
			slog.Int("attempt", attempt+1),
		)
	}
}

func (h *Host) runOnce(ctx context.Context, target, caller domain.InstanceID, kind string, input any, from origin, apply func(Contract, Runtime) error) error {
	c, cur, err := h.load(ctx, target)
	if err != nil {
		return err
	}
	if from.seq > 0 && cur.Inbox[from.sender] >= from.seq {
		h.logger.DebugContext(ctx, "envelope already applied",
			slog.String("instance", string(target)),
			slog.String("from", string(from.sender)),
			slog.Uint64("seq", from.seq),
		)
		return nil
	}

	rt := &step{self: target, caller: caller, now: h.clock()}
	if err := apply(c, rt); err != nil {
		h.logger.InfoContext(ctx, "step rejected",
			slog.String("instance", string(target)),
			slog.String("caller", string(caller)),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		h.auditLog(ctx, "step_rejected", map[string]any{
			"instance": string(target), "caller": string(caller), "kind": kind,
			"error": err.Error(), "reason": domain.Kind(err),
		})
		if domain.IsRejection(err) && from.seq > 0 && cur.Version > 0 {
			// The rejected envelope counts as consumed. State is left as loaded.
			next := cur
			next.Version++
			next.Inbox = advance(cur.Inbox, from)
			next.UpdatedAt = rt.now
			if serr := h.states.Save(ctx, next); serr != nil {
				return fmt.Errorf("host: save %s: %w", target, serr)
			}
		}
		return err
	}

	envs, err := rt.envelopes()
	if err != nil {
		return err
	}
	state, err := json.Marshal(c.State())
	if err != nil {
		return fmt.Errorf("host: encode state of %s: %w", target, err)
	}
	next := domain.StateRecord{
		Instance:  target,
		Kind:      c.Kind(),
		Version:   cur.Version + 1,
		State:     state,
		Outbox:    slices.Clone(cur.Outbox),
		Seq:       cur.Seq,
		Inbox:     cur.Inbox,
		UpdatedAt: rt.now,
	}
	if from.seq > 0 {
		next.Inbox = advance(cur.Inbox, from)
	}
	for i := range envs {
		next.Seq++
		envs[i].Seq = next.Seq
		if h.auth != nil {
			envs[i].Signature = h.auth.Sign(envs[i])
		}
	}
	next.Outbox = append(next.Outbox, envs...)
	if err := h.states.Save(ctx, next); err != nil {
		return fmt.Errorf("host: save %s: %w", target, err)
	}

	h.auditLog(ctx, "step_committed", map[string]any{
		"instance": string(target), "caller": string(caller), "kind": kind,
		"version": next.Version, "outbox": len(envs),
	})

	commit := Commit{
		Instance: target,
		Caller:   caller,
		Kind:     kind,
		Input:    input,
		Contract: c,
		Outbox:   envs,
		Version:  next.Version,
		At:       rt.now,
	}
	for _, o := range h.observers {
		o.Committed(ctx, commit)
	}

	if _, err := h.flush(ctx, next); err != nil {
		h.logger.WarnContext(ctx, "outbox left pending",
			slog.String("instance", string(target)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// flush hands rec's outbox to the transport in order and commits the
// delivered prefix away. Delivery stops at the first failure; the remainder
// waits for the instance's next step or FlushOutboxes. The caller holds the
// instance lock.
func (h *Host) flush(ctx context.Context, rec domain.StateRecord) (int, error) {
	sent := 0
	var derr error
	for _, env := range rec.Outbox {
		if err := h.transport.Deliver(ctx, env); err != nil {
			h.logger.ErrorContext(ctx, "deliver failed",
				slog.String("envelope", env.ID),
				slog.String("to", string(env.To)),
				slog.String("kind", env.Kind),
				slog.String("error", err.Error()),
			)
			h.auditLog(ctx, "deliver_failed", map[string]any{
				"envelope": env.ID, "from": string(env.From), "to": string(env.To), "kind": env.Kind, "error": err.Error(),
			})
			derr = fmt.Errorf("host: deliver %s to %s: %w", env.ID, env.To, err)
			break
		}
		sent++
	}
	if sent == 0 {
		return 0, derr
	}

	rec.Version++
	rec.Outbox = slices.Clone(rec.Outbox[sent:])
	rec.UpdatedAt = h.clock()
	if err := h.states.Save(ctx, rec); err != nil {
		// Delivered envelopes stay queued; receivers drop the resend by Seq.
		return sent, errors.Join(derr, fmt.Errorf("host: trim outbox of %s: %w", rec.Instance, err))
	}
	return sent, derr
}

func advance(inbox map[domain.InstanceID]uint64, from origin) map[domain.InstanceID]uint64 {
	out := maps.Clone(inbox)
	if out == nil {
		out = make(map[domain.InstanceID]uint64, 1)
	}
	out[from.sender] = from.seq
	return out
}

func (h *Host) lock(ctx context.Context, id domain.InstanceID) (func(), error) {
	h.mu.Lock()
	m, ok := h.instances[id]
	if !ok {
		m = &sync.Mutex{}
		h.instances[id] = m
	}
	h.mu.Unlock()

	m.Lock()
	if h.locks == nil {
		return m.Unlock, nil
	}

	release, err := h.acquireDistributed(ctx, id)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		release()
		m.Unlock()
	}, nil
}

// acquireDistributed retries a held lock until ctx ends or the lock TTL has
// elapsed, at which point the holder's lease has expired anyway.
func (h *Host) acquireDistributed(ctx context.Context, id domain.InstanceID) (func(), error) {
	key := "instance:" + string(id)
	deadline := time.Now().Add(h.cfg.LockTTL)
	backoff := 10 * time.Millisecond
	for {
		release, err := h.locks.Acquire(ctx, key, h.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, fmt.Errorf("host: lock %s: %w", id, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (h *Host) auditLog(ctx context.Context, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, detail); err != nil {
		h.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
