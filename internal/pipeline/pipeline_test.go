package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSpawner struct {
	mu      sync.Mutex
	callers []domain.InstanceID
	err     error
	pending []domain.PendingSpawn
	swept   chan struct{}
}

func (f *fakeSpawner) ProcessPending(_ context.Context, caller domain.InstanceID) error {
	f.mu.Lock()
	f.callers = append(f.callers, caller)
	f.mu.Unlock()
	if f.swept != nil {
		select {
		case f.swept <- struct{}{}:
		default:
		}
	}
	return f.err
}

func (f *fakeSpawner) Pending(_ context.Context, unprocessedOnly bool) ([]domain.PendingSpawn, error) {
	if unprocessedOnly {
		return nil, errors.New("archiver must export the full queue")
	}
	return f.pending, nil
}

type fakePruner struct {
	calls    int
	flushes  int
	flushErr error
}

func (p *fakePruner) PruneDedup() int { p.calls++; return 3 }

func (p *fakePruner) FlushOutboxes(context.Context) (int, error) {
	p.flushes++
	return 2, p.flushErr
}

func TestSweeperRun(t *testing.T) {
	spawner := &fakeSpawner{}
	pruner := &fakePruner{}
	s := NewSweeper(spawner, pruner, "0xoperator", discard)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(spawner.callers) != 1 || spawner.callers[0] != "0xoperator" {
		t.Errorf("callers: got %v, want [0xoperator]", spawner.callers)
	}
	if pruner.calls != 1 {
		t.Errorf("prune calls: got %d, want 1", pruner.calls)
	}
	if pruner.flushes != 1 {
		t.Errorf("outbox flushes: got %d, want 1", pruner.flushes)
	}
}

func TestSweeperFlushFailureDoesNotBlockSpawns(t *testing.T) {
	spawner := &fakeSpawner{}
	pruner := &fakePruner{flushErr: errors.New("transport unavailable")}
	s := NewSweeper(spawner, pruner, "op", discard)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pruner.flushes != 1 || len(spawner.callers) != 1 {
		t.Errorf("flushes = %d, sweeps = %d; want 1 and 1", pruner.flushes, len(spawner.callers))
	}
}

func TestSweeperRunSkipsPruneOnFailure(t *testing.T) {
	spawner := &fakeSpawner{err: domain.ErrLockHeld}
	pruner := &fakePruner{}
	s := NewSweeper(spawner, pruner, "op", discard)

	err := s.Run(context.Background())
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v, want ErrLockHeld", err)
	}
	if pruner.calls != 0 {
		t.Errorf("prune calls: got %d, want 0", pruner.calls)
	}
}

type fakeTree struct{ markets []domain.MarketInfo }

func (f fakeTree) Markets(context.Context) ([]domain.MarketInfo, error) { return f.markets, nil }

type fakeSink struct {
	days    []time.Time
	markets int
	spawns  int
	err     error
}

func (s *fakeSink) ArchiveRegistry(_ context.Context, day time.Time, markets []domain.MarketInfo) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.days = append(s.days, day)
	s.markets += len(markets)
	return int64(len(markets)), nil
}

func (s *fakeSink) ArchiveSpawns(_ context.Context, day time.Time, spawns []domain.PendingSpawn) (int64, error) {
	s.days = append(s.days, day)
	s.spawns += len(spawns)
	return int64(len(spawns)), nil
}

func TestArchiverRun(t *testing.T) {
	local := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 5, 2, 3, 0, 0, 0, local)
	tree := fakeTree{markets: []domain.MarketInfo{{MarketID: "a"}, {MarketID: "b"}}}
	spawns := &fakeSpawner{pending: []domain.PendingSpawn{{SpawnID: "s1", Processed: true}}}
	sink := &fakeSink{}

	a := NewArchiver(tree, spawns, sink, func() time.Time { return now }, discard)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.markets != 2 || sink.spawns != 1 {
		t.Errorf("archived markets=%d spawns=%d, want 2 and 1", sink.markets, sink.spawns)
	}
	for _, d := range sink.days {
		if d.Location() != time.UTC || d.Day() != 1 {
			t.Errorf("day: got %v, want 2026-05-01 UTC", d)
		}
	}
}

func TestArchiverRunStopsOnSinkError(t *testing.T) {
	spawns := &fakeSpawner{}
	sink := &fakeSink{err: errors.New("bucket gone")}
	a := NewArchiver(fakeTree{}, spawns, sink, nil, discard)

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if sink.spawns != 0 {
		t.Error("spawns archived after registry failure")
	}
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	spawner := &fakeSpawner{swept: make(chan struct{}, 1)}
	o := NewOrchestrator(NewSweeper(spawner, nil, "op", discard), nil, time.Hour, time.Hour, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case <-spawner.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run on start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: got %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
