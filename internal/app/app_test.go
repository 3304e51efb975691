package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/config"
	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = "memory"
	cfg.Identity.OperatorKey = operatorKey
	cfg.Runtime.StrictErrors = true
	return &cfg
}

func wireMemory(t *testing.T, cfg *config.Config) (*App, *Dependencies) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	t.Cleanup(cleanup)
	return New(cfg, logger), deps
}

func TestWireMemory(t *testing.T) {
	_, deps := wireMemory(t, memoryConfig())

	if deps.Directory != nil {
		t.Error("memory storage should not wire a directory")
	}
	if deps.Bus != nil || deps.Limiter != nil || deps.Cache != nil {
		t.Error("redis components wired with redis disabled")
	}
	if _, ok := deps.Transport.(*host.LocalTransport); !ok {
		t.Errorf("transport: got %T, want *host.LocalTransport", deps.Transport)
	}
	if deps.Hub == nil {
		t.Error("full mode should wire the websocket hub")
	}
	if deps.Archiver != nil {
		t.Error("archiver wired with archive disabled")
	}
	if len(deps.Checks) != 0 {
		t.Errorf("health checks: got %d, want none", len(deps.Checks))
	}
}

func TestWireNodeModeSkipsHub(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "node"
	_, deps := wireMemory(t, cfg)
	if deps.Hub != nil {
		t.Error("node mode wired a websocket hub")
	}
}

func TestWireRejectsBadOperatorKey(t *testing.T) {
	cfg := memoryConfig()
	cfg.Identity.OperatorKey = "not-hex"
	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBootstrapIsRepeatable(t *testing.T) {
	a, deps := wireMemory(t, memoryConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := a.bootstrap(ctx, deps); err != nil {
			t.Fatalf("bootstrap %d: %v", i+1, err)
		}
	}
	admin, err := deps.Registry.Admin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if admin != deps.Operator.Identity() {
		t.Errorf("registry admin: got %s, want %s", admin, deps.Operator.Identity())
	}
	rules, err := deps.Spawner.Rules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) == 0 {
		t.Error("engine initialized without default rules")
	}
}

func TestCreatedMarketReachesRegistry(t *testing.T) {
	a, deps := wireMemory(t, memoryConfig())
	ctx := context.Background()
	if err := a.bootstrap(ctx, deps); err != nil {
		t.Fatal(err)
	}

	err := deps.Markets.Create(ctx, "0xcreator", domain.CreateMarket{
		MarketID:   "final",
		Question:   "Who wins the final?",
		Outcomes:   []string{"Home", "Away"},
		ExpiryTime: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := deps.Transport.(*host.LocalTransport).Drain(ctx, deps.Host.Dispatch); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	info, err := deps.Registry.Market(ctx, "final")
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if info.Question != "Who wins the final?" {
		t.Errorf("question: got %q", info.Question)
	}
}

func TestIgnoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	if err := ignoreCanceled(ctx, boom); !errors.Is(err, boom) {
		t.Errorf("live ctx: got %v, want boom", err)
	}
	cancel()
	if err := ignoreCanceled(ctx, context.Canceled); err != nil {
		t.Errorf("cancelled ctx: got %v, want nil", err)
	}
	if err := ignoreCanceled(ctx, boom); !errors.Is(err, boom) {
		t.Errorf("unrelated error after cancel: got %v, want boom", err)
	}
}
