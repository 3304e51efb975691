package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/spawn"
)

// SpawnService serves spawn rules and the pending-spawn queue.
type SpawnService struct {
	runner Runner
	id     domain.InstanceID
}

// NewSpawnService creates a SpawnService for the engine instance id.
func NewSpawnService(runner Runner, id domain.InstanceID) *SpawnService {
	return &SpawnService{runner: runner, id: id}
}

// Initialize sets the engine admin and installs the default rules.
func (s *SpawnService) Initialize(ctx context.Context, caller, admin domain.InstanceID) error {
	return s.exec(ctx, caller, domain.InitializeSpawner{Admin: admin})
}

// CreateRule inserts or replaces a rule owned by caller.
func (s *SpawnService) CreateRule(ctx context.Context, caller domain.InstanceID, op domain.CreateSpawnRule) error {
	return s.exec(ctx, caller, op)
}

// SetRuleActive toggles a rule.
func (s *SpawnService) SetRuleActive(ctx context.Context, caller domain.InstanceID, ruleID string, active bool) error {
	return s.exec(ctx, caller, domain.UpdateSpawnRule{RuleID: ruleID, Active: active})
}

// ProcessPending promotes due pending spawns.
func (s *SpawnService) ProcessPending(ctx context.Context, caller domain.InstanceID) error {
	return s.exec(ctx, caller, domain.ProcessPendingSpawns{})
}

// Rules returns all rules sorted by id.
func (s *SpawnService) Rules(ctx context.Context) ([]domain.SpawnRule, error) {
	e, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return e.Rules(), nil
}

// Rule returns one rule.
func (s *SpawnService) Rule(ctx context.Context, id string) (domain.SpawnRule, error) {
	e, err := s.load(ctx)
	if err != nil {
		return domain.SpawnRule{}, err
	}
	return e.Rule(id)
}

// Pending returns the pending-spawn queue; with unprocessedOnly, processed
// entries are skipped.
func (s *SpawnService) Pending(ctx context.Context, unprocessedOnly bool) ([]domain.PendingSpawn, error) {
	e, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	all := e.Pending()
	if !unprocessedOnly {
		return all, nil
	}
	out := make([]domain.PendingSpawn, 0, len(all))
	for _, p := range all {
		if !p.Processed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *SpawnService) exec(ctx context.Context, caller domain.InstanceID, op domain.Operation) error {
	if err := s.runner.Execute(ctx, s.id, caller, op); err != nil {
		return fmt.Errorf("spawn_service: %s: %w", op.OperationKind(), err)
	}
	return nil
}

func (s *SpawnService) load(ctx context.Context) (*spawn.Engine, error) {
	e, err := loadAs[*spawn.Engine](ctx, s.runner, s.id)
	if err != nil {
		return nil, fmt.Errorf("spawn_service: load: %w", err)
	}
	return e, nil
}
