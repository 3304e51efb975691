package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/registry"
)

// RegistryService serves the market tree.
type RegistryService struct {
	runner Runner
	id     domain.InstanceID
}

// NewRegistryService creates a RegistryService for the registry instance id.
func NewRegistryService(runner Runner, id domain.InstanceID) *RegistryService {
	return &RegistryService{runner: runner, id: id}
}

// Initialize sets the registry admin.
func (s *RegistryService) Initialize(ctx context.Context, caller, admin domain.InstanceID) error {
	if err := s.runner.Execute(ctx, s.id, caller, domain.InitializeRegistry{Admin: admin}); err != nil {
		return fmt.Errorf("registry_service: initialize: %w", err)
	}
	return nil
}

// Register records a market directly.
func (s *RegistryService) Register(ctx context.Context, caller domain.InstanceID, info domain.MarketInfo) error {
	if err := s.runner.Execute(ctx, s.id, caller, domain.RegisterMarket{Info: info}); err != nil {
		return fmt.Errorf("registry_service: register %s: %w", info.MarketID, err)
	}
	return nil
}

// Resolve resolves a registry-opened market on behalf of its owner.
func (s *RegistryService) Resolve(ctx context.Context, caller domain.InstanceID, id, outcome string) error {
	op := domain.ResolveChildMarket{MarketID: id, WinningOutcome: outcome}
	if err := s.runner.Execute(ctx, s.id, caller, op); err != nil {
		return fmt.Errorf("registry_service: resolve %s: %w", id, err)
	}
	return nil
}

// Market returns the registered info of id.
func (s *RegistryService) Market(ctx context.Context, id string) (domain.MarketInfo, error) {
	r, err := s.load(ctx)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return r.Market(id)
}

// Markets returns every registered market in registration order.
func (s *RegistryService) Markets(ctx context.Context) ([]domain.MarketInfo, error) {
	r, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return r.Markets(), nil
}

// Children returns the child ids of parent.
func (s *RegistryService) Children(ctx context.Context, parent string) ([]string, error) {
	r, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return r.Children(parent)
}

// Tree returns the market tree rooted at root.
func (s *RegistryService) Tree(ctx context.Context, root string) (domain.MarketTree, error) {
	r, err := s.load(ctx)
	if err != nil {
		return domain.MarketTree{}, err
	}
	return r.Tree(root)
}

// Admin returns the registry admin, empty before initialization.
func (s *RegistryService) Admin(ctx context.Context) (domain.InstanceID, error) {
	r, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return r.Admin(), nil
}

func (s *RegistryService) load(ctx context.Context) (*registry.Contract, error) {
	r, err := loadAs[*registry.Contract](ctx, s.runner, s.id)
	if err != nil {
		return nil, fmt.Errorf("registry_service: load: %w", err)
	}
	return r, nil
}
