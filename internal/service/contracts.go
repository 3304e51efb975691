package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
	"github.com/alanyoungcy/cascademarket/internal/market"
	"github.com/alanyoungcy/cascademarket/internal/registry"
	"github.com/alanyoungcy/cascademarket/internal/spawn"
)

// Instances names the well-known singleton instances.
type Instances struct {
	Registry domain.InstanceID
	Engine   domain.InstanceID
}

// Runner executes operations and reads committed instance state. *host.Host
// satisfies it.
type Runner interface {
	Execute(ctx context.Context, target, caller domain.InstanceID, op domain.Operation) error
	Load(ctx context.Context, id domain.InstanceID) (host.Contract, error)
}

// NewFactory maps instance ids to contracts: the registry and engine ids to
// their singletons and market/<id> to markets.
func NewFactory(ids Instances, spawnCfg spawn.Config) host.Factory {
	spawnCfg.Registry = ids.Registry
	return func(id domain.InstanceID) (host.Contract, error) {
		switch id {
		case ids.Registry:
			return registry.New(), nil
		case ids.Engine:
			return spawn.New(spawnCfg), nil
		}
		if _, ok := domain.MarketIDOf(id); ok {
			return market.New(ids.Registry, ids.Engine), nil
		}
		return nil, fmt.Errorf("service: unknown instance %q: %w", id, domain.ErrNotFound)
	}
}

func loadAs[T host.Contract](ctx context.Context, r Runner, id domain.InstanceID) (T, error) {
	var zero T
	c, err := r.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("service: instance %s holds %s: %w", id, c.Kind(), domain.ErrInvalidParameters)
	}
	return typed, nil
}
