// Package market implements the market state machine: creation, staking,
// resolution and the odds table.
package market

import (
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
)

// Kind is the persisted contract kind of market instances.
const Kind = "market"

// Contract is one market instance.
type Contract struct {
	state    domain.MarketState
	registry domain.InstanceID
	engine   domain.InstanceID
}

var _ host.Contract = (*Contract)(nil)

// New returns an empty market that reports registration to registry and
// resolution to engine. Either may be empty to disable the message.
func New(registry, engine domain.InstanceID) *Contract {
	return &Contract{registry: registry, engine: engine}
}

// Kind implements host.Contract.
func (c *Contract) Kind() string { return Kind }

// State implements host.Contract.
func (c *Contract) State() any { return &c.state }

// Snapshot returns the market state. Callers must not mutate it.
func (c *Contract) Snapshot() domain.MarketState { return c.state }

// ExecuteOperation implements host.Contract.
func (c *Contract) ExecuteOperation(rt host.Runtime, op domain.Operation) error {
	switch o := op.(type) {
	case domain.CreateMarket:
		return c.create(rt, o)
	case domain.PlaceBet:
		return c.placeBet(rt, o)
	case domain.ResolveMarket:
		return c.resolve(rt, o)
	default:
		return fmt.Errorf("market: unsupported operation %s: %w", op.OperationKind(), domain.ErrInvalidParameters)
	}
}

// HandleMessage implements host.Contract. Markets accept no messages.
func (c *Contract) HandleMessage(_ host.Runtime, msg domain.Message) error {
	return fmt.Errorf("market: unsupported message %s: %w", msg.MessageKind(), domain.ErrInvalidParameters)
}

func (c *Contract) create(rt host.Runtime, op domain.CreateMarket) error {
	if c.state.Exists() {
		return fmt.Errorf("market: create %s: %w", op.MarketID, domain.ErrAlreadyExists)
	}
	if op.MarketID == "" {
		return fmt.Errorf("market: create: empty market id: %w", domain.ErrInvalidParameters)
	}
	if id, ok := domain.MarketIDOf(rt.Self()); ok && id != op.MarketID {
		return fmt.Errorf("market: create %s on instance %s: %w", op.MarketID, rt.Self(), domain.ErrInvalidParameters)
	}
	if c.registry != "" && domain.IsSpawnedMarketID(op.MarketID) && rt.Caller() != c.registry {
		return fmt.Errorf("market: create %s by %s: id reserved for the registry: %w", op.MarketID, rt.Caller(), domain.ErrUnauthorized)
	}
	if err := domain.ValidateOutcomes(op.Outcomes); err != nil {
		return fmt.Errorf("market: create %s: %w", op.MarketID, err)
	}

	outcomes := append([]string(nil), op.Outcomes...)
	bets := make(map[string][]domain.Bet, len(outcomes))
	for _, o := range outcomes {
		bets[o] = []domain.Bet{}
	}
	c.state = domain.MarketState{
		MarketID:       op.MarketID,
		Question:       op.Question,
		Outcomes:       outcomes,
		Bets:           bets,
		ExpiryTime:     op.ExpiryTime,
		Creator:        rt.Caller(),
		CreatedAt:      rt.Now(),
		ParentMarketID: op.ParentMarketID,
		ChildMarkets:   []string{},
	}

	if c.registry != "" {
		rt.Send(c.registry, domain.MarketRegistered{Info: Info(c.state, rt.Self())})
	}
	return nil
}

func (c *Contract) placeBet(rt host.Runtime, op domain.PlaceBet) error {
	switch {
	case !c.state.Exists():
		return fmt.Errorf("market: bet on %s: %w", rt.Self(), domain.ErrNotFound)
	case c.state.Resolved:
		return fmt.Errorf("market: bet on %s: %w", c.state.MarketID, domain.ErrAlreadyResolved)
	case rt.Now().After(c.state.ExpiryTime):
		return fmt.Errorf("market: bet on %s: %w", c.state.MarketID, domain.ErrExpired)
	case !c.state.HasOutcome(op.Outcome):
		return fmt.Errorf("market: bet on %s outcome %q: %w", c.state.MarketID, op.Outcome, domain.ErrInvalidOutcome)
	case c.registry != "" && rt.Caller() == c.registry && c.state.Creator != c.registry:
		// Registry seed liquidity only goes to markets the registry opened.
		return fmt.Errorf("market: seed bet on %s created by %s: %w", c.state.MarketID, c.state.Creator, domain.ErrUnauthorized)
	}

	c.state.Bets[op.Outcome] = append(c.state.Bets[op.Outcome], domain.Bet{
		Bettor:    rt.Caller(),
		Amount:    op.Amount,
		Timestamp: rt.Now(),
	})
	c.state.TotalStaked = c.state.TotalStaked.SaturatingAdd(op.Amount)
	return nil
}

func (c *Contract) resolve(rt host.Runtime, op domain.ResolveMarket) error {
	switch {
	case !c.state.Exists():
		return fmt.Errorf("market: resolve %s: %w", rt.Self(), domain.ErrNotFound)
	case c.state.Resolved:
		return fmt.Errorf("market: resolve %s: %w", c.state.MarketID, domain.ErrAlreadyResolved)
	case !c.state.HasOutcome(op.WinningOutcome):
		return fmt.Errorf("market: resolve %s outcome %q: %w", c.state.MarketID, op.WinningOutcome, domain.ErrInvalidOutcome)
	case rt.Caller() != c.state.Creator:
		return fmt.Errorf("market: resolve %s by %s: %w", c.state.MarketID, rt.Caller(), domain.ErrUnauthorized)
	}

	c.state.Resolved = true
	c.state.WinningOutcome = op.WinningOutcome

	if c.engine != "" {
		rt.Send(c.engine, domain.ResolutionNotification{
			MarketID:       c.state.MarketID,
			Question:       c.state.Question,
			WinningOutcome: op.WinningOutcome,
			TotalStake:     c.state.TotalStaked,
		})
	}
	return nil
}
