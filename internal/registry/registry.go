// Package registry implements the market directory: registration,
// parent/child links, tree queries, and opening child markets on request of
// the spawn engine.
package registry

import (
	"fmt"
	"strconv"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
)

// Kind is the persisted contract kind of the registry instance.
const Kind = "registry"

// State is the registry's persisted state.
type State struct {
	Admin   domain.InstanceID            `json:"admin,omitempty"`
	Markets map[string]domain.MarketInfo `json:"markets"`
	// Order lists market ids in registration order.
	Order []string `json:"order"`
	// MarketCount numbers markets opened by the registry.
	MarketCount uint64 `json:"market_count"`
	// Owners holds the owner of markets the registry opened but that have
	// not reported back yet.
	Owners map[string]domain.InstanceID `json:"owners"`
}

// Contract is the registry instance.
type Contract struct {
	state State
}

var _ host.Contract = (*Contract)(nil)

// New returns an empty registry.
func New() *Contract {
	return &Contract{state: State{
		Markets: make(map[string]domain.MarketInfo),
		Owners:  make(map[string]domain.InstanceID),
	}}
}

// Kind implements host.Contract.
func (c *Contract) Kind() string { return Kind }

// State implements host.Contract.
func (c *Contract) State() any { return &c.state }

// Admin returns the configured admin, if any.
func (c *Contract) Admin() domain.InstanceID { return c.state.Admin }

// ExecuteOperation implements host.Contract.
func (c *Contract) ExecuteOperation(rt host.Runtime, op domain.Operation) error {
	c.ensureMaps()
	switch o := op.(type) {
	case domain.InitializeRegistry:
		if c.state.Admin != "" {
			return fmt.Errorf("registry: initialize: %w", domain.ErrAlreadyExists)
		}
		if o.Admin == "" {
			return fmt.Errorf("registry: initialize: empty admin: %w", domain.ErrInvalidParameters)
		}
		c.state.Admin = o.Admin
		return nil
	case domain.RegisterMarket:
		return c.registerDirect(rt, o.Info)
	case domain.ResolveChildMarket:
		return c.resolveChild(rt, o)
	default:
		return fmt.Errorf("registry: unsupported operation %s: %w", op.OperationKind(), domain.ErrInvalidParameters)
	}
}

// HandleMessage implements host.Contract.
func (c *Contract) HandleMessage(rt host.Runtime, msg domain.Message) error {
	c.ensureMaps()
	switch m := msg.(type) {
	case domain.MarketRegistered:
		return c.registerReported(rt, m.Info)
	case domain.MarketCreationRequest:
		return c.openMarket(rt, m)
	default:
		return fmt.Errorf("registry: unsupported message %s: %w", msg.MessageKind(), domain.ErrInvalidParameters)
	}
}

func (c *Contract) ensureMaps() {
	if c.state.Markets == nil {
		c.state.Markets = make(map[string]domain.MarketInfo)
	}
	if c.state.Owners == nil {
		c.state.Owners = make(map[string]domain.InstanceID)
	}
}

// registerDirect handles a RegisterMarket operation. The caller may only
// register markets it created itself.
func (c *Contract) registerDirect(rt host.Runtime, info domain.MarketInfo) error {
	caller := rt.Caller()
	if info.Creator == "" {
		info.Creator = caller
	}
	if info.Creator != caller {
		return fmt.Errorf("registry: register %s: creator %s is not caller %s: %w", info.MarketID, info.Creator, caller, domain.ErrUnauthorized)
	}
	if domain.IsSpawnedMarketID(info.MarketID) {
		return fmt.Errorf("registry: register %s: id reserved for spawned markets: %w", info.MarketID, domain.ErrUnauthorized)
	}
	return c.register(info)
}

// registerReported handles MarketRegistered, which only the market instance
// itself may send.
func (c *Contract) registerReported(rt host.Runtime, info domain.MarketInfo) error {
	if info.MarketID == "" {
		return fmt.Errorf("registry: register: empty market id: %w", domain.ErrInvalidParameters)
	}
	if sender := rt.Caller(); sender != domain.MarketInstance(info.MarketID) {
		return fmt.Errorf("registry: register %s: reported by %s: %w", info.MarketID, sender, domain.ErrUnauthorized)
	}
	return c.register(info)
}

func (c *Contract) register(info domain.MarketInfo) error {
	if info.MarketID == "" {
		return fmt.Errorf("registry: register: empty market id: %w", domain.ErrInvalidParameters)
	}
	if _, ok := c.state.Markets[info.MarketID]; ok {
		return fmt.Errorf("registry: register %s: %w", info.MarketID, domain.ErrAlreadyExists)
	}

	want := domain.MarketInstance(info.MarketID)
	if info.Instance != "" && info.Instance != want {
		return fmt.Errorf("registry: register %s: instance %s: %w", info.MarketID, info.Instance, domain.ErrInvalidParameters)
	}
	info.Instance = want
	// Ownership is never taken from the registration itself.
	info.Owner = info.Creator
	if owner, ok := c.state.Owners[info.MarketID]; ok {
		info.Owner = owner
		delete(c.state.Owners, info.MarketID)
	}
	info.ChildMarkets = append([]string{}, info.ChildMarkets...)

	// Adopt earlier registrations that named this market as their parent.
	for _, id := range c.state.Order {
		if c.state.Markets[id].ParentMarketID == info.MarketID && !contains(info.ChildMarkets, id) {
			info.ChildMarkets = append(info.ChildMarkets, id)
		}
	}

	c.state.Markets[info.MarketID] = info
	c.state.Order = append(c.state.Order, info.MarketID)

	if info.ParentMarketID != "" {
		if parent, ok := c.state.Markets[info.ParentMarketID]; ok && !contains(parent.ChildMarkets, info.MarketID) {
			parent.ChildMarkets = append(parent.ChildMarkets, info.MarketID)
			c.state.Markets[info.ParentMarketID] = parent
		}
	}
	return nil
}

// openMarket allocates an id for the requested market, creates it with the
// registry as creator and seeds it with registry-placed bets.
func (c *Contract) openMarket(rt host.Runtime, req domain.MarketCreationRequest) error {
	if err := domain.ValidateOutcomes(req.Outcomes); err != nil {
		return fmt.Errorf("registry: creation request from %s: %w", req.ParentMarketID, err)
	}

	id := c.nextMarketID()
	owner := c.state.Admin
	if parent, ok := c.state.Markets[req.ParentMarketID]; ok && parent.Owner != "" {
		owner = parent.Owner
	}
	if owner == "" {
		owner = rt.Caller()
	}
	c.state.Owners[id] = owner

	target := domain.MarketInstance(id)
	rt.Call(target, domain.CreateMarket{
		MarketID:       id,
		Question:       req.Question,
		Outcomes:       req.Outcomes,
		ExpiryTime:     req.ExpiryTime,
		ParentMarketID: req.ParentMarketID,
	})

	share, remainder := req.SeedLiquidity.Split(len(req.Outcomes))
	for i, outcome := range req.Outcomes {
		amount := share
		if i == 0 {
			amount = amount.SaturatingAdd(remainder)
		}
		if amount.IsZero() {
			continue
		}
		rt.Call(target, domain.PlaceBet{Outcome: outcome, Amount: amount})
	}
	return nil
}

func (c *Contract) nextMarketID() string {
	for {
		id := "market_" + strconv.FormatUint(c.state.MarketCount, 10)
		c.state.MarketCount++
		_, known := c.state.Markets[id]
		_, pending := c.state.Owners[id]
		if !known && !pending {
			return id
		}
	}
}

func (c *Contract) resolveChild(rt host.Runtime, op domain.ResolveChildMarket) error {
	info, ok := c.state.Markets[op.MarketID]
	if !ok {
		return fmt.Errorf("registry: resolve %s: %w", op.MarketID, domain.ErrNotFound)
	}
	caller := rt.Caller()
	if caller != c.state.Admin && caller != info.Owner {
		return fmt.Errorf("registry: resolve %s by %s: %w", op.MarketID, caller, domain.ErrUnauthorized)
	}
	if info.Creator != rt.Self() {
		return fmt.Errorf("registry: resolve %s: not opened by the registry: %w", op.MarketID, domain.ErrUnauthorized)
	}
	if !contains(info.Outcomes, op.WinningOutcome) {
		return fmt.Errorf("registry: resolve %s outcome %q: %w", op.MarketID, op.WinningOutcome, domain.ErrInvalidOutcome)
	}
	rt.Call(domain.MarketInstance(op.MarketID), domain.ResolveMarket{WinningOutcome: op.WinningOutcome})
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
