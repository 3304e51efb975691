package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is a request executed by a single instance on behalf of a caller.
type Operation interface {
	OperationKind() string
}

// Message is an asynchronous notification from one instance to another.
type Message interface {
	MessageKind() string
}

// Operation kinds.
const (
	OpCreateMarket         = "market.create"
	OpPlaceBet             = "market.place_bet"
	OpResolveMarket        = "market.resolve"
	OpInitializeRegistry   = "registry.initialize"
	OpRegisterMarket       = "registry.register"
	OpResolveChildMarket   = "registry.resolve"
	OpInitializeSpawner    = "spawn.initialize"
	OpCreateSpawnRule      = "spawn.create_rule"
	OpUpdateSpawnRule      = "spawn.update_rule"
	OpProcessPendingSpawns = "spawn.process_pending"
)

// Message kinds.
const (
	MsgResolutionNotification = "resolution_notification"
	MsgMarketCreationRequest  = "market_creation_request"
	MsgMarketRegistered       = "market_registered"
)

// CreateMarket populates an empty market instance.
type CreateMarket struct {
	MarketID       string    `json:"market_id"`
	Question       string    `json:"question"`
	Outcomes       []string  `json:"outcomes"`
	ExpiryTime     time.Time `json:"expiry_time"`
	ParentMarketID string    `json:"parent_market_id,omitempty"`
}

// PlaceBet stakes amount on outcome.
type PlaceBet struct {
	Outcome string `json:"outcome"`
	Amount  Amount `json:"amount"`
}

// ResolveMarket settles a market on its winning outcome.
type ResolveMarket struct {
	WinningOutcome string `json:"winning_outcome"`
}

// InitializeRegistry sets the registry admin once.
type InitializeRegistry struct {
	Admin InstanceID `json:"admin"`
}

// RegisterMarket adds a market to the registry directly.
type RegisterMarket struct {
	Info MarketInfo `json:"market_info"`
}

// ResolveChildMarket resolves a registry-created market on behalf of its
// owner or the admin.
type ResolveChildMarket struct {
	MarketID       string `json:"market_id"`
	WinningOutcome string `json:"winning_outcome"`
}

// InitializeSpawner sets the spawn engine admin and installs default rules.
type InitializeSpawner struct {
	Admin InstanceID `json:"admin"`
}

// CreateSpawnRule inserts or replaces a rule.
type CreateSpawnRule struct {
	RuleID           string        `json:"rule_id"`
	TriggerCondition Trigger       `json:"trigger_condition"`
	SpawnTemplate    SpawnTemplate `json:"spawn_template"`
}

// UpdateSpawnRule toggles a rule's active flag.
type UpdateSpawnRule struct {
	RuleID string `json:"rule_id"`
	Active bool   `json:"active"`
}

// ProcessPendingSpawns promotes due pending spawns to creation requests.
type ProcessPendingSpawns struct{}

func (CreateMarket) OperationKind() string         { return OpCreateMarket }
func (PlaceBet) OperationKind() string             { return OpPlaceBet }
func (ResolveMarket) OperationKind() string        { return OpResolveMarket }
func (InitializeRegistry) OperationKind() string   { return OpInitializeRegistry }
func (RegisterMarket) OperationKind() string       { return OpRegisterMarket }
func (ResolveChildMarket) OperationKind() string   { return OpResolveChildMarket }
func (InitializeSpawner) OperationKind() string    { return OpInitializeSpawner }
func (CreateSpawnRule) OperationKind() string      { return OpCreateSpawnRule }
func (UpdateSpawnRule) OperationKind() string      { return OpUpdateSpawnRule }
func (ProcessPendingSpawns) OperationKind() string { return OpProcessPendingSpawns }

// ResolutionNotification is sent by a market to the spawn engine when it
// resolves.
type ResolutionNotification struct {
	MarketID       string `json:"market_id"`
	Question       string `json:"question"`
	WinningOutcome string `json:"winning_outcome"`
	TotalStake     Amount `json:"total_stake"`
}

// MarketCreationRequest asks the registry to open a child market.
type MarketCreationRequest struct {
	ParentMarketID string    `json:"parent_market_id"`
	Question       string    `json:"question"`
	Outcomes       []string  `json:"outcomes"`
	ExpiryTime     time.Time `json:"expiry_time"`
	SeedLiquidity  Amount    `json:"seed_liquidity"`
}

// MarketRegistered is sent by a newly created market to the registry.
type MarketRegistered struct {
	Info MarketInfo `json:"market_info"`
}

func (ResolutionNotification) MessageKind() string { return MsgResolutionNotification }
func (MarketCreationRequest) MessageKind() string  { return MsgMarketCreationRequest }
func (MarketRegistered) MessageKind() string       { return MsgMarketRegistered }

// DecodeOperation decodes a JSON payload of the given operation kind.
func DecodeOperation(kind string, payload []byte) (Operation, error) {
	var op Operation
	switch kind {
	case OpCreateMarket:
		op = &CreateMarket{}
	case OpPlaceBet:
		op = &PlaceBet{}
	case OpResolveMarket:
		op = &ResolveMarket{}
	case OpInitializeRegistry:
		op = &InitializeRegistry{}
	case OpRegisterMarket:
		op = &RegisterMarket{}
	case OpResolveChildMarket:
		op = &ResolveChildMarket{}
	case OpInitializeSpawner:
		op = &InitializeSpawner{}
	case OpCreateSpawnRule:
		op = &CreateSpawnRule{}
	case OpUpdateSpawnRule:
		op = &UpdateSpawnRule{}
	case OpProcessPendingSpawns:
		op = &ProcessPendingSpawns{}
	default:
		return nil, fmt.Errorf("decode operation: unknown kind %q: %w", kind, ErrInvalidParameters)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, op); err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", kind, err)
		}
	}
	return derefOperation(op), nil
}

func derefOperation(op Operation) Operation {
	switch o := op.(type) {
	case *CreateMarket:
		return *o
	case *PlaceBet:
		return *o
	case *ResolveMarket:
		return *o
	case *InitializeRegistry:
		return *o
	case *RegisterMarket:
		return *o
	case *ResolveChildMarket:
		return *o
	case *InitializeSpawner:
		return *o
	case *CreateSpawnRule:
		return *o
	case *UpdateSpawnRule:
		return *o
	case *ProcessPendingSpawns:
		return *o
	}
	return op
}

// DecodeMessage decodes a JSON payload of the given message kind.
func DecodeMessage(kind string, payload []byte) (Message, error) {
	switch kind {
	case MsgResolutionNotification:
		var m ResolutionNotification
		return decodeMessage(kind, payload, &m)
	case MsgMarketCreationRequest:
		var m MarketCreationRequest
		return decodeMessage(kind, payload, &m)
	case MsgMarketRegistered:
		var m MarketRegistered
		return decodeMessage(kind, payload, &m)
	default:
		return nil, fmt.Errorf("decode message: unknown kind %q: %w", kind, ErrInvalidParameters)
	}
}

func decodeMessage[T Message](kind string, payload []byte, m *T) (Message, error) {
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", kind, err)
	}
	return *m, nil
}
