package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SpawnTemplate describes the child market created when a rule fires.
type SpawnTemplate struct {
	QuestionTemplate    string   `json:"question_template" toml:"question_template"`
	Outcomes            []string `json:"outcomes" toml:"outcomes"`
	ExpiryOffsetSeconds uint64   `json:"expiry_offset_seconds" toml:"expiry_offset_seconds"`
	SeedLiquidityRatio  float64  `json:"seed_liquidity_ratio" toml:"seed_liquidity_ratio"`
}

// Validate checks the template parameters.
func (t SpawnTemplate) Validate() error {
	if t.QuestionTemplate == "" {
		return fmt.Errorf("spawn template: empty question template: %w", ErrInvalidParameters)
	}
	if err := ValidateOutcomes(t.Outcomes); err != nil {
		return fmt.Errorf("spawn template: %w", err)
	}
	if !(t.SeedLiquidityRatio >= 0 && t.SeedLiquidityRatio <= 1) {
		return fmt.Errorf("spawn template: seed liquidity ratio %v outside [0,1]: %w", t.SeedLiquidityRatio, ErrInvalidParameters)
	}
	return nil
}

// ExpiryOffset returns the expiry offset as a duration, capped at the largest
// representable duration.
func (t SpawnTemplate) ExpiryOffset() time.Duration {
	const maxSeconds = uint64(1<<63-1) / uint64(time.Second)
	if t.ExpiryOffsetSeconds > maxSeconds {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(t.ExpiryOffsetSeconds) * time.Second
}

// ValidateOutcomes requires at least two distinct non-empty outcomes.
func ValidateOutcomes(outcomes []string) error {
	if len(outcomes) < 2 {
		return fmt.Errorf("need at least 2 outcomes, got %d: %w", len(outcomes), ErrInvalidParameters)
	}
	seen := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o == "" {
			return fmt.Errorf("empty outcome: %w", ErrInvalidParameters)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("duplicate outcome %q: %w", o, ErrInvalidParameters)
		}
		seen[o] = struct{}{}
	}
	return nil
}

// TriggerCondition decides whether a rule fires for a resolved market. It is
// one of MarketResolutionTrigger, TimeDelayTrigger or CustomLogicTrigger.
type TriggerCondition interface {
	triggerKind() string
}

// MarketResolutionTrigger fires when both patterns occur, case-insensitively,
// in the resolved question and winning outcome respectively.
type MarketResolutionTrigger struct {
	MarketPattern  string `json:"market_pattern"`
	OutcomePattern string `json:"outcome_pattern"`
}

// TimeDelayTrigger fires on every resolution. A zero delay creates the child
// market immediately.
type TimeDelayTrigger struct {
	DelaySeconds uint64 `json:"delay_seconds"`
}

// CustomLogicTrigger is reserved for externally evaluated logic and never
// fires. LogicHash is a content hash and travels as 0x-prefixed hex of
// exactly 32 bytes; free-form identifiers are rejected at decode time.
type CustomLogicTrigger struct {
	LogicHash common.Hash `json:"logic_hash"`
}

const (
	TriggerMarketResolution = "market_resolution"
	TriggerTimeDelay        = "time_delay"
	TriggerCustomLogic      = "custom_logic"
)

func (MarketResolutionTrigger) triggerKind() string { return TriggerMarketResolution }
func (TimeDelayTrigger) triggerKind() string        { return TriggerTimeDelay }
func (CustomLogicTrigger) triggerKind() string      { return TriggerCustomLogic }

// TriggerKind returns the tag of a trigger condition.
func TriggerKind(t TriggerCondition) string {
	if t == nil {
		return ""
	}
	return t.triggerKind()
}

type triggerJSON struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalTrigger encodes a trigger as {"type": ..., "data": {...}}.
func MarshalTrigger(t TriggerCondition) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("marshal trigger: nil condition: %w", ErrInvalidParameters)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(triggerJSON{Type: t.triggerKind(), Data: data})
}

// UnmarshalTrigger decodes the encoding produced by MarshalTrigger.
func UnmarshalTrigger(b []byte) (TriggerCondition, error) {
	var raw triggerJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	switch raw.Type {
	case TriggerMarketResolution:
		var t MarketResolutionTrigger
		if err := decodeTriggerData(raw.Data, &t); err != nil {
			return nil, err
		}
		return t, nil
	case TriggerTimeDelay:
		var t TimeDelayTrigger
		if err := decodeTriggerData(raw.Data, &t); err != nil {
			return nil, err
		}
		return t, nil
	case TriggerCustomLogic:
		var t CustomLogicTrigger
		if err := decodeTriggerData(raw.Data, &t); err != nil {
			return nil, fmt.Errorf("custom_logic: logic_hash must be 0x followed by 64 hex digits (%v): %w", err, ErrInvalidParameters)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unmarshal trigger: unknown type %q: %w", raw.Type, ErrInvalidParameters)
	}
}

func decodeTriggerData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal trigger data: %w", err)
	}
	return nil
}

// Trigger wraps a TriggerCondition so it can be embedded in JSON documents.
type Trigger struct {
	Condition TriggerCondition
}

// MarshalJSON implements json.Marshaler.
func (t Trigger) MarshalJSON() ([]byte, error) { return MarshalTrigger(t.Condition) }

// UnmarshalJSON implements json.Unmarshaler.
func (t *Trigger) UnmarshalJSON(b []byte) error {
	c, err := UnmarshalTrigger(b)
	if err != nil {
		return err
	}
	t.Condition = c
	return nil
}

// SpawnRule maps a trigger condition to a child market template.
type SpawnRule struct {
	RuleID           string        `json:"rule_id"`
	TriggerCondition Trigger       `json:"trigger_condition"`
	SpawnTemplate    SpawnTemplate `json:"spawn_template"`
	Active           bool          `json:"active"`
	CreatedBy        InstanceID    `json:"created_by"`
}

// PendingSpawn is a queued child market creation. Entries are never removed;
// Processed flips to true exactly once.
type PendingSpawn struct {
	SpawnID        string        `json:"spawn_id"`
	RuleID         string        `json:"rule_id"`
	ParentMarketID string        `json:"parent_market_id"`
	ParentOutcome  string        `json:"parent_outcome"`
	SpawnTemplate  SpawnTemplate `json:"spawn_template"`
	ScheduledTime  time.Time     `json:"scheduled_time"`
	Processed      bool          `json:"processed"`
}
