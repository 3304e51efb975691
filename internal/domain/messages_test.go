package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTriggerJSON(t *testing.T) {
	rule := SpawnRule{
		RuleID:           "r1",
		TriggerCondition: Trigger{Condition: MarketResolutionTrigger{MarketPattern: "election", OutcomePattern: "yes"}},
		Active:           true,
	}
	b, err := json.Marshal(rule)
	if err != nil {
		t.Fatal(err)
	}
	var got SpawnRule
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	mr, ok := got.TriggerCondition.Condition.(MarketResolutionTrigger)
	if !ok || mr.MarketPattern != "election" || mr.OutcomePattern != "yes" {
		t.Errorf("decoded trigger = %#v", got.TriggerCondition.Condition)
	}

	if _, err := UnmarshalTrigger([]byte(`{"type":"oracle"}`)); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("unknown trigger err = %v, want ErrInvalidParameters", err)
	}
	for _, hash := range []string{`"rule-v2"`, `"0xabcd"`, `"` + strings.Repeat("ab", 32) + `"`} {
		_, err := UnmarshalTrigger([]byte(`{"type":"custom_logic","data":{"logic_hash":` + hash + `}}`))
		if !errors.Is(err, ErrInvalidParameters) || !strings.Contains(err.Error(), "64 hex digits") {
			t.Errorf("logic_hash %s err = %v, want ErrInvalidParameters naming the format", hash, err)
		}
	}
	cl, err := UnmarshalTrigger([]byte(`{"type":"custom_logic","data":{"logic_hash":"0x` + strings.Repeat("ab", 32) + `"}}`))
	if err != nil || TriggerKind(cl) != TriggerCustomLogic {
		t.Errorf("valid logic_hash = %#v, %v", cl, err)
	}
	td, err := UnmarshalTrigger([]byte(`{"type":"time_delay"}`))
	if err != nil || td != (TimeDelayTrigger{}) {
		t.Errorf("time_delay without data = %#v, %v", td, err)
	}
}

func TestDecodeOperationReturnsValues(t *testing.T) {
	op, err := DecodeOperation(OpPlaceBet, []byte(`{"outcome":"Yes","amount":"3"}`))
	if err != nil {
		t.Fatal(err)
	}
	bet, ok := op.(PlaceBet)
	if !ok {
		t.Fatalf("decoded %T, want PlaceBet", op)
	}
	if bet.Outcome != "Yes" || bet.Amount.Cmp(Tokens(3)) != 0 {
		t.Errorf("bet = %+v", bet)
	}

	op, err = DecodeOperation(OpProcessPendingSpawns, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := op.(ProcessPendingSpawns); !ok {
		t.Errorf("decoded %T, want ProcessPendingSpawns", op)
	}

	if _, err := DecodeOperation("market.burn", nil); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage(MsgResolutionNotification, []byte(`{"market_id":"m1","winning_outcome":"No","total_stake":"1"}`))
	if err != nil {
		t.Fatal(err)
	}
	n, ok := msg.(ResolutionNotification)
	if !ok || n.MarketID != "m1" || n.WinningOutcome != "No" {
		t.Errorf("decoded %#v", msg)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("market: bet: %w", ErrExpired), "expired"},
		{fmt.Errorf("x: %w", ErrUnauthorized), "unauthorized"},
		{errors.New("boom"), "internal"},
		{fmt.Errorf("save: %w", ErrVersionConflict), "version_conflict"},
	}
	for _, tc := range tests {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !IsRejection(fmt.Errorf("w: %w", ErrNotFound)) || IsRejection(ErrLockHeld) {
		t.Error("IsRejection misclassifies")
	}
	if IsRejection(fmt.Errorf("w: %w", ErrVersionConflict)) {
		t.Error("a version conflict must stay retryable")
	}
}

func TestMarketInstance(t *testing.T) {
	id, ok := MarketIDOf(MarketInstance("market_3"))
	if !ok || id != "market_3" {
		t.Errorf("MarketIDOf = %q, %v", id, ok)
	}
	if _, ok := MarketIDOf("registry"); ok {
		t.Error("registry parsed as a market instance")
	}
}

func TestIsSpawnedMarketID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"market_0", true},
		{"market_42", true},
		{"market_", false},
		{"market_x1", false},
		{"market_1b", false},
		{"my_market_1", false},
		{"pres", false},
	}
	for _, tc := range tests {
		if got := IsSpawnedMarketID(tc.id); got != tc.want {
			t.Errorf("IsSpawnedMarketID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
