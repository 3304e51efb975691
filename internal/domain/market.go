package domain

import (
	"strings"
	"time"
)

// InstanceID addresses one running state machine: a market, the registry,
// the spawn engine, or an external account acting as a caller.
type InstanceID string

const marketInstancePrefix = "market/"

// MarketInstance returns the instance id hosting the market with the given id.
func MarketInstance(marketID string) InstanceID {
	return InstanceID(marketInstancePrefix + marketID)
}

// MarketIDOf returns the market id hosted by id, if id is a market instance.
func MarketIDOf(id InstanceID) (string, bool) {
	s := string(id)
	if !strings.HasPrefix(s, marketInstancePrefix) || len(s) == len(marketInstancePrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, marketInstancePrefix), true
}

// SpawnedMarketPrefix starts every market id the registry allocates. Ids of
// the form market_<digits> are reserved for the registry.
const SpawnedMarketPrefix = "market_"

// IsSpawnedMarketID reports whether id lies in the registry's reserved
// market_<n> namespace.
func IsSpawnedMarketID(id string) bool {
	n, ok := strings.CutPrefix(id, SpawnedMarketPrefix)
	if !ok || n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Bet is one immutable stake on an outcome.
type Bet struct {
	Bettor    InstanceID `json:"bettor"`
	Amount    Amount     `json:"amount"`
	Timestamp time.Time  `json:"timestamp"`
}

// MarketState is the full state of a market instance. A zero MarketID means
// the instance has not been created yet.
type MarketState struct {
	MarketID       string           `json:"market_id"`
	Question       string           `json:"question"`
	Outcomes       []string         `json:"outcomes"`
	Bets           map[string][]Bet `json:"bets"`
	TotalStaked    Amount           `json:"total_staked"`
	Resolved       bool             `json:"resolved"`
	WinningOutcome string           `json:"winning_outcome,omitempty"`
	ExpiryTime     time.Time        `json:"expiry_time"`
	Creator        InstanceID       `json:"creator"`
	CreatedAt      time.Time        `json:"created_at"`
	ParentMarketID string           `json:"parent_market_id,omitempty"`
	// ChildMarkets is carried for completeness; the registry is the authority
	// for parent/child links.
	ChildMarkets []string `json:"child_markets"`
}

// Exists reports whether the market has been created.
func (m MarketState) Exists() bool { return m.MarketID != "" }

// HasOutcome reports whether outcome is one of the market's outcomes.
func (m MarketState) HasOutcome(outcome string) bool {
	for _, o := range m.Outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// OutcomeTotal returns the sum of stakes placed on outcome.
func (m MarketState) OutcomeTotal(outcome string) Amount {
	var total Amount
	for _, b := range m.Bets[outcome] {
		total = total.SaturatingAdd(b.Amount)
	}
	return total
}

// OutcomeOdds is one row of a market's odds table.
type OutcomeOdds struct {
	Outcome     string  `json:"outcome"`
	TotalStaked Amount  `json:"total_staked"`
	Probability float64 `json:"probability"`
	Odds        float64 `json:"odds"`
}

// PlacedBet is a bet together with the outcome it backs.
type PlacedBet struct {
	Outcome string `json:"outcome"`
	Bet
}

// MarketInfo is the registry's copy of a market's identity plus its children.
type MarketInfo struct {
	MarketID       string     `json:"market_id"`
	Instance       InstanceID `json:"instance"`
	Question       string     `json:"question"`
	Outcomes       []string   `json:"outcomes"`
	ExpiryTime     time.Time  `json:"expiry_time"`
	ParentMarketID string     `json:"parent_market_id,omitempty"`
	ChildMarkets   []string   `json:"child_markets"`
	CreatedAt      time.Time  `json:"created_at"`
	Creator        InstanceID `json:"creator"`
	// Owner may resolve the market through the registry. Spawned markets
	// inherit their parent's owner.
	Owner InstanceID `json:"owner,omitempty"`
}

// MarketTree is a market and its descendants as returned by a tree walk.
// Each market appears at most once.
type MarketTree struct {
	Market   MarketInfo   `json:"market"`
	Children []MarketTree `json:"children"`
}

// Size returns the number of nodes in the tree.
func (t MarketTree) Size() int {
	n := 1
	for _, c := range t.Children {
		n += c.Size()
	}
	return n
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows a market directory listing.
type MarketFilter struct {
	Resolved *bool
	ParentID string
}
