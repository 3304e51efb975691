package domain

import "time"

// EventType names a committed state change published to subscribers.
type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventBetPlaced      EventType = "bet_placed"
	EventMarketResolved EventType = "market_resolved"
	EventMarketSpawned  EventType = "market_spawned"
	EventRuleUpdated    EventType = "rule_updated"
	EventSpawnQueued    EventType = "spawn_queued"
	EventSpawnProcessed EventType = "spawn_processed"
)

// Event is the payload published on the events channel and pushed to
// websocket clients.
type Event struct {
	Type     EventType      `json:"type"`
	Instance InstanceID     `json:"instance"`
	MarketID string         `json:"market_id,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
