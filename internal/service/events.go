package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
	"github.com/alanyoungcy/cascademarket/internal/market"
	"github.com/alanyoungcy/cascademarket/internal/spawn"
)

// EventsChannel is the pub/sub channel committed events are published on.
const EventsChannel = "cascade:events"

// EventSink receives committed engine events.
type EventSink interface {
	HandleEvent(ctx context.Context, ev domain.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev domain.Event)

// HandleEvent implements EventSink.
func (f EventSinkFunc) HandleEvent(ctx context.Context, ev domain.Event) { f(ctx, ev) }

// EventPublisher turns commits into events and fans them out to sinks.
type EventPublisher struct {
	sinks []EventSink
}

var _ host.Observer = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(sinks ...EventSink) *EventPublisher {
	return &EventPublisher{sinks: sinks}
}

// Committed implements host.Observer.
func (p *EventPublisher) Committed(ctx context.Context, c host.Commit) {
	for _, ev := range EventsFor(c) {
		for _, s := range p.sinks {
			s.HandleEvent(ctx, ev)
		}
	}
}

// BusSink publishes events as JSON on a SignalBus channel so every node's
// subscribers see them.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus, channel string, logger *slog.Logger) *BusSink {
	return &BusSink{bus: bus, channel: channel, logger: logger.With(slog.String("component", "event_bus"))}
}

// HandleEvent implements EventSink.
func (b *BusSink) HandleEvent(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		b.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// EventsFor derives the events of one commit.
func EventsFor(c host.Commit) []domain.Event {
	ev := func(t domain.EventType, marketID string, detail map[string]any) []domain.Event {
		return []domain.Event{{Type: t, Instance: c.Instance, MarketID: marketID, Detail: detail, At: c.At}}
	}

	switch in := c.Input.(type) {
	case domain.CreateMarket:
		m := snapshotOf(c)
		return ev(domain.EventMarketCreated, m.MarketID, map[string]any{
			"question":         m.Question,
			"outcomes":         m.Outcomes,
			"creator":          string(m.Creator),
			"parent_market_id": m.ParentMarketID,
		})
	case domain.PlaceBet:
		m := snapshotOf(c)
		return ev(domain.EventBetPlaced, m.MarketID, map[string]any{
			"outcome":      in.Outcome,
			"amount":       in.Amount.String(),
			"bettor":       string(c.Caller),
			"total_staked": m.TotalStaked.String(),
		})
	case domain.ResolveMarket:
		m := snapshotOf(c)
		return ev(domain.EventMarketResolved, m.MarketID, map[string]any{
			"question":        m.Question,
			"winning_outcome": m.WinningOutcome,
			"total_staked":    m.TotalStaked.String(),
		})
	case domain.MarketRegistered:
		return spawnedEvent(in.Info, ev)
	case domain.RegisterMarket:
		return spawnedEvent(in.Info, ev)
	case domain.CreateSpawnRule:
		return ev(domain.EventRuleUpdated, "", map[string]any{
			"rule_id": in.RuleID, "active": true, "by": string(c.Caller), "created": true,
		})
	case domain.UpdateSpawnRule:
		return ev(domain.EventRuleUpdated, "", map[string]any{
			"rule_id": in.RuleID, "active": in.Active, "by": string(c.Caller),
		})
	case domain.ResolutionNotification:
		queued := 0
		if e, ok := c.Contract.(*spawn.Engine); ok {
			for _, p := range e.Pending() {
				if p.ParentMarketID == in.MarketID && !p.Processed && p.ScheduledTime.Equal(c.At) {
					queued++
				}
			}
		}
		if queued+len(c.Outbox) == 0 {
			return nil
		}
		return ev(domain.EventSpawnQueued, in.MarketID, map[string]any{
			"immediate": len(c.Outbox), "queued": queued,
		})
	case domain.ProcessPendingSpawns:
		if len(c.Outbox) == 0 {
			return nil
		}
		return ev(domain.EventSpawnProcessed, "", map[string]any{"count": len(c.Outbox)})
	}
	return nil
}

func spawnedEvent(info domain.MarketInfo, ev func(domain.EventType, string, map[string]any) []domain.Event) []domain.Event {
	if info.ParentMarketID == "" {
		return nil
	}
	return ev(domain.EventMarketSpawned, info.MarketID, map[string]any{
		"parent_market_id": info.ParentMarketID,
		"question":         info.Question,
	})
}

func snapshotOf(c host.Commit) domain.MarketState {
	if mc, ok := c.Contract.(*market.Contract); ok {
		return mc.Snapshot()
	}
	return domain.MarketState{}
}
