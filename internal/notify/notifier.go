// Package notify forwards engine events to chat channels. Events are filtered
// by type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every Sender whose event type is
// allowed.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If events is empty, all event types pass.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allows reports whether events of the given type are forwarded.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// HandleEvent formats an engine event and notifies on it. Failures are
// logged; chat delivery never blocks the engine.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) {
	if !n.Allows(string(ev.Type)) {
		return
	}
	title, message := Format(ev)
	if err := n.dispatch(ctx, title, message); err != nil {
		n.logger.WarnContext(ctx, "notification failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Format renders an event as a title and message body.
func Format(ev domain.Event) (title, message string) {
	d := ev.Detail
	switch ev.Type {
	case domain.EventMarketResolved:
		return "Market resolved",
			fmt.Sprintf("%s\n%v\nWinner: %v (staked %v)", ev.MarketID, d["question"], d["winning_outcome"], d["total_staked"])
	case domain.EventMarketSpawned:
		return "Child market opened",
			fmt.Sprintf("%s (child of %v)\n%v", ev.MarketID, d["parent_market_id"], d["question"])
	case domain.EventRuleUpdated:
		return "Spawn rule updated",
			fmt.Sprintf("%v active=%v by %v", d["rule_id"], d["active"], d["by"])
	default:
		var parts []string
		for k, v := range d {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		return string(ev.Type), strings.TrimSpace(ev.MarketID + " " + strings.Join(parts, " "))
	}
}

// dispatch sends to every sender; one sender failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
