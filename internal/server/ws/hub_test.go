package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil, "", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if got := readType(t, conn); got != "hello" {
		t.Fatalf("first message: got %q, want hello", got)
	}
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	s, _ := readMessage(t, conn)["type"].(string)
	return s
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, conn := startHub(t)

	hub.HandleEvent(context.Background(), domain.Event{
		Type:     domain.EventMarketSpawned,
		MarketID: "market_0",
		Detail:   map[string]any{"parent_market_id": "cup"},
	})

	m := readMessage(t, conn)
	if m["type"] != string(domain.EventMarketSpawned) || m["market_id"] != "market_0" {
		t.Errorf("got %v", m)
	}
}

func TestHubTopicFilter(t *testing.T) {
	hub, conn := startHub(t)

	send := func(action string, topics ...string) {
		t.Helper()
		if err := conn.WriteJSON(subscribeMsg{Action: action, Topics: topics}); err != nil {
			t.Fatal(err)
		}
		if got := readType(t, conn); got != "subscribed" {
			t.Fatalf("ack: got %q, want subscribed", got)
		}
	}
	send("unsubscribe", TopicAll)
	send("subscribe", "market:m2")

	ctx := context.Background()
	hub.HandleEvent(ctx, domain.Event{Type: domain.EventBetPlaced, MarketID: "m1"})
	hub.HandleEvent(ctx, domain.Event{Type: domain.EventBetPlaced, MarketID: "m2"})

	if m := readMessage(t, conn); m["market_id"] != "m2" {
		t.Errorf("got %v, want only the m2 event", m)
	}
}

func TestHubRejectsUnknownAction(t *testing.T) {
	_, conn := startHub(t)
	if err := conn.WriteJSON(subscribeMsg{Action: "replay"}); err != nil {
		t.Fatal(err)
	}
	if got := readType(t, conn); got != "error" {
		t.Errorf("got %q, want error", got)
	}
}

func TestClientWants(t *testing.T) {
	tests := []struct {
		name   string
		topics []string
		ev     domain.Event
		want   bool
	}{
		{"all", []string{TopicAll}, domain.Event{Type: domain.EventRuleUpdated}, true},
		{"by type", []string{"market_resolved"}, domain.Event{Type: domain.EventMarketResolved, MarketID: "x"}, true},
		{"other type", []string{"market_resolved"}, domain.Event{Type: domain.EventBetPlaced, MarketID: "x"}, false},
		{"by market", []string{"market:x"}, domain.Event{Type: domain.EventBetPlaced, MarketID: "x"}, true},
		{"market topic on marketless event", []string{"market:"}, domain.Event{Type: domain.EventSpawnProcessed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{topics: map[string]bool{}}
			for _, topic := range tt.topics {
				c.topics[topic] = true
			}
			if got := c.wants(tt.ev); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
