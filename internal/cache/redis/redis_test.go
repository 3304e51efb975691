package redis

import "testing"

func TestClientKey(t *testing.T) {
	c := &Client{prefix: "cascade:"}
	if got, want := c.Key("market:m1"), "cascade:market:m1"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
	if got := (&Client{}).Key("x"); got != "x" {
		t.Errorf("Key() without prefix = %q, want x", got)
	}
}

func TestHasPattern(t *testing.T) {
	tests := []struct {
		channel string
		want    bool
	}{
		{"cascade:events", false},
		{"cascade:*", true},
		{"events?", true},
		{"ev[ab]", true},
	}
	for _, tt := range tests {
		if got := hasPattern(tt.channel); got != tt.want {
			t.Errorf("hasPattern(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestPayloadOf(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
		ok     bool
	}{
		{"string", map[string]any{"payload": "abc"}, "abc", true},
		{"bytes", map[string]any{"payload": []byte("xyz")}, "xyz", true},
		{"missing", map[string]any{"other": "abc"}, "", false},
		{"wrong type", map[string]any{"payload": 7}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := payloadOf(tt.values)
			if ok != tt.ok || string(got) != tt.want {
				t.Errorf("payloadOf() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStreamTransportCursorKey(t *testing.T) {
	tr := &StreamTransport{c: &Client{prefix: "p:"}, stream: "envelopes", consumer: "node-1"}
	if got, want := tr.cursorKey(), "p:cursor:envelopes:node-1"; got != want {
		t.Errorf("cursorKey() = %q, want %q", got, want)
	}
}
