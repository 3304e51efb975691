package domain

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// EnvelopeType distinguishes operations from messages on the wire.
type EnvelopeType string

const (
	EnvelopeOperation EnvelopeType = "operation"
	EnvelopeMessage   EnvelopeType = "message"
)

// Envelope carries one operation or message between instances. ID is unique
// per send and is used for de-duplication on receipt. Envelopes emitted by a
// hosted instance also carry Seq, which increases by one per envelope sent by
// From and lets the receiver drop redeliveries across restarts.
type Envelope struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq,omitempty"`
	Type      EnvelopeType    `json:"type"`
	From      InstanceID      `json:"from"`
	To        InstanceID      `json:"to"`
	Caller    InstanceID      `json:"caller"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	SentAt    time.Time       `json:"sent_at"`
	Signature string          `json:"sig,omitempty"`
}

// SigningBytes returns the canonical bytes covered by the envelope signature.
func (e Envelope) SigningBytes() []byte {
	b := make([]byte, 0, 128+len(e.Payload))
	for _, part := range []string{e.ID, string(e.Type), string(e.From), string(e.To), string(e.Caller), e.Kind} {
		b = append(b, part...)
		b = append(b, '\n')
	}
	b = strconv.AppendUint(b, e.Seq, 10)
	b = append(b, '\n')
	b = append(b, e.SentAt.UTC().Format(time.RFC3339Nano)...)
	b = append(b, '\n')
	return append(b, e.Payload...)
}

// Transport delivers envelopes between instances, FIFO per sender and
// receiver, at least once.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
}

// EnvelopeHandler processes one inbound envelope.
type EnvelopeHandler func(ctx context.Context, env Envelope) error
