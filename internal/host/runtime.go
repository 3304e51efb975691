// Package host runs market, registry and spawn engine instances: it loads an
// instance's state, applies one operation or message under mutual exclusion,
// commits the result and delivers the instance's outbox.
package host

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Runtime is what a contract sees while handling one operation or message.
// Send and Call only queue work; nothing leaves the instance unless the step
// succeeds.
type Runtime interface {
	Self() domain.InstanceID
	Caller() domain.InstanceID
	Now() time.Time
	// Send queues a message to another instance.
	Send(to domain.InstanceID, msg domain.Message)
	// Call queues an operation executed on another instance with this
	// instance as the caller.
	Call(to domain.InstanceID, op domain.Operation)
}

// Contract is a state machine hosted on an instance.
type Contract interface {
	// Kind names the contract type for persistence.
	Kind() string
	// State returns a pointer to the JSON-serialisable state.
	State() any
	ExecuteOperation(rt Runtime, op domain.Operation) error
	HandleMessage(rt Runtime, msg domain.Message) error
}

// Factory returns an empty contract for the instance id.
type Factory func(id domain.InstanceID) (Contract, error)

type queued struct {
	typ     domain.EnvelopeType
	to      domain.InstanceID
	kind    string
	payload any
}

// step is the Runtime for a single operation or message.
type step struct {
	self   domain.InstanceID
	caller domain.InstanceID
	now    time.Time
	outbox []queued
}

func (s *step) Self() domain.InstanceID   { return s.self }
func (s *step) Caller() domain.InstanceID { return s.caller }
func (s *step) Now() time.Time            { return s.now }

func (s *step) Send(to domain.InstanceID, msg domain.Message) {
	s.outbox = append(s.outbox, queued{typ: domain.EnvelopeMessage, to: to, kind: msg.MessageKind(), payload: msg})
}

func (s *step) Call(to domain.InstanceID, op domain.Operation) {
	s.outbox = append(s.outbox, queued{typ: domain.EnvelopeOperation, to: to, kind: op.OperationKind(), payload: op})
}

// envelopes encodes the outbox. The sender is the caller of every queued
// envelope.
func (s *step) envelopes() ([]domain.Envelope, error) {
	out := make([]domain.Envelope, 0, len(s.outbox))
	for _, q := range s.outbox {
		payload, err := json.Marshal(q.payload)
		if err != nil {
			return nil, fmt.Errorf("host: encode %s for %s: %w", q.kind, q.to, err)
		}
		out = append(out, domain.Envelope{
			ID:      uuid.NewString(),
			Type:    q.typ,
			From:    s.self,
			To:      q.to,
			Caller:  s.self,
			Kind:    q.kind,
			Payload: payload,
			SentAt:  s.now,
		})
	}
	return out, nil
}
