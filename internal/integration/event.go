// Package integration holds the envelope for events that leave a bounded
// context, the decoder registry that turns an envelope back into a typed
// event, and a consumer-side dispatcher keyed by topic and event name.
package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEventNameRequired = errors.New("integration: event name is required")
	ErrInvalidEnvelope   = errors.New("integration: invalid envelope")
)

// Event is a typed integration event.
type Event interface {
	EventName() string
}

// Envelope is the wire form of every integration event.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope wraps e with a fresh id and the current time.
func NewEnvelope(e Event) (Envelope, error) {
	return NewEnvelopeAt(e, time.Now())
}

func NewEnvelopeAt(e Event, at time.Time) (Envelope, error) {
	name := strings.TrimSpace(e.EventName())
	if name == "" {
		return Envelope{}, ErrEventNameRequired
	}

	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", name, err)
	}

	return Envelope{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}

// Marshal encodes e inside a fresh envelope.
func Marshal(e Event) ([]byte, error) {
	env, err := NewEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope decodes and validates an envelope.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Name == "" {
		return Envelope{}, fmt.Errorf("%w: missing name", ErrInvalidEnvelope)
	}
	return env, nil
}
