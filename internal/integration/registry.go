package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrUnknownEvent      = errors.New("integration: no decoder registered for event")
	ErrDecoderRegistered = errors.New("integration: decoder already registered")
)

// Decoder turns an envelope's data back into a typed event.
type Decoder func(data json.RawMessage) (Event, error)

// Registry maps event names to decoders. It is process-scoped state: build
// one at startup and inject it where events are decoded.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

func (r *Registry) Register(name string, decoder Decoder) error {
	if name == "" {
		return ErrEventNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[name]; ok {
		return fmt.Errorf("%w: %s", ErrDecoderRegistered, name)
	}
	r.decoders[name] = decoder
	return nil
}

// RegisterType registers a JSON decoder for T under T's own event name.
func RegisterType[T Event](r *Registry) error {
	var zero T
	return r.Register(zero.EventName(), func(data json.RawMessage) (Event, error) {
		var e T
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
}

func (r *Registry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[env.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Name)
	}

	e, err := decoder(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	return e, nil
}

// DecodePayload parses raw as an envelope and decodes its data.
func (r *Registry) DecodePayload(raw []byte) (Envelope, Event, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return Envelope{}, nil, err
	}

	e, err := r.Decode(env)
	if err != nil {
		return env, nil, err
	}
	return env, e, nil
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.decoders))
}

// Reset drops every decoder.
func (r *Registry) Reset() {
	r.mu.Lock()
	clear(r.decoders)
	r.mu.Unlock()
}
