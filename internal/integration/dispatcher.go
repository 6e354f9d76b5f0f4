package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNoHandler = errors.New("integration: no handler for route")

// Handler consumes one decoded event.
type Handler func(ctx context.Context, env Envelope, e Event) error

type route struct {
	topic string
	name  string
}

// Dispatcher routes consumed messages to handlers by (topic, event name).
// Routes are fixed at registration time.
type Dispatcher struct {
	registry *Registry

	mu       sync.RWMutex
	handlers map[route][]Handler
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		handlers: make(map[route][]Handler),
	}
}

// Handle adds h for events named name arriving on topic.
func (d *Dispatcher) Handle(topic, name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := route{topic: topic, name: name}
	d.handlers[r] = append(d.handlers[r], h)
}

// Dispatch decodes payload and runs every handler bound to its route in
// registration order, stopping at the first error.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) error {
	env, e, err := d.registry.DecodePayload(payload)
	if err != nil {
		return err
	}

	d.mu.RLock()
	handlers := d.handlers[route{topic: topic, name: env.Name}]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNoHandler, topic, env.Name)
	}

	for _, h := range handlers {
		if err := h(ctx, env, e); err != nil {
			return fmt.Errorf("handle %s/%s: %w", topic, env.Name, err)
		}
	}
	return nil
}
