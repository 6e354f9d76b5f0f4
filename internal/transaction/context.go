package transaction

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	key         string
	participant Participant
}

// Context is the per-operation registry of participants. Keys are unique and
// keep their first-registration order.
type Context struct {
	mu      sync.Mutex
	entries []entry
	index   map[string]int
	closed  bool
}

// NewContext returns an empty, open Context. Most callers get one from Coordinator.Run.
func NewContext() *Context {
	return &Context{index: make(map[string]int)}
}

// Register returns the participant bound to key, creating and beginning it on
// first use. A second registration for the same key returns the existing
// participant without calling factory. If factory or Begin fails nothing is
// recorded.
func (c *Context) Register(ctx context.Context, key string, factory Factory) (Participant, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	if i, ok := c.index[key]; ok {
		return c.entries[i].participant, nil
	}

	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create %s participant: %w", key, err)
	}

	if err := p.Begin(ctx); err != nil {
		return nil, fmt.Errorf("begin %s participant: %w", key, err)
	}

	c.index[key] = len(c.entries)
	c.entries = append(c.entries, entry{key: key, participant: p})

	return p, nil
}

// Participant returns the participant registered under key, if any.
func (c *Context) Participant(key string) (Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[i].participant, true
}

// Keys returns the registered resource keys in registration order.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of registered participants.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Closed reports whether the owning transaction has finished.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// seal closes the registry and hands back the participants for the final sweep.
func (c *Context) seal() []entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	out := make([]entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Enlist registers a participant of concrete type P under key, or returns the
// one already registered. It fails with ErrParticipantType when key is bound
// to a different implementation.
func Enlist[P Participant](ctx context.Context, tx *Context, key string, build func() (P, error)) (P, error) {
	var zero P

	p, err := tx.Register(ctx, key, func() (Participant, error) {
		built, err := build()
		if err != nil {
			return nil, err
		}
		return built, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := p.(P)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T", ErrParticipantType, key, p)
	}
	return typed, nil
}
