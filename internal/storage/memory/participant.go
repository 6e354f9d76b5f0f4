// Package memory is the in-process storage backend. Writes are applied
// immediately; inside a transaction the prior value of every touched key is
// journaled first and put back on rollback.
package memory

import (
	"context"
	"sync"

	"github.com/sapliy/txrelay/internal/transaction"
)

// ResourceKey is the transaction resource key used by in-memory repositories.
const ResourceKey = "inmemory"

type journalKey struct {
	store sync.Locker
	id    string
}

// Participant keeps an undo journal of the keys written in one transaction.
// Rollback restores only those keys, so concurrent writes to other keys
// survive it.
type Participant struct {
	mu      sync.Mutex
	began   bool
	done    bool
	touched map[journalKey]struct{}
	undo    []func()
}

func NewParticipant() *Participant {
	return &Participant{touched: make(map[journalKey]struct{})}
}

func (p *Participant) Begin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return transaction.ErrParticipantClosed
	}
	p.began = true
	return nil
}

// Commit drops the journal; the writes are already in place.
func (p *Participant) Commit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finish()
	return nil
}

// Rollback replays the journal, most recent entry first.
func (p *Participant) Rollback(ctx context.Context) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	undo := p.undo
	p.finish()
	p.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (p *Participant) finish() {
	p.done = true
	p.touched = nil
	p.undo = nil
}

// remember journals restore for (store, id) unless the key was already
// touched in this transaction. Callers hold store's write lock.
func (p *Participant) remember(store sync.Locker, id string, restore func()) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return transaction.ErrParticipantClosed
	}
	p.began = true

	k := journalKey{store: store, id: id}
	if _, ok := p.touched[k]; ok {
		return nil
	}
	p.touched[k] = struct{}{}
	p.undo = append(p.undo, restore)
	return nil
}

// track journals the current value of items[id] with p. mu must be held for
// writing and items must never be reassigned, only mutated.
func track[V any](p *Participant, mu sync.Locker, items map[string]V, id string) error {
	if p == nil {
		return nil
	}
	prev, existed := items[id]
	return p.remember(mu, id, func() {
		mu.Lock()
		defer mu.Unlock()
		if existed {
			items[id] = prev
		} else {
			delete(items, id)
		}
	})
}

// participant returns the shared in-memory participant for tx, or nil
// outside a transaction.
func participant(ctx context.Context, tx *transaction.Context) (*Participant, error) {
	if tx == nil {
		return nil, nil
	}
	return transaction.Enlist(ctx, tx, ResourceKey, func() (*Participant, error) {
		return NewParticipant(), nil
	})
}
