package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

// OutboxRepository is an outbox.Repository kept in process memory.
type OutboxRepository struct {
	mu     sync.RWMutex
	events map[string]outbox.Event
}

var _ outbox.Repository = (*OutboxRepository)(nil)

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[string]outbox.Event)}
}

func (r *OutboxRepository) Save(ctx context.Context, e outbox.Event, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := track(p, &r.mu, r.events, e.ID); err != nil {
		return err
	}
	r.events[e.ID] = e
	return nil
}

func (r *OutboxRepository) FindUnprocessed(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = outbox.DefaultBatchSize
	}

	r.mu.RLock()
	pending := make([]outbox.Event, 0, len(r.events))
	for _, e := range r.events {
		if !e.IsProcessed() {
			pending = append(pending, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(pending, func(a, b outbox.Event) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.events {
		if !e.ProcessedBefore(olderThan) {
			continue
		}
		if err := track(p, &r.mu, r.events, id); err != nil {
			return err
		}
		delete(r.events, id)
	}
	return nil
}

func (r *OutboxRepository) FindByID(ctx context.Context, id string) (outbox.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok {
		return outbox.Event{}, outbox.ErrEventNotFound
	}
	return e, nil
}

func (r *OutboxRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.events {
		if err := track(p, &r.mu, r.events, id); err != nil {
			return err
		}
	}
	clear(r.events)
	return nil
}
