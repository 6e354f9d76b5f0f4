package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Repository keeps entities in a map. T is stored by value, so entities
// holding pointers or slices share them with the caller.
type Repository[T repository.Entity] struct {
	mu    sync.RWMutex
	items map[string]T
}

var _ repository.Repository[repository.Entity] = (*Repository[repository.Entity])(nil)

func NewRepository[T repository.Entity]() *Repository[T] {
	return &Repository[T]{items: make(map[string]T)}
}

func (r *Repository[T]) Save(ctx context.Context, entity T, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.EntityID()
	if err := track(p, &r.mu, r.items, id); err != nil {
		return err
	}
	r.items[id] = entity
	return nil
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.items[id]
	if !ok {
		var zero T
		return zero, repository.ErrNotFound
	}
	return entity, nil
}

func (r *Repository[T]) Remove(ctx context.Context, id string, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return nil
	}
	if err := track(p, &r.mu, r.items, id); err != nil {
		return err
	}
	delete(r.items, id)
	return nil
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.items[id]
	return ok, nil
}

func (r *Repository[T]) Clear(ctx context.Context, tx *transaction.Context) error {
	p, err := participant(ctx, tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.items {
		if err := track(p, &r.mu, r.items, id); err != nil {
			return err
		}
	}
	clear(r.items)
	return nil
}

// All returns every stored entity ordered by id.
func (r *Repository[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(r.items))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out
}

// Len returns the number of stored entities.
func (r *Repository[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
