package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Repository stores JSON-encoded entities under "<prefix>:<id>".
type Repository[T repository.Entity] struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

var _ repository.Repository[repository.Entity] = (*Repository[repository.Entity])(nil)

func NewRepository[T repository.Entity](client redis.UniversalClient, prefix string, opts ...Option) *Repository[T] {
	return &Repository[T]{client: client, prefix: prefix, opts: newOptions(opts)}
}

func (r *Repository[T]) Save(ctx context.Context, entity T, tx *transaction.Context) error {
	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.prefix, err)
	}

	return r.write(ctx, tx, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, r.key(entity.EntityID()), body, 0)
	})
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var entity T

	body, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity, repository.ErrNotFound
	}
	if err != nil {
		return entity, fmt.Errorf("get %s: %w", r.key(id), err)
	}

	if err := json.Unmarshal(body, &entity); err != nil {
		return entity, fmt.Errorf("unmarshal %s: %w", r.key(id), err)
	}
	return entity, nil
}

func (r *Repository[T]) Remove(ctx context.Context, id string, tx *transaction.Context) error {
	return r.write(ctx, tx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, r.key(id))
	})
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", r.key(id), err)
	}
	return n > 0, nil
}

// Clear deletes every key under the prefix. Keys are found with SCAN before
// the delete is queued, so keys added later in the same transaction survive.
func (r *Repository[T]) Clear(ctx context.Context, tx *transaction.Context) error {
	keys, err := scanKeys(ctx, r.client, r.prefix+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return r.write(ctx, tx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, keys...)
	})
}

func (r *Repository[T]) key(id string) string {
	return r.prefix + ":" + id
}

func (r *Repository[T]) write(ctx context.Context, tx *transaction.Context, fn func(redis.Pipeliner)) error {
	return write(ctx, r.client, r.opts.resourceKey, tx, fn)
}

func scanKeys(ctx context.Context, client redis.UniversalClient, match string) ([]string, error) {
	var keys []string

	iter := client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", match, err)
	}
	return keys, nil
}
