package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Key layout. Index scores are Unix milliseconds.
const (
	outboxEventPrefix    = "outbox:event:"
	outboxUnprocessedKey = "outbox:unprocessedByCreatedAt"
	outboxProcessedKey   = "outbox:processedByProcessedAt"
)

// OutboxRepository keeps each event as JSON under outbox:event:{id} and
// indexes it in exactly one of two sorted sets: unprocessed events by
// creation time, processed events by processing time.
type OutboxRepository struct {
	client redis.UniversalClient
	opts   options
}

var _ outbox.Repository = (*OutboxRepository)(nil)

func NewOutboxRepository(client redis.UniversalClient, opts ...Option) *OutboxRepository {
	return &OutboxRepository{client: client, opts: newOptions(opts)}
}

// Save writes the record and moves it to the index matching its state in
// one MULTI/EXEC block.
func (r *OutboxRepository) Save(ctx context.Context, e outbox.Event, tx *transaction.Context) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox event %s: %w", e.ID, err)
	}

	return write(ctx, r.client, r.opts.resourceKey, tx, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, eventKey(e.ID), body, 0)
		if e.IsProcessed() {
			pipe.ZRem(ctx, outboxUnprocessedKey, e.ID)
			pipe.ZAdd(ctx, outboxProcessedKey, redis.Z{Score: score(e.ProcessedAt), Member: e.ID})
			return
		}
		pipe.ZRem(ctx, outboxProcessedKey, e.ID)
		pipe.ZAdd(ctx, outboxUnprocessedKey, redis.Z{Score: score(e.CreatedAt), Member: e.ID})
	})
}

func (r *OutboxRepository) FindUnprocessed(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = outbox.DefaultBatchSize
	}

	ids, err := r.client.ZRange(ctx, outboxUnprocessedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read unprocessed index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load unprocessed events: %w", err)
	}

	events := make([]outbox.Event, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record; left for the next Save or Clear.
			continue
		}
		var e outbox.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal outbox event %s: %w", ids[i], err)
		}
		events = append(events, e)
	}
	return events, nil
}

// DeleteProcessed removes events whose processing time is strictly before olderThan.
func (r *OutboxRepository) DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error {
	ids, err := r.client.ZRangeByScore(ctx, outboxProcessedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(outbox.Cutoff(olderThan).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("read processed index: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(id)
		members[i] = id
	}

	return write(ctx, r.client, r.opts.resourceKey, tx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, outboxProcessedKey, members...)
	})
}

func (r *OutboxRepository) FindByID(ctx context.Context, id string) (outbox.Event, error) {
	raw, err := r.client.Get(ctx, eventKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return outbox.Event{}, outbox.ErrEventNotFound
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("get outbox event %s: %w", id, err)
	}

	var e outbox.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return outbox.Event{}, fmt.Errorf("unmarshal outbox event %s: %w", id, err)
	}
	return e, nil
}

func (r *OutboxRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	keys, err := scanKeys(ctx, r.client, outboxEventPrefix+"*")
	if err != nil {
		return err
	}
	keys = append(keys, outboxUnprocessedKey, outboxProcessedKey)

	return write(ctx, r.client, r.opts.resourceKey, tx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, keys...)
	})
}

func eventKey(id string) string {
	return outboxEventPrefix + id
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
