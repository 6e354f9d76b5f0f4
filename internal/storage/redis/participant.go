// Package redis is the key-value storage backend. Inside a transaction every
// write is queued on a MULTI/EXEC pipeline that is executed on commit and
// discarded on rollback; reads always go to the client.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/txrelay/internal/transaction"
)

// ResourceKey is the default transaction resource key for Redis.
const ResourceKey = "redis"

// Participant buffers writes on a transactional pipeline.
type Participant struct {
	client redis.UniversalClient

	mu   sync.Mutex
	pipe redis.Pipeliner
	done bool
}

func NewParticipant(client redis.UniversalClient) *Participant {
	return &Participant{client: client}
}

func (p *Participant) Begin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.beginLocked()
}

func (p *Participant) beginLocked() error {
	if p.done {
		return transaction.ErrParticipantClosed
	}
	if p.pipe == nil {
		p.pipe = p.client.TxPipeline()
	}
	return nil
}

// Pipeline returns the transaction's pipeline, beginning on first use.
// Queued commands are not sent until Commit.
func (p *Participant) Pipeline(ctx context.Context) (redis.Pipeliner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLocked(); err != nil {
		return nil, err
	}
	return p.pipe, nil
}

// Commit sends the queued commands as one MULTI/EXEC block.
func (p *Participant) Commit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return transaction.ErrParticipantClosed
	}
	p.done = true

	if p.pipe == nil || p.pipe.Len() == 0 {
		return nil
	}

	if _, err := p.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec redis transaction: %w", err)
	}
	return nil
}

// Rollback drops the queued commands without sending them.
func (p *Participant) Rollback(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil
	}
	p.done = true

	if p.pipe != nil {
		p.pipe.Discard()
	}
	return nil
}

type options struct {
	resourceKey string
}

// Option configures a Redis repository.
type Option func(*options)

// WithResourceKey binds the repository to a non-default resource key, for
// processes that write to more than one Redis deployment.
func WithResourceKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.resourceKey = key
		}
	}
}

func newOptions(opts []Option) options {
	o := options{resourceKey: ResourceKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// pipeline enlists the Redis participant for tx and returns its pipeline.
func pipeline(ctx context.Context, tx *transaction.Context, key string, client redis.UniversalClient) (redis.Pipeliner, error) {
	p, err := transaction.Enlist(ctx, tx, key, func() (*Participant, error) {
		return NewParticipant(client), nil
	})
	if err != nil {
		return nil, err
	}
	return p.Pipeline(ctx)
}

// write queues fn on tx's pipeline, or runs it in its own MULTI/EXEC when tx is nil.
func write(ctx context.Context, client redis.UniversalClient, key string, tx *transaction.Context, fn func(redis.Pipeliner)) error {
	if tx != nil {
		pipe, err := pipeline(ctx, tx, key, client)
		if err != nil {
			return err
		}
		fn(pipe)
		return nil
	}

	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		return nil
	})
	return err
}
