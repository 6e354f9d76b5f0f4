package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/outbox/outboxtest"
	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/storage/memory"
	"github.com/sapliy/txrelay/internal/transaction"
)

type session struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (s session) EntityID() string { return s.ID }

type profile struct {
	ID   string
	Name string
}

func (p profile) EntityID() string { return p.ID }

var errRejected = errors.New("rejected")

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestOutboxRepositoryContract(t *testing.T) {
	outboxtest.RunRepositoryContract(t, func(t *testing.T) outbox.Repository {
		_, client := newClient(t)
		return NewOutboxRepository(client)
	})
}

func TestOutboxSaveMaintainsIndexes(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	repo := NewOutboxRepository(client)

	e := outboxtest.NewFixture(t, "evt-1", 0)
	require.NoError(t, repo.Save(ctx, e, nil))

	assert.True(t, mr.Exists("outbox:event:evt-1"))
	createdScore, err := mr.ZScore(outboxUnprocessedKey, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, float64(e.CreatedAt.UnixMilli()), createdScore)

	processedAt := outboxtest.Base.Add(time.Minute)
	require.NoError(t, e.MarkProcessed(processedAt))
	require.NoError(t, repo.Save(ctx, e, nil))

	unprocessed, err := mr.ZMembers(outboxUnprocessedKey)
	if err == nil {
		assert.NotContains(t, unprocessed, "evt-1")
	}
	processedScore, err := mr.ZScore(outboxProcessedKey, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, float64(processedAt.UnixMilli()), processedScore)
}

func TestOutboxFindUnprocessedSkipsDanglingIndexEntries(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	repo := NewOutboxRepository(client)

	require.NoError(t, repo.Save(ctx, outboxtest.NewFixture(t, "evt-1", 0), nil))
	require.NoError(t, repo.Save(ctx, outboxtest.NewFixture(t, "evt-2", time.Second), nil))
	mr.Del("outbox:event:evt-1")

	events, err := repo.FindUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)
}

func TestOutboxSaveInTransactionIsBufferedUntilCommit(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	repo := NewOutboxRepository(client)
	coordinator := transaction.NewCoordinator()

	err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		require.NoError(t, repo.Save(ctx, outboxtest.NewFixture(t, "evt-1", 0), tx))
		assert.False(t, mr.Exists("outbox:event:evt-1"), "write must wait for commit")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("outbox:event:evt-1"))
}

func TestRepositoryWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	repo := NewRepository[session](client, "session")

	require.NoError(t, repo.Save(ctx, session{ID: "s1", UserID: "u1"}, nil))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session{ID: "s1", UserID: "u1"}, got)

	ok, err := repo.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Remove(ctx, "s1", nil))
	_, err = repo.FindByID(ctx, "s1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRepositoryClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	sessions := NewRepository[session](client, "session")

	require.NoError(t, sessions.Save(ctx, session{ID: "s1"}, nil))
	require.NoError(t, sessions.Save(ctx, session{ID: "s2"}, nil))
	require.NoError(t, mr.Set("other:1", "keep"))

	require.NoError(t, sessions.Clear(ctx, nil))

	assert.False(t, mr.Exists("session:s1"))
	assert.False(t, mr.Exists("session:s2"))
	assert.True(t, mr.Exists("other:1"))
}

func TestTransactionCommitsRedisWrites(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	sessions := NewRepository[session](client, "session")
	events := NewOutboxRepository(client)
	coordinator := transaction.NewCoordinator()

	var keys []string
	err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		require.NoError(t, sessions.Save(ctx, session{ID: "s1"}, tx))
		require.NoError(t, events.Save(ctx, outboxtest.NewFixture(t, "evt-1", 0), tx))
		keys = tx.Keys()
		return nil
	})
	require.NoError(t, err)

	// Both repositories share one participant.
	assert.Equal(t, []string{ResourceKey}, keys)

	ok, err := sessions.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = events.FindByID(ctx, "evt-1")
	require.NoError(t, err)
}

func TestTransactionRollbackDiscardsRedisWrites(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	sessions := NewRepository[session](client, "session")
	events := NewOutboxRepository(client)
	coordinator := transaction.NewCoordinator()

	err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		require.NoError(t, sessions.Save(ctx, session{ID: "s1"}, tx))
		require.NoError(t, events.Save(ctx, outboxtest.NewFixture(t, "evt-1", 0), tx))
		return errRejected
	})
	require.ErrorIs(t, err, errRejected)

	assert.Empty(t, mr.Keys())
}

func TestMixedRedisAndMemoryTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		_, client := newClient(t)
		sessions := NewRepository[session](client, "session")
		profiles := memory.NewRepository[profile]()

		var keys []string
		err := transaction.NewCoordinator().Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			require.NoError(t, profiles.Save(ctx, profile{ID: "p1", Name: "Ada"}, tx))
			require.NoError(t, sessions.Save(ctx, session{ID: "s1", UserID: "p1"}, tx))
			keys = tx.Keys()
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, []string{memory.ResourceKey, ResourceKey}, keys)
		ok, err := sessions.Exists(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, profiles.Len())
	})

	t.Run("rollback", func(t *testing.T) {
		mr, client := newClient(t)
		sessions := NewRepository[session](client, "session")
		profiles := memory.NewRepository[profile]()

		err := transaction.NewCoordinator().Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			require.NoError(t, profiles.Save(ctx, profile{ID: "p1", Name: "Ada"}, tx))
			require.NoError(t, sessions.Save(ctx, session{ID: "s1", UserID: "p1"}, tx))
			return errRejected
		})
		require.ErrorIs(t, err, errRejected)

		assert.Empty(t, mr.Keys())
		assert.Zero(t, profiles.Len())
	})
}

func TestParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	p := NewParticipant(client)

	require.NoError(t, p.Begin(ctx))
	first, err := p.Pipeline(ctx)
	require.NoError(t, err)
	second, err := p.Pipeline(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, p.Commit(ctx))
	_, err = p.Pipeline(ctx)
	require.ErrorIs(t, err, transaction.ErrParticipantClosed)
	require.ErrorIs(t, p.Commit(ctx), transaction.ErrParticipantClosed)
	require.NoError(t, p.Rollback(ctx))
}

func TestParticipantPipelineBeginsLazily(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	p := NewParticipant(client)

	pipe, err := p.Pipeline(ctx)
	require.NoError(t, err)
	pipe.Set(ctx, "k", "v", 0)
	require.NoError(t, p.Commit(ctx))

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestParticipantCommitFailsWhenServerDown(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	p := NewParticipant(client)

	pipe, err := p.Pipeline(ctx)
	require.NoError(t, err)
	pipe.Set(ctx, "k", "v", 0)

	mr.Close()
	require.Error(t, p.Commit(ctx))
}

func TestCustomResourceKey(t *testing.T) {
	ctx := context.Background()
	_, primary := newClient(t)
	_, cache := newClient(t)

	sessions := NewRepository[session](primary, "session")
	cached := NewRepository[session](cache, "session", WithResourceKey("redis-cache"))

	var keys []string
	require.NoError(t, transaction.NewCoordinator().Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		require.NoError(t, sessions.Save(ctx, session{ID: "s1"}, tx))
		require.NoError(t, cached.Save(ctx, session{ID: "s1"}, tx))
		keys = tx.Keys()
		return nil
	}))
	assert.Equal(t, []string{ResourceKey, "redis-cache"}, keys)
}

func TestLease(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)

	first := NewLease(client, "", time.Minute)
	second := NewLease(client, "", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Only the owner's release frees the key.
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists(DefaultRelayLockKey))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(DefaultRelayLockKey))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)

	first := NewLease(client, "relay", time.Second)
	second := NewLease(client, "relay", time.Second)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
