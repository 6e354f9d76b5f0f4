package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/outbox/outboxtest"
	"github.com/sapliy/txrelay/internal/transaction"
)

func TestOutboxRepositoryContract(t *testing.T) {
	outboxtest.RunRepositoryContract(t, func(t *testing.T) outbox.Repository {
		return NewOutboxRepository()
	})
}

func TestOutboxRollbackKeepsOtherWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	coordinator := transaction.NewCoordinator()

	delivered := outboxtest.NewFixture(t, "delivered", 0)
	require.NoError(t, repo.Save(ctx, delivered, nil))

	err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		if err := repo.Save(ctx, outboxtest.NewFixture(t, "a", time.Second), tx); err != nil {
			return err
		}

		require.NoError(t, repo.Save(ctx, outboxtest.NewFixture(t, "b", 2*time.Second), nil))
		require.NoError(t, delivered.MarkProcessed(outboxtest.Base.Add(time.Minute)))
		require.NoError(t, repo.Save(ctx, delivered, nil))
		return errRejected
	})
	require.ErrorIs(t, err, errRejected)

	_, err = repo.FindByID(ctx, "a")
	require.ErrorIs(t, err, outbox.ErrEventNotFound)

	_, err = repo.FindByID(ctx, "b")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, "delivered")
	require.NoError(t, err)
	assert.True(t, got.IsProcessed())

	pending, err := repo.FindUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}
