// Package outboxtest holds the behavior every outbox.Repository must share.
// Backends run it from their own tests with a constructor for an empty
// repository.
package outboxtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Base is the creation time of the first fixture event.
var Base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// NewFixture builds an unprocessed event created offset after Base.
func NewFixture(t testing.TB, id string, offset time.Duration) outbox.Event {
	t.Helper()

	e, err := outbox.NewEventWithID(id, "ledger.account.opened", "ledger-events",
		[]byte(fmt.Sprintf(`{"id":%q}`, id)), Base.Add(offset))
	require.NoError(t, err)
	return e
}

// NewProcessedFixture builds an event processed at processedAt.
func NewProcessedFixture(t testing.TB, id string, offset time.Duration, processedAt time.Time) outbox.Event {
	t.Helper()

	e := NewFixture(t, id, offset)
	require.NoError(t, e.MarkProcessed(processedAt))
	return e
}

// RunRepositoryContract runs the shared suite. newRepo must return an empty repository.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) outbox.Repository) {
	t.Run("SaveAndFindByID", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		e := NewFixture(t, "evt-1", 0)
		e.RetryCount = 2
		require.NoError(t, repo.Save(ctx, e, nil))

		got, err := repo.FindByID(ctx, "evt-1")
		require.NoError(t, err)
		assertSameEvent(t, e, got)
		assert.False(t, got.IsProcessed())
	})

	t.Run("FindByIDUnknown", func(t *testing.T) {
		_, err := newRepo(t).FindByID(context.Background(), "missing")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)
	})

	t.Run("SaveUpsertsByID", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		e := NewFixture(t, "evt-1", 0)
		require.NoError(t, repo.Save(ctx, e, nil))
		e.RetryCount = 3
		require.NoError(t, repo.Save(ctx, e, nil))

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, 3, events[0].RetryCount)
	})

	t.Run("FindUnprocessedOrdersByCreatedAt", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		for _, f := range []struct {
			id     string
			offset time.Duration
		}{
			{"evt-c", 3 * time.Second},
			{"evt-a", 1 * time.Second},
			{"evt-d", 4 * time.Second},
			{"evt-b", 2 * time.Second},
		} {
			require.NoError(t, repo.Save(ctx, NewFixture(t, f.id, f.offset), nil))
		}

		events, err := repo.FindUnprocessed(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"evt-a", "evt-b", "evt-c"}, ids(events))

		all, err := repo.FindUnprocessed(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{"evt-a", "evt-b", "evt-c", "evt-d"}, ids(all))
	})

	t.Run("FindUnprocessedDefaultLimit", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		for i := 0; i < outbox.DefaultBatchSize+2; i++ {
			require.NoError(t, repo.Save(ctx, NewFixture(t, fmt.Sprintf("evt-%02d", i), time.Duration(i)*time.Second), nil))
		}

		events, err := repo.FindUnprocessed(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, events, outbox.DefaultBatchSize)
	})

	t.Run("ProcessedIsTerminal", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		first := NewFixture(t, "evt-1", 0)
		second := NewFixture(t, "evt-2", time.Second)
		require.NoError(t, repo.Save(ctx, first, nil))
		require.NoError(t, repo.Save(ctx, second, nil))

		require.NoError(t, first.MarkProcessed(Base.Add(time.Minute)))
		require.NoError(t, repo.Save(ctx, first, nil))

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"evt-2"}, ids(events))

		got, err := repo.FindByID(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, got.IsProcessed())
		assert.True(t, got.ProcessedAt.Equal(Base.Add(time.Minute)))
	})

	t.Run("DeleteProcessedRetention", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		cutoff := Base.Add(time.Hour)

		fixtures := []outbox.Event{
			NewProcessedFixture(t, "old-processed", 0, cutoff.Add(-time.Minute)),
			NewProcessedFixture(t, "at-cutoff", time.Second, cutoff),
			NewProcessedFixture(t, "new-processed", 2*time.Second, cutoff.Add(time.Minute)),
			NewFixture(t, "old-unprocessed", -24*time.Hour),
			NewFixture(t, "new-unprocessed", 3*time.Second),
		}
		for _, e := range fixtures {
			require.NoError(t, repo.Save(ctx, e, nil))
		}

		require.NoError(t, repo.DeleteProcessed(ctx, cutoff, nil))

		_, err := repo.FindByID(ctx, "old-processed")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)

		for _, id := range []string{"at-cutoff", "new-processed", "old-unprocessed", "new-unprocessed"} {
			_, err := repo.FindByID(ctx, id)
			assert.NoError(t, err, id)
		}

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"old-unprocessed", "new-unprocessed"}, ids(events))
	})

	t.Run("DeleteProcessedSubMillisecondCutoff", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		processedAt := Base.Add(time.Hour)
		cutoff := processedAt.Add(500 * time.Microsecond)

		e := NewProcessedFixture(t, "evt-1", 0, processedAt)
		require.True(t, e.ProcessedBefore(cutoff))
		require.NoError(t, repo.Save(ctx, e, nil))
		require.NoError(t, repo.Save(ctx, NewProcessedFixture(t, "evt-2", time.Second, processedAt.Add(time.Millisecond)), nil))

		require.NoError(t, repo.DeleteProcessed(ctx, cutoff, nil))

		_, err := repo.FindByID(ctx, "evt-1")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)

		_, err = repo.FindByID(ctx, "evt-2")
		require.NoError(t, err)
	})

	t.Run("DeleteProcessedNothingToDelete", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		require.NoError(t, repo.Save(ctx, NewFixture(t, "evt-1", 0), nil))
		require.NoError(t, repo.DeleteProcessed(ctx, Base.Add(time.Hour), nil))

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("SaveJoinsCommittedTransaction", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		coordinator := transaction.NewCoordinator()

		err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			if err := repo.Save(ctx, NewFixture(t, "evt-1", 0), tx); err != nil {
				return err
			}
			return repo.Save(ctx, NewFixture(t, "evt-2", time.Second), tx)
		})
		require.NoError(t, err)

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"evt-1", "evt-2"}, ids(events))
	})

	t.Run("SaveRolledBackWithTransaction", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		coordinator := transaction.NewCoordinator()
		rejected := errors.New("rejected")

		err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			if err := repo.Save(ctx, NewFixture(t, "evt-1", 0), tx); err != nil {
				return err
			}
			return rejected
		})
		require.ErrorIs(t, err, rejected)

		_, err = repo.FindByID(ctx, "evt-1")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("DeleteProcessedRolledBackWithTransaction", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		coordinator := transaction.NewCoordinator()

		require.NoError(t, repo.Save(ctx, NewProcessedFixture(t, "evt-1", 0, Base.Add(time.Minute)), nil))

		rejected := errors.New("rejected")
		err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			if err := repo.DeleteProcessed(ctx, Base.Add(time.Hour), tx); err != nil {
				return err
			}
			return rejected
		})
		require.ErrorIs(t, err, rejected)

		_, err = repo.FindByID(ctx, "evt-1")
		require.NoError(t, err)
	})

	t.Run("Clear", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		require.NoError(t, repo.Save(ctx, NewFixture(t, "evt-1", 0), nil))
		require.NoError(t, repo.Save(ctx, NewProcessedFixture(t, "evt-2", time.Second, Base.Add(time.Minute)), nil))
		require.NoError(t, repo.Clear(ctx, nil))

		events, err := repo.FindUnprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)

		_, err = repo.FindByID(ctx, "evt-2")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)
	})
}

func assertSameEvent(t *testing.T, want, got outbox.Event) {
	t.Helper()

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.EventName, got.EventName)
	assert.Equal(t, want.Topic, got.Topic)
	assert.JSONEq(t, want.Payload, got.Payload)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %s != %s", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.ProcessedAt.Equal(got.ProcessedAt), "processedAt %s != %s", want.ProcessedAt, got.ProcessedAt)
	assert.Equal(t, want.RetryCount, got.RetryCount)
	assert.Equal(t, want.MaxRetries, got.MaxRetries)
}

func ids(events []outbox.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
