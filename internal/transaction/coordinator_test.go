package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records participant calls across several mocks in global order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) participant(key string, commitErr, rollbackErr error) *MockParticipant {
	return &MockParticipant{
		CommitFunc: func(context.Context) error {
			j.add("commit:" + key)
			return commitErr
		},
		RollbackFunc: func(context.Context) error {
			j.add("rollback:" + key)
			return rollbackErr
		},
	}
}

func register(t *testing.T, ctx context.Context, tx *Context, key string, p Participant) {
	t.Helper()
	_, err := tx.Register(ctx, key, func() (Participant, error) { return p, nil })
	require.NoError(t, err)
}

func TestRunCommitsInRegistrationOrder(t *testing.T) {
	j := &journal{}
	c := NewCoordinator()

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "mongo", j.participant("mongo", nil, nil))
		register(t, ctx, tx, "redis", j.participant("redis", nil, nil))
		register(t, ctx, tx, "inmemory", j.participant("inmemory", nil, nil))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"commit:mongo", "commit:redis", "commit:inmemory"}, j.entries)
}

func TestRunRollsBackAllAndReturnsOriginalError(t *testing.T) {
	j := &journal{}
	c := NewCoordinator()
	business := errors.New("insufficient funds")

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "mongo", j.participant("mongo", nil, errors.New("abort failed")))
		register(t, ctx, tx, "redis", j.participant("redis", nil, nil))
		return business
	})

	assert.Same(t, business, err)
	assert.Equal(t, []string{"rollback:mongo", "rollback:redis"}, j.entries)
}

func TestRunWithoutParticipants(t *testing.T) {
	c := NewCoordinator()
	called := false

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestRunCommitFailureStopsSweep(t *testing.T) {
	j := &journal{}
	c := NewCoordinator()
	lost := errors.New("connection reset")

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "mongo", j.participant("mongo", nil, nil))
		register(t, ctx, tx, "redis", j.participant("redis", lost, nil))
		register(t, ctx, tx, "inmemory", j.participant("inmemory", nil, nil))
		return nil
	})

	require.ErrorIs(t, err, lost)

	var cerr *CommitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "redis", cerr.Key)
	assert.Equal(t, []string{"mongo"}, cerr.Committed)
	assert.True(t, cerr.Partial())

	// mongo stays committed, inmemory never commits and is released.
	assert.Equal(t, []string{"commit:mongo", "commit:redis", "rollback:inmemory"}, j.entries)
}

func TestRunFirstCommitFailureIsNotPartial(t *testing.T) {
	c := NewCoordinator()
	lost := errors.New("write conflict")

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "mongo", &MockParticipant{CommitFunc: func(context.Context) error { return lost }})
		return nil
	})

	var cerr *CommitError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Partial())
	assert.Contains(t, cerr.Error(), `commit "mongo"`)
}

func TestRunRejectsNestedRun(t *testing.T) {
	c := NewCoordinator()
	innerCalled := false

	err := c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		return c.Run(ctx, func(context.Context, *Context) error {
			innerCalled = true
			return nil
		})
	})

	require.ErrorIs(t, err, ErrNestedTransaction)
	assert.False(t, innerCalled)
}

func TestRunSealsContext(t *testing.T) {
	c := NewCoordinator()
	var leaked *Context

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.Register(context.Background(), "redis", func() (Participant, error) {
		return &MockParticipant{}, nil
	})
	require.ErrorIs(t, err, ErrContextClosed)
}

func TestRunExposesContextThroughCtx(t *testing.T) {
	c := NewCoordinator()

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		got, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, tx, got)
		return nil
	}))

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestRunRollsBackOnPanic(t *testing.T) {
	j := &journal{}
	c := NewCoordinator()

	assert.PanicsWithValue(t, "boom", func() {
		_ = c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
			register(t, ctx, tx, "redis", j.participant("redis", nil, nil))
			panic("boom")
		})
	})

	assert.Equal(t, []string{"rollback:redis"}, j.entries)
}

func TestRunRollbackIgnoresCancelledContext(t *testing.T) {
	c := NewCoordinator()
	ctx, cancel := context.WithCancel(context.Background())

	var rollbackCtxErr error
	p := &MockParticipant{RollbackFunc: func(ctx context.Context) error {
		rollbackCtxErr = ctx.Err()
		return nil
	}}

	err := c.Run(ctx, func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "mongo", p)
		cancel()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, rollbackCtxErr)
}

func TestRunValue(t *testing.T) {
	c := NewCoordinator()

	v, err := RunValue(context.Background(), c, func(ctx context.Context, tx *Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = RunValue(context.Background(), c, func(ctx context.Context, tx *Context) (int, error) {
		return 7, errors.New("rejected")
	})
	require.Error(t, err)
	assert.Zero(t, v)
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := NewCoordinator(WithMetrics(metrics))

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context, tx *Context) error { return nil }))
	_ = c.Run(context.Background(), func(ctx context.Context, tx *Context) error {
		register(t, ctx, tx, "redis", &MockParticipant{RollbackFunc: func(context.Context) error {
			return errors.New("discard failed")
		}})
		return errors.New("rejected")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(outcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(outcomeRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.rollbackFailures.WithLabelValues("redis")))
}
