package transaction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sapliy/txrelay/pkg/observability"
)

const tracerName = "github.com/sapliy/txrelay/internal/transaction"

type activeKey struct{}

// Coordinator runs units of work that span several storage backends. It is
// safe for concurrent use; every Run gets its own Context.
type Coordinator struct {
	logger  *observability.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used to report swallowed rollback errors.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger: observability.NewNopLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromContext returns the transaction Context that ctx is running inside, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	tx, ok := ctx.Value(activeKey{}).(*Context)
	return tx, ok
}

// Run calls fn with a fresh Context. When fn returns nil every registered
// participant is committed in registration order; the first commit error
// stops the sweep and is returned as a *CommitError. When fn returns an error
// or panics every participant is rolled back, rollback errors are logged and
// dropped, and fn's error (or panic) is propagated unchanged.
//
// Run refuses to start inside another Run and returns ErrNestedTransaction
// without calling fn.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, tx *Context) error) error {
	if _, nested := FromContext(ctx); nested {
		c.metrics.refused()
		return ErrNestedTransaction
	}

	ctx, span := c.tracer.Start(ctx, "transaction.run")
	defer span.End()

	start := time.Now()
	tx := NewContext()
	ctx = context.WithValue(ctx, activeKey{}, tx)

	defer func() {
		if r := recover(); r != nil {
			entries := tx.seal()
			c.rollback(ctx, entries)
			c.metrics.observe(outcomePanicked, len(entries), start)
			span.SetStatus(codes.Error, "panic")
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		entries := tx.seal()
		c.rollback(ctx, entries)
		c.metrics.observe(outcomeRolledBack, len(entries), start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rolled back")
		return err
	}

	entries := tx.seal()
	span.SetAttributes(attribute.Int("transaction.participants", len(entries)))

	if err := c.commit(ctx, entries); err != nil {
		c.metrics.observe(outcomeCommitFailed, len(entries), start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}

	c.metrics.observe(outcomeCommitted, len(entries), start)
	return nil
}

// RunValue is Run for functions that produce a value. The zero value is
// returned whenever the transaction does not commit.
func RunValue[T any](ctx context.Context, c *Coordinator, fn func(ctx context.Context, tx *Context) (T, error)) (T, error) {
	var out T

	err := c.Run(ctx, func(ctx context.Context, tx *Context) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *Coordinator) commit(ctx context.Context, entries []entry) error {
	committed := make([]string, 0, len(entries))

	for i, e := range entries {
		if err := e.participant.Commit(ctx); err != nil {
			cerr := &CommitError{Key: e.key, Committed: committed, Err: err}
			if cerr.Partial() {
				c.metrics.partialCommit()
				c.logger.WithContext(ctx).Error("partial commit, earlier participants stay committed",
					"resource", e.key, "committed", committed, "error", err)
			}
			// Release sessions and pipelines that never got their commit.
			c.rollback(ctx, entries[i+1:])
			return cerr
		}
		committed = append(committed, e.key)
	}
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, entries []entry) {
	// The caller's ctx may already be cancelled; rollback must still reach the stores.
	ctx = context.WithoutCancel(ctx)

	for _, e := range entries {
		if err := e.participant.Rollback(ctx); err != nil {
			c.metrics.rollbackFailed(e.key)
			c.logger.WithContext(ctx).Warn("rollback failed", "resource", e.key, "error", err)
		}
	}
}
