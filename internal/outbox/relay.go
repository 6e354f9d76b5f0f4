package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/pkg/observability"
)

const tracerName = "github.com/sapliy/txrelay/internal/outbox"

// Publisher delivers one message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message []byte) error
}

// Locker guards a relay cycle across processes. Acquire returns false when
// another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Result describes one dispatch cycle.
type Result struct {
	Fetched           int
	Published         int
	Processed         int
	Failed            int
	StateUpdateFailed int
	// Skipped is set when another process held the relay lock.
	Skipped bool
}

// Relay drains the outbox into the broker. Delivery is at-least-once: an
// event that was published but could not be marked processed is published
// again on a later cycle. Within a batch events are sent strictly in
// creation order and the first failure ends the cycle.
type Relay struct {
	repo      Repository
	publisher Publisher
	cfg       Config
	logger    *observability.Logger
	metrics   *Metrics
	locker    Locker
	registry  *integration.Registry
	now       func() time.Time
	tracer    trace.Tracer

	cycleMu sync.Mutex

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRelay(repo Repository, publisher Publisher, opts ...Option) (*Relay, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	r := &Relay{
		repo:      repo,
		publisher: publisher,
		cfg:       DefaultConfig(),
		logger:    observability.NewNopLogger(),
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.cfg.normalize()

	return r, nil
}

// Config returns the effective schedule.
func (r *Relay) Config() Config {
	return r.cfg
}

// Run dispatches immediately, then on every PollInterval, and purges on every
// RetentionInterval, until ctx is cancelled or Stop is called.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done, err := r.start(cancel)
	if err != nil {
		cancel()
		return err
	}
	defer r.finish(done)

	r.logger.Info("outbox relay started",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"retention_window", r.cfg.RetentionWindow)
	defer r.logger.Info("outbox relay stopped")

	r.dispatch(ctx)

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	purge := time.NewTicker(r.cfg.RetentionInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			r.dispatch(ctx)
		case <-purge.C:
			if err := r.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithContext(ctx).Error("outbox retention sweep failed", "error", err)
			}
		}
	}
}

// Stop asks a running Run loop to return. It does not wait.
func (r *Relay) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
}

// Shutdown stops the loop and waits for the in-flight cycle or ctx.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.runMu.Lock()
	done := r.done
	if r.cancel != nil {
		r.cancel()
	}
	r.runMu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) start(cancel context.CancelFunc) (chan struct{}, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return nil, ErrRelayRunning
	}
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	return r.done, nil
}

func (r *Relay) finish(done chan struct{}) {
	r.runMu.Lock()
	r.cancel()
	r.running = false
	r.cancel = nil
	r.done = nil
	r.runMu.Unlock()

	close(done)
}

func (r *Relay) dispatch(ctx context.Context) {
	if _, err := r.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.WithContext(ctx).Error("outbox dispatch cycle failed", "error", err)
	}
}

// DispatchOnce runs a single cycle: fetch one batch, publish each event in
// order, mark it processed. Delivery failures end the cycle and are reported
// through Result, not the error; the error covers fetch and lock failures.
func (r *Relay) DispatchOnce(ctx context.Context) (Result, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "outbox.relay.dispatch")
	defer span.End()

	start := time.Now()
	var res Result

	release, acquired, err := r.lock(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return res, err
	}
	if !acquired {
		res.Skipped = true
		return res, nil
	}
	defer release()

	events, err := r.repo.FindUnprocessed(ctx, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return res, fmt.Errorf("find unprocessed events: %w", err)
	}
	res.Fetched = len(events)

	for _, e := range events {
		if ctx.Err() != nil {
			break
		}
		if err := r.deliver(ctx, e); err != nil {
			if ctx.Err() != nil {
				// Shutdown, not a broker failure.
				break
			}
			res.Failed++
			r.recordFailure(ctx, e, err)
			break
		}
		res.Published++
		r.metrics.recordPublished(e.Topic)

		if err := r.markProcessed(ctx, e); err != nil {
			res.StateUpdateFailed++
			r.metrics.recordStateUpdateFailure()
			r.logger.WithContext(ctx).Error("published event could not be marked processed",
				"event_id", e.ID, "event_name", e.EventName, "error", err)
			break
		}
		res.Processed++
	}

	span.SetAttributes(
		attribute.Int("outbox.fetched", res.Fetched),
		attribute.Int("outbox.processed", res.Processed),
		attribute.Int("outbox.failed", res.Failed),
	)
	r.metrics.recordCycle(res, time.Since(start).Seconds())

	if res.Processed > 0 {
		r.logger.WithContext(ctx).Debug("outbox dispatch cycle",
			"fetched", res.Fetched, "processed", res.Processed, "failed", res.Failed)
	}

	return res, nil
}

// PurgeOnce deletes processed events older than the retention window.
func (r *Relay) PurgeOnce(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "outbox.relay.purge")
	defer span.End()

	cutoff := r.now().Add(-r.cfg.RetentionWindow)
	err := r.repo.DeleteProcessed(ctx, cutoff, nil)
	r.metrics.recordPurge(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		return fmt.Errorf("delete processed events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	r.logger.WithContext(ctx).Debug("outbox retention sweep", "cutoff", cutoff)
	return nil
}

func (r *Relay) deliver(ctx context.Context, e Event) error {
	if r.registry != nil {
		if _, _, err := r.registry.DecodePayload([]byte(e.Payload)); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, e.Topic, []byte(e.Payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", e.Topic, err)
	}
	return nil
}

func (r *Relay) markProcessed(ctx context.Context, e Event) error {
	if err := e.MarkProcessed(r.now()); err != nil {
		return err
	}
	return r.repo.Save(ctx, e, nil)
}

func (r *Relay) recordFailure(ctx context.Context, e Event, cause error) {
	logger := r.logger.WithContext(ctx).With(
		"event_id", e.ID, "event_name", e.EventName, "topic", e.Topic)

	err := e.RecordFailure()
	exhausted := errors.Is(err, ErrRetriesExhausted)
	r.metrics.recordFailure(e.Topic, exhausted)

	if exhausted {
		// The event keeps blocking its successors; ordering wins over liveness.
		logger.Error("outbox event exceeded its retry limit and still blocks the queue",
			"retry_count", e.RetryCount, "max_retries", e.MaxRetries, "error", cause)
		return
	}

	logger.Warn("outbox delivery failed, batch stopped",
		"retry_count", e.RetryCount, "max_retries", e.MaxRetries, "error", cause)

	if err := r.repo.Save(ctx, e, nil); err != nil {
		logger.Error("could not persist retry count", "error", err)
	}
}

func (r *Relay) lock(ctx context.Context) (func(), bool, error) {
	if r.locker == nil {
		return func() {}, true, nil
	}

	ok, err := r.locker.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire relay lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		if err := r.locker.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WithContext(ctx).Warn("release relay lock", "error", err)
		}
	}, true, nil
}
