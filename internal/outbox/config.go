package outbox

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/pkg/observability"
)

const (
	defaultPollInterval      = time.Second
	defaultRetentionInterval = time.Hour
	defaultRetentionWindow   = 7 * 24 * time.Hour
	defaultPublishTimeout    = 10 * time.Second
)

// Config controls relay scheduling.
type Config struct {
	// PollInterval is the pause between dispatch cycles.
	PollInterval time.Duration
	// BatchSize is the max number of events fetched per cycle.
	BatchSize int
	// RetentionInterval is the pause between retention sweeps.
	RetentionInterval time.Duration
	// RetentionWindow is how long processed events are kept.
	RetentionWindow time.Duration
	// PublishTimeout bounds a single broker publish.
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      defaultPollInterval,
		BatchSize:         DefaultBatchSize,
		RetentionInterval: defaultRetentionInterval,
		RetentionWindow:   defaultRetentionWindow,
		PublishTimeout:    defaultPublishTimeout,
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = defaults.RetentionInterval
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = defaults.RetentionWindow
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
}

// Option configures a Relay.
type Option func(*Relay)

// WithConfig replaces the whole schedule; zero fields fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(r *Relay) {
		r.cfg = cfg
	}
}

func WithBatchSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.cfg.BatchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(r *Relay) {
		if interval > 0 {
			r.cfg.PollInterval = interval
		}
	}
}

func WithRetention(interval, window time.Duration) Option {
	return func(r *Relay) {
		if interval > 0 {
			r.cfg.RetentionInterval = interval
		}
		if window > 0 {
			r.cfg.RetentionWindow = window
		}
	}
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(r *Relay) {
		if timeout > 0 {
			r.cfg.PublishTimeout = timeout
		}
	}
}

func WithLogger(logger *observability.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(r *Relay) {
		r.metrics = metrics
	}
}

// WithLocker makes every cycle run under locker, so several relay processes
// can share one outbox.
func WithLocker(locker Locker) Option {
	return func(r *Relay) {
		r.locker = locker
	}
}

// WithDecoder makes the relay decode each payload into its typed event
// before publishing. Events that fail to decode are treated as failed
// deliveries.
func WithDecoder(registry *integration.Registry) Option {
	return func(r *Relay) {
		r.registry = registry
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}
