package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/sapliy/txrelay/internal/config"
	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/internal/ledger"
	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/platform"
	redisstore "github.com/sapliy/txrelay/internal/storage/redis"
	"github.com/sapliy/txrelay/pkg/messaging"
	"github.com/sapliy/txrelay/pkg/observability"
)

// app is everything a relay command needs, opened from configuration.
type app struct {
	cfg       config.Config
	logger    *observability.Logger
	stores    *platform.Stores
	publisher messaging.Publisher
	relay     *outbox.Relay
	shutdown  func(context.Context) error
}

func newApp(ctx context.Context, reg prometheus.Registerer) (_ *app, err error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: observability.NewLoggerWithLevel("relay", cfg.LogLevel)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.shutdown, err = observability.InitTracer(ctx, observability.Config{
		ServiceName:    "relay",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.OTLPEndpoint,
		Environment:    "production",
	}, a.logger)
	if err != nil {
		return nil, err
	}

	if a.stores, err = platform.OpenStores(ctx, cfg, a.logger); err != nil {
		return nil, err
	}
	if a.publisher, err = platform.NewPublisher(cfg, a.logger); err != nil {
		return nil, err
	}

	registry := integration.NewRegistry()
	if err := ledger.RegisterEvents(registry); err != nil {
		return nil, err
	}

	opts := []outbox.Option{
		outbox.WithConfig(outbox.Config{
			PollInterval:      cfg.Relay.PollInterval,
			BatchSize:         cfg.Relay.BatchSize,
			RetentionInterval: cfg.Relay.RetentionInterval,
			RetentionWindow:   cfg.Relay.RetentionWindow,
			PublishTimeout:    cfg.Relay.PublishTimeout,
		}),
		outbox.WithDecoder(registry),
		outbox.WithLogger(a.logger),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
	}

	if cfg.Relay.LockEnabled {
		client, err := a.stores.EnsureRedis(ctx, a.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, outbox.WithLocker(redisstore.NewLease(client, redisstore.DefaultRelayLockKey, cfg.Relay.LockTTL)))
		a.logger.Info("relay lease enabled", "key", redisstore.DefaultRelayLockKey, "ttl", cfg.Relay.LockTTL)
	}

	if a.relay, err = outbox.NewRelay(a.stores.Outbox, a.publisher, opts...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	ctx := context.Background()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "error", err)
		}
	}
	if a.stores != nil {
		if err := a.stores.Close(ctx); err != nil {
			a.logger.Warn("failed to close stores", "error", err)
		}
	}
	if a.shutdown != nil {
		_ = a.shutdown(ctx)
	}
}
