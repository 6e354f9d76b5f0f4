package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sapliy/txrelay/internal/config"
	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/internal/ledger"
	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/platform"
	"github.com/sapliy/txrelay/internal/transaction"
	"github.com/sapliy/txrelay/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		observability.NewLogger("ledger").Error("ledger service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return err
	}
	logger := observability.NewLoggerWithLevel("ledger", cfg.LogLevel)

	shutdownTracer, err := observability.InitTracer(ctx, observability.Config{
		ServiceName:    "ledger",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.OTLPEndpoint,
		Environment:    "production",
	}, logger)
	if err != nil {
		logger.Warn("failed to init tracer", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	stores, err := platform.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close(context.Background())

	accounts, err := platform.Repository[ledger.Account](ctx, stores, cfg.AccountStore, "accounts")
	if err != nil {
		return err
	}

	coordinator := transaction.NewCoordinator(
		transaction.WithLogger(logger),
		transaction.WithMetrics(transaction.NewMetrics(prometheus.DefaultRegisterer)),
	)
	svc := ledger.NewService(coordinator, accounts, stores.Outbox,
		ledger.WithServiceLogger(logger),
		ledger.WithServiceMetrics(ledger.NewMetrics(prometheus.DefaultRegisterer)),
	)

	registry := integration.NewRegistry()
	if err := ledger.RegisterEvents(registry); err != nil {
		return err
	}
	dispatcher := integration.NewDispatcher(registry)
	ledger.NewProjection(logger).Register(dispatcher)

	go func() {
		if err := StartConsumer(ctx, cfg, dispatcher, logger); err != nil {
			logger.Error("consumer stopped", "error", err)
		}
	}()

	// An in-memory outbox is only visible to this process, so it is relayed here.
	if cfg.OutboxStore == config.StoreMemory {
		publisher, err := platform.NewPublisher(cfg, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()

		relay, err := outbox.NewRelay(stores.Outbox, publisher,
			outbox.WithBatchSize(cfg.Relay.BatchSize),
			outbox.WithPollInterval(cfg.Relay.PollInterval),
			outbox.WithRetention(cfg.Relay.RetentionInterval, cfg.Relay.RetentionWindow),
			outbox.WithDecoder(registry),
			outbox.WithLogger(logger),
			outbox.WithMetrics(outbox.NewMetrics(prometheus.DefaultRegisterer)),
		)
		if err != nil {
			return err
		}
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("embedded relay stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(setupRoutes(&LedgerHandler{svc: svc, logger: logger}), "ledger-request"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger service HTTP starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down ledger service")
	return server.Shutdown(shutdownCtx)
}
