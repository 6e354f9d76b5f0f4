package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/pkg/jsonutil"
)

const shutdownTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relay outbox events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer a.close()

		server := &http.Server{
			Addr:              a.cfg.Relay.MetricsAddr,
			Handler:           otelhttp.NewHandler(adminRoutes(a.relay), "relay-admin"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("relay admin HTTP starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("relay admin server failed", "error", err)
			}
		}()

		a.logger.Info("relay started",
			"outbox_store", a.cfg.OutboxStore,
			"broker", a.cfg.Broker,
			"poll_interval", a.cfg.Relay.PollInterval,
			"batch_size", a.cfg.Relay.BatchSize,
		)
		runErr := a.relay.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.relay.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("relay shutdown incomplete", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("relay admin shutdown incomplete", "error", err)
		}

		a.logger.Info("relay stopped")
		return runErr
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Dispatch batches until the outbox is empty or a delivery fails",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxCycles, err := cmd.Flags().GetInt("max-cycles")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()

		total, err := drain(cmd.Context(), a.relay, maxCycles)
		fmt.Fprintf(cmd.OutOrStdout(), "published %d, processed %d, failed %d\n", total.Published, total.Processed, total.Failed)
		return err
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete processed events older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.relay.PurgeOnce(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged events processed more than %s ago\n", a.relay.Config().RetentionWindow)
		return nil
	},
}

func init() {
	drainCmd.Flags().Int("max-cycles", 100, "stop after this many dispatch cycles")
}

// Dispatcher is the part of the relay drain needs.
type Dispatcher interface {
	DispatchOnce(ctx context.Context) (outbox.Result, error)
}

// drain runs dispatch cycles until one fetches nothing, one fails, or
// maxCycles is reached, and returns the summed result.
func drain(ctx context.Context, d Dispatcher, maxCycles int) (outbox.Result, error) {
	var total outbox.Result
	for range maxCycles {
		res, err := d.DispatchOnce(ctx)
		if err != nil {
			return total, err
		}

		total.Fetched += res.Fetched
		total.Published += res.Published
		total.Processed += res.Processed
		total.Failed += res.Failed
		total.StateUpdateFailed += res.StateUpdateFailed

		if res.Skipped {
			return total, errors.New("another relay holds the lease")
		}
		if res.Failed > 0 {
			return total, fmt.Errorf("delivery failed after %d published events", total.Published)
		}
		if res.Fetched == 0 {
			return total, nil
		}
	}
	return total, nil
}

func adminRoutes(relay *outbox.Relay) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonutil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "active",
			"service": "relay",
		})
	}).Methods(http.MethodGet)
	r.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		cfg := relay.Config()
		jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
			"poll_interval":      cfg.PollInterval.String(),
			"batch_size":         cfg.BatchSize,
			"retention_interval": cfg.RetentionInterval.String(),
			"retention_window":   cfg.RetentionWindow.String(),
			"publish_timeout":    cfg.PublishTimeout.String(),
		})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
