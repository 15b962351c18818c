// Package metrics defines the Prometheus collectors shared by the bot,
// notifier and spider processes, and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultCreated   = "created"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
)

var (
	// ItemsIngested counts ingest attempts by outcome.
	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeglide_items_ingested_total",
		Help: "Catalog items offered to the store, by result",
	}, []string{"result"})

	// MessagesSent counts outgoing Telegram messages by producer and outcome.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeglide_messages_sent_total",
		Help: "Outgoing messages by source and result",
	}, []string{"source", "result"})

	ItemsNotified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storeglide_items_notified_total",
		Help: "Items flipped to notified",
	})

	NotifyCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storeglide_notify_cycle_duration_seconds",
		Help:    "Duration of one notification cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeglide_tasks_processed_total",
		Help: "Retrospective search tasks handled by agents, by result",
	}, []string{"result"})

	ItemsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storeglide_items_purged_total",
		Help: "Items removed by the retention sweeper",
	})

	// PagesFetched counts catalog page downloads by outcome.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeglide_pages_fetched_total",
		Help: "Catalog pages fetched by the spider, by result",
	}, []string{"result"})

	LoopFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeglide_loop_faults_total",
		Help: "Panics recovered from supervised loops",
	}, []string{"loop"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
