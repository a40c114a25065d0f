// Package metrics exposes the Prometheus metrics of a fetch run.
// All metrics are defined in their respective packages (client, admission,
// sink, pipeline) and registered via promauto on the default registry.
//
// This package serves them over HTTP and documents what is available.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the Prometheus registry all packages register with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves.
var Gatherer = prometheus.DefaultGatherer

const shutdownTimeout = 5 * time.Second

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve listens on addr and serves Handler until ctx is cancelled.
// It returns nil after a clean shutdown.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serve(ctx, ln, logger)
}

func serve(ctx context.Context, ln net.Listener, logger zerolog.Logger) error {
	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	logger.Info().Msg("Metrics server stopped")
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - webtris_requests_total{status} (Counter): Requests by HTTP status ("network_error" for transport faults)
//   - webtris_request_duration_seconds (Histogram): Request duration including body read
//   - webtris_fetch_errors_total{class} (Counter): Failed fetches by class (client, server, unexpected, network)
//
// Admission Metrics (pkg/admission):
//   - webtris_admission_inflight (Gauge): Currently admitted fetches
//   - webtris_admission_wait_seconds (Histogram): Time spent waiting for an admission token
//
// Sink Metrics (pkg/sink):
//   - webtris_sink_records_total{sink} (Counter): Records appended by sink kind
//   - webtris_sink_bytes_total{sink} (Counter): Payload bytes appended by sink kind
//   - webtris_sink_errors_total{sink} (Counter): Failed appends by sink kind
//
// Run Metrics (pkg/pipeline):
//   - webtris_items_total{outcome} (Counter): Work items by outcome (persisted, dropped, abandoned)
//
// Example Prometheus Queries:
//
//   # Drop Rate
//   rate(webtris_items_total{outcome="dropped"}[5m]) / rate(webtris_items_total[5m])
//
//   # Saturation of the concurrency ceiling
//   webtris_admission_inflight
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(webtris_request_duration_seconds_bucket[5m]))
//
//   # Sink Throughput
//   rate(webtris_sink_bytes_total[1m])
