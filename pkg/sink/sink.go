// Package sink provides the append-only destinations fetched report pages are persisted to.
//
// Every Sink is safe for concurrent use. Each Append is atomic with respect to
// other appends: a record's bytes are never interleaved with another record's,
// although the order of concurrent appends is unspecified. Append after Close
// fails with ErrClosed.
package sink

import (
	"context"
	"errors"

	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrClosed is returned by Append once the sink has been closed.
	ErrClosed = errors.New("sink closed")

	// ErrUnknownKind is returned by Open for an unsupported sink kind.
	ErrUnknownKind = errors.New("unknown sink kind")
)

// Prometheus metrics for sink writes.
var (
	sinkRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webtris_sink_records_total",
		Help: "Total records appended by sink kind",
	}, []string{"sink"})

	sinkBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webtris_sink_bytes_total",
		Help: "Total payload bytes appended by sink kind",
	}, []string{"sink"})

	sinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webtris_sink_errors_total",
		Help: "Total failed appends by sink kind",
	}, []string{"sink"})
)

// Record is one fetched report page.
type Record struct {
	Item    workitem.Item
	Payload []byte
}

// Sink is a shared append-only destination.
type Sink interface {
	// Append persists one record.
	Append(ctx context.Context, rec Record) error

	// Close flushes pending data and releases the destination.
	// Calling Close more than once is a no-op.
	Close() error
}

func observe(kind string, rec Record, err error) {
	if err != nil {
		sinkErrorsTotal.WithLabelValues(kind).Inc()
		return
	}
	sinkRecordsTotal.WithLabelValues(kind).Inc()
	sinkBytesTotal.WithLabelValues(kind).Add(float64(len(rec.Payload)))
}
