// Package admission bounds how many fetches may be in flight at once.
//
// A Limiter hands out at most N tokens. Acquire blocks until a slot is free;
// Token.Release returns it. The usual shape is:
//
//	tok, err := limiter.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	defer tok.Release()
package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for admission control.
var (
	admissionInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webtris_admission_inflight",
		Help: "Number of admission tokens currently held",
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webtris_admission_wait_seconds",
		Help:    "Time spent waiting for an admission token",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})
)

// Limiter is a counting concurrency limiter with a fixed number of slots.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// Token is one admission slot. Release it exactly once; extra calls are ignored.
type Token struct {
	limiter *Limiter
	once    sync.Once
}

// New creates a limiter allowing n concurrent holders.
func New(n int) (*Limiter, error) {
	if n < 1 {
		return nil, workitem.NewConfigError("concurrency", "must be >= 1 (got %d)", n)
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(n)),
		capacity: n,
	}, nil
}

// Acquire blocks until a slot is free or ctx ends.
// When ctx ends first no slot is held and ctx's error is returned.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire admission token: %w", err)
	}
	admissionWaitSeconds.Observe(time.Since(start).Seconds())

	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	admissionInFlight.Inc()

	return &Token{limiter: l}, nil
}

// Release returns the token's slot to the limiter.
func (t *Token) Release() {
	t.once.Do(func() {
		t.limiter.inFlight.Add(-1)
		admissionInFlight.Dec()
		t.limiter.sem.Release(1)
	})
}

// Capacity returns the configured number of slots.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InFlight returns the number of tokens currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest number of tokens held at the same time.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}
