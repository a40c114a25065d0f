package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/webtris-fetch/pkg/admission"
	"github.com/Sternrassler/webtris-fetch/pkg/client"
	"github.com/Sternrassler/webtris-fetch/pkg/logging"
	"github.com/Sternrassler/webtris-fetch/pkg/sink"
	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRun is returned when Run is called a second time on the same Orchestrator.
var ErrAlreadyRun = errors.New("orchestrator already ran")

var itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webtris_items_total",
	Help: "Work items by final outcome",
}, []string{"outcome"})

// Config holds orchestrator configuration.
type Config struct {
	// Concurrency is the maximum number of fetches in flight.
	Concurrency int

	// ProgressEvery logs progress after this many completed items (0 disables).
	ProgressEvery int
}

// DefaultConfig returns a ceiling of 10 concurrent requests.
func DefaultConfig() Config {
	return Config{
		Concurrency:   10,
		ProgressEvery: 50,
	}
}

// Fetcher is the interface the report client implements for single-item fetching.
type Fetcher interface {
	// Fetch requests one item. It reports failures through the result, never by panicking
	// or returning an error.
	Fetch(ctx context.Context, item workitem.Item) client.Result
}

// Report summarizes a run.
type Report struct {
	// Total is the number of items the plan enumerates.
	Total int

	// Dispatched is the number of items that were admitted and fetched.
	Dispatched int

	// Persisted is the number of payloads appended to the sink.
	Persisted int

	// Dropped is the number of items whose fetch yielded no payload.
	Dropped int

	// Abandoned is the number of dispatched items discarded because the run
	// was aborted while they were in flight, including the item whose append
	// failed. Always 0 for a completed run.
	Abandoned int

	// PeakInFlight is the highest number of concurrent fetches observed.
	PeakInFlight int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// String implements fmt.Stringer.
func (r Report) String() string {
	return fmt.Sprintf("%d of %d persisted", r.Persisted, r.Total)
}

// Orchestrator runs one plan against a fetcher and a sink.
// It owns the sink for the duration of the run and closes it when Run returns.
type Orchestrator struct {
	fetcher Fetcher
	sink    sink.Sink
	config  Config
	logger  zerolog.Logger
	ran     atomic.Bool
}

// New creates an orchestrator.
func New(fetcher Fetcher, s sink.Sink, cfg Config) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if s == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Concurrency < 1 {
		return nil, workitem.NewConfigError("concurrency", "must be >= 1 (got %d)", cfg.Concurrency)
	}
	if cfg.ProgressEvery < 0 {
		cfg.ProgressEvery = 0
	}

	return &Orchestrator{
		fetcher: fetcher,
		sink:    s,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentPipeline),
	}, nil
}

// counters are shared by the units of work of one run.
type counters struct {
	persisted atomic.Int64
	dropped   atomic.Int64
	abandoned atomic.Int64
	completed atomic.Int64
}

// Run fetches every item of the plan and appends each successful payload to the sink.
//
// An invalid plan fails with a workitem.ConfigError before any fetch. A sink
// failure is fatal: dispatch stops, in-flight items finish, and the first sink
// error is returned together with the partial report. Cancelling ctx stops the
// run the same way. The sink is closed exactly once before Run returns.
func (o *Orchestrator) Run(ctx context.Context, plan workitem.Plan) (report Report, err error) {
	if !o.ran.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRun
	}

	start := time.Now()
	defer func() {
		if closeErr := o.sink.Close(); closeErr != nil {
			o.logger.Error().Err(closeErr).Msg("Failed to close sink")
			if err == nil {
				err = fmt.Errorf("close sink: %w", closeErr)
			}
		}
		report.Duration = time.Since(start)
	}()

	if err := plan.Validate(); err != nil {
		return Report{}, err
	}

	limiter, err := admission.New(o.config.Concurrency)
	if err != nil {
		return Report{}, err
	}

	report.Total = plan.Len()
	o.logger.Info().
		Str("site", plan.Site).
		Int("days", plan.Days()).
		Int("pages_per_day", plan.Pages()).
		Int("total_items", report.Total).
		Int("concurrency", o.config.Concurrency).
		Msg("Starting report run")

	total := report.Total
	var c counters
	g, gctx := errgroup.WithContext(ctx)

	for item := range plan.Items() {
		// Pending -> Admitted. Blocks while the ceiling is reached.
		tok, acquireErr := limiter.Acquire(gctx)
		if acquireErr != nil {
			break
		}
		report.Dispatched++

		g.Go(func() error {
			defer tok.Release()
			return o.process(gctx, item, total, &c)
		})
	}

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("run cancelled: %w", ctx.Err())
	}

	report.Persisted = int(c.persisted.Load())
	report.Dropped = int(c.dropped.Load())
	report.Abandoned = int(c.abandoned.Load())
	report.PeakInFlight = limiter.Peak()

	event := o.logger.Info()
	msg := "Report run complete"
	if runErr != nil {
		event = o.logger.Error().Err(runErr)
		msg = "Report run aborted"
	}
	event.
		Int("persisted", report.Persisted).
		Int("dropped", report.Dropped).
		Int("abandoned", report.Abandoned).
		Int("dispatched", report.Dispatched).
		Int("total", report.Total).
		Int("peak_in_flight", report.PeakInFlight).
		Dur("duration", time.Since(start)).
		Msg(msg)

	return report, runErr
}

// process fetches one item and persists it on success.
// Only sink failures are returned; every fetch failure becomes a drop.
func (o *Orchestrator) process(ctx context.Context, item workitem.Item, total int, c *counters) (err error) {
	defer o.progress(total, c)

	result, ok := o.fetch(ctx, item)

	if ctx.Err() != nil {
		// The run was aborted while this item was in flight.
		c.abandoned.Add(1)
		itemsTotal.WithLabelValues("abandoned").Inc()
		return nil
	}

	if !ok || !result.OK() {
		c.dropped.Add(1)
		itemsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	if err := o.sink.Append(ctx, sink.Record{Item: item, Payload: result.Payload}); err != nil {
		c.abandoned.Add(1)
		itemsTotal.WithLabelValues("abandoned").Inc()
		if ctx.Err() != nil {
			return nil
		}
		o.logger.Error().Err(err).Str("item", item.Key()).Msg("Sink append failed")
		return fmt.Errorf("append %s: %w", item.Key(), err)
	}

	c.persisted.Add(1)
	itemsTotal.WithLabelValues("persisted").Inc()
	return nil
}

// fetch calls the fetcher, converting a panic into a failed fetch.
func (o *Orchestrator) fetch(ctx context.Context, item workitem.Item) (result client.Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("item", item.Key()).
				Interface("panic", r).
				Msg("Fetcher panicked")
			ok = false
		}
	}()
	return o.fetcher.Fetch(ctx, item), true
}

func (o *Orchestrator) progress(total int, c *counters) {
	done := c.completed.Add(1)
	if o.config.ProgressEvery == 0 || done%int64(o.config.ProgressEvery) != 0 {
		return
	}
	o.logger.Info().
		Int64("completed", done).
		Int("total", total).
		Int64("persisted", c.persisted.Load()).
		Float64("progress_pct", float64(done)/float64(total)*100).
		Msg("Run progress")
}
