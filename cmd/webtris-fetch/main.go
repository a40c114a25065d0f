// Command webtris-fetch downloads WebTRIS report pages for a date range and
// appends every successful payload to the configured sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/webtris-fetch/internal/config"
	"github.com/Sternrassler/webtris-fetch/pkg/client"
	"github.com/Sternrassler/webtris-fetch/pkg/logging"
	"github.com/Sternrassler/webtris-fetch/pkg/metrics"
	"github.com/Sternrassler/webtris-fetch/pkg/pipeline"
	"github.com/Sternrassler/webtris-fetch/pkg/sink"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one fetch run and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "webtris-fetch: %v\n", err)
		return 1
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logging.Setup(logCfg)
	logger := logging.NewLogger(logging.ComponentMain)

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logging.NewLogger(logging.ComponentMetrics)); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	plan, err := cfg.Plan()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid plan")
		return 1
	}

	out, err := sink.Open(ctx, cfg.SinkOptions())
	if err != nil {
		logger.Error().Err(err).Str("sink", cfg.Sink.Kind).Msg("Failed to open sink")
		return 1
	}

	fetcher, err := client.New(cfg.ClientConfig())
	if err != nil {
		out.Close()
		logger.Error().Err(err).Msg("Failed to create client")
		return 1
	}

	orch, err := pipeline.New(fetcher, out, cfg.PipelineConfig())
	if err != nil {
		out.Close()
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		return 1
	}

	report, err := orch.Run(ctx, plan)

	// Keep stdout clean for records when the sink writes there.
	summary := stdout
	if sink.Kind(cfg.Sink.Kind) == sink.KindStdout {
		summary = stderr
	}
	fmt.Fprintln(summary, report)

	if err != nil {
		logger.Error().Err(err).
			Int("persisted", report.Persisted).
			Int("total", report.Total).
			Msg("Run failed")
		return 1
	}
	return 0
}
