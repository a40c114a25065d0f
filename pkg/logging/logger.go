// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentClient   = "webtris-client"
	ComponentPipeline = "pipeline"
	ComponentSink     = "sink"
	ComponentMetrics  = "metrics"
	ComponentMain     = "main"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Fields are attached to every entry, e.g. the site a run fetches.
	Fields map[string]string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var output io.Writer = out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp()
	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx = ctx.Str(k, cfg.Fields[k])
	}

	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level.
// "warning" is accepted as an alias of warn; unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	switch lvl, err := zerolog.ParseLevel(name); {
	case err != nil, name == "":
		return zerolog.InfoLevel
	case lvl < zerolog.DebugLevel || lvl > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return lvl
	}
}

// NewLogger creates a logger scoped to component.
// It reads the global logger, so call Setup first.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewSinkLogger creates a sink-component logger tagged with the sink kind.
func NewSinkLogger(kind string) zerolog.Logger {
	return log.With().Str("component", ComponentSink).Str("sink", kind).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-request detail
//   - Request URL and item key
//   - Response status and payload size
//   - Admission wait times
//
// Info: Run lifecycle
//   - Run start with plan dimensions
//   - Periodic progress
//   - Final report
//   - Metrics server startup/shutdown
//
// Warn: Item-level failures that do not stop the run
//   - Non-2xx responses
//   - Transport errors and timeouts
//
// Error: Conditions that abort the run or need attention
//   - Sink append or close failures
//   - Fetcher panics
//   - Configuration errors
//
// Context Fields:
//   - component: webtris-client, pipeline, sink, metrics, main
//   - item: work item key (site:start:end:page)
//   - status_code: HTTP status code
//   - error_class: client, server, unexpected, network
//   - duration: request or run duration
//   - sink: sink kind (file, stdout, redis, mongo)
