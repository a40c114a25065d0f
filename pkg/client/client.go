// Package client provides the WebTRIS report page fetcher.
//
// A Client issues exactly one GET per work item and classifies the response:
// a 2xx status yields a Result carrying the raw body, anything else (including
// transport faults) yields an empty Result. Faults never escape as errors.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/webtris-fetch/pkg/logging"
	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for report fetches.
var (
	webtrisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webtris_requests_total",
		Help: "Total WebTRIS report requests by status",
	}, []string{"status"})

	webtrisRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webtris_request_duration_seconds",
		Help:    "WebTRIS report request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	webtrisFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webtris_fetch_errors_total",
		Help: "Total failed report fetches by class",
	}, []string{"class"})
)

// DefaultTemplate is the WebTRIS monthly report endpoint.
// {start} and {end} are replaced with the item's date range.
const DefaultTemplate = "https://webtris.highwaysengland.co.uk/api/v1/reports/{start}/to/{end}/Monthly"

// Version is reported in the default User-Agent.
const Version = "0.1.0"

// Config holds the client configuration.
type Config struct {
	// Template is the endpoint URL with {start} and {end} placeholders.
	Template string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single request including the body read.
	// Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns the configuration used against the public API.
func DefaultConfig() Config {
	return Config{
		Template:  DefaultTemplate,
		UserAgent: "webtris-fetch/" + Version,
		Timeout:   30 * time.Second,
	}
}

// Client fetches report pages.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new report client.
func New(cfg Config) (*Client, error) {
	if !strings.Contains(cfg.Template, "{start}") || !strings.Contains(cfg.Template, "{end}") {
		return nil, workitem.NewConfigError("template", "must contain {start} and {end} (got %q)", cfg.Template)
	}
	if _, err := url.Parse(strings.NewReplacer("{start}", "x", "{end}", "x").Replace(cfg.Template)); err != nil {
		return nil, workitem.NewConfigError("template", "not a valid URL: %v", err)
	}
	if cfg.UserAgent == "" {
		return nil, workitem.NewConfigError("user_agent", "must not be empty")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// URL builds the request URL for an item.
func (c *Client) URL(item workitem.Item) (string, error) {
	raw := strings.NewReplacer(
		"{start}", url.PathEscape(item.RangeStart),
		"{end}", url.PathEscape(item.RangeEnd),
	).Replace(c.config.Template)

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	q := u.Query()
	q.Set("sites", item.Site)
	q.Set("page", strconv.Itoa(item.Page))
	q.Set("page_size", strconv.Itoa(item.PageSize))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Fetch issues one GET for the item and classifies the response.
func (c *Client) Fetch(ctx context.Context, item workitem.Item) Result {
	start := time.Now()
	defer func() {
		webtrisRequestDuration.Observe(time.Since(start).Seconds())
	}()

	target, err := c.URL(item)
	if err != nil {
		return c.fault(item, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return c.fault(item, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fault(item, err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)

	if class := classifyStatus(resp.StatusCode); class != "" {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		webtrisRequestsTotal.WithLabelValues(status).Inc()
		webtrisFetchErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("item", item.Key()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Report page dropped")
		return Result{Status: resp.StatusCode, Class: class}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fault(item, fmt.Errorf("read body: %w", err))
	}

	webtrisRequestsTotal.WithLabelValues(status).Inc()
	c.logger.Debug().
		Str("item", item.Key()).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Report page fetched")

	return Result{Payload: body, Status: resp.StatusCode}
}

// fault converts a transport-level failure into an empty result.
func (c *Client) fault(item workitem.Item, err error) Result {
	webtrisRequestsTotal.WithLabelValues("network_error").Inc()
	webtrisFetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	c.logger.Warn().
		Err(err).
		Str("item", item.Key()).
		Str("error_class", string(ErrorClassNetwork)).
		Msg("Report request failed")
	return Result{Class: ErrorClassNetwork, Err: err}
}
