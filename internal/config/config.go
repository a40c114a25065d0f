// Package config loads run configuration from defaults, an optional config
// file, WEBTRIS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/webtris-fetch/pkg/client"
	"github.com/Sternrassler/webtris-fetch/pkg/logging"
	"github.com/Sternrassler/webtris-fetch/pkg/pipeline"
	"github.com/Sternrassler/webtris-fetch/pkg/sink"
	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
)

// EnvPrefix prefixes every environment variable, e.g. WEBTRIS_SINK_KIND.
const EnvPrefix = "WEBTRIS"

// DateLayout is the format of start_date and end_date.
const DateLayout = time.DateOnly

// ErrHelp is returned by Load when --help was requested.
var ErrHelp = pflag.ErrHelp

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	StartDate     string        `mapstructure:"start_date"`
	EndDate       string        `mapstructure:"end_date"`
	Site          string        `mapstructure:"site"`
	FirstPage     int           `mapstructure:"first_page"`
	LastPage      int           `mapstructure:"last_page"`
	PageSize      int           `mapstructure:"page_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	ProgressEvery int           `mapstructure:"progress_every"`
	Sink          SinkConfig    `mapstructure:"sink"`
	Redis         RedisConfig   `mapstructure:"redis"`
	Mongo         MongoConfig   `mapstructure:"mongo"`
	HTTP          HTTPConfig    `mapstructure:"http"`
	Log           LogConfig     `mapstructure:"log"`
	Metrics       MetricsConfig `mapstructure:"metrics"`
}

// SinkConfig selects and configures the output.
type SinkConfig struct {
	Kind      string `mapstructure:"kind"`
	Path      string `mapstructure:"path"`
	Delimiter string `mapstructure:"delimiter"`
}

// RedisConfig configures the redis sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MongoConfig configures the mongo sink.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// HTTPConfig configures the report client.
type HTTPConfig struct {
	Template  string        `mapstructure:"template"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the metrics server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagSpec binds one command-line flag to a viper key.
type flagSpec struct {
	name  string
	key   string
	usage string
}

var flagSpecs = []flagSpec{
	{"start-date", "start_date", "first day to fetch (YYYY-MM-DD)"},
	{"end-date", "end_date", "last day to fetch, inclusive (YYYY-MM-DD)"},
	{"site", "site", "WebTRIS site id"},
	{"first-page", "first_page", "first page to request"},
	{"last-page", "last_page", "page at which enumeration stops (exclusive)"},
	{"page-size", "page_size", "rows per page"},
	{"concurrency", "concurrency", "maximum concurrent requests"},
	{"progress-every", "progress_every", "log progress every N items (0 disables)"},
	{"sink", "sink.kind", "output kind: file, stdout, redis, mongo"},
	{"output", "sink.path", "output file for the file sink"},
	{"delimiter", "sink.delimiter", `record delimiter for file and stdout sinks (escapes like \n allowed)`},
	{"redis-addr", "redis.addr", "redis address"},
	{"redis-password", "redis.password", "redis password"},
	{"redis-db", "redis.db", "redis database"},
	{"redis-key", "redis.key", "redis list key"},
	{"mongo-uri", "mongo.uri", "mongo connection URI"},
	{"mongo-database", "mongo.database", "mongo database"},
	{"mongo-collection", "mongo.collection", "mongo collection"},
	{"template", "http.template", "endpoint template with {start} and {end}"},
	{"user-agent", "http.user_agent", "User-Agent header"},
	{"timeout", "http.timeout", "per-request timeout"},
	{"log-level", "log.level", "log level: debug, info, warn, error"},
	{"log-pretty", "log.pretty", "human-readable console logs"},
	{"metrics-addr", "metrics.addr", "serve /metrics and /health on this address (empty disables)"},
}

func setDefaults(v *viper.Viper) {
	sinkDefaults := sink.DefaultOptions()
	clientDefaults := client.DefaultConfig()
	pipelineDefaults := pipeline.DefaultConfig()

	v.SetDefault("start_date", "2021-08-01")
	v.SetDefault("end_date", "2021-08-30")
	v.SetDefault("site", "2")
	v.SetDefault("first_page", 1)
	v.SetDefault("last_page", 100)
	v.SetDefault("page_size", 10)
	v.SetDefault("concurrency", pipelineDefaults.Concurrency)
	v.SetDefault("progress_every", pipelineDefaults.ProgressEvery)
	v.SetDefault("sink.kind", string(sinkDefaults.Kind))
	v.SetDefault("sink.path", sinkDefaults.Path)
	v.SetDefault("sink.delimiter", sinkDefaults.Delimiter)
	v.SetDefault("redis.addr", sinkDefaults.RedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", sinkDefaults.RedisKey)
	v.SetDefault("mongo.uri", sinkDefaults.MongoURI)
	v.SetDefault("mongo.database", sinkDefaults.MongoDatabase)
	v.SetDefault("mongo.collection", sinkDefaults.MongoCollection)
	v.SetDefault("http.template", clientDefaults.Template)
	v.SetDefault("http.user_agent", clientDefaults.UserAgent)
	v.SetDefault("http.timeout", clientDefaults.Timeout)
	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.addr", "")
}

// newFlagSet declares every flag as a string so that an unchanged flag never
// shadows a lower-precedence source. Typed decoding happens in Unmarshal.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "config file (yaml, json or toml)")
	for _, spec := range flagSpecs {
		fs.String(spec.name, "", spec.usage)
	}
	fs.Lookup("log-pretty").NoOptDefVal = "true"
	return fs, configFile
}

// Load builds a Config from args (without the program name), the environment
// and the optional --config file, then validates it.
func Load(args []string) (*Config, error) {
	fs, configFile := newFlagSet("webtris-fetch")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, spec := range flagSpecs {
		if f := fs.Lookup(spec.name); f != nil && f.Changed {
			v.Set(spec.key, f.Value.String())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	delim, err := unescape(cfg.Sink.Delimiter)
	if err != nil {
		return nil, workitem.NewConfigError("sink.delimiter", "%v", err)
	}
	cfg.Sink.Delimiter = delim

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// unescape interprets Go escape sequences such as \n and \t.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	out, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid escape in %q", s)
	}
	return out, nil
}

// Validate enforces required values and reasonable limits.
func (c *Config) Validate() error {
	if _, err := c.Plan(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return workitem.NewConfigError("concurrency", "must be >= 1 (got %d)", c.Concurrency)
	}
	if c.HTTP.Timeout < 0 {
		return workitem.NewConfigError("http.timeout", "must not be negative (got %s)", c.HTTP.Timeout)
	}
	switch sink.Kind(c.Sink.Kind) {
	case sink.KindFile:
		if c.Sink.Path == "" {
			return workitem.NewConfigError("sink.path", "must be set for the file sink")
		}
	case sink.KindStdout:
	case sink.KindRedis:
		if c.Redis.Addr == "" {
			return workitem.NewConfigError("redis.addr", "must be set for the redis sink")
		}
	case sink.KindMongo:
		if c.Mongo.URI == "" {
			return workitem.NewConfigError("mongo.uri", "must be set for the mongo sink")
		}
	default:
		return workitem.NewConfigError("sink.kind", "unknown kind %q", c.Sink.Kind)
	}
	return nil
}

// Plan converts the enumeration settings into a validated workitem.Plan.
func (c *Config) Plan() (workitem.Plan, error) {
	start, err := time.ParseInLocation(DateLayout, c.StartDate, time.UTC)
	if err != nil {
		return workitem.Plan{}, workitem.NewConfigError("start_date", "want YYYY-MM-DD (got %q)", c.StartDate)
	}
	end, err := time.ParseInLocation(DateLayout, c.EndDate, time.UTC)
	if err != nil {
		return workitem.Plan{}, workitem.NewConfigError("end_date", "want YYYY-MM-DD (got %q)", c.EndDate)
	}

	plan := workitem.Plan{
		Start:     start,
		End:       end,
		Site:      c.Site,
		FirstPage: c.FirstPage,
		LastPage:  c.LastPage,
		PageSize:  c.PageSize,
	}
	if err := plan.Validate(); err != nil {
		return workitem.Plan{}, err
	}
	return plan, nil
}

// SinkOptions returns the options for sink.Open.
func (c *Config) SinkOptions() sink.Options {
	opts := sink.DefaultOptions()
	opts.Kind = sink.Kind(c.Sink.Kind)
	opts.Path = c.Sink.Path
	opts.Delimiter = c.Sink.Delimiter
	opts.RedisAddr = c.Redis.Addr
	opts.RedisPassword = c.Redis.Password
	opts.RedisDB = c.Redis.DB
	opts.RedisKey = c.Redis.Key
	opts.MongoURI = c.Mongo.URI
	opts.MongoDatabase = c.Mongo.Database
	opts.MongoCollection = c.Mongo.Collection
	return opts
}

// ClientConfig returns the report client configuration.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		Template:  c.HTTP.Template,
		UserAgent: c.HTTP.UserAgent,
		Timeout:   c.HTTP.Timeout,
	}
}

// PipelineConfig returns the orchestrator configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Concurrency:   c.Concurrency,
		ProgressEvery: c.ProgressEvery,
	}
}

// LoggingConfig returns the logger configuration. Every entry carries the
// site being fetched; output defaults to stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	cfg.Fields = map[string]string{"site": c.Site}
	return cfg
}
