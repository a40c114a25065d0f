package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sternrassler/webtris-fetch/pkg/logging"
)

// Kind selects a sink implementation.
type Kind string

const (
	KindFile   Kind = "file"
	KindStdout Kind = "stdout"
	KindRedis  Kind = "redis"
	KindMongo  Kind = "mongo"
)

// Options configures Open.
type Options struct {
	Kind Kind

	// File and stdout sinks.
	Path      string
	Delimiter string

	// Redis sink.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	// Mongo sink.
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	// ConnectTimeout bounds the initial ping of network sinks.
	ConnectTimeout time.Duration
}

// DefaultOptions appends to output.txt and points network sinks at localhost.
func DefaultOptions() Options {
	return Options{
		Kind:            KindFile,
		Path:            "output.txt",
		Delimiter:       DefaultDelimiter,
		RedisAddr:       "localhost:6379",
		RedisKey:        DefaultRedisKey,
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "webtris",
		MongoCollection: "reports",
		ConnectTimeout:  10 * time.Second,
	}
}

// Open creates the sink selected by opts.Kind.
// Network sinks are pinged before they are returned.
func Open(ctx context.Context, opts Options) (Sink, error) {
	s, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	kind := opts.Kind
	if kind == "" {
		kind = KindFile
	}
	logger := logging.NewSinkLogger(string(kind))
	logger.Info().Str("target", target(opts)).Msg("Sink opened")
	return s, nil
}

// target describes where records go, without credentials.
func target(opts Options) string {
	switch opts.Kind {
	case KindStdout:
		return "stdout"
	case KindRedis:
		key := opts.RedisKey
		if key == "" {
			key = DefaultRedisKey
		}
		return opts.RedisAddr + "/" + key
	case KindMongo:
		return opts.MongoDatabase + "." + opts.MongoCollection
	default:
		return opts.Path
	}
}

func open(ctx context.Context, opts Options) (Sink, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch opts.Kind {
	case KindFile, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("file sink: path is required")
		}
		fs, err := NewFileSink(opts.Path, opts.Delimiter)
		if err != nil {
			return nil, err
		}
		return fs, nil

	case KindStdout:
		return newWriterSink("stdout", os.Stdout, nil, opts.Delimiter), nil

	case KindRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisSink(redisClient, opts.RedisKey), nil

	case KindMongo:
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := mongoClient.Ping(connectCtx, nil); err != nil {
			_ = mongoClient.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return NewMongoSink(mongoClient, opts.MongoDatabase, opts.MongoCollection), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}
