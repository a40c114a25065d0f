//go:build integration

package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// startContainer starts image and returns host:port for the exposed port.
func startContainer(t *testing.T, image, port, readyLog string) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{port + "/tcp"},
		WaitingFor:   wait.ForLog(readyLog),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", image, err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return host + ":" + mapped.Port()
}

func TestRedisSink_Integration(t *testing.T) {
	addr := startContainer(t, "redis:7-alpine", "6379", "Ready to accept connections")
	ctx := context.Background()

	s, err := Open(ctx, Options{Kind: KindRedis, RedisAddr: addr, RedisKey: "test:reports"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(ctx, record(i+1, fmt.Sprintf(`{"page":%d}`, i+1))); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Append(ctx, record(1, "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close error = %v, want ErrClosed", err)
	}

	verify := redis.NewClient(&redis.Options{Addr: addr})
	defer verify.Close()

	values, err := verify.LRange(ctx, "test:reports", 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange() error = %v", err)
	}
	if len(values) != n {
		t.Fatalf("list length = %d, want %d", len(values), n)
	}
	seen := make(map[string]bool)
	for _, v := range values {
		seen[v] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[fmt.Sprintf(`{"page":%d}`, i)] {
			t.Errorf("payload for page %d missing", i)
		}
	}
}

func TestMongoSink_Integration(t *testing.T) {
	addr := startContainer(t, "mongo:7", "27017", "Waiting for connections")
	ctx := context.Background()
	uri := "mongodb://" + addr

	s, err := Open(ctx, Options{
		Kind:            KindMongo,
		MongoURI:        uri,
		MongoDatabase:   "webtris_test",
		MongoCollection: "reports",
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := s.Append(ctx, record(i, fmt.Sprintf(`{"page":%d}`, i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(ctx)

	coll := client.Database("webtris_test").Collection("reports")
	count, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		t.Fatalf("CountDocuments() error = %v", err)
	}
	if count != 5 {
		t.Errorf("documents = %d, want 5", count)
	}

	var doc Document
	if err := coll.FindOne(ctx, bson.D{{Key: "page", Value: 3}}).Decode(&doc); err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if string(doc.Payload) != `{"page":3}` {
		t.Errorf("Payload = %q, want %q", doc.Payload, `{"page":3}`)
	}
	if doc.Key != "2:01082021:01082021:3" {
		t.Errorf("Key = %q", doc.Key)
	}
}
