package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Document is the shape of a record stored by MongoSink.
type Document struct {
	Key      string    `bson:"key"`
	Site     string    `bson:"site"`
	Start    string    `bson:"start"`
	End      string    `bson:"end"`
	Page     int       `bson:"page"`
	PageSize int       `bson:"page_size"`
	Payload  []byte    `bson:"payload"`
	StoredAt time.Time `bson:"stored_at"`
}

// MongoSink inserts one document per record.
// The sink owns the client and disconnects it on Close.
type MongoSink struct {
	mu         sync.RWMutex
	client     *mongo.Client
	collection *mongo.Collection
	closed     bool
}

// NewMongoSink creates a sink writing to database.collection.
func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	if client == nil {
		panic("mongo client cannot be nil")
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

// Append inserts the record. Payload bytes are stored as BSON binary, unmodified.
func (s *MongoSink) Append(ctx context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	doc := Document{
		Key:      rec.Item.Key(),
		Site:     rec.Item.Site,
		Start:    rec.Item.RangeStart,
		End:      rec.Item.RangeEnd,
		Page:     rec.Item.Page,
		PageSize: rec.Item.PageSize,
		Payload:  rec.Payload,
		StoredAt: time.Now().UTC(),
	}

	_, err := s.collection.InsertOne(ctx, doc)
	observe("mongo", rec, err)
	if err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

// Close disconnects the Mongo client.
func (s *MongoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("close mongo sink: %w", err)
	}
	return nil
}
