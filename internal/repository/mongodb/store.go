package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a lookup matches no live document.
var ErrNotFound = errors.New("document not found")

// ErrStageConflict is returned when a conditional batch update misses its
// expected prior stage, meaning a concurrent update won the race.
var ErrStageConflict = errors.New("batch stage changed concurrently")

const (
	batchCollection       = "batches"
	historyCollection     = "batch_history"
	participantCollection = "participants"
	reportCollection      = "trace_reports"
)

// Store is the MongoDB-backed persistence layer shared by the batch,
// history, participant and report repositories.
type Store struct {
	client *mongo.Client
	dbName string
}

// NewStore connects to MongoDB and verifies the connection.
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Store{client: client, dbName: dbName}, nil
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.client.Database(s.dbName).Collection(name)
}

// Close closes the MongoDB connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
