package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cuptrace/cuptrace/internal/domain/models"
)

// HistoryRepository is the append-only audit-trail store. Entries are never
// updated or deleted.
type HistoryRepository interface {
	Append(ctx context.Context, entry models.StageHistoryEntry) error
	ListByBatch(ctx context.Context, batchID string) ([]models.StageHistoryEntry, error)
	ListSince(ctx context.Context, since, until time.Time) ([]models.StageHistoryEntry, error)
}

// Append inserts one immutable history entry.
func (s *Store) Append(ctx context.Context, entry models.StageHistoryEntry) error {
	if _, err := s.collection(historyCollection).InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("append history for batch %s: %w", entry.BatchID, err)
	}
	return nil
}

// ListByBatch returns the full audit trail for a batch, most recent first.
func (s *Store) ListByBatch(ctx context.Context, batchID string) ([]models.StageHistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection(historyCollection).Find(ctx, bson.M{"batch_id": batchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list history for batch %s: %w", batchID, err)
	}
	defer cursor.Close(ctx)

	var entries []models.StageHistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode history for batch %s: %w", batchID, err)
	}
	return entries, nil
}

// ListSince returns all entries created inside [since, until), oldest first.
// Used by the daily reporting job.
func (s *Store) ListSince(ctx context.Context, since, until time.Time) ([]models.StageHistoryEntry, error) {
	filter := bson.M{"created_at": bson.M{"$gte": since, "$lt": until}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.collection(historyCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list history since %s: %w", since.Format(time.RFC3339), err)
	}
	defer cursor.Close(ctx)

	var entries []models.StageHistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode history window: %w", err)
	}
	return entries, nil
}
