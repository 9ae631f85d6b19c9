package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cuptrace/cuptrace/internal/domain/models"
)

// BatchRepository defines the batch-store operations consumed by the stage
// engine. All reads exclude soft-deleted batches.
type BatchRepository interface {
	FindActive(ctx context.Context, id string) (*models.Batch, error)
	Create(ctx context.Context, batch models.Batch) error
	UpdateStage(ctx context.Context, id string, expected models.Stage, update BatchStageUpdate) (*models.Batch, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// BatchStageUpdate carries the partial field set applied to a batch row on a
// successful transition. An empty TxHash preserves the existing hash.
type BatchStageUpdate struct {
	Stage     models.Stage
	ActorID   string
	TxHash    string
	UpdatedAt time.Time
}

var stageParticipantField = map[models.Stage]string{
	models.StageWashingStation: "washing_station_id",
	models.StageFactory:        "factory_id",
	models.StageExporter:       "exporter_id",
	models.StageImporter:       "importer_id",
	models.StageRetailer:       "retailer_id",
}

func notDeleted() bson.M {
	return bson.M{"deleted_at": bson.M{"$exists": false}}
}

// FindActive looks up a batch by id, excluding soft-deleted rows.
func (s *Store) FindActive(ctx context.Context, id string) (*models.Batch, error) {
	filter := bson.M{"_id": id}
	for k, v := range notDeleted() {
		filter[k] = v
	}

	var batch models.Batch
	err := s.collection(batchCollection).FindOne(ctx, filter).Decode(&batch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find batch %s: %w", id, err)
	}
	return &batch, nil
}

// Create inserts a freshly registered batch.
func (s *Store) Create(ctx context.Context, batch models.Batch) error {
	if _, err := s.collection(batchCollection).InsertOne(ctx, batch); err != nil {
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}
	return nil
}

// UpdateStage applies the stage transition conditioned on the previously
// observed stage. A filter miss on a live batch means a concurrent update
// won the race and surfaces as ErrStageConflict.
func (s *Store) UpdateStage(ctx context.Context, id string, expected models.Stage, update BatchStageUpdate) (*models.Batch, error) {
	set := bson.M{
		"current_stage": update.Stage,
		"updated_at":    update.UpdatedAt,
	}
	// farmer_id is fixed at registration; later stages record their actor once
	// reached. Re-asserting a stage overwrites its participant id.
	if field, ok := stageParticipantField[update.Stage]; ok {
		set[field] = update.ActorID
	}
	if update.TxHash != "" {
		set["blockchain_tx_hash"] = update.TxHash
	}

	filter := bson.M{"_id": id, "current_stage": expected}
	for k, v := range notDeleted() {
		filter[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Batch
	err := s.collection(batchCollection).
		FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).
		Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Distinguish a vanished batch from a lost race.
		if _, findErr := s.FindActive(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, ErrStageConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update batch %s stage: %w", id, err)
	}
	return &updated, nil
}

// SoftDelete marks a batch as logically removed without dropping the row.
func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id}
	for k, v := range notDeleted() {
		filter[k] = v
	}

	res, err := s.collection(batchCollection).UpdateOne(ctx, filter, bson.M{"$set": bson.M{"deleted_at": at}})
	if err != nil {
		return fmt.Errorf("soft delete batch %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
