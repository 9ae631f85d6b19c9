package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cuptrace/cuptrace/internal/domain/models"
)

// ParticipantRepository resolves actor ids to display names for read-side
// views. Resolution is best effort; missing participants are simply absent
// from the result map.
type ParticipantRepository interface {
	FindNames(ctx context.Context, ids []string) (map[string]string, error)
}

// FindNames returns a map of participant id to display name for the ids
// that exist.
func (s *Store) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	cursor, err := s.collection(participantCollection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find participants: %w", err)
	}
	defer cursor.Close(ctx)

	var participants []models.Participant
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.DisplayName
	}
	return names, nil
}
