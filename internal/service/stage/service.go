package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/repository/mongodb"
	"github.com/cuptrace/cuptrace/pkg/clients/notary"
)

// Engine describes the stage-transition operations consumed by the HTTP and
// USSD layers.
type Engine interface {
	RegisterBatch(ctx context.Context, input models.RegisterBatchInput) (*models.Batch, error)
	UpdateBatchStage(ctx context.Context, batchID string, input models.StageUpdateInput) (*models.BatchView, error)
	GetBatch(ctx context.Context, batchID string) (*models.BatchView, error)
	GetBatchHistory(ctx context.Context, batchID string) ([]models.StageHistoryEntry, error)
}

// Service enforces forward-only stage progression for batches, keeps the
// append-only audit trail, and reports transitions to the notarization
// gateway on a best-effort basis.
type Service struct {
	batches      mongodb.BatchRepository
	history      mongodb.HistoryRepository
	participants mongodb.ParticipantRepository
	notary       notary.Client
	logger       *zap.Logger

	notarizeTimeout time.Duration
	now             func() time.Time
	newID           func() string
}

// NewService wires a stage engine instance. The notary client may be nil,
// in which case transitions are recorded locally only.
func NewService(batches mongodb.BatchRepository, history mongodb.HistoryRepository, participants mongodb.ParticipantRepository, notaryClient notary.Client, notarizeTimeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notarizeTimeout <= 0 {
		notarizeTimeout = 30 * time.Second
	}
	return &Service{
		batches:         batches,
		history:         history,
		participants:    participants,
		notary:          notaryClient,
		logger:          logger,
		notarizeTimeout: notarizeTimeout,
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
	}
}

// ValidateTransition reports whether a batch at current may move to
// requested. Forward moves and same-stage re-assertions are allowed;
// backward moves are not. Re-asserting a stage is how actors resubmit
// corrected metadata without advancing the batch.
func ValidateTransition(current, requested models.Stage) bool {
	if !current.Valid() || !requested.Valid() {
		return false
	}
	return requested.Index() >= current.Index()
}

// RegisterBatch creates a new batch at the farmer stage and appends its
// initial history entry.
func (s *Service) RegisterBatch(ctx context.Context, input models.RegisterBatchInput) (*models.Batch, error) {
	if strings.TrimSpace(input.FarmerID) == "" {
		return nil, ErrMissingFarmer
	}
	if strings.TrimSpace(input.Product) == "" {
		return nil, ErrMissingProduct
	}

	now := s.now().UTC()
	batch := models.Batch{
		ID:           s.newID(),
		LotCode:      input.LotCode,
		Product:      strings.ToLower(strings.TrimSpace(input.Product)),
		Origin:       input.Origin,
		Variety:      input.Variety,
		CurrentStage: models.StageFarmer,
		FarmerID:     input.FarmerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if batch.LotCode == "" {
		batch.LotCode = fmt.Sprintf("CT-%d-%.8s", now.Year(), batch.ID)
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("register batch: %w", err)
	}

	entry := models.StageHistoryEntry{
		ID:        s.newID(),
		BatchID:   batch.ID,
		Stage:     models.StageFarmer,
		ChangedBy: input.FarmerID,
		Location:  input.Origin,
		CreatedAt: now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("record registration for batch %s: %w", batch.ID, err)
	}

	s.logger.Info("batch registered",
		zap.String("batch_id", batch.ID),
		zap.String("lot_code", batch.LotCode),
		zap.String("farmer_id", batch.FarmerID))

	return &batch, nil
}

// UpdateBatchStage validates and applies one forward stage change, appends
// the audit entry, and dispatches a fire-and-forget notarization.
//
// The batch update and the history append are separate writes; a crash
// between them can leave a transition without its audit entry. The stores
// offer no cross-collection transaction here, matching their per-row
// atomicity contract.
func (s *Service) UpdateBatchStage(ctx context.Context, batchID string, input models.StageUpdateInput) (*models.BatchView, error) {
	// Input validation happens strictly before any store access.
	if strings.TrimSpace(batchID) == "" {
		return nil, ErrMissingBatchID
	}
	if strings.TrimSpace(input.ChangedBy) == "" {
		return nil, ErrMissingActor
	}
	if !input.Stage.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, string(input.Stage))
	}
	if input.Quantity != nil && *input.Quantity < 0 {
		return nil, fmt.Errorf("%w: got %v", ErrNegativeQuantity, *input.Quantity)
	}

	batch, err := s.batches.FindActive(ctx, batchID)
	if errors.Is(err, mongodb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}

	oldStage := batch.CurrentStage
	if !ValidateTransition(oldStage, input.Stage) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, oldStage, input.Stage)
	}

	now := s.now().UTC()
	updated, err := s.batches.UpdateStage(ctx, batchID, oldStage, mongodb.BatchStageUpdate{
		Stage:     input.Stage,
		ActorID:   input.ChangedBy,
		TxHash:    input.BlockchainTxHash,
		UpdatedAt: now,
	})
	if errors.Is(err, mongodb.ErrStageConflict) {
		return nil, fmt.Errorf("%w: %s", ErrStageConflict, batchID)
	}
	if errors.Is(err, mongodb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}

	entry := models.StageHistoryEntry{
		ID:               s.newID(),
		BatchID:          batchID,
		Stage:            input.Stage,
		ChangedBy:        input.ChangedBy,
		Notes:            input.Notes,
		Quantity:         input.Quantity,
		Quality:          input.Quality,
		Location:         input.Location,
		BlockchainTxHash: input.BlockchainTxHash,
		Metadata:         input.Metadata,
		CreatedAt:        now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("record transition for batch %s: %w", batchID, err)
	}

	s.logger.Info("batch stage updated",
		zap.String("batch_id", batchID),
		zap.String("old_stage", string(oldStage)),
		zap.String("new_stage", string(input.Stage)),
		zap.String("changed_by", input.ChangedBy))

	s.dispatchNotarization(batchID, input.Stage, oldStage, input.ChangedBy)

	return s.enrich(ctx, updated), nil
}

// GetBatch returns a single live batch with resolved participant names.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*models.BatchView, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, ErrMissingBatchID
	}

	batch, err := s.batches.FindActive(ctx, batchID)
	if errors.Is(err, mongodb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}

	return s.enrich(ctx, batch), nil
}

// GetBatchHistory returns the full audit trail for a live batch, most
// recent entry first.
func (s *Service) GetBatchHistory(ctx context.Context, batchID string) ([]models.StageHistoryEntry, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, ErrMissingBatchID
	}

	if _, err := s.batches.FindActive(ctx, batchID); err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, err
	}

	return s.history.ListByBatch(ctx, batchID)
}

// dispatchNotarization reports the transition to the gateway on a detached
// goroutine. The call is bounded by its own timeout, never joined with the
// caller, and its failure is observable only through logs: on-chain
// availability never gates supply-chain record-keeping.
func (s *Service) dispatchNotarization(batchID string, newStage, oldStage models.Stage, actorID string) {
	if s.notary == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("notarization dispatch panicked", zap.Any("panic", r), zap.String("batch_id", batchID))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notarizeTimeout)
		defer cancel()

		resp, err := s.notary.Notarize(ctx, notary.NotarizeRequest{
			BatchID:  batchID,
			NewStage: string(newStage),
			OldStage: string(oldStage),
			ActorID:  actorID,
		})
		if err != nil {
			s.logger.Warn("notarization failed",
				zap.String("batch_id", batchID),
				zap.String("new_stage", string(newStage)),
				zap.Error(err))
			return
		}

		s.logger.Info("stage change notarized",
			zap.String("batch_id", batchID),
			zap.String("tx_hash", resp.TxHash))
	}()
}

// enrich resolves participant ids to display names. Failures degrade to a
// view without names; they never fail the operation.
func (s *Service) enrich(ctx context.Context, batch *models.Batch) *models.BatchView {
	view := &models.BatchView{Batch: *batch}
	if s.participants == nil {
		return view
	}

	var ids []string
	for _, stage := range models.AllStages() {
		if id := batch.ParticipantID(stage); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return view
	}

	names, err := s.participants.FindNames(ctx, ids)
	if err != nil {
		s.logger.Debug("participant name resolution failed", zap.String("batch_id", batch.ID), zap.Error(err))
		return view
	}

	view.ParticipantNames = make(map[models.Stage]string)
	for _, stage := range models.AllStages() {
		if name, ok := names[batch.ParticipantID(stage)]; ok {
			view.ParticipantNames[stage] = name
		}
	}
	return view
}
