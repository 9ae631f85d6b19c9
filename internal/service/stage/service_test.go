package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/repository/mongodb"
	"github.com/cuptrace/cuptrace/pkg/clients/notary"
)

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*models.Batch
	updates int
}

func newFakeBatchRepo(batches ...*models.Batch) *fakeBatchRepo {
	repo := &fakeBatchRepo{batches: make(map[string]*models.Batch)}
	for _, b := range batches {
		repo.batches[b.ID] = b
	}
	return repo
}

func (r *fakeBatchRepo) FindActive(_ context.Context, id string) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.DeletedAt != nil {
		return nil, mongodb.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *fakeBatchRepo) Create(_ context.Context, batch models.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = &batch
	return nil
}

func (r *fakeBatchRepo) UpdateStage(_ context.Context, id string, expected models.Stage, update mongodb.BatchStageUpdate) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok || b.DeletedAt != nil {
		return nil, mongodb.ErrNotFound
	}
	if b.CurrentStage != expected {
		return nil, mongodb.ErrStageConflict
	}

	r.updates++
	b.CurrentStage = update.Stage
	b.UpdatedAt = update.UpdatedAt
	if update.TxHash != "" {
		b.BlockchainTxHash = update.TxHash
	}
	switch update.Stage {
	case models.StageWashingStation:
		b.WashingStationID = update.ActorID
	case models.StageFactory:
		b.FactoryID = update.ActorID
	case models.StageExporter:
		b.ExporterID = update.ActorID
	case models.StageImporter:
		b.ImporterID = update.ActorID
	case models.StageRetailer:
		b.RetailerID = update.ActorID
	}

	clone := *b
	return &clone, nil
}

func (r *fakeBatchRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.DeletedAt != nil {
		return mongodb.ErrNotFound
	}
	b.DeletedAt = &at
	return nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []models.StageHistoryEntry
}

func (r *fakeHistoryRepo) Append(_ context.Context, entry models.StageHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeHistoryRepo) ListByBatch(_ context.Context, batchID string) ([]models.StageHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.StageHistoryEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].BatchID == batchID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) ListSince(_ context.Context, since, until time.Time) ([]models.StageHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.StageHistoryEntry
	for _, e := range r.entries {
		if !e.CreatedAt.Before(since) && e.CreatedAt.Before(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fakeParticipantRepo struct {
	names map[string]string
	err   error
}

func (r *fakeParticipantRepo) FindNames(_ context.Context, ids []string) (map[string]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := r.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type fakeNotary struct {
	err    error
	calls  chan notary.NotarizeRequest
	txHash string
}

func newFakeNotary(err error) *fakeNotary {
	return &fakeNotary{err: err, calls: make(chan notary.NotarizeRequest, 8), txHash: "tx-abc"}
}

func (n *fakeNotary) Notarize(_ context.Context, req notary.NotarizeRequest) (*notary.NotarizeResponse, error) {
	n.calls <- req
	if n.err != nil {
		return nil, n.err
	}
	return &notary.NotarizeResponse{TxHash: n.txHash}, nil
}

func (n *fakeNotary) waitForCall(t *testing.T) notary.NotarizeRequest {
	t.Helper()
	select {
	case req := <-n.calls:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("notarization was never dispatched")
		return notary.NotarizeRequest{}
	}
}

func testBatch(id string, current models.Stage) *models.Batch {
	return &models.Batch{
		ID:           id,
		LotCode:      "CT-2026-TEST",
		Product:      "coffee",
		CurrentStage: current,
		FarmerID:     "farmer-1",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func newTestService(batches mongodb.BatchRepository, history mongodb.HistoryRepository, participants mongodb.ParticipantRepository, notaryClient notary.Client) *Service {
	svc := NewService(batches, history, participants, notaryClient, time.Second, zap.NewNop())
	seq := 0
	svc.newID = func() string {
		seq++
		return string(rune('a' + seq - 1))
	}
	return svc
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name      string
		current   models.Stage
		requested models.Stage
		want      bool
	}{
		{"forward by one", models.StageFarmer, models.StageWashingStation, true},
		{"forward skipping stages", models.StageFarmer, models.StageRetailer, true},
		{"same stage re-assertion", models.StageFactory, models.StageFactory, true},
		{"backward by one", models.StageWashingStation, models.StageFarmer, false},
		{"backward from the end", models.StageRetailer, models.StageImporter, false},
		{"unknown requested", models.StageFarmer, models.Stage("warehouse"), false},
		{"unknown current", models.Stage(""), models.StageFarmer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateTransition(tt.current, tt.requested))
		})
	}
}

func TestUpdateBatchStage_Forward(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	history := &fakeHistoryRepo{}
	notaryClient := newFakeNotary(nil)
	svc := newTestService(batches, history, nil, notaryClient)

	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StageWashingStation, view.CurrentStage)
	assert.Equal(t, "U1", view.WashingStationID)

	require.Equal(t, 1, history.count())
	assert.Equal(t, models.StageWashingStation, history.entries[0].Stage)
	assert.Equal(t, "U1", history.entries[0].ChangedBy)

	req := notaryClient.waitForCall(t)
	assert.Equal(t, "b1", req.BatchID)
	assert.Equal(t, string(models.StageWashingStation), req.NewStage)
	assert.Equal(t, string(models.StageFarmer), req.OldStage)
	assert.Equal(t, "U1", req.ActorID)
}

func TestUpdateBatchStage_Monotonic(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	progression := []models.Stage{
		models.StageWashingStation,
		models.StageFactory,
		models.StageExporter,
		models.StageImporter,
		models.StageRetailer,
	}

	last := -1
	for _, target := range progression {
		view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
			Stage:     target,
			ChangedBy: "U1",
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, view.CurrentStage.Index(), last)
		last = view.CurrentStage.Index()
	}

	assert.Equal(t, len(progression), history.count())
}

func TestUpdateBatchStage_RejectsBackward(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageWashingStation))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	_, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageFarmer,
		ChangedBy: "U1",
	})
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Contains(t, err.Error(), "washing_station -> farmer")

	// No side effects.
	assert.Equal(t, 0, batches.updates)
	assert.Equal(t, 0, history.count())

	got, findErr := batches.FindActive(context.Background(), "b1")
	require.NoError(t, findErr)
	assert.Equal(t, models.StageWashingStation, got.CurrentStage)
}

func TestUpdateBatchStage_SameStageReassertion(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFactory))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	qty := 120.0
	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageFactory,
		ChangedBy: "U2",
		Quantity:  &qty,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StageFactory, view.CurrentStage)
	assert.Equal(t, "U2", view.FactoryID)

	require.Equal(t, 1, history.count())
	require.NotNil(t, history.entries[0].Quantity)
	assert.Equal(t, 120.0, *history.entries[0].Quantity)
}

func TestUpdateBatchStage_NegativeQuantityBeforeStoreAccess(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageExporter))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	qty := -5.0
	_, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageImporter,
		ChangedBy: "U3",
		Quantity:  &qty,
	})
	require.ErrorIs(t, err, ErrNegativeQuantity)

	assert.Equal(t, 0, batches.updates)
	assert.Equal(t, 0, history.count())
}

func TestUpdateBatchStage_InputValidation(t *testing.T) {
	tests := []struct {
		name    string
		batchID string
		input   models.StageUpdateInput
		wantErr error
	}{
		{
			name:    "missing batch id",
			batchID: "",
			input:   models.StageUpdateInput{Stage: models.StageFactory, ChangedBy: "U1"},
			wantErr: ErrMissingBatchID,
		},
		{
			name:    "missing actor",
			batchID: "b1",
			input:   models.StageUpdateInput{Stage: models.StageFactory},
			wantErr: ErrMissingActor,
		},
		{
			name:    "unknown stage",
			batchID: "b1",
			input:   models.StageUpdateInput{Stage: "silo", ChangedBy: "U1"},
			wantErr: ErrUnknownStage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
			history := &fakeHistoryRepo{}
			svc := newTestService(batches, history, nil, nil)

			_, err := svc.UpdateBatchStage(context.Background(), tt.batchID, tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, 0, history.count())
		})
	}
}

func TestUpdateBatchStage_NotFound(t *testing.T) {
	batches := newFakeBatchRepo()
	svc := newTestService(batches, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.UpdateBatchStage(context.Background(), "missing", models.StageUpdateInput{
		Stage:     models.StageFactory,
		ChangedBy: "U1",
	})
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestUpdateBatchStage_SoftDeletedBatchIsNotFound(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	require.NoError(t, batches.SoftDelete(context.Background(), "b1", time.Now()))

	svc := newTestService(batches, &fakeHistoryRepo{}, nil, nil)

	_, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestUpdateBatchStage_NotarizationFailureIsIsolated(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	history := &fakeHistoryRepo{}
	notaryClient := newFakeNotary(errors.New("gateway down"))
	svc := newTestService(batches, history, nil, notaryClient)

	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageWashingStation, view.CurrentStage)
	assert.Equal(t, 1, history.count())

	// The dispatch still happened; its failure stayed internal.
	notaryClient.waitForCall(t)
}

func TestUpdateBatchStage_ConcurrentConflict(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	// Another writer moves the batch before our read; the re-read observes
	// the new stage, so the transition is judged against it.
	batches.batches["b1"].CurrentStage = models.StageFactory

	_, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageFactory,
		ChangedBy: "U1",
	})
	// The read observes factory, so factory -> factory is legal and succeeds.
	require.NoError(t, err)

	// Force a real race: read sees farmer, the row holds retailer.
	conflicted := newFakeBatchRepo(testBatch("b2", models.StageFarmer))
	raceSvc := newTestService(&racingBatchRepo{fakeBatchRepo: conflicted}, history, nil, nil)

	_, err = raceSvc.UpdateBatchStage(context.Background(), "b2", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.ErrorIs(t, err, ErrStageConflict)
}

// racingBatchRepo advances the stored stage after every read, simulating a
// concurrent writer winning between lookup and update.
type racingBatchRepo struct {
	*fakeBatchRepo
}

func (r *racingBatchRepo) FindActive(ctx context.Context, id string) (*models.Batch, error) {
	b, err := r.fakeBatchRepo.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.batches[id].CurrentStage = models.StageRetailer
	r.mu.Unlock()
	return b, nil
}

func TestUpdateBatchStage_PreservesTxHashUnlessSupplied(t *testing.T) {
	batch := testBatch("b1", models.StageFarmer)
	batch.BlockchainTxHash = "tx-old"
	batches := newFakeBatchRepo(batch)
	svc := newTestService(batches, &fakeHistoryRepo{}, nil, nil)

	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-old", view.BlockchainTxHash)

	view, err = svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:            models.StageFactory,
		ChangedBy:        "U2",
		BlockchainTxHash: "tx-new",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-new", view.BlockchainTxHash)
}

func TestUpdateBatchStage_ResolvesParticipantNames(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	participants := &fakeParticipantRepo{names: map[string]string{
		"farmer-1": "Jeanne",
		"U1":       "Gisenyi Washing Station",
	}}
	svc := newTestService(batches, &fakeHistoryRepo{}, participants, nil)

	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jeanne", view.ParticipantNames[models.StageFarmer])
	assert.Equal(t, "Gisenyi Washing Station", view.ParticipantNames[models.StageWashingStation])
}

func TestUpdateBatchStage_NameResolutionFailureIsNonFatal(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	participants := &fakeParticipantRepo{err: errors.New("participants collection offline")}
	svc := newTestService(batches, &fakeHistoryRepo{}, participants, nil)

	view, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
		Stage:     models.StageWashingStation,
		ChangedBy: "U1",
	})
	require.NoError(t, err)
	assert.Empty(t, view.ParticipantNames)
}

func TestGetBatchHistory(t *testing.T) {
	batches := newFakeBatchRepo(testBatch("b1", models.StageFarmer))
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ticks := 0
	svc.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Minute)
	}

	targets := []models.Stage{models.StageWashingStation, models.StageFactory, models.StageExporter}
	for _, target := range targets {
		_, err := svc.UpdateBatchStage(context.Background(), "b1", models.StageUpdateInput{
			Stage:     target,
			ChangedBy: "U1",
		})
		require.NoError(t, err)
	}

	entries, err := svc.GetBatchHistory(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, entries, len(targets))

	// Most recent first.
	assert.Equal(t, models.StageExporter, entries[0].Stage)
	assert.Equal(t, models.StageFactory, entries[1].Stage)
	assert.Equal(t, models.StageWashingStation, entries[2].Stage)
	for i := 0; i < len(entries)-1; i++ {
		assert.False(t, entries[i].CreatedAt.Before(entries[i+1].CreatedAt))
	}
}

func TestGetBatchHistory_NotFound(t *testing.T) {
	svc := newTestService(newFakeBatchRepo(), &fakeHistoryRepo{}, nil, nil)

	_, err := svc.GetBatchHistory(context.Background(), "missing")
	require.ErrorIs(t, err, ErrBatchNotFound)

	_, err = svc.GetBatchHistory(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingBatchID)
}

func TestRegisterBatch(t *testing.T) {
	batches := newFakeBatchRepo()
	history := &fakeHistoryRepo{}
	svc := newTestService(batches, history, nil, nil)

	batch, err := svc.RegisterBatch(context.Background(), models.RegisterBatchInput{
		Product:  "Coffee",
		FarmerID: "farmer-9",
		Origin:   "Huye",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StageFarmer, batch.CurrentStage)
	assert.Equal(t, "farmer-9", batch.FarmerID)
	assert.Equal(t, "coffee", batch.Product)
	assert.NotEmpty(t, batch.LotCode)

	require.Equal(t, 1, history.count())
	assert.Equal(t, models.StageFarmer, history.entries[0].Stage)
	assert.Equal(t, "farmer-9", history.entries[0].ChangedBy)
}

func TestRegisterBatch_Validation(t *testing.T) {
	svc := newTestService(newFakeBatchRepo(), &fakeHistoryRepo{}, nil, nil)

	_, err := svc.RegisterBatch(context.Background(), models.RegisterBatchInput{Product: "coffee"})
	require.ErrorIs(t, err, ErrMissingFarmer)

	_, err = svc.RegisterBatch(context.Background(), models.RegisterBatchInput{FarmerID: "f1"})
	require.ErrorIs(t, err, ErrMissingProduct)
}
