package ussd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/service/stage"
)

// MenuService processes aggregator callbacks for one USSD session hop.
type MenuService interface {
	HandleRequest(ctx context.Context, req models.USSDRequest) (string, error)
}

// Service drives the numeric USSD menu on top of the stage engine. Field
// actors identify themselves by their phone number.
type Service struct {
	engine   stage.Engine
	sessions *SessionManager
	logger   *zap.Logger
}

// NewService wires a USSD menu service instance.
func NewService(engine stage.Engine, sessions *SessionManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, sessions: sessions, logger: logger}
}

// HandleRequest advances one session by one menu hop. Responses use the
// aggregator convention: "CON ..." keeps the session open, "END ..."
// terminates it.
func (s *Service) HandleRequest(ctx context.Context, req models.USSDRequest) (string, error) {
	if req.SessionID == "" || req.PhoneNumber == "" {
		return "", errors.New("missing session id or phone number")
	}

	input := lastToken(req.Text)
	state := s.sessions.Get(req.SessionID)

	s.logger.Debug("ussd hop",
		zap.String("session_id", req.SessionID),
		zap.String("step", state.Step),
		zap.String("input", input))

	switch state.Step {
	case models.USSDStepMenu:
		return s.handleMenu(req, state, input), nil
	case models.USSDStepBatchID:
		return s.handleBatchID(ctx, req, state, input), nil
	case models.USSDStepStage:
		return s.handleStage(ctx, req, state, input), nil
	case models.USSDStepStatusLot:
		return s.handleStatus(ctx, req, input), nil
	default:
		s.sessions.Clear(req.SessionID)
		return endReply("Session expired. Please dial again."), nil
	}
}

func (s *Service) handleMenu(req models.USSDRequest, state models.USSDSession, input string) string {
	switch input {
	case "":
		s.sessions.Update(req.SessionID, state)
		return conReply("Welcome to CupTrace\n1. Update batch stage\n2. Check batch status")
	case "1":
		state.Step = models.USSDStepBatchID
		s.sessions.Update(req.SessionID, state)
		return conReply("Enter batch id or lot code")
	case "2":
		state.Step = models.USSDStepStatusLot
		s.sessions.Update(req.SessionID, state)
		return conReply("Enter batch id or lot code")
	default:
		s.sessions.Clear(req.SessionID)
		return endReply("Invalid choice.")
	}
}

func (s *Service) handleBatchID(ctx context.Context, req models.USSDRequest, state models.USSDSession, input string) string {
	view, err := s.engine.GetBatch(ctx, input)
	if err != nil {
		s.sessions.Clear(req.SessionID)
		if errors.Is(err, stage.ErrBatchNotFound) {
			return endReply("Batch not found.")
		}
		s.logger.Error("ussd batch lookup failed", zap.Error(err))
		return endReply("Service unavailable. Try again later.")
	}

	state.Step = models.USSDStepStage
	state.BatchID = view.ID
	s.sessions.Update(req.SessionID, state)

	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s at %s\nSelect new stage:", view.LotCode, view.CurrentStage)
	for i, st := range models.AllStages() {
		fmt.Fprintf(&b, "\n%d. %s", i+1, st)
	}
	return conReply(b.String())
}

func (s *Service) handleStage(ctx context.Context, req models.USSDRequest, state models.USSDSession, input string) string {
	defer s.sessions.Clear(req.SessionID)

	choice, err := strconv.Atoi(input)
	stages := models.AllStages()
	if err != nil || choice < 1 || choice > len(stages) {
		return endReply("Invalid stage choice.")
	}

	view, err := s.engine.UpdateBatchStage(ctx, state.BatchID, models.StageUpdateInput{
		Stage:     stages[choice-1],
		ChangedBy: req.PhoneNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, stage.ErrIllegalTransition):
			return endReply("Cannot move the batch backwards.")
		case errors.Is(err, stage.ErrBatchNotFound):
			return endReply("Batch not found.")
		case errors.Is(err, stage.ErrStageConflict):
			return endReply("Batch was just updated by someone else. Try again.")
		case stage.IsValidationError(err):
			return endReply("Invalid request.")
		}
		s.logger.Error("ussd stage update failed", zap.String("batch_id", state.BatchID), zap.Error(err))
		return endReply("Service unavailable. Try again later.")
	}

	return endReply(fmt.Sprintf("Batch %s is now at %s.", view.LotCode, view.CurrentStage))
}

func (s *Service) handleStatus(ctx context.Context, req models.USSDRequest, input string) string {
	defer s.sessions.Clear(req.SessionID)

	view, err := s.engine.GetBatch(ctx, input)
	if err != nil {
		if errors.Is(err, stage.ErrBatchNotFound) {
			return endReply("Batch not found.")
		}
		s.logger.Error("ussd status lookup failed", zap.Error(err))
		return endReply("Service unavailable. Try again later.")
	}

	return endReply(fmt.Sprintf("Batch %s (%s) is at %s.", view.LotCode, view.Product, view.CurrentStage))
}

// lastToken extracts the caller's most recent input from the accumulated
// '*'-joined text the aggregator sends on every hop.
func lastToken(text string) string {
	if text == "" {
		return ""
	}
	parts := strings.Split(text, "*")
	return strings.TrimSpace(parts[len(parts)-1])
}

func conReply(body string) string { return "CON " + body }

func endReply(body string) string { return "END " + body }
