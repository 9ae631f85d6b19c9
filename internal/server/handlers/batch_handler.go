package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/service/stage"
)

// BatchHandler exposes batch registration, stage updates, history and the
// public trace view over HTTP.
type BatchHandler struct {
	engine stage.Engine
	logger *zap.Logger
}

// NewBatchHandler constructs the HTTP handler adapter.
func NewBatchHandler(engine stage.Engine, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{engine: engine, logger: logger}
}

// Register creates a new batch at the farmer stage.
func (h *BatchHandler) Register(c *gin.Context) {
	var input models.RegisterBatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Warn("invalid register payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	batch, err := h.engine.RegisterBatch(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// UpdateStage applies one stage transition to a batch.
func (h *BatchHandler) UpdateStage(c *gin.Context) {
	var input models.StageUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Warn("invalid stage update payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	view, err := h.engine.UpdateBatchStage(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// History returns the audit trail for a batch, most recent entry first.
func (h *BatchHandler) History(c *gin.Context) {
	entries, err := h.engine.GetBatchHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Trace is the public consumer view reached from a QR code: the batch with
// resolved participant names plus its full trail.
func (h *BatchHandler) Trace(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	view, err := h.engine.GetBatch(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	entries, err := h.engine.GetBatchHistory(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": view, "history": entries})
}

func (h *BatchHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stage.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, stage.ErrIllegalTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, stage.ErrStageConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case stage.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("batch operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
