package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/service/ussd"
)

// USSDHandler ingests aggregator session callbacks. Replies are plain text
// in the CON/END convention.
type USSDHandler struct {
	svc    ussd.MenuService
	logger *zap.Logger
}

// NewUSSDHandler constructs the USSD handler adapter.
func NewUSSDHandler(svc ussd.MenuService, logger *zap.Logger) *USSDHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USSDHandler{svc: svc, logger: logger}
}

// Callback handles one USSD session hop. Aggregators post form-encoded
// bodies; JSON is accepted for testing convenience.
func (h *USSDHandler) Callback(c *gin.Context) {
	var req models.USSDRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid ussd payload", zap.Error(err))
		c.String(http.StatusBadRequest, "END Invalid request.")
		return
	}

	reply, err := h.svc.HandleRequest(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("failed processing ussd callback", zap.Error(err), zap.String("session_id", req.SessionID))
		c.String(http.StatusOK, "END Service unavailable. Try again later.")
		return
	}

	c.String(http.StatusOK, reply)
}
