package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/service"
)

type FraudHandler interface {
	RecordSignal(c *gin.Context)
	GetAlerts(c *gin.Context)
	ResolveAlert(c *gin.Context)
}

type fraudHandler struct {
	fraudService service.FraudService
	logger       *zap.Logger
}

func NewFraudHandler(fraudService service.FraudService, logger *zap.Logger) FraudHandler {
	return &fraudHandler{fraudService: fraudService, logger: logger}
}

// RecordSignal handles POST /api/fraud/signals
func (h *fraudHandler) RecordSignal(c *gin.Context) {
	var input models.RecordFraudSignalInput
	if !bindJSON(c, &input) {
		return
	}

	if _, err := h.fraudService.RecordSignal(c.Request.Context(), &input); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// GetAlerts handles GET /api/fraud/alerts?open=true
func (h *fraudHandler) GetAlerts(c *gin.Context) {
	openOnly := c.Query("open") == "true"

	alerts, err := h.fraudService.ListAlerts(c.Request.Context(), openOnly)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}

// ResolveAlert handles POST /api/fraud/alerts/:id/resolve
func (h *fraudHandler) ResolveAlert(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var input models.ResolveFraudAlertInput
	if c.Request.ContentLength != 0 && !bindJSON(c, &input) {
		return
	}

	alert, err := h.fraudService.ResolveAlert(c.Request.Context(), id, input.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, alert)
}
