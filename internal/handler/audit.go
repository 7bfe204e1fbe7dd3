package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklessons/internal/service"
)

type AuditHandler interface {
	GetAuditEvents(c *gin.Context)
}

type auditHandler struct {
	auditTrail service.AuditTrail
	logger     *zap.Logger
}

func NewAuditHandler(auditTrail service.AuditTrail, logger *zap.Logger) AuditHandler {
	return &auditHandler{auditTrail: auditTrail, logger: logger}
}

// GetAuditEvents handles GET /api/audit?subjectType=...&subjectId=...
func (h *auditHandler) GetAuditEvents(c *gin.Context) {
	var subjectID *uuid.UUID
	if raw := c.Query("subjectId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subjectId", "field": "subjectId"})
			return
		}
		subjectID = &id
	}

	events, err := h.auditTrail.List(c.Request.Context(), c.Query("subjectType"), subjectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, events)
}
