package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/service"
)

type GdprHandler interface {
	CreateExportRequest(c *gin.Context)
	CreateErasureRequest(c *gin.Context)
	CompleteRequest(c *gin.Context)
	GetOpenRequests(c *gin.Context)
}

type gdprHandler struct {
	gdprService service.GdprService
	logger      *zap.Logger
}

func NewGdprHandler(gdprService service.GdprService, logger *zap.Logger) GdprHandler {
	return &gdprHandler{gdprService: gdprService, logger: logger}
}

// CreateExportRequest handles POST /api/gdpr/export
func (h *gdprHandler) CreateExportRequest(c *gin.Context) {
	var input models.CreateDataSubjectRequestInput
	if !bindJSON(c, &input) {
		return
	}

	req, err := h.gdprService.CreateExportRequest(c.Request.Context(), &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// CreateErasureRequest handles POST /api/gdpr/erasure
func (h *gdprHandler) CreateErasureRequest(c *gin.Context) {
	var input models.CreateDataSubjectRequestInput
	if !bindJSON(c, &input) {
		return
	}

	req, err := h.gdprService.CreateErasureRequest(c.Request.Context(), &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// CompleteRequest handles POST /api/gdpr/:id/complete?exportLocation=...
func (h *gdprHandler) CompleteRequest(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var exportLocation *string
	if loc, ok := c.GetQuery("exportLocation"); ok && loc != "" {
		exportLocation = &loc
	}

	req, err := h.gdprService.CompleteRequest(c.Request.Context(), id, exportLocation)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// GetOpenRequests handles GET /api/gdpr/open
func (h *gdprHandler) GetOpenRequests(c *gin.Context) {
	open, err := h.gdprService.ListOpenRequests(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, open)
}
