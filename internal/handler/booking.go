package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/service"
)

type BookingHandler interface {
	CreateBooking(c *gin.Context)
	GetBooking(c *gin.Context)
	UpdateBookingStatus(c *gin.Context)
	GetBookingHistory(c *gin.Context)
}

type bookingHandler struct {
	bookingService service.BookingService
	logger         *zap.Logger
}

func NewBookingHandler(bookingService service.BookingService, logger *zap.Logger) BookingHandler {
	return &bookingHandler{bookingService: bookingService, logger: logger}
}

// CreateBooking handles POST /api/bookings
func (h *bookingHandler) CreateBooking(c *gin.Context) {
	var input models.CreateBookingInput
	if !bindJSON(c, &input) {
		return
	}

	booking, err := h.bookingService.Create(c.Request.Context(), &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Location", "/api/bookings/"+booking.ID.String())
	c.JSON(http.StatusCreated, booking)
}

// GetBooking handles GET /api/bookings/:id
func (h *bookingHandler) GetBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookingService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// UpdateBookingStatus handles POST /api/bookings/:id/status
func (h *bookingHandler) UpdateBookingStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var input models.UpdateBookingStatusInput
	if !bindJSON(c, &input) {
		return
	}
	if input.ChangedByUserID == nil {
		input.ChangedByUserID = actorID(c)
	}

	booking, err := h.bookingService.UpdateStatus(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetBookingHistory handles GET /api/bookings/:id/history
func (h *bookingHandler) GetBookingHistory(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	entries, err := h.bookingService.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}
