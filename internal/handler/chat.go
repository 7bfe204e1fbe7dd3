package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/service"
)

type ChatHandler interface {
	CreateThread(c *gin.Context)
	GetThread(c *gin.Context)
	SendMessage(c *gin.Context)
	GetMessages(c *gin.Context)
	StreamMessages(c *gin.Context)
	MarkRead(c *gin.Context)
}

type chatHandler struct {
	chatService service.ChatService
	logger      *zap.Logger
}

func NewChatHandler(chatService service.ChatService, logger *zap.Logger) ChatHandler {
	return &chatHandler{chatService: chatService, logger: logger}
}

// CreateThread handles POST /api/chat/threads
func (h *chatHandler) CreateThread(c *gin.Context) {
	var input models.CreateChatThreadInput
	if !bindJSON(c, &input) {
		return
	}

	thread, err := h.chatService.CreateThread(c.Request.Context(), &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, thread)
}

// GetThread handles GET /api/chat/threads/:id
func (h *chatHandler) GetThread(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	thread, err := h.chatService.GetThread(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, thread)
}

// SendMessage handles POST /api/chat/threads/:id/messages
func (h *chatHandler) SendMessage(c *gin.Context) {
	threadID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var input models.SendMessageInput
	if !bindJSON(c, &input) {
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), threadID, &input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// GetMessages handles GET /api/chat/threads/:id/messages?limit=N
func (h *chatHandler) GetMessages(c *gin.Context) {
	threadID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer", "field": "limit"})
			return
		}
		limit = v
	}

	messages, err := h.chatService.GetRecent(c.Request.Context(), threadID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// StreamMessages handles GET /api/chat/threads/:id/stream?since=RFC3339.
// Each message is written as an SSE event whose id is the message seq, so a
// reconnecting client resumes from Last-Event-ID.
func (h *chatHandler) StreamMessages(c *gin.Context) {
	threadID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var lastEventID *int64
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Last-Event-ID must be an integer", "field": "Last-Event-ID"})
			return
		}
		lastEventID = &v
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an ISO 8601 timestamp", "field": "since"})
			return
		}
		since = &t
	}

	ctx := c.Request.Context()
	cursor, err := h.chatService.ResolveCursor(ctx, threadID, lastEventID, since)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("Chat stream opened", zap.String("thread_id", threadID.String()), zap.Int64("cursor", int64(cursor)))

	err = h.chatService.Stream(ctx, threadID, cursor, func(msg *models.ChatMessage) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "id: %d\ndata: %s\n\n", msg.Seq, payload); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		h.logger.Warn("Chat stream ended with error", zap.String("thread_id", threadID.String()), zap.Error(err))
		return
	}
	h.logger.Debug("Chat stream closed", zap.String("thread_id", threadID.String()))
}

// sinceLayouts are the ISO 8601 forms accepted for ?since. Timestamps
// without an offset are taken as UTC.
var sinceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseSince(raw string) (time.Time, error) {
	var err error
	for _, layout := range sinceLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

type markReadRequest struct {
	ReaderID *uuid.UUID `json:"readerId"`
}

// MarkRead handles POST /api/chat/messages/:id/read
func (h *chatHandler) MarkRead(c *gin.Context) {
	messageID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req markReadRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	reader := req.ReaderID
	if reader == nil {
		reader = actorID(c)
	}
	if reader == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "readerId is required", "field": "readerId"})
		return
	}

	msg, err := h.chatService.MarkRead(c.Request.Context(), messageID, *reader)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}
