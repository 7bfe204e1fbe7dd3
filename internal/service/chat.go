package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

// ChatOptions tunes message paging and the stream loop.
type ChatOptions struct {
	PollInterval     time.Duration
	Lookback         time.Duration
	MaxBackoff       time.Duration
	MaxFetchFailures int
	DefaultLimit     int
	MaxLimit         int
	Publisher        EventPublisher
}

// DefaultChatOptions polls every 3s with a 5 minute lookback.
func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		PollInterval:     3 * time.Second,
		Lookback:         5 * time.Minute,
		MaxBackoff:       30 * time.Second,
		MaxFetchFailures: 5,
		DefaultLimit:     50,
		MaxLimit:         200,
	}
}

// ChatService delivers thread messages by pull (GetRecent) and push (Stream).
type ChatService interface {
	CreateThread(ctx context.Context, input *models.CreateChatThreadInput) (*models.ChatThread, error)
	GetThread(ctx context.Context, id uuid.UUID) (*models.ChatThread, error)
	SendMessage(ctx context.Context, threadID uuid.UUID, input *models.SendMessageInput) (*models.ChatMessage, error)
	GetRecent(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.ChatMessage, error)
	// ResolveCursor picks the starting point of a stream. A Last-Event-ID wins
	// over since; without either the stream starts at now minus the lookback.
	ResolveCursor(ctx context.Context, threadID uuid.UUID, lastEventID *int64, since *time.Time) (Cursor, error)
	Stream(ctx context.Context, threadID uuid.UUID, cursor Cursor, emit EmitFunc) error
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.ChatMessage, error)
}

type chatService struct {
	db     *sqlx.DB
	clock  Clock
	opts   ChatOptions
	logger *zap.Logger
}

func NewChatService(db *sqlx.DB, clock Clock, opts ChatOptions, logger *zap.Logger) ChatService {
	defaults := DefaultChatOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaults.Lookback
	}
	if opts.MaxBackoff < opts.PollInterval {
		opts.MaxBackoff = opts.PollInterval
	}
	if opts.MaxFetchFailures <= 0 {
		opts.MaxFetchFailures = defaults.MaxFetchFailures
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaults.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = defaults.MaxLimit
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	return &chatService{db: db, clock: clock, opts: opts, logger: logger}
}

func (s *chatService) CreateThread(ctx context.Context, input *models.CreateChatThreadInput) (*models.ChatThread, error) {
	if input.BookingID != nil {
		booking, err := repository.NewBookingRepository(s.db, s.logger).GetByID(ctx, *input.BookingID)
		if err != nil {
			return nil, fmt.Errorf("failed to get booking: %w", err)
		}
		if booking == nil {
			return nil, validationError("bookingId", "booking %s does not exist", *input.BookingID)
		}
	}

	thread := &models.ChatThread{
		ID:        uuid.New(),
		TutorID:   input.TutorID,
		StudentID: input.StudentID,
		BookingID: nullUUIDPtr(input.BookingID),
		CreatedAt: s.clock.Now(),
	}
	if err := repository.NewChatRepository(s.db, s.logger).CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create chat thread: %w", err)
	}
	return thread, nil
}

func (s *chatService) GetThread(ctx context.Context, id uuid.UUID) (*models.ChatThread, error) {
	thread, err := repository.NewChatRepository(s.db, s.logger).GetThreadByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat thread: %w", err)
	}
	if thread == nil {
		return nil, notFound("chat_thread", id)
	}
	return thread, nil
}

func (s *chatService) SendMessage(ctx context.Context, threadID uuid.UUID, input *models.SendMessageInput) (*models.ChatMessage, error) {
	var msg *models.ChatMessage

	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		repo := repository.NewChatRepository(tx, s.logger)

		thread, err := repo.GetThreadByIDForUpdate(ctx, threadID)
		if err != nil {
			return fmt.Errorf("failed to get chat thread: %w", err)
		}
		if thread == nil {
			return notFound("chat_thread", threadID)
		}

		metadata, err := validateMessage(input)
		if err != nil {
			return err
		}

		// Read the clock only while holding the thread lock so sent_at
		// never decreases along seq.
		now := s.clock.Now()
		msg = &models.ChatMessage{
			ID:          uuid.New(),
			ThreadID:    threadID,
			SenderID:    input.SenderID,
			Body:        input.Body,
			SentAt:      now,
			DeliveredAt: &now,
			Metadata:    metadata,
		}

		found, err := repo.TouchThread(ctx, threadID, now)
		if err != nil {
			return fmt.Errorf("failed to update chat thread: %w", err)
		}
		if !found {
			return notFound("chat_thread", threadID)
		}

		if err := repo.SaveMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to save chat message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.opts.Publisher.Publish(ctx, EventChatMessageSent, msg); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("routing_key", EventChatMessageSent), zap.Error(err))
	}
	return msg, nil
}

// validateMessage checks the body and returns the metadata to store, {} when empty.
func validateMessage(input *models.SendMessageInput) (types.JSONText, error) {
	if strings.TrimSpace(input.Body) == "" {
		return nil, validationError("body", "message body is required")
	}

	metadata := "{}"
	if input.Metadata != nil && strings.TrimSpace(*input.Metadata) != "" {
		metadata = strings.TrimSpace(*input.Metadata)
	}
	if !json.Valid([]byte(metadata)) {
		return nil, validationError("metadata", "metadata must be valid JSON")
	}
	return types.JSONText(metadata), nil
}

func (s *chatService) GetRecent(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	messages, err := repository.NewChatRepository(s.db, s.logger).GetRecentMessages(ctx, threadID, s.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}
	return messages, nil
}

// clampLimit maps a non-positive limit to the default and caps it at MaxLimit.
func (s *chatService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return limit
}

func (s *chatService) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.ChatMessage, error) {
	repo := repository.NewChatRepository(s.db, s.logger)

	msg, err := repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat message: %w", err)
	}
	if msg == nil {
		return nil, notFound("chat_message", messageID)
	}

	thread, err := repo.GetThreadByID(ctx, msg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat thread: %w", err)
	}
	if thread == nil {
		return nil, notFound("chat_thread", msg.ThreadID)
	}
	if readerID != thread.TutorID && readerID != thread.StudentID {
		return nil, validationError("readerId", "reader is not a participant of thread %s", thread.ID)
	}

	if msg.ReadAt == nil {
		if err := repo.MarkRead(ctx, messageID, s.clock.Now()); err != nil {
			return nil, fmt.Errorf("failed to mark message read: %w", err)
		}
		if msg, err = repo.GetMessageByID(ctx, messageID); err != nil {
			return nil, fmt.Errorf("failed to get chat message: %w", err)
		}
	}
	return msg, nil
}
