package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"booklessons/internal/models"
)

const chatThreadColumns = `id, tutor_id, student_id, lesson_booking_id, created_at, last_message_at`

const chatMessageColumns = `seq, id, thread_id, sender_id, body, sent_at, delivered_at, read_at, metadata`

type ChatRepository interface {
	CreateThread(ctx context.Context, thread *models.ChatThread) error
	GetThreadByID(ctx context.Context, id uuid.UUID) (*models.ChatThread, error)
	GetThreadByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ChatThread, error)
	TouchThread(ctx context.Context, id uuid.UUID, lastMessageAt time.Time) (bool, error)
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error)
	GetRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.ChatMessage, error)
	GetMessagesAfter(ctx context.Context, threadID uuid.UUID, afterSeq int64, limit int) ([]*models.ChatMessage, error)
	GetLastSeqAtOrBefore(ctx context.Context, threadID uuid.UUID, at time.Time) (int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error
}

type chatRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewChatRepository(db DBTX, logger *zap.Logger) ChatRepository {
	return &chatRepository{db: db, logger: logger}
}

func (r *chatRepository) CreateThread(ctx context.Context, t *models.ChatThread) error {
	query := `
		INSERT INTO chat_threads (id, tutor_id, student_id, lesson_booking_id, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		t.ID, t.TutorID, t.StudentID, t.BookingID, t.CreatedAt, t.LastMessageAt)
	if err != nil {
		r.logger.Error("Failed to create chat thread", zap.Error(err))
		return err
	}
	return nil
}

func (r *chatRepository) GetThreadByID(ctx context.Context, id uuid.UUID) (*models.ChatThread, error) {
	return r.getThread(ctx, `SELECT `+chatThreadColumns+` FROM chat_threads WHERE id = ?`, id)
}

// GetThreadByIDForUpdate locks the thread row until the surrounding
// transaction ends, so sends to one thread are serialized.
func (r *chatRepository) GetThreadByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ChatThread, error) {
	query := `SELECT ` + chatThreadColumns + ` FROM chat_threads WHERE id = ?`
	if r.db.DriverName() == DriverPostgres {
		query += ` FOR UPDATE`
	}
	return r.getThread(ctx, query, id)
}

func (r *chatRepository) getThread(ctx context.Context, query string, id uuid.UUID) (*models.ChatThread, error) {
	var thread models.ChatThread
	err := sqlx.GetContext(ctx, r.db, &thread, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Thread not found
		}
		return nil, err
	}
	return &thread, nil
}

// TouchThread sets last_message_at and reports whether the thread exists.
func (r *chatRepository) TouchThread(ctx context.Context, id uuid.UUID, lastMessageAt time.Time) (bool, error) {
	query := `UPDATE chat_threads SET last_message_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), lastMessageAt, id)
	if err != nil {
		r.logger.Error("Failed to update thread last message time", zap.String("thread_id", id.String()), zap.Error(err))
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *chatRepository) SaveMessage(ctx context.Context, m *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, thread_id, sender_id, body, sent_at, delivered_at, read_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		m.ID, m.ThreadID, m.SenderID, m.Body, m.SentAt, m.DeliveredAt, m.ReadAt, m.Metadata.String(),
	).Scan(&m.Seq)
	if err != nil {
		r.logger.Error("Failed to save chat message", zap.String("thread_id", m.ThreadID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *chatRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	query := `SELECT ` + chatMessageColumns + ` FROM chat_messages WHERE id = ?`
	err := sqlx.GetContext(ctx, r.db, &msg, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetRecentMessages returns the newest limit messages of a thread, oldest first.
func (r *chatRepository) GetRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	query := `
		SELECT ` + chatMessageColumns + ` FROM (
			SELECT ` + chatMessageColumns + `
			FROM chat_messages
			WHERE thread_id = ?
			ORDER BY sent_at DESC, seq DESC
			LIMIT ?
		) recent
		ORDER BY sent_at ASC, seq ASC
	`
	if err := sqlx.SelectContext(ctx, r.db, &messages, r.db.Rebind(query), threadID, limit); err != nil {
		r.logger.Error("Failed to get recent messages", zap.String("thread_id", threadID.String()), zap.Error(err))
		return nil, err
	}
	return messages, nil
}

// GetMessagesAfter returns up to limit messages with seq strictly greater than afterSeq.
func (r *chatRepository) GetMessagesAfter(ctx context.Context, threadID uuid.UUID, afterSeq int64, limit int) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	query := `
		SELECT ` + chatMessageColumns + `
		FROM chat_messages
		WHERE thread_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`
	if err := sqlx.SelectContext(ctx, r.db, &messages, r.db.Rebind(query), threadID, afterSeq, limit); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetLastSeqAtOrBefore converts a timestamp watermark into a seq watermark:
// the greatest seq in the thread sent at or before at, or 0.
func (r *chatRepository) GetLastSeqAtOrBefore(ctx context.Context, threadID uuid.UUID, at time.Time) (int64, error) {
	var seq int64
	query := `SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE thread_id = ? AND sent_at <= ?`
	if err := sqlx.GetContext(ctx, r.db, &seq, r.db.Rebind(query), threadID, at); err != nil {
		return 0, err
	}
	return seq, nil
}

// MarkRead sets read_at once; later calls keep the first read time.
func (r *chatRepository) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error {
	query := `UPDATE chat_messages SET read_at = COALESCE(read_at, ?) WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), readAt, id)
	if err != nil {
		r.logger.Error("Failed to mark message read", zap.String("message_id", id.String()), zap.Error(err))
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
