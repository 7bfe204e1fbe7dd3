package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// ChatThread is a conversation between one tutor and one student.
type ChatThread struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	TutorID       uuid.UUID     `db:"tutor_id" json:"tutorId"`
	StudentID     uuid.UUID     `db:"student_id" json:"studentId"`
	BookingID     uuid.NullUUID `db:"lesson_booking_id" json:"bookingId"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	LastMessageAt *time.Time    `db:"last_message_at" json:"lastMessageAt"`
}

// ChatMessage represents a row in the 'chat_messages' table.
// Seq is assigned by the store at write time and orders messages within a thread.
type ChatMessage struct {
	Seq         int64          `db:"seq" json:"seq"`
	ID          uuid.UUID      `db:"id" json:"id"`
	ThreadID    uuid.UUID      `db:"thread_id" json:"threadId"`
	SenderID    uuid.UUID      `db:"sender_id" json:"senderId"`
	Body        string         `db:"body" json:"body"`
	SentAt      time.Time      `db:"sent_at" json:"sentAt"`
	DeliveredAt *time.Time     `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time     `db:"read_at" json:"readAt,omitempty"`
	Metadata    types.JSONText `db:"metadata" json:"metadata"`
}

// CreateChatThreadInput represents input for opening a thread.
type CreateChatThreadInput struct {
	TutorID   uuid.UUID  `json:"tutorId" binding:"required"`
	StudentID uuid.UUID  `json:"studentId" binding:"required"`
	BookingID *uuid.UUID `json:"bookingId"`
}

// SendMessageInput represents input for sending a chat message.
type SendMessageInput struct {
	SenderID uuid.UUID `json:"senderId" binding:"required"`
	Body     string    `json:"body" binding:"required"`
	Metadata *string   `json:"metadata"`
}
