package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is one of the closed set of lesson booking states.
type BookingStatus string

const (
	StatusRequested BookingStatus = "requested"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// ParseBookingStatus returns the named status or false for unknown strings.
func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch st := BookingStatus(s); st {
	case StatusRequested, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, true
	}
	return "", false
}

// Booking represents a row in the 'lesson_bookings' table.
type Booking struct {
	ID                   uuid.UUID     `db:"id" json:"id"`
	TutorID              uuid.UUID     `db:"tutor_id" json:"tutorId"`
	StudentID            uuid.UUID     `db:"student_id" json:"studentId"`
	ScheduledStart       time.Time     `db:"scheduled_start" json:"scheduledStart"`
	DurationMinutes      int           `db:"duration_minutes" json:"durationMinutes"`
	Status               BookingStatus `db:"status" json:"status"`
	IsIntroSession       bool          `db:"is_intro_session" json:"isIntroSession"`
	IntroMinutesApplied  int           `db:"intro_minutes_applied" json:"introMinutesApplied"`
	ManualReviewRequired bool          `db:"manual_review_required" json:"manualReviewRequired"`
	FraudRiskScore       *float64      `db:"fraud_risk_score" json:"fraudRiskScore"`
	MeetingRoomName      string        `db:"meeting_room_name" json:"meetingRoomName"`
	MeetingURL           string        `db:"-" json:"meetingUrl,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updatedAt"`
}

// StatusHistoryEntry is an append-only record of one booking status change.
// PreviousStatus is nil only for the entry written at creation.
type StatusHistoryEntry struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	BookingID       uuid.UUID      `db:"lesson_booking_id" json:"bookingId"`
	PreviousStatus  *BookingStatus `db:"previous_status" json:"previousStatus"`
	NewStatus       BookingStatus  `db:"new_status" json:"newStatus"`
	Notes           *string        `db:"notes" json:"notes,omitempty"`
	ChangedByUserID uuid.NullUUID  `db:"changed_by_user_id" json:"changedByUserId"`
	ChangedAt       time.Time      `db:"changed_at" json:"changedAt"`
}

// CreateBookingInput represents input for creating a booking.
type CreateBookingInput struct {
	ID                  *uuid.UUID `json:"id"`
	TutorID             uuid.UUID  `json:"tutorId" binding:"required"`
	StudentID           uuid.UUID  `json:"studentId" binding:"required"`
	ScheduledStart      time.Time  `json:"scheduledStart" binding:"required"`
	DurationMinutes     int        `json:"durationMinutes"`
	RequireManualReview bool       `json:"requireManualReview"`
	IsIntroSession      bool       `json:"isIntroSession"`
	IntroMinutesApplied *int       `json:"introMinutesApplied"`
}

// UpdateBookingStatusInput represents input for a status transition.
type UpdateBookingStatusInput struct {
	Status          string     `json:"status"`
	Notes           *string    `json:"notes"`
	ChangedByUserID *uuid.UUID `json:"changedByUserId"`
}
