package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// FraudSignal is a recorded observation attached to a booking or payment.
type FraudSignal struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	BookingID  uuid.NullUUID  `db:"lesson_booking_id" json:"bookingId"`
	PaymentID  uuid.NullUUID  `db:"payment_id" json:"paymentId"`
	Type       string         `db:"type" json:"type"`
	Value      *string        `db:"value" json:"value,omitempty"`
	Severity   string         `db:"severity" json:"severity"`
	Metadata   types.JSONText `db:"metadata" json:"metadata"`
	RecordedAt time.Time      `db:"recorded_at" json:"recordedAt"`
}

// FraudAlert is raised when a booking's accumulated risk crosses the review threshold.
type FraudAlert struct {
	ID                   uuid.UUID     `db:"id" json:"id"`
	UserID               uuid.UUID     `db:"user_id" json:"userId"`
	BookingID            uuid.NullUUID `db:"lesson_booking_id" json:"bookingId"`
	Source               string        `db:"source" json:"source"`
	Reason               string        `db:"reason" json:"reason"`
	Severity             string        `db:"severity" json:"severity"`
	RiskScore            *float64      `db:"risk_score" json:"riskScore"`
	ManualReviewRequired bool          `db:"manual_review_required" json:"manualReviewRequired"`
	FlaggedAt            time.Time     `db:"flagged_at" json:"flaggedAt"`
	ResolvedAt           *time.Time    `db:"resolved_at" json:"resolvedAt,omitempty"`
	ResolutionNotes      *string       `db:"resolution_notes" json:"resolutionNotes,omitempty"`
}

// FraudAssessment is the outcome of scoring a booking.
type FraudAssessment struct {
	BookingID            uuid.UUID `json:"bookingId"`
	RiskScore            float64   `json:"riskScore"`
	RequiresManualReview bool      `json:"requiresManualReview"`
	TriggeredSignals     []string  `json:"triggeredSignals"`
}

// RecordFraudSignalInput represents input for recording a fraud signal.
// Severity falls back to the "severity" key of Metadata when empty.
type RecordFraudSignalInput struct {
	BookingID *uuid.UUID `json:"bookingId"`
	PaymentID *uuid.UUID `json:"paymentId"`
	Type      string     `json:"type" binding:"required"`
	Value     *string    `json:"value"`
	Severity  string     `json:"severity"`
	Metadata  string     `json:"metadata"`
}

// ResolveFraudAlertInput represents input for closing a fraud alert.
type ResolveFraudAlertInput struct {
	Notes string `json:"notes"`
}
