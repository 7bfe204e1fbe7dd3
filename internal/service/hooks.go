package service

import (
	"context"

	"github.com/google/uuid"

	"booklessons/internal/models"
)

// Routing keys for lifecycle events.
const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
	EventFraudAlertRaised     = "fraud.alert_raised"
	EventChatMessageSent      = "chat.message_sent"
)

// ProfileDirectory answers whether tutor and student profiles exist. A false
// answer is a client error; an error return is a transport failure.
type ProfileDirectory interface {
	TutorExists(ctx context.Context, userID uuid.UUID) (bool, error)
	StudentExists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// EventPublisher receives facts after they are committed. Publishing is
// best effort and never affects the operation's result.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// ReviewNotifier tells human reviewers about a booking held for manual review.
type ReviewNotifier interface {
	NotifyManualReview(ctx context.Context, booking *models.Booking, assessment *models.FraudAssessment) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

type nopNotifier struct{}

func (nopNotifier) NotifyManualReview(context.Context, *models.Booking, *models.FraudAssessment) error {
	return nil
}

// StatusChangedEvent is the payload of booking.status_changed.
type StatusChangedEvent struct {
	BookingID      uuid.UUID            `json:"bookingId"`
	PreviousStatus models.BookingStatus `json:"previousStatus"`
	Status         models.BookingStatus `json:"status"`
	ChangedBy      *uuid.UUID           `json:"changedByUserId,omitempty"`
}
