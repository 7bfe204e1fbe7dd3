package service

import (
	"fmt"

	"booklessons/internal/models"
)

// TransitionPolicy decides which status changes UpdateStatus accepts.
type TransitionPolicy string

const (
	// PolicyPermissive accepts any change between known statuses.
	PolicyPermissive TransitionPolicy = "permissive"
	// PolicyStrict accepts only the edges in bookingTransitions.
	PolicyStrict TransitionPolicy = "strict"
)

var bookingTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusRequested: {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the booking state machine.
func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns ErrInvalidTransition when the policy rejects from -> to.
func (p TransitionPolicy) Check(from, to models.BookingStatus) error {
	if p != PolicyStrict || CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
