package service

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned under the strict transition policy when a
// status change is not an edge of the booking state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError reports a malformed request field. The caller must correct
// the input; nothing was persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports that the targeted entity does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ExternalDependencyError reports that a collaborator answered negatively for
// a referenced entity, e.g. a tutor profile that does not exist.
type ExternalDependencyError struct {
	Dependency string
	Field      string
	Message    string
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Dependency, e.Message)
}

func validationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(resource string, id fmt.Stringer) error {
	return &NotFoundError{Resource: resource, ID: id.String()}
}
