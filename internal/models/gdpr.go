package models

import (
	"time"

	"github.com/google/uuid"
)

// Data subject request statuses.
const (
	DSARPending   = "pending"
	DSARCompleted = "completed"
)

// DSARKind tells export and erasure requests apart in the merged view.
type DSARKind string

const (
	DSARExport  DSARKind = "export"
	DSARErasure DSARKind = "erasure"
)

// DataExportRequest represents a row in the 'data_export_requests' table.
type DataExportRequest struct {
	ID             uuid.UUID  `db:"id"`
	UserID         uuid.UUID  `db:"user_id"`
	Status         string     `db:"status"`
	RequestedAt    time.Time  `db:"requested_at"`
	ProcessedAt    *time.Time `db:"processed_at"`
	ExportLocation *string    `db:"export_location"`
	Notes          *string    `db:"notes"`
}

// DataErasureRequest represents a row in the 'data_erasure_requests' table.
type DataErasureRequest struct {
	ID          uuid.UUID  `db:"id"`
	UserID      uuid.UUID  `db:"user_id"`
	Status      string     `db:"status"`
	RequestedAt time.Time  `db:"requested_at"`
	CompletedAt *time.Time `db:"completed_at"`
	Notes       *string    `db:"notes"`
}

// DataSubjectRequest is the merged projection of export and erasure requests.
type DataSubjectRequest struct {
	ID             uuid.UUID  `json:"id"`
	Kind           DSARKind   `json:"kind"`
	UserID         uuid.UUID  `json:"userId"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requestedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	ExportLocation *string    `json:"exportLocation"`
	Notes          *string    `json:"notes"`
}

// View projects an export request into the merged shape.
func (r *DataExportRequest) View() *DataSubjectRequest {
	return &DataSubjectRequest{
		ID:             r.ID,
		Kind:           DSARExport,
		UserID:         r.UserID,
		Status:         r.Status,
		RequestedAt:    r.RequestedAt,
		CompletedAt:    r.ProcessedAt,
		ExportLocation: r.ExportLocation,
		Notes:          r.Notes,
	}
}

// View projects an erasure request into the merged shape.
func (r *DataErasureRequest) View() *DataSubjectRequest {
	return &DataSubjectRequest{
		ID:          r.ID,
		Kind:        DSARErasure,
		UserID:      r.UserID,
		Status:      r.Status,
		RequestedAt: r.RequestedAt,
		CompletedAt: r.CompletedAt,
		Notes:       r.Notes,
	}
}

// CreateDataSubjectRequestInput represents input for an export or erasure request.
type CreateDataSubjectRequestInput struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
	Notes  *string   `json:"notes"`
}
