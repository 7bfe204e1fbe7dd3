package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Subject types recorded in the audit log.
const (
	SubjectLessonBooking = "lesson_booking"
	SubjectDataExport    = "data_export_request"
	SubjectDataErasure   = "data_erasure_request"
)

// AuditEvent is an immutable row in the 'audit_log' table.
type AuditEvent struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ActorID     uuid.NullUUID  `db:"actor_id" json:"actorId"`
	SubjectType string         `db:"subject_type" json:"subjectType"`
	SubjectID   uuid.NullUUID  `db:"subject_id" json:"subjectId"`
	Action      string         `db:"action" json:"action"`
	OccurredAt  time.Time      `db:"occurred_at" json:"occurredAt"`
	Metadata    types.JSONText `db:"metadata" json:"metadata"`
}
