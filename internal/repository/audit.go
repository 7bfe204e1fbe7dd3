package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"booklessons/internal/models"
)

// AuditRepository appends to and reads the 'audit_log' table. There is no
// update or delete.
type AuditRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	ListBySubject(ctx context.Context, subjectType string, subjectID *uuid.UUID) ([]*models.AuditEvent, error)
}

type auditRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewAuditRepository(db DBTX, logger *zap.Logger) AuditRepository {
	return &auditRepository{db: db, logger: logger}
}

func (r *auditRepository) Append(ctx context.Context, e *models.AuditEvent) error {
	query := `
		INSERT INTO audit_log (id, actor_id, subject_type, subject_id, action, occurred_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		e.ID, e.ActorID, e.SubjectType, e.SubjectID, e.Action, e.OccurredAt, e.Metadata.String())
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("subject_type", e.SubjectType),
			zap.String("action", e.Action),
			zap.Error(err))
		return err
	}
	return nil
}

func (r *auditRepository) ListBySubject(ctx context.Context, subjectType string, subjectID *uuid.UUID) ([]*models.AuditEvent, error) {
	events := []*models.AuditEvent{}
	query := `
		SELECT id, actor_id, subject_type, subject_id, action, occurred_at, metadata
		FROM audit_log
		WHERE subject_type = ?
	`
	args := []interface{}{subjectType}
	if subjectID != nil {
		query += ` AND subject_id = ?`
		args = append(args, *subjectID)
	}
	query += ` ORDER BY occurred_at ASC, id ASC`

	if err := sqlx.SelectContext(ctx, r.db, &events, r.db.Rebind(query), args...); err != nil {
		r.logger.Error("Failed to list audit events", zap.String("subject_type", subjectType), zap.Error(err))
		return nil, err
	}
	return events, nil
}
