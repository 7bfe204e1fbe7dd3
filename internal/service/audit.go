package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

var emptyMetadata = types.JSONText("{}")

// AuditTrail is the append-only ledger every state-changing operation writes to.
type AuditTrail interface {
	// Record appends an event using the caller's transaction. A failure must
	// abort the caller's unit of work.
	Record(ctx context.Context, db repository.DBTX, event *models.AuditEvent) error
	List(ctx context.Context, subjectType string, subjectID *uuid.UUID) ([]*models.AuditEvent, error)
}

type auditTrail struct {
	db     repository.DBTX
	clock  Clock
	logger *zap.Logger
}

func NewAuditTrail(db repository.DBTX, clock Clock, logger *zap.Logger) AuditTrail {
	return &auditTrail{db: db, clock: clock, logger: logger}
}

func (a *auditTrail) Record(ctx context.Context, db repository.DBTX, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.clock.Now()
	}
	if len(event.Metadata) == 0 {
		event.Metadata = emptyMetadata
	}

	if err := repository.NewAuditRepository(db, a.logger).Append(ctx, event); err != nil {
		return fmt.Errorf("failed to record audit event %q: %w", event.Action, err)
	}
	return nil
}

func (a *auditTrail) List(ctx context.Context, subjectType string, subjectID *uuid.UUID) ([]*models.AuditEvent, error) {
	if subjectType == "" {
		return nil, validationError("subjectType", "subject type is required")
	}
	events, err := repository.NewAuditRepository(a.db, a.logger).ListBySubject(ctx, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// auditMetadata marshals v into a JSON metadata document.
func auditMetadata(v interface{}) (types.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return types.JSONText(raw), nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

func nullUUIDPtr(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return nullUUID(*id)
}
