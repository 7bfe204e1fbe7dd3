package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

const dataSubjectActor = "data_subject"

// GdprService tracks export and erasure requests from pending to completed.
// Processing the requests themselves happens elsewhere.
type GdprService interface {
	CreateExportRequest(ctx context.Context, input *models.CreateDataSubjectRequestInput) (*models.DataSubjectRequest, error)
	CreateErasureRequest(ctx context.Context, input *models.CreateDataSubjectRequestInput) (*models.DataSubjectRequest, error)
	CompleteRequest(ctx context.Context, id uuid.UUID, exportLocation *string) (*models.DataSubjectRequest, error)
	ListOpenRequests(ctx context.Context) ([]*models.DataSubjectRequest, error)
}

// GdprOptions controls optional GDPR bookkeeping.
type GdprOptions struct {
	// AuditCompletion appends export_completed / erasure_completed events.
	AuditCompletion bool
}

type gdprService struct {
	db     *sqlx.DB
	audit  AuditTrail
	clock  Clock
	opts   GdprOptions
	logger *zap.Logger
}

func NewGdprService(db *sqlx.DB, audit AuditTrail, clock Clock, opts GdprOptions, logger *zap.Logger) GdprService {
	return &gdprService{db: db, audit: audit, clock: clock, opts: opts, logger: logger}
}

type dsarAuditDetails struct {
	Notes *string `json:"notes"`
	Actor string  `json:"actor"`
}

func (s *gdprService) CreateExportRequest(ctx context.Context, input *models.CreateDataSubjectRequestInput) (*models.DataSubjectRequest, error) {
	req := &models.DataExportRequest{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Status:      models.DSARPending,
		RequestedAt: s.clock.Now(),
		Notes:       input.Notes,
	}

	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := repository.NewGdprRepository(tx, s.logger).CreateExport(ctx, req); err != nil {
			return fmt.Errorf("failed to create export request: %w", err)
		}
		return s.recordRequested(ctx, tx, input, models.SubjectDataExport, req.ID, "export_requested")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Data export requested", zap.String("request_id", req.ID.String()), zap.String("user_id", req.UserID.String()))
	return req.View(), nil
}

func (s *gdprService) CreateErasureRequest(ctx context.Context, input *models.CreateDataSubjectRequestInput) (*models.DataSubjectRequest, error) {
	req := &models.DataErasureRequest{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Status:      models.DSARPending,
		RequestedAt: s.clock.Now(),
		Notes:       input.Notes,
	}

	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := repository.NewGdprRepository(tx, s.logger).CreateErasure(ctx, req); err != nil {
			return fmt.Errorf("failed to create erasure request: %w", err)
		}
		return s.recordRequested(ctx, tx, input, models.SubjectDataErasure, req.ID, "erasure_requested")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Data erasure requested", zap.String("request_id", req.ID.String()), zap.String("user_id", req.UserID.String()))
	return req.View(), nil
}

func (s *gdprService) recordRequested(ctx context.Context, tx repository.DBTX, input *models.CreateDataSubjectRequestInput, subjectType string, requestID uuid.UUID, action string) error {
	metadata, err := auditMetadata(dsarAuditDetails{Notes: input.Notes, Actor: dataSubjectActor})
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	return s.audit.Record(ctx, tx, &models.AuditEvent{
		ActorID:     nullUUID(input.UserID),
		SubjectType: subjectType,
		SubjectID:   nullUUID(requestID),
		Action:      action,
		Metadata:    metadata,
	})
}

// CompleteRequest looks the id up among export requests first, then erasure
// requests. Completing an already completed request returns it unchanged.
func (s *gdprService) CompleteRequest(ctx context.Context, id uuid.UUID, exportLocation *string) (*models.DataSubjectRequest, error) {
	var result *models.DataSubjectRequest

	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		repo := repository.NewGdprRepository(tx, s.logger)
		now := s.clock.Now()

		export, err := repo.GetExportByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get export request: %w", err)
		}
		if export != nil {
			if export.Status != models.DSARCompleted {
				if err := repo.CompleteExport(ctx, id, now, exportLocation); err != nil {
					return fmt.Errorf("failed to complete export request: %w", err)
				}
				export.Status = models.DSARCompleted
				export.ProcessedAt = &now
				export.ExportLocation = exportLocation
				if err := s.recordCompleted(ctx, tx, export.UserID, models.SubjectDataExport, id, "export_completed"); err != nil {
					return err
				}
			}
			result = export.View()
			return nil
		}

		erasure, err := repo.GetErasureByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get erasure request: %w", err)
		}
		if erasure == nil {
			return notFound("data_subject_request", id)
		}
		if erasure.Status != models.DSARCompleted {
			if err := repo.CompleteErasure(ctx, id, now); err != nil {
				return fmt.Errorf("failed to complete erasure request: %w", err)
			}
			erasure.Status = models.DSARCompleted
			erasure.CompletedAt = &now
			if err := s.recordCompleted(ctx, tx, erasure.UserID, models.SubjectDataErasure, id, "erasure_completed"); err != nil {
				return err
			}
		}
		result = erasure.View()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *gdprService) recordCompleted(ctx context.Context, tx repository.DBTX, userID uuid.UUID, subjectType string, requestID uuid.UUID, action string) error {
	if !s.opts.AuditCompletion {
		return nil
	}
	return s.audit.Record(ctx, tx, &models.AuditEvent{
		ActorID:     nullUUID(userID),
		SubjectType: subjectType,
		SubjectID:   nullUUID(requestID),
		Action:      action,
	})
}

// ListOpenRequests merges pending exports and erasures, oldest first. Ties on
// requested_at are broken by id so the order is deterministic.
func (s *gdprService) ListOpenRequests(ctx context.Context) ([]*models.DataSubjectRequest, error) {
	repo := repository.NewGdprRepository(s.db, s.logger)

	exports, err := repo.GetOpenExports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open export requests: %w", err)
	}
	erasures, err := repo.GetOpenErasures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open erasure requests: %w", err)
	}

	open := make([]*models.DataSubjectRequest, 0, len(exports)+len(erasures))
	for _, r := range exports {
		open = append(open, r.View())
	}
	for _, r := range erasures {
		open = append(open, r.View())
	}

	slices.SortStableFunc(open, func(a, b *models.DataSubjectRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return open, nil
}
