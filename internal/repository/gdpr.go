package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"booklessons/internal/models"
)

// GdprRepository stores export and erasure requests in their own tables.
type GdprRepository interface {
	CreateExport(ctx context.Context, req *models.DataExportRequest) error
	CreateErasure(ctx context.Context, req *models.DataErasureRequest) error
	GetExportByID(ctx context.Context, id uuid.UUID) (*models.DataExportRequest, error)
	GetErasureByID(ctx context.Context, id uuid.UUID) (*models.DataErasureRequest, error)
	CompleteExport(ctx context.Context, id uuid.UUID, processedAt time.Time, exportLocation *string) error
	CompleteErasure(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	GetOpenExports(ctx context.Context) ([]*models.DataExportRequest, error)
	GetOpenErasures(ctx context.Context) ([]*models.DataErasureRequest, error)
}

type gdprRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewGdprRepository(db DBTX, logger *zap.Logger) GdprRepository {
	return &gdprRepository{db: db, logger: logger}
}

func (r *gdprRepository) CreateExport(ctx context.Context, req *models.DataExportRequest) error {
	query := `
		INSERT INTO data_export_requests (id, user_id, status, requested_at, processed_at, export_location, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		req.ID, req.UserID, req.Status, req.RequestedAt, req.ProcessedAt, req.ExportLocation, req.Notes)
	if err != nil {
		r.logger.Error("Failed to create export request", zap.String("user_id", req.UserID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *gdprRepository) CreateErasure(ctx context.Context, req *models.DataErasureRequest) error {
	query := `
		INSERT INTO data_erasure_requests (id, user_id, status, requested_at, completed_at, notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		req.ID, req.UserID, req.Status, req.RequestedAt, req.CompletedAt, req.Notes)
	if err != nil {
		r.logger.Error("Failed to create erasure request", zap.String("user_id", req.UserID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *gdprRepository) GetExportByID(ctx context.Context, id uuid.UUID) (*models.DataExportRequest, error) {
	var req models.DataExportRequest
	query := `
		SELECT id, user_id, status, requested_at, processed_at, export_location, notes
		FROM data_export_requests WHERE id = ?
	`
	err := sqlx.GetContext(ctx, r.db, &req, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *gdprRepository) GetErasureByID(ctx context.Context, id uuid.UUID) (*models.DataErasureRequest, error) {
	var req models.DataErasureRequest
	query := `
		SELECT id, user_id, status, requested_at, completed_at, notes
		FROM data_erasure_requests WHERE id = ?
	`
	err := sqlx.GetContext(ctx, r.db, &req, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *gdprRepository) CompleteExport(ctx context.Context, id uuid.UUID, processedAt time.Time, exportLocation *string) error {
	query := `UPDATE data_export_requests SET status = ?, processed_at = ?, export_location = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), models.DSARCompleted, processedAt, exportLocation, id)
	if err != nil {
		r.logger.Error("Failed to complete export request", zap.String("request_id", id.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *gdprRepository) CompleteErasure(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `UPDATE data_erasure_requests SET status = ?, completed_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), models.DSARCompleted, completedAt, id)
	if err != nil {
		r.logger.Error("Failed to complete erasure request", zap.String("request_id", id.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *gdprRepository) GetOpenExports(ctx context.Context) ([]*models.DataExportRequest, error) {
	var reqs []*models.DataExportRequest
	query := `
		SELECT id, user_id, status, requested_at, processed_at, export_location, notes
		FROM data_export_requests
		WHERE status <> ?
	`
	if err := sqlx.SelectContext(ctx, r.db, &reqs, r.db.Rebind(query), models.DSARCompleted); err != nil {
		r.logger.Error("Failed to get open export requests", zap.Error(err))
		return nil, err
	}
	return reqs, nil
}

func (r *gdprRepository) GetOpenErasures(ctx context.Context) ([]*models.DataErasureRequest, error) {
	var reqs []*models.DataErasureRequest
	query := `
		SELECT id, user_id, status, requested_at, completed_at, notes
		FROM data_erasure_requests
		WHERE status <> ?
	`
	if err := sqlx.SelectContext(ctx, r.db, &reqs, r.db.Rebind(query), models.DSARCompleted); err != nil {
		r.logger.Error("Failed to get open erasure requests", zap.Error(err))
		return nil, err
	}
	return reqs, nil
}
