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

const fraudAlertColumns = `id, user_id, lesson_booking_id, source, reason, severity, risk_score,
	manual_review_required, flagged_at, resolved_at, resolution_notes`

type FraudRepository interface {
	SaveSignal(ctx context.Context, signal *models.FraudSignal) error
	GetSignalsByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.FraudSignal, error)
	SaveAlert(ctx context.Context, alert *models.FraudAlert) error
	GetAlertByID(ctx context.Context, id uuid.UUID) (*models.FraudAlert, error)
	GetAlerts(ctx context.Context, openOnly bool) ([]*models.FraudAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, resolvedAt time.Time, notes string) error
}

type fraudRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewFraudRepository(db DBTX, logger *zap.Logger) FraudRepository {
	return &fraudRepository{db: db, logger: logger}
}

func (r *fraudRepository) SaveSignal(ctx context.Context, s *models.FraudSignal) error {
	query := `
		INSERT INTO fraud_signals (id, lesson_booking_id, payment_id, type, value, severity, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		s.ID, s.BookingID, s.PaymentID, s.Type, s.Value, s.Severity, s.Metadata.String(), s.RecordedAt)
	if err != nil {
		r.logger.Error("Failed to save fraud signal", zap.String("type", s.Type), zap.Error(err))
		return err
	}
	return nil
}

func (r *fraudRepository) GetSignalsByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.FraudSignal, error) {
	var signals []*models.FraudSignal
	query := `
		SELECT id, lesson_booking_id, payment_id, type, value, severity, metadata, recorded_at
		FROM fraud_signals
		WHERE lesson_booking_id = ?
		ORDER BY recorded_at ASC
	`
	if err := sqlx.SelectContext(ctx, r.db, &signals, r.db.Rebind(query), bookingID); err != nil {
		r.logger.Error("Failed to get fraud signals", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return nil, err
	}
	return signals, nil
}

func (r *fraudRepository) SaveAlert(ctx context.Context, a *models.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (` + fraudAlertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		a.ID, a.UserID, a.BookingID, a.Source, a.Reason, a.Severity, a.RiskScore,
		a.ManualReviewRequired, a.FlaggedAt, a.ResolvedAt, a.ResolutionNotes)
	if err != nil {
		r.logger.Error("Failed to save fraud alert", zap.String("user_id", a.UserID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *fraudRepository) GetAlertByID(ctx context.Context, id uuid.UUID) (*models.FraudAlert, error) {
	var alert models.FraudAlert
	query := `SELECT ` + fraudAlertColumns + ` FROM fraud_alerts WHERE id = ?`
	err := sqlx.GetContext(ctx, r.db, &alert, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get fraud alert by ID", zap.String("alert_id", id.String()), zap.Error(err))
		return nil, err
	}
	return &alert, nil
}

func (r *fraudRepository) GetAlerts(ctx context.Context, openOnly bool) ([]*models.FraudAlert, error) {
	alerts := []*models.FraudAlert{}
	query := `SELECT ` + fraudAlertColumns + ` FROM fraud_alerts`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY flagged_at DESC`

	if err := sqlx.SelectContext(ctx, r.db, &alerts, r.db.Rebind(query)); err != nil {
		r.logger.Error("Failed to get fraud alerts", zap.Bool("open_only", openOnly), zap.Error(err))
		return nil, err
	}
	return alerts, nil
}

func (r *fraudRepository) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedAt time.Time, notes string) error {
	query := `UPDATE fraud_alerts SET resolved_at = ?, resolution_notes = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), resolvedAt, notes, id)
	if err != nil {
		r.logger.Error("Failed to resolve fraud alert", zap.String("alert_id", id.String()), zap.Error(err))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
