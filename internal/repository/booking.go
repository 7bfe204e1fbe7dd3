package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"booklessons/internal/models"
)

const bookingColumns = `id, tutor_id, student_id, scheduled_start, duration_minutes, status,
	is_intro_session, intro_minutes_applied, manual_review_required, fraud_risk_score,
	meeting_room_name, created_at, updated_at`

// BookingRepository defines the interface for lesson booking operations
type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, booking *models.Booking) error
	AppendHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	ListHistory(ctx context.Context, bookingID uuid.UUID) ([]*models.StatusHistoryEntry, error)
}

type bookingRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db DBTX, logger *zap.Logger) BookingRepository {
	return &bookingRepository{db: db, logger: logger}
}

func (r *bookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO lesson_bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		b.ID, b.TutorID, b.StudentID, b.ScheduledStart, b.DurationMinutes, b.Status,
		b.IsIntroSession, b.IntroMinutesApplied, b.ManualReviewRequired, b.FraudRiskScore,
		b.MeetingRoomName, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM lesson_bookings WHERE id = ?`, id)
}

// GetByIDForUpdate locks the booking row until the surrounding transaction
// ends. SQLite serializes writers on its own, so the lock clause is Postgres only.
func (r *bookingRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM lesson_bookings WHERE id = ?`
	if r.db.DriverName() == DriverPostgres {
		query += ` FOR UPDATE`
	}
	return r.get(ctx, query, id)
}

func (r *bookingRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := sqlx.GetContext(ctx, r.db, &booking, r.db.Rebind(query), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get booking by ID", zap.String("booking_id", id.String()), zap.Error(err))
		return nil, err
	}
	return &booking, nil
}

func (r *bookingRepository) UpdateStatus(ctx context.Context, b *models.Booking) error {
	query := `UPDATE lesson_bookings SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), b.Status, b.UpdatedAt, b.ID)
	if err != nil {
		r.logger.Error("Failed to update booking status",
			zap.String("booking_id", b.ID.String()),
			zap.String("status", string(b.Status)),
			zap.Error(err))
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

func (r *bookingRepository) AppendHistory(ctx context.Context, e *models.StatusHistoryEntry) error {
	query := `
		INSERT INTO lesson_status_history (id, lesson_booking_id, previous_status, new_status, notes, changed_by_user_id, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		e.ID, e.BookingID, e.PreviousStatus, e.NewStatus, e.Notes, e.ChangedByUserID, e.ChangedAt)
	if err != nil {
		r.logger.Error("Failed to append status history", zap.String("booking_id", e.BookingID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *bookingRepository) ListHistory(ctx context.Context, bookingID uuid.UUID) ([]*models.StatusHistoryEntry, error) {
	var entries []*models.StatusHistoryEntry
	query := `
		SELECT id, lesson_booking_id, previous_status, new_status, notes, changed_by_user_id, changed_at
		FROM lesson_status_history
		WHERE lesson_booking_id = ?
		ORDER BY changed_at ASC, id ASC
	`
	err := sqlx.SelectContext(ctx, r.db, &entries, r.db.Rebind(query), bookingID)
	if err != nil {
		r.logger.Error("Failed to list status history", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return nil, err
	}
	return entries, nil
}
