package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ProfileRepository answers existence questions against the local profile tables.
type ProfileRepository interface {
	TutorExists(ctx context.Context, userID uuid.UUID) (bool, error)
	StudentExists(ctx context.Context, userID uuid.UUID) (bool, error)
	UpsertTutor(ctx context.Context, userID uuid.UUID, displayName string) error
	UpsertStudent(ctx context.Context, userID uuid.UUID, displayName string) error
}

type profileRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewProfileRepository(db DBTX, logger *zap.Logger) ProfileRepository {
	return &profileRepository{db: db, logger: logger}
}

func (r *profileRepository) TutorExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return r.exists(ctx, "tutor_profiles", userID)
}

func (r *profileRepository) StudentExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return r.exists(ctx, "student_profiles", userID)
}

func (r *profileRepository) exists(ctx context.Context, table string, userID uuid.UUID) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM ` + table + ` WHERE user_id = ?`
	if err := sqlx.GetContext(ctx, r.db, &count, r.db.Rebind(query), userID); err != nil {
		r.logger.Error("Failed to check profile", zap.String("table", table), zap.String("user_id", userID.String()), zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

func (r *profileRepository) UpsertTutor(ctx context.Context, userID uuid.UUID, displayName string) error {
	return r.upsert(ctx, "tutor_profiles", userID, displayName)
}

func (r *profileRepository) UpsertStudent(ctx context.Context, userID uuid.UUID, displayName string) error {
	return r.upsert(ctx, "student_profiles", userID, displayName)
}

func (r *profileRepository) upsert(ctx context.Context, table string, userID uuid.UUID, displayName string) error {
	query := `
		INSERT INTO ` + table + ` (user_id, display_name) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET display_name = excluded.display_name
	`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), userID, displayName); err != nil {
		r.logger.Error("Failed to upsert profile", zap.String("table", table), zap.String("user_id", userID.String()), zap.Error(err))
		return err
	}
	return nil
}
