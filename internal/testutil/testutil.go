// Package testutil provides a migrated SQLite database and a controllable
// clock for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"booklessons/internal/repository"
)

// NewDB opens a fresh SQLite database under t.TempDir and runs all migrations.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "booklessons.db")
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	logger := zaptest.NewLogger(t)
	db, err := repository.NewDB(repository.DriverSQLite, dsn, logger)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := repository.MigrateDB(db, repository.DriverSQLite, logger); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// SeedProfiles registers a tutor and a student profile.
func SeedProfiles(t testing.TB, db *sqlx.DB, tutorID, studentID uuid.UUID) {
	t.Helper()

	repo := repository.NewProfileRepository(db, zaptest.NewLogger(t))
	ctx := context.Background()
	if err := repo.UpsertTutor(ctx, tutorID, "Tutor"); err != nil {
		t.Fatalf("seed tutor: %v", err)
	}
	if err := repo.UpsertStudent(ctx, studentID, "Student"); err != nil {
		t.Fatalf("seed student: %v", err)
	}
}

// Clock returns a fixed time that moves forward by step after every call,
// so consecutive writes get distinct, increasing timestamps. A zero step
// keeps the time fixed.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start.UTC(), step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
