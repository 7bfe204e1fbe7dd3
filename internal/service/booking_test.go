package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"booklessons/internal/models"
	"booklessons/internal/repository"
	"booklessons/internal/testutil"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type recordingNotifier struct {
	bookings []uuid.UUID
}

func (n *recordingNotifier) NotifyManualReview(_ context.Context, b *models.Booking, _ *models.FraudAssessment) error {
	n.bookings = append(n.bookings, b.ID)
	return nil
}

type failingAudit struct {
	AuditTrail
}

func (failingAudit) Record(context.Context, repository.DBTX, *models.AuditEvent) error {
	return errors.New("audit store unavailable")
}

type bookingFixture struct {
	db        *sqlx.DB
	svc       BookingService
	fraud     FraudService
	audit     AuditTrail
	publisher *recordingPublisher
	notifier  *recordingNotifier
	tutorID   uuid.UUID
	studentID uuid.UUID
}

func newBookingFixture(t *testing.T, policy TransitionPolicy) *bookingFixture {
	t.Helper()

	db := testutil.NewDB(t)
	logger := zaptest.NewLogger(t)
	clock := testutil.NewClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), time.Millisecond)

	f := &bookingFixture{
		db:        db,
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		tutorID:   uuid.New(),
		studentID: uuid.New(),
	}
	testutil.SeedProfiles(t, db, f.tutorID, f.studentID)

	f.fraud = NewFraudService(db, DefaultFraudPolicy(), clock, logger)
	f.audit = NewAuditTrail(db, clock, logger)
	f.svc = NewBookingService(db, repository.NewProfileRepository(db, logger), f.fraud, f.audit, clock, BookingOptions{
		Policy:        policy,
		MeetingDomain: "meet.example.org",
		Publisher:     f.publisher,
		Notifier:      f.notifier,
	}, logger)
	return f
}

func (f *bookingFixture) input() *models.CreateBookingInput {
	return &models.CreateBookingInput{
		TutorID:         f.tutorID,
		StudentID:       f.studentID,
		ScheduledStart:  time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	}
}

func (f *bookingFixture) auditActions(t *testing.T, bookingID uuid.UUID) []string {
	t.Helper()
	events, err := f.audit.List(context.Background(), models.SubjectLessonBooking, &bookingID)
	if err != nil {
		t.Fatalf("List audit: %v", err)
	}
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestCreateBookingWithoutSignalsIsConfirmed(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)

	booking, err := f.svc.Create(context.Background(), f.input())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if booking.Status != models.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", booking.Status)
	}
	if booking.FraudRiskScore == nil || *booking.FraudRiskScore != 0 {
		t.Errorf("fraudRiskScore = %v, want 0", booking.FraudRiskScore)
	}
	if booking.ManualReviewRequired {
		t.Error("manualReviewRequired = true, want false")
	}
	wantRoom := MeetingRoomName(f.tutorID, booking.ID)
	if booking.MeetingRoomName != wantRoom {
		t.Errorf("meetingRoomName = %q, want %q", booking.MeetingRoomName, wantRoom)
	}
	if booking.MeetingURL != "https://meet.example.org/"+wantRoom {
		t.Errorf("meetingUrl = %q", booking.MeetingURL)
	}

	// Both events share the creation timestamp, so compare them unordered.
	actions := f.auditActions(t, booking.ID)
	slices.Sort(actions)
	if !slices.Equal(actions, []string{"booking_confirmed", "booking_created"}) {
		t.Errorf("audit actions = %v, want booking_created and booking_confirmed", actions)
	}

	history, err := f.svc.History(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].PreviousStatus != nil || history[0].NewStatus != models.StatusConfirmed {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Notes == nil || *history[0].Notes != "Booking created" {
		t.Errorf("history notes = %v", history[0].Notes)
	}

	if keys := f.publisher.Keys(); len(keys) != 1 || keys[0] != EventBookingCreated {
		t.Errorf("published = %v", keys)
	}
	if len(f.notifier.bookings) != 0 {
		t.Errorf("notified %d bookings, want 0", len(f.notifier.bookings))
	}
}

func TestCreateBookingWithHighSignalNeedsReview(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	bookingID := uuid.New()
	if _, err := f.fraud.RecordSignal(ctx, &models.RecordFraudSignalInput{
		BookingID: &bookingID,
		Type:      "stolen_card",
		Severity:  "high",
	}); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}

	input := f.input()
	input.ID = &bookingID
	booking, err := f.svc.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if booking.ID != bookingID {
		t.Errorf("id = %s, want %s", booking.ID, bookingID)
	}
	if booking.Status != models.StatusRequested {
		t.Errorf("status = %s, want requested", booking.Status)
	}
	if !booking.ManualReviewRequired {
		t.Error("manualReviewRequired = false, want true")
	}
	if booking.FraudRiskScore == nil || *booking.FraudRiskScore != 90 {
		t.Errorf("fraudRiskScore = %v, want 90", booking.FraudRiskScore)
	}

	actions := f.auditActions(t, booking.ID)
	if len(actions) != 1 || actions[0] != "booking_created" {
		t.Errorf("audit actions = %v, want [booking_created]", actions)
	}

	alerts, err := f.fraud.ListAlerts(ctx, true)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != "high" || alerts[0].UserID != f.studentID || alerts[0].BookingID.UUID != bookingID {
		t.Errorf("alert = %+v", alerts[0])
	}

	if len(f.notifier.bookings) != 1 || f.notifier.bookings[0] != bookingID {
		t.Errorf("notified = %v", f.notifier.bookings)
	}
	keys := f.publisher.Keys()
	if len(keys) != 2 || keys[0] != EventBookingCreated || keys[1] != EventFraudAlertRaised {
		t.Errorf("published = %v", keys)
	}
}

func TestCreateBookingManualReviewRequested(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)

	input := f.input()
	input.RequireManualReview = true
	booking, err := f.svc.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if booking.Status != models.StatusRequested || !booking.ManualReviewRequired {
		t.Errorf("booking = status %s review %v, want requested with review", booking.Status, booking.ManualReviewRequired)
	}
	if booking.FraudRiskScore == nil || *booking.FraudRiskScore != 50 {
		t.Errorf("fraudRiskScore = %v, want 50", booking.FraudRiskScore)
	}
	if len(f.notifier.bookings) != 1 {
		t.Errorf("notified %d bookings, want 1", len(f.notifier.bookings))
	}

	alerts, err := f.fraud.ListAlerts(context.Background(), false)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("got %d alerts below threshold, want 0", len(alerts))
	}
}

func TestCreateBookingIntroMinutes(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()
	intro := 15

	input := f.input()
	input.IsIntroSession = true
	input.IntroMinutesApplied = &intro
	booking, err := f.svc.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if booking.IntroMinutesApplied != 15 {
		t.Errorf("introMinutesApplied = %d, want 15", booking.IntroMinutesApplied)
	}

	input = f.input()
	input.IntroMinutesApplied = &intro
	booking, err = f.svc.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if booking.IntroMinutesApplied != 0 {
		t.Errorf("introMinutesApplied = %d for non-intro session, want 0", booking.IntroMinutesApplied)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	tooLong := 61
	negative := -1

	tests := []struct {
		name      string
		mutate    func(in *models.CreateBookingInput)
		wantField string
	}{
		{name: "zero duration", mutate: func(in *models.CreateBookingInput) { in.DurationMinutes = 0 }, wantField: "durationMinutes"},
		{name: "negative duration", mutate: func(in *models.CreateBookingInput) { in.DurationMinutes = -30 }, wantField: "durationMinutes"},
		{name: "intro exceeds duration", mutate: func(in *models.CreateBookingInput) {
			in.IsIntroSession = true
			in.IntroMinutesApplied = &tooLong
		}, wantField: "introMinutesApplied"},
		{name: "negative intro", mutate: func(in *models.CreateBookingInput) {
			in.IsIntroSession = true
			in.IntroMinutesApplied = &negative
		}, wantField: "introMinutesApplied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := f.input()
			tt.mutate(input)

			_, err := f.svc.Create(ctx, input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestCreateBookingMissingProfile(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	input := f.input()
	input.TutorID = uuid.New()
	// Profile checks run before field validation.
	input.DurationMinutes = 0

	_, err := f.svc.Create(ctx, input)
	var derr *ExternalDependencyError
	if !errors.As(err, &derr) || derr.Field != "tutorId" {
		t.Fatalf("err = %v, want ExternalDependencyError on tutorId", err)
	}

	input = f.input()
	input.StudentID = uuid.New()
	_, err = f.svc.Create(ctx, input)
	if !errors.As(err, &derr) || derr.Field != "studentId" {
		t.Fatalf("err = %v, want ExternalDependencyError on studentId", err)
	}
}

func TestCreateBookingDuplicateID(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	booking, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	input := f.input()
	input.ID = &booking.ID
	_, err = f.svc.Create(ctx, input)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "id" {
		t.Fatalf("err = %v, want ValidationError on id", err)
	}
}

func TestCreateBookingRollsBackWhenAuditFails(t *testing.T) {
	db := testutil.NewDB(t)
	logger := zaptest.NewLogger(t)
	clock := testutil.NewClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), time.Millisecond)
	tutorID, studentID := uuid.New(), uuid.New()
	testutil.SeedProfiles(t, db, tutorID, studentID)

	svc := NewBookingService(db, repository.NewProfileRepository(db, logger),
		NewFraudService(db, DefaultFraudPolicy(), clock, logger),
		failingAudit{}, clock, BookingOptions{}, logger)

	bookingID := uuid.New()
	_, err := svc.Create(context.Background(), &models.CreateBookingInput{
		ID:              &bookingID,
		TutorID:         tutorID,
		StudentID:       studentID,
		ScheduledStart:  time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
	})
	if err == nil {
		t.Fatal("Create succeeded with a failing audit trail")
	}

	stored, err := repository.NewBookingRepository(db, logger).GetByID(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored != nil {
		t.Fatalf("booking %s was persisted despite the audit failure", bookingID)
	}
}

func TestUpdateStatusCancelsBooking(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	booking, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	notes := "student unavailable"
	updated, err := f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{
		Status:          "Cancelled",
		Notes:           &notes,
		ChangedByUserID: &f.tutorID,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", updated.Status)
	}
	if !updated.UpdatedAt.After(booking.UpdatedAt) {
		t.Errorf("updatedAt %v not after %v", updated.UpdatedAt, booking.UpdatedAt)
	}

	history, err := f.svc.History(ctx, booking.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history entries, want 2", len(history))
	}
	last := history[1]
	if last.PreviousStatus == nil || *last.PreviousStatus != models.StatusConfirmed || last.NewStatus != models.StatusCancelled {
		t.Errorf("last entry = %+v", last)
	}
	if last.Notes == nil || *last.Notes != notes || last.ChangedByUserID.UUID != f.tutorID {
		t.Errorf("last entry notes/actor = %v/%v", last.Notes, last.ChangedByUserID)
	}

	actions := f.auditActions(t, booking.ID)
	if actions[len(actions)-1] != "status_changed:cancelled" {
		t.Errorf("audit actions = %v", actions)
	}

	keys := f.publisher.Keys()
	if keys[len(keys)-1] != EventBookingStatusChanged {
		t.Errorf("published = %v", keys)
	}
}

func TestUpdateStatusPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("permissive accepts any jump", func(t *testing.T) {
		f := newBookingFixture(t, PolicyPermissive)
		booking, err := f.svc.Create(ctx, f.input())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		for _, status := range []string{"completed", "requested", "confirmed"} {
			if _, err := f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: status}); err != nil {
				t.Fatalf("UpdateStatus(%s): %v", status, err)
			}
		}
	})

	t.Run("strict rejects edges outside the machine", func(t *testing.T) {
		f := newBookingFixture(t, PolicyStrict)
		booking, err := f.svc.Create(ctx, f.input())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: "completed"}); err != nil {
			t.Fatalf("confirmed -> completed: %v", err)
		}

		_, err = f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: "requested"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("completed -> requested err = %v, want ErrInvalidTransition", err)
		}

		history, err := f.svc.History(ctx, booking.ID)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 2 {
			t.Errorf("got %d history entries after rejected change, want 2", len(history))
		}
	})
}

func TestUpdateStatusErrors(t *testing.T) {
	f := newBookingFixture(t, PolicyPermissive)
	ctx := context.Background()

	booking, err := f.svc.Create(ctx, f.input())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var verr *ValidationError
	if _, err := f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: " "}); !errors.As(err, &verr) {
		t.Errorf("empty status err = %v, want ValidationError", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: "archived"}); !errors.As(err, &verr) {
		t.Errorf("unknown status err = %v, want ValidationError", err)
	}

	var nf *NotFoundError
	if _, err := f.svc.UpdateStatus(ctx, uuid.New(), &models.UpdateBookingStatusInput{Status: "cancelled"}); !errors.As(err, &nf) {
		t.Errorf("missing booking err = %v, want NotFoundError", err)
	}
	if _, err := f.svc.Get(ctx, uuid.New()); !errors.As(err, &nf) {
		t.Errorf("Get err = %v, want NotFoundError", err)
	}
	if _, err := f.svc.History(ctx, uuid.New()); !errors.As(err, &nf) {
		t.Errorf("History err = %v, want NotFoundError", err)
	}
}

func TestBookingSpans(t *testing.T) {
	db := testutil.NewDB(t)
	logger := zaptest.NewLogger(t)
	clock := testutil.NewClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), time.Millisecond)
	tutorID, studentID := uuid.New(), uuid.New()
	testutil.SeedProfiles(t, db, tutorID, studentID)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewBookingService(db, repository.NewProfileRepository(db, logger),
		NewFraudService(db, DefaultFraudPolicy(), clock, logger),
		NewAuditTrail(db, clock, logger), clock,
		BookingOptions{Tracer: tp.Tracer("test")}, logger)

	ctx := context.Background()
	booking, err := svc.Create(ctx, &models.CreateBookingInput{
		TutorID:         tutorID,
		StudentID:       studentID,
		ScheduledStart:  time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, booking.ID, &models.UpdateBookingStatusInput{Status: "bogus"}); err == nil {
		t.Fatal("UpdateStatus accepted an unknown status")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "BookingService.Create" || spans[0].Status().Code != codes.Unset {
		t.Errorf("create span = %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "BookingService.UpdateStatus" || spans[1].Status().Code != codes.Error {
		t.Errorf("update span = %s %v", spans[1].Name(), spans[1].Status())
	}
}
