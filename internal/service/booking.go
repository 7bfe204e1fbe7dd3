package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

const (
	actionBookingCreated   = "booking_created"
	actionBookingConfirmed = "booking_confirmed"
	actionStatusChanged    = "status_changed:"
	bookingCreatedNote     = "Booking created"
)

// BookingService owns booking creation and status transitions.
type BookingService interface {
	Create(ctx context.Context, input *models.CreateBookingInput) (*models.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, input *models.UpdateBookingStatusInput) (*models.Booking, error)
	History(ctx context.Context, id uuid.UUID) ([]*models.StatusHistoryEntry, error)
}

// BookingOptions carries the optional collaborators of the booking service.
// Nil fields fall back to no-op implementations.
type BookingOptions struct {
	Policy        TransitionPolicy
	MeetingDomain string
	Publisher     EventPublisher
	Notifier      ReviewNotifier
	Tracer        trace.Tracer
}

type bookingService struct {
	db       *sqlx.DB
	profiles ProfileDirectory
	fraud    FraudService
	audit    AuditTrail
	clock    Clock
	opts     BookingOptions
	logger   *zap.Logger
}

func NewBookingService(
	db *sqlx.DB,
	profiles ProfileDirectory,
	fraud FraudService,
	audit AuditTrail,
	clock Clock,
	opts BookingOptions,
	logger *zap.Logger,
) BookingService {
	if opts.Policy == "" {
		opts.Policy = PolicyPermissive
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("booklessons/service")
	}
	return &bookingService{
		db:       db,
		profiles: profiles,
		fraud:    fraud,
		audit:    audit,
		clock:    clock,
		opts:     opts,
		logger:   logger,
	}
}

func (s *bookingService) Create(ctx context.Context, input *models.CreateBookingInput) (_ *models.Booking, err error) {
	ctx, span := s.opts.Tracer.Start(ctx, "BookingService.Create")
	defer func() { endSpan(span, err) }()

	if err := s.checkProfiles(ctx, input); err != nil {
		return nil, err
	}

	if input.DurationMinutes <= 0 {
		return nil, validationError("durationMinutes", "duration must be positive")
	}
	if input.IntroMinutesApplied != nil {
		intro := *input.IntroMinutesApplied
		if intro < 0 {
			return nil, validationError("introMinutesApplied", "intro minutes cannot be negative")
		}
		if intro > input.DurationMinutes {
			return nil, validationError("introMinutesApplied", "intro minutes cannot exceed the total duration")
		}
	}

	bookingRepo := repository.NewBookingRepository(s.db, s.logger)

	bookingID := uuid.New()
	if input.ID != nil && *input.ID != uuid.Nil {
		existing, err := bookingRepo.GetByID(ctx, *input.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check booking id: %w", err)
		}
		if existing != nil {
			return nil, validationError("id", "booking %s already exists", *input.ID)
		}
		bookingID = *input.ID
	}

	now := s.clock.Now()
	introMinutes := 0
	if input.IsIntroSession && input.IntroMinutesApplied != nil {
		introMinutes = *input.IntroMinutesApplied
	}

	booking := &models.Booking{
		ID:                   bookingID,
		TutorID:              input.TutorID,
		StudentID:            input.StudentID,
		ScheduledStart:       input.ScheduledStart.UTC(),
		DurationMinutes:      input.DurationMinutes,
		Status:               models.StatusRequested,
		IsIntroSession:       input.IsIntroSession,
		IntroMinutesApplied:  introMinutes,
		ManualReviewRequired: input.RequireManualReview,
		MeetingRoomName:      MeetingRoomName(input.TutorID, bookingID),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	span.SetAttributes(attribute.String("booking.id", booking.ID.String()))

	var (
		assessment *models.FraudAssessment
		alert      *models.FraudAlert
	)

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		assessment, alert, err = s.fraud.AssessBooking(ctx, tx, booking)
		if err != nil {
			return err
		}

		score := assessment.RiskScore
		booking.FraudRiskScore = &score
		booking.ManualReviewRequired = booking.ManualReviewRequired || assessment.RequiresManualReview
		if !booking.ManualReviewRequired {
			booking.Status = models.StatusConfirmed
		}

		if err := repository.NewBookingRepository(tx, s.logger).Create(ctx, booking); err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}

		if err := s.recordBookingEvent(ctx, tx, booking, input.StudentID, actionBookingCreated, now); err != nil {
			return err
		}
		if booking.Status == models.StatusConfirmed {
			if err := s.recordBookingEvent(ctx, tx, booking, input.StudentID, actionBookingConfirmed, now); err != nil {
				return err
			}
		}

		notes := bookingCreatedNote
		return s.appendHistory(ctx, tx, &models.StatusHistoryEntry{
			ID:              uuid.New(),
			BookingID:       booking.ID,
			PreviousStatus:  nil,
			NewStatus:       booking.Status,
			Notes:           &notes,
			ChangedByUserID: nullUUID(input.StudentID),
			ChangedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("status", string(booking.Status)),
		zap.Bool("manual_review", booking.ManualReviewRequired))

	s.publish(ctx, EventBookingCreated, booking)
	if alert != nil {
		s.publish(ctx, EventFraudAlertRaised, alert)
	}
	if booking.ManualReviewRequired {
		if err := s.opts.Notifier.NotifyManualReview(ctx, booking, assessment); err != nil {
			s.logger.Warn("Failed to notify reviewers", zap.String("booking_id", booking.ID.String()), zap.Error(err))
		}
	}

	return s.withMeetingURL(booking), nil
}

func (s *bookingService) checkProfiles(ctx context.Context, input *models.CreateBookingInput) error {
	ok, err := s.profiles.TutorExists(ctx, input.TutorID)
	if err != nil {
		return fmt.Errorf("failed to look up tutor profile: %w", err)
	}
	if !ok {
		return &ExternalDependencyError{
			Dependency: "tutor_profile",
			Field:      "tutorId",
			Message:    fmt.Sprintf("tutor profile for %s not found", input.TutorID),
		}
	}

	ok, err = s.profiles.StudentExists(ctx, input.StudentID)
	if err != nil {
		return fmt.Errorf("failed to look up student profile: %w", err)
	}
	if !ok {
		return &ExternalDependencyError{
			Dependency: "student_profile",
			Field:      "studentId",
			Message:    fmt.Sprintf("student profile for %s not found", input.StudentID),
		}
	}
	return nil
}

func (s *bookingService) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := repository.NewBookingRepository(s.db, s.logger).GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, notFound("booking", id)
	}
	return s.withMeetingURL(booking), nil
}

func (s *bookingService) UpdateStatus(ctx context.Context, id uuid.UUID, input *models.UpdateBookingStatusInput) (_ *models.Booking, err error) {
	ctx, span := s.opts.Tracer.Start(ctx, "BookingService.UpdateStatus",
		trace.WithAttributes(attribute.String("booking.id", id.String())))
	defer func() { endSpan(span, err) }()

	raw := strings.TrimSpace(input.Status)
	if raw == "" {
		return nil, validationError("status", "status is required")
	}
	status, ok := models.ParseBookingStatus(strings.ToLower(raw))
	if !ok {
		return nil, validationError("status", "unknown status %q", raw)
	}

	var (
		booking  *models.Booking
		previous models.BookingStatus
	)

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		repo := repository.NewBookingRepository(tx, s.logger)

		var err error
		booking, err = repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load booking: %w", err)
		}
		if booking == nil {
			return notFound("booking", id)
		}

		previous = booking.Status
		if err := s.opts.Policy.Check(previous, status); err != nil {
			return err
		}

		now := s.clock.Now()
		booking.Status = status
		booking.UpdatedAt = now

		if err := repo.UpdateStatus(ctx, booking); err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}

		actor := nullUUIDPtr(input.ChangedByUserID)
		if err := s.audit.Record(ctx, tx, &models.AuditEvent{
			ActorID:     actor,
			SubjectType: models.SubjectLessonBooking,
			SubjectID:   nullUUID(booking.ID),
			Action:      actionStatusChanged + string(status),
			OccurredAt:  now,
		}); err != nil {
			return err
		}

		return s.appendHistory(ctx, tx, &models.StatusHistoryEntry{
			ID:              uuid.New(),
			BookingID:       booking.ID,
			PreviousStatus:  &previous,
			NewStatus:       status,
			Notes:           input.Notes,
			ChangedByUserID: actor,
			ChangedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking status changed",
		zap.String("booking_id", booking.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))

	s.publish(ctx, EventBookingStatusChanged, &StatusChangedEvent{
		BookingID:      booking.ID,
		PreviousStatus: previous,
		Status:         status,
		ChangedBy:      input.ChangedByUserID,
	})

	return s.withMeetingURL(booking), nil
}

func (s *bookingService) History(ctx context.Context, id uuid.UUID) ([]*models.StatusHistoryEntry, error) {
	repo := repository.NewBookingRepository(s.db, s.logger)

	booking, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, notFound("booking", id)
	}

	entries, err := repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list booking history: %w", err)
	}
	return entries, nil
}

func (s *bookingService) recordBookingEvent(ctx context.Context, tx repository.DBTX, booking *models.Booking, actor uuid.UUID, action string, at time.Time) error {
	return s.audit.Record(ctx, tx, &models.AuditEvent{
		ActorID:     nullUUID(actor),
		SubjectType: models.SubjectLessonBooking,
		SubjectID:   nullUUID(booking.ID),
		Action:      action,
		OccurredAt:  at,
	})
}

func (s *bookingService) appendHistory(ctx context.Context, tx repository.DBTX, entry *models.StatusHistoryEntry) error {
	if err := repository.NewBookingRepository(tx, s.logger).AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

func (s *bookingService) publish(ctx context.Context, routingKey string, payload interface{}) {
	if err := s.opts.Publisher.Publish(ctx, routingKey, payload); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func (s *bookingService) withMeetingURL(b *models.Booking) *models.Booking {
	b.MeetingURL = MeetingURL(s.opts.MeetingDomain, b.MeetingRoomName)
	return b
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
