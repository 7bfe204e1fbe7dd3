package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

const (
	manualReviewSignal = "manual_review_requested"
	alertSourceBooking = "booking"

	// Scores are summed as integers in units of 1/scoreScale points.
	scoreScale = 10000
	maxScore   = 100 * scoreScale
)

// FraudPolicy is the scoring table used by Assess. Weights are looked up by
// lower-cased severity; anything unrecognized scores DefaultWeight.
type FraudPolicy struct {
	SeverityWeights    map[string]float64
	DefaultWeight      float64
	ManualReviewWeight float64
	ReviewThreshold    float64
}

// DefaultFraudPolicy returns the stock weights: low=10, medium=40, high=90,
// unknown=0.2, manual review +50, review at 60.
func DefaultFraudPolicy() FraudPolicy {
	return FraudPolicy{
		SeverityWeights: map[string]float64{
			"low":    10,
			"medium": 40,
			"high":   90,
		},
		DefaultWeight:      0.2,
		ManualReviewWeight: 50,
		ReviewThreshold:    60,
	}
}

// Assess scores a booking against its signals. The sum is kept in fixed
// point (four decimal places) so the result depends only on the multiset of
// severities, not on the order the signals arrive in.
func (p FraudPolicy) Assess(booking *models.Booking, signals []*models.FraudSignal) *models.FraudAssessment {
	var (
		total     int64
		triggered []string
		seen      = make(map[string]struct{})
	)

	trigger := func(signalType string) {
		if _, ok := seen[signalType]; ok {
			return
		}
		seen[signalType] = struct{}{}
		triggered = append(triggered, signalType)
	}

	for _, signal := range signals {
		weight, ok := p.SeverityWeights[normalizeSeverity(signal.Severity)]
		if !ok {
			weight = p.DefaultWeight
		}
		total += toFixed(weight)
		trigger(signal.Type)
	}

	if booking.ManualReviewRequired {
		total += toFixed(p.ManualReviewWeight)
		trigger(manualReviewSignal)
	}

	if total < 0 {
		total = 0
	}
	if total > maxScore {
		total = maxScore
	}

	if triggered == nil {
		triggered = []string{}
	}

	return &models.FraudAssessment{
		BookingID:            booking.ID,
		RiskScore:            float64(total) / scoreScale,
		RequiresManualReview: total >= toFixed(p.ReviewThreshold),
		TriggeredSignals:     triggered,
	}
}

// SeverityBucket maps a risk score to the severity stored on a fraud alert.
func SeverityBucket(score float64) string {
	switch {
	case score >= 80:
		return "high"
	case score >= 60:
		return "medium"
	default:
		return "low"
	}
}

func toFixed(v float64) int64 {
	return int64(math.Round(v * scoreScale))
}

func normalizeSeverity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FraudService scores bookings and manages fraud signals and alerts.
type FraudService interface {
	// AssessBooking loads the booking's signals and scores them. When review
	// is required an alert is written through db and returned.
	AssessBooking(ctx context.Context, db repository.DBTX, booking *models.Booking) (*models.FraudAssessment, *models.FraudAlert, error)
	RecordSignal(ctx context.Context, input *models.RecordFraudSignalInput) (*models.FraudSignal, error)
	ListAlerts(ctx context.Context, openOnly bool) ([]*models.FraudAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, notes string) (*models.FraudAlert, error)
}

type fraudService struct {
	db     *sqlx.DB
	policy FraudPolicy
	clock  Clock
	logger *zap.Logger
}

func NewFraudService(db *sqlx.DB, policy FraudPolicy, clock Clock, logger *zap.Logger) FraudService {
	return &fraudService{db: db, policy: policy, clock: clock, logger: logger}
}

func (s *fraudService) AssessBooking(ctx context.Context, db repository.DBTX, booking *models.Booking) (*models.FraudAssessment, *models.FraudAlert, error) {
	repo := repository.NewFraudRepository(db, s.logger)

	signals, err := repo.GetSignalsByBooking(ctx, booking.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load fraud signals: %w", err)
	}

	assessment := s.policy.Assess(booking, signals)
	if !assessment.RequiresManualReview {
		return assessment, nil, nil
	}

	score := assessment.RiskScore
	alert := &models.FraudAlert{
		ID:                   uuid.New(),
		UserID:               booking.StudentID,
		BookingID:            nullUUID(booking.ID),
		Source:               alertSourceBooking,
		Reason:               strings.Join(assessment.TriggeredSignals, ", "),
		Severity:             SeverityBucket(score),
		RiskScore:            &score,
		ManualReviewRequired: true,
		FlaggedAt:            s.clock.Now(),
	}
	if err := repo.SaveAlert(ctx, alert); err != nil {
		return nil, nil, fmt.Errorf("failed to save fraud alert: %w", err)
	}

	s.logger.Info("Fraud alert raised",
		zap.String("booking_id", booking.ID.String()),
		zap.Float64("risk_score", score),
		zap.Strings("signals", assessment.TriggeredSignals))

	return assessment, alert, nil
}

func (s *fraudService) RecordSignal(ctx context.Context, input *models.RecordFraudSignalInput) (*models.FraudSignal, error) {
	signalType := strings.TrimSpace(input.Type)
	if signalType == "" {
		return nil, validationError("type", "signal type is required")
	}

	metadata := strings.TrimSpace(input.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	if !json.Valid([]byte(metadata)) {
		return nil, validationError("metadata", "metadata must be valid JSON")
	}

	severity := normalizeSeverity(input.Severity)
	if severity == "" {
		severity = severityFromMetadata(metadata)
	}

	signal := &models.FraudSignal{
		ID:         uuid.New(),
		BookingID:  nullUUIDPtr(input.BookingID),
		PaymentID:  nullUUIDPtr(input.PaymentID),
		Type:       signalType,
		Value:      input.Value,
		Severity:   severity,
		Metadata:   types.JSONText(metadata),
		RecordedAt: s.clock.Now(),
	}

	if err := repository.NewFraudRepository(s.db, s.logger).SaveSignal(ctx, signal); err != nil {
		return nil, fmt.Errorf("failed to record fraud signal: %w", err)
	}
	return signal, nil
}

// severityFromMetadata reads a string "severity" key from a JSON object.
func severityFromMetadata(metadata string) string {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
		return ""
	}
	if v, ok := doc["severity"].(string); ok {
		return normalizeSeverity(v)
	}
	return ""
}

func (s *fraudService) ListAlerts(ctx context.Context, openOnly bool) ([]*models.FraudAlert, error) {
	alerts, err := repository.NewFraudRepository(s.db, s.logger).GetAlerts(ctx, openOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud alerts: %w", err)
	}
	return alerts, nil
}

func (s *fraudService) ResolveAlert(ctx context.Context, id uuid.UUID, notes string) (*models.FraudAlert, error) {
	repo := repository.NewFraudRepository(s.db, s.logger)

	alert, err := repo.GetAlertByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get fraud alert: %w", err)
	}
	if alert == nil {
		return nil, notFound("fraud_alert", id)
	}
	if alert.ResolvedAt != nil {
		return alert, nil
	}

	now := s.clock.Now()
	if err := repo.ResolveAlert(ctx, id, now, notes); err != nil {
		return nil, fmt.Errorf("failed to resolve fraud alert: %w", err)
	}
	alert.ResolvedAt = &now
	alert.ResolutionNotes = &notes
	return alert, nil
}
