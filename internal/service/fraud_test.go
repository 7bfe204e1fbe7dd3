package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"booklessons/internal/models"
	"booklessons/internal/testutil"
)

func signals(severities ...string) []*models.FraudSignal {
	out := make([]*models.FraudSignal, 0, len(severities))
	for i, sev := range severities {
		out = append(out, &models.FraudSignal{
			ID:       uuid.New(),
			Type:     "signal_" + string(rune('a'+i)),
			Severity: sev,
		})
	}
	return out
}

func TestAssessScores(t *testing.T) {
	policy := DefaultFraudPolicy()

	tests := []struct {
		name         string
		manualReview bool
		severities   []string
		wantScore    float64
		wantReview   bool
	}{
		{name: "no signals", wantScore: 0},
		{name: "single low", severities: []string{"low"}, wantScore: 10},
		{name: "single high", severities: []string{"high"}, wantScore: 90, wantReview: true},
		{name: "case insensitive", severities: []string{"HIGH"}, wantScore: 90, wantReview: true},
		{name: "unknown severity", severities: []string{"weird"}, wantScore: 0.2},
		{name: "empty severity", severities: []string{""}, wantScore: 0.2},
		{name: "low plus medium", severities: []string{"low", "medium"}, wantScore: 50},
		{name: "manual review only", manualReview: true, wantScore: 50},
		{name: "low medium and manual review clamps", manualReview: true, severities: []string{"low", "medium"}, wantScore: 100, wantReview: true},
		{name: "two highs clamp", severities: []string{"high", "high"}, wantScore: 100, wantReview: true},
		{name: "exactly threshold", severities: []string{"medium", "low", "low"}, wantScore: 60, wantReview: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			booking := &models.Booking{ID: uuid.New(), ManualReviewRequired: tt.manualReview}
			got := policy.Assess(booking, signals(tt.severities...))

			if got.RiskScore != tt.wantScore {
				t.Errorf("RiskScore = %v, want %v", got.RiskScore, tt.wantScore)
			}
			if got.RequiresManualReview != tt.wantReview {
				t.Errorf("RequiresManualReview = %v, want %v", got.RequiresManualReview, tt.wantReview)
			}
			if got.RiskScore < 0 || got.RiskScore > 100 {
				t.Errorf("RiskScore %v outside [0,100]", got.RiskScore)
			}
			if got.BookingID != booking.ID {
				t.Errorf("BookingID = %s, want %s", got.BookingID, booking.ID)
			}
		})
	}
}

func TestAssessThresholdBoundary(t *testing.T) {
	policy := DefaultFraudPolicy()
	policy.SeverityWeights["edge"] = 59.999
	policy.SeverityWeights["exact"] = 60

	below := policy.Assess(&models.Booking{}, signals("edge"))
	if below.RequiresManualReview {
		t.Errorf("score %v should not require review", below.RiskScore)
	}

	at := policy.Assess(&models.Booking{}, signals("exact"))
	if !at.RequiresManualReview {
		t.Errorf("score %v should require review", at.RiskScore)
	}
}

func TestAssessOrderIndependent(t *testing.T) {
	policy := DefaultFraudPolicy()
	severities := []string{"weird", "low", "bogus", "medium", "other", "low", "x"}

	want := policy.Assess(&models.Booking{}, signals(severities...)).RiskScore

	// Rotate through every starting offset; the score must not change.
	for shift := 1; shift < len(severities); shift++ {
		rotated := append(append([]string{}, severities[shift:]...), severities[:shift]...)
		got := policy.Assess(&models.Booking{}, signals(rotated...)).RiskScore
		if got != want {
			t.Fatalf("rotation %d: score %v, want %v", shift, got, want)
		}
	}
	if want != 60.8 {
		t.Fatalf("score = %v, want 60.8", want)
	}
}

func TestAssessTriggeredSignalsDistinct(t *testing.T) {
	policy := DefaultFraudPolicy()
	sigs := []*models.FraudSignal{
		{Type: "velocity", Severity: "low"},
		{Type: "card_mismatch", Severity: "medium"},
		{Type: "velocity", Severity: "low"},
	}

	got := policy.Assess(&models.Booking{ManualReviewRequired: true}, sigs)

	want := []string{"velocity", "card_mismatch", "manual_review_requested"}
	if !reflect.DeepEqual(got.TriggeredSignals, want) {
		t.Errorf("TriggeredSignals = %v, want %v", got.TriggeredSignals, want)
	}
}

func TestSeverityBucket(t *testing.T) {
	tests := map[float64]string{
		100:    "high",
		80:     "high",
		79.99:  "medium",
		60:     "medium",
		59.999: "low",
		0:      "low",
	}
	for score, want := range tests {
		if got := SeverityBucket(score); got != want {
			t.Errorf("SeverityBucket(%v) = %q, want %q", score, got, want)
		}
	}
}

func TestRecordSignal(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Millisecond)
	svc := NewFraudService(db, DefaultFraudPolicy(), clock, zaptest.NewLogger(t))
	ctx := context.Background()
	bookingID := uuid.New()

	t.Run("defaults metadata", func(t *testing.T) {
		sig, err := svc.RecordSignal(ctx, &models.RecordFraudSignalInput{BookingID: &bookingID, Type: "velocity", Severity: "Low"})
		if err != nil {
			t.Fatalf("RecordSignal: %v", err)
		}
		if sig.Metadata.String() != "{}" {
			t.Errorf("metadata = %q, want {}", sig.Metadata)
		}
		if sig.Severity != "low" {
			t.Errorf("severity = %q, want low", sig.Severity)
		}
	})

	t.Run("severity from metadata", func(t *testing.T) {
		sig, err := svc.RecordSignal(ctx, &models.RecordFraudSignalInput{
			BookingID: &bookingID,
			Type:      "card_mismatch",
			Metadata:  `{"severity":"HIGH","bin":"4242"}`,
		})
		if err != nil {
			t.Fatalf("RecordSignal: %v", err)
		}
		if sig.Severity != "high" {
			t.Errorf("severity = %q, want high", sig.Severity)
		}
	})

	t.Run("invalid metadata", func(t *testing.T) {
		_, err := svc.RecordSignal(ctx, &models.RecordFraudSignalInput{Type: "x", Metadata: "{not json"})
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "metadata" {
			t.Fatalf("err = %v, want ValidationError on metadata", err)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := svc.RecordSignal(ctx, &models.RecordFraudSignalInput{Type: "  "})
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "type" {
			t.Fatalf("err = %v, want ValidationError on type", err)
		}
	})

	assessment, alert, err := svc.AssessBooking(ctx, db, &models.Booking{ID: bookingID, StudentID: uuid.New()})
	if err != nil {
		t.Fatalf("AssessBooking: %v", err)
	}
	if assessment.RiskScore != 100 || !assessment.RequiresManualReview {
		t.Fatalf("assessment = %+v, want clamped 100 with review", assessment)
	}
	if alert == nil || alert.Severity != "high" || alert.Reason != "velocity, card_mismatch" {
		t.Fatalf("alert = %+v", alert)
	}
}

func TestResolveAlert(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Millisecond)
	svc := NewFraudService(db, DefaultFraudPolicy(), clock, zaptest.NewLogger(t))
	ctx := context.Background()

	bookingID := uuid.New()
	if _, err := svc.RecordSignal(ctx, &models.RecordFraudSignalInput{BookingID: &bookingID, Type: "stolen_card", Severity: "high"}); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
	_, alert, err := svc.AssessBooking(ctx, db, &models.Booking{ID: bookingID, StudentID: uuid.New()})
	if err != nil || alert == nil {
		t.Fatalf("AssessBooking: alert=%v err=%v", alert, err)
	}

	open, err := svc.ListAlerts(ctx, true)
	if err != nil || len(open) != 1 {
		t.Fatalf("ListAlerts(open) = %d alerts, err %v", len(open), err)
	}

	resolved, err := svc.ResolveAlert(ctx, alert.ID, "verified with bank")
	if err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if resolved.ResolvedAt == nil || resolved.ResolutionNotes == nil || *resolved.ResolutionNotes != "verified with bank" {
		t.Fatalf("resolved alert = %+v", resolved)
	}

	open, err = svc.ListAlerts(ctx, true)
	if err != nil || len(open) != 0 {
		t.Fatalf("ListAlerts(open) after resolve = %d alerts, err %v", len(open), err)
	}
	all, err := svc.ListAlerts(ctx, false)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAlerts(all) = %d alerts, err %v", len(all), err)
	}

	_, err = svc.ResolveAlert(ctx, uuid.New(), "")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}
