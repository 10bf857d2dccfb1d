package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"

	"github.com/google/uuid"
)

const (
	WeatherFreshness    = 7 * 24 * time.Hour
	VegetationFreshness = 30 * 24 * time.Hour

	WeatherVerificationThreshold    = 2
	VegetationVerificationThreshold = 1

	MaxSeasonDays int64 = 365

	minTemperature int64 = -1000 // -10°C
	maxTemperature int64 = 6000  // 60°C
	maxRainfall    int64 = 200000
	maxIndex       int64 = 10000
	maxTrend       int64 = 10000
)

func VerificationThresholdFor(kind models.ObservationKind) int {
	if kind == models.ObservationVegetation {
		return VegetationVerificationThreshold
	}
	return WeatherVerificationThreshold
}

func FreshnessFor(kind models.ObservationKind) time.Duration {
	if kind == models.ObservationVegetation {
		return VegetationFreshness
	}
	return WeatherFreshness
}

type ObservationLedger struct {
	store    repository.ObservationStore
	registry *ProviderRegistry
	now      func() time.Time
}

func NewObservationLedger(store repository.ObservationStore, registry *ProviderRegistry) *ObservationLedger {
	return &ObservationLedger{
		store:    store,
		registry: registry,
		now:      time.Now,
	}
}

// Submit records a pending observation for reporterID. One submission is
// accepted per reporter, subject, kind and UTC day.
func (l *ObservationLedger) Submit(
	ctx context.Context,
	reporterID string,
	req models.SubmitObservationRequest,
) (*models.Observation, error) {
	if _, err := l.registry.RequireActive(ctx, reporterID); err != nil {
		return nil, err
	}

	now := l.now()
	if err := ValidateObservation(req, now); err != nil {
		return nil, err
	}

	obs := &models.Observation{
		ID:          uuid.New(),
		ReporterID:  reporterID,
		SubjectID:   req.SubjectID,
		Kind:        req.Kind,
		WindowStart: models.WindowOf(req.RecordedAt),
		RecordedAt:  req.RecordedAt.UTC(),
		SubmittedAt: now,
		Status:      models.ObservationPending,
		Verifiers:   []string{},
		UpdatedAt:   now,
	}
	if req.Kind == models.ObservationWeather {
		w := *req.Weather
		obs.Weather = &w
	} else {
		v := *req.Vegetation
		obs.Vegetation = &v
	}

	if err := l.store.CreateObservation(ctx, obs); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, models.NewStateConflictError("observation.one_per_window",
				"%s already submitted %s data for %s on %s",
				reporterID, req.Kind, req.SubjectID, obs.WindowStart.Format(time.DateOnly))
		}
		return nil, err
	}

	if err := l.registry.RecordSubmission(ctx, reporterID); err != nil {
		slog.Error("failed to record submission count", "provider_id", reporterID, "observation_id", obs.ID, "error", err)
	}

	slog.Info("observation submitted",
		"observation_id", obs.ID,
		"reporter_id", reporterID,
		"subject_id", obs.SubjectID,
		"kind", obs.Kind)
	return obs, nil
}

// Verify adds verifierID to the submission's verifier set. Repeat calls by the
// same verifier change nothing. The submission becomes verified once the set
// reaches the agreement threshold for its kind.
func (l *ObservationLedger) Verify(ctx context.Context, submissionID uuid.UUID, verifierID string) (*models.Observation, error) {
	if strings.TrimSpace(verifierID) == "" {
		return nil, models.NewValidationError("verifier.id_required", "verifier id is required")
	}

	var becameVerified bool
	obs, err := l.store.MutateObservation(ctx, submissionID, func(obs *models.Observation) error {
		if obs.HasVerifier(verifierID) {
			return nil
		}
		if obs.Status != models.ObservationPending {
			return models.NewStateConflictError("observation.pending",
				"observation %s is %s, only pending observations can be verified", obs.ID, obs.Status)
		}
		if obs.ReporterID == verifierID {
			return models.NewAuthorizationError("verifier.independent", "a reporter cannot verify its own observation")
		}

		obs.Verifiers = append(obs.Verifiers, verifierID)
		obs.VerificationCount = len(obs.Verifiers)
		if obs.VerificationCount >= VerificationThresholdFor(obs.Kind) {
			obs.Status = models.ObservationVerified
			becameVerified = true
		}
		obs.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "observation", submissionID)
	}

	if becameVerified {
		if err := l.registry.RecordVerified(ctx, obs.ReporterID, obs.Kind); err != nil {
			slog.Error("failed to credit verified observation", "observation_id", obs.ID, "provider_id", obs.ReporterID, "error", err)
		}
		slog.Info("observation verified", "observation_id", obs.ID, "verifiers", obs.VerificationCount)
	}

	return obs, nil
}

// Dispute marks a pending or verified submission as disputed and penalizes
// its reporter.
func (l *ObservationLedger) Dispute(ctx context.Context, submissionID uuid.UUID, reason string) (*models.Observation, error) {
	return l.close(ctx, submissionID, models.ObservationDisputed, reason)
}

// Reject refuses a pending submission outright, with the same penalty as a dispute.
func (l *ObservationLedger) Reject(ctx context.Context, submissionID uuid.UUID, reason string) (*models.Observation, error) {
	return l.close(ctx, submissionID, models.ObservationRejected, reason)
}

func (l *ObservationLedger) close(
	ctx context.Context,
	submissionID uuid.UUID,
	next models.ObservationStatus,
	reason string,
) (*models.Observation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("observation.reason_required", "a reason is required")
	}

	obs, err := l.store.MutateObservation(ctx, submissionID, func(obs *models.Observation) error {
		if !obs.Status.CanTransitionTo(next) {
			return models.NewStateConflictError("observation.monotonic_status",
				"observation %s cannot move from %s to %s", obs.ID, obs.Status, next)
		}
		obs.Status = next
		obs.StatusReason = &reason
		obs.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "observation", submissionID)
	}

	if _, err := l.registry.AdjustReputation(ctx, obs.ReporterID, DisputePenaltyFor(obs.Kind)); err != nil {
		slog.Error("failed to penalize reporter", "observation_id", obs.ID, "provider_id", obs.ReporterID, "error", err)
	}

	slog.Warn("observation closed", "observation_id", obs.ID, "status", next, "reason", reason)
	return obs, nil
}

func (l *ObservationLedger) Get(ctx context.Context, submissionID uuid.UUID) (*models.Observation, error) {
	obs, err := l.store.GetObservation(ctx, submissionID)
	if err != nil {
		return nil, translateStoreError(err, "observation", submissionID)
	}
	return obs, nil
}

func (l *ObservationLedger) ListBySubject(
	ctx context.Context,
	subjectID string,
	kind models.ObservationKind,
) ([]models.Observation, error) {
	if kind != "" && !kind.IsValid() {
		return nil, models.NewValidationError("observation.kind", "unknown observation kind %q", kind)
	}
	return l.store.ListObservationsBySubject(ctx, subjectID, kind)
}

// LatestVerified returns the newest verified observation of kind for a subject.
func (l *ObservationLedger) LatestVerified(
	ctx context.Context,
	subjectID string,
	kind models.ObservationKind,
) (*models.Observation, error) {
	obs, err := l.store.LatestVerifiedObservation(ctx, subjectID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, models.NewNotReadyError("observation.verified",
				"no verified %s observation for subject %s", kind, subjectID)
		}
		return nil, err
	}
	return obs, nil
}

// ValidateObservation checks a submission against the static field bounds and
// the freshness window for its kind.
func ValidateObservation(req models.SubmitObservationRequest, now time.Time) error {
	if strings.TrimSpace(req.SubjectID) == "" {
		return models.NewValidationError("observation.subject_required", "subject_id is required")
	}
	if !req.Kind.IsValid() {
		return models.NewValidationError("observation.kind", "unknown observation kind %q", req.Kind)
	}
	if req.RecordedAt.IsZero() {
		return models.NewValidationError("observation.recorded_at_required", "recorded_at is required")
	}
	if req.RecordedAt.After(now) {
		return models.NewValidationError("observation.not_future", "recorded_at %s is in the future", req.RecordedAt.Format(time.RFC3339))
	}
	if now.Sub(req.RecordedAt) > FreshnessFor(req.Kind) {
		return models.NewValidationError("observation.freshness",
			"%s observations must be recorded within %s", req.Kind, FreshnessFor(req.Kind))
	}

	switch req.Kind {
	case models.ObservationWeather:
		if req.Weather == nil || req.Vegetation != nil {
			return models.NewValidationError("observation.payload", "weather observations carry only a weather payload")
		}
		return validateWeather(req.Weather)
	default:
		if req.Vegetation == nil || req.Weather != nil {
			return models.NewValidationError("observation.payload", "vegetation observations carry only a vegetation payload")
		}
		return validateVegetation(req.Vegetation)
	}
}

func validateWeather(w *models.WeatherData) error {
	if !within(w.AvgTemperature, minTemperature, maxTemperature) || !within(w.MaxTemperature, minTemperature, maxTemperature) {
		return models.NewValidationError("weather.temperature_range", "temperatures must be within [%d, %d]", minTemperature, maxTemperature)
	}
	if w.AvgTemperature > w.MaxTemperature {
		return models.NewValidationError("weather.avg_not_above_max", "average temperature %d exceeds maximum %d", w.AvgTemperature, w.MaxTemperature)
	}
	if !within(w.Rainfall, 0, maxRainfall) {
		return models.NewValidationError("weather.rainfall_range", "rainfall %d must be within [0, %d]", w.Rainfall, maxRainfall)
	}
	dayCounts := []struct {
		name  string
		value int64
	}{
		{"dry_days", w.DryDays},
		{"flood_days", w.FloodDays},
		{"heat_stress_days", w.HeatStressDays},
	}
	for _, days := range dayCounts {
		if !within(days.value, 0, MaxSeasonDays) {
			return models.NewValidationError("weather.day_count_range", "%s %d must be within [0, %d]", days.name, days.value, MaxSeasonDays)
		}
	}
	return nil
}

func validateVegetation(v *models.VegetationData) error {
	if !within(v.AvgIndex, 0, maxIndex) || !within(v.MinIndex, 0, maxIndex) || !within(v.BaselineIndex, 0, maxIndex) {
		return models.NewValidationError("vegetation.index_range", "indices must be within [0, %d]", maxIndex)
	}
	if v.BaselineIndex == 0 {
		return models.NewValidationError("vegetation.baseline_nonzero", "baseline index must be non-zero")
	}
	if v.MinIndex > v.AvgIndex {
		return models.NewValidationError("vegetation.min_not_above_avg", "minimum index %d exceeds average %d", v.MinIndex, v.AvgIndex)
	}
	if !within(v.Trend, -maxTrend, maxTrend) {
		return models.NewValidationError("vegetation.trend_range", "trend %d must be within [%d, %d]", v.Trend, -maxTrend, maxTrend)
	}
	return nil
}

func within(value, lo, hi int64) bool {
	return value >= lo && value <= hi
}
