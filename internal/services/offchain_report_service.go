package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
)

// OffchainReportService accepts pre-verified damage reports from the
// authenticated report channel. Authenticity is the channel's concern; this
// service only range-checks and deduplicates.
type OffchainReportService struct {
	store repository.ReportStore
	now   func() time.Time
}

func NewOffchainReportService(store repository.ReportStore) *OffchainReportService {
	return &OffchainReportService{store: store, now: time.Now}
}

// Ingest stores report. Redelivery of identical content returns the stored
// report; different content for the same policy is a conflict.
func (s *OffchainReportService) Ingest(ctx context.Context, report models.OffchainReport) (*models.OffchainReport, error) {
	if err := s.validate(report); err != nil {
		return nil, err
	}

	report.AssessedAt = report.AssessedAt.UTC()
	report.ReceivedAt = s.now()

	err := s.store.CreateReport(ctx, &report)
	if err == nil {
		slog.Info("off-chain report ingested",
			"policy_id", report.PolicyID,
			"damage_percentage", report.DamagePercentage,
			"payout_amount", report.PayoutAmount)
		return &report, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, err
	}

	existing, getErr := s.store.GetReport(ctx, report.PolicyID)
	if getErr != nil {
		return nil, getErr
	}
	if !existing.SameContent(&report) {
		return nil, models.NewStateConflictError("report.one_per_policy",
			"a different report for policy %s was already received", report.PolicyID)
	}
	slog.Debug("duplicate off-chain report ignored", "policy_id", report.PolicyID)
	return existing, nil
}

func (s *OffchainReportService) Get(ctx context.Context, policyID string) (*models.OffchainReport, error) {
	report, err := s.store.GetReport(ctx, policyID)
	if err != nil {
		return nil, translateStoreError(err, "report", policyID)
	}
	return report, nil
}

func (s *OffchainReportService) validate(report models.OffchainReport) error {
	if strings.TrimSpace(report.PolicyID) == "" {
		return models.NewValidationError("report.policy_required", "policy_id is required")
	}
	scores := []struct {
		name  string
		value int64
	}{
		{"damage_percentage", report.DamagePercentage},
		{"weather_component", report.WeatherComponent},
		{"vegetation_component", report.VegetationComponent},
	}
	for _, score := range scores {
		if !within(score.value, 0, BasisPoints) {
			return models.NewValidationError("report.score_range", "%s %d must be within [0, %d]", score.name, score.value, BasisPoints)
		}
	}
	if report.PayoutAmount < 0 {
		return models.NewValidationError("report.payout_non_negative", "payout_amount must not be negative")
	}
	if report.AssessedAt.IsZero() || report.AssessedAt.After(s.now()) {
		return models.NewValidationError("report.assessed_at", "assessed_at must be set and not in the future")
	}
	return nil
}
