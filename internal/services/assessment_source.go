package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
	"oracle-service/pkg/utils"
)

// LedgerSource assesses a policy from the newest verified weather and
// vegetation observations of its insured plot.
type LedgerSource struct {
	ledger *ObservationLedger
	engine *DamageEngine
	now    func() time.Time
}

func NewLedgerSource(ledger *ObservationLedger, engine *DamageEngine) *LedgerSource {
	return &LedgerSource{ledger: ledger, engine: engine, now: time.Now}
}

func (s *LedgerSource) Name() string {
	return string(models.AssessmentSourceOracle)
}

func (s *LedgerSource) Assess(ctx context.Context, policy *models.PolicyTerms) (*models.DamageAssessment, error) {
	weather, err := s.ledger.LatestVerified(ctx, policy.SubjectID, models.ObservationWeather)
	if err != nil {
		return nil, err
	}
	vegetation, err := s.ledger.LatestVerified(ctx, policy.SubjectID, models.ObservationVegetation)
	if err != nil {
		return nil, err
	}

	result := s.engine.Assess(*weather.Weather, *vegetation.Vegetation, policy.Thresholds, policy.SumInsured)

	return &models.DamageAssessment{
		PolicyID:                policy.PolicyID,
		DamagePercentage:        result.DamagePercentage,
		WeatherComponent:        result.WeatherComponent,
		VegetationComponent:     result.VegetationComponent,
		PayoutAmount:            result.PayoutAmount,
		SumInsured:              policy.SumInsured,
		Source:                  models.AssessmentSourceOracle,
		WeatherObservationID:    &weather.ID,
		VegetationObservationID: &vegetation.ID,
		Breakdown: utils.JSONMap{
			"drought_score": result.DroughtScore,
			"flood_score":   result.FloodScore,
			"heat_score":    result.HeatScore,
			"triggered":     s.engine.IsTriggered(*weather.Weather, policy.Thresholds),
		},
		AssessedAt: s.now(),
	}, nil
}

// ReportSource assesses a policy from an ingested off-chain damage report.
type ReportSource struct {
	reports repository.ReportStore
}

func NewReportSource(reports repository.ReportStore) *ReportSource {
	return &ReportSource{reports: reports}
}

func (s *ReportSource) Name() string {
	return string(models.AssessmentSourceOffchain)
}

func (s *ReportSource) Assess(ctx context.Context, policy *models.PolicyTerms) (*models.DamageAssessment, error) {
	report, err := s.reports.GetReport(ctx, policy.PolicyID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, models.NewNotReadyError("report.received", "no off-chain report for policy %s", policy.PolicyID)
		}
		return nil, err
	}

	if report.PayoutAmount > policy.SumInsured {
		return nil, models.NewValidationError("report.payout_within_sum_insured",
			"reported payout %d exceeds sum insured %d", report.PayoutAmount, policy.SumInsured)
	}
	if report.DamagePercentage < DeductibleBps && report.PayoutAmount != 0 {
		return nil, models.NewValidationError("report.deductible",
			"reported damage %d is below the deductible but payout is %d", report.DamagePercentage, report.PayoutAmount)
	}

	return &models.DamageAssessment{
		PolicyID:            policy.PolicyID,
		DamagePercentage:    report.DamagePercentage,
		WeatherComponent:    report.WeatherComponent,
		VegetationComponent: report.VegetationComponent,
		PayoutAmount:        report.PayoutAmount,
		SumInsured:          policy.SumInsured,
		Source:              models.AssessmentSourceOffchain,
		Breakdown: utils.JSONMap{
			"received_at": report.ReceivedAt,
		},
		AssessedAt: report.AssessedAt,
	}, nil
}

// ChainSource tries each source in order and uses the first that has
// evidence for the policy.
type ChainSource struct {
	sources []AssessmentSource
}

func NewChainSource(sources ...AssessmentSource) *ChainSource {
	return &ChainSource{sources: sources}
}

func (c *ChainSource) Name() string {
	return "chain"
}

func (c *ChainSource) Assess(ctx context.Context, policy *models.PolicyTerms) (*models.DamageAssessment, error) {
	for _, source := range c.sources {
		assessment, err := source.Assess(ctx, policy)
		if err == nil {
			return assessment, nil
		}
		if !errors.Is(err, models.ErrNotReady) {
			return nil, err
		}
		slog.Debug("assessment source not ready", "source", source.Name(), "policy_id", policy.PolicyID, "reason", err)
	}
	return nil, models.NewNotReadyError("assessment.evidence_available",
		"no verified evidence is available yet for policy %s", policy.PolicyID)
}
