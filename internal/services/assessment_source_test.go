package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"oracle-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name   string
	result *models.DamageAssessment
	err    error
	calls  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Assess(context.Context, *models.PolicyTerms) (*models.DamageAssessment, error) {
	s.calls++
	return s.result, s.err
}

// ============================================================================
// TEST SUITE 1: OFF-CHAIN REPORT INGESTION
// ============================================================================

func TestIngest_StoresReport(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()

	report, err := f.reports.Ingest(ctx, reportFor("p1"))
	require.NoError(t, err)
	assert.Equal(t, fixedNow, report.ReceivedAt)

	stored, err := f.reports.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(371), stored.PayoutAmount)
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.reports.Ingest(ctx, reportFor("p1"))
	require.NoError(t, err)

	again, err := f.reports.Ingest(ctx, reportFor("p1"))
	require.NoError(t, err)
	assert.Equal(t, int64(5600), again.DamagePercentage)

	changed := reportFor("p1")
	changed.PayoutAmount = 400
	_, err = f.reports.Ingest(ctx, changed)
	assert.ErrorIs(t, err, models.ErrStateConflict)
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *models.OffchainReport)
		invariant string
	}{
		{"missing policy", func(r *models.OffchainReport) { r.PolicyID = "" }, "report.policy_required"},
		{"damage above 100%", func(r *models.OffchainReport) { r.DamagePercentage = 10001 }, "report.score_range"},
		{"negative component", func(r *models.OffchainReport) { r.VegetationComponent = -1 }, "report.score_range"},
		{"negative payout", func(r *models.OffchainReport) { r.PayoutAmount = -5 }, "report.payout_non_negative"},
		{"future assessment", func(r *models.OffchainReport) { r.AssessedAt = fixedNow.Add(time.Hour) }, "report.assessed_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOracleFixture()
			report := reportFor("p1")
			tt.mutate(&report)

			_, err := f.reports.Ingest(context.Background(), report)

			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, tt.invariant, models.InvariantOf(err))
		})
	}
}

// ============================================================================
// TEST SUITE 2: SOURCES
// ============================================================================

func TestReportSource_RangeChecksAgainstPolicy(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	source := NewReportSource(f.store)
	policy := testPolicy("p1")

	_, err := source.Assess(ctx, &policy)
	assert.ErrorIs(t, err, models.ErrNotReady)

	report := reportFor("p1")
	report.PayoutAmount = 1001
	_, err = f.reports.Ingest(ctx, report)
	require.NoError(t, err)

	_, err = source.Assess(ctx, &policy)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, "report.payout_within_sum_insured", models.InvariantOf(err))
}

func TestReportSource_PayoutBelowDeductibleMustBeZero(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	report := reportFor("p1")
	report.DamagePercentage = 2500
	_, err := f.reports.Ingest(ctx, report)
	require.NoError(t, err)

	policy := testPolicy("p1")
	_, err = NewReportSource(f.store).Assess(ctx, &policy)

	assert.Equal(t, "report.deductible", models.InvariantOf(err))
}

func TestLedgerSource_NeedsBothKinds(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	registerProviders(t, f, "station-v")
	policy := testPolicy("p1")

	vegetation, err := f.ledger.Submit(ctx, "station-v", vegetationRequest(policy.SubjectID, fixedNow))
	require.NoError(t, err)
	_, err = f.ledger.Verify(ctx, vegetation.ID, "verifier-a")
	require.NoError(t, err)

	_, err = NewLedgerSource(f.ledger, NewDamageEngine()).Assess(ctx, &policy)

	assert.ErrorIs(t, err, models.ErrNotReady)
}

func TestChainSource_FallsThroughNotReady(t *testing.T) {
	policy := testPolicy("p1")
	first := &stubSource{name: "first", err: models.NewNotReadyError("test", "nothing yet")}
	second := &stubSource{name: "second", result: &models.DamageAssessment{PolicyID: "p1", DamagePercentage: 4000}}

	assessment, err := NewChainSource(first, second).Assess(context.Background(), &policy)

	require.NoError(t, err)
	assert.Equal(t, int64(4000), assessment.DamagePercentage)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChainSource_StopsOnRealError(t *testing.T) {
	policy := testPolicy("p1")
	boom := errors.New("store down")
	first := &stubSource{name: "first", err: boom}
	second := &stubSource{name: "second", result: &models.DamageAssessment{}}

	_, err := NewChainSource(first, second).Assess(context.Background(), &policy)

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, second.calls)
}

func TestChainSource_NothingReady(t *testing.T) {
	policy := testPolicy("p1")
	notReady := models.NewNotReadyError("test", "nothing yet")

	_, err := NewChainSource(&stubSource{err: notReady}, &stubSource{err: notReady}).Assess(context.Background(), &policy)

	assert.ErrorIs(t, err, models.ErrNotReady)
	assert.Equal(t, "assessment.evidence_available", models.InvariantOf(err))
}
