package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
	"oracle-service/internal/worker"

	"github.com/google/uuid"
)

const (
	initiateLockTTL = 30 * time.Second
	settleLockTTL   = 30 * time.Second
	settleLockWait  = 2 * time.Second
	lockPollEvery   = 25 * time.Millisecond
)

var errUnchanged = errors.New("payout unchanged")

type SettlementConfig struct {
	BatchWorkers         int
	StaleProcessingAfter time.Duration
}

// SettlementWorkflow drives a payout from initiation to settlement:
// pending -> calculated -> approved -> processing -> completed | failed,
// with rejected reachable before approval and failed retryable.
type SettlementWorkflow struct {
	payouts      repository.PayoutStore
	assessments  repository.AssessmentStore
	observations repository.ObservationStore
	policies     PolicySource
	source       AssessmentSource
	requester    PayoutRequester
	locker       Locker
	archive      EvidenceArchive
	cfg          SettlementConfig
	now          func() time.Time

	settleLockWait time.Duration
}

func NewSettlementWorkflow(
	store repository.Store,
	policies PolicySource,
	source AssessmentSource,
	requester PayoutRequester,
	locker Locker,
	archive EvidenceArchive,
	cfg SettlementConfig,
) *SettlementWorkflow {
	return &SettlementWorkflow{
		payouts:      store,
		assessments:  store,
		observations: store,
		policies:     policies,
		source:       source,
		requester:    requester,
		locker:       locker,
		archive:      archive,
		cfg:          cfg,
		now:          time.Now,

		settleLockWait: settleLockWait,
	}
}

// ============================================================================
// INITIATE / CALCULATE
// ============================================================================

// Initiate opens the single live payout for a triggered policy.
func (w *SettlementWorkflow) Initiate(ctx context.Context, policyID string) (*models.Payout, error) {
	if strings.TrimSpace(policyID) == "" {
		return nil, models.NewValidationError("payout.policy_required", "policy_id is required")
	}

	triggered, err := w.policies.IsTriggered(ctx, policyID)
	if err != nil {
		return nil, policyError("policy.is_triggered", err)
	}
	if !triggered {
		return nil, models.NewNotReadyError("policy.triggered", "policy %s has not been triggered", policyID)
	}

	policy, err := w.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, policyError("policy.get", err)
	}

	release, acquired, err := w.locker.Acquire(ctx, "payout:initiate:"+policyID, initiateLockTTL)
	if err != nil {
		return nil, models.NewExternalDependencyError("lock.acquire", err)
	}
	if !acquired {
		return nil, models.NewStateConflictError("payout.one_active_per_policy",
			"a payout for policy %s is already being initiated", policyID)
	}
	defer release()

	if existing, err := w.payouts.ActivePayoutForPolicy(ctx, policyID); err == nil {
		return nil, models.NewStateConflictError("payout.one_active_per_policy",
			"policy %s already has payout %s in status %s", policyID, existing.ID, existing.Status)
	} else if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	now := w.now()
	payout := &models.Payout{
		ID:          uuid.New(),
		PolicyID:    policyID,
		Beneficiary: policy.Beneficiary,
		ExternalRef: policy.ExternalRef,
		SumInsured:  policy.SumInsured,
		Status:      models.PayoutPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.payouts.CreatePayout(ctx, payout); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, models.NewStateConflictError("payout.one_active_per_policy",
				"policy %s already has a live payout", policyID)
		}
		return nil, err
	}

	slog.Info("payout initiated", "payout_id", payout.ID, "policy_id", policyID, "sum_insured", payout.SumInsured)
	return payout, nil
}

// Calculate attaches the policy's damage assessment to a pending payout. The
// assessment is computed once per policy and reused afterwards. A zero payout
// goes straight to rejected.
func (w *SettlementWorkflow) Calculate(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := w.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutPending {
		return nil, stateError(payout, models.PayoutCalculated)
	}

	policy, err := w.policies.GetPolicy(ctx, payout.PolicyID)
	if err != nil {
		return nil, policyError("policy.get", err)
	}

	assessment, err := w.loadOrAssess(ctx, policy)
	if err != nil {
		return nil, err
	}

	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if p.Status != models.PayoutPending {
			return stateError(p, models.PayoutCalculated)
		}
		w.applyAssessment(p, assessment)
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Info("payout calculated",
		"payout_id", updated.ID,
		"policy_id", updated.PolicyID,
		"source", assessment.Source,
		"damage_percentage", updated.DamagePercentage,
		"payout_amount", updated.PayoutAmount,
		"status", updated.Status)
	return updated, nil
}

// Reassess recomputes the assessment for a calculated or failed payout and
// replaces the stored one. It is the way forward when evidence behind an
// assessment has been disputed.
func (w *SettlementWorkflow) Reassess(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := w.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !reassessable(payout.Status) {
		return nil, stateError(payout, models.PayoutCalculated)
	}

	policy, err := w.policies.GetPolicy(ctx, payout.PolicyID)
	if err != nil {
		return nil, policyError("policy.get", err)
	}

	assessment, err := w.source.Assess(ctx, policy)
	if err != nil {
		return nil, err
	}
	if err := w.assessments.ReplaceAssessment(ctx, assessment); err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			return nil, err
		}
		if err := w.assessments.CreateAssessment(ctx, assessment); err != nil {
			return nil, err
		}
	}
	w.archiveAssessment(ctx, assessment)

	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if !reassessable(p.Status) {
			return stateError(p, models.PayoutCalculated)
		}
		w.applyAssessment(p, assessment)
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Warn("payout reassessed",
		"payout_id", updated.ID,
		"damage_percentage", updated.DamagePercentage,
		"payout_amount", updated.PayoutAmount,
		"status", updated.Status)
	return updated, nil
}

func reassessable(status models.PayoutStatus) bool {
	return status == models.PayoutCalculated || status == models.PayoutFailed
}

// applyAssessment moves p to calculated, or on to rejected when nothing is owed.
func (w *SettlementWorkflow) applyAssessment(p *models.Payout, assessment *models.DamageAssessment) {
	p.DamagePercentage = assessment.DamagePercentage
	p.PayoutAmount = assessment.PayoutAmount
	p.Status = models.PayoutCalculated
	p.UpdatedAt = w.now()

	if assessment.PayoutAmount == 0 {
		reason := fmt.Sprintf("damage %d bps yields no payout after the %d bps deductible", assessment.DamagePercentage, DeductibleBps)
		p.Status = models.PayoutRejected
		p.FailureReason = &reason
	}
}

func (w *SettlementWorkflow) loadOrAssess(ctx context.Context, policy *models.PolicyTerms) (*models.DamageAssessment, error) {
	existing, err := w.assessments.GetAssessment(ctx, policy.PolicyID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	assessment, err := w.source.Assess(ctx, policy)
	if err != nil {
		return nil, err
	}

	if err := w.assessments.CreateAssessment(ctx, assessment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return w.assessments.GetAssessment(ctx, policy.PolicyID)
		}
		return nil, err
	}
	w.archiveAssessment(ctx, assessment)
	return assessment, nil
}

func (w *SettlementWorkflow) archiveAssessment(ctx context.Context, assessment *models.DamageAssessment) {
	if w.archive == nil {
		return
	}
	if err := w.archive.ArchiveAssessment(ctx, assessment); err != nil {
		slog.Error("failed to archive assessment", "policy_id", assessment.PolicyID, "error", err)
	}
}

// GetAssessment returns the stored assessment for a policy.
func (w *SettlementWorkflow) GetAssessment(ctx context.Context, policyID string) (*models.DamageAssessment, error) {
	assessment, err := w.assessments.GetAssessment(ctx, policyID)
	if err != nil {
		return nil, translateStoreError(err, "assessment", policyID)
	}
	return assessment, nil
}

// ============================================================================
// APPROVE / PROCESS
// ============================================================================

// Approve authorizes a calculated payout, or re-authorizes a failed one for
// another attempt.
func (w *SettlementWorkflow) Approve(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if !p.Status.CanTransitionTo(models.PayoutApproved) {
			return stateError(p, models.PayoutApproved)
		}
		if err := w.checkEvidence(ctx, p.PolicyID); err != nil {
			return err
		}
		p.Status = models.PayoutApproved
		p.UpdatedAt = w.now()
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Info("payout approved", "payout_id", updated.ID, "retry_count", updated.RetryCount)
	return updated, nil
}

// Process records the transfer intent and hands the request to the payment
// rail. If the rail cannot be reached the payout stays approved.
func (w *SettlementWorkflow) Process(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if err := w.startProcessing(ctx, p); err != nil {
			return err
		}
		if err := w.requester.RequestPayout(ctx, w.requestFor(p)); err != nil {
			return models.NewExternalDependencyError("payout.request", err)
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Info("payout processing", "payout_id", updated.ID, "amount", updated.PayoutAmount, "attempt", updated.RetryCount+1)
	return updated, nil
}

// processBatchMember is Process for batch fan-out: a failed transfer request
// is recorded on the payout as failed instead of rolling it back, so the
// batch result reflects every member's outcome.
func (w *SettlementWorkflow) processBatchMember(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	var requestErr error
	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if err := w.startProcessing(ctx, p); err != nil {
			return err
		}
		if err := w.requester.RequestPayout(ctx, w.requestFor(p)); err != nil {
			requestErr = models.NewExternalDependencyError("payout.request", err)
			reason := fmt.Sprintf("transfer request failed: %v", err)
			p.Status = models.PayoutFailed
			p.FailureReason = &reason
			p.RetryCount++
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}
	return updated, requestErr
}

func (w *SettlementWorkflow) startProcessing(ctx context.Context, p *models.Payout) error {
	if p.Status != models.PayoutApproved {
		return stateError(p, models.PayoutProcessing)
	}
	if err := w.checkEvidence(ctx, p.PolicyID); err != nil {
		return err
	}
	p.Status = models.PayoutProcessing
	p.UpdatedAt = w.now()
	return nil
}

func (w *SettlementWorkflow) requestFor(p *models.Payout) models.PayoutRequest {
	return models.PayoutRequest{
		PayoutID:    p.ID,
		PolicyID:    p.PolicyID,
		ExternalRef: p.ExternalRef,
		Beneficiary: p.Beneficiary,
		Amount:      p.PayoutAmount,
		Attempt:     p.RetryCount + 1,
		RequestedAt: p.UpdatedAt,
	}
}

// checkEvidence refuses to move money on an assessment whose ledger evidence
// is no longer verified. Stored assessments are never rewritten implicitly;
// an operator has to Reassess.
func (w *SettlementWorkflow) checkEvidence(ctx context.Context, policyID string) error {
	assessment, err := w.assessments.GetAssessment(ctx, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return models.NewStateConflictError("assessment.exists", "policy %s has no stored assessment", policyID)
		}
		return err
	}

	for _, id := range assessment.EvidenceIDs() {
		obs, err := w.observations.GetObservation(ctx, id)
		if err != nil {
			return translateStoreError(err, "observation", id)
		}
		if obs.Status != models.ObservationVerified {
			return models.NewStateConflictError("assessment.evidence_verified",
				"observation %s behind the assessment of policy %s is %s; reassess before paying out",
				obs.ID, policyID, obs.Status)
		}
	}
	return nil
}

// ============================================================================
// SETTLEMENT CALLBACKS
// ============================================================================

// Confirm completes a processing payout. Repeating the call with the same
// reference is a no-op; a different reference is a conflict.
func (w *SettlementWorkflow) Confirm(ctx context.Context, payoutID uuid.UUID, reference string) (*models.Payout, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, models.NewValidationError("payout.reference_required", "settlement reference is required")
	}

	release, err := w.lockSettlement(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	defer release()

	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if p.Status == models.PayoutCompleted {
			if p.SettlementReference != nil && *p.SettlementReference == reference {
				return errUnchanged
			}
			return models.NewStateConflictError("payout.single_settlement",
				"payout %s was already settled with a different reference", p.ID)
		}
		if p.Status != models.PayoutProcessing {
			return stateError(p, models.PayoutCompleted)
		}

		now := w.now()
		p.Status = models.PayoutCompleted
		p.SettlementReference = &reference
		p.ProcessedAt = &now
		p.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return w.Get(ctx, payoutID)
	}
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Info("payout completed", "payout_id", updated.ID, "policy_id", updated.PolicyID, "reference", reference)
	return updated, nil
}

// Fail records a settlement failure reported by the rail. A redelivered
// failure for an already failed payout changes nothing.
func (w *SettlementWorkflow) Fail(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("payout.reason_required", "failure reason is required")
	}

	release, err := w.lockSettlement(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	defer release()

	updated, err := w.payouts.MutatePayout(ctx, payoutID, func(p *models.Payout) error {
		if p.Status == models.PayoutFailed {
			return errUnchanged
		}
		if p.Status != models.PayoutProcessing {
			return stateError(p, models.PayoutFailed)
		}

		p.Status = models.PayoutFailed
		p.FailureReason = &reason
		p.RetryCount++
		p.UpdatedAt = w.now()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return w.Get(ctx, payoutID)
	}
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}

	slog.Warn("payout failed",
		"payout_id", updated.ID,
		"retry_count", updated.RetryCount,
		"error", fmt.Errorf("%w: %s", models.ErrSettlementFailure, reason))
	return updated, nil
}

// lockSettlement waits up to settleLockWait for the payout's settle lock.
// Contention past that is reported as busy so redelivered callbacks are
// retried rather than discarded.
func (w *SettlementWorkflow) lockSettlement(ctx context.Context, payoutID uuid.UUID) (func(), error) {
	key := "payout:settle:" + payoutID.String()
	deadline := time.Now().Add(w.settleLockWait)
	for {
		release, acquired, err := w.locker.Acquire(ctx, key, settleLockTTL)
		if err != nil {
			return nil, models.NewExternalDependencyError("lock.acquire", err)
		}
		if acquired {
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, models.NewBusyError("payout.serialized_settlement",
				"another settlement callback for payout %s is in progress", payoutID)
		}

		select {
		case <-ctx.Done():
			return nil, models.NewBusyError("payout.serialized_settlement",
				"gave up waiting for settlement lock of payout %s: %v", payoutID, ctx.Err())
		case <-time.After(lockPollEvery):
		}
	}
}

// ============================================================================
// BATCHES
// ============================================================================

// CreateBatch groups distinct approved payouts for processing together.
func (w *SettlementWorkflow) CreateBatch(ctx context.Context, payoutIDs []string) (*models.PayoutBatch, error) {
	if len(payoutIDs) == 0 {
		return nil, models.NewValidationError("batch.non_empty", "a batch needs at least one payout")
	}

	seen := make(map[uuid.UUID]struct{}, len(payoutIDs))
	ids := make([]string, 0, len(payoutIDs))
	var total int64
	for _, raw := range payoutIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, models.NewValidationError("batch.payout_id", "invalid payout id %q", raw)
		}
		if _, dup := seen[id]; dup {
			return nil, models.NewValidationError("batch.distinct_payouts", "payout %s appears more than once", id)
		}
		seen[id] = struct{}{}

		payout, err := w.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if payout.Status != models.PayoutApproved {
			return nil, models.NewStateConflictError("batch.approved_only",
				"payout %s is %s, only approved payouts can be batched", id, payout.Status)
		}
		total += payout.PayoutAmount
		ids = append(ids, id.String())
	}

	batch := &models.PayoutBatch{
		ID:          uuid.New(),
		PayoutIDs:   ids,
		TotalAmount: total,
		Status:      models.BatchCreated,
		CreatedAt:   w.now(),
	}
	if err := w.payouts.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	slog.Info("payout batch created", "batch_id", batch.ID, "size", len(ids), "total_amount", total)
	return batch, nil
}

// ProcessBatch processes every member independently on the worker pool. One
// member failing neither blocks nor rolls back the others. The batch is
// claimed (created -> processing) before fan-out, so only one caller ever
// runs its members.
func (w *SettlementWorkflow) ProcessBatch(ctx context.Context, batchID uuid.UUID) (*models.BatchResult, error) {
	batch, err := w.payouts.MutateBatch(ctx, batchID, func(b *models.PayoutBatch) error {
		if b.Status != models.BatchCreated {
			return models.NewStateConflictError("batch.process_once",
				"batch %s was already processed (%s)", b.ID, b.Status)
		}
		b.Status = models.BatchProcessing
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "batch", batchID)
	}

	items := make([]models.BatchItemResult, len(batch.PayoutIDs))
	jobs := make([]worker.Job, len(batch.PayoutIDs))
	for i, raw := range batch.PayoutIDs {
		id := uuid.MustParse(raw)
		items[i] = models.BatchItemResult{PayoutID: id}
		jobs[i] = func(ctx context.Context) error {
			payout, err := w.processBatchMember(ctx, id)
			if payout != nil {
				items[i].Status = payout.Status
			}
			return err
		}
	}

	errs := worker.RunBatch(ctx, "batch-"+batch.ID.String(), w.cfg.BatchWorkers, jobs)

	result := &models.BatchResult{Items: items}
	for i, err := range errs {
		if err != nil {
			items[i].Error = err.Error()
			result.FailedCount++
			continue
		}
		result.SuccessCount++
	}

	now := w.now()
	batch.SuccessCount = result.SuccessCount
	batch.FailedCount = result.FailedCount
	batch.ProcessedAt = &now
	switch {
	case result.FailedCount == 0:
		batch.Status = models.BatchProcessed
	case result.SuccessCount == 0:
		batch.Status = models.BatchFailed
	default:
		batch.Status = models.BatchPartiallyProcessed
	}
	if err := w.payouts.UpdateBatch(ctx, batch); err != nil {
		slog.Error("batch members ran but the result was not stored", "batch_id", batch.ID, "error", err)
		return nil, fmt.Errorf("failed to record batch result: %w", err)
	}
	result.Batch = batch

	slog.Info("payout batch processed",
		"batch_id", batch.ID,
		"status", batch.Status,
		"success_count", result.SuccessCount,
		"failed_count", result.FailedCount)
	return result, nil
}

func (w *SettlementWorkflow) GetBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	batch, err := w.payouts.GetBatch(ctx, batchID)
	if err != nil {
		return nil, translateStoreError(err, "batch", batchID)
	}
	return batch, nil
}

// ============================================================================
// READS & RECONCILIATION
// ============================================================================

func (w *SettlementWorkflow) Get(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := w.payouts.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, translateStoreError(err, "payout", payoutID)
	}
	return payout, nil
}

func (w *SettlementWorkflow) ListByPolicy(ctx context.Context, policyID string) ([]models.Payout, error) {
	return w.payouts.ListPayoutsByPolicy(ctx, policyID)
}

// StaleProcessing lists payouts that have been processing for longer than olderThan.
func (w *SettlementWorkflow) StaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Payout, error) {
	return w.payouts.ListPayoutsByStatusBefore(ctx, models.PayoutProcessing, w.now().Add(-olderThan))
}

// SweepStaleProcessing asks the rail for the outcome of every stale
// processing payout. It never fails a payout by itself; the answer comes back
// through Confirm or Fail.
func (w *SettlementWorkflow) SweepStaleProcessing(ctx context.Context) error {
	stale, err := w.StaleProcessing(ctx, w.cfg.StaleProcessingAfter)
	if err != nil {
		return fmt.Errorf("failed to list stale payouts: %w", err)
	}

	var errs []error
	for _, payout := range stale {
		slog.Warn("payout awaiting settlement past threshold",
			"payout_id", payout.ID,
			"policy_id", payout.PolicyID,
			"processing_since", payout.UpdatedAt)
		if err := w.requester.QueryPayoutStatus(ctx, payout); err != nil {
			errs = append(errs, fmt.Errorf("status query for payout %s: %w", payout.ID, err))
		}
	}
	return errors.Join(errs...)
}

func stateError(p *models.Payout, target models.PayoutStatus) error {
	return models.NewStateConflictError("payout.lifecycle",
		"payout %s is %s and cannot move to %s", p.ID, p.Status, target)
}

// policyError keeps not-found answers from the policy service as they are and
// treats everything else as the collaborator failing.
func policyError(call string, err error) error {
	var domainErr *models.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return models.NewExternalDependencyError(call, err)
}
