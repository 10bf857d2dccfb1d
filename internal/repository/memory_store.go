package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"oracle-service/internal/models"

	"github.com/google/uuid"
)

type observationKey struct {
	reporterID string
	subjectID  string
	kind       models.ObservationKind
	window     time.Time
}

// MemoryStore keeps every table in an append-only arena with explicit
// indexes mirroring the postgres unique constraints. Each table has its own
// lock, held for the duration of a Mutate callback.
type MemoryStore struct {
	providerMu sync.Mutex
	providers  []models.Provider
	providerIx map[string]int
	slashes    []models.SlashRecord

	observationMu sync.Mutex
	observations  []*models.Observation
	observationIx map[uuid.UUID]int
	windowIx      map[observationKey]int

	assessmentMu sync.Mutex
	assessments  map[string]models.DamageAssessment
	reports      map[string]models.OffchainReport

	payoutMu       sync.Mutex
	payouts        []models.Payout
	payoutIx       map[uuid.UUID]int
	activeByPolicy map[string]int
	batches        []models.PayoutBatch
	batchIx        map[uuid.UUID]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providerIx:     make(map[string]int),
		observationIx:  make(map[uuid.UUID]int),
		windowIx:       make(map[observationKey]int),
		assessments:    make(map[string]models.DamageAssessment),
		reports:        make(map[string]models.OffchainReport),
		payoutIx:       make(map[uuid.UUID]int),
		activeByPolicy: make(map[string]int),
		batchIx:        make(map[uuid.UUID]int),
	}
}

// ============================================================================
// PROVIDERS
// ============================================================================

func (m *MemoryStore) GetProvider(_ context.Context, id string) (*models.Provider, error) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()

	idx, ok := m.providerIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	provider := m.providers[idx]
	return &provider, nil
}

func (m *MemoryStore) ListProviders(_ context.Context, activeOnly bool) ([]models.Provider, error) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()

	providers := []models.Provider{}
	for i := len(m.providers) - 1; i >= 0; i-- {
		if activeOnly && !m.providers[i].Active {
			continue
		}
		providers = append(providers, m.providers[i])
	}
	return providers, nil
}

func (m *MemoryStore) MutateProvider(
	_ context.Context,
	id string,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()
	return m.mutateProviderLocked(id, fn)
}

func (m *MemoryStore) SlashProvider(
	_ context.Context,
	id string,
	record *models.SlashRecord,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()

	provider, err := m.mutateProviderLocked(id, fn)
	if err != nil {
		return nil, err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	m.slashes = append(m.slashes, *record)
	return provider, nil
}

// mutateProviderLocked expects providerMu to be held.
func (m *MemoryStore) mutateProviderLocked(
	id string,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	var current *models.Provider
	idx, exists := m.providerIx[id]
	if exists {
		copied := m.providers[idx]
		current = &copied
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if exists {
		m.providers[idx] = *next
	} else {
		m.providerIx[id] = len(m.providers)
		m.providers = append(m.providers, *next)
	}
	result := *next
	return &result, nil
}

func (m *MemoryStore) ListSlashRecords(_ context.Context, providerID string) ([]models.SlashRecord, error) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()

	records := []models.SlashRecord{}
	for i := len(m.slashes) - 1; i >= 0; i-- {
		if m.slashes[i].ProviderID == providerID {
			records = append(records, m.slashes[i])
		}
	}
	return records, nil
}

// ============================================================================
// OBSERVATIONS
// ============================================================================

func (m *MemoryStore) CreateObservation(_ context.Context, obs *models.Observation) error {
	m.observationMu.Lock()
	defer m.observationMu.Unlock()

	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	key := observationKey{obs.ReporterID, obs.SubjectID, obs.Kind, obs.WindowStart.UTC()}
	if _, dup := m.windowIx[key]; dup {
		return ErrDuplicate
	}
	if _, dup := m.observationIx[obs.ID]; dup {
		return ErrDuplicate
	}

	idx := len(m.observations)
	m.observations = append(m.observations, obs.Clone())
	m.observationIx[obs.ID] = idx
	m.windowIx[key] = idx
	return nil
}

func (m *MemoryStore) GetObservation(_ context.Context, id uuid.UUID) (*models.Observation, error) {
	m.observationMu.Lock()
	defer m.observationMu.Unlock()

	idx, ok := m.observationIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return m.observations[idx].Clone(), nil
}

func (m *MemoryStore) MutateObservation(
	_ context.Context,
	id uuid.UUID,
	fn func(obs *models.Observation) error,
) (*models.Observation, error) {
	m.observationMu.Lock()
	defer m.observationMu.Unlock()

	idx, ok := m.observationIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	working := m.observations[idx].Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	m.observations[idx] = working
	return working.Clone(), nil
}

func (m *MemoryStore) ListObservationsBySubject(
	_ context.Context,
	subjectID string,
	kind models.ObservationKind,
) ([]models.Observation, error) {
	m.observationMu.Lock()
	defer m.observationMu.Unlock()

	observations := []models.Observation{}
	for _, obs := range m.observations {
		if obs.SubjectID != subjectID || (kind != "" && obs.Kind != kind) {
			continue
		}
		observations = append(observations, *obs.Clone())
	}
	sortNewestWindowFirst(observations)
	return observations, nil
}

func (m *MemoryStore) LatestVerifiedObservation(
	ctx context.Context,
	subjectID string,
	kind models.ObservationKind,
) (*models.Observation, error) {
	observations, err := m.ListObservationsBySubject(ctx, subjectID, kind)
	if err != nil {
		return nil, err
	}
	for i := range observations {
		if observations[i].Status == models.ObservationVerified {
			return &observations[i], nil
		}
	}
	return nil, ErrRecordNotFound
}

func sortNewestWindowFirst(observations []models.Observation) {
	slices.SortStableFunc(observations, func(a, b models.Observation) int {
		if c := b.WindowStart.Compare(a.WindowStart); c != 0 {
			return c
		}
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})
}

// ============================================================================
// ASSESSMENTS & OFF-CHAIN REPORTS
// ============================================================================

func (m *MemoryStore) GetAssessment(_ context.Context, policyID string) (*models.DamageAssessment, error) {
	m.assessmentMu.Lock()
	defer m.assessmentMu.Unlock()

	assessment, ok := m.assessments[policyID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &assessment, nil
}

func (m *MemoryStore) CreateAssessment(_ context.Context, assessment *models.DamageAssessment) error {
	m.assessmentMu.Lock()
	defer m.assessmentMu.Unlock()

	if _, exists := m.assessments[assessment.PolicyID]; exists {
		return ErrDuplicate
	}
	m.assessments[assessment.PolicyID] = *assessment
	return nil
}

func (m *MemoryStore) ReplaceAssessment(_ context.Context, assessment *models.DamageAssessment) error {
	m.assessmentMu.Lock()
	defer m.assessmentMu.Unlock()

	if _, exists := m.assessments[assessment.PolicyID]; !exists {
		return ErrRecordNotFound
	}
	m.assessments[assessment.PolicyID] = *assessment
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, policyID string) (*models.OffchainReport, error) {
	m.assessmentMu.Lock()
	defer m.assessmentMu.Unlock()

	report, ok := m.reports[policyID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &report, nil
}

func (m *MemoryStore) CreateReport(_ context.Context, report *models.OffchainReport) error {
	m.assessmentMu.Lock()
	defer m.assessmentMu.Unlock()

	if _, exists := m.reports[report.PolicyID]; exists {
		return ErrDuplicate
	}
	m.reports[report.PolicyID] = *report
	return nil
}

// ============================================================================
// PAYOUTS & BATCHES
// ============================================================================

func (m *MemoryStore) CreatePayout(_ context.Context, payout *models.Payout) error {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now()
	}
	payout.UpdatedAt = payout.CreatedAt

	live := payout.Status != models.PayoutRejected
	if _, exists := m.activeByPolicy[payout.PolicyID]; exists && live {
		return ErrDuplicate
	}

	idx := len(m.payouts)
	m.payouts = append(m.payouts, *payout)
	m.payoutIx[payout.ID] = idx
	if live {
		m.activeByPolicy[payout.PolicyID] = idx
	}
	return nil
}

func (m *MemoryStore) GetPayout(_ context.Context, id uuid.UUID) (*models.Payout, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.payoutIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	payout := m.payouts[idx]
	return &payout, nil
}

func (m *MemoryStore) ListPayoutsByPolicy(_ context.Context, policyID string) ([]models.Payout, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	payouts := []models.Payout{}
	for i := len(m.payouts) - 1; i >= 0; i-- {
		if m.payouts[i].PolicyID == policyID {
			payouts = append(payouts, m.payouts[i])
		}
	}
	return payouts, nil
}

func (m *MemoryStore) ActivePayoutForPolicy(_ context.Context, policyID string) (*models.Payout, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.activeByPolicy[policyID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	payout := m.payouts[idx]
	return &payout, nil
}

func (m *MemoryStore) ListPayoutsByStatusBefore(
	_ context.Context,
	status models.PayoutStatus,
	before time.Time,
) ([]models.Payout, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	payouts := []models.Payout{}
	for _, payout := range m.payouts {
		if payout.Status == status && payout.UpdatedAt.Before(before) {
			payouts = append(payouts, payout)
		}
	}
	slices.SortFunc(payouts, func(a, b models.Payout) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	return payouts, nil
}

func (m *MemoryStore) MutatePayout(
	_ context.Context,
	id uuid.UUID,
	fn func(payout *models.Payout) error,
) (*models.Payout, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.payoutIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	working := m.payouts[idx]
	if err := fn(&working); err != nil {
		return nil, err
	}

	if working.Status == models.PayoutRejected {
		if m.activeByPolicy[working.PolicyID] == idx {
			delete(m.activeByPolicy, working.PolicyID)
		}
	}
	m.payouts[idx] = working
	result := working
	return &result, nil
}

func (m *MemoryStore) CreateBatch(_ context.Context, batch *models.PayoutBatch) error {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	stored := *batch
	stored.PayoutIDs = slices.Clone(batch.PayoutIDs)
	m.batchIx[batch.ID] = len(m.batches)
	m.batches = append(m.batches, stored)
	return nil
}

func (m *MemoryStore) GetBatch(_ context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.batchIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	batch := m.batches[idx]
	batch.PayoutIDs = slices.Clone(batch.PayoutIDs)
	return &batch, nil
}

func (m *MemoryStore) MutateBatch(
	_ context.Context,
	id uuid.UUID,
	fn func(batch *models.PayoutBatch) error,
) (*models.PayoutBatch, error) {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.batchIx[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	working := m.batches[idx]
	working.PayoutIDs = slices.Clone(working.PayoutIDs)
	if err := fn(&working); err != nil {
		return nil, err
	}

	stored := m.batches[idx]
	stored.Status = working.Status
	stored.SuccessCount = working.SuccessCount
	stored.FailedCount = working.FailedCount
	stored.ProcessedAt = working.ProcessedAt
	m.batches[idx] = stored

	result := stored
	result.PayoutIDs = slices.Clone(stored.PayoutIDs)
	return &result, nil
}

func (m *MemoryStore) UpdateBatch(_ context.Context, batch *models.PayoutBatch) error {
	m.payoutMu.Lock()
	defer m.payoutMu.Unlock()

	idx, ok := m.batchIx[batch.ID]
	if !ok {
		return ErrRecordNotFound
	}
	stored := m.batches[idx]
	stored.Status = batch.Status
	stored.SuccessCount = batch.SuccessCount
	stored.FailedCount = batch.FailedCount
	stored.ProcessedAt = batch.ProcessedAt
	m.batches[idx] = stored
	return nil
}
