package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
)

var errRailDown = errors.New("rail unavailable")

type fakeEscrow struct {
	mu       sync.Mutex
	held     map[string]int64
	released map[string]int64
	failHold bool
}

func newFakeEscrow() *fakeEscrow {
	return &fakeEscrow{held: map[string]int64{}, released: map[string]int64{}}
}

func (e *fakeEscrow) Hold(_ context.Context, providerID string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failHold {
		return errors.New("treasury unavailable")
	}
	e.held[providerID] += amount
	return nil
}

func (e *fakeEscrow) Release(_ context.Context, providerID string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released[providerID] += amount
	return nil
}

type fakePolicies struct {
	policies  map[string]*models.PolicyTerms
	triggered map[string]bool
	err       error
}

func newFakePolicies() *fakePolicies {
	return &fakePolicies{policies: map[string]*models.PolicyTerms{}, triggered: map[string]bool{}}
}

func (p *fakePolicies) add(policy models.PolicyTerms, triggered bool) {
	p.policies[policy.PolicyID] = &policy
	p.triggered[policy.PolicyID] = triggered
}

func (p *fakePolicies) GetPolicy(_ context.Context, policyID string) (*models.PolicyTerms, error) {
	if p.err != nil {
		return nil, p.err
	}
	policy, ok := p.policies[policyID]
	if !ok {
		return nil, models.NewNotFoundError("policy", policyID)
	}
	copied := *policy
	return &copied, nil
}

func (p *fakePolicies) IsTriggered(_ context.Context, policyID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if _, ok := p.policies[policyID]; !ok {
		return false, models.NewNotFoundError("policy", policyID)
	}
	return p.triggered[policyID], nil
}

type fakeRequester struct {
	mu       sync.Mutex
	requests []models.PayoutRequest
	queried  []models.Payout
	failFor  map[string]bool
	failAll  bool
	delay    time.Duration
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{failFor: map[string]bool{}}
}

func (r *fakeRequester) RequestPayout(_ context.Context, request models.PayoutRequest) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll || r.failFor[request.PolicyID] {
		return errRailDown
	}
	r.requests = append(r.requests, request)
	return nil
}

func (r *fakeRequester) QueryPayoutStatus(_ context.Context, payout models.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried = append(r.queried, payout)
	return nil
}

func (r *fakeRequester) sent() []models.PayoutRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PayoutRequest(nil), r.requests...)
}

type fakeArchive struct {
	mu       sync.Mutex
	archived []string
}

func (a *fakeArchive) ArchiveAssessment(_ context.Context, assessment *models.DamageAssessment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, assessment.PolicyID)
	return nil
}

// fixedNow pins every service clock so freshness checks are stable.
var fixedNow = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type oracleFixture struct {
	store      *repository.MemoryStore
	escrow     *fakeEscrow
	policies   *fakePolicies
	requester  *fakeRequester
	archive    *fakeArchive
	registry   *ProviderRegistry
	ledger     *ObservationLedger
	reports    *OffchainReportService
	settlement *SettlementWorkflow
}

func newOracleFixture() *oracleFixture {
	f := &oracleFixture{
		store:     repository.NewMemoryStore(),
		escrow:    newFakeEscrow(),
		policies:  newFakePolicies(),
		requester: newFakeRequester(),
		archive:   &fakeArchive{},
	}

	f.registry = NewProviderRegistry(f.store, f.escrow, 1000)
	f.registry.now = fixedClock
	f.ledger = NewObservationLedger(f.store, f.registry)
	f.ledger.now = fixedClock
	f.reports = NewOffchainReportService(f.store)
	f.reports.now = fixedClock

	ledgerSource := NewLedgerSource(f.ledger, NewDamageEngine())
	ledgerSource.now = fixedClock
	source := NewChainSource(NewReportSource(f.store), ledgerSource)

	f.settlement = NewSettlementWorkflow(f.store, f.policies, source, f.requester, NewLocalLocker(), f.archive,
		SettlementConfig{BatchWorkers: 2, StaleProcessingAfter: time.Hour})
	f.settlement.now = fixedClock
	return f
}
