package services

import (
	"context"
	"errors"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"
)

// Escrow holds and releases provider stake in the treasury.
type Escrow interface {
	Hold(ctx context.Context, providerID string, amount int64) error
	Release(ctx context.Context, providerID string, amount int64) error
}

// PolicySource exposes the policy collaborator's view of a policy.
type PolicySource interface {
	GetPolicy(ctx context.Context, policyID string) (*models.PolicyTerms, error)
	IsTriggered(ctx context.Context, policyID string) (bool, error)
}

// PayoutRequester hands a transfer request to the payment rail. It returns as
// soon as the request is accepted; the outcome arrives later through Confirm
// or Fail.
type PayoutRequester interface {
	RequestPayout(ctx context.Context, request models.PayoutRequest) error
	// QueryPayoutStatus asks the rail to re-send the outcome of a payout it
	// has not reported back on.
	QueryPayoutStatus(ctx context.Context, payout models.Payout) error
}

// Locker provides short-lived named locks shared across service instances.
// acquired is false when someone else holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// AssessmentSource produces a damage assessment for a policy from one kind of
// verified evidence.
type AssessmentSource interface {
	Name() string
	Assess(ctx context.Context, policy *models.PolicyTerms) (*models.DamageAssessment, error)
}

// EvidenceArchive keeps an immutable copy of every stored assessment.
type EvidenceArchive interface {
	ArchiveAssessment(ctx context.Context, assessment *models.DamageAssessment) error
}

// translateStoreError maps repository sentinels onto the domain taxonomy.
func translateStoreError(err error, entity string, id any) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return models.NewNotFoundError(entity, id)
	}
	return err
}
