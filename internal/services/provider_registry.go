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

// Reputation moves more for vegetation data, which is scarcer and costlier to
// corroborate than weather data.
const (
	WeatherVerifyReward      int64 = 50
	VegetationVerifyReward   int64 = 100
	WeatherDisputePenalty    int64 = -200
	VegetationDisputePenalty int64 = -500
)

func VerifyRewardFor(kind models.ObservationKind) int64 {
	if kind == models.ObservationVegetation {
		return VegetationVerifyReward
	}
	return WeatherVerifyReward
}

func DisputePenaltyFor(kind models.ObservationKind) int64 {
	if kind == models.ObservationVegetation {
		return VegetationDisputePenalty
	}
	return WeatherDisputePenalty
}

type ProviderRegistry struct {
	store    repository.ProviderStore
	escrow   Escrow
	minStake int64
	now      func() time.Time
}

func NewProviderRegistry(store repository.ProviderStore, escrow Escrow, minStake int64) *ProviderRegistry {
	return &ProviderRegistry{
		store:    store,
		escrow:   escrow,
		minStake: minStake,
		now:      time.Now,
	}
}

func (r *ProviderRegistry) MinStake() int64 {
	return r.minStake
}

// Register activates providerID with the given stake. The stake is held in
// escrow before the record is written; an escrow failure leaves no trace.
// An inactive provider re-registering starts over from a clean record.
func (r *ProviderRegistry) Register(ctx context.Context, providerID string, stake int64) (*models.Provider, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, models.NewValidationError("provider.id_required", "provider id is required")
	}
	if stake < r.minStake {
		return nil, models.NewValidationError("stake.minimum", "stake %d is below the minimum of %d", stake, r.minStake)
	}

	provider, err := r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current != nil && current.Active {
			return nil, models.NewStateConflictError("provider.already_active", "provider %s is already registered", providerID)
		}
		if err := r.escrow.Hold(ctx, providerID, stake); err != nil {
			return nil, models.NewExternalDependencyError("escrow.hold", err)
		}

		now := r.now()
		return &models.Provider{
			ID:           providerID,
			Active:       true,
			Stake:        stake,
			Reputation:   models.ReputationNeutral,
			RegisteredAt: now,
			UpdatedAt:    now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("provider registered", "provider_id", providerID, "stake", stake)
	return provider, nil
}

// Deregister returns the full stake and deactivates the provider. There is
// no cooldown between deregistration and release.
func (r *ProviderRegistry) Deregister(ctx context.Context, providerID string) (*models.Provider, error) {
	var released int64
	provider, err := r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current == nil || !current.Active {
			return nil, models.NewAuthorizationError("provider.active", "provider %s is not active", providerID)
		}
		if current.Stake > 0 {
			if err := r.escrow.Release(ctx, providerID, current.Stake); err != nil {
				return nil, models.NewExternalDependencyError("escrow.release", err)
			}
		}

		released = current.Stake
		current.Stake = 0
		current.Active = false
		current.UpdatedAt = r.now()
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("provider deregistered", "provider_id", providerID, "released", released)
	return provider, nil
}

func (r *ProviderRegistry) IncreaseStake(ctx context.Context, providerID string, amount int64) (*models.Provider, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("stake.positive_amount", "stake increase must be positive, got %d", amount)
	}

	return r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current == nil || !current.Active {
			return nil, models.NewAuthorizationError("provider.active", "provider %s is not active", providerID)
		}
		if err := r.escrow.Hold(ctx, providerID, amount); err != nil {
			return nil, models.NewExternalDependencyError("escrow.hold", err)
		}

		current.Stake += amount
		current.UpdatedAt = r.now()
		return current, nil
	})
}

// Slash forfeits part of a provider's stake. When the remainder falls below
// the minimum the provider is deactivated and the remainder is returned.
func (r *ProviderRegistry) Slash(ctx context.Context, providerID string, amount int64, reason string) (*models.SlashRecord, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("slash.positive_amount", "slash amount must be positive, got %d", amount)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("slash.reason_required", "slash reason is required")
	}

	record := &models.SlashRecord{
		ID:         uuid.New(),
		ProviderID: providerID,
		Amount:     amount,
		Reason:     reason,
	}

	_, err := r.store.SlashProvider(ctx, providerID, record, func(current *models.Provider) (*models.Provider, error) {
		if current == nil {
			return nil, models.NewNotFoundError("provider", providerID)
		}
		if amount > current.Stake {
			return nil, models.NewValidationError("slash.within_stake",
				"slash amount %d exceeds current stake %d", amount, current.Stake)
		}

		current.Stake -= amount
		if current.Active && current.Stake < r.minStake {
			if current.Stake > 0 {
				if err := r.escrow.Release(ctx, providerID, current.Stake); err != nil {
					return nil, models.NewExternalDependencyError("escrow.release", err)
				}
			}
			current.Stake = 0
			current.Active = false
			record.Deactivated = true
		}

		now := r.now()
		current.UpdatedAt = now
		record.StakeAfter = current.Stake
		record.CreatedAt = now
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("provider slashed",
		"provider_id", providerID,
		"amount", amount,
		"stake_after", record.StakeAfter,
		"deactivated", record.Deactivated,
		"reason", reason)
	return record, nil
}

// AdjustReputation applies delta and clamps the result to
// [ReputationMin, ReputationMax].
func (r *ProviderRegistry) AdjustReputation(ctx context.Context, providerID string, delta int64) (*models.Provider, error) {
	return r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current == nil {
			return nil, models.NewNotFoundError("provider", providerID)
		}
		current.Reputation = saturate(current.Reputation+delta, models.ReputationMin, models.ReputationMax)
		current.UpdatedAt = r.now()
		return current, nil
	})
}

// RequireActive loads a provider and rejects unknown or inactive ones.
func (r *ProviderRegistry) RequireActive(ctx context.Context, providerID string) (*models.Provider, error) {
	provider, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, models.NewAuthorizationError("provider.registered", "provider %s is not registered", providerID)
		}
		return nil, err
	}
	if !provider.Active {
		return nil, models.NewAuthorizationError("provider.active", "provider %s is not active", providerID)
	}
	return provider, nil
}

func (r *ProviderRegistry) RecordSubmission(ctx context.Context, providerID string) error {
	_, err := r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current == nil {
			return nil, models.NewNotFoundError("provider", providerID)
		}
		current.SubmissionCount++
		current.UpdatedAt = r.now()
		return current, nil
	})
	return err
}

// RecordVerified credits the reporter of a newly verified submission with
// the verified count and the class reward in one update.
func (r *ProviderRegistry) RecordVerified(ctx context.Context, providerID string, kind models.ObservationKind) error {
	_, err := r.store.MutateProvider(ctx, providerID, func(current *models.Provider) (*models.Provider, error) {
		if current == nil {
			return nil, models.NewNotFoundError("provider", providerID)
		}
		current.VerifiedCount++
		current.Reputation = saturate(current.Reputation+VerifyRewardFor(kind), models.ReputationMin, models.ReputationMax)
		current.UpdatedAt = r.now()
		return current, nil
	})
	return err
}

func (r *ProviderRegistry) Get(ctx context.Context, providerID string) (*models.Provider, error) {
	provider, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, translateStoreError(err, "provider", providerID)
	}
	return provider, nil
}

func (r *ProviderRegistry) List(ctx context.Context, activeOnly bool) ([]models.Provider, error) {
	return r.store.ListProviders(ctx, activeOnly)
}

func (r *ProviderRegistry) SlashHistory(ctx context.Context, providerID string) ([]models.SlashRecord, error) {
	if _, err := r.Get(ctx, providerID); err != nil {
		return nil, err
	}
	return r.store.ListSlashRecords(ctx, providerID)
}

func saturate(value, lo, hi int64) int64 {
	return min(max(value, lo), hi)
}
