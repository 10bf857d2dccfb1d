package services

import (
	"context"
	"errors"
	"testing"

	"oracle-service/internal/models"
	"oracle-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST SUITE 1: REGISTRATION & STAKE
// ============================================================================

func TestRegister_HoldsStakeAndStartsNeutral(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()

	provider, err := f.registry.Register(ctx, "station-1", 1500)
	require.NoError(t, err)

	assert.True(t, provider.Active)
	assert.Equal(t, int64(1500), provider.Stake)
	assert.Equal(t, models.ReputationNeutral, provider.Reputation)
	assert.Equal(t, int64(1500), f.escrow.held["station-1"])
}

func TestRegister_RejectsStakeBelowMinimum(t *testing.T) {
	f := newOracleFixture()

	_, err := f.registry.Register(context.Background(), "station-1", 999)

	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, "stake.minimum", models.InvariantOf(err))
	assert.Empty(t, f.escrow.held)
}

func TestRegister_TwiceIsConflict(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1000)
	require.NoError(t, err)

	_, err = f.registry.Register(ctx, "station-1", 1000)

	assert.ErrorIs(t, err, models.ErrStateConflict)
}

func TestRegister_EscrowFailureLeavesNoRecord(t *testing.T) {
	f := newOracleFixture()
	f.escrow.failHold = true
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "station-1", 1000)
	assert.ErrorIs(t, err, models.ErrExternalDependency)

	_, err = f.registry.Get(ctx, "station-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeregister_ReleasesFullStake(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1200)
	require.NoError(t, err)
	_, err = f.registry.IncreaseStake(ctx, "station-1", 300)
	require.NoError(t, err)

	provider, err := f.registry.Deregister(ctx, "station-1")
	require.NoError(t, err)

	assert.False(t, provider.Active)
	assert.Zero(t, provider.Stake)
	assert.Equal(t, int64(1500), f.escrow.released["station-1"])

	_, err = f.registry.Deregister(ctx, "station-1")
	assert.ErrorIs(t, err, models.ErrAuthorization)
}

func TestIncreaseStake_RequiresPositiveAmount(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1000)
	require.NoError(t, err)

	_, err = f.registry.IncreaseStake(ctx, "station-1", 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

// ============================================================================
// TEST SUITE 2: SLASHING
// ============================================================================

func TestSlash_KeepsActiveAboveMinimum(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 3000)
	require.NoError(t, err)

	record, err := f.registry.Slash(ctx, "station-1", 500, "fabricated rainfall")
	require.NoError(t, err)

	assert.Equal(t, int64(2500), record.StakeAfter)
	assert.False(t, record.Deactivated)

	provider, err := f.registry.Get(ctx, "station-1")
	require.NoError(t, err)
	assert.True(t, provider.Active)
	assert.Equal(t, int64(2500), provider.Stake)
}

func TestSlash_BelowMinimumDeactivatesAndReleasesRemainder(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1500)
	require.NoError(t, err)

	record, err := f.registry.Slash(ctx, "station-1", 800, "repeated disputes")
	require.NoError(t, err)

	assert.True(t, record.Deactivated)
	assert.Zero(t, record.StakeAfter)
	assert.Equal(t, int64(700), f.escrow.released["station-1"])

	history, err := f.registry.SlashHistory(ctx, "station-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(800), history[0].Amount)

	_, err = f.registry.RequireActive(ctx, "station-1")
	assert.ErrorIs(t, err, models.ErrAuthorization)
}

func TestSlash_CannotExceedStake(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1000)
	require.NoError(t, err)

	_, err = f.registry.Slash(ctx, "station-1", 1001, "too much")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.registry.Slash(ctx, "nobody", 10, "unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// auditFailingStore applies the provider change and then fails the slash
// record write, inside the same store call.
type auditFailingStore struct {
	*repository.MemoryStore
}

func (s auditFailingStore) SlashProvider(
	ctx context.Context,
	id string,
	record *models.SlashRecord,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	return s.MemoryStore.SlashProvider(ctx, id, record, func(current *models.Provider) (*models.Provider, error) {
		if _, err := fn(current); err != nil {
			return nil, err
		}
		return nil, errors.New("disk full")
	})
}

func TestSlash_FailedAuditWriteLeavesStakeUntouched(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 5000)
	require.NoError(t, err)

	failing := NewProviderRegistry(auditFailingStore{f.store}, f.escrow, 1000)
	_, err = failing.Slash(ctx, "station-1", 1000, "fabricated rainfall")
	require.ErrorContains(t, err, "disk full")

	provider, err := f.registry.Get(ctx, "station-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), provider.Stake)
	history, err := f.registry.SlashHistory(ctx, "station-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	record, err := f.registry.Slash(ctx, "station-1", 1000, "fabricated rainfall")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), record.StakeAfter)
	history, err = f.registry.SlashHistory(ctx, "station-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// ============================================================================
// TEST SUITE 3: REPUTATION
// ============================================================================

func TestAdjustReputation_Saturates(t *testing.T) {
	f := newOracleFixture()
	ctx := context.Background()
	_, err := f.registry.Register(ctx, "station-1", 1000)
	require.NoError(t, err)

	provider, err := f.registry.AdjustReputation(ctx, "station-1", 7000)
	require.NoError(t, err)
	assert.Equal(t, models.ReputationMax, provider.Reputation)

	provider, err = f.registry.AdjustReputation(ctx, "station-1", -20000)
	require.NoError(t, err)
	assert.Equal(t, models.ReputationMin, provider.Reputation)
}

func TestRequireActive_UnknownProvider(t *testing.T) {
	f := newOracleFixture()

	_, err := f.registry.RequireActive(context.Background(), "ghost")

	assert.ErrorIs(t, err, models.ErrAuthorization)
	assert.Equal(t, "provider.registered", models.InvariantOf(err))
}
