package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"oracle-service/internal/models"
	"oracle-service/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ProviderRepository struct {
	db *sqlx.DB
}

func NewProviderRepository(db *sqlx.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

const providerColumns = `id, active, stake, reputation, submission_count, verified_count, registered_at, updated_at`

func (r *ProviderRepository) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var provider models.Provider
	query := `SELECT ` + providerColumns + ` FROM provider WHERE id = $1`

	if err := r.db.GetContext(ctx, &provider, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return &provider, nil
}

func (r *ProviderRepository) ListProviders(ctx context.Context, activeOnly bool) ([]models.Provider, error) {
	providers := []models.Provider{}
	query := `SELECT ` + providerColumns + ` FROM provider`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY registered_at DESC`

	if err := r.db.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	return providers, nil
}

func (r *ProviderRepository) MutateProvider(
	ctx context.Context,
	id string,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	return r.mutate(ctx, id, fn, nil)
}

func (r *ProviderRepository) SlashProvider(
	ctx context.Context,
	id string,
	record *models.SlashRecord,
	fn func(current *models.Provider) (*models.Provider, error),
) (*models.Provider, error) {
	return r.mutate(ctx, id, fn, func(tx *sqlx.Tx) error {
		return insertSlashRecord(ctx, tx, record)
	})
}

// mutate locks the provider row, applies fn, saves the result and runs also
// inside the same transaction before committing.
func (r *ProviderRepository) mutate(
	ctx context.Context,
	id string,
	fn func(current *models.Provider) (*models.Provider, error),
	also func(tx *sqlx.Tx) error,
) (*models.Provider, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback provider transaction", "provider_id", id, "error", err)
		}
	}()

	var current *models.Provider
	var locked models.Provider
	query := `SELECT ` + providerColumns + ` FROM provider WHERE id = $1 FOR UPDATE`
	switch err := tx.GetContext(ctx, &locked, query, id); {
	case err == nil:
		current = &locked
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to lock provider: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	upsert := `
		INSERT INTO provider (
			id, active, stake, reputation, submission_count, verified_count, registered_at, updated_at
		) VALUES (
			:id, :active, :stake, :reputation, :submission_count, :verified_count, :registered_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			stake = EXCLUDED.stake,
			reputation = EXCLUDED.reputation,
			submission_count = EXCLUDED.submission_count,
			verified_count = EXCLUDED.verified_count,
			registered_at = EXCLUDED.registered_at,
			updated_at = EXCLUDED.updated_at`

	if err := utils.NamedExecWithCheck(ctx, tx, upsert, utils.ExecUpdate, next); err != nil {
		return nil, fmt.Errorf("failed to save provider: %w", err)
	}

	if also != nil {
		if err := also(tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit provider transaction: %w", err)
	}

	return next, nil
}

func insertSlashRecord(ctx context.Context, tx *sqlx.Tx, record *models.SlashRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	query := `
		INSERT INTO provider_slash (
			id, provider_id, amount, reason, stake_after, deactivated, created_at
		) VALUES (
			:id, :provider_id, :amount, :reason, :stake_after, :deactivated, :created_at
		)`

	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to create slash record: %w", err)
	}

	return nil
}

func (r *ProviderRepository) ListSlashRecords(ctx context.Context, providerID string) ([]models.SlashRecord, error) {
	records := []models.SlashRecord{}
	query := `
		SELECT id, provider_id, amount, reason, stake_after, deactivated, created_at
		FROM provider_slash
		WHERE provider_id = $1
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &records, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list slash records: %w", err)
	}

	return records, nil
}
