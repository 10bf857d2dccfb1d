package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oracle-service/internal/models"
	"oracle-service/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

const payoutColumns = `id, policy_id, beneficiary, external_ref, sum_insured, damage_percentage, payout_amount,
	status, failure_reason, retry_count, settlement_reference, created_at, updated_at, processed_at`

func (r *PayoutRepository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now()
	}
	payout.UpdatedAt = payout.CreatedAt

	query := `
		INSERT INTO payout (` + payoutColumns + `) VALUES (
			:id, :policy_id, :beneficiary, :external_ref, :sum_insured, :damage_percentage, :payout_amount,
			:status, :failure_reason, :retry_count, :settlement_reference, :created_at, :updated_at, :processed_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, payout); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}

	return nil
}

func (r *PayoutRepository) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE id = $1`

	if err := r.db.GetContext(ctx, &payout, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}

	return &payout, nil
}

func (r *PayoutRepository) ListPayoutsByPolicy(ctx context.Context, policyID string) ([]models.Payout, error) {
	payouts := []models.Payout{}
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE policy_id = $1 ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &payouts, query, policyID); err != nil {
		return nil, fmt.Errorf("failed to list payouts by policy: %w", err)
	}

	return payouts, nil
}

func (r *PayoutRepository) ActivePayoutForPolicy(ctx context.Context, policyID string) (*models.Payout, error) {
	var payout models.Payout
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE policy_id = $1 AND status <> $2`

	if err := r.db.GetContext(ctx, &payout, query, policyID, models.PayoutRejected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get active payout: %w", err)
	}

	return &payout, nil
}

func (r *PayoutRepository) ListPayoutsByStatusBefore(
	ctx context.Context,
	status models.PayoutStatus,
	before time.Time,
) ([]models.Payout, error) {
	payouts := []models.Payout{}
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`

	if err := r.db.SelectContext(ctx, &payouts, query, status, before); err != nil {
		return nil, fmt.Errorf("failed to list payouts by status: %w", err)
	}

	return payouts, nil
}

func (r *PayoutRepository) MutatePayout(
	ctx context.Context,
	id uuid.UUID,
	fn func(payout *models.Payout) error,
) (*models.Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback payout transaction", "payout_id", id, "error", err)
		}
	}()

	var payout models.Payout
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &payout, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to lock payout: %w", err)
	}

	if err := fn(&payout); err != nil {
		return nil, err
	}

	update := `
		UPDATE payout SET
			damage_percentage = :damage_percentage,
			payout_amount = :payout_amount,
			status = :status,
			failure_reason = :failure_reason,
			retry_count = :retry_count,
			settlement_reference = :settlement_reference,
			updated_at = :updated_at,
			processed_at = :processed_at
		WHERE id = :id`

	if err := utils.NamedExecWithCheck(ctx, tx, update, utils.ExecUpdate, &payout); err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payout transaction: %w", err)
	}

	return &payout, nil
}

const batchColumns = `id, payout_ids, total_amount, status, success_count, failed_count, created_at, processed_at`

func (r *PayoutRepository) CreateBatch(ctx context.Context, batch *models.PayoutBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}

	query := `
		INSERT INTO payout_batch (` + batchColumns + `) VALUES (
			:id, :payout_ids, :total_amount, :status, :success_count, :failed_count, :created_at, :processed_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("failed to create payout batch: %w", err)
	}

	return nil
}

func (r *PayoutRepository) GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	query := `SELECT ` + batchColumns + ` FROM payout_batch WHERE id = $1`

	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payout batch: %w", err)
	}

	return &batch, nil
}

func (r *PayoutRepository) MutateBatch(
	ctx context.Context,
	id uuid.UUID,
	fn func(batch *models.PayoutBatch) error,
) (*models.PayoutBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback payout batch transaction", "batch_id", id, "error", err)
		}
	}()

	var batch models.PayoutBatch
	query := `SELECT ` + batchColumns + ` FROM payout_batch WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &batch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to lock payout batch: %w", err)
	}

	if err := fn(&batch); err != nil {
		return nil, err
	}

	update := `
		UPDATE payout_batch SET
			status = :status,
			success_count = :success_count,
			failed_count = :failed_count,
			processed_at = :processed_at
		WHERE id = :id`

	if err := utils.NamedExecWithCheck(ctx, tx, update, utils.ExecUpdate, &batch); err != nil {
		return nil, fmt.Errorf("failed to update payout batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payout batch transaction: %w", err)
	}

	return &batch, nil
}

func (r *PayoutRepository) UpdateBatch(ctx context.Context, batch *models.PayoutBatch) error {
	query := `
		UPDATE payout_batch SET
			status = :status,
			success_count = :success_count,
			failed_count = :failed_count,
			processed_at = :processed_at
		WHERE id = :id`

	if err := utils.NamedExecWithCheck(ctx, r.db, query, utils.ExecUpdate, batch); err != nil {
		if errors.Is(err, utils.ErrNoRowsAffected) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to update payout batch: %w", err)
	}

	return nil
}
