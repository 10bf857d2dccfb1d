package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oracle-service/internal/models"
	"oracle-service/pkg/utils"

	"github.com/jmoiron/sqlx"
)

type AssessmentRepository struct {
	db *sqlx.DB
}

func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

const assessmentColumns = `policy_id, damage_percentage, weather_component, vegetation_component, payout_amount,
	sum_insured, source, weather_observation_id, vegetation_observation_id, breakdown, assessed_at`

func (r *AssessmentRepository) GetAssessment(ctx context.Context, policyID string) (*models.DamageAssessment, error) {
	var assessment models.DamageAssessment
	query := `SELECT ` + assessmentColumns + ` FROM damage_assessment WHERE policy_id = $1`

	if err := r.db.GetContext(ctx, &assessment, query, policyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get damage assessment: %w", err)
	}

	return &assessment, nil
}

func (r *AssessmentRepository) CreateAssessment(ctx context.Context, assessment *models.DamageAssessment) error {
	query := `
		INSERT INTO damage_assessment (` + assessmentColumns + `) VALUES (
			:policy_id, :damage_percentage, :weather_component, :vegetation_component, :payout_amount,
			:sum_insured, :source, :weather_observation_id, :vegetation_observation_id, :breakdown, :assessed_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create damage assessment: %w", err)
	}

	return nil
}

func (r *AssessmentRepository) ReplaceAssessment(ctx context.Context, assessment *models.DamageAssessment) error {
	query := `
		UPDATE damage_assessment SET
			damage_percentage = :damage_percentage,
			weather_component = :weather_component,
			vegetation_component = :vegetation_component,
			payout_amount = :payout_amount,
			sum_insured = :sum_insured,
			source = :source,
			weather_observation_id = :weather_observation_id,
			vegetation_observation_id = :vegetation_observation_id,
			breakdown = :breakdown,
			assessed_at = :assessed_at
		WHERE policy_id = :policy_id`

	if err := utils.NamedExecWithCheck(ctx, r.db, query, utils.ExecUpdate, assessment); err != nil {
		if errors.Is(err, utils.ErrNoRowsAffected) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to replace damage assessment: %w", err)
	}

	return nil
}

func (r *AssessmentRepository) GetReport(ctx context.Context, policyID string) (*models.OffchainReport, error) {
	var report models.OffchainReport
	query := `
		SELECT policy_id, damage_percentage, weather_component, vegetation_component,
			payout_amount, assessed_at, received_at
		FROM offchain_report WHERE policy_id = $1`

	if err := r.db.GetContext(ctx, &report, query, policyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get offchain report: %w", err)
	}

	return &report, nil
}

func (r *AssessmentRepository) CreateReport(ctx context.Context, report *models.OffchainReport) error {
	query := `
		INSERT INTO offchain_report (
			policy_id, damage_percentage, weather_component, vegetation_component,
			payout_amount, assessed_at, received_at
		) VALUES (
			:policy_id, :damage_percentage, :weather_component, :vegetation_component,
			:payout_amount, :assessed_at, :received_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create offchain report: %w", err)
	}

	return nil
}
