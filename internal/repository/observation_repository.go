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
	"github.com/lib/pq"
)

type ObservationRepository struct {
	db *sqlx.DB
}

func NewObservationRepository(db *sqlx.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// observationRow is the flattened table shape; exactly one payload group is non-null.
type observationRow struct {
	ID                uuid.UUID                `db:"id"`
	ReporterID        string                   `db:"reporter_id"`
	SubjectID         string                   `db:"subject_id"`
	Kind              models.ObservationKind   `db:"kind"`
	WindowStart       time.Time                `db:"window_start"`
	RecordedAt        time.Time                `db:"recorded_at"`
	SubmittedAt       time.Time                `db:"submitted_at"`
	Status            models.ObservationStatus `db:"status"`
	Verifiers         pq.StringArray           `db:"verifiers"`
	VerificationCount int                      `db:"verification_count"`
	StatusReason      *string                  `db:"status_reason"`
	Rainfall          *int64                   `db:"rainfall"`
	AvgTemperature    *int64                   `db:"avg_temperature"`
	MaxTemperature    *int64                   `db:"max_temperature"`
	DryDays           *int64                   `db:"dry_days"`
	FloodDays         *int64                   `db:"flood_days"`
	HeatStressDays    *int64                   `db:"heat_stress_days"`
	AvgIndex          *int64                   `db:"avg_index"`
	MinIndex          *int64                   `db:"min_index"`
	Trend             *int64                   `db:"trend"`
	BaselineIndex     *int64                   `db:"baseline_index"`
	UpdatedAt         time.Time                `db:"updated_at"`
}

const observationColumns = `id, reporter_id, subject_id, kind, window_start, recorded_at, submitted_at,
	status, verifiers, verification_count, status_reason,
	rainfall, avg_temperature, max_temperature, dry_days, flood_days, heat_stress_days,
	avg_index, min_index, trend, baseline_index, updated_at`

func toObservationRow(o *models.Observation) observationRow {
	row := observationRow{
		ID:                o.ID,
		ReporterID:        o.ReporterID,
		SubjectID:         o.SubjectID,
		Kind:              o.Kind,
		WindowStart:       o.WindowStart,
		RecordedAt:        o.RecordedAt,
		SubmittedAt:       o.SubmittedAt,
		Status:            o.Status,
		Verifiers:         pq.StringArray(o.Verifiers),
		VerificationCount: o.VerificationCount,
		StatusReason:      o.StatusReason,
		UpdatedAt:         o.UpdatedAt,
	}
	if row.Verifiers == nil {
		row.Verifiers = pq.StringArray{}
	}
	if w := o.Weather; w != nil {
		row.Rainfall = &w.Rainfall
		row.AvgTemperature = &w.AvgTemperature
		row.MaxTemperature = &w.MaxTemperature
		row.DryDays = &w.DryDays
		row.FloodDays = &w.FloodDays
		row.HeatStressDays = &w.HeatStressDays
	}
	if v := o.Vegetation; v != nil {
		row.AvgIndex = &v.AvgIndex
		row.MinIndex = &v.MinIndex
		row.Trend = &v.Trend
		row.BaselineIndex = &v.BaselineIndex
	}
	return row
}

func (row *observationRow) toModel() *models.Observation {
	o := &models.Observation{
		ID:                row.ID,
		ReporterID:        row.ReporterID,
		SubjectID:         row.SubjectID,
		Kind:              row.Kind,
		WindowStart:       row.WindowStart,
		RecordedAt:        row.RecordedAt,
		SubmittedAt:       row.SubmittedAt,
		Status:            row.Status,
		Verifiers:         []string(row.Verifiers),
		VerificationCount: row.VerificationCount,
		StatusReason:      row.StatusReason,
		UpdatedAt:         row.UpdatedAt,
	}
	switch row.Kind {
	case models.ObservationWeather:
		o.Weather = &models.WeatherData{
			Rainfall:       deref(row.Rainfall),
			AvgTemperature: deref(row.AvgTemperature),
			MaxTemperature: deref(row.MaxTemperature),
			DryDays:        deref(row.DryDays),
			FloodDays:      deref(row.FloodDays),
			HeatStressDays: deref(row.HeatStressDays),
		}
	case models.ObservationVegetation:
		o.Vegetation = &models.VegetationData{
			AvgIndex:      deref(row.AvgIndex),
			MinIndex:      deref(row.MinIndex),
			Trend:         deref(row.Trend),
			BaselineIndex: deref(row.BaselineIndex),
		}
	}
	return o
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func (r *ObservationRepository) CreateObservation(ctx context.Context, obs *models.Observation) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}

	query := `
		INSERT INTO observation (` + observationColumns + `) VALUES (
			:id, :reporter_id, :subject_id, :kind, :window_start, :recorded_at, :submitted_at,
			:status, :verifiers, :verification_count, :status_reason,
			:rainfall, :avg_temperature, :max_temperature, :dry_days, :flood_days, :heat_stress_days,
			:avg_index, :min_index, :trend, :baseline_index, :updated_at
		)`

	row := toObservationRow(obs)
	if _, err := r.db.NamedExecContext(ctx, query, &row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create observation: %w", err)
	}

	return nil
}

func (r *ObservationRepository) GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error) {
	var row observationRow
	query := `SELECT ` + observationColumns + ` FROM observation WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	return row.toModel(), nil
}

func (r *ObservationRepository) MutateObservation(
	ctx context.Context,
	id uuid.UUID,
	fn func(obs *models.Observation) error,
) (*models.Observation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback observation transaction", "observation_id", id, "error", err)
		}
	}()

	var row observationRow
	query := `SELECT ` + observationColumns + ` FROM observation WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to lock observation: %w", err)
	}

	obs := row.toModel()
	if err := fn(obs); err != nil {
		return nil, err
	}

	update := `
		UPDATE observation SET
			status = :status,
			verifiers = :verifiers,
			verification_count = :verification_count,
			status_reason = :status_reason,
			updated_at = :updated_at
		WHERE id = :id`

	updated := toObservationRow(obs)
	if err := utils.NamedExecWithCheck(ctx, tx, update, utils.ExecUpdate, &updated); err != nil {
		return nil, fmt.Errorf("failed to update observation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit observation transaction: %w", err)
	}

	return obs, nil
}

func (r *ObservationRepository) ListObservationsBySubject(
	ctx context.Context,
	subjectID string,
	kind models.ObservationKind,
) ([]models.Observation, error) {
	var rows []observationRow
	query := `SELECT ` + observationColumns + ` FROM observation WHERE subject_id = $1`
	args := []any{subjectID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY window_start DESC, submitted_at DESC`

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	observations := make([]models.Observation, 0, len(rows))
	for i := range rows {
		observations = append(observations, *rows[i].toModel())
	}
	return observations, nil
}

func (r *ObservationRepository) LatestVerifiedObservation(
	ctx context.Context,
	subjectID string,
	kind models.ObservationKind,
) (*models.Observation, error) {
	var row observationRow
	query := `
		SELECT ` + observationColumns + ` FROM observation
		WHERE subject_id = $1 AND kind = $2 AND status = $3
		ORDER BY window_start DESC, submitted_at DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, subjectID, kind, models.ObservationVerified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get latest verified observation: %w", err)
	}

	return row.toModel(), nil
}
