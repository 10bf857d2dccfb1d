package repository

import (
	"context"
	"errors"
	"time"

	"oracle-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
)

// Mutate functions run while the row is locked. Returning an error aborts the
// change and leaves the stored row untouched.

type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]models.Provider, error)
	// MutateProvider passes nil to fn when the provider does not exist yet.
	MutateProvider(ctx context.Context, id string, fn func(current *models.Provider) (*models.Provider, error)) (*models.Provider, error)
	// SlashProvider is MutateProvider that also stores record in the same
	// transaction; fn fills in the record while the provider row is locked.
	SlashProvider(ctx context.Context, id string, record *models.SlashRecord, fn func(current *models.Provider) (*models.Provider, error)) (*models.Provider, error)
	ListSlashRecords(ctx context.Context, providerID string) ([]models.SlashRecord, error)
}

type ObservationStore interface {
	CreateObservation(ctx context.Context, obs *models.Observation) error
	GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error)
	MutateObservation(ctx context.Context, id uuid.UUID, fn func(obs *models.Observation) error) (*models.Observation, error)
	// ListObservationsBySubject returns newest window first. An empty kind matches both kinds.
	ListObservationsBySubject(ctx context.Context, subjectID string, kind models.ObservationKind) ([]models.Observation, error)
	LatestVerifiedObservation(ctx context.Context, subjectID string, kind models.ObservationKind) (*models.Observation, error)
}

type AssessmentStore interface {
	GetAssessment(ctx context.Context, policyID string) (*models.DamageAssessment, error)
	CreateAssessment(ctx context.Context, assessment *models.DamageAssessment) error
	ReplaceAssessment(ctx context.Context, assessment *models.DamageAssessment) error
}

type ReportStore interface {
	GetReport(ctx context.Context, policyID string) (*models.OffchainReport, error)
	CreateReport(ctx context.Context, report *models.OffchainReport) error
}

type PayoutStore interface {
	CreatePayout(ctx context.Context, payout *models.Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListPayoutsByPolicy(ctx context.Context, policyID string) ([]models.Payout, error)
	// ActivePayoutForPolicy returns the payout for policyID that is not rejected.
	ActivePayoutForPolicy(ctx context.Context, policyID string) (*models.Payout, error)
	ListPayoutsByStatusBefore(ctx context.Context, status models.PayoutStatus, before time.Time) ([]models.Payout, error)
	MutatePayout(ctx context.Context, id uuid.UUID, fn func(payout *models.Payout) error) (*models.Payout, error)

	CreateBatch(ctx context.Context, batch *models.PayoutBatch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	MutateBatch(ctx context.Context, id uuid.UUID, fn func(batch *models.PayoutBatch) error) (*models.PayoutBatch, error)
	UpdateBatch(ctx context.Context, batch *models.PayoutBatch) error
}

// Store is everything the oracle persists.
type Store interface {
	ProviderStore
	ObservationStore
	AssessmentStore
	ReportStore
	PayoutStore
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// PostgresStore is the sqlx-backed Store.
type PostgresStore struct {
	*ProviderRepository
	*ObservationRepository
	*AssessmentRepository
	*PayoutRepository
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		ProviderRepository:    NewProviderRepository(db),
		ObservationRepository: NewObservationRepository(db),
		AssessmentRepository:  NewAssessmentRepository(db),
		PayoutRepository:      NewPayoutRepository(db),
	}
}
