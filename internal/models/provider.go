package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// DATA PROVIDERS (STAKED REPORTERS)
// ============================================================================

const (
	ReputationMin     int64 = 0
	ReputationMax     int64 = 10000
	ReputationNeutral int64 = 5000
)

type Provider struct {
	ID              string    `json:"id" db:"id"`
	Active          bool      `json:"active" db:"active"`
	Stake           int64     `json:"stake" db:"stake"`
	Reputation      int64     `json:"reputation" db:"reputation"`
	SubmissionCount int64     `json:"submission_count" db:"submission_count"`
	VerifiedCount   int64     `json:"verified_count" db:"verified_count"`
	RegisteredAt    time.Time `json:"registered_at" db:"registered_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type SlashRecord struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ProviderID  string    `json:"provider_id" db:"provider_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Reason      string    `json:"reason" db:"reason"`
	StakeAfter  int64     `json:"stake_after" db:"stake_after"`
	Deactivated bool      `json:"deactivated" db:"deactivated"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
