package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ============================================================================
// PAYOUTS & BATCHES
// ============================================================================

type Payout struct {
	ID                  uuid.UUID    `json:"id" db:"id"`
	PolicyID            string       `json:"policy_id" db:"policy_id"`
	Beneficiary         string       `json:"beneficiary" db:"beneficiary"`
	ExternalRef         string       `json:"external_ref" db:"external_ref"`
	SumInsured          int64        `json:"sum_insured" db:"sum_insured"`
	DamagePercentage    int64        `json:"damage_percentage" db:"damage_percentage"`
	PayoutAmount        int64        `json:"payout_amount" db:"payout_amount"`
	Status              PayoutStatus `json:"status" db:"status"`
	FailureReason       *string      `json:"failure_reason,omitempty" db:"failure_reason"`
	RetryCount          int          `json:"retry_count" db:"retry_count"`
	SettlementReference *string      `json:"settlement_reference,omitempty" db:"settlement_reference"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
	ProcessedAt         *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
}

type PayoutBatch struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	PayoutIDs    pq.StringArray `json:"payout_ids" db:"payout_ids"`
	TotalAmount  int64          `json:"total_amount" db:"total_amount"`
	Status       BatchStatus    `json:"status" db:"status"`
	SuccessCount int            `json:"success_count" db:"success_count"`
	FailedCount  int            `json:"failed_count" db:"failed_count"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
}

type BatchItemResult struct {
	PayoutID uuid.UUID    `json:"payout_id"`
	Status   PayoutStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

type BatchResult struct {
	Batch        *PayoutBatch      `json:"batch"`
	SuccessCount int               `json:"success_count"`
	FailedCount  int               `json:"failed_count"`
	Items        []BatchItemResult `json:"items"`
}

// PayoutRequest is what the payment rail receives when a payout is processed.
type PayoutRequest struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	PolicyID    string    `json:"policy_id"`
	ExternalRef string    `json:"external_ref"`
	Beneficiary string    `json:"beneficiary"`
	Amount      int64     `json:"amount"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
