package event

import (
	"time"

	"github.com/google/uuid"
)

const (
	PayoutRequestsQueue   = "payout_requests"
	PayoutStatusQueue     = "payout_status_queries"
	SettlementEventsQueue = "payout_settlement_events"
	DamageReportsQueue    = "damage_reports"
)

// Queues are declared durable on connect.
var Queues = []string{
	PayoutRequestsQueue,
	PayoutStatusQueue,
	SettlementEventsQueue,
	DamageReportsQueue,
}

// Settlement outcomes reported by the payment rail.
const (
	SettlementCompleted = "completed"
	SettlementFailed    = "failed"
)

// SettlementEvent is the payment rail's answer to a payout request.
type SettlementEvent struct {
	PayoutID  uuid.UUID `json:"payout_id"`
	Status    string    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SettledAt time.Time `json:"settled_at"`
}

// PayoutStatusQuery asks the rail to re-send the outcome of a payout.
type PayoutStatusQuery struct {
	PayoutID        uuid.UUID `json:"payout_id"`
	PolicyID        string    `json:"policy_id"`
	ProcessingSince time.Time `json:"processing_since"`
	RequestedAt     time.Time `json:"requested_at"`
}
