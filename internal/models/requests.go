package models

import "time"

type RegisterProviderRequest struct {
	Stake int64 `json:"stake"`
}

type StakeRequest struct {
	Amount int64 `json:"amount"`
}

type SlashRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type SubmitObservationRequest struct {
	SubjectID  string          `json:"subject_id"`
	Kind       ObservationKind `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Weather    *WeatherData    `json:"weather,omitempty"`
	Vegetation *VegetationData `json:"vegetation,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type InitiatePayoutRequest struct {
	PolicyID string `json:"policy_id"`
}

type ConfirmPayoutRequest struct {
	SettlementReference string `json:"settlement_reference"`
}

type CreateBatchRequest struct {
	PayoutIDs []string `json:"payout_ids"`
}
