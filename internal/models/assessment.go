package models

import (
	"time"

	"oracle-service/pkg/utils"

	"github.com/google/uuid"
)

// ============================================================================
// POLICY TERMS (CONSUMED FROM THE POLICY SERVICE)
// ============================================================================

// Thresholds are the per-policy trigger parameters. Rainfall and temperature
// use the same fixed-point scale as WeatherData.
type Thresholds struct {
	DroughtRainfall int64 `json:"drought_rainfall"`
	DroughtDays     int64 `json:"drought_days"`
	FloodHours      int64 `json:"flood_hours"`
	HeatTemperature int64 `json:"heat_temperature"`
	HeatDays        int64 `json:"heat_days"`
}

type PolicyTerms struct {
	PolicyID    string       `json:"policy_id"`
	ExternalRef string       `json:"external_ref"`
	Status      PolicyStatus `json:"status"`
	Beneficiary string       `json:"beneficiary"`
	SubjectID   string       `json:"subject_id"`
	SumInsured  int64        `json:"sum_insured"`
	Thresholds  Thresholds   `json:"thresholds"`
}

// ============================================================================
// DAMAGE ASSESSMENT
// ============================================================================

type DamageAssessment struct {
	PolicyID                string           `json:"policy_id" db:"policy_id"`
	DamagePercentage        int64            `json:"damage_percentage" db:"damage_percentage"`
	WeatherComponent        int64            `json:"weather_component" db:"weather_component"`
	VegetationComponent     int64            `json:"vegetation_component" db:"vegetation_component"`
	PayoutAmount            int64            `json:"payout_amount" db:"payout_amount"`
	SumInsured              int64            `json:"sum_insured" db:"sum_insured"`
	Source                  AssessmentSource `json:"source" db:"source"`
	WeatherObservationID    *uuid.UUID       `json:"weather_observation_id,omitempty" db:"weather_observation_id"`
	VegetationObservationID *uuid.UUID       `json:"vegetation_observation_id,omitempty" db:"vegetation_observation_id"`
	Breakdown               utils.JSONMap    `json:"breakdown,omitempty" db:"breakdown"`
	AssessedAt              time.Time        `json:"assessed_at" db:"assessed_at"`
}

// EvidenceIDs lists the ledger submissions the assessment was computed from.
func (a *DamageAssessment) EvidenceIDs() []uuid.UUID {
	var ids []uuid.UUID
	if a.WeatherObservationID != nil {
		ids = append(ids, *a.WeatherObservationID)
	}
	if a.VegetationObservationID != nil {
		ids = append(ids, *a.VegetationObservationID)
	}
	return ids
}

// OffchainReport is a pre-verified damage report delivered by the
// authenticated report channel.
type OffchainReport struct {
	PolicyID            string    `json:"policy_id" db:"policy_id"`
	DamagePercentage    int64     `json:"damage_percentage" db:"damage_percentage"`
	WeatherComponent    int64     `json:"weather_component" db:"weather_component"`
	VegetationComponent int64     `json:"vegetation_component" db:"vegetation_component"`
	PayoutAmount        int64     `json:"payout_amount" db:"payout_amount"`
	AssessedAt          time.Time `json:"assessed_at" db:"assessed_at"`
	ReceivedAt          time.Time `json:"received_at" db:"received_at"`
}

// SameContent compares the reported figures, ignoring receipt time.
func (r *OffchainReport) SameContent(other *OffchainReport) bool {
	return r.PolicyID == other.PolicyID &&
		r.DamagePercentage == other.DamagePercentage &&
		r.WeatherComponent == other.WeatherComponent &&
		r.VegetationComponent == other.VegetationComponent &&
		r.PayoutAmount == other.PayoutAmount &&
		r.AssessedAt.Equal(other.AssessedAt)
}
