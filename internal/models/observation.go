package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// OBSERVATIONS (WEATHER + VEGETATION SUBMISSIONS)
// ============================================================================

// WeatherData values are fixed-point: rainfall in mm×100, temperatures in °C×100.
type WeatherData struct {
	Rainfall       int64 `json:"rainfall"`
	AvgTemperature int64 `json:"avg_temperature"`
	MaxTemperature int64 `json:"max_temperature"`
	DryDays        int64 `json:"dry_days"`
	FloodDays      int64 `json:"flood_days"`
	HeatStressDays int64 `json:"heat_stress_days"`
}

// VegetationData indices use a 0–10000 scale (NDVI×10000); trend is signed.
type VegetationData struct {
	AvgIndex      int64 `json:"avg_index"`
	MinIndex      int64 `json:"min_index"`
	Trend         int64 `json:"trend"`
	BaselineIndex int64 `json:"baseline_index"`
}

type Observation struct {
	ID                uuid.UUID         `json:"id"`
	ReporterID        string            `json:"reporter_id"`
	SubjectID         string            `json:"subject_id"`
	Kind              ObservationKind   `json:"kind"`
	WindowStart       time.Time         `json:"window_start"`
	RecordedAt        time.Time         `json:"recorded_at"`
	SubmittedAt       time.Time         `json:"submitted_at"`
	Status            ObservationStatus `json:"status"`
	Verifiers         []string          `json:"verifiers"`
	VerificationCount int               `json:"verification_count"`
	StatusReason      *string           `json:"status_reason,omitempty"`
	Weather           *WeatherData      `json:"weather,omitempty"`
	Vegetation        *VegetationData   `json:"vegetation,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// WindowOf buckets an occurrence time into its UTC day window.
func WindowOf(recordedAt time.Time) time.Time {
	return recordedAt.UTC().Truncate(24 * time.Hour)
}

// HasVerifier reports whether verifierID already confirmed this submission.
func (o *Observation) HasVerifier(verifierID string) bool {
	for _, v := range o.Verifiers {
		if v == verifierID {
			return true
		}
	}
	return false
}

func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	c.Verifiers = append([]string(nil), o.Verifiers...)
	if o.Weather != nil {
		w := *o.Weather
		c.Weather = &w
	}
	if o.Vegetation != nil {
		v := *o.Vegetation
		c.Vegetation = &v
	}
	if o.StatusReason != nil {
		r := *o.StatusReason
		c.StatusReason = &r
	}
	return &c
}
