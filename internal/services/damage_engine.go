package services

import (
	"math/big"

	"oracle-service/internal/models"
)

// All scores are basis points: 10000 = 100%.
const (
	BasisPoints      int64 = 10000
	WeatherWeight    int64 = 6000
	VegetationWeight int64 = 4000
	DeductibleBps    int64 = 3000

	droughtSevereDeficit   int64 = 5000
	droughtModerateDeficit int64 = 2500
	droughtSevereScore     int64 = 7000
	droughtModerateScore   int64 = 3500
	droughtMildScore       int64 = 1500
	droughtPerExtraDay     int64 = 100
	droughtDurationCap     int64 = 3000

	floodShortExcessHours  int64 = 24
	floodMediumExcessHours int64 = 72
	floodShortScore        int64 = 3000
	floodMediumScore       int64 = 6000
	floodLongScore         int64 = 9000

	heatSevereExcess   int64 = 500 // 5°C in °C×100
	heatModerateExcess int64 = 300
	heatSevereScore    int64 = 5000
	heatModerateScore  int64 = 3000
	heatMildScore      int64 = 1500
	heatPerStressDay   int64 = 500
	heatDurationCap    int64 = 2500

	vegetationAverageWeight int64 = 6000
	vegetationMinimumWeight int64 = 2000
	vegetationTrendCap      int64 = 2000
)

// DamageResult is the full output of one assessment, including the per-peril
// scores the weather component was taken from.
type DamageResult struct {
	DamagePercentage    int64 `json:"damage_percentage"`
	WeatherComponent    int64 `json:"weather_component"`
	VegetationComponent int64 `json:"vegetation_component"`
	PayoutAmount        int64 `json:"payout_amount"`
	DroughtScore        int64 `json:"drought_score"`
	FloodScore          int64 `json:"flood_score"`
	HeatScore           int64 `json:"heat_score"`
}

// DamageEngine converts verified observations into a damage score and payout.
// It holds no state; identical inputs always produce identical results.
type DamageEngine struct{}

func NewDamageEngine() *DamageEngine {
	return &DamageEngine{}
}

// Assess scores weather and vegetation, combines them 60/40 and applies the
// payout curve to sumInsured.
func (e *DamageEngine) Assess(
	weather models.WeatherData,
	vegetation models.VegetationData,
	thresholds models.Thresholds,
	sumInsured int64,
) DamageResult {
	drought := e.DroughtScore(weather, thresholds)
	flood := e.FloodScore(weather, thresholds)
	heat := e.HeatScore(weather, thresholds)

	weatherScore := max(drought, flood, heat)
	vegetationScore := e.VegetationScore(vegetation)
	damage := e.CombineScores(weatherScore, vegetationScore)

	return DamageResult{
		DamagePercentage:    damage,
		WeatherComponent:    weatherScore,
		VegetationComponent: vegetationScore,
		PayoutAmount:        e.CalculatePayout(damage, sumInsured),
		DroughtScore:        drought,
		FloodScore:          flood,
		HeatScore:           heat,
	}
}

// WeatherScore is the worst single peril; perils are never summed.
func (e *DamageEngine) WeatherScore(weather models.WeatherData, thresholds models.Thresholds) int64 {
	return max(
		e.DroughtScore(weather, thresholds),
		e.FloodScore(weather, thresholds),
		e.HeatScore(weather, thresholds),
	)
}

func (e *DamageEngine) DroughtScore(weather models.WeatherData, thresholds models.Thresholds) int64 {
	if weather.Rainfall >= thresholds.DroughtRainfall && weather.DryDays < thresholds.DroughtDays {
		return 0
	}

	var deficit int64
	if thresholds.DroughtRainfall > 0 && weather.Rainfall < thresholds.DroughtRainfall {
		deficit = (thresholds.DroughtRainfall - weather.Rainfall) * BasisPoints / thresholds.DroughtRainfall
	}

	var score int64
	switch {
	case deficit >= droughtSevereDeficit:
		score = droughtSevereScore
	case deficit >= droughtModerateDeficit:
		score = droughtModerateScore
	default:
		score = droughtMildScore
	}

	if extraDays := weather.DryDays - thresholds.DroughtDays; extraDays > 0 {
		score += min(extraDays*droughtPerExtraDay, droughtDurationCap)
	}

	return min(score, BasisPoints)
}

func (e *DamageEngine) FloodScore(weather models.WeatherData, thresholds models.Thresholds) int64 {
	floodHours := weather.FloodDays * 24
	if floodHours == 0 || floodHours < thresholds.FloodHours {
		return 0
	}

	excess := floodHours - thresholds.FloodHours
	switch {
	case excess <= floodShortExcessHours:
		return floodShortScore
	case excess <= floodMediumExcessHours:
		return floodMediumScore
	default:
		return floodLongScore
	}
}

func (e *DamageEngine) HeatScore(weather models.WeatherData, thresholds models.Thresholds) int64 {
	if weather.MaxTemperature < thresholds.HeatTemperature || weather.HeatStressDays == 0 {
		return 0
	}

	var score int64
	excess := weather.MaxTemperature - thresholds.HeatTemperature
	switch {
	case excess >= heatSevereExcess:
		score = heatSevereScore
	case excess >= heatModerateExcess:
		score = heatModerateScore
	default:
		score = heatMildScore
	}

	score += min(weather.HeatStressDays*heatPerStressDay, heatDurationCap)
	return min(score, BasisPoints)
}

// VegetationScore weighs average-index decline at 60%, minimum-index decline
// at 20% and a negative trend at up to 20%. Declines are relative to baseline.
func (e *DamageEngine) VegetationScore(vegetation models.VegetationData) int64 {
	if vegetation.BaselineIndex <= 0 {
		return 0
	}

	var score int64
	if decline := vegetation.BaselineIndex - vegetation.AvgIndex; decline > 0 {
		score += decline * vegetationAverageWeight / vegetation.BaselineIndex
	}
	if decline := vegetation.BaselineIndex - vegetation.MinIndex; decline > 0 {
		score += decline * vegetationMinimumWeight / vegetation.BaselineIndex
	}
	if vegetation.Trend < 0 {
		magnitude := min(-vegetation.Trend, BasisPoints)
		score += magnitude * vegetationTrendCap / BasisPoints
	}

	return min(score, BasisPoints)
}

// CombineScores applies the fixed 60/40 weighting, rounding half up.
func (e *DamageEngine) CombineScores(weatherScore, vegetationScore int64) int64 {
	weighted := weatherScore*WeatherWeight + vegetationScore*VegetationWeight
	combined := (weighted + BasisPoints/2) / BasisPoints
	return min(max(combined, 0), BasisPoints)
}

// CalculatePayout applies the 30% deductible and scales linearly to the full
// sum insured at 100% damage. Division truncates so the payout never rounds up.
func (e *DamageEngine) CalculatePayout(damage, sumInsured int64) int64 {
	if damage < DeductibleBps || sumInsured <= 0 {
		return 0
	}
	damage = min(damage, BasisPoints)

	amount := new(big.Int).Mul(big.NewInt(sumInsured), big.NewInt(damage-DeductibleBps))
	amount.Quo(amount, big.NewInt(BasisPoints-DeductibleBps))
	return amount.Int64()
}

// IsTriggered is the eligibility check: any single peril crossing its policy
// threshold triggers, independent of how large the resulting damage is.
func (e *DamageEngine) IsTriggered(weather models.WeatherData, thresholds models.Thresholds) bool {
	drought := weather.Rainfall < thresholds.DroughtRainfall && weather.DryDays >= thresholds.DroughtDays
	floodHours := weather.FloodDays * 24
	flood := floodHours > 0 && floodHours >= thresholds.FloodHours
	heat := weather.MaxTemperature >= thresholds.HeatTemperature &&
		weather.HeatStressDays > 0 &&
		weather.HeatStressDays >= thresholds.HeatDays
	return drought || flood || heat
}
