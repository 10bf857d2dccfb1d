package services

import (
	"testing"

	"oracle-service/internal/models"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

func testThresholds() models.Thresholds {
	return models.Thresholds{
		DroughtRainfall: 30000,
		DroughtDays:     14,
		FloodHours:      48,
		HeatTemperature: 3500,
		HeatDays:        3,
	}
}

// ============================================================================
// TEST SUITE 1: WORKED SCENARIOS
// ============================================================================

func TestAssess_BelowDeductible(t *testing.T) {
	engine := NewDamageEngine()

	weather := models.WeatherData{Rainfall: 25000, DryDays: 20, MaxTemperature: 3000, AvgTemperature: 2500}
	vegetation := models.VegetationData{AvgIndex: 5500, MinIndex: 4500, BaselineIndex: 7500, Trend: -1500}

	result := engine.Assess(weather, vegetation, testThresholds(), 1000)

	assert.Equal(t, int64(2100), result.WeatherComponent)
	assert.Equal(t, int64(2100), result.DroughtScore)
	assert.Equal(t, int64(2700), result.VegetationComponent)
	assert.Equal(t, int64(2340), result.DamagePercentage)
	assert.Equal(t, int64(0), result.PayoutAmount)
}

func TestCombineAndPayout_AboveDeductible(t *testing.T) {
	engine := NewDamageEngine()

	combined := engine.CombineScores(6000, 5000)
	assert.Equal(t, int64(5600), combined)
	assert.Equal(t, int64(371), engine.CalculatePayout(combined, 1000), "1000*(5600-3000)/7000 truncates to 371")
}

// ============================================================================
// TEST SUITE 2: PERIL SCORES
// ============================================================================

func TestDroughtScore(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	tests := []struct {
		name    string
		weather models.WeatherData
		want    int64
	}{
		{"enough rain and few dry days", models.WeatherData{Rainfall: 30000, DryDays: 5}, 0},
		{"severe deficit", models.WeatherData{Rainfall: 10000, DryDays: 14}, 7000},
		{"moderate deficit", models.WeatherData{Rainfall: 20000, DryDays: 14}, 3500},
		{"mild deficit", models.WeatherData{Rainfall: 28000, DryDays: 14}, 1500},
		{"dry days alone with enough rain", models.WeatherData{Rainfall: 40000, DryDays: 16}, 1700},
		{"duration bonus capped", models.WeatherData{Rainfall: 0, DryDays: 200}, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.DroughtScore(tt.weather, th))
		})
	}
}

func TestDroughtScore_ZeroThresholdHasNoDeficit(t *testing.T) {
	engine := NewDamageEngine()
	th := models.Thresholds{DroughtRainfall: 0, DroughtDays: 10}

	assert.Equal(t, int64(1500), engine.DroughtScore(models.WeatherData{Rainfall: 0, DryDays: 10}, th))
}

func TestFloodScore(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	assert.Equal(t, int64(0), engine.FloodScore(models.WeatherData{FloodDays: 1}, th), "24h is below the 48h threshold")
	assert.Equal(t, int64(3000), engine.FloodScore(models.WeatherData{FloodDays: 2}, th))
	assert.Equal(t, int64(3000), engine.FloodScore(models.WeatherData{FloodDays: 3}, th))
	assert.Equal(t, int64(6000), engine.FloodScore(models.WeatherData{FloodDays: 5}, th))
	assert.Equal(t, int64(9000), engine.FloodScore(models.WeatherData{FloodDays: 10}, th))
}

func TestFloodScore_ZeroHoursNeverScores(t *testing.T) {
	engine := NewDamageEngine()
	th := models.Thresholds{FloodHours: 0}

	assert.Equal(t, int64(0), engine.FloodScore(models.WeatherData{FloodDays: 0}, th))
	assert.False(t, engine.IsTriggered(models.WeatherData{FloodDays: 0, Rainfall: 50000}, models.Thresholds{DroughtRainfall: 100, FloodHours: 0, HeatTemperature: 9000}))
}

func TestHeatScore(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	assert.Equal(t, int64(0), engine.HeatScore(models.WeatherData{MaxTemperature: 3400, HeatStressDays: 4}, th))
	assert.Equal(t, int64(0), engine.HeatScore(models.WeatherData{MaxTemperature: 4200, HeatStressDays: 0}, th))
	assert.Equal(t, int64(2000), engine.HeatScore(models.WeatherData{MaxTemperature: 3600, HeatStressDays: 1}, th))
	assert.Equal(t, int64(4000), engine.HeatScore(models.WeatherData{MaxTemperature: 3800, HeatStressDays: 2}, th))
	assert.Equal(t, int64(7500), engine.HeatScore(models.WeatherData{MaxTemperature: 4100, HeatStressDays: 9}, th))
}

func TestWeatherScore_TakesWorstPeril(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	weather := models.WeatherData{Rainfall: 28000, DryDays: 14, FloodDays: 10, MaxTemperature: 3000}
	assert.Equal(t, int64(9000), engine.WeatherScore(weather, th))
}

func TestVegetationScore(t *testing.T) {
	engine := NewDamageEngine()

	assert.Equal(t, int64(0), engine.VegetationScore(models.VegetationData{AvgIndex: 8000, MinIndex: 7600, BaselineIndex: 7500, Trend: 300}))
	assert.Equal(t, int64(0), engine.VegetationScore(models.VegetationData{AvgIndex: 100, MinIndex: 50, BaselineIndex: 0}))
	assert.Equal(t, int64(10000), engine.VegetationScore(models.VegetationData{AvgIndex: 0, MinIndex: 0, BaselineIndex: 7500, Trend: -10000}))
}

// ============================================================================
// TEST SUITE 3: TRIGGER VS MAGNITUDE
// ============================================================================

func TestIsTriggered_IndependentOfPayout(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	weather := models.WeatherData{Rainfall: 29000, DryDays: 14}
	assert.True(t, engine.IsTriggered(weather, th))

	result := engine.Assess(weather, models.VegetationData{AvgIndex: 7500, MinIndex: 7500, BaselineIndex: 7500}, th, 1000)
	assert.Equal(t, int64(0), result.PayoutAmount, "a triggered policy can still assess to zero payout")
}

func TestIsTriggered_Perils(t *testing.T) {
	engine := NewDamageEngine()
	th := testThresholds()

	assert.False(t, engine.IsTriggered(models.WeatherData{Rainfall: 40000, DryDays: 3, MaxTemperature: 3000}, th))
	assert.True(t, engine.IsTriggered(models.WeatherData{Rainfall: 40000, FloodDays: 2}, th))
	assert.True(t, engine.IsTriggered(models.WeatherData{Rainfall: 40000, MaxTemperature: 3500, HeatStressDays: 3}, th))
	assert.False(t, engine.IsTriggered(models.WeatherData{Rainfall: 40000, MaxTemperature: 3500, HeatStressDays: 2}, th))
}

// ============================================================================
// TEST SUITE 4: PAYOUT CURVE
// ============================================================================

func TestCalculatePayout(t *testing.T) {
	engine := NewDamageEngine()

	assert.Equal(t, int64(0), engine.CalculatePayout(2999, 1_000_000))
	assert.Equal(t, int64(0), engine.CalculatePayout(3000, 1_000_000))
	assert.Equal(t, int64(1_000_000), engine.CalculatePayout(10000, 1_000_000))
	assert.Equal(t, int64(0), engine.CalculatePayout(8000, 0))
}

func TestCalculatePayout_LargeSumInsuredDoesNotOverflow(t *testing.T) {
	engine := NewDamageEngine()

	const sumInsured = int64(9_000_000_000_000_000)
	assert.Equal(t, sumInsured, engine.CalculatePayout(BasisPoints, sumInsured))
	assert.LessOrEqual(t, engine.CalculatePayout(9999, sumInsured), sumInsured)
}
