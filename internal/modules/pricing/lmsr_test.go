package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atmx/atmx/internal/modules/contracts"
)

func TestCostMatchesClosedForm(t *testing.T) {
	b := 100.0
	got := Cost(50, 30, b)
	want := b * math.Log(math.Exp(50.0/b)+math.Exp(30.0/b))
	assert.InDelta(t, want, got, 1e-9)
}

func TestPriceIsSoftmax(t *testing.T) {
	// Equal quantities price at 0.5.
	assert.InDelta(t, 0.5, Price(0, 0, 100), 1e-12)

	// Price rises with qYes and stays in (0, 1).
	prev := 0.0
	for _, q := range []float64{-200, -50, 0, 50, 200} {
		p := Price(q, 0, 100)
		assert.Greater(t, p, prev)
		assert.Less(t, p, 1.0)
		prev = p
	}
}

func TestQuantitiesFromProbabilityRoundTrip(t *testing.T) {
	b := 100.0
	for _, p := range []float64{0.01, 0.1, 0.35, 0.5, 0.8, 0.99} {
		qYes, qNo := QuantitiesFromProbability(p, b)
		assert.Zero(t, qNo)
		assert.InDelta(t, p, Price(qYes, qNo, b), 1e-9,
			"instantaneous price must equal the seeding probability")
	}
}

func TestQuantitiesFromProbabilityClipsExtremes(t *testing.T) {
	b := 100.0

	qLow, _ := QuantitiesFromProbability(0.0, b)
	qFloor, _ := QuantitiesFromProbability(0.001, b)
	assert.InDelta(t, qFloor, qLow, 1e-9)

	qHigh, _ := QuantitiesFromProbability(1.0, b)
	qCeil, _ := QuantitiesFromProbability(0.999, b)
	assert.InDelta(t, qCeil, qHigh, 1e-9)

	assert.False(t, math.IsInf(qLow, 0))
	assert.False(t, math.IsInf(qHigh, 0))
}

func TestPremiumMonotonicInProbability(t *testing.T) {
	prev := 0.0
	for _, p := range []float64{0.05, 0.15, 0.35, 0.55, 0.75, 0.95} {
		premium := Premium(p, 10, 100, 0.10)
		assert.Greater(t, premium, prev, "premium must rise with risk probability")
		prev = premium
	}
}

func TestPremiumFloor(t *testing.T) {
	// A vanishingly unlikely event with a tiny notional still costs a cent.
	premium := Premium(0.001, 0.01, 100, 0.10)
	assert.Equal(t, 0.01, premium)
}

func TestPremiumRoundsToCents(t *testing.T) {
	premium := Premium(0.35, 10, 100, 0.10)
	cents := premium * 100
	assert.InDelta(t, math.Round(cents), cents, 1e-9)

	// Sanity band: a 35% risk on a $10 notional with 10% loading prices
	// near 0.35 * 10 * 1.1.
	assert.Greater(t, premium, 3.0)
	assert.Less(t, premium, 4.5)
}

func TestRiskTypeFor(t *testing.T) {
	tests := []struct {
		metric    contracts.Metric
		threshold float64
		want      RiskType
	}{
		{contracts.MetricPrecipitation, 25, RiskPrecipHeavy},
		{contracts.MetricPrecipitation, 6, RiskPrecipModerate},
		{contracts.MetricWindSpeed, 15, RiskWindHigh},
		{contracts.MetricWindSpeed, 30, RiskWindExtreme},
		{contracts.MetricTemperature, 0.5, RiskTempFreeze},
		{contracts.MetricTemperature, 38, RiskTempHeat},
		{contracts.MetricSnow, 150, RiskSnowHeavy},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RiskTypeFor(tc.metric, tc.threshold),
			"%s threshold %g", tc.metric, tc.threshold)
	}
}
