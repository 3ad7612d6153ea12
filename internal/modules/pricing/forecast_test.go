package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/atmx/internal/modules/observations"
)

func gridFixture(start time.Time) map[string]interface{} {
	entry := func(offset time.Duration, value float64) map[string]interface{} {
		return map[string]interface{}{
			"validTime": start.Add(offset).Format(time.RFC3339) + "/PT6H",
			"value":     value,
		}
	}
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"probabilityOfPrecipitation": map[string]interface{}{
				"values": []interface{}{entry(time.Hour, 80), entry(48*time.Hour, 10)},
			},
			"quantitativePrecipitation": map[string]interface{}{
				"values": []interface{}{entry(time.Hour, 15.0)},
			},
			"windSpeed": map[string]interface{}{
				"values": []interface{}{entry(time.Hour, 90.0)}, // km/h
			},
			"temperature": map[string]interface{}{
				"values": []interface{}{entry(time.Hour, -5.0), entry(2*time.Hour, 2.0)},
			},
		},
	}
}

func newForecastFixture(t *testing.T, start time.Time) *ForecastClient {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/points/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"properties": map[string]interface{}{
				"forecastGridData": srv.URL + "/gridpoints/OKX/33,35",
			},
		})
	})
	mux.HandleFunc("/gridpoints/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gridFixture(start))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewForecastClient(srv.URL, srv.Client(), zerolog.Nop())
}

func TestRiskForecastPrecipFromGrid(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	client := newForecastFixture(t, start)

	est := client.RiskForecast(context.Background(), 40.64, -73.77, RiskPrecipHeavy, start, start.Add(24*time.Hour))

	assert.Equal(t, "nws_api", est.Source)
	// PoP 0.8 scaled by min(1, 15/12.7) = 1 → 0.8. The 48h-out entry is
	// outside the window and must not contribute.
	assert.InDelta(t, 0.8, est.Probability, 1e-9)
	assert.Less(t, est.ConfidenceLower, est.Probability)
	assert.Greater(t, est.ConfidenceUpper, est.Probability)
}

func TestRiskForecastWindFromGrid(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	client := newForecastFixture(t, start)

	est := client.RiskForecast(context.Background(), 40.64, -73.77, RiskWindHigh, start, start.Add(24*time.Hour))

	require.Equal(t, "nws_api", est.Source)
	// 90 km/h = 25 m/s against a 20 m/s threshold: well above the logistic
	// midpoint, so a high exceedance.
	assert.Greater(t, est.Probability, 0.5)
}

func TestRiskForecastFreezeFromGrid(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	client := newForecastFixture(t, start)

	est := client.RiskForecast(context.Background(), 40.64, -73.77, RiskTempFreeze, start, start.Add(24*time.Hour))

	require.Equal(t, "nws_api", est.Source)
	// Minimum forecast temperature -5°C: freeze nearly certain.
	assert.Greater(t, est.Probability, 0.9)
}

func TestRiskForecastFallsBackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewForecastClient(srv.URL, srv.Client(), zerolog.Nop())
	winter := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	est := client.RiskForecast(context.Background(), 42.36, -71.0, RiskTempFreeze, winter, winter.Add(24*time.Hour))

	assert.Equal(t, "climatological_baseline", est.Source)
	// Mid-latitude winter freeze baseline.
	assert.InDelta(t, 0.40, est.Probability, 1e-9)
}

func TestClimatologicalBaselineSeasonality(t *testing.T) {
	winter := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	summer := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	freezeWinter := climatologicalBaseline(45, RiskTempFreeze, winter)
	freezeSummer := climatologicalBaseline(45, RiskTempFreeze, summer)
	assert.Greater(t, freezeWinter.Probability, freezeSummer.Probability)

	snowTropics := climatologicalBaseline(10, RiskSnowHeavy, winter)
	snowNorth := climatologicalBaseline(55, RiskSnowHeavy, winter)
	assert.Greater(t, snowNorth.Probability, snowTropics.Probability)
}

func TestQuoteRisk(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	forecast := newForecastFixture(t, start)
	service := NewService(forecast, observations.NewDefaultCatalogue(), 100, 0.10, 10, zerolog.Nop())

	quote, err := service.QuoteRisk(context.Background(), "872a100d2ffffff", RiskPrecipHeavy, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, RiskPrecipHeavy, quote.RiskType)
	assert.InDelta(t, 0.8, quote.RiskProbability, 1e-4)
	assert.Greater(t, quote.SuggestedPremiumUSD, 0.01)
	assert.Equal(t, "lmsr_v1", quote.PricingModel)
	assert.True(t, quote.ValidUntil.After(time.Now()))
	assert.Equal(t, "nws_api", quote.ForecastSource)
}

func TestQuoteRiskWindowValidation(t *testing.T) {
	service := NewService(nil, observations.NewDefaultCatalogue(), 100, 0.10, 10, zerolog.Nop())
	start := time.Now()

	_, err := service.QuoteRisk(context.Background(), "x", RiskPrecipHeavy, start, start)
	assert.Error(t, err)

	_, err = service.QuoteRisk(context.Background(), "x", RiskPrecipHeavy, start, start.Add(200*time.Hour))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "168")
}
