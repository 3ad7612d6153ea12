package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/modules/observations"
)

// priceValidity is how long a quote stays actionable before the caller must
// re-quote.
const priceValidity = 15 * time.Minute

// Continental US centroid, used when a cell has no catalogued station to
// anchor the forecast location.
const (
	fallbackLat = 39.8283
	fallbackLng = -98.5795
)

// Quote is everything a platform needs to make an automated hedging decision.
type Quote struct {
	H3Index             string     `json:"h3_index"`
	RiskType            RiskType   `json:"risk_type"`
	RiskProbability     float64    `json:"risk_probability"`
	ConfidenceInterval  [2]float64 `json:"confidence_interval"`
	SuggestedPremiumUSD float64    `json:"suggested_premium_usd"`
	ForecastSource      string     `json:"forecast_source"`
	PricingModel        string     `json:"pricing_model"`
	ValidUntil          time.Time  `json:"valid_until"`
}

// Service quotes premiums by combining forecast exceedance probabilities
// with the LMSR fill cost.
type Service struct {
	forecast  *ForecastClient
	catalogue *observations.Catalogue
	b         float64
	loading   float64
	notional  float64
	log       zerolog.Logger
}

// NewService creates a pricing service.
func NewService(forecast *ForecastClient, catalogue *observations.Catalogue, b, loading, notional float64, log zerolog.Logger) *Service {
	return &Service{
		forecast:  forecast,
		catalogue: catalogue,
		b:         b,
		loading:   loading,
		notional:  notional,
		log:       log.With().Str("service", "pricing").Logger(),
	}
}

// QuoteRisk prices a risk type for a cell and window.
func (s *Service) QuoteRisk(ctx context.Context, cell string, riskType RiskType, start, end time.Time) (Quote, error) {
	if !end.After(start) {
		return Quote{}, fmt.Errorf("risk window end must be after start")
	}
	if end.Sub(start) > 168*time.Hour {
		return Quote{}, fmt.Errorf("maximum risk window is 168 hours")
	}

	lat, lng := s.cellLocation(cell)
	estimate := s.forecast.RiskForecast(ctx, lat, lng, riskType, start, end)
	premium := Premium(estimate.Probability, s.notional, s.b, s.loading)

	s.log.Debug().
		Str("cell", cell).
		Str("risk_type", string(riskType)).
		Float64("probability", estimate.Probability).
		Float64("premium_usd", premium).
		Str("source", estimate.Source).
		Msg("Quoted risk")

	return Quote{
		H3Index:             cell,
		RiskType:            riskType,
		RiskProbability:     round4(estimate.Probability),
		ConfidenceInterval:  [2]float64{round4(estimate.ConfidenceLower), round4(estimate.ConfidenceUpper)},
		SuggestedPremiumUSD: premium,
		ForecastSource:      estimate.Source,
		PricingModel:        "lmsr_v1",
		ValidUntil:          time.Now().UTC().Add(priceValidity),
	}, nil
}

// cellLocation anchors a cell to coordinates using its catalogued stations.
func (s *Service) cellLocation(cell string) (float64, float64) {
	stations := s.catalogue.StationsInCell(cell)
	if len(stations) == 0 {
		return fallbackLat, fallbackLng
	}
	var lat, lng float64
	for _, st := range stations {
		lat += st.Latitude
		lng += st.Longitude
	}
	n := float64(len(stations))
	return lat / n, lng / n
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
