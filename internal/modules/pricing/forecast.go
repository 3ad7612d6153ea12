package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
)

// Estimate is an exceedance probability with confidence bounds.
type Estimate struct {
	Probability     float64 `json:"probability"`
	ConfidenceLower float64 `json:"confidence_lower"`
	ConfidenceUpper float64 `json:"confidence_upper"`
	Source          string  `json:"source"` // "nws_api" or "climatological_baseline"
}

// ForecastClient estimates exceedance probabilities from the National
// Weather Service gridpoint API, falling back to a latitude/season
// climatological baseline when the API is unreachable or has no data for the
// location.
type ForecastClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewForecastClient creates an NWS forecast client.
func NewForecastClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *ForecastClient {
	return &ForecastClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("client", "nws").Logger(),
	}
}

// RiskForecast returns the exceedance probability for a risk type at a
// location over a window. Never returns an error: every failure path falls
// back to the climatological baseline.
func (c *ForecastClient) RiskForecast(ctx context.Context, lat, lng float64, riskType RiskType, start, end time.Time) Estimate {
	est, err := c.fetchNWS(ctx, lat, lng, riskType, start, end)
	if err != nil {
		metrics.UpstreamFetchErrors.WithLabelValues("nws").Inc()
		c.log.Warn().
			Err(err).
			Float64("lat", lat).
			Float64("lng", lng).
			Msg("NWS forecast unavailable, using climatological baseline")
	}
	if est != nil {
		return *est
	}
	return climatologicalBaseline(lat, riskType, start)
}

// gridSeries mirrors the NWS gridpoint time-series shape:
// {"values": [{"validTime": "2026-03-15T12:00:00+00:00/PT6H", "value": 1.2}]}
type gridSeries struct {
	Values []struct {
		ValidTime string   `json:"validTime"`
		Value     *float64 `json:"value"`
	} `json:"values"`
}

type gridProperties struct {
	ProbabilityOfPrecipitation gridSeries `json:"probabilityOfPrecipitation"`
	QuantitativePrecipitation  gridSeries `json:"quantitativePrecipitation"`
	WindSpeed                  gridSeries `json:"windSpeed"`
	Temperature                gridSeries `json:"temperature"`
}

func (c *ForecastClient) fetchNWS(ctx context.Context, lat, lng float64, riskType RiskType, start, end time.Time) (*Estimate, error) {
	pointsURL := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lng)

	var points struct {
		Properties struct {
			ForecastGridData string `json:"forecastGridData"`
		} `json:"properties"`
	}
	if err := c.getJSON(ctx, pointsURL, &points); err != nil {
		return nil, err
	}
	if points.Properties.ForecastGridData == "" {
		return nil, fmt.Errorf("points response has no forecastGridData URL")
	}

	var grid struct {
		Properties gridProperties `json:"properties"`
	}
	if err := c.getJSON(ctx, points.Properties.ForecastGridData, &grid); err != nil {
		return nil, err
	}

	return extractProbability(grid.Properties, riskType, start, end), nil
}

func (c *ForecastClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "(atmx-risk-api, contact@atmx.dev)")
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractProbability derives an exceedance probability from gridpoint data.
// Returns nil when the grid has no usable series for the risk type, which
// sends the caller to the climatological baseline.
func extractProbability(grid gridProperties, riskType RiskType, start, end time.Time) *Estimate {
	switch riskType {
	case RiskPrecipHeavy, RiskPrecipModerate:
		pop := valuesInWindow(grid.ProbabilityOfPrecipitation, start, end)
		if len(pop) == 0 {
			return nil
		}
		maxPoP := maxOf(pop) / 100.0

		threshold := 6.35 // mm, moderate
		if riskType == RiskPrecipHeavy {
			threshold = 12.7
		}

		qpf := valuesInWindow(grid.QuantitativePrecipitation, start, end)
		var exceedance float64
		if maxQPF := maxOrZero(qpf); maxQPF > 0 {
			exceedance = maxPoP * math.Min(1.0, maxQPF/threshold)
		} else {
			exceedance = maxPoP * 0.3
		}
		return boundedEstimate(exceedance, 0.3, "nws_api")

	case RiskWindHigh, RiskWindExtreme:
		winds := valuesInWindow(grid.WindSpeed, start, end)
		if len(winds) == 0 {
			return nil
		}
		maxWindMS := maxOf(winds) / 3.6 // gridpoint wind speeds are km/h

		threshold := 20.0
		if riskType == RiskWindExtreme {
			threshold = 30.0
		}
		ratio := maxWindMS / threshold
		exceedance := 1.0 / (1.0 + math.Exp(-4.0*(ratio-0.8)))
		return boundedEstimate(exceedance, 0.25, "nws_api")

	case RiskTempFreeze, RiskTempHeat:
		temps := valuesInWindow(grid.Temperature, start, end)
		if len(temps) == 0 {
			return nil
		}
		var exceedance float64
		if riskType == RiskTempFreeze {
			exceedance = 1.0 / (1.0 + math.Exp(2.0*minOf(temps)))
		} else {
			exceedance = 1.0 / (1.0 + math.Exp(-0.5*(maxOf(temps)-38.0)))
		}
		return boundedEstimate(exceedance, 0.2, "nws_api")
	}

	// Snow has no reliable gridpoint series at most offices.
	return nil
}

// valuesInWindow extracts the numeric values whose validity start overlaps
// [start, end].
func valuesInWindow(series gridSeries, start, end time.Time) []float64 {
	var out []float64
	for _, entry := range series.Values {
		if entry.Value == nil {
			continue
		}
		// validTime is an ISO 8601 instant/duration pair; the instant is
		// enough to test window membership.
		isoPart := entry.ValidTime
		if idx := strings.Index(isoPart, "/"); idx >= 0 {
			isoPart = isoPart[:idx]
		}
		ts, err := time.Parse(time.RFC3339, isoPart)
		if err != nil {
			continue
		}
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, *entry.Value)
		}
	}
	return out
}

// climatologicalBaseline is a latitude/season heuristic for when the NWS API
// is unavailable: tropics see more precipitation, high latitudes more freeze
// and snow, winter shifts the balance.
func climatologicalBaseline(lat float64, riskType RiskType, start time.Time) Estimate {
	absLat := math.Abs(lat)
	month := time.June
	if !start.IsZero() {
		month = start.UTC().Month()
	}
	isWinter := month == time.November || month == time.December ||
		month == time.January || month == time.February || month == time.March

	pick := func(tropical, winter, summer float64, tropicCutoff float64) float64 {
		if absLat < tropicCutoff {
			return tropical
		}
		if isWinter {
			return winter
		}
		return summer
	}

	var p float64
	switch riskType {
	case RiskPrecipHeavy:
		p = pick(0.12, 0.08, 0.15, 25)
	case RiskPrecipModerate:
		p = pick(0.25, 0.18, 0.30, 25)
	case RiskWindHigh:
		if absLat < 30 {
			p = 0.06
		} else {
			p = 0.10
		}
	case RiskWindExtreme:
		p = 0.02
	case RiskTempFreeze:
		p = pick(0.01, 0.40, 0.05, 25)
	case RiskTempHeat:
		if absLat < 30 {
			p = 0.30
		} else {
			p = 0.08
		}
	case RiskSnowHeavy:
		p = pick(0.01, 0.15, 0.02, 30)
	default:
		p = 0.10
	}

	est := boundedEstimate(p, 0.3, "climatological_baseline")
	return *est
}

// boundedEstimate clips the probability and derives confidence bounds from a
// relative spread.
func boundedEstimate(p, relSpread float64, source string) *Estimate {
	spread := math.Max(0.02, p*relSpread)
	return &Estimate{
		Probability:     clamp(p, probFloor, probCeil),
		ConfidenceLower: clamp(p-spread, probFloor, probCeil),
		ConfidenceUpper: clamp(p+spread, probFloor, probCeil),
		Source:          source,
	}
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return maxOf(values)
}
