package observations

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// knotsPerMS is the conversion factor from knots to meters per second.
const knotsPerMS = 0.514444

// Client fetches raw ASOS/AWOS observations from the Iowa Environmental
// Mesonet (IEM) archive. The IEM serves CSV over HTTP; rows use the sentinel
// values "" / "M" (missing) and "T" (trace), all of which map to missing.
//
// Docs: https://mesonet.agron.iastate.edu/request/download.phtml
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an IEM observation client. The http.Client is shared and
// injected so callers control pooling and timeouts.
func NewClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("client", "asos").Logger(),
	}
}

// FetchObservations retrieves all observations for one station over the
// given window. Rows that fail to parse are skipped silently; the upstream
// archive contains malformed rows and a single bad row must not poison a
// settlement window.
func (c *Client) FetchObservations(ctx context.Context, station Station, start, end time.Time) ([]StationObservation, error) {
	params := url.Values{}
	params.Set("station", station.ID)
	params.Set("data", "p01m,sknt,tmpf")
	params.Set("tz", "Etc/UTC")
	params.Set("format", "comma")
	params.Set("latlon", "no")
	params.Set("year1", start.UTC().Format("2006"))
	params.Set("month1", start.UTC().Format("01"))
	params.Set("day1", start.UTC().Format("02"))
	params.Set("hour1", start.UTC().Format("15"))
	params.Set("year2", end.UTC().Format("2006"))
	params.Set("month2", end.UTC().Format("01"))
	params.Set("day2", end.UTC().Format("02"))
	params.Set("hour2", end.UTC().Format("15"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build observation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("observation fetch for %s failed: %w", station.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("observation fetch for %s returned status %d", station.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read observation response for %s: %w", station.ID, err)
	}

	obs := c.parseCSV(station, string(body))

	c.log.Debug().
		Str("station", station.ID).
		Int("observations", len(obs)).
		Time("window_start", start).
		Time("window_end", end).
		Msg("Fetched station observations")

	return obs, nil
}

// parseCSV converts the IEM CSV body into observations. Lines beginning with
// '#' are server-side comments and are dropped before CSV parsing.
func (c *Client) parseCSV(station Station, body string) []StationObservation {
	var dataLines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		dataLines = append(dataLines, line)
	}
	if len(dataLines) < 2 {
		return nil
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(dataLines, "\n")))
	reader.FieldsPerRecord = -1 // upstream rows are occasionally ragged
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil || len(records) < 2 {
		return nil
	}

	// Map header names to column indexes.
	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	validIdx, ok := col["valid"]
	if !ok {
		return nil
	}

	var out []StationObservation
	for _, row := range records[1:] {
		if validIdx >= len(row) {
			continue
		}

		// Timestamps are UTC-naive in the source; parse then tag UTC.
		observedAt, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(row[validIdx]), time.UTC)
		if err != nil {
			continue
		}

		obs := StationObservation{
			StationID:  station.ID,
			Source:     station.Source,
			H3Cell:     station.H3Cell,
			Latitude:   station.Latitude,
			Longitude:  station.Longitude,
			ObservedAt: observedAt,
		}

		obs.PrecipitationMM = fieldValue(row, col, "p01m")
		if knots := fieldValue(row, col, "sknt"); knots != nil {
			ms := KnotsToMS(*knots)
			obs.WindSpeedMS = &ms
		}
		if tempF := fieldValue(row, col, "tmpf"); tempF != nil {
			tempC := FahrenheitToCelsius(*tempF)
			obs.TemperatureC = &tempC
		}
		if metarIdx, ok := col["metar"]; ok && metarIdx < len(row) {
			obs.QualityFlag = strings.TrimSpace(row[metarIdx])
		}

		out = append(out, obs)
	}

	return out
}

// fieldValue extracts a numeric field, mapping the sentinels "", "M" and "T"
// to missing.
func fieldValue(row []string, col map[string]int, name string) *float64 {
	idx, ok := col[name]
	if !ok || idx >= len(row) {
		return nil
	}
	return parseMeasurement(row[idx])
}

// parseMeasurement parses a measurement string, returning nil for the
// missing/trace sentinels or unparseable values.
func parseMeasurement(raw string) *float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "M" || trimmed == "T" {
		return nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil
	}
	return &v
}

// KnotsToMS converts wind speed from knots to meters per second.
func KnotsToMS(knots float64) float64 {
	return knots * knotsPerMS
}

// MSToKnots converts wind speed from meters per second to knots.
func MSToKnots(ms float64) float64 {
	return ms / knotsPerMS
}

// FahrenheitToCelsius converts a temperature reading at ingest.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}
