// Package observations fetches and normalizes official ASOS/AWOS station
// readings for a spatial cell so the settlement engine can resolve contracts
// against ground truth.
package observations

import "time"

// Source identifies the class of station that produced an observation.
type Source string

const (
	SourceASOS   Source = "ASOS"
	SourceAWOS   Source = "AWOS"
	SourceManual Source = "MANUAL" // fallback / manual override for testing
)

// StationObservation is a single reading from one station at one instant,
// mapped to its H3 cell. Measurement slots are nil when the source reported
// the value as missing.
type StationObservation struct {
	StationID       string    `json:"station_id" msgpack:"station_id"`
	Source          Source    `json:"source" msgpack:"source"`
	H3Cell          string    `json:"h3_cell" msgpack:"h3_cell"`
	Latitude        float64   `json:"latitude" msgpack:"latitude"`
	Longitude       float64   `json:"longitude" msgpack:"longitude"`
	ObservedAt      time.Time `json:"observed_at" msgpack:"observed_at"`
	PrecipitationMM *float64  `json:"precipitation_mm" msgpack:"precipitation_mm"`
	WindSpeedMS     *float64  `json:"wind_speed_ms" msgpack:"wind_speed_ms"`
	TemperatureC    *float64  `json:"temperature_c" msgpack:"temperature_c"`
	SnowfallMM      *float64  `json:"snowfall_mm" msgpack:"snowfall_mm"`
	QualityFlag     string    `json:"quality_flag,omitempty" msgpack:"quality_flag"`
}

// CellObservationBundle is every station observation for one H3 cell over one
// settlement window. It is a pure data object: once assembled it has no
// further network dependency.
type CellObservationBundle struct {
	H3Cell       string               `json:"h3_cell" msgpack:"h3_cell"`
	WindowStart  time.Time            `json:"window_start" msgpack:"window_start"`
	WindowEnd    time.Time            `json:"window_end" msgpack:"window_end"`
	Observations []StationObservation `json:"observations" msgpack:"observations"`
}

// StationCount returns the number of distinct stations in the bundle.
func (b *CellObservationBundle) StationCount() int {
	seen := make(map[string]struct{}, len(b.Observations))
	for _, obs := range b.Observations {
		seen[obs.StationID] = struct{}{}
	}
	return len(seen)
}
