// Package settlement resolves expired contracts against observation bundles
// and appends the verdicts to a hash-chained, append-only record store.
package settlement

import (
	"errors"
	"time"

	"github.com/atmx/atmx/internal/modules/contracts"
	"github.com/atmx/atmx/internal/modules/observations"
)

// Outcome is the settlement verdict for a contract.
type Outcome string

const (
	OutcomeYes      Outcome = "YES"
	OutcomeNo       Outcome = "NO"
	OutcomeDisputed Outcome = "DISPUTED"
)

// ErrRecordNotFound is returned when a contract has no settlement record.
var ErrRecordNotFound = errors.New("settlement record not found")

// Record is one immutable settlement verdict. previous_hash is empty for the
// first record in the store; record_hash covers the canonical payload chained
// to previous_hash.
type Record struct {
	ID              string              `json:"id"`
	ContractID      string              `json:"contract_id"`
	Outcome         Outcome             `json:"outcome"`
	ObservedValue   *float64            `json:"observed_value"`
	Threshold       float64             `json:"threshold"`
	Unit            string              `json:"unit"`
	StationsUsed    int                 `json:"stations_used"`
	StationReadings map[string]*float64 `json:"station_readings"`
	Evidence        *Evidence           `json:"evidence,omitempty"`
	DisputeReason   string              `json:"dispute_reason,omitempty"`
	PreviousHash    string              `json:"previous_hash,omitempty"`
	RecordHash      string              `json:"record_hash"`
	SettledAt       time.Time           `json:"settled_at"`
}

// Resolution is the pure output of resolving a contract against a bundle.
type Resolution struct {
	Outcome         Outcome
	ObservedValue   *float64
	StationReadings map[string]*float64
	DisputeReason   string
}

// Evidence is the full audit payload stored alongside a record: everything
// needed to re-derive the verdict without refetching upstream data.
type Evidence struct {
	Contract      ContractSnapshot                  `json:"contract"`
	WindowStart   time.Time                         `json:"window_start"`
	WindowEnd     time.Time                         `json:"window_end"`
	Observations  []observations.StationObservation `json:"observations"`
	Determination Determination                     `json:"determination"`
}

// ContractSnapshot freezes the contract attributes at settlement time.
type ContractSnapshot struct {
	ID          string  `json:"id"`
	H3Cell      string  `json:"h3_cell"`
	Metric      string  `json:"metric"`
	Threshold   float64 `json:"threshold"`
	Unit        string  `json:"unit"`
	WindowHours int     `json:"window_hours"`
	ExpiryUTC   string  `json:"expiry_utc"`
}

// Determination records how the verdict was reached.
type Determination struct {
	Outcome         Outcome             `json:"outcome"`
	ObservedValue   *float64            `json:"observed_value"`
	StationReadings map[string]*float64 `json:"station_readings"`
	StationsUsed    int                 `json:"stations_used"`
	DisputeReason   string              `json:"dispute_reason,omitempty"`
}

// snapshotContract freezes a contract for the evidence payload.
func snapshotContract(c contracts.Contract) ContractSnapshot {
	return ContractSnapshot{
		ID:          c.ID,
		H3Cell:      c.H3Cell,
		Metric:      string(c.Metric),
		Threshold:   c.Threshold,
		Unit:        c.Unit,
		WindowHours: c.WindowHours,
		ExpiryUTC:   c.ExpiryUTC.UTC().Format(time.RFC3339),
	}
}

// hashPayload builds the map fed to the canonical encoder. The fields and
// their names are part of the audit format: changing them invalidates every
// stored hash.
func hashPayload(r Record) map[string]interface{} {
	readings := make(map[string]interface{}, len(r.StationReadings))
	for station, value := range r.StationReadings {
		if value == nil {
			readings[station] = nil
		} else {
			readings[station] = *value
		}
	}

	var observed interface{}
	if r.ObservedValue != nil {
		observed = *r.ObservedValue
	}

	return map[string]interface{}{
		"contract_id":      r.ContractID,
		"outcome":          string(r.Outcome),
		"observed_value":   observed,
		"threshold":        r.Threshold,
		"settled_at":       r.SettledAt.UTC().Format(time.RFC3339),
		"station_readings": readings,
	}
}
