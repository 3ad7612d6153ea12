// Package contracts defines weather-derivative contracts and their store.
// A contract asks one question: did metric M in cell C exceed threshold T
// during the window ending at expiry?
package contracts

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metric identifies which weather measurement a contract settles against.
type Metric string

const (
	MetricPrecipitation Metric = "precipitation"
	MetricWindSpeed     Metric = "wind_speed"
	MetricTemperature   Metric = "temperature"
	MetricSnow          Metric = "snow"
)

// ValidMetric reports whether m is a known metric.
func ValidMetric(m Metric) bool {
	switch m {
	case MetricPrecipitation, MetricWindSpeed, MetricTemperature, MetricSnow:
		return true
	}
	return false
}

// Status is the derived lifecycle state of a contract. It is never stored;
// it is computed from expiry and the settlement record (if any).
type Status string

const (
	StatusActive         Status = "active"          // expiry in the future, no record
	StatusExpiredPending Status = "expired_pending" // expired, awaiting settlement
	StatusSettledYes     Status = "settled_yes"
	StatusSettledNo      Status = "settled_no"
	StatusDisputed       Status = "disputed"
)

const (
	minWindowHours = 1
	maxWindowHours = 168 // one week
)

// ErrNotFound is returned when a contract id does not exist.
var ErrNotFound = errors.New("contract not found")

// Contract is the immutable question to be answered at expiry.
type Contract struct {
	ID          string    `json:"id"`
	H3Cell      string    `json:"h3_cell"`
	Metric      Metric    `json:"metric"`
	Threshold   float64   `json:"threshold"`
	Unit        string    `json:"unit"`
	WindowHours int       `json:"window_hours"`
	ExpiryUTC   time.Time `json:"expiry_utc"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Spec is the caller-supplied portion of a contract. The id and created-at
// are allocated by the store.
type Spec struct {
	H3Cell      string    `json:"h3_cell"`
	Metric      Metric    `json:"metric"`
	Threshold   float64   `json:"threshold"`
	Unit        string    `json:"unit"`
	WindowHours int       `json:"window_hours"`
	ExpiryUTC   time.Time `json:"expiry_utc"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the spec against the creation invariants.
func (s Spec) Validate(now time.Time) error {
	if strings.TrimSpace(s.H3Cell) == "" {
		return fmt.Errorf("h3_cell is required")
	}
	if !ValidMetric(s.Metric) {
		return fmt.Errorf("unknown metric %q", s.Metric)
	}
	if s.Threshold <= 0 || math.IsInf(s.Threshold, 0) || math.IsNaN(s.Threshold) {
		return fmt.Errorf("threshold must be a finite positive number, got %g", s.Threshold)
	}
	if s.WindowHours < minWindowHours || s.WindowHours > maxWindowHours {
		return fmt.Errorf("window_hours must be between %d and %d, got %d", minWindowHours, maxWindowHours, s.WindowHours)
	}
	if !s.ExpiryUTC.After(now) {
		return fmt.Errorf("expiry_utc must be in the future")
	}
	return nil
}

// NewContract allocates an id and stamps the creation time.
func NewContract(spec Spec, now time.Time) Contract {
	return Contract{
		ID:          uuid.New().String(),
		H3Cell:      spec.H3Cell,
		Metric:      spec.Metric,
		Threshold:   spec.Threshold,
		Unit:        spec.Unit,
		WindowHours: spec.WindowHours,
		ExpiryUTC:   spec.ExpiryUTC.UTC(),
		Description: spec.Description,
		CreatedAt:   now.UTC(),
	}
}

// Window returns the observation window [expiry - window_hours, expiry].
func (c Contract) Window() (time.Time, time.Time) {
	end := c.ExpiryUTC
	return end.Add(-time.Duration(c.WindowHours) * time.Hour), end
}

// DeriveStatus computes the lifecycle state from the settlement outcome (empty
// when no record exists).
func (c Contract) DeriveStatus(outcome string, now time.Time) Status {
	switch outcome {
	case "YES":
		return StatusSettledYes
	case "NO":
		return StatusSettledNo
	case "DISPUTED":
		return StatusDisputed
	}
	if now.Before(c.ExpiryUTC) {
		return StatusActive
	}
	return StatusExpiredPending
}
