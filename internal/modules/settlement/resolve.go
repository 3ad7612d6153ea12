package settlement

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/atmx/atmx/internal/modules/contracts"
	"github.com/atmx/atmx/internal/modules/observations"
)

// Options tune the resolution rules. Zero values are replaced with the
// documented defaults so a zero Options behaves sensibly in tests.
type Options struct {
	// MinStations is the minimum number of stations with a non-null
	// aggregate required to settle. Default 1.
	MinStations int
	// SpreadRatio is the spread/mean ratio above which stations are
	// considered in conflict. Default 0.20.
	SpreadRatio float64
	// FreezePivotC splits temperature contracts into freeze-style (threshold
	// below the pivot, aggregate min) and heat-style (aggregate max).
	// Default 20.0.
	FreezePivotC float64
	// PrecipHourlyMax aggregates precipitation as max-per-clock-hour then
	// sum, compensating for sources that report running accumulators.
	PrecipHourlyMax bool
}

func (o Options) withDefaults() Options {
	if o.MinStations < 1 {
		o.MinStations = 1
	}
	if o.SpreadRatio <= 0 {
		o.SpreadRatio = 0.20
	}
	if o.FreezePivotC == 0 {
		o.FreezePivotC = 20.0
	}
	return o
}

// Resolve determines the settlement outcome for a contract given the
// observations for its cell and window. It is pure: no I/O, no clock, and
// bit-identical output for identical input. Summation preserves input order.
func Resolve(contract contracts.Contract, bundle *observations.CellObservationBundle, opts Options) Resolution {
	opts = opts.withDefaults()

	// Rule 1: no stations reported at all.
	if bundle == nil || len(bundle.Observations) == 0 {
		return Resolution{
			Outcome:         OutcomeDisputed,
			StationReadings: map[string]*float64{},
			DisputeReason:   fmt.Sprintf("no stations found in cell %s", contract.H3Cell),
		}
	}

	readings := aggregateByStation(contract, bundle.Observations, opts)

	var valid []float64
	for _, id := range sortedStations(readings) {
		if v := readings[id]; v != nil {
			valid = append(valid, *v)
		}
	}

	// Rule 2: every station aggregated to null.
	if len(valid) == 0 {
		return Resolution{
			Outcome:         OutcomeDisputed,
			StationReadings: readings,
			DisputeReason:   "sensor outage: all station readings missing",
		}
	}

	// Rule 3: not enough stations with usable data.
	if len(valid) < opts.MinStations {
		return Resolution{
			Outcome:         OutcomeDisputed,
			StationReadings: readings,
			DisputeReason: fmt.Sprintf("insufficient stations: %d with valid data, %d required",
				len(valid), opts.MinStations),
		}
	}

	mean := stat.Mean(valid, nil)

	// Rule 4: station-level conflict. The mean > 0 guard keeps two zero
	// readings from disputing and avoids division by zero.
	if len(valid) >= 2 && mean > 0 {
		minV, maxV := valid[0], valid[0]
		for _, v := range valid[1:] {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		spread := maxV - minV
		if ratio := spread / mean; ratio > opts.SpreadRatio {
			observed := mean
			return Resolution{
				Outcome:         OutcomeDisputed,
				ObservedValue:   &observed,
				StationReadings: readings,
				DisputeReason: fmt.Sprintf("station conflict: spread %.4g over mean %.4g (ratio %.4g exceeds %.4g)",
					spread, mean, ratio, opts.SpreadRatio),
			}
		}
	}

	// Rule 5: normal resolution. Strict inequality; equality resolves to NO.
	observed := mean
	outcome := OutcomeNo
	if observed > contract.Threshold {
		outcome = OutcomeYes
	}
	return Resolution{
		Outcome:         outcome,
		ObservedValue:   &observed,
		StationReadings: readings,
	}
}

// aggregateByStation reduces each station's readings in the bundle to one
// scalar using the metric's aggregation. Stations with zero non-missing
// readings map to nil.
func aggregateByStation(contract contracts.Contract, obs []observations.StationObservation, opts Options) map[string]*float64 {
	grouped := make(map[string][]observations.StationObservation)
	for _, o := range obs {
		grouped[o.StationID] = append(grouped[o.StationID], o)
	}

	out := make(map[string]*float64, len(grouped))
	for station, stationObs := range grouped {
		out[station] = aggregateStation(contract, stationObs, opts)
	}
	return out
}

func aggregateStation(contract contracts.Contract, obs []observations.StationObservation, opts Options) *float64 {
	values := metricValues(contract.Metric, obs)

	switch contract.Metric {
	case contracts.MetricPrecipitation:
		if opts.PrecipHourlyMax {
			return hourlyMaxSum(contract.Metric, obs)
		}
		return sum(values)
	case contracts.MetricSnow:
		return sum(values)
	case contracts.MetricWindSpeed:
		return maxValue(values)
	case contracts.MetricTemperature:
		// Freeze contracts care about the coldest reading, heat contracts
		// about the hottest.
		if contract.Threshold < opts.FreezePivotC {
			return minValue(values)
		}
		return maxValue(values)
	}
	return nil
}

// metricValues extracts the non-missing readings for a metric, preserving
// input order.
func metricValues(metric contracts.Metric, obs []observations.StationObservation) []float64 {
	var out []float64
	for _, o := range obs {
		if v := metricSlot(metric, o); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func metricSlot(metric contracts.Metric, o observations.StationObservation) *float64 {
	switch metric {
	case contracts.MetricPrecipitation:
		return o.PrecipitationMM
	case contracts.MetricWindSpeed:
		return o.WindSpeedMS
	case contracts.MetricTemperature:
		return o.TemperatureC
	case contracts.MetricSnow:
		return o.SnowfallMM
	}
	return nil
}

// hourlyMaxSum takes the maximum reading inside each clock hour and sums the
// hourly maxima. Upstream sources that report a running accumulator within
// the hour would otherwise be over-counted by a plain sum.
func hourlyMaxSum(metric contracts.Metric, obs []observations.StationObservation) *float64 {
	hourMax := make(map[time.Time]float64)
	var hours []time.Time
	for _, o := range obs {
		v := metricSlot(metric, o)
		if v == nil {
			continue
		}
		hour := o.ObservedAt.UTC().Truncate(time.Hour)
		current, seen := hourMax[hour]
		if !seen {
			hours = append(hours, hour)
			hourMax[hour] = *v
		} else if *v > current {
			hourMax[hour] = *v
		}
	}
	if len(hours) == 0 {
		return nil
	}

	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	total := 0.0
	for _, h := range hours {
		total += hourMax[h]
	}
	return &total
}

func sum(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return &total
}

func maxValue(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}

func minValue(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return &m
}

// sortedStations returns the station ids in lexicographic order so that every
// pass over the readings map is deterministic.
func sortedStations(readings map[string]*float64) []string {
	ids := make([]string, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
