package pricing

import "github.com/atmx/atmx/internal/modules/contracts"

// RiskType tags a contract with the class of weather risk it covers. The tag
// drives forecast extraction and shows up in dispatched events.
type RiskType string

const (
	RiskPrecipHeavy    RiskType = "precip_heavy"
	RiskPrecipModerate RiskType = "precip_moderate"
	RiskWindHigh       RiskType = "wind_high"
	RiskWindExtreme    RiskType = "wind_extreme"
	RiskTempFreeze     RiskType = "temp_freeze"
	RiskTempHeat       RiskType = "temp_heat"
	RiskSnowHeavy      RiskType = "snow_heavy"
)

// Classification thresholds, in the metric's settlement unit.
const (
	heavyPrecipThresholdMM = 10.0 // mm over the window
	extremeWindThresholdMS = 25.0 // m/s peak
	heatThresholdC         = 20.0 // °C
)

// ValidRiskType reports whether s names a known risk class.
func ValidRiskType(s RiskType) bool {
	switch s {
	case RiskPrecipHeavy, RiskPrecipModerate, RiskWindHigh, RiskWindExtreme,
		RiskTempFreeze, RiskTempHeat, RiskSnowHeavy:
		return true
	}
	return false
}

// RiskTypeFor maps a contract's metric and threshold to its risk class.
func RiskTypeFor(metric contracts.Metric, threshold float64) RiskType {
	switch metric {
	case contracts.MetricPrecipitation:
		if threshold > heavyPrecipThresholdMM {
			return RiskPrecipHeavy
		}
		return RiskPrecipModerate
	case contracts.MetricWindSpeed:
		if threshold < extremeWindThresholdMS {
			return RiskWindHigh
		}
		return RiskWindExtreme
	case contracts.MetricTemperature:
		if threshold < heatThresholdC {
			return RiskTempFreeze
		}
		return RiskTempHeat
	case contracts.MetricSnow:
		return RiskSnowHeavy
	}
	return RiskPrecipModerate
}
