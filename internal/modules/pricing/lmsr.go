// Package pricing quotes risk-adjusted premiums for weather coverage using a
// Logarithmic Market Scoring Rule seeded from forecast exceedance
// probabilities.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design".
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

const (
	// probFloor / probCeil clip probabilities before the logit transform so
	// quantities stay finite.
	probFloor = 0.001
	probCeil  = 0.999
)

// Cost is the LMSR cost function C(q) = b * ln(exp(qYes/b) + exp(qNo/b)).
func Cost(qYes, qNo, b float64) float64 {
	return b * floats.LogSumExp([]float64{qYes / b, qNo / b})
}

// Price is the instantaneous YES price (softmax of the quantities).
func Price(qYes, qNo, b float64) float64 {
	y, n := qYes/b, qNo/b
	m := math.Max(y, n)
	expY := math.Exp(y - m)
	expN := math.Exp(n - m)
	return expY / (expY + expN)
}

// TradeCost is the cost of buying deltaYes shares of YES at the current
// quantities.
func TradeCost(qYes, qNo, deltaYes, b float64) float64 {
	return Cost(qYes+deltaYes, qNo, b) - Cost(qYes, qNo, b)
}

// QuantitiesFromProbability derives quantities whose instantaneous price
// equals p. With qNo = 0, solving p = exp(qYes/b) / (exp(qYes/b) + 1) gives
// qYes = b * ln(p / (1 - p)). p is clipped to [0.001, 0.999].
func QuantitiesFromProbability(p, b float64) (qYes, qNo float64) {
	p = clamp(p, probFloor, probCeil)
	return b * math.Log(p/(1.0-p)), 0.0
}

// Premium converts an exceedance probability into a USD premium: initialise
// a virtual market at p, take the fill cost of one YES share, scale by the
// notional and add the loading factor. Rounded to cents through decimal
// arithmetic and floored at $0.01.
func Premium(p, notionalUSD, b, loadingFactor float64) float64 {
	qYes, qNo := QuantitiesFromProbability(p, b)
	fillCost := TradeCost(qYes, qNo, 1.0, b)

	premium := decimal.NewFromFloat(fillCost).
		Mul(decimal.NewFromFloat(notionalUSD)).
		Mul(decimal.NewFromFloat(1.0 + loadingFactor)).
		Round(2)

	floor := decimal.NewFromFloat(0.01)
	if premium.LessThan(floor) {
		premium = floor
	}
	f, _ := premium.Float64()
	return f
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
