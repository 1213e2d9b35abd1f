package services

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Greeks holds the Black-Scholes sensitivities for one contract.
// All fields are nil when the inputs cannot support the model.
type Greeks struct {
	Delta *float64 `json:"delta"`
	Gamma *float64 `json:"gamma"`
	Theta *float64 `json:"theta"`
	Vega  *float64 `json:"vega"`
	Rho   *float64 `json:"rho"`
}

// GreeksCalculator computes Black-Scholes greeks from implied volatility
type GreeksCalculator struct {
	riskFreeRate float64
	norm         distuv.Normal
}

// NewGreeksCalculator creates a calculator with the given annualized
// risk-free rate
func NewGreeksCalculator(riskFreeRate float64) *GreeksCalculator {
	return &GreeksCalculator{
		riskFreeRate: riskFreeRate,
		norm:         distuv.Normal{Mu: 0, Sigma: 1},
	}
}

// Calculate returns the greeks for one contract. Theta is per calendar
// day; vega is per 1% volatility change; rho is per 1% rate change.
// Nonpositive price, strike, expiry or volatility yields null greeks.
func (c *GreeksCalculator) Calculate(stockPrice, strikePrice float64, daysToExpiry int, impliedVolatility float64, optionType string) Greeks {
	if stockPrice <= 0 || strikePrice <= 0 || daysToExpiry <= 0 || impliedVolatility <= 0 {
		return Greeks{}
	}

	T := float64(daysToExpiry) / 365.0
	S := stockPrice
	K := strikePrice
	r := c.riskFreeRate
	sigma := impliedVolatility

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	var delta, theta, rho float64
	if optionType == "call" {
		delta = c.norm.CDF(d1)
		theta = -S*c.norm.Prob(d1)*sigma/(2*sqrtT) - r*K*math.Exp(-r*T)*c.norm.CDF(d2)
		rho = K * T * math.Exp(-r*T) * c.norm.CDF(d2) / 100
	} else {
		delta = -c.norm.CDF(-d1)
		theta = -S*c.norm.Prob(d1)*sigma/(2*sqrtT) + r*K*math.Exp(-r*T)*c.norm.CDF(-d2)
		rho = -K * T * math.Exp(-r*T) * c.norm.CDF(-d2) / 100
	}

	gamma := c.norm.Prob(d1) / (S * sigma * sqrtT)
	vega := S * c.norm.Prob(d1) * sqrtT / 100
	thetaDaily := theta / 365

	return Greeks{
		Delta: round6(delta),
		Gamma: round6(gamma),
		Theta: round6(thetaDaily),
		Vega:  round6(vega),
		Rho:   round6(rho),
	}
}

// DaysToExpiry returns whole calendar days between the collection date
// and the expiration date, floored at zero
func (c *GreeksCalculator) DaysToExpiry(expiration, collection time.Time) int {
	exp := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	col := time.Date(collection.Year(), collection.Month(), collection.Day(), 0, 0, 0, 0, time.UTC)
	days := int(exp.Sub(col).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func round6(v float64) *float64 {
	rounded := math.Round(v*1e6) / 1e6
	return &rounded
}
