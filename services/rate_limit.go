package services

import "fmt"

// Fixed ceilings for the shared upstream budget
const (
	RequestsPerMinuteLimit = 60
	RequestsPerHourLimit   = 360
	RequestsPerDayLimit    = 8000
)

// RateLimitCalculation projects upstream request usage for a given
// watchlist size and schedule. Requests per stock is one price lookup,
// one expirations lookup, and one chain fetch per retained expiration.
type RateLimitCalculation struct {
	WatchlistSize        int      `json:"watchlist_size"`
	RequestsPerStock     int      `json:"requests_per_stock"`
	RequestsPerCycle     int      `json:"requests_per_cycle"`
	CycleDurationMinutes float64  `json:"cycle_duration_minutes"`
	RequestsPerMinute    float64  `json:"requests_per_minute"`
	CyclesPerHour        float64  `json:"cycles_per_hour"`
	RequestsPerHour      float64  `json:"requests_per_hour"`
	CyclesPerDay         float64  `json:"cycles_per_day"`
	RequestsPerDay       float64  `json:"requests_per_day"`
	WithinMinuteLimit    bool     `json:"within_minute_limit"`
	WithinHourLimit      bool     `json:"within_hour_limit"`
	WithinDayLimit       bool     `json:"within_day_limit"`
	Warnings             []string `json:"warnings"`
}

// CalculateRateLimits projects request usage. Pure; never divides by
// zero: an empty watchlist projects zero usage and passes every check,
// and the burst window is floored at one minute so a short cycle is
// measured against a full minute of budget.
func CalculateRateLimits(watchlistSize, intervalMinutes, stockDelaySeconds, maxExpirations int) RateLimitCalculation {
	calc := RateLimitCalculation{
		WatchlistSize:     watchlistSize,
		RequestsPerStock:  2 + maxExpirations,
		WithinMinuteLimit: true,
		WithinHourLimit:   true,
		WithinDayLimit:    true,
		Warnings:          []string{},
	}

	if watchlistSize <= 0 {
		return calc
	}

	calc.RequestsPerCycle = watchlistSize * calc.RequestsPerStock
	calc.CycleDurationMinutes = float64(watchlistSize) * float64(stockDelaySeconds) / 60.0

	burstWindow := calc.CycleDurationMinutes
	if burstWindow < 1.0 {
		burstWindow = 1.0
	}
	calc.RequestsPerMinute = float64(calc.RequestsPerCycle) / burstWindow

	if intervalMinutes > 0 {
		calc.CyclesPerHour = 60.0 / float64(intervalMinutes)
		calc.CyclesPerDay = 1440.0 / float64(intervalMinutes)
		calc.RequestsPerHour = float64(calc.RequestsPerCycle) * calc.CyclesPerHour
		calc.RequestsPerDay = float64(calc.RequestsPerCycle) * calc.CyclesPerDay
	}

	if calc.RequestsPerMinute > RequestsPerMinuteLimit {
		calc.WithinMinuteLimit = false
		calc.Warnings = append(calc.Warnings, fmt.Sprintf(
			"Projected %.1f requests/minute exceeds the %d/minute ceiling",
			calc.RequestsPerMinute, RequestsPerMinuteLimit))
	}
	if calc.RequestsPerHour > RequestsPerHourLimit {
		calc.WithinHourLimit = false
		calc.Warnings = append(calc.Warnings, fmt.Sprintf(
			"Projected %.0f requests/hour exceeds the %d/hour ceiling",
			calc.RequestsPerHour, RequestsPerHourLimit))
	}
	if calc.RequestsPerDay > RequestsPerDayLimit {
		calc.WithinDayLimit = false
		calc.Warnings = append(calc.Warnings, fmt.Sprintf(
			"Projected %.0f requests/day exceeds the %d/day ceiling",
			calc.RequestsPerDay, RequestsPerDayLimit))
	}

	return calc
}
