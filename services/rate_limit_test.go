package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateRateLimits_CompliantSchedule(t *testing.T) {
	// 54 stocks, every 2 hours, 10s apart, 8 expirations each
	calc := CalculateRateLimits(54, 120, 10, 8)

	assert.Equal(t, 54, calc.WatchlistSize)
	assert.Equal(t, 10, calc.RequestsPerStock)
	assert.Equal(t, 540, calc.RequestsPerCycle)
	assert.InDelta(t, 9.0, calc.CycleDurationMinutes, 1e-9)
	assert.InDelta(t, 60.0, calc.RequestsPerMinute, 1e-9)
	assert.InDelta(t, 0.5, calc.CyclesPerHour, 1e-9)
	assert.InDelta(t, 270.0, calc.RequestsPerHour, 1e-9)
	assert.InDelta(t, 12.0, calc.CyclesPerDay, 1e-9)
	assert.InDelta(t, 6480.0, calc.RequestsPerDay, 1e-9)

	// Exactly 60 req/min sits on the ceiling, not over it
	assert.True(t, calc.WithinMinuteLimit)
	assert.True(t, calc.WithinHourLimit)
	assert.True(t, calc.WithinDayLimit)
	assert.Empty(t, calc.Warnings)
}

func TestCalculateRateLimits_AggressiveSchedule(t *testing.T) {
	// 54 stocks, every 5 minutes, 1s apart, 15 expirations each
	calc := CalculateRateLimits(54, 5, 1, 15)

	assert.Equal(t, 17, calc.RequestsPerStock)
	assert.Equal(t, 918, calc.RequestsPerCycle)
	assert.InDelta(t, 0.9, calc.CycleDurationMinutes, 1e-9)

	// Cycle shorter than a minute: burst window floored at one minute
	assert.InDelta(t, 918.0, calc.RequestsPerMinute, 1e-9)
	assert.InDelta(t, 12.0, calc.CyclesPerHour, 1e-9)
	assert.InDelta(t, 11016.0, calc.RequestsPerHour, 1e-9)
	assert.InDelta(t, 264384.0, calc.RequestsPerDay, 1e-9)

	assert.False(t, calc.WithinMinuteLimit)
	assert.False(t, calc.WithinHourLimit)
	assert.False(t, calc.WithinDayLimit)
	assert.Len(t, calc.Warnings, 3)
	assert.Contains(t, calc.Warnings[0], "requests/minute")
	assert.Contains(t, calc.Warnings[1], "requests/hour")
	assert.Contains(t, calc.Warnings[2], "requests/day")
}

func TestCalculateRateLimits_EmptyWatchlist(t *testing.T) {
	for _, size := range []int{0, -3} {
		calc := CalculateRateLimits(size, 60, 10, 8)

		assert.Equal(t, 0, calc.RequestsPerCycle)
		assert.Zero(t, calc.RequestsPerMinute)
		assert.Zero(t, calc.RequestsPerHour)
		assert.Zero(t, calc.RequestsPerDay)
		assert.True(t, calc.WithinMinuteLimit)
		assert.True(t, calc.WithinHourLimit)
		assert.True(t, calc.WithinDayLimit)
		assert.NotNil(t, calc.Warnings)
		assert.Empty(t, calc.Warnings)
	}
}

func TestCalculateRateLimits_ZeroInterval(t *testing.T) {
	// Interval of zero projects no hourly or daily usage rather than
	// dividing by zero
	calc := CalculateRateLimits(10, 0, 10, 8)

	assert.Zero(t, calc.CyclesPerHour)
	assert.Zero(t, calc.CyclesPerDay)
	assert.Zero(t, calc.RequestsPerHour)
	assert.Zero(t, calc.RequestsPerDay)
	assert.True(t, calc.WithinHourLimit)
	assert.True(t, calc.WithinDayLimit)
}

func TestCalculateRateLimits_HourBoundaryInclusive(t *testing.T) {
	// 6 stocks * 10 req, every 10 minutes: exactly 360/hour is allowed,
	// but 8640/day breaches the daily ceiling
	calc := CalculateRateLimits(6, 10, 10, 8)

	assert.InDelta(t, 360.0, calc.RequestsPerHour, 1e-9)
	assert.True(t, calc.WithinHourLimit)

	assert.InDelta(t, 8640.0, calc.RequestsPerDay, 1e-9)
	assert.False(t, calc.WithinDayLimit)
	assert.Len(t, calc.Warnings, 1)
}
