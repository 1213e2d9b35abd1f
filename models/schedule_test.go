package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludedDaysRoundTrip(t *testing.T) {
	var s ScraperSchedule

	s.SetExcludedDays([]string{"saturday", "2026-12-25"})
	assert.Equal(t, `["saturday","2026-12-25"]`, s.ExcludedDays)
	assert.Equal(t, []string{"saturday", "2026-12-25"}, s.ExcludedDaysList())

	s.SetExcludedDays(nil)
	assert.Equal(t, `[]`, s.ExcludedDays)
	assert.Empty(t, s.ExcludedDaysList())
}

func TestExcludedDaysListToleratesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		stored string
	}{
		{"empty column", ""},
		{"corrupt json", `{"saturday"`},
		{"wrong type", `"saturday"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := ScraperSchedule{ExcludedDays: tc.stored}
			assert.Nil(t, s.ExcludedDaysList())
		})
	}
}

func TestDefaultScraperSchedule(t *testing.T) {
	s := DefaultScraperSchedule()

	assert.EqualValues(t, ScheduleConfigID, s.ID)
	assert.Equal(t, 5, s.PollingIntervalMinutes)
	assert.Equal(t, 10, s.StockDelaySeconds)
	assert.Equal(t, 8, s.MaxExpirations)
	assert.Equal(t, "09:30", s.MarketHoursStart)
	assert.Equal(t, "16:00", s.MarketHoursEnd)
	assert.Equal(t, "America/New_York", s.Timezone)
	assert.True(t, s.Paused)
	assert.Equal(t, SchedulerStatusPaused, s.Status)
	assert.Equal(t, []string{"saturday", "sunday"}, s.ExcludedDaysList())
}
