package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Scheduler status values
const (
	SchedulerStatusIdle    = "idle"
	SchedulerStatusRunning = "running"
	SchedulerStatusPaused  = "paused"
	SchedulerStatusError   = "error"
)

// ScheduleConfigID is the fixed primary key of the singleton config row
const ScheduleConfigID = 1

// ScraperSchedule is the singleton scheduling configuration row.
// Market hours are local times ("HH:MM") in the configured timezone.
// ExcludedDays holds a JSON array of lowercase weekday names and/or
// ISO dates ("saturday", "2026-12-25").
type ScraperSchedule struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	PollingIntervalMinutes int        `json:"polling_interval_minutes"`
	StockDelaySeconds      int        `json:"stock_delay_seconds"`
	MaxExpirations         int        `json:"max_expirations"`
	MarketHoursStart       string     `json:"market_hours_start"`
	MarketHoursEnd         string     `json:"market_hours_end"`
	Timezone               string     `json:"timezone"`
	ExcludedDays           string     `gorm:"type:text" json:"-"`
	Paused                 bool       `json:"paused"`
	Status                 string     `json:"status"` // idle, running, paused, error
	LastRun                *time.Time `json:"last_run"`
	NextRun                *time.Time `json:"next_run"`
	LastErrorMessage       string     `gorm:"size:500" json:"last_error_message"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// TableName keeps the singleton table name explicit
func (ScraperSchedule) TableName() string {
	return "scraper_schedule"
}

// DefaultScraperSchedule returns the boot-time configuration.
// The scheduler always starts paused so a restart never begins
// spending the rate-limit budget unannounced.
func DefaultScraperSchedule() *ScraperSchedule {
	s := &ScraperSchedule{
		ID:                     ScheduleConfigID,
		PollingIntervalMinutes: 5,
		StockDelaySeconds:      10,
		MaxExpirations:         8,
		MarketHoursStart:       "09:30",
		MarketHoursEnd:         "16:00",
		Timezone:               "America/New_York",
		Paused:                 true,
		Status:                 SchedulerStatusPaused,
	}
	s.SetExcludedDays([]string{"saturday", "sunday"})
	return s
}

// ExcludedDaysList decodes the stored JSON array. A corrupt or empty
// value decodes to no exclusions rather than an error.
func (s *ScraperSchedule) ExcludedDaysList() []string {
	if s.ExcludedDays == "" {
		return nil
	}
	var days []string
	if err := json.Unmarshal([]byte(s.ExcludedDays), &days); err != nil {
		return nil
	}
	return days
}

// SetExcludedDays encodes the exclusion list for storage
func (s *ScraperSchedule) SetExcludedDays(days []string) {
	if days == nil {
		days = []string{}
	}
	encoded, err := json.Marshal(days)
	if err != nil {
		return
	}
	s.ExcludedDays = string(encoded)
}

// MigrateScheduleModels runs auto-migration for the schedule table
func MigrateScheduleModels(db *gorm.DB) error {
	return db.AutoMigrate(&ScraperSchedule{})
}
