package models

import (
	"time"

	"gorm.io/gorm"
)

// Run status values
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Per-stock scrape status values
const (
	ScrapeStatusSuccess = "success"
	ScrapeStatusFailed  = "failed"
)

// ScraperRun records one complete pass over the active watchlist
type ScraperRun struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	RunLabel         string           `gorm:"index" json:"run_label"`
	StartTime        time.Time        `gorm:"not null" json:"start_time"`
	EndTime          *time.Time       `json:"end_time"`
	Status           string           `gorm:"index" json:"status"` // running, completed, failed
	TotalStocks      int              `json:"total_stocks"`
	SuccessfulStocks int              `json:"successful_stocks"`
	FailedStocks     int              `json:"failed_stocks"`
	TotalContracts   int              `json:"total_contracts"`
	StockLogs        []StockScrapeLog `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"stock_logs"`
	CreatedAt        time.Time        `json:"created_at"`
}

// StockScrapeLog records the outcome of scraping a single stock within a run
type StockScrapeLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RunID            uint      `gorm:"index;not null" json:"run_id"`
	Ticker           string    `gorm:"not null" json:"ticker"`
	Status           string    `json:"status"` // success, failed
	SourceUsed       *string   `json:"source_used"`
	ContractsScraped *int      `json:"contracts_scraped"`
	ErrorMessage     *string   `gorm:"type:text" json:"error_message"`
	Timestamp        time.Time `json:"timestamp"`
}

// MigrateScraperModels runs auto-migration for scraper run tables
func MigrateScraperModels(db *gorm.DB) error {
	return db.AutoMigrate(&ScraperRun{}, &StockScrapeLog{})
}
