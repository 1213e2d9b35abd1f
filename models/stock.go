package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock status values
const (
	StockStatusActive   = "active"
	StockStatusDelisted = "delisted"
	StockStatusInactive = "inactive"
)

// Monitoring status values for watchlist entries
const (
	MonitoringStatusActive = "active"
	MonitoringStatusPaused = "paused"
)

// Stock represents an underlying equity tracked by the system
type Stock struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Ticker      string    `gorm:"uniqueIndex;not null" json:"ticker"`
	CompanyName string    `json:"company_name"`
	Status      string    `gorm:"index" json:"status"` // active, delisted, inactive
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WatchlistEntry marks a stock as eligible for scraping
type WatchlistEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StockID          uint      `gorm:"uniqueIndex;not null" json:"stock_id"`
	Stock            Stock     `gorm:"foreignKey:StockID;constraint:OnDelete:CASCADE" json:"stock,omitempty"`
	MonitoringStatus string    `gorm:"index" json:"monitoring_status"` // active, paused
	Notes            string    `json:"notes"`
	AddedAt          time.Time `gorm:"autoCreateTime" json:"added_at"`
}

// StockPriceSnapshot records every successfully resolved live price.
// The newest row per ticker backs the "database" fallback source.
type StockPriceSnapshot struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Ticker     string          `gorm:"index:idx_snapshot_ticker_time" json:"ticker"`
	Price      decimal.Decimal `gorm:"type:decimal(12,4)" json:"price"`
	Source     string          `json:"source"`
	RecordedAt time.Time       `gorm:"index:idx_snapshot_ticker_time" json:"recorded_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MigrateStockModels runs auto-migration for stock related tables
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(&Stock{}, &WatchlistEntry{}, &StockPriceSnapshot{})
}
