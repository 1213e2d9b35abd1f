package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Option type values
const (
	OptionTypeCall = "call"
	OptionTypePut  = "put"
)

// Contract status values
const (
	ContractStatusActive  = "active"
	ContractStatusExpired = "expired"
)

// OptionContract is one time-series observation of an options contract.
// A new row is written per contract per collection cycle; rows are never
// updated except for the active -> expired status flip.
type OptionContract struct {
	ID      uint  `gorm:"primaryKey" json:"id"`
	StockID uint  `gorm:"index:idx_contract_stock_time;index:idx_contract_identity" json:"stock_id"`
	Stock   Stock `gorm:"foreignKey:StockID;constraint:OnDelete:CASCADE" json:"stock,omitempty"`

	OptionType     string          `gorm:"index:idx_contract_identity" json:"option_type"` // call, put
	StrikePrice    decimal.Decimal `gorm:"type:decimal(10,2);index:idx_contract_identity" json:"strike_price"`
	ExpirationDate time.Time       `gorm:"index:idx_contract_identity;index:idx_contract_expiration" json:"expiration_date"`

	Premium                decimal.Decimal `gorm:"type:decimal(10,2)" json:"premium"`
	StockPriceAtCollection decimal.Decimal `gorm:"type:decimal(10,2)" json:"stock_price_at_collection"`

	ImpliedVolatility *float64 `json:"implied_volatility"`
	Delta             *float64 `json:"delta"`
	Gamma             *float64 `json:"gamma"`
	Theta             *float64 `json:"theta"` // per calendar day
	Vega              *float64 `json:"vega"`  // per 1% volatility change
	Rho               *float64 `json:"rho"`   // per 1% rate change

	Volume       *int64 `json:"volume"`
	OpenInterest *int64 `json:"open_interest"`

	ContractStatus string `gorm:"index:idx_contract_expiration" json:"contract_status"` // active, expired
	DaysToExpiry   int    `json:"days_to_expiry"`

	DataSource          string    `json:"data_source"`
	ScraperRunID        string    `gorm:"index" json:"scraper_run_id"`
	CollectionTimestamp time.Time `gorm:"index:idx_contract_stock_time;index" json:"collection_timestamp"`

	CreatedAt time.Time `json:"created_at"`
}

// MigrateOptionModels runs auto-migration for options contract tables
func MigrateOptionModels(db *gorm.DB) error {
	return db.AutoMigrate(&OptionContract{})
}
