package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"options_scraper_backend/models"
	"options_scraper_backend/services/providers"
)

// newTestDB opens an isolated in-memory database. A single connection
// keeps every query on the same in-memory instance.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateStockModels(db))
	require.NoError(t, models.MigrateOptionModels(db))
	require.NoError(t, models.MigrateScraperModels(db))
	require.NoError(t, models.MigrateScheduleModels(db))

	return db
}

// fakeProvider lets each test script provider behavior per call
type fakeProvider struct {
	name           string
	enabled        bool
	supportsChains bool

	quoteCalls int
	chainCalls int

	fetchQuote       func(ticker string) (*providers.Quote, error)
	fetchExpirations func(ticker string) ([]time.Time, error)
	fetchChain       func(ticker string, expiration time.Time) (*providers.Chain, error)
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) Enabled() bool        { return f.enabled }
func (f *fakeProvider) SupportsChains() bool { return f.supportsChains }

func (f *fakeProvider) FetchQuote(ticker string) (*providers.Quote, error) {
	f.quoteCalls++
	if f.fetchQuote == nil {
		return nil, providers.ErrNoData
	}
	return f.fetchQuote(ticker)
}

func (f *fakeProvider) FetchExpirations(ticker string) ([]time.Time, error) {
	if f.fetchExpirations == nil {
		return nil, providers.ErrChainsNotSupported
	}
	return f.fetchExpirations(ticker)
}

func (f *fakeProvider) FetchChain(ticker string, expiration time.Time) (*providers.Chain, error) {
	f.chainCalls++
	if f.fetchChain == nil {
		return nil, providers.ErrChainsNotSupported
	}
	return f.fetchChain(ticker, expiration)
}

// addWatchlistStock seeds a stock with an active watchlist entry
func addWatchlistStock(t *testing.T, db *gorm.DB, ticker string) models.Stock {
	t.Helper()

	stock := models.Stock{Ticker: ticker, CompanyName: ticker + " Inc", Status: models.StockStatusActive}
	require.NoError(t, db.Create(&stock).Error)
	entry := models.WatchlistEntry{StockID: stock.ID, MonitoringStatus: models.MonitoringStatusActive}
	require.NoError(t, db.Create(&entry).Error)
	return stock
}
