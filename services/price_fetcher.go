package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"options_scraper_backend/models"
	"options_scraper_backend/services/providers"
)

const priceCacheTTL = 10 * time.Minute

// PriceResult is a resolved price with its provenance.
type PriceResult struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Cached    bool      `json:"cached"`
}

type cachedPrice struct {
	price     float64
	source    string
	fetchedAt time.Time
}

// PriceFetcher resolves live prices by walking the provider list in
// priority order, with a short read cache in front and the latest
// stored snapshot as a fallback when every provider is down.
type PriceFetcher struct {
	db        *gorm.DB
	providers []providers.Provider
	health    *SourceHealthTracker

	mu    sync.RWMutex
	cache map[string]cachedPrice

	now func() time.Time
}

func NewPriceFetcher(db *gorm.DB, provs []providers.Provider, health *SourceHealthTracker) *PriceFetcher {
	return &PriceFetcher{
		db:        db,
		providers: provs,
		health:    health,
		cache:     make(map[string]cachedPrice),
		now:       time.Now,
	}
}

// GetLivePrice returns the current price for a ticker. Cache hits are
// served without touching any provider unless forceRefresh is set.
func (f *PriceFetcher) GetLivePrice(ticker string, forceRefresh bool) (*PriceResult, error) {
	if !forceRefresh {
		if result, ok := f.cachedResult(ticker); ok {
			return result, nil
		}
	}

	var lastErr error
	for _, p := range f.providers {
		if !p.Enabled() {
			continue
		}
		if !f.health.IsAvailable(p.Name()) {
			continue
		}

		quote, err := p.FetchQuote(ticker)
		if err != nil {
			f.health.RecordFailure(p.Name())
			lastErr = err
			continue
		}

		f.health.RecordSuccess(p.Name())
		f.storeResult(ticker, quote.Price, p.Name())
		return &PriceResult{
			Ticker:    ticker,
			Price:     quote.Price,
			Source:    p.Name(),
			Timestamp: f.now(),
		}, nil
	}

	if result, err := f.storedPrice(ticker); err == nil {
		log.Printf("All live sources unavailable for %s, serving stored price from %s", ticker, result.Timestamp.Format(time.RFC3339))
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no price available for %s: %w", ticker, lastErr)
	}
	return nil, fmt.Errorf("no price available for %s: all sources disabled or cooling down", ticker)
}

func (f *PriceFetcher) cachedResult(ticker string) (*PriceResult, bool) {
	f.mu.RLock()
	entry, ok := f.cache[ticker]
	f.mu.RUnlock()
	if !ok || f.now().Sub(entry.fetchedAt) >= priceCacheTTL {
		return nil, false
	}
	return &PriceResult{
		Ticker:    ticker,
		Price:     entry.price,
		Source:    entry.source,
		Timestamp: entry.fetchedAt,
		Cached:    true,
	}, true
}

func (f *PriceFetcher) storeResult(ticker string, price float64, source string) {
	now := f.now()

	f.mu.Lock()
	f.cache[ticker] = cachedPrice{price: price, source: source, fetchedAt: now}
	f.mu.Unlock()

	if f.db == nil {
		return
	}
	snapshot := models.StockPriceSnapshot{
		Ticker:     ticker,
		Price:      decimal.NewFromFloat(price),
		Source:     source,
		RecordedAt: now,
	}
	if err := f.db.Create(&snapshot).Error; err != nil {
		log.Printf("Failed to record price snapshot for %s: %v", ticker, err)
	}
}

// storedPrice reads the most recent snapshot for a ticker. Used only
// when every live source has failed or is cooling down.
func (f *PriceFetcher) storedPrice(ticker string) (*PriceResult, error) {
	if f.db == nil {
		return nil, errors.New("no database configured")
	}
	var snapshot models.StockPriceSnapshot
	err := f.db.Where("ticker = ?", ticker).Order("recorded_at DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	price, _ := snapshot.Price.Float64()
	return &PriceResult{
		Ticker:    ticker,
		Price:     price,
		Source:    providers.SourceDatabase,
		Timestamp: snapshot.RecordedAt,
	}, nil
}

// InvalidateCache drops the cached price for one ticker, or all of
// them when ticker is empty.
func (f *PriceFetcher) InvalidateCache(ticker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ticker == "" {
		f.cache = make(map[string]cachedPrice)
		return
	}
	delete(f.cache, ticker)
}

// SourceStatuses exposes the health tracker state for the status API.
func (f *PriceFetcher) SourceStatuses() []SourceState {
	return f.health.Snapshot()
}
