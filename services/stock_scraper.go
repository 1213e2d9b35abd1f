package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"options_scraper_backend/models"
	"options_scraper_backend/services/providers"
)

const (
	chainFetchAttempts  = 3
	chainRetryBaseDelay = 1 * time.Second
)

// ScrapeOutcome summarizes one ticker's scrape for the run loop.
type ScrapeOutcome struct {
	Ticker           string
	Status           string
	SourceUsed       string
	ContractsScraped int
	RateLimited      bool
	Err              error
}

// StockScraper scrapes one ticker end to end: price, expirations,
// then the chain for each retained expiration. One ticker's failure
// never aborts the run; every path returns an outcome and writes a
// per-stock log row.
type StockScraper struct {
	db      *gorm.DB
	prices  *PriceFetcher
	chains  providers.Provider
	greeks  *GreeksCalculator
	history *RunHistoryService
	archive *ChainArchive
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewStockScraper(db *gorm.DB, prices *PriceFetcher, chains providers.Provider, greeks *GreeksCalculator, history *RunHistoryService, archive *ChainArchive) *StockScraper {
	return &StockScraper{
		db:      db,
		prices:  prices,
		chains:  chains,
		greeks:  greeks,
		history: history,
		archive: archive,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// ScrapeStock scrapes one ticker. A price failure is fatal for the
// ticker. Expirations are truncated to the nearest maxExpirations,
// ascending, since near-term contracts carry most of the activity.
// A rate-limit response on a chain fetch abandons the remaining
// expirations instead of retrying into the limit.
func (s *StockScraper) ScrapeStock(ctx context.Context, run *models.ScraperRun, stock models.Stock, maxExpirations int) ScrapeOutcome {
	outcome := ScrapeOutcome{Ticker: stock.Ticker, Status: models.ScrapeStatusFailed}

	price, err := s.prices.GetLivePrice(stock.Ticker, false)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to fetch stock price: %w", err)
		s.logOutcome(run, &outcome)
		return outcome
	}
	outcome.SourceUsed = price.Source

	expirations, err := s.fetchExpirationsWithRetry(ctx, stock.Ticker)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to fetch option expirations: %w", err)
		s.logOutcome(run, &outcome)
		return outcome
	}
	if len(expirations) == 0 {
		outcome.Err = fmt.Errorf("no options available for %s", stock.Ticker)
		s.logOutcome(run, &outcome)
		return outcome
	}

	sort.Slice(expirations, func(i, j int) bool { return expirations[i].Before(expirations[j]) })
	if maxExpirations > 0 && len(expirations) > maxExpirations {
		expirations = expirations[:maxExpirations]
	}

	collectionTime := s.now()
	records := make([]models.OptionContract, 0, 256)
	attempted := 0
	succeeded := 0
	var lastChainErr error

	for _, expiration := range expirations {
		if ctx.Err() != nil {
			break
		}

		daysToExpiry := s.greeks.DaysToExpiry(expiration, collectionTime)
		if daysToExpiry <= 0 {
			continue
		}
		attempted++

		chain, err := s.fetchChainWithRetry(ctx, stock.Ticker, expiration)
		if err != nil {
			lastChainErr = err
			if errors.Is(err, providers.ErrRateLimited) {
				outcome.RateLimited = true
				log.Printf("Rate limited fetching chain for %s %s, skipping remaining expirations",
					stock.Ticker, expiration.Format("2006-01-02"))
				break
			}
			log.Printf("Failed to process expiration %s for %s: %v",
				expiration.Format("2006-01-02"), stock.Ticker, err)
			continue
		}
		succeeded++

		records = append(records, s.contractsFromChain(stock, chain, price.Price, daysToExpiry, collectionTime, run.RunLabel)...)
		s.archiveChain(run.RunLabel, stock.Ticker, chain, collectionTime)
	}

	if attempted > 0 && succeeded == 0 {
		if lastChainErr != nil {
			outcome.Err = fmt.Errorf("all expirations failed: %w", lastChainErr)
		} else {
			outcome.Err = errors.New("scrape cancelled before any chain was fetched")
		}
		s.logOutcome(run, &outcome)
		return outcome
	}

	if len(records) > 0 {
		if err := s.db.CreateInBatches(records, 500).Error; err != nil {
			outcome.Err = fmt.Errorf("failed to persist contracts: %w", err)
			s.logOutcome(run, &outcome)
			return outcome
		}
	}

	outcome.Status = models.ScrapeStatusSuccess
	outcome.ContractsScraped = len(records)
	s.logOutcome(run, &outcome)
	return outcome
}

func (s *StockScraper) fetchExpirationsWithRetry(ctx context.Context, ticker string) ([]time.Time, error) {
	var lastErr error
	for attempt := 0; attempt < chainFetchAttempts; attempt++ {
		expirations, err := s.chains.FetchExpirations(ticker)
		if err == nil {
			return expirations, nil
		}
		lastErr = err
		if attempt < chainFetchAttempts-1 {
			delay := chainRetryBaseDelay << attempt // 1s, 2s, 4s
			log.Printf("Retry %d/%d for %s expirations: %v", attempt+1, chainFetchAttempts, ticker, err)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// fetchChainWithRetry retries transient chain failures. A rate-limit
// error is returned at once; retrying into a limit only deepens it.
func (s *StockScraper) fetchChainWithRetry(ctx context.Context, ticker string, expiration time.Time) (*providers.Chain, error) {
	var lastErr error
	for attempt := 0; attempt < chainFetchAttempts; attempt++ {
		chain, err := s.chains.FetchChain(ticker, expiration)
		if err == nil {
			return chain, nil
		}
		if errors.Is(err, providers.ErrRateLimited) {
			return nil, err
		}
		lastErr = err
		if attempt < chainFetchAttempts-1 {
			delay := chainRetryBaseDelay << attempt // 1s, 2s, 4s
			log.Printf("Retry %d/%d for %s chain %s: %v", attempt+1, chainFetchAttempts, ticker, expiration.Format("2006-01-02"), err)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func (s *StockScraper) contractsFromChain(stock models.Stock, chain *providers.Chain, stockPrice float64, daysToExpiry int, collectionTime time.Time, runLabel string) []models.OptionContract {
	records := make([]models.OptionContract, 0, len(chain.Calls)+len(chain.Puts))
	for _, row := range chain.Calls {
		if record, ok := s.contractFromRow(stock, row, models.OptionTypeCall, stockPrice, chain.Expiration, daysToExpiry, collectionTime, runLabel); ok {
			records = append(records, record)
		}
	}
	for _, row := range chain.Puts {
		if record, ok := s.contractFromRow(stock, row, models.OptionTypePut, stockPrice, chain.Expiration, daysToExpiry, collectionTime, runLabel); ok {
			records = append(records, record)
		}
	}
	return records
}

func (s *StockScraper) contractFromRow(stock models.Stock, row providers.ChainContract, optionType string, stockPrice float64, expiration time.Time, daysToExpiry int, collectionTime time.Time, runLabel string) (models.OptionContract, bool) {
	premium := extractPremium(row)
	if premium <= 0 {
		return models.OptionContract{}, false
	}

	var iv *float64
	var greeks Greeks
	if row.ImpliedVolatility > 0 {
		v := row.ImpliedVolatility
		iv = &v
		greeks = s.greeks.Calculate(stockPrice, row.Strike, daysToExpiry, v, optionType)
	}

	record := models.OptionContract{
		StockID:                stock.ID,
		OptionType:             optionType,
		StrikePrice:            decimal.NewFromFloat(row.Strike),
		ExpirationDate:         expiration,
		Premium:                decimal.NewFromFloat(premium),
		StockPriceAtCollection: decimal.NewFromFloat(stockPrice),
		ImpliedVolatility:      iv,
		Delta:                  greeks.Delta,
		Gamma:                  greeks.Gamma,
		Theta:                  greeks.Theta,
		Vega:                   greeks.Vega,
		Rho:                    greeks.Rho,
		Volume:                 row.Volume,
		OpenInterest:           row.OpenInterest,
		ContractStatus:         models.ContractStatusActive,
		DaysToExpiry:           daysToExpiry,
		DataSource:             s.chains.Name(),
		ScraperRunID:           runLabel,
		CollectionTimestamp:    collectionTime,
	}
	return record, true
}

// extractPremium prefers the last traded price, then the bid/ask
// midpoint when both sides are quoted, then whichever side exists.
func extractPremium(row providers.ChainContract) float64 {
	if row.LastPrice > 0 {
		return row.LastPrice
	}
	if row.Bid > 0 && row.Ask > 0 {
		return (row.Bid + row.Ask) / 2
	}
	if row.Bid > 0 {
		return row.Bid
	}
	return row.Ask
}

func (s *StockScraper) archiveChain(runLabel, ticker string, chain *providers.Chain, capturedAt time.Time) {
	if !s.archive.IsConfigured() {
		return
	}
	doc := ChainDocument{
		RunLabel:   runLabel,
		Ticker:     ticker,
		Expiration: chain.Expiration,
		CapturedAt: capturedAt,
		CallCount:  len(chain.Calls),
		PutCount:   len(chain.Puts),
		Source:     s.chains.Name(),
		Payload:    chain.Raw,
	}
	if err := s.archive.ArchiveChain(doc); err != nil {
		log.Printf("Failed to archive chain for %s: %v", ticker, err)
	}
}

func (s *StockScraper) logOutcome(run *models.ScraperRun, outcome *ScrapeOutcome) {
	var sourceUsed *string
	if outcome.SourceUsed != "" {
		sourceUsed = &outcome.SourceUsed
	}
	var contracts *int
	var errorMessage *string
	if outcome.Status == models.ScrapeStatusSuccess {
		contracts = &outcome.ContractsScraped
	} else if outcome.Err != nil {
		msg := outcome.Err.Error()
		errorMessage = &msg
	}
	if err := s.history.LogStock(run, outcome.Ticker, outcome.Status, sourceUsed, contracts, errorMessage); err != nil {
		log.Printf("Failed to write scrape log for %s: %v", outcome.Ticker, err)
	}
}

// MarkExpiredContracts flips active contracts whose expiration date
// has passed. Returns the number of rows updated.
func (s *StockScraper) MarkExpiredContracts() (int64, error) {
	today := s.now().Truncate(24 * time.Hour)
	result := s.db.Model(&models.OptionContract{}).
		Where("expiration_date < ? AND contract_status = ?", today, models.ContractStatusActive).
		Update("contract_status", models.ContractStatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark expired contracts: %w", result.Error)
	}
	log.Printf("Marked %d contracts as expired", result.RowsAffected)
	return result.RowsAffected, nil
}

// sleepContext sleeps for d unless the context is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
