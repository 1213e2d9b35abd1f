package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"options_scraper_backend/models"
)

// RunHistoryService persists scrape runs and their per-stock logs to
// PostgreSQL, and mirrors summary metrics into the local store so the
// archive survives a primary database outage.
type RunHistoryService struct {
	db         *gorm.DB
	localStore *LocalStore
	now        func() time.Time
}

func NewRunHistoryService(db *gorm.DB, localStore *LocalStore) *RunHistoryService {
	return &RunHistoryService{
		db:         db,
		localStore: localStore,
		now:        time.Now,
	}
}

// StartRun opens a new run record in the running state.
func (s *RunHistoryService) StartRun(totalStocks int) (*models.ScraperRun, error) {
	now := s.now()
	run := models.ScraperRun{
		RunLabel:    fmt.Sprintf("run_%s", now.Format("20060102_150405")),
		StartTime:   now,
		Status:      models.RunStatusRunning,
		TotalStocks: totalStocks,
	}
	if err := s.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create scraper run: %w", err)
	}
	return &run, nil
}

// LogStock appends a per-stock outcome row and updates the run
// counters in memory. The row is written immediately so a crashed run
// still shows how far it got.
func (s *RunHistoryService) LogStock(run *models.ScraperRun, ticker, status string, sourceUsed *string, contractsScraped *int, errorMessage *string) error {
	entry := models.StockScrapeLog{
		RunID:            run.ID,
		Ticker:           ticker,
		Status:           status,
		SourceUsed:       sourceUsed,
		ContractsScraped: contractsScraped,
		ErrorMessage:     errorMessage,
		Timestamp:        s.now(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to log stock result: %w", err)
	}

	switch status {
	case models.ScrapeStatusSuccess:
		run.SuccessfulStocks++
		if contractsScraped != nil {
			run.TotalContracts += *contractsScraped
		}
	case models.ScrapeStatusFailed:
		run.FailedStocks++
	}
	return nil
}

// CompleteRun closes the run with the given status and archives its
// summary metrics locally.
func (s *RunHistoryService) CompleteRun(run *models.ScraperRun, status string) error {
	now := s.now()
	run.EndTime = &now
	run.Status = status
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("failed to complete scraper run: %w", err)
	}

	if s.localStore != nil {
		record := RunMetricsRecord{
			RunLabel:         run.RunLabel,
			StartTime:        run.StartTime,
			EndTime:          now,
			DurationSeconds:  now.Sub(run.StartTime).Seconds(),
			TotalStocks:      run.TotalStocks,
			SuccessfulStocks: run.SuccessfulStocks,
			FailedStocks:     run.FailedStocks,
			TotalContracts:   run.TotalContracts,
		}
		if run.SuccessfulStocks > 0 {
			record.ContractsPerStock = float64(run.TotalContracts) / float64(run.SuccessfulStocks)
		}
		if err := s.localStore.ArchiveRunMetrics(record); err != nil {
			log.Printf("Failed to archive run metrics for %s: %v", run.RunLabel, err)
		}
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without their
// per-stock logs.
func (s *RunHistoryService) ListRuns(limit int) ([]models.ScraperRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ScraperRun
	err := s.db.Order("start_time DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scraper runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run with its per-stock logs in scrape order.
func (s *RunHistoryService) GetRun(id uint) (*models.ScraperRun, error) {
	var run models.ScraperRun
	err := s.db.Preload("StockLogs", func(db *gorm.DB) *gorm.DB {
		return db.Order("timestamp ASC")
	}).First(&run, id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recent run, or nil when none exist yet.
func (s *RunHistoryService) LatestRun() (*models.ScraperRun, error) {
	var run models.ScraperRun
	err := s.db.Order("start_time DESC").First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// PruneRuns deletes runs that started before the cutoff, along with
// their logs, and prunes the local metrics archive to match.
func (s *RunHistoryService) PruneRuns(cutoff time.Time) (int64, error) {
	result := s.db.Where("start_time < ?", cutoff).Delete(&models.ScraperRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune scraper runs: %w", result.Error)
	}
	if s.localStore != nil {
		if _, err := s.localStore.PruneRunMetrics(cutoff); err != nil {
			log.Printf("Failed to prune local run metrics: %v", err)
		}
	}
	return result.RowsAffected, nil
}

// ProgressSnapshot is a point-in-time view of the run in flight,
// suitable for JSON responses and websocket broadcasts. The stock
// lists carry tickers in iteration order.
type ProgressSnapshot struct {
	IsRunning           bool       `json:"is_running"`
	RunID               uint       `json:"run_id,omitempty"`
	RunLabel            string     `json:"run_label,omitempty"`
	TotalStocks         int        `json:"total_stocks"`
	CompletedStocks     int        `json:"completed_stocks"`
	CurrentStock        string     `json:"current_stock,omitempty"`
	CurrentSource       string     `json:"current_source,omitempty"`
	PendingStocks       []string   `json:"pending_stocks"`
	CompletedStockList  []string   `json:"completed_stock_list"`
	FailedStocks        []string   `json:"failed_stocks"`
	ContractCount       int        `json:"contract_count"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ProgressTracker holds live progress for the run in flight. Writers
// are the scraper goroutine; readers are the status API and the
// websocket hub.
type ProgressTracker struct {
	mu       sync.RWMutex
	snapshot ProgressSnapshot
	now      func() time.Time
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{now: time.Now}
}

func (t *ProgressTracker) BeginRun(run *models.ScraperRun, tickers []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started := run.StartTime
	pending := make([]string, len(tickers))
	copy(pending, tickers)
	t.snapshot = ProgressSnapshot{
		IsRunning:          true,
		RunID:              run.ID,
		RunLabel:           run.RunLabel,
		TotalStocks:        len(tickers),
		PendingStocks:      pending,
		CompletedStockList: []string{},
		FailedStocks:       []string{},
		StartTime:          &started,
		UpdatedAt:          t.now(),
	}
}

// SetCurrent marks the ticker being scraped and removes it from the
// pending list. The source stays unknown until the price resolves.
func (t *ProgressTracker) SetCurrent(ticker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.CurrentStock = ticker
	t.snapshot.CurrentSource = ""
	pending := make([]string, 0, len(t.snapshot.PendingStocks))
	for _, p := range t.snapshot.PendingStocks {
		if p != ticker {
			pending = append(pending, p)
		}
	}
	t.snapshot.PendingStocks = pending
	t.snapshot.UpdatedAt = t.now()
}

func (t *ProgressTracker) RecordSuccess(ticker, source string, contracts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.CompletedStockList = append(t.snapshot.CompletedStockList, ticker)
	t.snapshot.CurrentSource = source
	t.snapshot.ContractCount += contracts
	t.finishStockLocked()
}

func (t *ProgressTracker) RecordFailure(ticker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.FailedStocks = append(t.snapshot.FailedStocks, ticker)
	t.finishStockLocked()
}

// finishStockLocked advances the completion counter and projects the
// finish time from the average pace so far. Callers hold mu.
func (t *ProgressTracker) finishStockLocked() {
	t.snapshot.CompletedStocks++
	now := t.now()
	t.snapshot.UpdatedAt = now
	if t.snapshot.StartTime == nil {
		return
	}
	perStock := now.Sub(*t.snapshot.StartTime) / time.Duration(t.snapshot.CompletedStocks)
	remaining := t.snapshot.TotalStocks - t.snapshot.CompletedStocks
	if remaining < 0 {
		remaining = 0
	}
	eta := now.Add(perStock * time.Duration(remaining))
	t.snapshot.EstimatedCompletion = &eta
}

// EndRun clears the running flag but keeps the final lists and
// counters so the last run's totals remain visible until the next one
// starts.
func (t *ProgressTracker) EndRun() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.IsRunning = false
	t.snapshot.CurrentStock = ""
	t.snapshot.CurrentSource = ""
	t.snapshot.EstimatedCompletion = nil
	t.snapshot.UpdatedAt = t.now()
}

// Snapshot copies the current state. The lists are cloned so callers
// can marshal them while the run keeps appending.
func (t *ProgressTracker) Snapshot() ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.snapshot
	snap.PendingStocks = append([]string{}, t.snapshot.PendingStocks...)
	snap.CompletedStockList = append([]string{}, t.snapshot.CompletedStockList...)
	snap.FailedStocks = append([]string{}, t.snapshot.FailedStocks...)
	return snap
}
