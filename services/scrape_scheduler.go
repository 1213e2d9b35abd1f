package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"options_scraper_backend/models"
)

// Trigger evaluation cadence. Each tick re-reads the schedule so
// configuration changes apply without a restart.
const triggerEvaluationInterval = 1 * time.Minute

var (
	// ErrSchedulerNotRunning is returned by TriggerNow before Start or
	// after Stop.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	// ErrRunInProgress is returned when a trigger arrives while a run
	// holds the run lock.
	ErrRunInProgress = errors.New("a scrape run is already in progress")
)

var validWeekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// UpdateScheduleRequest is a partial schedule update. Nil fields keep
// their current values.
type UpdateScheduleRequest struct {
	PollingIntervalMinutes *int      `json:"polling_interval_minutes"`
	StockDelaySeconds      *int      `json:"stock_delay_seconds"`
	MaxExpirations         *int      `json:"max_expirations"`
	MarketHoursStart       *string   `json:"market_hours_start"`
	MarketHoursEnd         *string   `json:"market_hours_end"`
	Timezone               *string   `json:"timezone"`
	ExcludedDays           *[]string `json:"excluded_days"`
}

type triggerRequest struct {
	bypassInterval bool
	bypassGating   bool
}

// ScrapeScheduler owns the scheduling state machine. A single loop
// goroutine evaluates triggers once a minute; runs execute on a worker
// goroutine holding runMu, so at most one run exists at a time. All
// external reads go through snapshot methods.
type ScrapeScheduler struct {
	db       *gorm.DB
	scraper  *StockScraper
	history  *RunHistoryService
	progress *ProgressTracker
	hub      *ProgressHub

	mu        sync.RWMutex
	schedule  models.ScraperSchedule
	isRunning bool
	runActive bool
	stopChan  chan struct{}
	trigger   chan triggerRequest
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	runMu sync.Mutex

	now func() time.Time
}

// NewScrapeScheduler loads the singleton schedule row, creating the
// default when missing. The scheduler always comes up paused; a
// restart must never start spending the request budget on its own.
func NewScrapeScheduler(db *gorm.DB, scraper *StockScraper, history *RunHistoryService, progress *ProgressTracker, hub *ProgressHub) (*ScrapeScheduler, error) {
	var schedule models.ScraperSchedule
	err := db.First(&schedule, models.ScheduleConfigID).Error
	if err == gorm.ErrRecordNotFound {
		schedule = *models.DefaultScraperSchedule()
		if err := db.Create(&schedule).Error; err != nil {
			return nil, fmt.Errorf("failed to create default schedule: %w", err)
		}
		log.Println("Created default scraper schedule")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load scraper schedule: %w", err)
	}

	if !schedule.Paused || schedule.Status == models.SchedulerStatusRunning {
		log.Println("Setting scheduler to paused on startup to prevent rate limiting")
		log.Println("Rate limits: 60/min, 360/hour, 8000/day. Resume manually after reviewing the watchlist.")
		schedule.Paused = true
		schedule.Status = models.SchedulerStatusPaused
		if err := db.Save(&schedule).Error; err != nil {
			return nil, fmt.Errorf("failed to persist paused schedule: %w", err)
		}
	}

	return &ScrapeScheduler{
		db:       db,
		scraper:  scraper,
		history:  history,
		progress: progress,
		hub:      hub,
		schedule: schedule,
		trigger:  make(chan triggerRequest, 1),
		now:      time.Now,
	}, nil
}

// Start launches the trigger evaluation loop
func (s *ScrapeScheduler) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	paused := s.schedule.Paused
	s.mu.Unlock()

	go s.run()

	log.Printf("Scrape scheduler started (paused=%v)", paused)
	return nil
}

// Stop halts the loop and cancels any in-flight run, waiting for the
// run goroutine to finish its bookkeeping.
func (s *ScrapeScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	cancel := s.runCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.runWG.Wait()

	log.Println("Scrape scheduler stopped")
}

// IsRunning reports whether the evaluation loop is active
func (s *ScrapeScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *ScrapeScheduler) run() {
	ticker := time.NewTicker(triggerEvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case req := <-s.trigger:
			s.evaluateTrigger(req)
		case <-ticker.C:
			s.evaluateTrigger(triggerRequest{})
		}
	}
}

// evaluateTrigger decides whether a run starts now. Interval ticks are
// gated on the paused flag, excluded days, market hours and the next
// run time; forced requests skip the interval wait, and manual
// triggers skip gating entirely. The single-run lock is checked last
// in every path.
func (s *ScrapeScheduler) evaluateTrigger(req triggerRequest) {
	cfg := s.Config()
	forced := req.bypassGating

	if !forced && cfg.Paused {
		return
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("Invalid schedule timezone %q: %v", cfg.Timezone, err)
		return
	}
	now := s.now().In(loc)

	if !forced {
		if isExcludedDay(now, cfg.ExcludedDaysList()) {
			return
		}
		if !withinMarketHours(now, cfg.MarketHoursStart, cfg.MarketHoursEnd) {
			return
		}
		if !req.bypassInterval && cfg.NextRun != nil && now.Before(cfg.NextRun.In(loc)) {
			return
		}
	}

	s.startRun(cfg)
}

func (s *ScrapeScheduler) startRun(cfg models.ScraperSchedule) {
	if !s.runMu.TryLock() {
		log.Println("Skipping trigger: a scrape run is already in progress")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runCancel = cancel
	s.runActive = true
	s.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			s.runCancel = nil
			s.runActive = false
			s.mu.Unlock()
			cancel()
			s.runMu.Unlock()
			s.runWG.Done()
		}()
		s.executeRun(ctx, cfg)
	}()
}

// executeRun performs one pass over the active watchlist. Per-stock
// failures are contained by the stock scraper; anything that escapes
// here moves the scheduler to the error state until the next valid
// trigger starts a fresh run.
func (s *ScrapeScheduler) executeRun(ctx context.Context, cfg models.ScraperSchedule) {
	var run *models.ScraperRun
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scrape run panicked: %v", r)
			if run != nil {
				if err := s.history.CompleteRun(run, models.RunStatusFailed); err != nil {
					log.Printf("Failed to close panicked run %s: %v", run.RunLabel, err)
				}
			}
			s.progress.EndRun()
			s.finishRun(models.SchedulerStatusError, fmt.Sprintf("run panicked: %v", r))
		}
	}()

	s.transitionToRunning()

	stocks, err := s.ActiveWatchlist()
	if err != nil {
		log.Printf("Failed to load active watchlist: %v", err)
		s.finishRun(models.SchedulerStatusError, fmt.Sprintf("failed to load watchlist: %v", err))
		return
	}

	run, err = s.history.StartRun(len(stocks))
	if err != nil {
		log.Printf("Failed to open scraper run: %v", err)
		s.finishRun(models.SchedulerStatusError, fmt.Sprintf("failed to open run: %v", err))
		return
	}

	log.Printf("Starting scrape run %s: %d active stocks", run.RunLabel, len(stocks))
	tickers := make([]string, len(stocks))
	for i, stock := range stocks {
		tickers[i] = stock.Ticker
	}
	s.progress.BeginRun(run, tickers)
	s.broadcastProgress()

	cancelled := false
	for i, stock := range stocks {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		s.progress.SetCurrent(stock.Ticker)
		s.broadcastProgress()

		outcome := s.scraper.ScrapeStock(ctx, run, stock, cfg.MaxExpirations)
		if outcome.Status == models.ScrapeStatusSuccess {
			s.progress.RecordSuccess(stock.Ticker, outcome.SourceUsed, outcome.ContractsScraped)
			log.Printf("Scraped %s: %d contracts", stock.Ticker, outcome.ContractsScraped)
		} else {
			s.progress.RecordFailure(stock.Ticker)
			log.Printf("Scrape failed for %s: %v", stock.Ticker, outcome.Err)
		}
		s.broadcastProgress()

		if i < len(stocks)-1 && cfg.StockDelaySeconds > 0 {
			if err := sleepContext(ctx, time.Duration(cfg.StockDelaySeconds)*time.Second); err != nil {
				cancelled = true
				break
			}
		}
	}

	runStatus := models.RunStatusCompleted
	errorMessage := ""
	if cancelled {
		runStatus = models.RunStatusFailed
		errorMessage = "run cancelled before completion"
		log.Printf("Scrape run %s cancelled after %d/%d stocks", run.RunLabel, run.SuccessfulStocks+run.FailedStocks, run.TotalStocks)
	}

	if err := s.history.CompleteRun(run, runStatus); err != nil {
		log.Printf("Failed to close scraper run %s: %v", run.RunLabel, err)
		errorMessage = fmt.Sprintf("failed to close run: %v", err)
	}

	s.progress.EndRun()
	s.broadcastProgress()

	duration := float64(0)
	if run.EndTime != nil {
		duration = run.EndTime.Sub(run.StartTime).Seconds()
	}
	log.Printf("Scrape run %s completed: %d/%d stocks succeeded, %d contracts, %.2fs",
		run.RunLabel, run.SuccessfulStocks, run.TotalStocks, run.TotalContracts, duration)

	if errorMessage != "" {
		s.finishRun(models.SchedulerStatusError, errorMessage)
	} else {
		s.finishRun("", "")
	}
}

func (s *ScrapeScheduler) transitionToRunning() {
	now := s.now()
	s.mu.Lock()
	s.schedule.Status = models.SchedulerStatusRunning
	s.schedule.LastRun = &now
	if err := s.db.Save(&s.schedule).Error; err != nil {
		log.Printf("Failed to persist running status: %v", err)
	}
	s.mu.Unlock()
	s.broadcastSchedulerState()
}

// finishRun records the post-run state and the next run time, using
// the interval in effect now rather than the one the run started
// with. An empty status resolves to paused or idle.
func (s *ScrapeScheduler) finishRun(status, errorMessage string) {
	s.mu.Lock()
	next := s.now().Add(time.Duration(s.schedule.PollingIntervalMinutes) * time.Minute)
	if status == "" {
		if s.schedule.Paused {
			status = models.SchedulerStatusPaused
		} else {
			status = models.SchedulerStatusIdle
		}
	}
	s.schedule.Status = status
	s.schedule.LastErrorMessage = errorMessage
	s.schedule.NextRun = &next
	if err := s.db.Save(&s.schedule).Error; err != nil {
		log.Printf("Failed to persist schedule after run: %v", err)
	}
	s.mu.Unlock()
	s.broadcastSchedulerState()
}

// ActiveWatchlist returns the stocks eligible for scraping: active
// stocks with an active watchlist entry, in stable ticker order.
func (s *ScrapeScheduler) ActiveWatchlist() ([]models.Stock, error) {
	var stocks []models.Stock
	err := s.db.
		Joins("JOIN watchlist_entries ON watchlist_entries.stock_id = stocks.id").
		Where("watchlist_entries.monitoring_status = ? AND stocks.status = ?",
			models.MonitoringStatusActive, models.StockStatusActive).
		Order("stocks.ticker ASC").
		Find(&stocks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active watchlist: %w", err)
	}
	return stocks, nil
}

// Config returns a snapshot of the current schedule
func (s *ScrapeScheduler) Config() models.ScraperSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// RunInProgress reports whether a scrape run is executing right now
func (s *ScrapeScheduler) RunInProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runActive
}

// UpdateConfig validates and applies a partial schedule update. The
// new values take effect at the next trigger evaluation; an in-flight
// run keeps the configuration it started with.
func (s *ScrapeScheduler) UpdateConfig(req UpdateScheduleRequest) (models.ScraperSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, intervalChanged, err := applyScheduleUpdate(s.schedule, req)
	if err != nil {
		return models.ScraperSchedule{}, err
	}

	if intervalChanged {
		next := s.now().Add(time.Duration(updated.PollingIntervalMinutes) * time.Minute)
		updated.NextRun = &next
	}

	if err := s.db.Save(&updated).Error; err != nil {
		return models.ScraperSchedule{}, fmt.Errorf("failed to persist schedule: %w", err)
	}
	s.schedule = updated

	log.Printf("Scheduler configuration updated: interval=%dmin, delay=%ds, max_expirations=%d, hours=%s-%s %s",
		updated.PollingIntervalMinutes, updated.StockDelaySeconds, updated.MaxExpirations,
		updated.MarketHoursStart, updated.MarketHoursEnd, updated.Timezone)

	return updated, nil
}

// Pause suppresses future triggers. An in-flight run finishes
// normally.
func (s *ScrapeScheduler) Pause() models.ScraperSchedule {
	s.mu.Lock()
	s.schedule.Paused = true
	if s.schedule.Status != models.SchedulerStatusRunning {
		s.schedule.Status = models.SchedulerStatusPaused
	}
	if err := s.db.Save(&s.schedule).Error; err != nil {
		log.Printf("Failed to persist paused schedule: %v", err)
	}
	snapshot := s.schedule
	s.mu.Unlock()

	log.Println("Scheduler paused")
	s.broadcastSchedulerState()
	return snapshot
}

// Resume clears the paused flag. With startNow the interval wait is
// skipped and a trigger evaluation happens immediately, still subject
// to market-hours and excluded-day gating.
func (s *ScrapeScheduler) Resume(startNow bool) models.ScraperSchedule {
	s.mu.Lock()
	s.schedule.Paused = false
	if s.schedule.Status == models.SchedulerStatusPaused {
		s.schedule.Status = models.SchedulerStatusIdle
	}
	if s.schedule.NextRun == nil {
		next := s.now()
		s.schedule.NextRun = &next
	}
	if err := s.db.Save(&s.schedule).Error; err != nil {
		log.Printf("Failed to persist resumed schedule: %v", err)
	}
	snapshot := s.schedule
	s.mu.Unlock()

	log.Printf("Scheduler resumed (start_now=%v)", startNow)
	s.broadcastSchedulerState()

	if startNow {
		s.queueTrigger(triggerRequest{bypassInterval: true})
	}
	return snapshot
}

// TriggerNow starts a run immediately, bypassing the paused flag and
// all calendar gating. Only the single-run lock still applies.
func (s *ScrapeScheduler) TriggerNow() error {
	s.mu.RLock()
	running := s.isRunning
	active := s.runActive
	s.mu.RUnlock()

	if !running {
		return ErrSchedulerNotRunning
	}
	if active {
		return ErrRunInProgress
	}

	s.queueTrigger(triggerRequest{bypassInterval: true, bypassGating: true})
	log.Println("Manual scrape trigger queued")
	return nil
}

func (s *ScrapeScheduler) queueTrigger(req triggerRequest) {
	select {
	case s.trigger <- req:
	default:
		// An evaluation is already queued
	}
}

func (s *ScrapeScheduler) broadcastProgress() {
	if s.hub != nil {
		s.hub.Broadcast("progress", s.progress.Snapshot())
	}
}

func (s *ScrapeScheduler) broadcastSchedulerState() {
	if s.hub != nil {
		s.hub.Broadcast("scheduler", s.Config())
	}
}

// applyScheduleUpdate merges a partial update onto the current
// schedule, validating every provided field. Invalid values are
// rejected, never clamped.
func applyScheduleUpdate(current models.ScraperSchedule, req UpdateScheduleRequest) (models.ScraperSchedule, bool, error) {
	updated := current
	intervalChanged := false

	if req.PollingIntervalMinutes != nil {
		v := *req.PollingIntervalMinutes
		if v < 1 || v > 1440 {
			return current, false, fmt.Errorf("polling interval must be between 1 and 1440 minutes")
		}
		intervalChanged = v != current.PollingIntervalMinutes
		updated.PollingIntervalMinutes = v
	}
	if req.StockDelaySeconds != nil {
		v := *req.StockDelaySeconds
		if v < 0 || v > 300 {
			return current, false, fmt.Errorf("stock delay must be between 0 and 300 seconds")
		}
		updated.StockDelaySeconds = v
	}
	if req.MaxExpirations != nil {
		v := *req.MaxExpirations
		if v < 1 || v > 100 {
			return current, false, fmt.Errorf("max expirations must be between 1 and 100")
		}
		updated.MaxExpirations = v
	}
	if req.MarketHoursStart != nil {
		if _, err := parseClockMinutes(*req.MarketHoursStart); err != nil {
			return current, false, fmt.Errorf("invalid market_hours_start: %w", err)
		}
		updated.MarketHoursStart = *req.MarketHoursStart
	}
	if req.MarketHoursEnd != nil {
		if _, err := parseClockMinutes(*req.MarketHoursEnd); err != nil {
			return current, false, fmt.Errorf("invalid market_hours_end: %w", err)
		}
		updated.MarketHoursEnd = *req.MarketHoursEnd
	}
	if req.Timezone != nil {
		if *req.Timezone == "" {
			return current, false, fmt.Errorf("timezone must not be empty")
		}
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return current, false, fmt.Errorf("invalid timezone: %s", *req.Timezone)
		}
		updated.Timezone = *req.Timezone
	}
	if req.ExcludedDays != nil {
		normalized, err := normalizeExcludedDays(*req.ExcludedDays)
		if err != nil {
			return current, false, err
		}
		updated.SetExcludedDays(normalized)
	}

	start, _ := parseClockMinutes(updated.MarketHoursStart)
	end, _ := parseClockMinutes(updated.MarketHoursEnd)
	if start >= end {
		return current, false, fmt.Errorf("market hours start must be before market hours end")
	}

	return updated, intervalChanged, nil
}

func normalizeExcludedDays(days []string) ([]string, error) {
	normalized := make([]string, 0, len(days))
	for _, day := range days {
		d := strings.ToLower(strings.TrimSpace(day))
		if d == "" {
			continue
		}
		if validWeekdays[d] {
			normalized = append(normalized, d)
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("invalid excluded day %q: use a weekday name or YYYY-MM-DD date", day)
		}
		normalized = append(normalized, d)
	}
	return normalized, nil
}

// parseClockMinutes parses "HH:MM" into minutes since midnight
func parseClockMinutes(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// withinMarketHours checks now against [start, end) in local wall
// time. Comparing wall-clock minutes keeps the check stable across
// DST transitions.
func withinMarketHours(now time.Time, startStr, endStr string) bool {
	start, err := parseClockMinutes(startStr)
	if err != nil {
		return false
	}
	end, err := parseClockMinutes(endStr)
	if err != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start && minutes < end
}

// isExcludedDay checks the weekday name and the ISO date of now
// against the exclusion list.
func isExcludedDay(now time.Time, excluded []string) bool {
	weekday := strings.ToLower(now.Weekday().String())
	isoDate := now.Format("2006-01-02")
	for _, day := range excluded {
		d := strings.ToLower(strings.TrimSpace(day))
		if d == weekday || d == isoDate {
			return true
		}
	}
	return false
}
