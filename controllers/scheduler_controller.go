package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"options_scraper_backend/models"
	"options_scraper_backend/services"
)

// SchedulerController handles scheduler configuration and control
type SchedulerController struct {
	db        *gorm.DB
	scheduler *services.ScrapeScheduler
	fetcher   *services.PriceFetcher
}

// NewSchedulerController creates a new scheduler controller
func NewSchedulerController(db *gorm.DB, scheduler *services.ScrapeScheduler, fetcher *services.PriceFetcher) *SchedulerController {
	return &SchedulerController{
		db:        db,
		scheduler: scheduler,
		fetcher:   fetcher,
	}
}

// scheduleResponse renders the schedule with the exclusion list
// materialized, since the raw column is JSON text.
func scheduleResponse(cfg models.ScraperSchedule) gin.H {
	return gin.H{
		"id":                       cfg.ID,
		"polling_interval_minutes": cfg.PollingIntervalMinutes,
		"stock_delay_seconds":      cfg.StockDelaySeconds,
		"max_expirations":          cfg.MaxExpirations,
		"market_hours_start":       cfg.MarketHoursStart,
		"market_hours_end":         cfg.MarketHoursEnd,
		"timezone":                 cfg.Timezone,
		"excluded_days":            cfg.ExcludedDaysList(),
		"paused":                   cfg.Paused,
		"status":                   cfg.Status,
		"last_run":                 cfg.LastRun,
		"next_run":                 cfg.NextRun,
		"last_error_message":       cfg.LastErrorMessage,
		"updated_at":               cfg.UpdatedAt,
	}
}

// GetConfig returns the current schedule configuration
// GET /api/v1/scheduler/config
func (sc *SchedulerController) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": scheduleResponse(sc.scheduler.Config())})
}

// UpdateConfig applies a partial schedule update
// PUT /api/v1/scheduler/config
func (sc *SchedulerController) UpdateConfig(c *gin.Context) {
	var req services.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	updated, err := sc.scheduler.UpdateConfig(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler configuration updated",
		"data":    scheduleResponse(updated),
	})
}

// GetStatus returns scheduler state plus source health
// GET /api/v1/scheduler/status
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	cfg := sc.scheduler.Config()

	c.JSON(http.StatusOK, gin.H{
		"status":             cfg.Status,
		"paused":             cfg.Paused,
		"run_in_progress":    sc.scheduler.RunInProgress(),
		"last_run":           cfg.LastRun,
		"next_run":           cfg.NextRun,
		"last_error_message": cfg.LastErrorMessage,
		"sources":            sc.fetcher.SourceStatuses(),
	})
}

// GetSources returns the health snapshot for every price source
// GET /api/v1/scheduler/sources
func (sc *SchedulerController) GetSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": sc.fetcher.SourceStatuses()})
}

// Pause suppresses future scheduled runs
// POST /api/v1/scheduler/pause
func (sc *SchedulerController) Pause(c *gin.Context) {
	cfg := sc.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler paused",
		"data":    scheduleResponse(cfg),
	})
}

// Resume re-enables scheduled runs. With start_now the interval wait
// is skipped; market-hours and excluded-day gating still apply.
// POST /api/v1/scheduler/resume
func (sc *SchedulerController) Resume(c *gin.Context) {
	var req struct {
		StartNow bool `json:"start_now"`
	}
	// An empty body means resume without an immediate trigger
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cfg := sc.scheduler.Resume(req.StartNow)
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler resumed",
		"data":    scheduleResponse(cfg),
	})
}

// GetRateLimits projects request usage for the current configuration.
// Query parameters override individual inputs so the admin UI can
// preview a change before saving it.
// GET /api/v1/scheduler/rate-limits
func (sc *SchedulerController) GetRateLimits(c *gin.Context) {
	cfg := sc.scheduler.Config()

	watchlistSize, err := sc.activeWatchlistSize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count watchlist"})
		return
	}

	interval := cfg.PollingIntervalMinutes
	delay := cfg.StockDelaySeconds
	maxExpirations := cfg.MaxExpirations

	if v := c.Query("watchlist_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			watchlistSize = n
		}
	}
	if v := c.Query("polling_interval_minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = n
		}
	}
	if v := c.Query("stock_delay_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			delay = n
		}
	}
	if v := c.Query("max_expirations"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxExpirations = n
		}
	}

	calc := services.CalculateRateLimits(watchlistSize, interval, delay, maxExpirations)
	c.JSON(http.StatusOK, gin.H{"data": calc})
}

func (sc *SchedulerController) activeWatchlistSize() (int, error) {
	var count int64
	err := sc.db.Model(&models.WatchlistEntry{}).
		Joins("JOIN stocks ON stocks.id = watchlist_entries.stock_id").
		Where("watchlist_entries.monitoring_status = ? AND stocks.status = ?",
			models.MonitoringStatusActive, models.StockStatusActive).
		Count(&count).Error
	return int(count), err
}
