package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"options_scraper_backend/services"
)

// ScraperController handles run history, live progress, the chain
// archive and manual trigger requests
type ScraperController struct {
	scheduler  *services.ScrapeScheduler
	history    *services.RunHistoryService
	progress   *services.ProgressTracker
	localStore *services.LocalStore
	hub        *services.ProgressHub
	archive    *services.ChainArchive
}

// NewScraperController creates a new scraper controller
func NewScraperController(scheduler *services.ScrapeScheduler, history *services.RunHistoryService, progress *services.ProgressTracker, localStore *services.LocalStore, hub *services.ProgressHub, archive *services.ChainArchive) *ScraperController {
	return &ScraperController{
		scheduler:  scheduler,
		history:    history,
		progress:   progress,
		localStore: localStore,
		hub:        hub,
		archive:    archive,
	}
}

// TriggerScrape starts a run immediately, bypassing the schedule
// POST /api/v1/scraper/trigger
func (sc *ScraperController) TriggerScrape(c *gin.Context) {
	if err := sc.scheduler.TriggerNow(); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, services.ErrRunInProgress) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Scrape run triggered"})
}

// GetProgress returns live progress for the run in flight
// GET /api/v1/scraper/progress
func (sc *ScraperController) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": sc.progress.Snapshot()})
}

// ProgressWebSocket streams progress updates
// GET /api/v1/scraper/progress/ws
func (sc *ScraperController) ProgressWebSocket(c *gin.Context) {
	sc.hub.HandleWebSocket(c.Writer, c.Request)
}

// ListRuns returns recent runs, newest first
// GET /api/v1/scraper/runs
func (sc *ScraperController) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := sc.history.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// GetRun returns one run with its per-stock logs
// GET /api/v1/scraper/runs/:id
func (sc *ScraperController) GetRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	run, err := sc.history.GetRun(uint(id))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetArchiveStatus reports chain archive connectivity and size
// GET /api/v1/scraper/archive
func (sc *ScraperController) GetArchiveStatus(c *gin.Context) {
	status := sc.archive.GetConnectionStatus()
	if sc.archive.IsConfigured() {
		if count, err := sc.archive.ArchiveCount(); err == nil {
			status["documents"] = count
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// ListArchivedChains returns archived chain metadata for a ticker,
// newest first
// GET /api/v1/scraper/archive/:ticker
func (sc *ScraperController) ListArchivedChains(c *gin.Context) {
	if !sc.archive.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chain archive not configured"})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	docs, err := sc.archive.ListArchivedChains(ticker, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query chain archive"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": docs, "count": len(docs)})
}

// GetRunMetrics returns archived run metrics from the local store,
// which survives primary database outages
// GET /api/v1/scraper/metrics
func (sc *ScraperController) GetRunMetrics(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, err := sc.localStore.ListRunMetrics(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
