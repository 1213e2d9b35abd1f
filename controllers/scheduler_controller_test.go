package controllers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"options_scraper_backend/services"
	"options_scraper_backend/services/providers"
)

func newSchedulerRouter(t *testing.T) (*gin.Engine, *services.ScrapeScheduler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newControllerTestDB(t)
	provider := &stubQuoteProvider{price: 187.5}
	health := services.NewSourceHealthTracker([]string{provider.Name()}, nil)
	fetcher := services.NewPriceFetcher(db, []providers.Provider{provider}, health)

	tracker := services.NewProgressTracker()
	hub := services.NewProgressHub(tracker)
	t.Cleanup(hub.Shutdown)
	history := services.NewRunHistoryService(db, nil)
	greeks := services.NewGreeksCalculator(0.045)
	scraper := services.NewStockScraper(db, fetcher, provider, greeks, history, nil)
	sched, err := services.NewScrapeScheduler(db, scraper, history, tracker, hub)
	require.NoError(t, err)

	sc := NewSchedulerController(db, sched, fetcher)
	router := gin.New()
	router.GET("/api/v1/scheduler/config", sc.GetConfig)
	router.PUT("/api/v1/scheduler/config", sc.UpdateConfig)
	router.GET("/api/v1/scheduler/status", sc.GetStatus)
	router.GET("/api/v1/scheduler/sources", sc.GetSources)
	router.POST("/api/v1/scheduler/pause", sc.Pause)
	router.POST("/api/v1/scheduler/resume", sc.Resume)
	router.GET("/api/v1/scheduler/rate-limits", sc.GetRateLimits)

	return router, sched, db
}

type scheduleJSON struct {
	PollingIntervalMinutes int      `json:"polling_interval_minutes"`
	StockDelaySeconds      int      `json:"stock_delay_seconds"`
	MaxExpirations         int      `json:"max_expirations"`
	Timezone               string   `json:"timezone"`
	ExcludedDays           []string `json:"excluded_days"`
	Paused                 bool     `json:"paused"`
	Status                 string   `json:"status"`
}

func decodeSchedule(t *testing.T, body []byte) scheduleJSON {
	t.Helper()
	var resp struct {
		Data scheduleJSON `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Data
}

func TestGetConfig_ReturnsDefaults(t *testing.T) {
	router, _, _ := newSchedulerRouter(t)

	w := performRequest(router, http.MethodGet, "/api/v1/scheduler/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	cfg := decodeSchedule(t, w.Body.Bytes())
	assert.Equal(t, 5, cfg.PollingIntervalMinutes)
	assert.Equal(t, 10, cfg.StockDelaySeconds)
	assert.Equal(t, 8, cfg.MaxExpirations)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, []string{"saturday", "sunday"}, cfg.ExcludedDays)
	assert.True(t, cfg.Paused)
	assert.Equal(t, "paused", cfg.Status)
}

func TestUpdateConfig_AppliesAndValidates(t *testing.T) {
	router, sched, _ := newSchedulerRouter(t)

	w := performRequest(router, http.MethodPut, "/api/v1/scheduler/config",
		`{"polling_interval_minutes": 15, "excluded_days": ["friday", "2026-12-25"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	cfg := decodeSchedule(t, w.Body.Bytes())
	assert.Equal(t, 15, cfg.PollingIntervalMinutes)
	assert.Equal(t, []string{"friday", "2026-12-25"}, cfg.ExcludedDays)
	assert.Equal(t, 15, sched.Config().PollingIntervalMinutes)

	// Out-of-range values are rejected, never clamped
	w = performRequest(router, http.MethodPut, "/api/v1/scheduler/config",
		`{"polling_interval_minutes": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "polling interval")
	assert.Equal(t, 15, sched.Config().PollingIntervalMinutes)

	w = performRequest(router, http.MethodPut, "/api/v1/scheduler/config",
		`{"market_hours_start": "17:00", "market_hours_end": "09:00"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "before market hours end")

	w = performRequest(router, http.MethodPut, "/api/v1/scheduler/config",
		`{"polling_interval_minutes": "soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}

func TestPauseAndResume(t *testing.T) {
	router, sched, _ := newSchedulerRouter(t)

	w := performRequest(router, http.MethodPost, "/api/v1/scheduler/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decodeSchedule(t, w.Body.Bytes())
	assert.True(t, cfg.Paused)
	assert.Equal(t, "paused", cfg.Status)

	// An empty body resumes without an immediate trigger
	w = performRequest(router, http.MethodPost, "/api/v1/scheduler/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	cfg = decodeSchedule(t, w.Body.Bytes())
	assert.False(t, cfg.Paused)
	assert.Equal(t, "idle", cfg.Status)
	assert.False(t, sched.Config().Paused)

	w = performRequest(router, http.MethodPost, "/api/v1/scheduler/resume",
		`{"start_now": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	cfg = decodeSchedule(t, w.Body.Bytes())
	assert.False(t, cfg.Paused)
}

func TestGetStatus_IncludesSourceHealth(t *testing.T) {
	router, _, _ := newSchedulerRouter(t)

	w := performRequest(router, http.MethodGet, "/api/v1/scheduler/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status        string                 `json:"status"`
		Paused        bool                   `json:"paused"`
		RunInProgress bool                   `json:"run_in_progress"`
		Sources       []services.SourceState `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "paused", resp.Status)
	assert.True(t, resp.Paused)
	assert.False(t, resp.RunInProgress)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "yahoo_finance", resp.Sources[0].Name)
	assert.Zero(t, resp.Sources[0].ConsecutiveFailures)
}

func TestGetSources(t *testing.T) {
	router, _, _ := newSchedulerRouter(t)

	w := performRequest(router, http.MethodGet, "/api/v1/scheduler/sources", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []services.SourceState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "yahoo_finance", resp.Data[0].Name)
	assert.Nil(t, resp.Data[0].CooldownUntil)
}

func TestGetRateLimits_UsesWatchlistAndOverrides(t *testing.T) {
	router, _, db := newSchedulerRouter(t)
	seedWatchlistEntry(t, db, "AAPL")
	seedWatchlistEntry(t, db, "MSFT")

	w := performRequest(router, http.MethodGet, "/api/v1/scheduler/rate-limits", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data services.RateLimitCalculation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.WatchlistSize)
	assert.Equal(t, 10, resp.Data.RequestsPerStock)
	assert.Equal(t, 20, resp.Data.RequestsPerCycle)
	assert.True(t, resp.Data.WithinMinuteLimit)
	assert.True(t, resp.Data.WithinHourLimit)
	assert.True(t, resp.Data.WithinDayLimit)
	assert.Empty(t, resp.Data.Warnings)

	// Query overrides preview a configuration without saving it
	w = performRequest(router, http.MethodGet,
		"/api/v1/scheduler/rate-limits?watchlist_size=30&stock_delay_seconds=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.Data.WatchlistSize)
	assert.Equal(t, 300, resp.Data.RequestsPerCycle)
	assert.False(t, resp.Data.WithinMinuteLimit)
	assert.NotEmpty(t, resp.Data.Warnings)
}
