package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"options_scraper_backend/controllers"
	"options_scraper_backend/middleware"
	"options_scraper_backend/services"
)

// Services holds the shared services the API layer depends on
type Services struct {
	Scheduler  *services.ScrapeScheduler
	Fetcher    *services.PriceFetcher
	History    *services.RunHistoryService
	Progress   *services.ProgressTracker
	LocalStore *services.LocalStore
	Hub        *services.ProgressHub
	Archive    *services.ChainArchive
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, svc Services) {
	// Initialize controllers
	schedulerController := controllers.NewSchedulerController(db, svc.Scheduler, svc.Fetcher)
	scraperController := controllers.NewScraperController(svc.Scheduler, svc.History, svc.Progress, svc.LocalStore, svc.Hub, svc.Archive)
	watchlistController := controllers.NewWatchlistController(db, svc.Fetcher)
	premiumController := controllers.NewPremiumController(db)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Scheduler configuration and control
		scheduler := api.Group("/scheduler")
		{
			scheduler.GET("/config", schedulerController.GetConfig)
			scheduler.PUT("/config", schedulerController.UpdateConfig)
			scheduler.GET("/status", schedulerController.GetStatus)
			scheduler.POST("/pause", schedulerController.Pause)
			scheduler.POST("/resume", schedulerController.Resume)
			scheduler.GET("/rate-limits", schedulerController.GetRateLimits)
			scheduler.GET("/sources", schedulerController.GetSources)
		}

		// Scrape runs and progress. Manual triggers cost upstream
		// requests, so they sit behind a per-IP limiter.
		scraper := api.Group("/scraper")
		{
			scraper.POST("/trigger", middleware.TriggerRateLimit(), scraperController.TriggerScrape)
			scraper.GET("/progress", scraperController.GetProgress)
			scraper.GET("/progress/ws", scraperController.ProgressWebSocket)
			scraper.GET("/runs", scraperController.ListRuns)
			scraper.GET("/runs/:id", scraperController.GetRun)
			scraper.GET("/metrics", scraperController.GetRunMetrics)
			scraper.GET("/archive", scraperController.GetArchiveStatus)
			scraper.GET("/archive/:ticker", scraperController.ListArchivedChains)
		}

		// Watchlist membership
		watchlist := api.Group("/watchlist")
		{
			watchlist.GET("", watchlistController.GetWatchlist)
			watchlist.POST("", watchlistController.AddToWatchlist)
			watchlist.PUT("/:ticker", watchlistController.UpdateWatchlistEntry)
			watchlist.DELETE("/:ticker", watchlistController.RemoveFromWatchlist)
		}

		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", watchlistController.GetStocks)
			stocks.GET("/:ticker/price", watchlistController.GetStockPrice)
		}

		// Premium history queries
		premiums := api.Group("/premiums")
		{
			premiums.GET("/:ticker/latest", premiumController.GetLatestChain)
			premiums.GET("/:ticker/history", premiumController.GetPremiumHistory)
			premiums.GET("/:ticker/summary", premiumController.GetTickerSummary)
		}
	}
}
