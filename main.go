package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"options_scraper_backend/config"
	"options_scraper_backend/models"
	"options_scraper_backend/routes"
	"options_scraper_backend/scheduler"
	"options_scraper_backend/services"
	"options_scraper_backend/services/providers"

	"github.com/gin-gonic/gin"
)

// dbInitialized tracks whether database has been successfully initialized
// This global variable is used for thread-safe access across goroutines to allow
// the /ready health endpoint to dynamically check database status
var dbInitialized bool
var dbInitMutex sync.RWMutex

// shutdownHandles collects everything that needs an orderly stop. The
// background init goroutine fills it in once the services exist.
type shutdownHandles struct {
	scrapeScheduler *services.ScrapeScheduler
	jobScheduler    *scheduler.Scheduler
	hub             *services.ProgressHub
	archive         *services.ChainArchive
	localStore      *services.LocalStore
}

func main() {
	log.Println("==============================================")
	log.Println("  Options Scraper API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up. Database will be initialized in background.
	setupHealthEndpoints(router)

	// Create HTTP server with timeouts suited to container platforms.
	// Bind to 0.0.0.0 explicitly for container networking
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database and setup routes in background
	var handles shutdownHandles
	go func() {
		// Initialize database connection
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		// Run database migrations
		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Open the local state store (source health, run metrics archive)
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Printf("ERROR: Could not create data dir %s: %v", cfg.DataDir, err)
			return
		}
		localStore, err := services.NewLocalStore(filepath.Join(cfg.DataDir, "scraper_state.db"))
		if err != nil {
			log.Printf("ERROR: Local state store unavailable: %v", err)
			return
		}

		// Price sources, tried in order. Yahoo also serves option chains.
		yahoo := providers.NewYahooProvider()
		provs := []providers.Provider{
			yahoo,
			providers.NewAlphaVantageProvider(cfg.AlphaVantageAPIKey),
			providers.NewFinnhubProvider(cfg.FinnhubAPIKey),
		}
		health := services.NewSourceHealthTracker([]string{
			providers.SourceYahooFinance,
			providers.SourceAlphaVantage,
			providers.SourceFinnhub,
		}, localStore)

		fetcher := services.NewPriceFetcher(db, provs, health)
		greeks := services.NewGreeksCalculator(cfg.RiskFreeRate)
		history := services.NewRunHistoryService(db, localStore)
		progress := services.NewProgressTracker()
		hub := services.NewProgressHub(progress)
		archive := services.NewChainArchive(cfg.MongoURI)

		scraper := services.NewStockScraper(db, fetcher, yahoo, greeks, history, archive)

		scrapeScheduler, err := services.NewScrapeScheduler(db, scraper, history, progress, hub)
		if err != nil {
			log.Printf("ERROR: Scheduler initialization failed: %v", err)
			return
		}
		if err := scrapeScheduler.Start(); err != nil {
			log.Printf("ERROR: Scheduler start failed: %v", err)
		}

		// Daily maintenance jobs run in the configured market timezone
		loc, err := time.LoadLocation(scrapeScheduler.Config().Timezone)
		if err != nil {
			loc = time.UTC
		}
		jobScheduler := scheduler.NewScheduler(scraper, history, loc, cfg.RunRetentionDays)
		jobScheduler.Start()

		// Setup all API routes
		routes.SetupRoutes(router, db, routes.Services{
			Scheduler:  scrapeScheduler,
			Fetcher:    fetcher,
			History:    history,
			Progress:   progress,
			LocalStore: localStore,
			Hub:        hub,
			Archive:    archive,
		})

		handles = shutdownHandles{
			scrapeScheduler: scrapeScheduler,
			jobScheduler:    jobScheduler,
			hub:             hub,
			archive:         archive,
			localStore:      localStore,
		}

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server, &handles)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	// Migrate stock and watchlist models
	if err := models.MigrateStockModels(db); err != nil {
		return err
	}

	// Migrate option contract models
	if err := models.MigrateOptionModels(db); err != nil {
		return err
	}

	// Migrate scraper run models
	if err := models.MigrateScraperModels(db); err != nil {
		return err
	}

	// Migrate schedule config models (includes seeding the default row)
	if err := models.MigrateScheduleModels(db); err != nil {
		return err
	}

	return nil
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Options Scraper API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		// Check database connection
		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe - can be used for initial health check
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, handles *shutdownHandles) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop schedulers first so no new run starts mid-shutdown
	if handles.scrapeScheduler != nil {
		handles.scrapeScheduler.Stop()
	}
	if handles.jobScheduler != nil {
		handles.jobScheduler.Stop()
	}
	if handles.hub != nil {
		handles.hub.Shutdown()
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if handles.archive != nil {
		if err := handles.archive.Close(); err != nil {
			log.Printf("Chain archive close error: %v", err)
		}
	}
	if handles.localStore != nil {
		handles.localStore.Close()
	}

	// Close database connection
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
