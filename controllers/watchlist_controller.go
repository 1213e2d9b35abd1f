package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"options_scraper_backend/models"
	"options_scraper_backend/services"
)

// WatchlistController handles watchlist membership and stock lookups
type WatchlistController struct {
	db      *gorm.DB
	fetcher *services.PriceFetcher
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB, fetcher *services.PriceFetcher) *WatchlistController {
	return &WatchlistController{
		db:      db,
		fetcher: fetcher,
	}
}

// GetWatchlist returns all watchlist entries with their stocks
// GET /api/v1/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	var entries []models.WatchlistEntry
	err := wc.db.Preload("Stock").
		Joins("JOIN stocks ON stocks.id = watchlist_entries.stock_id").
		Order("stocks.ticker ASC").
		Find(&entries).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watchlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  entries,
		"count": len(entries),
	})
}

// AddToWatchlist adds a ticker, creating the stock row when unknown
// POST /api/v1/watchlist
func (wc *WatchlistController) AddToWatchlist(c *gin.Context) {
	var req struct {
		Ticker      string `json:"ticker" binding:"required"`
		CompanyName string `json:"company_name"`
		Notes       string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	var stock models.Stock
	err := wc.db.Where("ticker = ?", ticker).First(&stock).Error
	if err == gorm.ErrRecordNotFound {
		stock = models.Stock{
			Ticker:      ticker,
			CompanyName: req.CompanyName,
			Status:      models.StockStatusActive,
		}
		if err := wc.db.Create(&stock).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create stock"})
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up stock"})
		return
	}

	var existing models.WatchlistEntry
	if err := wc.db.Where("stock_id = ?", stock.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Stock already in watchlist"})
		return
	}

	entry := models.WatchlistEntry{
		StockID:          stock.ID,
		MonitoringStatus: models.MonitoringStatusActive,
		Notes:            req.Notes,
	}
	if err := wc.db.Create(&entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to watchlist"})
		return
	}
	entry.Stock = stock

	c.JSON(http.StatusCreated, gin.H{
		"message": "Added to watchlist",
		"data":    entry,
	})
}

// UpdateWatchlistEntry changes monitoring status or notes
// PUT /api/v1/watchlist/:ticker
func (wc *WatchlistController) UpdateWatchlistEntry(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))

	var req struct {
		MonitoringStatus *string `json:"monitoring_status"`
		Notes            *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.MonitoringStatus != nil &&
		*req.MonitoringStatus != models.MonitoringStatusActive &&
		*req.MonitoringStatus != models.MonitoringStatusPaused {
		c.JSON(http.StatusBadRequest, gin.H{"error": "monitoring_status must be active or paused"})
		return
	}

	entry, err := wc.findEntry(ticker)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticker not in watchlist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up watchlist entry"})
		return
	}

	if req.MonitoringStatus != nil {
		entry.MonitoringStatus = *req.MonitoringStatus
	}
	if req.Notes != nil {
		entry.Notes = *req.Notes
	}
	if err := wc.db.Save(entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update watchlist entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Watchlist entry updated",
		"data":    entry,
	})
}

// RemoveFromWatchlist removes a ticker. Collected contract history is
// kept; only the membership row is deleted.
// DELETE /api/v1/watchlist/:ticker
func (wc *WatchlistController) RemoveFromWatchlist(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))

	entry, err := wc.findEntry(ticker)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticker not in watchlist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up watchlist entry"})
		return
	}

	if err := wc.db.Delete(entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove from watchlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Removed from watchlist"})
}

func (wc *WatchlistController) findEntry(ticker string) (*models.WatchlistEntry, error) {
	var entry models.WatchlistEntry
	err := wc.db.Preload("Stock").
		Joins("JOIN stocks ON stocks.id = watchlist_entries.stock_id").
		Where("stocks.ticker = ?", ticker).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetStocks returns known stocks with their premium record counts,
// optionally filtered by status
// GET /api/v1/stocks
func (wc *WatchlistController) GetStocks(c *gin.Context) {
	query := wc.db.Model(&models.Stock{}).
		Select("stocks.*, COUNT(option_contracts.id) AS contract_records").
		Joins("LEFT JOIN option_contracts ON option_contracts.stock_id = stocks.id").
		Group("stocks.id")
	if status := c.Query("status"); status != "" {
		query = query.Where("stocks.status = ?", status)
	}

	var stocks []struct {
		models.Stock
		ContractRecords int64 `json:"contract_records"`
	}
	if err := query.Order("stocks.ticker ASC").Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stocks})
}

// GetStockPrice resolves a live price through the source chain
// GET /api/v1/stocks/:ticker/price
func (wc *WatchlistController) GetStockPrice(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	forceRefresh := c.Query("force_refresh") == "true"

	result, err := wc.fetcher.GetLivePrice(ticker, forceRefresh)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
