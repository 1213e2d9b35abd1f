package controllers

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"options_scraper_backend/models"
)

// PremiumController serves queries over collected contract history
type PremiumController struct {
	db *gorm.DB
}

// NewPremiumController creates a new premium controller
func NewPremiumController(db *gorm.DB) *PremiumController {
	return &PremiumController{db: db}
}

func (pc *PremiumController) findStock(c *gin.Context) (*models.Stock, bool) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))

	var stock models.Stock
	if err := pc.db.Where("ticker = ?", ticker).First(&stock).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up stock"})
		return nil, false
	}
	return &stock, true
}

// GetLatestChain returns the most recently collected chain snapshot
// for a ticker, optionally filtered by option type and expiration
// GET /api/v1/premiums/:ticker/latest
func (pc *PremiumController) GetLatestChain(c *gin.Context) {
	stock, ok := pc.findStock(c)
	if !ok {
		return
	}

	var latest sql.NullTime
	err := pc.db.Model(&models.OptionContract{}).
		Where("stock_id = ?", stock.ID).
		Select("MAX(collection_timestamp)").
		Scan(&latest).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query contracts"})
		return
	}
	if !latest.Valid {
		c.JSON(http.StatusOK, gin.H{
			"data":  []models.OptionContract{},
			"stock": stock,
			"count": 0,
		})
		return
	}

	query := pc.db.Where("stock_id = ? AND collection_timestamp = ?", stock.ID, latest.Time)
	if optionType := c.Query("option_type"); optionType != "" {
		query = query.Where("option_type = ?", optionType)
	}
	if expiration := c.Query("expiration"); expiration != "" {
		if _, err := time.Parse("2006-01-02", expiration); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expiration, expected YYYY-MM-DD"})
			return
		}
		query = query.Where("DATE(expiration_date) = ?", expiration)
	}

	var contracts []models.OptionContract
	if err := query.Order("expiration_date ASC, option_type ASC, strike_price ASC").Find(&contracts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contracts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":         contracts,
		"stock":        stock,
		"count":        len(contracts),
		"collected_at": latest.Time,
	})
}

// GetPremiumHistory returns the premium time series for one contract
// identity: ticker + option type + strike + expiration
// GET /api/v1/premiums/:ticker/history
func (pc *PremiumController) GetPremiumHistory(c *gin.Context) {
	stock, ok := pc.findStock(c)
	if !ok {
		return
	}

	optionType := c.Query("option_type")
	if optionType != models.OptionTypeCall && optionType != models.OptionTypePut {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option_type must be call or put"})
		return
	}

	strike, err := decimal.NewFromString(c.Query("strike"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid strike"})
		return
	}

	expiration := c.Query("expiration")
	if _, err := time.Parse("2006-01-02", expiration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expiration, expected YYYY-MM-DD"})
		return
	}

	query := pc.db.Where(
		"stock_id = ? AND option_type = ? AND strike_price = ? AND DATE(expiration_date) = ?",
		stock.ID, optionType, strike, expiration)

	if from := c.Query("from"); from != "" {
		t, err := parseTimeParam(from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp"})
			return
		}
		query = query.Where("collection_timestamp >= ?", t)
	}
	if to := c.Query("to"); to != "" {
		t, err := parseTimeParam(to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to timestamp"})
			return
		}
		query = query.Where("collection_timestamp <= ?", t)
	}

	var contracts []models.OptionContract
	if err := query.Order("collection_timestamp ASC").Find(&contracts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch premium history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  contracts,
		"stock": stock,
		"count": len(contracts),
	})
}

// GetTickerSummary returns collection aggregates for a ticker
// GET /api/v1/premiums/:ticker/summary
func (pc *PremiumController) GetTickerSummary(c *gin.Context) {
	stock, ok := pc.findStock(c)
	if !ok {
		return
	}

	var summary struct {
		ContractCount        int64      `json:"contract_count"`
		ExpirationCount      int64      `json:"expiration_count"`
		LastCollection       *time.Time `json:"last_collection"`
		AvgImpliedVolatility *float64   `json:"avg_implied_volatility"`
	}

	err := pc.db.Model(&models.OptionContract{}).
		Where("stock_id = ?", stock.ID).
		Select("COUNT(*) AS contract_count, " +
			"COUNT(DISTINCT expiration_date) AS expiration_count, " +
			"MAX(collection_timestamp) AS last_collection, " +
			"AVG(implied_volatility) AS avg_implied_volatility").
		Scan(&summary).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build summary"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stock":   stock,
		"summary": summary,
	})
}

func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
