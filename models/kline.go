package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockKline represents one daily candle for a stock.
// Non-trading days are stored as placeholder candles whose OHLC all equal the
// previous close and whose volume is zero, so event dates falling on weekends
// or holidays still line up with a candle.
type StockKline struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	StockCode string          `gorm:"uniqueIndex:idx_code_date;index;not null" json:"stock_code"`
	Date      time.Time       `gorm:"uniqueIndex:idx_code_date;not null" json:"date"`
	Open      decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	High      decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Volume    int64           `json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsPlaceholder reports whether this candle is a non-trading-day filler.
func (k *StockKline) IsPlaceholder() bool {
	return k.Volume == 0 && k.Open.Equal(k.Close) && k.Open.Equal(k.High) && k.Open.Equal(k.Low)
}

// StockIndustryMapping caches the AI-derived industry classification of a stock.
type StockIndustryMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	StockCode       string    `gorm:"uniqueIndex;not null" json:"stock_code"`
	StockName       string    `json:"stock_name"`
	Industries      string    `gorm:"not null" json:"industries"` // JSON array of industry names
	AnalysisSummary string    `json:"analysis_summary"`
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MigrateKlineModels runs database migrations for candle-related models
func MigrateKlineModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockKline{},
		&StockIndustryMapping{},
	)
}
