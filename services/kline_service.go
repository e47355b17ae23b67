package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"policy_kline_backend/models"
	"policy_kline_backend/services/chart"
	"policy_kline_backend/services/marketdata"
)

// KlineService serves daily candles, database-first with incremental pulls
// from the upstream market-data API.
type KlineService struct {
	db        *gorm.DB
	fetcher   *marketdata.Fetcher
	startDate string // earliest trading day kept per stock, YYYY-MM-DD
}

// GlobalKlineService is the process-wide candle service.
var GlobalKlineService *KlineService

// InitKlineService initializes the candle service.
func InitKlineService(db *gorm.DB, fetcher *marketdata.Fetcher, startDate string) {
	GlobalKlineService = &KlineService{
		db:        db,
		fetcher:   fetcher,
		startDate: startDate,
	}
}

// GetKline returns the candle series for a stock with non-trading days filled
// in. Stored candles are served first; missing recent days are pulled from
// upstream and persisted. When upstream fails, the stored data is served as
// is; an error is returned only when there is nothing to serve at all.
func (s *KlineService) GetKline(ctx context.Context, stockCode string) ([]models.StockKline, error) {
	stored, err := s.storedCandles(stockCode)
	if err != nil {
		return nil, err
	}

	if fetched, fetchErr := s.fetchMissing(ctx, stockCode, stored); fetchErr != nil {
		if !errors.Is(fetchErr, marketdata.ErrNoToken) {
			log.Printf("Upstream fetch for %s failed, serving stored data: %v", stockCode, fetchErr)
		}
		if len(stored) == 0 {
			return nil, fmt.Errorf("no candle data for %s: %w", stockCode, fetchErr)
		}
	} else if fetched > 0 {
		stored, err = s.storedCandles(stockCode)
		if err != nil {
			return nil, err
		}
	}

	if len(stored) == 0 {
		return nil, fmt.Errorf("no candle data for %s", stockCode)
	}
	return FillNonTradingDays(stored), nil
}

func (s *KlineService) storedCandles(stockCode string) ([]models.StockKline, error) {
	var candles []models.StockKline
	err := s.db.Where("stock_code = ?", stockCode).Order("date asc").Find(&candles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s: %w", stockCode, err)
	}
	return candles, nil
}

// fetchMissing pulls candles newer than the last stored day and persists
// them, returning the number of stored rows.
func (s *KlineService) fetchMissing(ctx context.Context, stockCode string, stored []models.StockKline) (int, error) {
	today := time.Now().Format("2006-01-02")

	fetchFrom := s.startDate
	if len(stored) > 0 {
		last := stored[len(stored)-1].Date
		fetchFrom = last.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if fetchFrom > today {
		return 0, nil
	}

	bars, err := s.fetcher.FetchDailyBars(stockCode, fetchFrom, today)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, bar := range bars {
		var existing models.StockKline
		err := s.db.Where("stock_code = ? AND date = ?", bar.StockCode, bar.Date).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return saved, fmt.Errorf("candle lookup failed: %w", err)
		}
		if err := s.db.Create(&bar).Error; err != nil {
			return saved, fmt.Errorf("failed to store candle: %w", err)
		}
		saved++
	}
	if saved > 0 {
		log.Printf("Stored %d new candles for %s", saved, stockCode)
	}
	return saved, nil
}

// FillNonTradingDays inserts placeholder candles for weekend and holiday gaps
// so event dates on non-trading days still align with a candle. Placeholders
// carry the previous close as all four prices and zero volume.
func FillNonTradingDays(candles []models.StockKline) []models.StockKline {
	if len(candles) < 2 {
		return candles
	}

	filled := make([]models.StockKline, 0, len(candles))
	filled = append(filled, candles[0])

	for i := 1; i < len(candles); i++ {
		prev := filled[len(filled)-1]
		cur := candles[i]

		for d := prev.Date.AddDate(0, 0, 1); d.Before(cur.Date); d = d.AddDate(0, 0, 1) {
			filled = append(filled, models.StockKline{
				StockCode: prev.StockCode,
				Date:      d,
				Open:      prev.Close,
				Close:     prev.Close,
				High:      prev.Close,
				Low:       prev.Close,
				Volume:    0,
			})
		}
		filled = append(filled, cur)
	}
	return filled
}

// SeriesPoints converts stored candles to the chart series representation.
func SeriesPoints(candles []models.StockKline) []chart.SeriesPoint {
	points := make([]chart.SeriesPoint, 0, len(candles))
	for _, c := range candles {
		points = append(points, chart.SeriesPoint{
			Date:  c.Date.Format("2006-01-02"),
			Open:  c.Open.InexactFloat64(),
			Close: c.Close.InexactFloat64(),
			Low:   c.Low.InexactFloat64(),
			High:  c.High.InexactFloat64(),
		})
	}
	return points
}
