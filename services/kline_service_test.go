package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"policy_kline_backend/models"
	"policy_kline_backend/services/marketdata"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// a second :memory: connection would be a different database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateKlineModels(db))
	require.NoError(t, models.MigrateEventModels(db))
	return db
}

func candle(code, date string, open, close, high, low float64, volume int64) models.StockKline {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return models.StockKline{
		StockCode: code,
		Date:      d,
		Open:      decimal.NewFromFloat(open),
		Close:     decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Volume:    volume,
	}
}

func TestFillNonTradingDays(t *testing.T) {
	// Friday then Monday: the weekend gets two placeholders
	candles := []models.StockKline{
		candle("600519.SH", "2025-07-25", 1700, 1710, 1720, 1690, 30000),
		candle("600519.SH", "2025-07-28", 1711, 1725, 1730, 1705, 28000),
	}

	filled := FillNonTradingDays(candles)
	require.Len(t, filled, 4)

	sat := filled[1]
	assert.Equal(t, "2025-07-26", sat.Date.Format("2006-01-02"))
	assert.True(t, sat.IsPlaceholder())
	assert.Equal(t, "1710", sat.Open.String())
	assert.Equal(t, "1710", sat.High.String())
	assert.Equal(t, int64(0), sat.Volume)

	sun := filled[2]
	assert.Equal(t, "2025-07-27", sun.Date.Format("2006-01-02"))
	assert.True(t, sun.IsPlaceholder())

	assert.Equal(t, "2025-07-28", filled[3].Date.Format("2006-01-02"))
	assert.False(t, filled[3].IsPlaceholder())
}

func TestFillNonTradingDaysNoGaps(t *testing.T) {
	candles := []models.StockKline{
		candle("600519.SH", "2025-07-24", 1700, 1705, 1710, 1695, 30000),
		candle("600519.SH", "2025-07-25", 1705, 1710, 1715, 1700, 31000),
	}
	assert.Len(t, FillNonTradingDays(candles), 2)
	assert.Len(t, FillNonTradingDays(candles[:1]), 1)
	assert.Empty(t, FillNonTradingDays(nil))
}

func TestGetKlineServesStoredWhenUpstreamFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&[]models.StockKline{
		candle("600519.SH", "2025-07-24", 1700, 1705, 1710, 1695, 30000),
		candle("600519.SH", "2025-07-25", 1705, 1710, 1715, 1700, 31000),
	}).Error)

	InitKlineService(db, marketdata.NewFetcher(server.URL, "test-token"), "2019-08-18")

	candles, err := GlobalKlineService.GetKline(context.Background(), "600519.SH")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(candles), 2)
	assert.Equal(t, "2025-07-24", candles[0].Date.Format("2006-01-02"))
}

func TestGetKlineErrorsWhenNothingAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	db := newTestDB(t)
	InitKlineService(db, marketdata.NewFetcher(server.URL, "test-token"), "2019-08-18")

	_, err := GlobalKlineService.GetKline(context.Background(), "600519.SH")
	require.Error(t, err)
}

func TestGetKlineFetchesAndStoresMissing(t *testing.T) {
	yesterday := time.Now().AddDate(0, 0, -1).Format("20060102")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"code": 0,
			"data": {
				"fields": ["ts_code", "trade_date", "open", "high", "low", "close", "vol"],
				"items": [["600519.SH", "` + yesterday + `", 1700.0, 1720.0, 1690.0, 1710.0, 32000]]
			}
		}`))
	}))
	defer server.Close()

	db := newTestDB(t)
	InitKlineService(db, marketdata.NewFetcher(server.URL, "test-token"), "2019-08-18")

	candles, err := GlobalKlineService.GetKline(context.Background(), "600519.SH")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(32000), candles[0].Volume)

	var stored int64
	db.Model(&models.StockKline{}).Count(&stored)
	assert.Equal(t, int64(1), stored)
}

func TestSeriesPoints(t *testing.T) {
	points := SeriesPoints([]models.StockKline{
		candle("600519.SH", "2025-07-25", 1700, 1710, 1720, 1690, 30000),
	})
	require.Len(t, points, 1)
	assert.Equal(t, "2025-07-25", points[0].Date)
	assert.Equal(t, 1720.0, points[0].High)
	assert.Equal(t, 1690.0, points[0].Low)
}
