package marketdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"policy_kline_backend/models"
)

// Fetcher pulls daily candles from the upstream market-data API.
type Fetcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewFetcher creates a market-data fetcher. An empty token disables outbound
// calls; FetchDailyBars then returns ErrNoToken and callers serve what the
// database already has.
func NewFetcher(baseURL, token string) *Fetcher {
	return &Fetcher{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrNoToken is returned when no API token is configured.
var ErrNoToken = fmt.Errorf("market data token not configured")

// apiRequest is the upstream RPC envelope: one api_name plus parameters,
// answered with a columnar fields/items table.
type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// FetchDailyBars fetches daily candles for one stock over [startDate, endDate]
// and returns them in ascending date order. Dates use YYYY-MM-DD.
func (f *Fetcher) FetchDailyBars(stockCode, startDate, endDate string) ([]models.StockKline, error) {
	if f.token == "" {
		return nil, ErrNoToken
	}

	req := apiRequest{
		APIName: "daily",
		Token:   f.token,
		Params: map[string]string{
			"ts_code":    stockCode,
			"start_date": compactDate(startDate),
			"end_date":   compactDate(endDate),
		},
		Fields: "ts_code,trade_date,open,high,low,close,vol",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := f.httpClient.Post(f.baseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("market data request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market data API returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("market data API error %d: %s", apiResp.Code, apiResp.Msg)
	}

	return decodeBars(stockCode, apiResp.Data.Fields, apiResp.Data.Items)
}

// decodeBars maps the columnar response into candles, newest-first upstream
// order reversed to ascending dates.
func decodeBars(stockCode string, fields []string, items [][]interface{}) ([]models.StockKline, error) {
	col := make(map[string]int, len(fields))
	for i, name := range fields {
		col[name] = i
	}
	for _, required := range []string{"trade_date", "open", "high", "low", "close", "vol"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("market data response missing field %s", required)
		}
	}

	bars := make([]models.StockKline, 0, len(items))
	for _, row := range items {
		// skip truncated rows
		if len(row) < len(fields) {
			continue
		}
		dateStr, ok := row[col["trade_date"]].(string)
		if !ok {
			continue
		}
		date, err := time.Parse("20060102", dateStr)
		if err != nil {
			continue
		}

		bars = append(bars, models.StockKline{
			StockCode: stockCode,
			Date:      date,
			Open:      toDecimal(row[col["open"]]),
			High:      toDecimal(row[col["high"]]),
			Low:       toDecimal(row[col["low"]]),
			Close:     toDecimal(row[col["close"]]),
			Volume:    toVolume(row[col["vol"]]),
		})
	}

	// upstream returns newest first
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func toDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func toVolume(v interface{}) int64 {
	if n, ok := v.(float64); ok {
		return int64(n)
	}
	return 0
}

// compactDate converts YYYY-MM-DD to the YYYYMMDD form the upstream expects.
func compactDate(s string) string {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return s
	}
	return t.Format("20060102")
}
