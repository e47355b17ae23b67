package marketdata

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchDailyBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "daily", req.APIName)
		assert.Equal(t, "600519.SH", req.Params["ts_code"])
		assert.Equal(t, "20250721", req.Params["start_date"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": 0,
			"data": {
				"fields": ["ts_code", "trade_date", "open", "high", "low", "close", "vol"],
				"items": [
					["600519.SH", "20250722", 1700.0, 1720.5, 1690.0, 1710.0, 32000],
					["600519.SH", "20250721", 1680.0, 1705.0, 1675.0, 1700.0, 28000]
				]
			}
		}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, "test-token")
	bars, err := fetcher.FetchDailyBars("600519.SH", "2025-07-21", "2025-07-22")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// ascending date order regardless of upstream ordering
	assert.Equal(t, "2025-07-21", bars[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2025-07-22", bars[1].Date.Format("2006-01-02"))
	assert.Equal(t, "1720.5", bars[1].High.String())
	assert.Equal(t, int64(28000), bars[0].Volume)
}

func TestFetchDailyBarsNoToken(t *testing.T) {
	fetcher := NewFetcher("http://unused", "")
	_, err := fetcher.FetchDailyBars("600519.SH", "2025-07-21", "2025-07-22")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFetchDailyBarsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 40001, "msg": "token invalid"}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, "bad-token")
	_, err := fetcher.FetchDailyBars("600519.SH", "2025-07-21", "2025-07-22")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token invalid")
}

func TestDecodeBarsSkipsTruncatedRows(t *testing.T) {
	fields := []string{"ts_code", "trade_date", "open", "high", "low", "close", "vol"}
	items := [][]interface{}{
		{"600519.SH"},
		{},
		{"600519.SH", "20250722", 1700.0, 1720.5, 1690.0, 1710.0, 32000.0},
	}

	bars, err := decodeBars("600519.SH", fields, items)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2025-07-22", bars[0].Date.Format("2006-01-02"))
}

func TestFetchDailyBarsMissingField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "data": {"fields": ["trade_date"], "items": []}}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, "test-token")
	_, err := fetcher.FetchDailyBars("600519.SH", "2025-07-21", "2025-07-22")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}
