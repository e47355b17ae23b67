package aianalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"policy_kline_backend/models"
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

	require.NoError(t, models.MigrateEventModels(db))
	require.NoError(t, models.MigrateKlineModels(db))
	return db
}

// chatServer fakes the chat-completions endpoint, replying with the given
// assistant content for every request.
func chatServer(t *testing.T, reply string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultModel, req.Model)
		require.Len(t, req.Messages, 1)

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestExtractJSON(t *testing.T) {
	doc, err := extractJSON(`好的，分析如下：{"industries": ["银行"], "impact_type": "正面"} 以上。`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"industries": ["银行"], "impact_type": "正面"}`, doc)
}

func TestExtractJSONNested(t *testing.T) {
	doc, err := extractJSON(`{"a": {"b": 1}, "c": "含}括号"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}, "c": "含}括号"}`, doc)
}

func TestExtractJSONErrors(t *testing.T) {
	_, err := extractJSON("没有JSON")
	assert.Error(t, err)

	_, err = extractJSON(`{"unclosed": 1`)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	withContent := buildPrompt("某政策", "正文内容")
	assert.Contains(t, withContent, "政策标题：某政策")
	assert.Contains(t, withContent, "政策内容：")

	titleOnly := buildPrompt("某政策", "")
	assert.Contains(t, titleOnly, "政策标题：某政策")
	assert.NotContains(t, titleOnly, "政策内容：")
}

func TestAnalyzeUnprocessed(t *testing.T) {
	reply := `{"industries": ["银行", "房地产"], "impact_type": "正面", "analysis_summary": "利好银行板块", "confidence_score": 0.85}`
	server := chatServer(t, reply, nil)
	defer server.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&models.PolicyEvent{
		Date: "2025-07-25", Title: "央行宣布降准", EventType: "货币政策",
	}).Error)
	require.NoError(t, db.Create(&models.PolicyEvent{
		Date: "2025-07-24", Title: "财政部发布减税公告", EventType: "财政政策",
	}).Error)

	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))
	result, err := analyzer.AnalyzeUnprocessed(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Analyzed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Pending)

	var analyses []models.PolicyAnalysis
	require.NoError(t, db.Find(&analyses).Error)
	require.Len(t, analyses, 2)
	assert.Equal(t, "正面", analyses[0].ImpactType)
	assert.Equal(t, 0.85, analyses[0].ConfidenceScore)
	assert.Equal(t, "title_only", analyses[0].ContentQuality)
	assert.JSONEq(t, `["银行", "房地产"]`, analyses[0].Industries)
}

func TestAnalyzeUnprocessedNewestFirstUnderLimit(t *testing.T) {
	var calls int32
	reply := `{"industries": ["电力"], "impact_type": "正面", "confidence_score": 0.7}`
	server := chatServer(t, reply, &calls)
	defer server.Close()

	db := newTestDB(t)
	older := models.PolicyEvent{Date: "2020-01-01", Title: "旧政策"}
	recent := models.PolicyEvent{Date: "2025-01-01", Title: "新政策"}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&recent).Error)

	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))

	events, err := analyzer.unprocessedEvents(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "新政策", events[0].Title)

	result, err := analyzer.AnalyzeUnprocessed(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Analyzed)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, int32(1), calls)

	var analysis models.PolicyAnalysis
	require.NoError(t, db.First(&analysis).Error)
	assert.Equal(t, recent.ID, analysis.PolicyID)
}

func TestAnalyzeUnprocessedSkipsAnalyzed(t *testing.T) {
	var calls int32
	server := chatServer(t, `{"industries": ["证券"], "impact_type": "中性"}`, &calls)
	defer server.Close()

	db := newTestDB(t)
	event := models.PolicyEvent{Date: "2025-07-25", Title: "政策一"}
	require.NoError(t, db.Create(&event).Error)
	require.NoError(t, db.Create(&models.PolicyAnalysis{
		PolicyID: event.ID, Industries: `["证券"]`, ImpactType: "中性",
	}).Error)

	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))
	result, err := analyzer.AnalyzeUnprocessed(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Analyzed)
	assert.Equal(t, int32(0), calls)
}

func TestAnalyzeUnprocessedCountsFailures(t *testing.T) {
	server := chatServer(t, "这不是JSON", nil)
	defer server.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&models.PolicyEvent{Date: "2025-07-25", Title: "政策"}).Error)

	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))
	result, err := analyzer.AnalyzeUnprocessed(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Analyzed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Pending)
}

func TestAnalyzeUnprocessedNoAPIKey(t *testing.T) {
	db := newTestDB(t)
	analyzer := NewAnalyzer(db, NewClient("http://unused", ""))
	_, err := analyzer.AnalyzeUnprocessed(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestAnalyzeCapsIndustriesAndImpact(t *testing.T) {
	reply := `{"industries": ["a","b","c","d","e","f","g"], "impact_type": "看涨", "confidence_score": 0.5}`
	server := chatServer(t, reply, nil)
	defer server.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&models.PolicyEvent{Date: "2025-07-25", Title: "政策"}).Error)

	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))
	result, err := analyzer.AnalyzeUnprocessed(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, result.Analyzed)

	var analysis models.PolicyAnalysis
	require.NoError(t, db.First(&analysis).Error)
	var industries []string
	require.NoError(t, json.Unmarshal([]byte(analysis.Industries), &industries))
	assert.Len(t, industries, 5)
	// unknown impact labels normalize to neutral
	assert.Equal(t, "中性", analysis.ImpactType)
}

func TestPoliciesForIndustries(t *testing.T) {
	db := newTestDB(t)
	bank := models.PolicyEvent{Date: "2025-07-25", Title: "银行政策"}
	auto := models.PolicyEvent{Date: "2025-07-24", Title: "汽车政策"}
	require.NoError(t, db.Create(&bank).Error)
	require.NoError(t, db.Create(&auto).Error)
	require.NoError(t, db.Create(&models.PolicyAnalysis{PolicyID: bank.ID, Industries: `["银行","保险"]`}).Error)
	require.NoError(t, db.Create(&models.PolicyAnalysis{PolicyID: auto.ID, Industries: `["汽车"]`}).Error)

	analyzer := NewAnalyzer(db, NewClient("http://unused", ""))

	events, err := analyzer.PoliciesForIndustries([]string{"银行"}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "银行政策", events[0].Title)

	events, err = analyzer.PoliciesForIndustries([]string{"银行", "汽车"}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = analyzer.PoliciesForIndustries(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClassifyStockType(t *testing.T) {
	assert.Equal(t, StockTypeIndex, ClassifyStockType("000001.SH"))
	assert.Equal(t, StockTypeIndex, ClassifyStockType("399006.SZ"))
	assert.Equal(t, StockTypeETF, ClassifyStockType("510300.SH"))
	assert.Equal(t, StockTypeETF, ClassifyStockType("159915.SZ"))
	assert.Equal(t, StockTypeStock, ClassifyStockType("600519.SH"))
	assert.Equal(t, StockTypeStock, ClassifyStockType("000002.SZ"))
}

func TestGetOrAnalyzeStockIndustry(t *testing.T) {
	var calls int32
	reply := `{"industries": ["白酒", "食品饮料"], "analysis_summary": "白酒龙头", "confidence_score": 0.95}`
	server := chatServer(t, reply, &calls)
	defer server.Close()

	db := newTestDB(t)
	analyzer := NewAnalyzer(db, NewClient(server.URL, "test-key"))

	mapping, err := analyzer.GetOrAnalyzeStockIndustry(context.Background(), "600519.SH", "贵州茅台")
	require.NoError(t, err)
	assert.Equal(t, "600519.SH", mapping.StockCode)
	assert.Equal(t, []string{"白酒", "食品饮料"}, IndustriesOf(mapping))
	assert.Equal(t, int32(1), calls)

	// second call is served from the cache
	_, err = analyzer.GetOrAnalyzeStockIndustry(context.Background(), "600519.SH", "贵州茅台")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestChatAPIErrorSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Chat(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
