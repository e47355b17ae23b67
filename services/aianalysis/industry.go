package aianalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"policy_kline_backend/models"
)

// stock type labels returned by ClassifyStockType
const (
	StockTypeIndex = "index"
	StockTypeETF   = "etf"
	StockTypeStock = "stock"
)

// major market indices; events for these are not filtered by industry
var majorIndices = map[string]bool{
	"000001.SH": true, // 上证指数
	"399001.SZ": true, // 深证成指
	"399006.SZ": true, // 创业板指
}

// IsMajorIndex reports whether the code is one of the broad market indices.
func IsMajorIndex(code string) bool {
	return majorIndices[strings.ToUpper(code)]
}

// ClassifyStockType buckets a security code into index, ETF or plain stock.
// Index codes are the known broad indices; ETF codes start with 51/56/58 on
// Shanghai or 15/16 on Shenzhen.
func ClassifyStockType(code string) string {
	upper := strings.ToUpper(code)
	if majorIndices[upper] {
		return StockTypeIndex
	}

	digits := upper
	if i := strings.IndexByte(upper, '.'); i >= 0 {
		digits = upper[:i]
	}
	for _, prefix := range []string{"51", "56", "58", "15", "16"} {
		if strings.HasPrefix(digits, prefix) && len(digits) == 6 {
			return StockTypeETF
		}
	}
	return StockTypeStock
}

// industryResult is the JSON document requested from the model for stock
// industry classification.
type industryResult struct {
	Industries      []string `json:"industries"`
	AnalysisSummary string   `json:"analysis_summary"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// GetOrAnalyzeStockIndustry returns the cached industry mapping for a stock,
// asking the model on a cache miss and storing the answer.
func (a *Analyzer) GetOrAnalyzeStockIndustry(ctx context.Context, stockCode, stockName string) (*models.StockIndustryMapping, error) {
	var mapping models.StockIndustryMapping
	err := a.db.Where("stock_code = ?", stockCode).First(&mapping).Error
	if err == nil {
		return &mapping, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to load industry mapping: %w", err)
	}

	if !a.client.Available() {
		return nil, ErrNoAPIKey
	}

	reply, err := a.client.Chat(ctx, buildIndustryPrompt(stockCode, stockName))
	if err != nil {
		return nil, err
	}
	doc, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("no JSON in model reply: %w", err)
	}

	var parsed industryResult
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode industry JSON: %w", err)
	}
	if len(parsed.Industries) == 0 {
		return nil, fmt.Errorf("model returned no industries for %s", stockCode)
	}
	if len(parsed.Industries) > 5 {
		parsed.Industries = parsed.Industries[:5]
	}

	industries, err := json.Marshal(parsed.Industries)
	if err != nil {
		return nil, err
	}

	mapping = models.StockIndustryMapping{
		StockCode:       stockCode,
		StockName:       stockName,
		Industries:      string(industries),
		AnalysisSummary: parsed.AnalysisSummary,
		ConfidenceScore: parsed.ConfidenceScore,
	}
	if err := a.db.Create(&mapping).Error; err != nil {
		return nil, fmt.Errorf("failed to store industry mapping: %w", err)
	}
	return &mapping, nil
}

// IndustriesOf decodes the stored JSON industry list of a mapping.
func IndustriesOf(mapping *models.StockIndustryMapping) []string {
	var industries []string
	if err := json.Unmarshal([]byte(mapping.Industries), &industries); err != nil {
		return nil
	}
	return industries
}

func buildIndustryPrompt(stockCode, stockName string) string {
	var sb strings.Builder
	sb.WriteString("请分析A股股票 ")
	sb.WriteString(stockName)
	sb.WriteString("（")
	sb.WriteString(stockCode)
	sb.WriteString("）所属的行业，并以JSON格式回复，字段为：")
	sb.WriteString("industries（行业名称数组，最多5个，从主营到次要排序）、")
	sb.WriteString("analysis_summary（一句话说明主营业务）、")
	sb.WriteString("confidence_score（0到1的小数）。\n只回复JSON，不要其他内容。")
	return sb.String()
}
