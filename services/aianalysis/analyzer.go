package aianalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"gorm.io/gorm"

	"policy_kline_backend/models"
)

const (
	// DefaultMaxConcurrent bounds parallel chat calls in batch runs.
	DefaultMaxConcurrent = 5

	// contentCharLimit caps the article text sent to the model.
	contentCharLimit = 3000
)

// Analyzer classifies stored policy events into affected industries.
type Analyzer struct {
	db         *gorm.DB
	client     *Client
	httpClient *http.Client
}

// NewAnalyzer creates an analyzer over the given database and chat client.
func NewAnalyzer(db *gorm.DB, client *Client) *Analyzer {
	return &Analyzer{
		db:     db,
		client: client,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// analysisResult is the JSON document the model is asked to produce.
type analysisResult struct {
	Industries      []string `json:"industries"`
	ImpactType      string   `json:"impact_type"`
	AnalysisSummary string   `json:"analysis_summary"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// BatchResult summarizes one batch analysis run.
type BatchResult struct {
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// AnalyzeUnprocessed classifies up to limit events that have no analysis yet,
// running at most maxConcurrent chat calls in parallel. Individual failures
// are logged and counted, never fatal for the batch.
func (a *Analyzer) AnalyzeUnprocessed(ctx context.Context, limit, maxConcurrent int) (BatchResult, error) {
	if !a.client.Available() {
		return BatchResult{}, ErrNoAPIKey
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	events, err := a.unprocessedEvents(limit)
	if err != nil {
		return BatchResult{}, err
	}
	if len(events) == 0 {
		return BatchResult{}, nil
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result BatchResult
	)
	sem := make(chan struct{}, maxConcurrent)

	for _, event := range events {
		event := event
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := a.analyzeOne(ctx, &event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("Analysis of policy %d failed: %v", event.ID, err)
				result.Failed++
			} else {
				result.Analyzed++
			}
		}()
	}
	wg.Wait()

	var pending int64
	if err := a.db.Model(&models.PolicyEvent{}).
		Where("id NOT IN (?)", a.db.Model(&models.PolicyAnalysis{}).Select("policy_id")).
		Count(&pending).Error; err == nil {
		result.Pending = int(pending)
	}
	return result, nil
}

// unprocessedEvents lists events without an analysis row, newest first so a
// bounded batch covers the latest policies before the backlog.
func (a *Analyzer) unprocessedEvents(limit int) ([]models.PolicyEvent, error) {
	var events []models.PolicyEvent
	q := a.db.
		Where("id NOT IN (?)", a.db.Model(&models.PolicyAnalysis{}).Select("policy_id")).
		Order("date desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	return events, nil
}

// analyzeOne enriches, classifies and stores the analysis for one event.
func (a *Analyzer) analyzeOne(ctx context.Context, event *models.PolicyEvent) error {
	content, quality := a.policyContent(ctx, event)

	reply, err := a.client.Chat(ctx, buildPrompt(event.Title, content))
	if err != nil {
		return err
	}

	doc, err := extractJSON(reply)
	if err != nil {
		return fmt.Errorf("no JSON in model reply: %w", err)
	}

	var parsed analysisResult
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return fmt.Errorf("failed to decode analysis JSON: %w", err)
	}
	if len(parsed.Industries) > 5 {
		parsed.Industries = parsed.Industries[:5]
	}
	if !validImpactType(parsed.ImpactType) {
		parsed.ImpactType = "中性"
	}

	industries, err := json.Marshal(parsed.Industries)
	if err != nil {
		return err
	}

	analysis := models.PolicyAnalysis{
		PolicyID:        event.ID,
		Industries:      string(industries),
		ImpactType:      parsed.ImpactType,
		AnalysisSummary: parsed.AnalysisSummary,
		ConfidenceScore: parsed.ConfidenceScore,
		ContentQuality:  quality,
	}
	return a.upsertAnalysis(&analysis)
}

// upsertAnalysis stores the analysis, replacing a prior row for the same
// policy if a concurrent run got there first.
func (a *Analyzer) upsertAnalysis(analysis *models.PolicyAnalysis) error {
	var existing models.PolicyAnalysis
	err := a.db.Where("policy_id = ?", analysis.PolicyID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return a.db.Create(analysis).Error
	}
	if err != nil {
		return err
	}
	analysis.ID = existing.ID
	analysis.CreatedAt = existing.CreatedAt
	return a.db.Save(analysis).Error
}

// policyContent returns the article text to classify on, and a quality grade:
// "full" when the whole article fit under the cap, "partial" when truncated,
// "title_only" when no body text could be obtained.
func (a *Analyzer) policyContent(ctx context.Context, event *models.PolicyEvent) (string, string) {
	text := strings.TrimSpace(event.Content)
	if text == "" && event.SourceURL != "" {
		text = a.fetchArticleText(ctx, event.SourceURL)
	}
	if text == "" {
		return "", "title_only"
	}

	runes := []rune(text)
	if len(runes) > contentCharLimit {
		return string(runes[:contentCharLimit]), "partial"
	}
	return text, "full"
}

// fetchArticleText pulls paragraph text from the article page; empty on any
// failure, the caller then classifies on the title alone.
func (a *Analyzer) fetchArticleText(ctx context.Context, articleURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}

	var paragraphs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			var sb strings.Builder
			var text func(*html.Node)
			text = func(n *html.Node) {
				if n.Type == html.TextNode {
					sb.WriteString(n.Data)
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					text(c)
				}
			}
			text(n)
			if p := strings.TrimSpace(sb.String()); p != "" {
				paragraphs = append(paragraphs, p)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(paragraphs, "\n")
}

// buildPrompt composes the classification prompt; with body text when
// available, title-only otherwise.
func buildPrompt(title, content string) string {
	var sb strings.Builder
	sb.WriteString("你是一名宏观政策分析师。请分析以下政策对A股行业的影响，")
	sb.WriteString("并以JSON格式回复，字段为：industries（受影响行业名称数组，最多5个）、")
	sb.WriteString("impact_type（正面、负面或中性）、analysis_summary（一句话分析）、")
	sb.WriteString("confidence_score（0到1的小数）。\n\n")
	sb.WriteString("政策标题：")
	sb.WriteString(title)
	if content != "" {
		sb.WriteString("\n\n政策内容：\n")
		sb.WriteString(content)
	}
	sb.WriteString("\n\n只回复JSON，不要其他内容。")
	return sb.String()
}

// extractJSON returns the first balanced {...} span in the reply. Models
// often wrap the document in prose or code fences.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no opening brace")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced braces")
}

func validImpactType(s string) bool {
	return s == "正面" || s == "负面" || s == "中性"
}

// GetAnalysis returns the stored analysis for one policy.
func (a *Analyzer) GetAnalysis(policyID uint) (*models.PolicyAnalysis, error) {
	var analysis models.PolicyAnalysis
	if err := a.db.Where("policy_id = ?", policyID).First(&analysis).Error; err != nil {
		return nil, err
	}
	return &analysis, nil
}

// PoliciesForIndustries lists analyzed policies whose industry list mentions
// any of the given industries, newest first.
func (a *Analyzer) PoliciesForIndustries(industries []string, limit int) ([]models.PolicyEvent, error) {
	if len(industries) == 0 {
		return nil, nil
	}

	q := a.db.Model(&models.PolicyAnalysis{})
	for i, industry := range industries {
		like := "%" + industry + "%"
		if i == 0 {
			q = q.Where("industries LIKE ?", like)
		} else {
			q = q.Or("industries LIKE ?", like)
		}
	}

	var policyIDs []uint
	if err := q.Pluck("policy_id", &policyIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	if len(policyIDs) == 0 {
		return nil, nil
	}

	var events []models.PolicyEvent
	query := a.db.Where("id IN ?", policyIDs).Order("date desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return events, nil
}
