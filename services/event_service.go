package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"

	"gorm.io/gorm"

	"policy_kline_backend/models"
	"policy_kline_backend/services/aianalysis"
)

// EventService serves the event list shown alongside a stock's chart.
type EventService struct {
	db       *gorm.DB
	analyzer *aianalysis.Analyzer
}

// GlobalEventService is the process-wide event service.
var GlobalEventService *EventService

// GlobalAnalyzer is the process-wide policy analyzer.
var GlobalAnalyzer *aianalysis.Analyzer

// InitEventService initializes the event service and shared analyzer.
func InitEventService(db *gorm.DB, analyzer *aianalysis.Analyzer) {
	GlobalEventService = &EventService{db: db, analyzer: analyzer}
	GlobalAnalyzer = analyzer
}

// DB exposes the underlying handle for callers that build their own
// components on it, like manually triggered fetchers.
func (s *EventService) DB() *gorm.DB {
	return s.db
}

// EventsForStock selects the events relevant to one security. Major indices
// get the full event stream; individual stocks get events whose analyzed
// industries overlap the stock's own, falling back to the full stream when no
// industry mapping can be obtained.
func (s *EventService) EventsForStock(ctx context.Context, stockCode, stockName string) ([]models.PolicyEvent, error) {
	if aianalysis.IsMajorIndex(stockCode) {
		return s.AllEvents(0)
	}

	mapping, err := s.analyzer.GetOrAnalyzeStockIndustry(ctx, stockCode, stockName)
	if err != nil {
		log.Printf("Industry mapping for %s unavailable, serving all events: %v", stockCode, err)
		return s.AllEvents(0)
	}

	industries := aianalysis.IndustriesOf(mapping)
	if len(industries) == 0 {
		return s.AllEvents(0)
	}

	events, err := s.analyzer.PoliciesForIndustries(industries, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		// nothing industry-specific yet, show the broad stream
		return s.AllEvents(0)
	}
	return events, nil
}

// AllEvents lists events newest first; limit 0 means no limit.
func (s *EventService) AllEvents(limit int) ([]models.PolicyEvent, error) {
	var events []models.PolicyEvent
	q := s.db.Order("date desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListEvents pages through events with optional type and date filters.
func (s *EventService) ListEvents(eventType, dateFrom, dateTo string, page, pageSize int) ([]models.PolicyEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	q := s.db.Model(&models.PolicyEvent{})
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if dateFrom != "" {
		q = q.Where("date >= ?", dateFrom)
	}
	if dateTo != "" {
		q = q.Where("date <= ?", dateTo)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	var events []models.PolicyEvent
	err := q.Order("date desc, id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

// CreateEvent validates and stores one event, rejecting (title, date)
// duplicates.
func (s *EventService) CreateEvent(event *models.PolicyEvent) error {
	if event.Title == "" || event.Date == "" {
		return fmt.Errorf("title and date are required")
	}
	if event.ContentType == "" {
		event.ContentType = "政策"
	}

	var existing models.PolicyEvent
	err := s.db.Where("title = ? AND date = ?", event.Title, event.Date).First(&existing).Error
	if err == nil {
		return fmt.Errorf("event already exists: %s (%s)", event.Title, event.Date)
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("duplicate check failed: %w", err)
	}
	return s.db.Create(event).Error
}

// UpdateEvent applies changes to a stored event.
func (s *EventService) UpdateEvent(id uint, changes map[string]interface{}) (*models.PolicyEvent, error) {
	var event models.PolicyEvent
	if err := s.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&event).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return &event, nil
}

// DeleteEvent removes an event and its analysis row.
func (s *EventService) DeleteEvent(id uint) error {
	var event models.PolicyEvent
	if err := s.db.First(&event, id).Error; err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", id).Delete(&models.PolicyAnalysis{}).Error; err != nil {
			return err
		}
		return tx.Delete(&event).Error
	})
}

// csvHeader is the column order for event CSV import and export.
var csvHeader = []string{"date", "title", "event_type", "content", "source_url", "department", "policy_level", "impact_level"}

// CSVTemplate returns a header-plus-sample CSV for the import form.
func CSVTemplate() string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Write(csvHeader)
	w.Write([]string{"2025-07-25", "央行宣布下调存款准备金率", "货币政策", "", "https://example.gov.cn/doc.htm", "中国人民银行", "国家级", "高"})
	w.Flush()
	return sb.String()
}

// ImportCSV reads events from CSV, skipping duplicates and malformed rows.
// It returns the number imported and the per-row errors encountered.
func (s *EventService) ImportCSV(r io.Reader) (int, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	if _, ok := col["date"]; !ok {
		return 0, nil, fmt.Errorf("CSV missing required column: date")
	}
	if _, ok := col["title"]; !ok {
		return 0, nil, fmt.Errorf("CSV missing required column: title")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	imported := 0
	var rowErrors []string
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		event := models.PolicyEvent{
			Date:        field(row, "date"),
			Title:       field(row, "title"),
			EventType:   field(row, "event_type"),
			Content:     field(row, "content"),
			SourceURL:   field(row, "source_url"),
			Department:  field(row, "department"),
			PolicyLevel: field(row, "policy_level"),
			ImpactLevel: field(row, "impact_level"),
		}
		if event.EventType == "" {
			event.EventType = "其他政策"
		}

		if err := s.CreateEvent(&event); err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		imported++
	}
	return imported, rowErrors, nil
}
