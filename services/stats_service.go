package services

import (
	"fmt"

	"gorm.io/gorm"

	"policy_kline_backend/models"
)

// StatsService summarizes the stored event corpus for the data viewer page.
type StatsService struct {
	db *gorm.DB
}

// GlobalStatsService is the process-wide stats service.
var GlobalStatsService *StatsService

// InitStatsService initializes the stats service.
func InitStatsService(db *gorm.DB) {
	GlobalStatsService = &StatsService{db: db}
}

// TypeCount is one event-type bucket in the stats summary.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// EventStats is the full stats document.
type EventStats struct {
	TotalEvents    int64       `json:"total_events"`
	AnalyzedEvents int64       `json:"analyzed_events"`
	PendingEvents  int64       `json:"pending_events"`
	ByType         []TypeCount `json:"by_type"`
	EarliestDate   string      `json:"earliest_date"`
	LatestDate     string      `json:"latest_date"`
	BusiestDate    string      `json:"busiest_date"`
	BusiestCount   int64       `json:"busiest_count"`
	TotalCandles   int64       `json:"total_candles"`
	TrackedStocks  int64       `json:"tracked_stocks"`
}

// Collect computes the stats summary in one pass over the database.
func (s *StatsService) Collect() (*EventStats, error) {
	stats := &EventStats{}

	if err := s.db.Model(&models.PolicyEvent{}).Count(&stats.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.Model(&models.PolicyAnalysis{}).Count(&stats.AnalyzedEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to count analyses: %w", err)
	}
	stats.PendingEvents = stats.TotalEvents - stats.AnalyzedEvents
	if stats.PendingEvents < 0 {
		stats.PendingEvents = 0
	}

	err := s.db.Model(&models.PolicyEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Order("count desc").
		Scan(&stats.ByType).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group events by type: %w", err)
	}

	if stats.TotalEvents > 0 {
		var span struct {
			Earliest string
			Latest   string
		}
		err = s.db.Model(&models.PolicyEvent{}).
			Select("min(date) as earliest, max(date) as latest").
			Scan(&span).Error
		if err != nil {
			return nil, fmt.Errorf("failed to compute date span: %w", err)
		}
		stats.EarliestDate = span.Earliest
		stats.LatestDate = span.Latest

		var busiest struct {
			Date  string
			Count int64
		}
		err = s.db.Model(&models.PolicyEvent{}).
			Select("date, count(*) as count").
			Group("date").
			Order("count desc").
			Limit(1).
			Scan(&busiest).Error
		if err != nil {
			return nil, fmt.Errorf("failed to find busiest date: %w", err)
		}
		stats.BusiestDate = busiest.Date
		stats.BusiestCount = busiest.Count
	}

	if err := s.db.Model(&models.StockKline{}).Count(&stats.TotalCandles).Error; err != nil {
		return nil, fmt.Errorf("failed to count candles: %w", err)
	}
	if err := s.db.Model(&models.StockKline{}).Distinct("stock_code").Count(&stats.TrackedStocks).Error; err != nil {
		return nil, fmt.Errorf("failed to count tracked stocks: %w", err)
	}

	return stats, nil
}
