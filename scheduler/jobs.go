// Package scheduler runs the background jobs: the daily policy scrape, the
// nightly AI classification pass and the weekly cleanup of stale fetch logs
// and archived pages.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"policy_kline_backend/models"
	"policy_kline_backend/services"
	"policy_kline_backend/services/policyfetch"
)

// fetchLogMaxAge is how long fetch-log rows are kept.
const fetchLogMaxAge = 30 * 24 * time.Hour

// cst is the exchange timezone; job times are quoted in it.
var cst = time.FixedZone("CST", 8*3600)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron    *gocron.Scheduler
	db      *gorm.DB
	fetcher *policyfetch.Fetcher
}

// NewScheduler creates a new scheduler instance
func NewScheduler(db *gorm.DB) *Scheduler {
	fetcher := policyfetch.NewFetcher(db)
	if services.GlobalArchive != nil && services.GlobalArchive.IsConfigured() {
		fetcher.WithArchiver(services.GlobalArchive)
	}

	return &Scheduler{
		cron:    gocron.NewScheduler(cst),
		db:      db,
		fetcher: fetcher,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Scrape policy sources every evening after market close
	s.cron.Every(1).Day().At("18:30").Do(func() {
		s.fetchPolicies()
	})

	// Classify unanalyzed events nightly, after the day's scrapes settled
	s.cron.Every(1).Day().At("02:00").Do(func() {
		s.analyzeNewPolicies()
	})

	// Cleanup stale fetch logs and archived pages weekly on Sunday
	s.cron.Every(1).Week().Sunday().At("03:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// fetchPolicies scrapes all sources and pushes new events to the feed.
func (s *Scheduler) fetchPolicies() {
	log.Println("Scheduled policy fetch starting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	count, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		log.Printf("Scheduled policy fetch failed: %v", err)
		return
	}
	log.Printf("Scheduled policy fetch done: %d new events", count)

	if count > 0 && services.GlobalEventFeed != nil {
		if events, err := services.GlobalEventService.AllEvents(count); err == nil {
			services.GlobalEventFeed.BroadcastMessage("new_events", events)
		}
	}
}

// analyzeNewPolicies classifies the backlog of unanalyzed events.
func (s *Scheduler) analyzeNewPolicies() {
	if services.GlobalAnalyzer == nil {
		return
	}

	log.Println("Scheduled policy analysis starting...")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
	defer cancel()

	result, err := services.GlobalAnalyzer.AnalyzeUnprocessed(ctx, 0, 0)
	if err != nil {
		log.Printf("Scheduled policy analysis failed: %v", err)
		return
	}
	log.Printf("Scheduled policy analysis done: %d analyzed, %d failed, %d pending",
		result.Analyzed, result.Failed, result.Pending)

	if result.Analyzed > 0 && services.GlobalEventFeed != nil {
		services.GlobalEventFeed.BroadcastMessage("analysis_done", result)
	}
}

// cleanupOldData prunes stale fetch logs and archived raw pages.
func (s *Scheduler) cleanupOldData() {
	log.Println("Running scheduled cleanup...")

	cutoff := time.Now().Add(-fetchLogMaxAge)
	result := s.db.Where("last_fetch_time < ?", cutoff).Delete(&models.FetchLog{})
	if result.Error != nil {
		log.Printf("Fetch log cleanup failed: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Printf("Removed %d stale fetch log entries", result.RowsAffected)
	}

	if services.GlobalArchive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := services.GlobalArchive.PruneOldPages(ctx); err != nil {
			log.Printf("Archive cleanup failed: %v", err)
		}
	}
}
