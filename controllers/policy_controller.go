package controllers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"policy_kline_backend/services"
	"policy_kline_backend/services/aianalysis"
	"policy_kline_backend/services/policyfetch"
)

// fetchTimeout bounds a manually triggered scrape run.
const fetchTimeout = 5 * time.Minute

// FetchPolicies triggers a scrape of all configured policy sources.
func FetchPolicies(c *gin.Context) {
	fetcher := policyfetch.NewFetcher(services.GlobalEventService.DB())
	if services.GlobalArchive != nil && services.GlobalArchive.IsConfigured() {
		fetcher.WithArchiver(services.GlobalArchive)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), fetchTimeout)
	defer cancel()

	count, err := fetcher.FetchAll(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "fetch_failed",
			"message": err.Error(),
		})
		return
	}

	if count > 0 && services.GlobalEventFeed != nil {
		if events, err := services.GlobalEventService.AllEvents(count); err == nil {
			services.GlobalEventFeed.BroadcastMessage("new_events", events)
		}
	}

	c.JSON(http.StatusOK, gin.H{"fetched": count})
}

// TriggerAnalysis runs AI classification over unanalyzed events. The request
// may bound the batch with limit and the parallelism with max_concurrent;
// async=true returns immediately and runs in the background.
func TriggerAnalysis(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	maxConcurrent, _ := strconv.Atoi(c.DefaultQuery("max_concurrent", "0"))
	async := c.DefaultQuery("async", "false") == "true"

	analyzer := services.GlobalAnalyzer
	if analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "analyzer not initialized",
		})
		return
	}

	if async {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			result, err := analyzer.AnalyzeUnprocessed(ctx, limit, maxConcurrent)
			if err != nil {
				log.Printf("Background analysis failed: %v", err)
				return
			}
			log.Printf("Background analysis done: %d analyzed, %d failed, %d pending",
				result.Analyzed, result.Failed, result.Pending)
			if services.GlobalEventFeed != nil {
				services.GlobalEventFeed.BroadcastMessage("analysis_done", result)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
		return
	}

	// synchronous runs default to one record at a time
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	result, err := analyzer.AnalyzeUnprocessed(c.Request.Context(), limit, maxConcurrent)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "analysis_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetPolicyAnalysis serves the stored analysis for one policy event.
func GetPolicyAnalysis(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid policy id",
		})
		return
	}

	analysis, err := services.GlobalAnalyzer.GetAnalysis(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no analysis for policy " + c.Param("id"),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

// GetPoliciesByStock serves the policy events relevant to a stock together
// with their stored analyses.
func GetPoliciesByStock(c *gin.Context) {
	code := services.NormalizeStockCode(c.Param("code"))
	name := services.StockDisplayName(code)

	events, err := services.GlobalEventService.EventsForStock(c.Request.Context(), code, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": err.Error(),
		})
		return
	}

	items := make([]gin.H, 0, len(events))
	for _, ev := range events {
		item := gin.H{"event": ev}
		if analysis, err := services.GlobalAnalyzer.GetAnalysis(ev.ID); err == nil {
			item["analysis"] = analysis
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"stock_code": code,
		"count":      len(items),
		"policies":   items,
	})
}

// GetStockIndustry serves (computing on demand) the industry mapping of a
// stock.
func GetStockIndustry(c *gin.Context) {
	code := services.NormalizeStockCode(c.Param("code"))
	name := services.StockDisplayName(code)

	stockType := aianalysis.ClassifyStockType(code)
	if stockType != aianalysis.StockTypeStock {
		c.JSON(http.StatusOK, gin.H{
			"stock_code": code,
			"stock_type": stockType,
			"industries": []string{},
		})
		return
	}

	mapping, err := services.GlobalAnalyzer.GetOrAnalyzeStockIndustry(c.Request.Context(), code, name)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "analysis_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stock_code":       code,
		"stock_type":       stockType,
		"stock_name":       mapping.StockName,
		"industries":       aianalysis.IndustriesOf(mapping),
		"analysis_summary": mapping.AnalysisSummary,
		"confidence_score": mapping.ConfidenceScore,
	})
}
