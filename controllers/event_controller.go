package controllers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"policy_kline_backend/models"
	"policy_kline_backend/services"
	"policy_kline_backend/services/chart"
)

// chartEvents converts stored events into the chart matching representation.
func chartEvents(events []models.PolicyEvent) []chart.Event {
	out := make([]chart.Event, 0, len(events))
	for _, e := range events {
		out = append(out, chart.Event{
			ID:        e.ID,
			Date:      e.Date,
			Title:     e.Title,
			SourceURL: e.SourceURL,
		})
	}
	return out
}

// GetEventsByStock lists the events relevant to one security.
func GetEventsByStock(c *gin.Context) {
	code := services.NormalizeStockCode(c.Param("code"))
	name := services.StockDisplayName(code)

	events, err := services.GlobalEventService.EventsForStock(c.Request.Context(), code, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stock_code": code,
		"count":      len(events),
		"events":     events,
	})
}

// ListEvents pages through stored events with optional filters.
func ListEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	events, total, err := services.GlobalEventService.ListEvents(
		c.Query("event_type"),
		c.Query("date_from"),
		c.Query("date_to"),
		page, pageSize,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"page":   page,
		"events": events,
	})
}

// CreateEvent stores a manually entered event.
func CreateEvent(c *gin.Context) {
	var event models.PolicyEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := services.GlobalEventService.CreateEvent(&event); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "create_failed",
			"message": err.Error(),
		})
		return
	}

	if services.GlobalEventFeed != nil {
		services.GlobalEventFeed.BroadcastMessage("new_events", []models.PolicyEvent{event})
	}

	c.JSON(http.StatusCreated, gin.H{"event": event})
}

// UpdateEvent applies changes to a stored event.
func UpdateEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid event id",
		})
		return
	}

	var changes map[string]interface{}
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	// primary key and timestamps are not client-editable
	delete(changes, "id")
	delete(changes, "created_at")

	event, err := services.GlobalEventService.UpdateEvent(uint(id), changes)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// DeleteEvent removes a stored event and its analysis.
func DeleteEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid event id",
		})
		return
	}

	if err := services.GlobalEventService.DeleteEvent(uint(id)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ImportEventsCSV bulk imports events from an uploaded CSV file.
func ImportEventsCSV(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "CSV file is required (field name: file)",
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	defer f.Close()

	imported, rowErrors, err := services.GlobalEventService.ImportCSV(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "import_failed",
			"message": err.Error(),
		})
		return
	}

	log.Printf("CSV import: %d events imported, %d rows skipped", imported, len(rowErrors))
	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  len(rowErrors),
		"errors":   rowErrors,
	})
}

// DownloadCSVTemplate serves the import template.
func DownloadCSVTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="events_template.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(services.CSVTemplate()))
}

// GetStats serves the event corpus summary.
func GetStats(c *gin.Context) {
	stats, err := services.GlobalStatsService.Collect()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// DataViewer renders the event browsing page.
func DataViewer(c *gin.Context) {
	stats, err := services.GlobalStatsService.Collect()
	if err != nil {
		log.Printf("Failed to collect stats: %v", err)
		stats = nil
	}

	events, _, err := services.GlobalEventService.ListEvents(
		c.Query("event_type"), c.Query("date_from"), c.Query("date_to"), 1, 100)
	if err != nil {
		log.Printf("Failed to list events: %v", err)
	}

	c.HTML(http.StatusOK, "data_viewer.html", gin.H{
		"title":  "事件数据查看",
		"stats":  stats,
		"events": events,
	})
}

// HandleEventFeed upgrades to the live event WebSocket feed.
func HandleEventFeed(c *gin.Context) {
	if services.GlobalEventFeed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "event feed not initialized",
		})
		return
	}
	services.GlobalEventFeed.HandleWebSocket(c.Writer, c.Request)
}
