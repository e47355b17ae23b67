package controllers

import (
	"html/template"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"policy_kline_backend/services"
	"policy_kline_backend/services/chart"
)

// Index renders the stock code entry form.
func Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "股票K线图与政策事件",
	})
}

// IndexSubmit redirects the form submission to the chart page.
func IndexSubmit(c *gin.Context) {
	code := services.NormalizeStockCode(c.PostForm("stock_code"))
	if code == "" {
		c.HTML(http.StatusBadRequest, "index.html", gin.H{
			"title": "股票K线图与政策事件",
			"error": "请输入股票代码",
		})
		return
	}
	c.Redirect(http.StatusFound, "/kline/"+code)
}

// ShowKline renders the candle chart page with event markers for one stock.
func ShowKline(c *gin.Context) {
	code := services.NormalizeStockCode(c.Param("code"))
	name := services.StockDisplayName(code)

	candles, err := services.GlobalKlineService.GetKline(c.Request.Context(), code)
	if err != nil {
		log.Printf("Failed to load candles for %s: %v", code, err)
		c.HTML(http.StatusNotFound, "index.html", gin.H{
			"title": "股票K线图与政策事件",
			"error": "未找到 " + code + " 的K线数据",
		})
		return
	}

	events, err := services.GlobalEventService.EventsForStock(c.Request.Context(), code, name)
	if err != nil {
		log.Printf("Failed to load events for %s: %v", code, err)
	}

	series := services.SeriesPoints(candles)
	markers := chart.BuildMarkers(series, chartEvents(events))
	option := chart.BuildKlineOption(name, series, markers)

	optionJSON, err := chart.RenderOptionJSON(option)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "index.html", gin.H{
			"title": "股票K线图与政策事件",
			"error": "图表渲染失败",
		})
		return
	}

	c.HTML(http.StatusOK, "kline.html", gin.H{
		"title":      name + " K线图",
		"stock_code": code,
		"stock_name": name,
		"option":     template.JS(optionJSON),
		"events":     events,
	})
}

// GetKlineJSON serves the chart data as JSON for API consumers.
func GetKlineJSON(c *gin.Context) {
	code := services.NormalizeStockCode(c.Param("code"))
	name := services.StockDisplayName(code)

	candles, err := services.GlobalKlineService.GetKline(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no candle data for " + code,
		})
		return
	}

	events, err := services.GlobalEventService.EventsForStock(c.Request.Context(), code, name)
	if err != nil {
		log.Printf("Failed to load events for %s: %v", code, err)
	}

	series := services.SeriesPoints(candles)
	markers := chart.BuildMarkers(series, chartEvents(events))

	c.JSON(http.StatusOK, gin.H{
		"stock_code": code,
		"stock_name": name,
		"count":      len(series),
		"series":     series,
		"markers":    markers,
	})
}
