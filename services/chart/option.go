package chart

import (
	"encoding/json"
	"fmt"
)

// StarSymbol is the SVG path used for event glyphs on the chart, a ten-point
// star roughly 16x15 units.
const StarSymbol = "path://M8,0 L10.472,5.236 L16,6.18 L11.764,9.818 L13.056,15 L8,12.273 L2.944,15 L4.236,9.818 L0,6.18 L5.528,5.236 Z"

// candle colors follow the mainland chart convention: red up, green down
const (
	upColor         = "#ec0000"
	upBorderColor   = "#8A0000"
	downColor       = "#00da3c"
	downBorderColor = "#008F28"
)

// BuildKlineOption assembles the ECharts option document for one stock page.
// The series order per candle is [open, close, low, high]; markers produced by
// BuildMarkers are attached as markPoint entries positioned by [date, value]
// coordinates.
func BuildKlineOption(title string, series []SeriesPoint, markers []Marker) map[string]interface{} {
	dates := make([]string, 0, len(series))
	values := make([][]float64, 0, len(series))
	var lastDate string
	for _, p := range series {
		ts, err := NormalizeTimestamp(p.Date)
		if err != nil {
			continue
		}
		d := ts.Format("2006-01-02")
		dates = append(dates, d)
		values = append(values, []float64{p.Open, p.Close, p.Low, p.High})
		lastDate = d
	}

	markPoints := make([]map[string]interface{}, 0, len(markers))
	for _, m := range markers {
		markPoints = append(markPoints, map[string]interface{}{
			"name":       m.Name,
			"coord":      []interface{}{m.Date, m.Value},
			"value":      m.Title,
			"symbol":     StarSymbol,
			"symbolSize": 15,
			"itemStyle":  map[string]interface{}{"color": "gold"},
			"label":      map[string]interface{}{"show": false},
		})
	}

	subtitle := ""
	if lastDate != "" {
		subtitle = fmt.Sprintf("数据截止: %s", lastDate)
	}

	return map[string]interface{}{
		"title": map[string]interface{}{
			"text":    title,
			"subtext": subtitle,
			"left":    "center",
		},
		"tooltip": map[string]interface{}{
			"trigger": "axis",
			"axisPointer": map[string]interface{}{
				"type": "cross",
			},
		},
		"grid": map[string]interface{}{
			"left":   "10%",
			"right":  "8%",
			"bottom": "15%",
		},
		"xAxis": map[string]interface{}{
			"type":        "category",
			"data":        dates,
			"boundaryGap": true,
			"axisLine":    map[string]interface{}{"onZero": false},
			"splitLine":   map[string]interface{}{"show": false},
		},
		"yAxis": map[string]interface{}{
			"scale":     true,
			"splitArea": map[string]interface{}{"show": true},
		},
		"dataZoom": []map[string]interface{}{
			{"type": "inside", "start": 80, "end": 100},
			{"type": "slider", "show": true, "start": 80, "end": 100},
		},
		"series": []map[string]interface{}{
			{
				"name": title,
				"type": "candlestick",
				"data": values,
				"itemStyle": map[string]interface{}{
					"color":        upColor,
					"color0":       downColor,
					"borderColor":  upBorderColor,
					"borderColor0": downBorderColor,
				},
				"markPoint": map[string]interface{}{
					"data": markPoints,
				},
			},
		},
	}
}

// RenderOptionJSON marshals an option document for embedding in a page.
func RenderOptionJSON(option map[string]interface{}) (string, error) {
	raw, err := json.Marshal(option)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chart option: %w", err)
	}
	return string(raw), nil
}
