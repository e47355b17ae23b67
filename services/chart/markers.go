package chart

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// MatchTolerance is the maximum distance between an event date and a candle
// date for the event to be plotted on that candle.
const MatchTolerance = 24 * time.Hour

// fallbackIncrement is used when both the series price range and the candle
// high are zero, which only happens with degenerate all-zero data.
const fallbackIncrement = 0.1

// spreadsheet serial 1 denotes 1900-01-01
var serialEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// SeriesPoint is one candle as consumed from the charting engine: an ordered
// [date, open, close, low, high] tuple per trading day. Date may be an ISO
// string, a Unix seconds or milliseconds integer, a legacy spreadsheet serial
// integer, or an already-parsed time.Time.
type SeriesPoint struct {
	Date  interface{} `json:"date"`
	Open  float64     `json:"open"`
	Close float64     `json:"close"`
	Low   float64     `json:"low"`
	High  float64     `json:"high"`
}

// Event is a dated record to be flagged on the chart.
type Event struct {
	ID        uint   `json:"id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Title     string `json:"title"`
	SourceURL string `json:"source_url,omitempty"`
}

// Marker is a glyph placed above a candle. Name is a stable identifier used
// by the page script to pair list rows with glyphs on hover.
type Marker struct {
	Name  string  `json:"name"`
	Date  string  `json:"date"`  // ISO date of the matched candle
	Value float64 `json:"value"` // y coordinate on the price axis
	Title string  `json:"title"`
}

// NormalizeTimestamp converts any of the accepted date encodings to a UTC
// timestamp. Numeric values below 100000 are spreadsheet serial days, below
// 1e11 Unix seconds, otherwise Unix milliseconds.
func NormalizeTimestamp(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), nil
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date string %q", d)
	case int:
		return normalizeNumeric(float64(d)), nil
	case int64:
		return normalizeNumeric(float64(d)), nil
	case float64:
		return normalizeNumeric(d), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}

func normalizeNumeric(n float64) time.Time {
	switch {
	case n < 1e5:
		// legacy spreadsheet serial, day 1 = 1900-01-01
		return serialEpoch.AddDate(0, 0, int(n)-1)
	case n < 1e11:
		return time.Unix(int64(n), 0).UTC()
	default:
		return time.UnixMilli(int64(n)).UTC()
	}
}

// BuildMarkers matches events to candles and assigns stacked y positions.
//
// Events whose date is within MatchTolerance of a candle date are attached to
// the nearest such candle; events with no match are skipped. Events sharing a
// candle stack upward from one increment above the candle high, where the
// increment is 1% of the series price range, falling back to 1% of the candle
// high and finally to a fixed minimum when those are zero.
func BuildMarkers(series []SeriesPoint, events []Event) []Marker {
	if len(series) == 0 || len(events) == 0 {
		return []Marker{}
	}

	type candle struct {
		ts   time.Time
		p    SeriesPoint
		date string
	}

	candles := make([]candle, 0, len(series))
	maxHigh := math.Inf(-1)
	minLow := math.Inf(1)
	for _, p := range series {
		ts, err := NormalizeTimestamp(p.Date)
		if err != nil {
			continue
		}
		candles = append(candles, candle{ts: ts, p: p, date: ts.Format("2006-01-02")})
		if p.High > maxHigh {
			maxHigh = p.High
		}
		if p.Low < minLow {
			minLow = p.Low
		}
	}
	if len(candles) == 0 {
		return []Marker{}
	}

	rangeIncrement := (maxHigh - minLow) * 0.01

	// events grouped per candle index, preserving input order
	grouped := make(map[int][]Event)
	for _, ev := range events {
		ts, err := NormalizeTimestamp(ev.Date)
		if err != nil {
			continue
		}
		best := -1
		bestDiff := MatchTolerance
		for i, c := range candles {
			diff := c.ts.Sub(ts)
			if diff < 0 {
				diff = -diff
			}
			if diff < bestDiff {
				bestDiff = diff
				best = i
			}
		}
		if best >= 0 {
			grouped[best] = append(grouped[best], ev)
		}
	}

	markers := make([]Marker, 0, len(events))
	for i, c := range candles {
		daily, ok := grouped[i]
		if !ok {
			continue
		}

		increment := rangeIncrement
		if increment == 0 {
			increment = c.p.High * 0.01
		}
		if increment == 0 {
			increment = fallbackIncrement
		}

		for j, ev := range daily {
			name := markerName(ev, c.date, j)
			markers = append(markers, Marker{
				Name:  name,
				Date:  c.date,
				Value: c.p.High + increment*float64(j+1),
				Title: ev.Title,
			})
		}
	}

	return markers
}

// markerName prefers the stored event id; records without one get a composite
// identifier the page script can reproduce from the event list.
func markerName(ev Event, date string, position int) string {
	if ev.ID != 0 {
		return strconv.FormatUint(uint64(ev.ID), 10)
	}
	return fmt.Sprintf("%s_%d_%s", date, position, ev.Title)
}
