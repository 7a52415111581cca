package projection

import (
	"math"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/types"
)

// Timeline buckets the session into equal intervals for plotting
type Timeline struct {
	StartTime        *float64   `json:"start_time"`
	EndTime          *float64   `json:"end_time"`
	TotalDuration    float64    `json:"total_duration"`
	IntervalDuration float64    `json:"interval_duration"`
	Intervals        []Interval `json:"intervals"`
}

type Interval struct {
	Start  float64        `json:"start"`
	End    float64        `json:"end"`
	Center float64        `json:"center"`
	Count  int            `json:"count"`
	ByType map[string]int `json:"by_type"`
}

// buildTimeline splits [start, end] into min(100, n) intervals. Intervals
// are half-open except the last, which also holds messages at the end time.
func buildTimeline(sorted []types.DecodedMessage) Timeline {
	tl := Timeline{IntervalDuration: 1, Intervals: []Interval{}}
	if len(sorted) == 0 {
		return tl
	}

	start, end := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	tl.StartTime, tl.EndTime = &start, &end
	tl.TotalDuration = end - start

	n := len(sorted)
	if n > MaxTimelineIntervals {
		n = MaxTimelineIntervals
	}
	if tl.TotalDuration > 0 {
		tl.IntervalDuration = tl.TotalDuration / float64(n)
	}

	tl.Intervals = make([]Interval, n)
	for i := range tl.Intervals {
		lo := start + float64(i)*tl.IntervalDuration
		tl.Intervals[i] = Interval{
			Start:  lo,
			End:    lo + tl.IntervalDuration,
			Center: lo + tl.IntervalDuration/2,
			ByType: map[string]int{},
		}
	}

	for _, m := range sorted {
		i := int(math.Floor((m.Timestamp - start) / tl.IntervalDuration))
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		tl.Intervals[i].Count++
		tl.Intervals[i].ByType[m.MessageType]++
	}
	return tl
}

// Series is the chart oriented view of one message type: one timestamp
// column and one column per numeric field
type Series struct {
	MessageID  uint16    `json:"message_id"`
	Name       string    `json:"name"`
	Timestamps []float64 `json:"timestamps"`
	AircraftID []uint32  `json:"aircraft_ids"`
	Columns    []Column  `json:"columns"`
}

// Column holds one field's values; entries are null where the value was
// missing or not a finite number
type Column struct {
	Field  string     `json:"field"`
	Unit   string     `json:"unit,omitempty"`
	Values []*float64 `json:"values"`
}

func buildSeries(cat *schema.Catalog, sorted []types.DecodedMessage) []Series {
	out := []Series{}
	index := make(map[uint16]int)
	for _, m := range sorted {
		i, ok := index[m.MessageID]
		if !ok {
			i = len(out)
			index[m.MessageID] = i
			out = append(out, Series{
				MessageID: m.MessageID,
				Name:      m.MessageType,
				Columns:   seriesColumns(cat, m),
			})
		}
		s := &out[i]
		s.Timestamps = append(s.Timestamps, m.Timestamp)
		s.AircraftID = append(s.AircraftID, m.AircraftID)
		for c := range s.Columns {
			col := &s.Columns[c]
			col.Values = append(col.Values, numeric(m.Fields, col.Field))
		}
	}
	return out
}

// seriesColumns picks the chartable fields: numeric scalars without an
// enum or bit table. Without a layout the first message decides.
func seriesColumns(cat *schema.Catalog, first types.DecodedMessage) []Column {
	cols := []Column{}
	if cat != nil {
		if def, ok := cat.Message(first.MessageID); ok {
			for i := range def.Fields {
				f := &def.Fields[i]
				if f.Type.Shape != schema.ShapeScalar || f.Enum != nil || f.Bits != nil {
					continue
				}
				cols = append(cols, Column{Field: f.Name, Unit: f.DisplayUnit()})
			}
			return cols
		}
	}
	for _, fv := range first.Fields {
		if _, ok := types.NumericValue(fv.Value); ok {
			cols = append(cols, Column{Field: fv.Name})
		}
	}
	return cols
}

func numeric(fields types.Fields, name string) *float64 {
	v, ok := fields.Get(name)
	if !ok {
		return nil
	}
	x, ok := types.NumericValue(v)
	if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
