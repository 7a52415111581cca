// Package projection derives the session views from a decoded message
// sequence. Every view is a pure function of its input.
package projection

import (
	"math"
	"sort"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/types"
)

// MaxTimelineIntervals bounds the timeline resolution
const MaxTimelineIntervals = 100

// Projection holds every derived view of one session
type Projection struct {
	Summary       Summary
	Aircraft      []AircraftInfo
	Messages      []types.DecodedMessage
	ByAircraft    []AircraftGroup
	ByMessageType []MessageTypeGroup
	Timeline      Timeline
	Series        []Series
}

// Summary is the statistics record of a session. Start and end are nil
// for a session without messages.
type Summary struct {
	MessageCount     int                `json:"message_count"`
	AircraftCount    int                `json:"aircraft_count"`
	MessageTypeCount int                `json:"message_type_count"`
	StartTime        *float64           `json:"start_time"`
	EndTime          *float64           `json:"end_time"`
	Duration         float64            `json:"duration"`
	Aircraft         []AircraftCount    `json:"aircraft"`
	MessageTypes     []MessageTypeCount `json:"message_types"`
}

type AircraftCount struct {
	AircraftID uint32 `json:"aircraft_id"`
	Name       string `json:"name,omitempty"`
	Count      int    `json:"count"`
}

type MessageTypeCount struct {
	MessageID   uint16 `json:"message_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// AircraftInfo is the configuration of one declared aircraft
type AircraftInfo struct {
	AircraftID uint32            `json:"aircraft_id"`
	Name       string            `json:"name"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Messages   []string          `json:"messages,omitempty"`
}

// TimeRange is the span covered by a group of messages
type TimeRange struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

type AircraftGroup struct {
	AircraftID   uint32                 `json:"aircraft_id"`
	Name         string                 `json:"name,omitempty"`
	MessageCount int                    `json:"message_count"`
	MessageTypes []string               `json:"message_types"`
	TimeRange    TimeRange              `json:"time_range"`
	Messages     []types.DecodedMessage `json:"messages"`
}

type MessageTypeGroup struct {
	MessageID    uint16                 `json:"message_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	MessageCount int                    `json:"message_count"`
	AircraftIDs  []uint32               `json:"aircraft_ids"`
	TimeRange    TimeRange              `json:"time_range"`
	Frequency    float64                `json:"frequency"`
	Messages     []types.DecodedMessage `json:"messages"`
}

// Build derives the projection. The catalog only contributes names and
// descriptions and may be nil.
func Build(cat *schema.Catalog, msgs []types.DecodedMessage) *Projection {
	sorted := make([]types.DecodedMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	p := &Projection{
		Messages:      sorted,
		Aircraft:      aircraftInfo(cat),
		ByAircraft:    groupByAircraft(cat, sorted),
		ByMessageType: groupByMessageType(cat, sorted),
		Timeline:      buildTimeline(sorted),
		Series:        buildSeries(cat, sorted),
	}
	p.Summary = summarize(p)
	return p
}

func summarize(p *Projection) Summary {
	s := Summary{
		MessageCount:     len(p.Messages),
		AircraftCount:    len(p.ByAircraft),
		MessageTypeCount: len(p.ByMessageType),
		Aircraft:         make([]AircraftCount, 0, len(p.ByAircraft)),
		MessageTypes:     make([]MessageTypeCount, 0, len(p.ByMessageType)),
	}
	if n := len(p.Messages); n > 0 {
		start, end := p.Messages[0].Timestamp, p.Messages[n-1].Timestamp
		s.StartTime = &start
		s.EndTime = &end
		s.Duration = end - start
	}
	for _, g := range p.ByAircraft {
		s.Aircraft = append(s.Aircraft, AircraftCount{AircraftID: g.AircraftID, Name: g.Name, Count: g.MessageCount})
	}
	for _, g := range p.ByMessageType {
		s.MessageTypes = append(s.MessageTypes, MessageTypeCount{
			MessageID:   g.MessageID,
			Name:        g.Name,
			Description: g.Description,
			Count:       g.MessageCount,
		})
	}
	return s
}

func aircraftInfo(cat *schema.Catalog) []AircraftInfo {
	out := []AircraftInfo{}
	if cat == nil {
		return out
	}
	for _, ac := range cat.AircraftList() {
		info := AircraftInfo{AircraftID: ac.ID, Name: ac.Name, Metadata: ac.Metadata}
		for _, id := range ac.Permitted {
			if m, ok := cat.Message(id); ok {
				info.Messages = append(info.Messages, m.Name)
			}
		}
		out = append(out, info)
	}
	return out
}

func aircraftName(cat *schema.Catalog, id uint32) string {
	if cat == nil {
		return ""
	}
	if ac, ok := cat.Aircraft(id); ok {
		return ac.Name
	}
	return ""
}

func messageDescription(cat *schema.Catalog, id uint16) string {
	if cat == nil {
		return ""
	}
	if m, ok := cat.Message(id); ok {
		return m.Description
	}
	return ""
}

// extend widens r to include ts; sorted input makes this a simple update
func extend(r *TimeRange, ts float64, first bool) {
	if first {
		r.Start, r.End = ts, ts
	} else {
		r.Start = math.Min(r.Start, ts)
		r.End = math.Max(r.End, ts)
	}
	r.Duration = r.End - r.Start
}

func groupByAircraft(cat *schema.Catalog, sorted []types.DecodedMessage) []AircraftGroup {
	groups := []AircraftGroup{}
	index := make(map[uint32]int)
	seenTypes := make(map[uint32]map[string]struct{})

	for _, m := range sorted {
		i, ok := index[m.AircraftID]
		if !ok {
			i = len(groups)
			index[m.AircraftID] = i
			groups = append(groups, AircraftGroup{
				AircraftID:   m.AircraftID,
				Name:         aircraftName(cat, m.AircraftID),
				MessageTypes: []string{},
			})
			seenTypes[m.AircraftID] = make(map[string]struct{})
		}
		g := &groups[i]
		extend(&g.TimeRange, m.Timestamp, g.MessageCount == 0)
		g.MessageCount++
		g.Messages = append(g.Messages, m)
		if _, seen := seenTypes[m.AircraftID][m.MessageType]; !seen {
			seenTypes[m.AircraftID][m.MessageType] = struct{}{}
			g.MessageTypes = append(g.MessageTypes, m.MessageType)
		}
	}
	for i := range groups {
		sort.Strings(groups[i].MessageTypes)
	}
	return groups
}

func groupByMessageType(cat *schema.Catalog, sorted []types.DecodedMessage) []MessageTypeGroup {
	groups := []MessageTypeGroup{}
	index := make(map[uint16]int)
	seenAircraft := make(map[uint16]map[uint32]struct{})

	for _, m := range sorted {
		i, ok := index[m.MessageID]
		if !ok {
			i = len(groups)
			index[m.MessageID] = i
			groups = append(groups, MessageTypeGroup{
				MessageID:   m.MessageID,
				Name:        m.MessageType,
				Description: messageDescription(cat, m.MessageID),
				AircraftIDs: []uint32{},
			})
			seenAircraft[m.MessageID] = make(map[uint32]struct{})
		}
		g := &groups[i]
		extend(&g.TimeRange, m.Timestamp, g.MessageCount == 0)
		g.MessageCount++
		g.Messages = append(g.Messages, m)
		if _, seen := seenAircraft[m.MessageID][m.AircraftID]; !seen {
			seenAircraft[m.MessageID][m.AircraftID] = struct{}{}
			g.AircraftIDs = append(g.AircraftIDs, m.AircraftID)
		}
	}
	for i := range groups {
		g := &groups[i]
		sort.Slice(g.AircraftIDs, func(a, b int) bool { return g.AircraftIDs[a] < g.AircraftIDs[b] })
		if g.TimeRange.Duration > 0 {
			g.Frequency = float64(g.MessageCount) / g.TimeRange.Duration
		}
	}
	return groups
}
