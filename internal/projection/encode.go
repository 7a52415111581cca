package projection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/saviobatista/uavlog/internal/types"
)

// View names, also used as output file stems
const (
	ViewSummary       = "summary"
	ViewAircraft      = "aircraft"
	ViewMessages      = "messages"
	ViewTimeline      = "timeline"
	ViewByAircraft    = "by_aircraft"
	ViewByMessageType = "by_message_type"
	ViewSeries        = "series"
)

// Views lists every view in the order they are written
func Views() []string {
	return []string{ViewSummary, ViewAircraft, ViewMessages, ViewTimeline, ViewByAircraft, ViewByMessageType, ViewSeries}
}

type messagesView struct {
	Count     int                    `json:"count"`
	TimeRange *TimeRange             `json:"time_range"`
	Messages  []types.DecodedMessage `json:"messages"`
}

type aircraftView struct {
	Count    int            `json:"count"`
	Aircraft []AircraftInfo `json:"aircraft"`
}

type byAircraftView struct {
	AircraftCount int             `json:"aircraft_count"`
	AircraftIDs   []uint32        `json:"aircraft_ids"`
	Aircraft      []AircraftGroup `json:"aircraft"`
}

type byMessageTypeView struct {
	TypeCount    int                `json:"type_count"`
	TypeNames    []string           `json:"type_names"`
	MessageTypes []MessageTypeGroup `json:"message_types"`
}

type seriesView struct {
	Series []Series `json:"series"`
}

// Encode renders every view as JSON. The same projection always yields
// the same bytes: groups are slices in first occurrence order and the only
// maps are per-interval type counts, which encoding/json writes sorted.
func Encode(p *Projection) (map[string][]byte, error) {
	var tr *TimeRange
	if p.Summary.StartTime != nil {
		tr = &TimeRange{Start: *p.Summary.StartTime, End: *p.Summary.EndTime, Duration: p.Summary.Duration}
	}

	acIDs := make([]uint32, len(p.ByAircraft))
	for i, g := range p.ByAircraft {
		acIDs[i] = g.AircraftID
	}
	typeNames := make([]string, len(p.ByMessageType))
	for i, g := range p.ByMessageType {
		typeNames[i] = g.Name
	}

	messages := p.Messages
	if messages == nil {
		messages = []types.DecodedMessage{}
	}

	views := map[string]any{
		ViewSummary:  p.Summary,
		ViewAircraft: aircraftView{Count: len(p.Aircraft), Aircraft: p.Aircraft},
		ViewMessages: messagesView{Count: len(messages), TimeRange: tr, Messages: messages},
		ViewTimeline: p.Timeline,
		ViewByAircraft: byAircraftView{
			AircraftCount: len(p.ByAircraft),
			AircraftIDs:   acIDs,
			Aircraft:      p.ByAircraft,
		},
		ViewByMessageType: byMessageTypeView{
			TypeCount:    len(p.ByMessageType),
			TypeNames:    typeNames,
			MessageTypes: p.ByMessageType,
		},
		ViewSeries: seriesView{Series: p.Series},
	}

	out := make(map[string][]byte, len(views))
	for _, name := range Views() {
		b, err := marshal(views[name], name != ViewMessages)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s view: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

func marshal(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
