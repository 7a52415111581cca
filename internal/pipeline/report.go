package pipeline

import (
	"time"

	"github.com/saviobatista/uavlog/internal/decoder"
	"github.com/saviobatista/uavlog/internal/projection"
	"github.com/saviobatista/uavlog/internal/types"
	"github.com/saviobatista/uavlog/internal/version"
)

// Report describes one processing run of a session. It is published as
// report.json next to the views.
type Report struct {
	SessionID   string                 `json:"session_id"`
	RunID       string                 `json:"run_id"`
	Status      string                 `json:"status"`
	ProcessedAt time.Time              `json:"processed_at"`
	SessionTime *time.Time             `json:"session_time,omitempty"`
	Reprocessed bool                   `json:"reprocessed"`
	SchemaSize  int                    `json:"schema_size"`
	DataSize    int                    `json:"data_size"`
	Version     version.Stamp          `json:"version"`
	Policy      string                 `json:"policy"`
	Frames      int                    `json:"frames"`
	Messages    int                    `json:"messages"`
	Filtered    int                    `json:"filtered"`
	Aborted     bool                   `json:"aborted"`
	Decoded     string                 `json:"decoded,omitempty"`
	ErrorCounts map[string]int         `json:"error_counts"`
	Errors      []*decoder.DecodeError `json:"errors"`
	Error       string                 `json:"error,omitempty"`
}

// addDecode copies the counters of a decode run into the report
func (r *Report) addDecode(res *decoder.Result) {
	r.Frames = res.Frames
	r.Messages = len(res.Messages)
	r.Filtered = res.Filtered
	r.Aborted = res.Aborted
	r.Decoded = res.Summary()
	r.Errors = res.Errors
	if r.Errors == nil {
		r.Errors = []*decoder.DecodeError{}
	}
	for kind, n := range res.ErrorCounts() {
		r.ErrorCounts[kind.String()] = n
	}
	if res.Fatal != nil {
		r.Error = res.Fatal.Error()
	}

	r.Status = types.StatusProcessed
	if len(res.Errors) > 0 {
		r.Status = types.StatusPartial
	}
}

// Record is the index entry of the run. summary is nil for a session that
// could not be decoded.
func (r *Report) Record(summary *projection.Summary) types.SessionRecord {
	rec := types.SessionRecord{
		SessionID:   r.SessionID,
		RunID:       r.RunID,
		VersionHash: r.Version.Hash,
		Status:      r.Status,
		ProcessedAt: r.ProcessedAt,
		FramesTotal: r.Frames,
		ErrorCount:  len(r.Errors),
		Error:       r.Error,
		SessionTime: r.SessionTime,
	}
	if summary != nil {
		rec.MessageCount = summary.MessageCount
		rec.AircraftCount = summary.AircraftCount
		rec.StartTime = summary.StartTime
		rec.EndTime = summary.EndTime
		rec.Duration = summary.Duration
	}
	return rec
}

// Event is the notification published for the run
func (r *Report) Event() *types.SessionEvent {
	return &types.SessionEvent{
		SessionID:    r.SessionID,
		RunID:        r.RunID,
		VersionHash:  r.Version.Hash,
		Status:       r.Status,
		MessageCount: r.Messages,
		ErrorCount:   len(r.Errors),
		Reprocessed:  r.Reprocessed,
		Timestamp:    r.ProcessedAt,
	}
}
