package types

import (
	"time"
)

// DecodedMessage is one successfully decoded telemetry frame
type DecodedMessage struct {
	AircraftID  uint32  `json:"aircraft_id" cbor:"1,keyasint"`
	MessageID   uint16  `json:"message_id" cbor:"2,keyasint"`
	MessageType string  `json:"message_type" cbor:"3,keyasint"`
	Timestamp   float64 `json:"timestamp" cbor:"4,keyasint"`
	Fields      Fields  `json:"fields" cbor:"5,keyasint"`
}

// Session status values recorded in the session index
const (
	StatusProcessed = "processed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// SessionRecord is the index entry kept for every processed session
type SessionRecord struct {
	SessionID     string     `json:"session_id"`
	RunID         string     `json:"run_id"`
	VersionHash   string     `json:"version_hash"`
	Status        string     `json:"status"`
	ProcessedAt   time.Time  `json:"processed_at"`
	FramesTotal   int        `json:"frames_total"`
	MessageCount  int        `json:"message_count"`
	AircraftCount int        `json:"aircraft_count"`
	ErrorCount    int        `json:"error_count"`
	StartTime     *float64   `json:"start_time"`
	EndTime       *float64   `json:"end_time"`
	Duration      float64    `json:"duration"`
	Error         string     `json:"error,omitempty"`
	SessionTime   *time.Time `json:"session_time,omitempty"`
}

// SessionEvent is published whenever a session has been (re)built
type SessionEvent struct {
	SessionID    string    `json:"session_id"`
	RunID        string    `json:"run_id"`
	VersionHash  string    `json:"version_hash"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	ErrorCount   int       `json:"error_count"`
	Reprocessed  bool      `json:"reprocessed"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReprocessRequest asks the reprocessor to rebuild sessions. An empty
// SessionID means every stale session.
type ReprocessRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Force     bool      `json:"force"`
	Timestamp time.Time `json:"timestamp"`
}
