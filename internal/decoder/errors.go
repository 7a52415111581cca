package decoder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownMessageType = errors.New("decoder: unknown message type")
	ErrTruncatedFrame     = errors.New("decoder: truncated frame")
	ErrMalformedLength    = errors.New("decoder: malformed length")
	ErrUnknownAircraft    = errors.New("decoder: unknown aircraft")
	ErrUnpermittedMessage = errors.New("decoder: message not permitted for aircraft")
	ErrInvalidTimestamp   = errors.New("decoder: invalid timestamp")
)

// ErrorKind classifies a per-frame decode failure
type ErrorKind int

const (
	UnknownMessageType ErrorKind = iota + 1
	TruncatedFrame
	MalformedLength
	UnknownAircraft
	UnpermittedMessage
	InvalidTimestamp
)

var kindNames = map[ErrorKind]string{
	UnknownMessageType: "UnknownMessageType",
	TruncatedFrame:     "TruncatedFrame",
	MalformedLength:    "MalformedLength",
	UnknownAircraft:    "UnknownAircraft",
	UnpermittedMessage: "UnpermittedMessage",
	InvalidTimestamp:   "InvalidTimestamp",
}

var kindSentinels = map[ErrorKind]error{
	UnknownMessageType: ErrUnknownMessageType,
	TruncatedFrame:     ErrTruncatedFrame,
	MalformedLength:    ErrMalformedLength,
	UnknownAircraft:    ErrUnknownAircraft,
	UnpermittedMessage: ErrUnpermittedMessage,
	InvalidTimestamp:   ErrInvalidTimestamp,
}

// Kinds lists every error kind in declaration order
func Kinds() []ErrorKind {
	return []ErrorKind{UnknownMessageType, TruncatedFrame, MalformedLength, UnknownAircraft, UnpermittedMessage, InvalidTimestamp}
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText writes the kind by name in JSON reports
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names written by MarshalText
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if strings.EqualFold(name, string(text)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown decode error kind %q", text)
}

// DecodeError describes one frame that could not be turned into a message
type DecodeError struct {
	Kind       ErrorKind `json:"kind"`
	Offset     int       `json:"offset"`
	AircraftID uint32    `json:"aircraft_id"`
	MessageID  uint16    `json:"message_id"`
	Message    string    `json:"message,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at offset %d", e.Kind, e.Offset)
	if e.Message != "" {
		fmt.Fprintf(&b, " (message %s, id %d, aircraft %d)", e.Message, e.MessageID, e.AircraftID)
	} else {
		fmt.Fprintf(&b, " (message id %d, aircraft %d)", e.MessageID, e.AircraftID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap exposes the sentinel of the error kind to errors.Is
func (e *DecodeError) Unwrap() error {
	return kindSentinels[e.Kind]
}

// payloadError is returned by the field decoders and completed with frame
// context by the decode loop
type payloadError struct {
	kind     ErrorKind
	detail   string
	consumed int  // payload bytes covered by the malformed frame
	fatal    bool // the cursor cannot be advanced reliably
}

func (e *payloadError) Error() string {
	return e.kind.String() + ": " + e.detail
}

func truncated(format string, args ...any) *payloadError {
	return &payloadError{kind: TruncatedFrame, detail: fmt.Sprintf(format, args...)}
}
