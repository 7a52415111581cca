package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/saviobatista/uavlog/internal/schema"
)

// Version identifies the decode rules implemented by this package. Bump it
// whenever a change can alter the values decoded from existing bytes.
const Version = "frame-decoder/5"

// Frame header layout
const (
	HeaderSize      = 10
	timestampOffset = 0
	aircraftOffset  = 4
	messageOffset   = 8
)

// ByteOrder is the protocol byte order for headers and payloads
var ByteOrder = binary.LittleEndian

// Header is the fixed, schema independent part of every frame
type Header struct {
	Timestamp  float32
	AircraftID uint32
	MessageID  uint16
}

// DecodeHeader reads a frame header from the first HeaderSize bytes of b
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedFrame, HeaderSize, len(b))
	}
	return Header{
		Timestamp:  math.Float32frombits(ByteOrder.Uint32(b[timestampOffset:])),
		AircraftID: ByteOrder.Uint32(b[aircraftOffset:]),
		MessageID:  ByteOrder.Uint16(b[messageOffset:]),
	}, nil
}

// EncodeHeader appends the wire form of h to dst
func EncodeHeader(dst []byte, h Header) []byte {
	var buf [HeaderSize]byte
	ByteOrder.PutUint32(buf[timestampOffset:], math.Float32bits(h.Timestamp))
	ByteOrder.PutUint32(buf[aircraftOffset:], h.AircraftID)
	ByteOrder.PutUint16(buf[messageOffset:], h.MessageID)
	return append(dst, buf[:]...)
}

// ProtocolConstants renders every fixed protocol property the decoder
// depends on. The text feeds the decoder version digest.
func ProtocolConstants() string {
	var b strings.Builder
	fmt.Fprintf(&b, "byte_order=little-endian\n")
	fmt.Fprintf(&b, "header_size=%d\n", HeaderSize)
	fmt.Fprintf(&b, "timestamp=float32@%d\n", timestampOffset)
	fmt.Fprintf(&b, "aircraft_id=uint32@%d\n", aircraftOffset)
	fmt.Fprintf(&b, "message_id=uint16@%d\n", messageOffset)
	fmt.Fprintf(&b, "max_message_id=%d\n", schema.MaxMessageID)
	for k := schema.KindInt8; k <= schema.KindChar; k++ {
		fmt.Fprintf(&b, "kind.%s=%d\n", k, k.Size())
	}
	return b.String()
}
