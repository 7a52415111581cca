package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/types"
)

// SampleSchema declares two aircraft and a handful of message layouts
// covering scaled, enum, bitfield, string and variable-length fields.
const SampleSchema = `<?xml version="1.0"?>
<configuration time_of_day="43200">
  <conf>
    <aircraft ac_id="1" name="Alpha" airframe="airframes/fixedwing.xml"/>
    <aircraft ac_id="2" name="Bravo" airframe="airframes/quad.xml" messages="GPS|STATUS"/>
  </conf>
  <protocol>
    <msg_class name="telemetry" id="1" default_stride="16">
      <message name="GPS" id="10">
        <description>GNSS position fix</description>
        <field name="lat" type="int32" unit="1e7deg" alt_unit="deg" alt_unit_coef="0.0000001"/>
        <field name="n_sats" type="uint8"/>
      </message>
      <message name="STATUS" id="11">
        <description>Autopilot state</description>
        <field name="mode" type="uint8" values="MANUAL|AUTO1|AUTO2|HOME"/>
        <field name="flags" type="uint8" bits="armed|gps_ok||rc_lost"/>
        <field name="vsupply" type="uint16" unit="mV" alt_unit="V" alt_unit_coef="0.001"/>
        <field name="callsign" type="char[6]"/>
      </message>
      <message name="ATTITUDE" id="12">
        <field name="phi" type="float" unit="rad"/>
        <field name="theta" type="float" unit="rad"/>
        <field name="psi" type="double" unit="rad"/>
      </message>
      <message name="SAMPLES" id="13">
        <field name="n" type="uint8"/>
        <field name="values" type="int16[]" length="n"/>
      </message>
      <message name="TEXT" id="14">
        <field name="text" type="char[]" length="*"/>
      </message>
      <message name="HEARTBEAT" id="15"/>
    </msg_class>
  </protocol>
</configuration>`

// Catalog builds SampleSchema and panics when it does not build
func Catalog() *schema.Catalog {
	cat, err := schema.Load([]byte(SampleSchema), schema.FormatXML, schema.BuildOptions{})
	if err != nil {
		panic(fmt.Sprintf("sample schema: %v", err))
	}
	return cat
}

// Frame assembles raw little-endian frames without going through the
// decoder's own encoder
type Frame struct {
	buf []byte
}

// NewFrame starts a frame with the given header
func NewFrame(timestamp float32, aircraftID uint32, messageID uint16) *Frame {
	f := &Frame{}
	f.buf = binary.LittleEndian.AppendUint32(f.buf, math.Float32bits(timestamp))
	f.buf = binary.LittleEndian.AppendUint32(f.buf, aircraftID)
	f.buf = binary.LittleEndian.AppendUint16(f.buf, messageID)
	return f
}

func (f *Frame) U8(v uint8) *Frame {
	f.buf = append(f.buf, v)
	return f
}

func (f *Frame) I16(v int16) *Frame {
	f.buf = binary.LittleEndian.AppendUint16(f.buf, uint16(v))
	return f
}

func (f *Frame) U16(v uint16) *Frame {
	f.buf = binary.LittleEndian.AppendUint16(f.buf, v)
	return f
}

func (f *Frame) U32(v uint32) *Frame {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, v)
	return f
}

func (f *Frame) I32(v int32) *Frame {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, uint32(v))
	return f
}

func (f *Frame) F32(v float32) *Frame {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, math.Float32bits(v))
	return f
}

func (f *Frame) F64(v float64) *Frame {
	f.buf = binary.LittleEndian.AppendUint64(f.buf, math.Float64bits(v))
	return f
}

// Raw appends bytes as-is
func (f *Frame) Raw(b ...byte) *Frame {
	f.buf = append(f.buf, b...)
	return f
}

// Bytes returns the assembled frame
func (f *Frame) Bytes() []byte {
	return f.buf
}

// Concat joins frames into one buffer
func Concat(frames ...*Frame) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f.buf...)
	}
	return out
}

// GPSFrame is the Alpha/GPS frame used across the tests: lat 50.0 deg, 8 satellites
func GPSFrame(timestamp float32, aircraftID uint32) *Frame {
	return NewFrame(timestamp, aircraftID, 10).I32(500000000).U8(8)
}

// MockMessage creates a decoded GPS message for projection and storage tests
func MockMessage(aircraftID uint32, timestamp float64, lat float64) types.DecodedMessage {
	return types.DecodedMessage{
		AircraftID:  aircraftID,
		MessageID:   10,
		MessageType: "GPS",
		Timestamp:   timestamp,
		Fields: types.Fields{
			{Name: "lat", Value: lat},
			{Name: "n_sats", Value: uint64(8)},
		},
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
