package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/types"
)

// Policy decides what happens after a recoverable frame error
type Policy int

const (
	// SkipAndRecord records the error and continues with the next frame
	SkipAndRecord Policy = iota
	// StopAtFirstError ends decoding at the first error
	StopAtFirstError
)

func (p Policy) String() string {
	switch p {
	case SkipAndRecord:
		return "skip"
	case StopAtFirstError:
		return "stop"
	default:
		return "policy(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePolicy maps a configuration value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", "skip-and-record", "skip_and_record":
		return SkipAndRecord, nil
	case "stop", "stop-at-first-error", "stop_at_first_error", "abort":
		return StopAtFirstError, nil
	default:
		return SkipAndRecord, fmt.Errorf("unknown decode policy %q", s)
	}
}

// Options are the per-call decode settings. The zero value decodes every
// frame with SkipAndRecord.
type Options struct {
	Policy         Policy
	TimeOffset     float64  // seconds added to every frame timestamp
	AircraftFilter []uint32 // empty keeps every aircraft
	MessageFilter  []string // message names; empty keeps every type
	MaxPayload     int      // largest accepted payload in bytes; 0 means unlimited
}

// Result is the outcome of decoding one buffer
type Result struct {
	Messages []types.DecodedMessage
	Errors   []*DecodeError
	Frames   int // frame headers read, including failed and filtered frames
	Filtered int
	Aborted  bool
	Fatal    *DecodeError // error that ended decoding early, if any
}

// Summary renders the partial success line used in reports
func (r *Result) Summary() string {
	s := fmt.Sprintf("%d of %d frames decoded", len(r.Messages), r.Frames-r.Filtered)
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(", %d errors", len(r.Errors))
	}
	if r.Aborted {
		s += ", aborted"
	}
	return s
}

// ErrorCounts tallies the recorded errors by kind
func (r *Result) ErrorCounts() map[ErrorKind]int {
	counts := make(map[ErrorKind]int)
	for _, e := range r.Errors {
		counts[e.Kind]++
	}
	return counts
}

type filters struct {
	aircraft map[uint32]struct{}
	messages map[string]struct{}
}

func newFilters(opts Options) filters {
	var f filters
	if len(opts.AircraftFilter) > 0 {
		f.aircraft = make(map[uint32]struct{}, len(opts.AircraftFilter))
		for _, id := range opts.AircraftFilter {
			f.aircraft[id] = struct{}{}
		}
	}
	if len(opts.MessageFilter) > 0 {
		f.messages = make(map[string]struct{}, len(opts.MessageFilter))
		for _, name := range opts.MessageFilter {
			f.messages[name] = struct{}{}
		}
	}
	return f
}

func (f filters) excludes(aircraftID uint32, message string) bool {
	if f.aircraft != nil {
		if _, ok := f.aircraft[aircraftID]; !ok {
			return true
		}
	}
	if f.messages != nil {
		if _, ok := f.messages[message]; !ok {
			return true
		}
	}
	return false
}

// Decode turns a raw frame buffer into messages using the catalog. It never
// reads outside data and never loops without advancing the cursor.
func Decode(cat *schema.Catalog, data []byte, opts Options) *Result {
	res := &Result{}
	flt := newFilters(opts)

	// stop records err and reports whether decoding must end
	stop := func(err *DecodeError, fatal bool) bool {
		res.Errors = append(res.Errors, err)
		if fatal || opts.Policy == StopAtFirstError {
			res.Aborted = true
			res.Fatal = err
			return true
		}
		return false
	}

	cursor := 0
	for cursor < len(data) {
		start := cursor
		res.Frames++

		hdr, err := DecodeHeader(data[start:])
		if err != nil {
			stop(&DecodeError{
				Kind:   TruncatedFrame,
				Offset: start,
				Detail: fmt.Sprintf("%d trailing bytes cannot hold a frame header", len(data)-start),
			}, opts.Policy == StopAtFirstError)
			break
		}
		frameErr := func(kind ErrorKind, name, detail string) *DecodeError {
			return &DecodeError{
				Kind:       kind,
				Offset:     start,
				AircraftID: hdr.AircraftID,
				MessageID:  hdr.MessageID,
				Message:    name,
				Detail:     detail,
			}
		}

		def, ok := cat.Message(hdr.MessageID)
		if !ok {
			if cat.DefaultStride <= 0 {
				stop(frameErr(UnknownMessageType, "", "no default stride declared, remaining buffer abandoned"), true)
				break
			}
			if stop(frameErr(UnknownMessageType, "", fmt.Sprintf("skipped %d bytes", cat.DefaultStride)), false) {
				break
			}
			cursor = start + cat.DefaultStride
			continue
		}

		payload := data[start+HeaderSize:]
		fields, n, perr := decodePayload(def, payload, opts.MaxPayload)
		if perr != nil {
			derr := frameErr(perr.kind, def.Name, perr.detail)
			if perr.kind == TruncatedFrame {
				// frames carry no length, so nothing after a short read can be located
				stop(derr, opts.Policy == StopAtFirstError)
				break
			}
			if stop(derr, perr.fatal) {
				break
			}
			cursor = start + HeaderSize + perr.consumed
			continue
		}
		cursor = start + HeaderSize + n

		if flt.excludes(hdr.AircraftID, def.Name) {
			res.Filtered++
			continue
		}

		if cat.HasAircraft() {
			ac, known := cat.Aircraft(hdr.AircraftID)
			if !known {
				if stop(frameErr(UnknownAircraft, def.Name, "aircraft not declared in schema"), false) {
					break
				}
				continue
			}
			if !ac.Permits(def.ID) {
				if stop(frameErr(UnpermittedMessage, def.Name, fmt.Sprintf("aircraft %s does not emit %s", ac.Name, def.Name)), false) {
					break
				}
				continue
			}
		}

		ts := float64(hdr.Timestamp) + opts.TimeOffset
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
			if stop(frameErr(InvalidTimestamp, def.Name, fmt.Sprintf("timestamp %v", ts)), false) {
				break
			}
			continue
		}

		res.Messages = append(res.Messages, types.DecodedMessage{
			AircraftID:  hdr.AircraftID,
			MessageID:   def.ID,
			MessageType: def.Name,
			Timestamp:   ts,
			Fields:      fields,
		})
	}
	return res
}

// decodePayload decodes the fields of one message from the start of p and
// returns how many bytes they occupied
func decodePayload(def *schema.MessageDef, p []byte, maxPayload int) (types.Fields, int, *payloadError) {
	fields := make(types.Fields, 0, len(def.Fields))
	var raw []int64
	if def.Variable {
		raw = make([]int64, len(def.Fields))
	}

	pos := 0
	for i := range def.Fields {
		f := &def.Fields[i]

		var count int
		switch f.Type.Shape {
		case schema.ShapeScalar:
			count = 1
		case schema.ShapeFixedArray:
			count = f.Type.Count
		case schema.ShapeVarArray:
			n, perr := varCount(def, f, raw, len(p)-pos)
			if perr != nil {
				perr.consumed += pos
				return nil, 0, perr
			}
			count = n
		}

		elem := f.Type.Base.Size()
		if count > (len(p)-pos)/elem {
			return nil, 0, truncated("field %s needs %d elements of %d bytes, %d bytes left", f.Name, count, elem, len(p)-pos)
		}
		size := count * elem
		if maxPayload > 0 && pos+size > maxPayload {
			return nil, 0, &payloadError{
				kind:     MalformedLength,
				detail:   fmt.Sprintf("payload exceeds %d bytes at field %s", maxPayload, f.Name),
				consumed: pos + size,
			}
		}

		b := p[pos : pos+size]
		pos += size

		var v any
		if f.Type.Shape == schema.ShapeScalar {
			var r int64
			v, r = decodeScalar(f, b)
			if raw != nil {
				raw[i] = r
			}
		} else {
			v = decodeArray(f, b, count)
		}
		fields = append(fields, types.FieldValue{Name: f.Name, Value: v})
	}
	return fields, pos, nil
}

// varCount resolves the element count of a variable array
func varCount(def *schema.MessageDef, f *schema.FieldDef, raw []int64, left int) (int, *payloadError) {
	elem := f.Type.Base.Size()
	if f.Remaining {
		if left%elem != 0 {
			return 0, &payloadError{
				kind:     MalformedLength,
				detail:   fmt.Sprintf("field %s: %d remaining bytes are not a multiple of %d", f.Name, left, elem),
				consumed: left,
			}
		}
		return left / elem, nil
	}

	n := raw[f.LengthIndex]
	ref := def.Fields[f.LengthIndex].Name
	switch {
	case n < 0:
		return 0, &payloadError{
			kind:   MalformedLength,
			detail: fmt.Sprintf("field %s: negative length %d in %s", f.Name, n, ref),
			fatal:  true,
		}
	case n > int64(left/elem):
		return 0, truncated("field %s: length %d from %s needs %d bytes, %d left", f.Name, n, ref, n*int64(elem), left)
	}
	return int(n), nil
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(ByteOrder.Uint16(b))
	case 4:
		return uint64(ByteOrder.Uint32(b))
	default:
		return ByteOrder.Uint64(b)
	}
}

func readSigned(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(ByteOrder.Uint16(b)))
	case 4:
		return int64(int32(ByteOrder.Uint32(b)))
	default:
		return int64(ByteOrder.Uint64(b))
	}
}

// element decodes one raw element. r carries integer values for length
// references and enum lookups; unsigned values above math.MaxInt64 saturate.
func element(k schema.Kind, b []byte) (v any, r int64) {
	switch {
	case k.IsSigned():
		x := readSigned(b)
		return x, x
	case k.IsInteger():
		x := readUint(b)
		if x > math.MaxInt64 {
			return x, math.MaxInt64
		}
		return x, int64(x)
	case k == schema.KindFloat32:
		return float64(math.Float32frombits(ByteOrder.Uint32(b))), 0
	case k == schema.KindFloat64:
		return math.Float64frombits(ByteOrder.Uint64(b)), 0
	case k == schema.KindBool:
		return b[0] != 0, int64(b[0])
	default:
		x := int64(int8(b[0]))
		return x, x
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func decodeScalar(f *schema.FieldDef, b []byte) (any, int64) {
	v, r := element(f.Type.Base, b)
	switch {
	case f.Enum != nil:
		if r >= 0 && r < int64(len(f.Enum)) {
			return f.Enum[r], r
		}
		return v, r
	case f.Bits != nil:
		return bitNames(f, readUint(b), len(b)*8), r
	case f.Scaled():
		return toFloat(v) * f.Scale, r
	}
	return v, r
}

// bitNames lists the set bits; positions without a label are named bitN
func bitNames(f *schema.FieldDef, x uint64, width int) []string {
	out := make([]string, 0, 4)
	for i := 0; i < width; i++ {
		if x&(1<<uint(i)) == 0 {
			continue
		}
		if i < len(f.Bits) && f.Bits[i] != "" {
			out = append(out, f.Bits[i])
		} else {
			out = append(out, "bit"+strconv.Itoa(i))
		}
	}
	return out
}

func decodeArray(f *schema.FieldDef, b []byte, count int) any {
	k := f.Type.Base
	size := k.Size()
	switch {
	case f.Type.IsString():
		if f.Type.Shape == schema.ShapeFixedArray {
			return strings.TrimRight(string(b), "\x00")
		}
		return string(b)
	case f.Scaled() || k.IsFloat():
		out := make([]float64, count)
		for i := range out {
			v, _ := element(k, b[i*size:(i+1)*size])
			out[i] = toFloat(v)
			if f.Scaled() {
				out[i] *= f.Scale
			}
		}
		return out
	case k.IsSigned():
		out := make([]int64, count)
		for i := range out {
			out[i] = readSigned(b[i*size : (i+1)*size])
		}
		return out
	case k.IsInteger():
		out := make([]uint64, count)
		for i := range out {
			out[i] = readUint(b[i*size : (i+1)*size])
		}
		return out
	default:
		out := make([]bool, count)
		for i := range out {
			out[i] = b[i] != 0
		}
		return out
	}
}
