package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/types"
)

// Encode writes msg back into its wire form. It is the inverse of Decode for
// every value Decode can produce; TimeOffset is not reversed.
func Encode(cat *schema.Catalog, msg types.DecodedMessage) ([]byte, error) {
	def, ok := cat.Message(msg.MessageID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownMessageType, msg.MessageID)
	}
	if len(msg.Fields) != len(def.Fields) {
		return nil, fmt.Errorf("message %s: %d fields, layout has %d", def.Name, len(msg.Fields), len(def.Fields))
	}

	out := EncodeHeader(make([]byte, 0, HeaderSize+def.FixedSize), Header{
		Timestamp:  float32(msg.Timestamp),
		AircraftID: msg.AircraftID,
		MessageID:  def.ID,
	})

	raw := make([]int64, len(def.Fields))
	for i := range def.Fields {
		f := &def.Fields[i]
		fv := msg.Fields[i]
		if fv.Name != f.Name {
			return nil, fmt.Errorf("message %s: field %d is %q, layout has %q", def.Name, i, fv.Name, f.Name)
		}

		var err error
		switch f.Type.Shape {
		case schema.ShapeScalar:
			out, raw[i], err = encodeScalar(out, f, fv.Value)
		case schema.ShapeFixedArray:
			out, err = encodeArray(out, f, fv.Value, f.Type.Count)
		case schema.ShapeVarArray:
			want := -1
			if !f.Remaining {
				want = int(raw[f.LengthIndex])
			}
			out, err = encodeArray(out, f, fv.Value, want)
		}
		if err != nil {
			return nil, fmt.Errorf("message %s field %s: %w", def.Name, f.Name, err)
		}
	}
	return out, nil
}

// EncodeAll concatenates the frames of msgs
func EncodeAll(cat *schema.Catalog, msgs []types.DecodedMessage) ([]byte, error) {
	var out []byte
	for i, m := range msgs {
		b, err := Encode(cat, m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func encodeScalar(dst []byte, f *schema.FieldDef, v any) ([]byte, int64, error) {
	k := f.Type.Base
	switch {
	case f.Enum != nil:
		if s, ok := v.(string); ok {
			for i, label := range f.Enum {
				if label == s {
					return putInt(dst, k, int64(i)), int64(i), nil
				}
			}
			return nil, 0, fmt.Errorf("unknown enum label %q", s)
		}
	case f.Bits != nil:
		x, err := bitValue(f, v)
		if err != nil {
			return nil, 0, err
		}
		return putUint(dst, k, x), int64(x), nil
	case f.Scaled():
		x, ok := asFloat(v)
		if !ok {
			return nil, 0, fmt.Errorf("want a number, got %T", v)
		}
		x /= f.Scale
		if k.IsFloat() {
			return putFloat(dst, k, x), 0, nil
		}
		r := int64(math.Round(x))
		if !k.IsSigned() {
			u := uint64(math.Round(x))
			return putUint(dst, k, u), int64(u), nil
		}
		return putInt(dst, k, r), r, nil
	}

	switch {
	case k == schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, 0, fmt.Errorf("want a bool, got %T", v)
		}
		if b {
			return append(dst, 1), 1, nil
		}
		return append(dst, 0), 0, nil
	case k.IsFloat():
		x, ok := asFloat(v)
		if !ok {
			return nil, 0, fmt.Errorf("want a number, got %T", v)
		}
		return putFloat(dst, k, x), 0, nil
	case k.IsSigned():
		x, ok := asInt(v)
		if !ok {
			return nil, 0, fmt.Errorf("want an integer, got %T", v)
		}
		return putInt(dst, k, x), x, nil
	default:
		x, ok := asUint(v)
		if !ok {
			return nil, 0, fmt.Errorf("want an unsigned integer, got %T", v)
		}
		return putUint(dst, k, x), int64(x), nil
	}
}

func bitValue(f *schema.FieldDef, v any) (uint64, error) {
	var names []string
	switch x := v.(type) {
	case []string:
		names = x
	case []any:
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return 0, fmt.Errorf("bit name %v is not a string", e)
			}
			names = append(names, s)
		}
	default:
		u, ok := asUint(v)
		if !ok {
			return 0, fmt.Errorf("want a bit list or integer, got %T", v)
		}
		return u, nil
	}

	var out uint64
next:
	for _, name := range names {
		for i, label := range f.Bits {
			if label != "" && label == name {
				out |= 1 << uint(i)
				continue next
			}
		}
		if n, ok := strings.CutPrefix(name, "bit"); ok {
			if i, err := strconv.Atoi(n); err == nil && i >= 0 && i < f.Type.Base.Size()*8 {
				out |= 1 << uint(i)
				continue
			}
		}
		return 0, fmt.Errorf("unknown bit %q", name)
	}
	return out, nil
}

func encodeArray(dst []byte, f *schema.FieldDef, v any, want int) ([]byte, error) {
	k := f.Type.Base
	if f.Type.IsString() {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want a string, got %T", v)
		}
		switch {
		case f.Type.Shape == schema.ShapeFixedArray:
			if len(s) > want {
				return nil, fmt.Errorf("string of %d bytes exceeds char[%d]", len(s), want)
			}
			dst = append(dst, s...)
			for i := len(s); i < want; i++ {
				dst = append(dst, 0)
			}
			return dst, nil
		case want >= 0 && len(s) != want:
			return nil, fmt.Errorf("string of %d bytes, length field says %d", len(s), want)
		}
		return append(dst, s...), nil
	}

	elems, err := elements(v)
	if err != nil {
		return nil, err
	}
	if want >= 0 && len(elems) != want {
		return nil, fmt.Errorf("%d elements, expected %d", len(elems), want)
	}
	for _, e := range elems {
		switch {
		case f.Scaled():
			x, ok := asFloat(e)
			if !ok {
				return nil, fmt.Errorf("want a number, got %T", e)
			}
			x /= f.Scale
			switch {
			case k.IsFloat():
				dst = putFloat(dst, k, x)
			case k.IsSigned():
				dst = putInt(dst, k, int64(math.Round(x)))
			default:
				dst = putUint(dst, k, uint64(math.Round(x)))
			}
		default:
			dst, _, err = encodeScalar(dst, &schema.FieldDef{Type: schema.FieldType{Base: k}}, e)
			if err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}

func elements(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []int64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []uint64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []bool:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("want an array, got %T", v)
}

func putUint(dst []byte, k schema.Kind, x uint64) []byte {
	switch k.Size() {
	case 1:
		return append(dst, byte(x))
	case 2:
		return ByteOrder.AppendUint16(dst, uint16(x))
	case 4:
		return ByteOrder.AppendUint32(dst, uint32(x))
	default:
		return ByteOrder.AppendUint64(dst, x)
	}
}

func putInt(dst []byte, k schema.Kind, x int64) []byte {
	return putUint(dst, k, uint64(x))
}

func putFloat(dst []byte, k schema.Kind, x float64) []byte {
	if k == schema.KindFloat32 {
		return ByteOrder.AppendUint32(dst, math.Float32bits(float32(x)))
	}
	return ByteOrder.AppendUint64(dst, math.Float64bits(x))
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case int:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

func asUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		return uint64(x), true
	case int:
		return uint64(x), true
	case float64:
		if x == math.Trunc(x) && x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}
