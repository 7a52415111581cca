package types

import (
	"bytes"
	"encoding/json"
	"math"
)

// FieldValue is one named value of a decoded message. Value holds one of
// int64, uint64, float64, string, bool or a slice of those.
type FieldValue struct {
	Name  string `cbor:"1,keyasint"`
	Value any    `cbor:"2,keyasint"`
}

// Fields keeps decoded values in wire order
type Fields []FieldValue

// Get returns the value of the named field
func (f Fields) Get(name string) (any, bool) {
	for _, fv := range f {
		if fv.Name == name {
			return fv.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in wire order
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, fv := range f {
		names[i] = fv.Name
	}
	return names
}

// MarshalJSON writes the fields as a JSON object preserving wire order.
// Non-finite floats are written as null.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fv := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fv.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := WriteJSONValue(&buf, fv.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WriteJSONValue encodes a decoded value, mapping NaN and infinities to null
func WriteJSONValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case float64:
		writeFloat(buf, val)
	case float32:
		writeFloat(buf, float64(val))
	case []float64:
		buf.WriteByte('[')
		for i, x := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeFloat(buf, x)
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, x := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := WriteJSONValue(buf, x); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	b, _ := json.Marshal(f)
	buf.Write(b)
}

// NumericValue converts a scalar decoded value to float64 for charting
func NumericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case int:
		return float64(val), true
	}
	return 0, false
}
