package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the scalar element type of a field
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindChar
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt8:    "int8",
	KindUint8:   "uint8",
	KindInt16:   "int16",
	KindUint16:  "uint16",
	KindInt32:   "int32",
	KindUint32:  "uint32",
	KindInt64:   "int64",
	KindUint64:  "uint64",
	KindFloat32: "float",
	KindFloat64: "double",
	KindBool:    "bool",
	KindChar:    "char",
}

var kindSizes = [...]int{
	KindInt8:    1,
	KindUint8:   1,
	KindInt16:   2,
	KindUint16:  2,
	KindInt32:   4,
	KindUint32:  4,
	KindInt64:   8,
	KindUint64:  8,
	KindFloat32: 4,
	KindFloat64: 8,
	KindBool:    1,
	KindChar:    1,
}

// type keywords accepted in schema documents, including the aliases used by
// older autopilot logs
var kindKeywords = map[string]Kind{
	"int8":    KindInt8,
	"uint8":   KindUint8,
	"uchar":   KindUint8,
	"int16":   KindInt16,
	"short":   KindInt16,
	"uint16":  KindUint16,
	"ushort":  KindUint16,
	"int32":   KindInt32,
	"int":     KindInt32,
	"uint32":  KindUint32,
	"uint":    KindUint32,
	"int64":   KindInt64,
	"uint64":  KindUint64,
	"float":   KindFloat32,
	"float32": KindFloat32,
	"double":  KindFloat64,
	"float64": KindFloat64,
	"bool":    KindBool,
	"char":    KindChar,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size is the encoded width of one element in bytes
func (k Kind) Size() int {
	if k == KindInvalid || int(k) >= len(kindSizes) {
		return 0
	}
	return kindSizes[k]
}

// IsInteger reports whether k is a signed or unsigned integer kind
func (k Kind) IsInteger() bool {
	return k >= KindInt8 && k <= KindUint64
}

// IsSigned reports whether k is a two's complement integer kind
func (k Kind) IsSigned() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return true
	}
	return false
}

// IsFloat reports whether k is an IEEE 754 kind
func (k Kind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

// Shape distinguishes scalars from fixed and variable arrays
type Shape uint8

const (
	ShapeScalar Shape = iota
	ShapeFixedArray
	ShapeVarArray
)

// FieldType is the parsed form of a field's type keyword
type FieldType struct {
	Base  Kind
	Shape Shape
	Count int // element count for fixed arrays
}

// ParseFieldType maps a type keyword such as "int32", "char[8]" or
// "float[]" to a FieldType. A bare "char" is a signed byte, as in the
// autopilot's own message definitions.
func ParseFieldType(s string) (FieldType, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return FieldType{}, fmt.Errorf("missing type")
	}

	base, suffix := raw, ""
	if i := strings.IndexByte(raw, '['); i >= 0 {
		base, suffix = strings.TrimSpace(raw[:i]), raw[i:]
	}
	kind, ok := kindKeywords[base]
	if !ok {
		return FieldType{}, fmt.Errorf("unknown type %q", s)
	}

	switch {
	case suffix == "":
		if kind == KindChar {
			kind = KindInt8
		}
		return FieldType{Base: kind, Shape: ShapeScalar}, nil
	case suffix == "[]":
		return FieldType{Base: kind, Shape: ShapeVarArray}, nil
	case strings.HasPrefix(suffix, "[") && strings.HasSuffix(suffix, "]"):
		n, err := strconv.Atoi(strings.TrimSpace(suffix[1 : len(suffix)-1]))
		if err != nil || n <= 0 {
			return FieldType{}, fmt.Errorf("invalid array length in type %q", s)
		}
		if n > MaxPayloadSize/kind.Size() {
			return FieldType{}, fmt.Errorf("array type %q exceeds %d bytes", s, MaxPayloadSize)
		}
		return FieldType{Base: kind, Shape: ShapeFixedArray, Count: n}, nil
	default:
		return FieldType{}, fmt.Errorf("unknown type %q", s)
	}
}

// Size returns the fixed encoded width, or 0 for variable arrays
func (t FieldType) Size() int {
	switch t.Shape {
	case ShapeScalar:
		return t.Base.Size()
	case ShapeFixedArray:
		return t.Base.Size() * t.Count
	default:
		return 0
	}
}

// IsString reports whether values of this type decode to a string
func (t FieldType) IsString() bool {
	return t.Base == KindChar && t.Shape != ShapeScalar
}

func (t FieldType) String() string {
	switch t.Shape {
	case ShapeFixedArray:
		return fmt.Sprintf("%s[%d]", t.Base, t.Count)
	case ShapeVarArray:
		return t.Base.String() + "[]"
	default:
		return t.Base.String()
	}
}
