// Package codec holds the deterministic CBOR encoding used for archived
// decoded sequences.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/saviobatista/uavlog/internal/types"
)

// encMode uses Core Deterministic Encoding, so the same sequence always
// produces the same bytes
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// field values are decoded into any; keep integers as int64/uint64
		IntDec: cbor.IntDecConvertNone,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MarshalMessages encodes a decoded message sequence
func MarshalMessages(msgs []types.DecodedMessage) ([]byte, error) {
	if msgs == nil {
		msgs = []types.DecodedMessage{}
	}
	return encMode.Marshal(msgs)
}

// UnmarshalMessages decodes a sequence written by MarshalMessages. Array
// values come back as []any and string lists as []any of strings.
func UnmarshalMessages(data []byte) ([]types.DecodedMessage, error) {
	var msgs []types.DecodedMessage
	if err := decMode.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
