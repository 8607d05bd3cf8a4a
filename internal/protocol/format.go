// ABOUTME: Typed wire encoding for codec formats
// ABOUTME: Keeps int, float, string and byte values distinct across JSON
package protocol

import (
	"fmt"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// Format value types
const (
	ValueInt    = "int"
	ValueFloat  = "float"
	ValueString = "string"
	ValueBytes  = "bytes"
)

// FormatValue is one typed format entry. Plain JSON would turn every number
// into a float and every byte slice into a string.
type FormatValue struct {
	Type   string  `json:"type"`
	Int    int64   `json:"int,omitempty"`
	Float  float64 `json:"float,omitempty"`
	String string  `json:"string,omitempty"`
	Bytes  []byte  `json:"bytes,omitempty"`
}

// WireFormat is a codec.Format in transit
type WireFormat map[string]FormatValue

// EncodeFormat converts a format for the wire. Values of unexpected types are
// sent as their printed string.
func EncodeFormat(f codec.Format) WireFormat {
	if f == nil {
		return nil
	}
	w := make(WireFormat, len(f))
	for k, v := range f {
		switch val := v.(type) {
		case int:
			w[k] = FormatValue{Type: ValueInt, Int: int64(val)}
		case int32:
			w[k] = FormatValue{Type: ValueInt, Int: int64(val)}
		case int64:
			w[k] = FormatValue{Type: ValueInt, Int: val}
		case uint32:
			w[k] = FormatValue{Type: ValueInt, Int: int64(val)}
		case float64:
			w[k] = FormatValue{Type: ValueFloat, Float: val}
		case float32:
			w[k] = FormatValue{Type: ValueFloat, Float: float64(val)}
		case string:
			w[k] = FormatValue{Type: ValueString, String: val}
		case []byte:
			w[k] = FormatValue{Type: ValueBytes, Bytes: append([]byte(nil), val...)}
		default:
			w[k] = FormatValue{Type: ValueString, String: fmt.Sprint(val)}
		}
	}
	return w
}

// Format converts back to a codec.Format. Entries with an unknown type are
// skipped.
func (w WireFormat) Format() codec.Format {
	if w == nil {
		return nil
	}
	f := make(codec.Format, len(w))
	for k, v := range w {
		switch v.Type {
		case ValueInt:
			f[k] = int(v.Int)
		case ValueFloat:
			f[k] = v.Float
		case ValueString:
			f[k] = v.String
		case ValueBytes:
			b := v.Bytes
			if b == nil {
				b = []byte{}
			}
			f[k] = b
		}
	}
	return f
}
