// ABOUTME: Codec format snapshots and borrowed format views
// ABOUTME: Flat key/value description of a stream handed between engine and client
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Well-known format keys
const (
	KeyMime         = "codec_mime"
	KeyCodecName    = "codec_name"
	KeySampleRate   = "sample_rate"
	KeyChannelCount = "channel_count"
	KeyBitDepth     = "bit_depth"
	KeyBitrate      = "bitrate"
	KeyMaxInputSize = "max_input_size"
	KeyFrameSize    = "frame_size" // samples per channel per encoded frame
	KeyWidth        = "width"
	KeyHeight       = "height"
	KeyFrameRate    = "frame_rate"
	KeyCodecConfig  = "codec_config"
)

// Format is a flat key/value snapshot. Values are ints, strings, byte slices
// or floats. A Format handed to a client is owned by the client.
type Format map[string]any

// Clone returns a deep copy
func (f Format) Clone() Format {
	if f == nil {
		return nil
	}
	out := make(Format, len(f))
	for k, v := range f {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}

// Int returns an integer value. Numbers that went through JSON arrive as
// float64 or json.Number and are converted.
func (f Format) Int(key string) (int, bool) {
	switch v := f[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// String returns a string value
func (f Format) String(key string) (string, bool) {
	v, ok := f[key].(string)
	return v, ok
}

// Bytes returns a byte slice value. Byte slices that went through JSON arrive
// as base64 strings and are decoded by the transport before reaching here.
func (f Format) Bytes(key string) ([]byte, bool) {
	v, ok := f[key].([]byte)
	return v, ok
}

// Float returns a floating point value
func (f Format) Float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Describe renders the format as sorted key=value pairs for logs
func (f Format) Describe() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if b, ok := f[k].([]byte); ok {
			parts = append(parts, fmt.Sprintf("%s=<%d bytes>", k, len(b)))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return strings.Join(parts, " ")
}

// FormatView is a borrowed view of an output format. It is valid only while
// the OnFormatChanged callback that received it is running; afterwards every
// accessor reports nothing. Use Snapshot to keep the data.
type FormatView struct {
	format  Format
	expired atomic.Bool
}

func newFormatView(format Format) *FormatView {
	return &FormatView{format: format}
}

func (v *FormatView) expire() {
	v.expired.Store(true)
}

// Valid reports whether the view may still be read
func (v *FormatView) Valid() bool {
	return v != nil && !v.expired.Load()
}

// Int reads an integer key while the view is valid
func (v *FormatView) Int(key string) (int, bool) {
	if !v.Valid() {
		return 0, false
	}
	return v.format.Int(key)
}

// String reads a string key while the view is valid
func (v *FormatView) String(key string) (string, bool) {
	if !v.Valid() {
		return "", false
	}
	return v.format.String(key)
}

// Bytes reads a byte slice key while the view is valid. The returned slice
// is a copy.
func (v *FormatView) Bytes(key string) ([]byte, bool) {
	if !v.Valid() {
		return nil, false
	}
	b, ok := v.format.Bytes(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Snapshot returns an owned copy, or nil once the view has expired
func (v *FormatView) Snapshot() Format {
	if !v.Valid() {
		return nil
	}
	return v.format.Clone()
}
