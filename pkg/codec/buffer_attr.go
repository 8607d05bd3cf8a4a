// ABOUTME: Buffer attribute and flag definitions
// ABOUTME: Describes timestamps, sizes and flags attached to codec buffers
package codec

import "strings"

// BufferFlag is a bitmask describing a codec buffer
type BufferFlag uint32

const (
	FlagNone         BufferFlag = 0
	FlagEndOfStream  BufferFlag = 1 << 0 // Last buffer of the stream
	FlagKeyFrame     BufferFlag = 1 << 1 // Sync frame, decodable on its own
	FlagPartialFrame BufferFlag = 1 << 2 // Buffer holds an incomplete frame
	FlagCodecConfig  BufferFlag = 1 << 3 // Codec-specific data (headers), not media
)

// Has reports whether all bits of other are set
func (f BufferFlag) Has(other BufferFlag) bool {
	return other != 0 && f&other == other
}

func (f BufferFlag) String() string {
	if f == FlagNone {
		return "none"
	}
	var names []string
	if f.Has(FlagEndOfStream) {
		names = append(names, "eos")
	}
	if f.Has(FlagKeyFrame) {
		names = append(names, "key")
	}
	if f.Has(FlagPartialFrame) {
		names = append(names, "partial")
	}
	if f.Has(FlagCodecConfig) {
		names = append(names, "config")
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}

// BufferInfo is what an engine reports about a filled buffer
type BufferInfo struct {
	PresentationTimeUs int64 `json:"pts"`
	Size               int32 `json:"size"`
	Offset             int32 `json:"offset"`
}

// BufferAttr describes the valid region of a buffer and its flags. Output
// attributes are handed to clients by value for the duration of one callback.
type BufferAttr struct {
	PresentationTimeUs int64      `json:"pts"`
	Size               int32      `json:"size"`
	Offset             int32      `json:"offset"`
	Flags              BufferFlag `json:"flags"`
}

// Info drops the flags
func (a BufferAttr) Info() BufferInfo {
	return BufferInfo{
		PresentationTimeUs: a.PresentationTimeUs,
		Size:               a.Size,
		Offset:             a.Offset,
	}
}

func attrFromInfo(info BufferInfo, flags BufferFlag) BufferAttr {
	return BufferAttr{
		PresentationTimeUs: info.PresentationTimeUs,
		Size:               info.Size,
		Offset:             info.Offset,
		Flags:              flags,
	}
}
