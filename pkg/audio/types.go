// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, decoded buffers and PCM sample conversion
package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Codec MIME types
const (
	MimeRaw  = "audio/raw"
	MimeOpus = "audio/opus"
	MimeMP3  = "audio/mpeg"
	MimeFLAC = "audio/flac"
)

// Format describes audio stream format
type Format struct {
	Mime        string
	SampleRate  int
	Channels    int
	BitDepth    int
	Bitrate     int
	CodecHeader []byte // For FLAC, Opus, etc.
}

// FormatFrom reads an audio format out of a codec format. Mime, sample rate
// and channel count are required.
func FormatFrom(f codec.Format) (Format, error) {
	mime, ok := f.String(codec.KeyMime)
	if !ok || mime == "" {
		return Format{}, fmt.Errorf("format has no %s", codec.KeyMime)
	}
	rate, ok := f.Int(codec.KeySampleRate)
	if !ok || rate <= 0 {
		return Format{}, fmt.Errorf("invalid sample rate in %q", f.Describe())
	}
	channels, ok := f.Int(codec.KeyChannelCount)
	if !ok || channels <= 0 {
		return Format{}, fmt.Errorf("invalid channel count in %q", f.Describe())
	}

	out := Format{Mime: mime, SampleRate: rate, Channels: channels, BitDepth: 16}
	if depth, ok := f.Int(codec.KeyBitDepth); ok && depth > 0 {
		out.BitDepth = depth
	}
	if bitrate, ok := f.Int(codec.KeyBitrate); ok {
		out.Bitrate = bitrate
	}
	if header, ok := f.Bytes(codec.KeyCodecConfig); ok {
		out.CodecHeader = header
	}
	return out, nil
}

// CodecFormat converts back to the codec key/value form
func (f Format) CodecFormat() codec.Format {
	out := codec.Format{
		codec.KeyMime:         f.Mime,
		codec.KeySampleRate:   f.SampleRate,
		codec.KeyChannelCount: f.Channels,
		codec.KeyBitDepth:     f.BitDepth,
	}
	if f.Bitrate > 0 {
		out[codec.KeyBitrate] = f.Bitrate
	}
	if len(f.CodecHeader) > 0 {
		out[codec.KeyCodecConfig] = f.CodecHeader
	}
	return out
}

// BytesPerFrame returns the size of one interleaved PCM frame
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Buffer represents decoded PCM audio
type Buffer struct {
	PresentationTimeUs int64
	Samples            []int32 // PCM samples (int32 to support both 16-bit and 24-bit)
	Format             Format
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// DecodePCM unpacks little-endian PCM bytes into 24-bit range samples.
// Trailing bytes that do not form a whole sample are ignored.
func DecodePCM(data []byte, bitDepth int) ([]int32, error) {
	switch bitDepth {
	case 16:
		samples := make([]int32, len(data)/2)
		for i := range samples {
			samples[i] = SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
		return samples, nil
	case 24:
		samples := make([]int32, len(data)/3)
		for i := range samples {
			samples[i] = SampleFrom24Bit([3]byte{data[i*3], data[i*3+1], data[i*3+2]})
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", bitDepth)
	}
}

// EncodePCM packs 24-bit range samples into little-endian PCM bytes
func EncodePCM(samples []int32, bitDepth int) ([]byte, error) {
	switch bitDepth {
	case 16:
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(SampleToInt16(s)))
		}
		return out, nil
	case 24:
		out := make([]byte, len(samples)*3)
		for i, s := range samples {
			b := SampleTo24Bit(s)
			copy(out[i*3:], b[:])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", bitDepth)
	}
}

// Int16ToBytes packs int16 samples as little-endian bytes
func Int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian bytes into int16 samples
func BytesToInt16(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm
}
