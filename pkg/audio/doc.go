// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and sample conversion functions
// Package audio provides audio types shared by the codec engines and tools.
//
//   - Format: audio stream format (mime, sample rate, channels, bit depth),
//     convertible to and from a codec.Format
//   - Buffer: decoded PCM audio with its presentation time
//
// Samples are carried as int32 in 24-bit range; DecodePCM and EncodePCM
// convert to and from packed little-endian 16-bit or 24-bit PCM.
//
// Example:
//
//	desc, err := session.OutputDescription()
//	format, err := audio.FormatFrom(desc)
//	samples, err := audio.DecodePCM(buf.Region(attr), format.BitDepth)
package audio
