// ABOUTME: Audio output package for playing decoder output
// ABOUTME: Provides the Output interface with oto and discarding sinks
// Package output plays the PCM a decoder session produces.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16})
//	err = output.WritePCM(out, region, 16)
package output
