// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts PCM between sample rates for encoder input
// Package resample provides streaming sample rate conversion.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Resample(out[:0], chunk)
//	out = r.Flush(out)
package resample
