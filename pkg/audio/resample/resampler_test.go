// ABOUTME: Tests for the streaming resampler
// ABOUTME: Checks frame counts, interpolation and chunk boundaries
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameRatePassesThrough(t *testing.T) {
	r := New(48000, 48000, 2)
	out := r.Resample(nil, []int32{1, -1, 2, -2})
	out = r.Resample(out, []int32{3, -3})
	out = r.Flush(out)
	assert.Equal(t, []int32{1, -1, 2, -2, 3, -3}, out)
}

func TestUpsampleInterpolates(t *testing.T) {
	r := New(24000, 48000, 1)
	out := r.Resample(nil, []int32{0, 100, 200})
	out = r.Flush(out)
	assert.Equal(t, []int32{0, 50, 100, 150, 200}, out)
}

func TestDownsample(t *testing.T) {
	r := New(48000, 16000, 1)
	out := r.Resample(nil, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8})
	out = r.Flush(out)
	assert.Equal(t, []int32{0, 3, 6}, out)
}

func TestChunkBoundaryIsSeamless(t *testing.T) {
	input := make([]int32, 90)
	for i := range input {
		input[i] = int32(i * 10)
	}

	whole := New(44100, 48000, 1)
	want := whole.Flush(whole.Resample(nil, input))

	chunked := New(44100, 48000, 1)
	var got []int32
	for i := 0; i < len(input); i += 7 {
		got = chunked.Resample(got, input[i:min(i+7, len(input))])
	}
	got = chunked.Flush(got)

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1, "sample %d", i)
	}
}

func TestPartialFrameIgnored(t *testing.T) {
	r := New(8000, 8000, 2)
	assert.Empty(t, r.Resample(nil, []int32{1}))
	assert.Equal(t, 8000, r.InputRate())
	assert.Equal(t, 8000, r.OutputRate())
}
