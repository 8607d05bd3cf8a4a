// ABOUTME: Streaming linear resampler for interleaved PCM
// ABOUTME: Converts sample rates chunk by chunk without seams between chunks
package resample

// Resampler converts interleaved samples between rates with linear
// interpolation. The last frame of each chunk is held back to interpolate
// across the chunk boundary, so output lags input by one frame until Flush.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	step       float64 // input frames per output frame
	position   float64 // next output position, in frames from prev
	prev       []int32
	havePrev   bool
	frames     []int32
}

// New creates a resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		step:       float64(inputRate) / float64(outputRate),
		prev:       make([]int32, channels),
	}
}

// Resample appends the converted frames of input to dst. A trailing partial
// frame in input is ignored.
func (r *Resampler) Resample(dst, input []int32) []int32 {
	inFrames := len(input) / r.channels
	if inFrames == 0 {
		return dst
	}

	src := input[:inFrames*r.channels]
	if r.havePrev {
		r.frames = append(append(r.frames[:0], r.prev...), src...)
		src = r.frames
	}
	total := len(src) / r.channels

	for {
		idx := int(r.position)
		if idx+1 >= total {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			a := float64(src[idx*r.channels+ch])
			b := float64(src[(idx+1)*r.channels+ch])
			dst = append(dst, int32(a+(b-a)*frac))
		}
		r.position += r.step
	}

	copy(r.prev, src[(total-1)*r.channels:])
	r.havePrev = true
	r.position -= float64(total - 1)
	return dst
}

// Flush appends the held back frame when an output falls on it and resets
// the resampler for a new stream
func (r *Resampler) Flush(dst []int32) []int32 {
	if r.havePrev && r.position < 1 {
		dst = append(dst, r.prev...)
	}
	r.Reset()
	return dst
}

// Reset drops all state
func (r *Resampler) Reset() {
	r.position = 0
	r.havePrev = false
	clear(r.prev)
}

// InputRate returns the source rate
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the target rate
func (r *Resampler) OutputRate() int { return r.outputRate }
