// ABOUTME: Playback sink interface for decoded session output
// ABOUTME: Defines Output plus a discarding sink for headless runs
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
)

// Output plays interleaved PCM samples in 24-bit range
type Output interface {
	// Open prepares the device for the decoder's output format
	Open(format audio.Format) error

	// Write plays samples, blocking until they are queued
	Write(samples []int32) error

	// Close releases the device
	Close() error
}

// WritePCM unpacks little-endian PCM at the given depth and writes it to out
func WritePCM(out Output, data []byte, bitDepth int) error {
	samples, err := audio.DecodePCM(data, bitDepth)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	return out.Write(samples)
}

// Null discards audio, keeping count of what it was given. With Realtime set
// it sleeps for the duration of every write.
type Null struct {
	Realtime bool

	mu      sync.Mutex
	format  audio.Format
	open    bool
	samples int64
}

// NewNull creates a discarding output
func NewNull(realtime bool) *Null {
	return &Null{Realtime: realtime}
}

// Open records the format
func (n *Null) Open(format audio.Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz %dch", format.SampleRate, format.Channels)
	}
	n.mu.Lock()
	n.format = format
	n.open = true
	n.mu.Unlock()
	return nil
}

// Write counts samples
func (n *Null) Write(samples []int32) error {
	n.mu.Lock()
	if !n.open {
		n.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	n.samples += int64(len(samples))
	format := n.format
	n.mu.Unlock()

	if n.Realtime {
		frames := len(samples) / format.Channels
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(format.SampleRate))
	}
	return nil
}

// Close marks the output closed
func (n *Null) Close() error {
	n.mu.Lock()
	n.open = false
	n.mu.Unlock()
	return nil
}

// Samples returns how many samples were written
func (n *Null) Samples() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.samples
}

// Duration returns the playing time of everything written
func (n *Null) Duration() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.format.SampleRate == 0 || n.format.Channels == 0 {
		return 0
	}
	frames := n.samples / int64(n.format.Channels)
	return time.Duration(frames) * time.Second / time.Duration(n.format.SampleRate)
}
