// ABOUTME: Oto-based playback of decoded session output
// ABOUTME: Streams 16-bit PCM to the sound card with software volume
package output

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// Oto plays audio through the system sound card
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	volume     int
	muted      bool
	ready      bool
}

// NewOto creates an Oto output at full volume
func NewOto() *Oto {
	return &Oto{volume: 100}
}

// Open creates the oto context. Oto allows one context per process, so a
// second Open with a different format keeps the first one.
func (o *Oto) Open(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz %dch", format.SampleRate, format.Channels)
	}
	if format.BitDepth != 16 {
		log.Printf("Playing %d-bit audio as 16-bit", format.BitDepth)
	}

	if o.otoCtx != nil {
		if o.format.SampleRate != format.SampleRate || o.format.Channels != format.Channels {
			log.Printf("Warning: output format changed (%dHz %dch -> %dHz %dch), oto cannot be reopened",
				o.format.SampleRate, o.format.Channels, format.SampleRate, format.Channels)
		}
		if o.ready {
			return nil
		}
		o.startPlayer()
		return nil
	}

	ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.format = format
	o.startPlayer()

	log.Printf("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)
	return nil
}

// startPlayer feeds a persistent player from a pipe
func (o *Oto) startPlayer() {
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()
	o.ready = true
}

// Write plays samples. It blocks while the player drains the pipe.
func (o *Oto) Write(samples []int32) error {
	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	writer := o.pipeWriter
	pcm := toInt16(samples, o.volume, o.muted)
	o.mu.Unlock()

	if _, err := writer.Write(audio.Int16ToBytes(pcm)); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close stops the player. The context stays suspended for a later Open.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			log.Printf("Failed to suspend audio output: %v", err)
		}
	}
	o.ready = false
	return nil
}

// SetVolume sets the volume, clamped to 0-100
func (o *Oto) SetVolume(volume int) {
	o.mu.Lock()
	o.volume = min(max(volume, 0), 100)
	o.mu.Unlock()
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
}

// Volume returns the current volume
func (o *Oto) Volume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// toInt16 scales samples by volume and narrows them for oto
func toInt16(samples []int32, volume int, muted bool) []int16 {
	multiplier := volumeMultiplier(volume, muted)

	out := make([]int16, len(samples))
	for i, sample := range samples {
		scaled := int64(float64(sample) * multiplier)
		if scaled > audio.Max24Bit {
			scaled = audio.Max24Bit
		} else if scaled < audio.Min24Bit {
			scaled = audio.Min24Bit
		}
		out[i] = audio.SampleToInt16(int32(scaled))
	}
	return out
}

func volumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0
	}
	return float64(volume) / 100
}
