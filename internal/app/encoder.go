// ABOUTME: WAV encoder application orchestration
// ABOUTME: Encodes a WAV file through a codec session into a packet sink
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/Resonate-Protocol/avcodec-go/internal/player"
	"github.com/Resonate-Protocol/avcodec-go/internal/rtpsink"
	"github.com/Resonate-Protocol/avcodec-go/internal/version"
	"github.com/Resonate-Protocol/avcodec-go/internal/wavsource"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// EncoderConfig holds encoder configuration
type EncoderConfig struct {
	File       string
	SampleRate int // resample the input to this rate, 0 keeps the file's
	Bitrate    int // bits per second, 0 for the codec default
	Engine     EngineConfig
	Sink       rtpsink.PacketSink
	Debug      bool
}

// Encoder encodes one WAV file into packets
type Encoder struct {
	config   EncoderConfig
	registry *codec.Registry
	stats    player.Stats
	packets  int
}

// NewEncoder creates an encoder using registry for local codecs
func NewEncoder(config EncoderConfig, registry *codec.Registry) *Encoder {
	if config.Engine.ClientName == "" {
		config.Engine.ClientName = version.Product + " encoder"
	}
	if config.Engine.Codec == "" && config.Engine.Mime == "" {
		config.Engine.Mime = audio.MimeOpus
	}
	config.Engine.Encoder = true
	config.Engine.Debug = config.Engine.Debug || config.Debug
	return &Encoder{
		config:   config,
		registry: registry,
	}
}

// Encode reads the whole file and writes every packet to the sink
func (e *Encoder) Encode(ctx context.Context) error {
	src, err := wavsource.Open(e.config.File)
	if err != nil {
		return err
	}
	defer src.Close()

	in := src.Format()
	log.Printf("Encoding %s: %dHz, %d channels, %d-bit source", e.config.File, in.SampleRate, in.Channels, src.SourceBitDepth())
	if e.config.SampleRate > 0 && e.config.SampleRate != in.SampleRate {
		src.SetOutputRate(e.config.SampleRate)
		in = src.Format()
		log.Printf("Resampling to %dHz", in.SampleRate)
	}

	session, err := openSession(ctx, e.config.Engine, e.registry, filepath.Base(e.config.File))
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Destroy(); err != nil {
			log.Printf("Error releasing codec: %v", err)
		}
	}()

	in.Bitrate = e.config.Bitrate
	if err := session.Configure(in.CodecFormat()); err != nil {
		return fmt.Errorf("failed to configure codec: %w", err)
	}

	pump, err := player.NewPump(session, player.Config{
		Source: src,
		Sink: func(data []byte, attr codec.BufferAttr) error {
			if attr.Flags.Has(codec.FlagCodecConfig) {
				return nil
			}
			e.packets++
			return e.config.Sink.WritePacket(data, attr.PresentationTimeUs)
		},
		BytesPerSecond: in.SampleRate * in.BytesPerFrame(),
		Debug:          e.config.Debug,
	})
	if err != nil {
		return err
	}

	runErr := pump.Run(ctx)
	e.stats = pump.Stats()
	if err := session.Stop(); err != nil {
		log.Printf("Error stopping codec: %v", err)
	}
	if runErr != nil {
		return runErr
	}

	if out, err := session.OutputDescription(); err == nil {
		log.Printf("Encoded %d packets as %s", e.packets, out.Describe())
	}
	return nil
}

// Packets returns how many packets reached the sink
func (e *Encoder) Packets() int {
	return e.packets
}

// Stats returns the pump counts of the last Encode
func (e *Encoder) Stats() player.Stats {
	return e.stats
}
