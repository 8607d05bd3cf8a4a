// ABOUTME: File player application orchestration
// ABOUTME: Decodes a media file through a codec session into an audio output
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/avcodec-go/internal/player"
	"github.com/Resonate-Protocol/avcodec-go/internal/version"
	"github.com/Resonate-Protocol/avcodec-go/internal/wavsource"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio/output"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// PlayerConfig holds player configuration
type PlayerConfig struct {
	File   string
	Engine EngineConfig
	Output output.Output
	Debug  bool
}

// Player decodes one file and plays it
type Player struct {
	config   PlayerConfig
	registry *codec.Registry
	format   audio.Format
	opened   bool
	stats    player.Stats
}

// NewPlayer creates a player using registry for local codecs
func NewPlayer(config PlayerConfig, registry *codec.Registry) *Player {
	if config.Engine.ClientName == "" {
		config.Engine.ClientName = version.Product + " player"
	}
	config.Engine.Debug = config.Engine.Debug || config.Debug
	return &Player{
		config:   config,
		registry: registry,
	}
}

// mediaSource is an opened input file
type mediaSource struct {
	reader io.Reader
	closer io.Closer
	format codec.Format
	// bytesPerSecond is set for raw PCM so inputs carry timestamps
	bytesPerSecond int
}

// openMedia picks the codec input format from the file extension
func openMedia(path string) (*mediaSource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		src, err := wavsource.Open(path)
		if err != nil {
			return nil, err
		}
		f := src.Format()
		return &mediaSource{
			reader:         src,
			closer:         src,
			format:         f.CodecFormat(),
			bytesPerSecond: f.SampleRate * f.BytesPerFrame(),
		}, nil

	case ".mp3", ".flac":
		mime := audio.MimeMP3
		if ext == ".flac" {
			mime = audio.MimeFLAC
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return &mediaSource{
			reader: file,
			closer: file,
			format: codec.Format{codec.KeyMime: mime},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported file type %q (want .mp3, .flac or .wav)", ext)
	}
}

// Play decodes the whole file. It returns early when ctx ends.
func (p *Player) Play(ctx context.Context) error {
	media, err := openMedia(p.config.File)
	if err != nil {
		return err
	}
	defer media.closer.Close()

	engineConfig := p.config.Engine
	engineConfig.Mime, _ = media.format.String(codec.KeyMime)
	engineConfig.Encoder = false

	session, err := openSession(ctx, engineConfig, p.registry, filepath.Base(p.config.File))
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Destroy(); err != nil {
			log.Printf("Error releasing codec: %v", err)
		}
	}()

	if err := session.Configure(media.format); err != nil {
		return fmt.Errorf("failed to configure codec: %w", err)
	}

	pump, err := player.NewPump(session, player.Config{
		Source:         media.reader,
		Sink:           p.play,
		OnFormat:       p.openOutput,
		BytesPerSecond: media.bytesPerSecond,
		Debug:          p.config.Debug,
	})
	if err != nil {
		return err
	}

	log.Printf("Playing %s", p.config.File)
	runErr := pump.Run(ctx)
	p.stats = pump.Stats()

	if err := session.Stop(); err != nil {
		log.Printf("Error stopping codec: %v", err)
	}
	if p.opened {
		p.config.Output.Close()
	}
	if runErr != nil {
		return runErr
	}

	log.Printf("Finished %s: %d input bytes, %d output bytes, last pts %dus",
		p.config.File, p.stats.InputBytes, p.stats.OutputBytes, p.stats.LastPts)
	return nil
}

// openOutput opens the output on the first format and reopens it when the
// format changes
func (p *Player) openOutput(f codec.Format) error {
	format, err := audio.FormatFrom(f)
	if err != nil {
		return fmt.Errorf("decoder reported an unusable format: %w", err)
	}
	if format.Mime != audio.MimeRaw {
		return fmt.Errorf("decoder output is %s, not PCM", format.Mime)
	}
	if p.opened && format.SampleRate == p.format.SampleRate &&
		format.Channels == p.format.Channels && format.BitDepth == p.format.BitDepth {
		return nil
	}
	if err := p.config.Output.Open(format); err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	p.format = format
	p.opened = true
	return nil
}

func (p *Player) play(data []byte, _ codec.BufferAttr) error {
	if !p.opened {
		return fmt.Errorf("output before output format")
	}
	return output.WritePCM(p.config.Output, data, p.format.BitDepth)
}

// Stats returns the pump counts of the last Play
func (p *Player) Stats() player.Stats {
	return p.stats
}
