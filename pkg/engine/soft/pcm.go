// ABOUTME: Raw PCM processor
// ABOUTME: Repacks 16-bit and 24-bit little-endian PCM between bit depths
package soft

import (
	"fmt"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// pcmProcessor decodes any supported depth to 16-bit, or encodes 16-bit to
// the configured depth
type pcmProcessor struct {
	encoder  bool
	format   audio.Format
	inDepth  int
	outDepth int
	out      codec.Format
}

// NewPCMProcessor creates a PCM processor. Decoders output 16-bit PCM;
// encoders take 16-bit PCM and output the configured bit depth.
func NewPCMProcessor(encoder bool) Processor {
	return &pcmProcessor{encoder: encoder}
}

func (p *pcmProcessor) Open(format codec.Format) error {
	f, err := audio.FormatFrom(format)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.CodeInvalidValue, err)
	}
	if f.Mime != audio.MimeRaw {
		return fmt.Errorf("invalid codec for PCM processor: %s: %w", f.Mime, codec.CodeUnsupportedAudioParams)
	}
	if f.BitDepth != 16 && f.BitDepth != 24 {
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24): %w", f.BitDepth, codec.CodeUnsupportedAudioParams)
	}

	p.format = f
	if p.encoder {
		p.inDepth, p.outDepth = 16, f.BitDepth
	} else {
		p.inDepth, p.outDepth = f.BitDepth, 16
	}

	out := f
	out.BitDepth = p.outDepth
	p.out = out.CodecFormat()
	return nil
}

func (p *pcmProcessor) Process(data []byte) ([]Unit, error) {
	samples, err := audio.DecodePCM(data, p.inDepth)
	if err != nil {
		return nil, err
	}
	packed, err := audio.EncodePCM(samples, p.outDepth)
	if err != nil {
		return nil, err
	}
	return []Unit{{Data: packed, Frames: len(samples) / p.format.Channels}}, nil
}

func (p *pcmProcessor) Drain() ([]Unit, error)     { return nil, nil }
func (p *pcmProcessor) Reset() error               { return nil }
func (p *pcmProcessor) OutputFormat() codec.Format { return p.out }
func (p *pcmProcessor) Close() error {
	p.out = nil
	return nil
}
