// ABOUTME: FLAC decoding processor
// ABOUTME: Streams FLAC frames through mewkiz/flac into 16-bit PCM
package soft

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/mewkiz/flac"
)

// NewFLACDecoderProcessor creates a FLAC decoding processor. Input units are
// arbitrary slices of a FLAC byte stream, starting with the stream header.
func NewFLACDecoderProcessor() Processor {
	return &flacDecoder{streamDecoder: newStreamDecoder(decodeFLAC)}
}

type flacDecoder struct {
	*streamDecoder
}

func (d *flacDecoder) Open(format codec.Format) error {
	if mime, _ := format.String(codec.KeyMime); mime != audio.MimeFLAC {
		return fmt.Errorf("invalid codec for FLAC decoder: %s: %w", mime, codec.CodeUnsupportedAudioDecoder)
	}
	return d.streamDecoder.Open(format)
}

func decodeFLAC(r io.Reader, setFormat func(codec.Format), emit func(Unit)) error {
	stream, err := flac.New(r)
	if err != nil {
		return fmt.Errorf("failed to parse flac header: %w", err)
	}

	channels := int(stream.Info.NChannels)
	bps := int(stream.Info.BitsPerSample)
	if bps < 8 || bps > 32 {
		return fmt.Errorf("unsupported flac bit depth %d: %w", bps, codec.CodeUnsupportedAudioParams)
	}

	setFormat(audio.Format{
		Mime:       audio.MimeRaw,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   channels,
		BitDepth:   16,
	}.CodecFormat())

	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("flac decode error: %w", err)
		}

		frames := int(frame.BlockSize)
		pcm := make([]int16, 0, frames*channels)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				pcm = append(pcm, toInt16(frame.Subframes[ch].Samples[i], bps))
			}
		}
		emit(Unit{Data: audio.Int16ToBytes(pcm), Frames: frames})
	}
}

// toInt16 scales a sample of the given bit depth to 16 bits
func toInt16(sample int32, bps int) int16 {
	switch {
	case bps > 16:
		return int16(sample >> (bps - 16))
	case bps < 16:
		return int16(sample << (16 - bps))
	default:
		return int16(sample)
	}
}
