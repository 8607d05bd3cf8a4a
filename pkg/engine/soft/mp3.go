// ABOUTME: MP3 decoding processor
// ABOUTME: Streams MPEG audio through go-mp3 into 16-bit stereo PCM
package soft

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16-bit little-endian stereo
const mp3ChunkBytes = 1152 * 4

// NewMP3DecoderProcessor creates an MP3 decoding processor. Input units are
// arbitrary slices of an MP3 byte stream.
func NewMP3DecoderProcessor() Processor {
	return &mp3Decoder{streamDecoder: newStreamDecoder(decodeMP3)}
}

type mp3Decoder struct {
	*streamDecoder
}

func (d *mp3Decoder) Open(format codec.Format) error {
	if mime, _ := format.String(codec.KeyMime); mime != audio.MimeMP3 {
		return fmt.Errorf("invalid codec for MP3 decoder: %s: %w", mime, codec.CodeUnsupportedAudioDecoder)
	}
	return d.streamDecoder.Open(format)
}

func decodeMP3(r io.Reader, setFormat func(codec.Format), emit func(Unit)) error {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	setFormat(audio.Format{
		Mime:       audio.MimeRaw,
		SampleRate: dec.SampleRate(),
		Channels:   2,
		BitDepth:   16,
	}.CodecFormat())

	buf := make([]byte, mp3ChunkBytes)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			emit(Unit{Data: append([]byte(nil), buf[:n]...), Frames: n / 4})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mp3 decode error: %w", err)
		}
	}
}
