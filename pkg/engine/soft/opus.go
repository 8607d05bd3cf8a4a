// ABOUTME: Opus encode and decode processors
// ABOUTME: Wraps libopus through gopkg.in/hraban/opus.v2
package soft

import (
	"fmt"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"gopkg.in/hraban/opus.v2"
)

const (
	maxOpusFrame  = 5760 // 120ms at 48kHz
	maxOpusPacket = 4000
)

// opusDecoder decodes one Opus packet per input unit into 16-bit PCM
type opusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
	out     codec.Format
}

// NewOpusDecoderProcessor creates an Opus decoding processor
func NewOpusDecoderProcessor() Processor {
	return &opusDecoder{}
}

func (d *opusDecoder) Open(format codec.Format) error {
	f, err := audio.FormatFrom(format)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.CodeInvalidValue, err)
	}
	if f.Mime != audio.MimeOpus {
		return fmt.Errorf("invalid codec for Opus decoder: %s: %w", f.Mime, codec.CodeUnsupportedAudioDecoder)
	}

	dec, err := opus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return fmt.Errorf("failed to create opus decoder: %v: %w", err, codec.CodeUnsupportedAudioParams)
	}

	d.decoder = dec
	d.format = f
	d.pcm = make([]int16, maxOpusFrame*f.Channels)
	d.out = audio.Format{
		Mime:       audio.MimeRaw,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitDepth:   16,
	}.CodecFormat()
	return nil
}

func (d *opusDecoder) Process(data []byte) ([]Unit, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return []Unit{{
		Data:   audio.Int16ToBytes(d.pcm[:n*d.format.Channels]),
		Frames: n,
	}}, nil
}

func (d *opusDecoder) Drain() ([]Unit, error) { return nil, nil }

// Reset recreates the decoder so no state leaks across a flush
func (d *opusDecoder) Reset() error {
	dec, err := opus.NewDecoder(d.format.SampleRate, d.format.Channels)
	if err != nil {
		return fmt.Errorf("failed to recreate opus decoder: %w", err)
	}
	d.decoder = dec
	return nil
}

func (d *opusDecoder) OutputFormat() codec.Format { return d.out }

func (d *opusDecoder) Close() error {
	d.decoder = nil
	d.out = nil
	return nil
}

// opusEncoder encodes 16-bit PCM into Opus packets of one frame each.
// Input is buffered until a whole frame is available; the tail is padded with
// silence at end of stream.
type opusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int
	pending   []int16
	packet    []byte
	out       codec.Format
}

// NewOpusEncoderProcessor creates an Opus encoding processor
func NewOpusEncoderProcessor() Processor {
	return &opusEncoder{}
}

func (e *opusEncoder) Open(format codec.Format) error {
	f, err := audio.FormatFrom(format)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.CodeInvalidValue, err)
	}
	if f.Mime != audio.MimeRaw && f.Mime != audio.MimeOpus {
		return fmt.Errorf("invalid input for Opus encoder: %s: %w", f.Mime, codec.CodeUnsupportedAudioEncoder)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("opus encoder takes 16-bit input, got %d: %w", f.BitDepth, codec.CodeUnsupportedAudioParams)
	}

	enc, err := opus.NewEncoder(f.SampleRate, f.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %v: %w", err, codec.CodeUnsupportedAudioParams)
	}
	if f.Bitrate > 0 {
		if err := enc.SetBitrate(f.Bitrate); err != nil {
			return fmt.Errorf("invalid bitrate %d: %v: %w", f.Bitrate, err, codec.CodeUnsupportedAudioParams)
		}
	}

	// 20ms frames unless told otherwise
	frameSize := f.SampleRate / 50
	if n, ok := format.Int(codec.KeyFrameSize); ok && n > 0 {
		frameSize = n
	}

	e.encoder = enc
	e.format = f
	e.frameSize = frameSize
	e.pending = e.pending[:0]
	e.packet = make([]byte, maxOpusPacket)

	out := audio.Format{
		Mime:       audio.MimeOpus,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitDepth:   16,
		Bitrate:    f.Bitrate,
	}.CodecFormat()
	out[codec.KeyFrameSize] = frameSize
	e.out = out
	return nil
}

func (e *opusEncoder) Process(data []byte) ([]Unit, error) {
	e.pending = append(e.pending, audio.BytesToInt16(data)...)
	return e.encodeFrames()
}

func (e *opusEncoder) Drain() ([]Unit, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frameLen := e.frameSize * e.format.Channels
	for len(e.pending)%frameLen != 0 {
		e.pending = append(e.pending, 0)
	}
	return e.encodeFrames()
}

func (e *opusEncoder) encodeFrames() ([]Unit, error) {
	frameLen := e.frameSize * e.format.Channels
	var units []Unit
	for len(e.pending) >= frameLen {
		n, err := e.encoder.Encode(e.pending[:frameLen], e.packet)
		if err != nil {
			return units, fmt.Errorf("opus encode error: %w", err)
		}
		units = append(units, Unit{
			Data:   append([]byte(nil), e.packet[:n]...),
			Frames: e.frameSize,
		})
		e.pending = e.pending[frameLen:]
	}
	// copy the remainder so the consumed prefix can be collected
	e.pending = append(e.pending[:0:0], e.pending...)
	return units, nil
}

func (e *opusEncoder) Reset() error {
	e.pending = nil
	return nil
}

// SetParameter applies a new bitrate
func (e *opusEncoder) SetParameter(format codec.Format) error {
	bitrate, ok := format.Int(codec.KeyBitrate)
	if !ok {
		return codec.CodeInvalidValue
	}
	if err := e.encoder.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("set bitrate %d: %v: %w", bitrate, err, codec.CodeInvalidValue)
	}
	e.format.Bitrate = bitrate
	out := e.out.Clone()
	out[codec.KeyBitrate] = bitrate
	e.out = out
	return nil
}

func (e *opusEncoder) OutputFormat() codec.Format { return e.out }

func (e *opusEncoder) Close() error {
	e.encoder = nil
	e.pending = nil
	e.out = nil
	return nil
}
