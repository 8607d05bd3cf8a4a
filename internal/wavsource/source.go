// ABOUTME: WAV file source for encoder sessions
// ABOUTME: Reads WAV PCM through go-audio/wav and hands out 16-bit frames, resampled on request
package wavsource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio/resample"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Source reads interleaved 16-bit little-endian PCM out of a WAV stream
type Source struct {
	file     *os.File
	decoder  *wav.Decoder
	format   audio.Format
	bitDepth int
	buf      *goaudio.IntBuffer
	samples  []int32
	pending  []int32
	frames   int64
	eof      bool

	decoderRate int
	resampler   *resample.Resampler
}

// Open opens a WAV file
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	s, err := NewSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewSource reads a WAV stream. The caller keeps ownership of r.
func NewSource(r io.ReadSeeker) (*Source, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file format")
	}

	bitDepth := int(decoder.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", bitDepth)
	}
	if decoder.NumChans == 0 || decoder.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV format: %dHz %dch", decoder.SampleRate, decoder.NumChans)
	}

	return &Source{
		decoder:     decoder,
		bitDepth:    bitDepth,
		decoderRate: int(decoder.SampleRate),
		format: audio.Format{
			Mime:       audio.MimeRaw,
			SampleRate: int(decoder.SampleRate),
			Channels:   int(decoder.NumChans),
			BitDepth:   16,
		},
	}, nil
}

// Format describes the PCM Read produces
func (s *Source) Format() audio.Format {
	return s.format
}

// SourceBitDepth is the sample depth stored in the file
func (s *Source) SourceBitDepth() int {
	return s.bitDepth
}

// Position is the playing time of everything read so far
func (s *Source) Position() time.Duration {
	return time.Duration(s.frames) * time.Second / time.Duration(s.format.SampleRate)
}

// SetOutputRate makes Read resample to rate. Call it before the first Read.
func (s *Source) SetOutputRate(rate int) {
	if rate <= 0 || rate == s.format.SampleRate {
		return
	}
	s.resampler = resample.New(s.format.SampleRate, rate, s.format.Channels)
	s.format.SampleRate = rate
}

// Read fills p with whole frames of 16-bit PCM and returns io.EOF once the
// data chunk is exhausted
func (s *Source) Read(p []byte) (int, error) {
	frameBytes := s.format.BytesPerFrame()
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}
	want := frames * s.format.Channels

	for len(s.pending) < want && !s.eof {
		samples, err := s.decode(want)
		if err != nil {
			return 0, err
		}
		if len(samples) == 0 {
			s.eof = true
			if s.resampler != nil {
				s.pending = s.resampler.Flush(s.pending)
			}
			break
		}
		if s.resampler != nil {
			s.pending = s.resampler.Resample(s.pending, samples)
		} else {
			s.pending = append(s.pending, samples...)
		}
	}
	if len(s.pending) == 0 {
		return 0, io.EOF
	}

	n := min(len(s.pending), want)
	for i, sample := range s.pending[:n] {
		p[2*i] = byte(sample)
		p[2*i+1] = byte(sample >> 8)
	}
	s.pending = append(s.pending[:0], s.pending[n:]...)
	s.frames += int64(n / s.format.Channels)
	return n * 2, nil
}

// decode reads up to want samples from the data chunk, scaled to 16 bits.
// It returns no samples at the end of the data.
func (s *Source) decode(want int) ([]int32, error) {
	if s.buf == nil || cap(s.buf.Data) < want {
		s.buf = &goaudio.IntBuffer{
			Data:           make([]int, want),
			Format:         &goaudio.Format{SampleRate: s.decoderRate, NumChannels: s.format.Channels},
			SourceBitDepth: s.bitDepth,
		}
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error reading WAV data: %w", err)
	}
	// drop a trailing partial frame
	n -= n % s.format.Channels

	s.samples = s.samples[:0]
	for _, v := range s.buf.Data[:n] {
		s.samples = append(s.samples, int32(to16(v, s.bitDepth)))
	}
	return s.samples, nil
}

// Close closes the file opened by Open
func (s *Source) Close() error {
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// to16 scales a decoded WAV sample to 16 bits. 8-bit WAV data is unsigned.
func to16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
