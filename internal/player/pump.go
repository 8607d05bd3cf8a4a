// ABOUTME: Drives a codec session from a byte source to a packet sink
// ABOUTME: Fills announced input buffers and consumes outputs in arrival order
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// eventQueueSize bounds the callback queue. Callbacks run under the session
// lock, so the queue must hold every buffer the engine can hand out at once.
const eventQueueSize = 256

// Sink consumes the valid region of one output buffer
type Sink func(data []byte, attr codec.BufferAttr) error

// Config holds pump configuration
type Config struct {
	Source   io.Reader
	Sink     Sink
	OnFormat func(codec.Format) error

	// BytesPerSecond stamps each input with the playing time of the bytes
	// read before it. Zero stamps every input with 0.
	BytesPerSecond int

	Debug bool
}

// Stats counts what went through the pump
type Stats struct {
	InputBuffers  int
	OutputBuffers int
	InputBytes    int64
	OutputBytes   int64
	LastPts       int64
}

type eventKind int

const (
	eventInput eventKind = iota
	eventOutput
	eventFormat
	eventError
)

type event struct {
	kind   eventKind
	index  uint32
	buf    *codec.BufferHandle
	attr   codec.BufferAttr
	format codec.Format
	err    error
}

// Pump moves data through a session until the end of stream comes out
type Pump struct {
	session *codec.Session
	config  Config
	events  chan event
	sentEOS bool
	stats   Stats
}

// NewPump attaches to a configured session
func NewPump(session *codec.Session, config Config) (*Pump, error) {
	if config.Source == nil {
		return nil, errors.New("pump needs a source")
	}
	p := &Pump{
		session: session,
		config:  config,
		events:  make(chan event, eventQueueSize),
	}

	err := session.SetCallback(&codec.Callbacks{
		OnError: func(_ *codec.Session, err error, _ any) {
			p.events <- event{kind: eventError, err: err}
		},
		OnFormatChanged: func(_ *codec.Session, view *codec.FormatView, _ any) {
			p.events <- event{kind: eventFormat, format: view.Snapshot()}
		},
		OnNeedInputData: func(_ *codec.Session, index uint32, buf *codec.BufferHandle, _ any) {
			p.events <- event{kind: eventInput, index: index, buf: buf}
		},
		OnNeedOutputData: func(_ *codec.Session, index uint32, buf *codec.BufferHandle, attr codec.BufferAttr, _ any) {
			p.events <- event{kind: eventOutput, index: index, buf: buf, attr: attr}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to codec: %w", err)
	}
	return p, nil
}

// Run starts the session and returns once the end-of-stream output has been
// consumed, the engine reports an error or ctx ends. The session is left
// running; stopping it is up to the caller.
func (p *Pump) Run(ctx context.Context) error {
	if err := p.session.Start(); err != nil {
		return fmt.Errorf("failed to start codec: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-p.events:
			switch ev.kind {
			case eventError:
				return fmt.Errorf("codec error: %w", ev.err)

			case eventFormat:
				log.Printf("Codec %s output format: %s", p.session.Name(), ev.format.Describe())
				if p.config.OnFormat != nil {
					if err := p.config.OnFormat(ev.format); err != nil {
						return err
					}
				}

			case eventInput:
				if err := p.fill(ev.index, ev.buf); err != nil {
					return err
				}

			case eventOutput:
				done, err := p.drain(ev.index, ev.buf, ev.attr)
				if err != nil || done {
					return err
				}
			}
		}
	}
}

// fill reads the next chunk of the source into an input buffer
func (p *Pump) fill(index uint32, buf *codec.BufferHandle) error {
	if p.sentEOS || !buf.Valid() {
		return nil
	}

	data := buf.Bytes()
	if len(data) == 0 {
		return fmt.Errorf("input buffer %d has no space", index)
	}
	var n int
	var err error
	for n == 0 && err == nil {
		n, err = p.config.Source.Read(data)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}

	attr := codec.BufferAttr{
		PresentationTimeUs: p.pts(),
		Size:               int32(n),
	}
	if err != nil {
		attr.Flags = codec.FlagEndOfStream
		p.sentEOS = true
	}
	if pushErr := p.session.PushInputBuffer(index, attr); pushErr != nil {
		return fmt.Errorf("failed to queue input: %w", pushErr)
	}

	p.stats.InputBuffers++
	p.stats.InputBytes += int64(n)
	if p.config.Debug {
		log.Printf("[DEBUG] Queued input %d: %d bytes, flags=%s", index, n, attr.Flags)
	}
	return nil
}

// drain hands an output to the sink and returns it to the engine
func (p *Pump) drain(index uint32, buf *codec.BufferHandle, attr codec.BufferAttr) (bool, error) {
	if attr.Size > 0 && p.config.Sink != nil {
		if err := p.config.Sink(buf.Region(attr), attr); err != nil {
			return false, err
		}
	}
	if err := p.session.ReleaseOutputBuffer(index, true); err != nil {
		return false, fmt.Errorf("failed to release output: %w", err)
	}

	p.stats.OutputBuffers++
	p.stats.OutputBytes += int64(attr.Size)
	p.stats.LastPts = attr.PresentationTimeUs
	return attr.Flags.Has(codec.FlagEndOfStream), nil
}

func (p *Pump) pts() int64 {
	if p.config.BytesPerSecond <= 0 {
		return 0
	}
	return p.stats.InputBytes * 1_000_000 / int64(p.config.BytesPerSecond)
}

// Stats returns counts so far. Call it after Run returns.
func (p *Pump) Stats() Stats {
	return p.stats
}
