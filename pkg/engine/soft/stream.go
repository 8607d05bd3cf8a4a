// ABOUTME: Pipe-fed streaming decoder base for container-style codecs
// ABOUTME: Feeds input units into a pull decoder running on its own goroutine
package soft

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// decodeFunc pulls from r until EOF, reporting the output format once known
// and every decoded unit through emit
type decodeFunc func(r io.Reader, setFormat func(codec.Format), emit func(Unit)) error

// streamDecoder adapts a pull decoder (one that wants an io.Reader) to the
// push-style Processor interface. Input units are written into an io.Pipe;
// the decoder goroutine reads from it and collects output.
type streamDecoder struct {
	decode decodeFunc

	pw   *io.PipeWriter
	done chan struct{}

	mu      sync.Mutex
	pending []Unit
	format  codec.Format
	err     error
}

func newStreamDecoder(decode decodeFunc) *streamDecoder {
	return &streamDecoder{decode: decode}
}

func (d *streamDecoder) Open(codec.Format) error {
	d.start()
	return nil
}

func (d *streamDecoder) start() {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	d.pw = pw
	d.done = done

	d.mu.Lock()
	d.pending = nil
	d.err = nil
	d.mu.Unlock()

	go func() {
		defer close(done)
		err := d.decode(pr, d.setFormat, d.emit)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		pr.CloseWithError(err)
	}()
}

// stopDecoder aborts the decoder goroutine and waits for it
func (d *streamDecoder) stopDecoder() {
	if d.pw == nil {
		return
	}
	d.pw.CloseWithError(io.ErrClosedPipe)
	<-d.done
	d.pw = nil
}

func (d *streamDecoder) setFormat(f codec.Format) {
	d.mu.Lock()
	d.format = f
	d.mu.Unlock()
}

func (d *streamDecoder) emit(u Unit) {
	d.mu.Lock()
	d.pending = append(d.pending, u)
	d.mu.Unlock()
}

func (d *streamDecoder) take() ([]Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	units := d.pending
	d.pending = nil
	return units, d.err
}

// Process blocks until the decoder has consumed data
func (d *streamDecoder) Process(data []byte) ([]Unit, error) {
	if d.pw == nil {
		return nil, fmt.Errorf("decoder not running: %w", codec.CodeInvalidState)
	}
	if _, err := d.pw.Write(data); err != nil {
		units, decodeErr := d.take()
		if decodeErr != nil {
			return units, decodeErr
		}
		return units, fmt.Errorf("stream already ended: %w", err)
	}
	return d.take()
}

// Drain closes the input and waits for the decoder to finish
func (d *streamDecoder) Drain() ([]Unit, error) {
	if d.pw == nil {
		return nil, nil
	}
	d.pw.Close()
	<-d.done
	d.pw = nil
	return d.take()
}

// Reset restarts the decoder on a fresh pipe; the next input must start at a
// frame boundary
func (d *streamDecoder) Reset() error {
	d.stopDecoder()
	d.start()
	return nil
}

func (d *streamDecoder) OutputFormat() codec.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

func (d *streamDecoder) Close() error {
	d.stopDecoder()
	d.mu.Lock()
	d.format = nil
	d.pending = nil
	d.mu.Unlock()
	return nil
}
