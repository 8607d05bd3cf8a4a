// ABOUTME: Length-prefixed packet file format
// ABOUTME: Stores encoded packets with their presentation times for later decoding
package rtpsink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// frameHeaderSize is a 4-byte big-endian length followed by an 8-byte
// big-endian presentation time
const frameHeaderSize = 12

// maxFrameSize bounds what ReadPacket will allocate
const maxFrameSize = 1 << 20

// FramedWriter writes packets as length-prefixed frames
type FramedWriter struct {
	w      io.Writer
	bw     *bufio.Writer
	header [frameHeaderSize]byte
}

// NewFramedWriter wraps w
func NewFramedWriter(w io.Writer) *FramedWriter {
	return &FramedWriter{w: w, bw: bufio.NewWriter(w)}
}

// WritePacket appends one frame
func (f *FramedWriter) WritePacket(data []byte, presentationTimeUs int64) error {
	binary.BigEndian.PutUint32(f.header[:4], uint32(len(data)))
	binary.BigEndian.PutUint64(f.header[4:], uint64(presentationTimeUs))
	if _, err := f.bw.Write(f.header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := f.bw.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close flushes buffered frames and closes w when it is a Closer
func (f *FramedWriter) Close() error {
	if err := f.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush frames: %w", err)
	}
	if c, ok := f.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadPacket reads the next frame written by FramedWriter. It returns io.EOF
// at a clean end of input.
func ReadPacket(r io.Reader) ([]byte, int64, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, 0, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, 0, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	pts := int64(binary.BigEndian.Uint64(header[4:]))

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, 0, fmt.Errorf("truncated frame: %w", err)
	}
	return data, pts, nil
}
