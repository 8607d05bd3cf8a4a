// ABOUTME: Packet sinks for encoder session output
// ABOUTME: Sends Opus packets as RTP through pion/rtp
package rtpsink

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	// DefaultMTU leaves room for IP and UDP headers on a typical link
	DefaultMTU = 1200

	// DefaultPayloadType is the first dynamic payload type
	DefaultPayloadType = 111

	// opusClockRate is fixed for Opus regardless of the encoded rate
	opusClockRate = 48000

	rtpHeaderSize = 12
)

// PacketSink consumes encoded packets stamped with a presentation time
type PacketSink interface {
	WritePacket(data []byte, presentationTimeUs int64) error
	Close() error
}

// Config holds RTP sink settings
type Config struct {
	SSRC        uint32 // random when zero
	PayloadType uint8  // DefaultPayloadType when zero
	MTU         int    // DefaultMTU when zero
	Debug       bool
}

// Sink packetizes Opus packets into RTP and writes each one to w
type Sink struct {
	config    Config
	w         io.Writer
	sequencer rtp.Sequencer
	payloader *codecs.OpusPayloader

	mu      sync.Mutex
	packets uint64
	bytes   uint64
}

// New creates an RTP sink writing to w, usually a connected UDP socket
func New(w io.Writer, config Config) *Sink {
	if config.SSRC == 0 {
		config.SSRC = rand.Uint32()
	}
	if config.PayloadType == 0 {
		config.PayloadType = DefaultPayloadType
	}
	if config.MTU <= 0 {
		config.MTU = DefaultMTU
	}
	return &Sink{
		config:    config,
		w:         w,
		sequencer: rtp.NewRandomSequencer(),
		payloader: &codecs.OpusPayloader{},
	}
}

// SSRC returns the stream's synchronization source
func (s *Sink) SSRC() uint32 {
	return s.config.SSRC
}

// Packetize turns one Opus packet into RTP packets
func (s *Sink) Packetize(data []byte, presentationTimeUs int64) []*rtp.Packet {
	if len(data) == 0 {
		return nil
	}
	payloads := s.payloader.Payload(uint16(s.config.MTU-rtpHeaderSize), data)

	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    s.config.PayloadType,
				SequenceNumber: s.sequencer.NextSequenceNumber(),
				Timestamp:      Timestamp(presentationTimeUs),
				SSRC:           s.config.SSRC,
			},
			Payload: payload,
		}
	}
	return packets
}

// WritePacket sends data as RTP
func (s *Sink) WritePacket(data []byte, presentationTimeUs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pkt := range s.Packetize(data, presentationTimeUs) {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		if _, err := s.w.Write(raw); err != nil {
			return fmt.Errorf("failed to send RTP packet: %w", err)
		}
		s.packets++
		s.bytes += uint64(len(raw))
		if s.config.Debug {
			log.Printf("[DEBUG] RTP seq=%d ts=%d size=%d", pkt.SequenceNumber, pkt.Timestamp, len(raw))
		}
	}
	return nil
}

// Stats returns packets and bytes sent
func (s *Sink) Stats() (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets, s.bytes
}

// Close closes w when it is a Closer
func (s *Sink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Timestamp converts a presentation time to the Opus RTP clock
func Timestamp(presentationTimeUs int64) uint32 {
	return uint32(presentationTimeUs * opusClockRate / 1_000_000)
}
