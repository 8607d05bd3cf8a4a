// ABOUTME: Codec service protocol message type definitions
// ABOUTME: Defines the JSON envelope, commands, results and engine events
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// ProtocolVersion is the protocol revision spoken by client and server
const ProtocolVersion = 1

// Handshake message types
const (
	TypeClientHello = "client/hello"
	TypeServerHello = "server/hello"
	TypeServerError = "server/error"
)

// Command message types, sent by the client with a non-zero id. The server
// answers every command with a TypeResult carrying the same id.
const (
	TypeCreate          = "codec/create"
	TypeConfigure       = "codec/configure"
	TypePrepare         = "codec/prepare"
	TypeStart           = "codec/start"
	TypeStop            = "codec/stop"
	TypeFlush           = "codec/flush"
	TypeResume          = "codec/resume"
	TypeReset           = "codec/reset"
	TypeRelease         = "codec/release"
	TypeSetParameter    = "codec/set_parameter"
	TypeNotifyEOS       = "codec/notify_eos"
	TypeGetOutputFormat = "codec/get_output_format"
	TypeQueueInput      = "codec/queue_input"
	TypeReleaseOutput   = "codec/release_output"
	TypeResult          = "codec/result"
)

// Event message types, sent by the server with id 0
const (
	TypeInputAvailable  = "event/input"
	TypeOutputAvailable = "event/output"
	TypeFormatChanged   = "event/format"
	TypeError           = "event/error"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into a message envelope. A nil payload leaves
// the payload field empty.
func NewMessage(msgType string, id uint64, payload interface{}) (Message, error) {
	msg := Message{Type: msgType, ID: id}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.Type, err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string      `json:"server_id"`
	Name     string      `json:"name"`
	Version  int         `json:"version"`
	Codecs   []CodecInfo `json:"codecs"`
}

// CodecInfo describes one codec the server can create
type CodecInfo struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Kind int    `json:"kind"`
}

// ServerError is sent before the server drops a connection it refuses
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Create asks the server for an engine, by registry name or by mime
type Create struct {
	Name    string `json:"name,omitempty"`
	Mime    string `json:"mime,omitempty"`
	Encoder bool   `json:"encoder,omitempty"`
}

// Result answers a command. Code is an engine result code; Format is set for
// codec/get_output_format and Codec for codec/create.
type Result struct {
	Code   int32      `json:"code"`
	Format WireFormat `json:"format,omitempty"`
	Codec  *CodecInfo `json:"codec,omitempty"`
}

// FormatPayload carries a format for codec/configure, codec/set_parameter and
// event/format
type FormatPayload struct {
	Format WireFormat `json:"format"`
}

// QueueInput hands a filled input buffer to the server. Data holds the valid
// region only; the server writes it at Attr.Offset.
type QueueInput struct {
	Index uint32           `json:"index"`
	Attr  codec.BufferAttr `json:"attr"`
	Data  []byte           `json:"data,omitempty"`
}

// ReleaseOutput hands an output buffer back to the server
type ReleaseOutput struct {
	Index  uint32 `json:"index"`
	Render bool   `json:"render,omitempty"`
}

// InputAvailable announces an input buffer the client may fill
type InputAvailable struct {
	Index    uint32 `json:"index"`
	Capacity int    `json:"capacity"`
}

// OutputAvailable announces a filled output buffer. Data holds the valid
// region described by Info.
type OutputAvailable struct {
	Index    uint32           `json:"index"`
	Info     codec.BufferInfo `json:"info"`
	Flags    codec.BufferFlag `json:"flags"`
	Capacity int              `json:"capacity"`
	Data     []byte           `json:"data,omitempty"`
}

// ErrorEvent reports an asynchronous engine error
type ErrorEvent struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}
