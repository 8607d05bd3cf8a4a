// ABOUTME: Tests for codec service protocol messages
// ABOUTME: Verifies envelopes and typed format values survive JSON
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

func TestMessageEnvelope(t *testing.T) {
	msg, err := NewMessage(TypeQueueInput, 7, QueueInput{
		Index: 2,
		Attr:  codec.BufferAttr{PresentationTimeUs: 40, Size: 3, Flags: codec.FlagEndOfStream},
		Data:  []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeQueueInput || decoded.ID != 7 {
		t.Fatalf("unexpected envelope %s/%d", decoded.Type, decoded.ID)
	}

	var q QueueInput
	if err := decoded.Decode(&q); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if q.Index != 2 || q.Attr.Size != 3 || !q.Attr.Flags.Has(codec.FlagEndOfStream) {
		t.Errorf("unexpected payload %+v", q)
	}
	if string(q.Data) != "\x01\x02\x03" {
		t.Errorf("data mismatch: %v", q.Data)
	}
}

func TestMessageWithoutPayload(t *testing.T) {
	msg, err := NewMessage(TypeStart, 1, nil)
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}
	if msg.Payload != nil {
		t.Errorf("expected empty payload, got %s", msg.Payload)
	}

	var r Result
	if err := msg.Decode(&r); err == nil {
		t.Error("expected error decoding a missing payload")
	}
}

func TestWireFormatKeepsTypes(t *testing.T) {
	in := codec.Format{
		codec.KeyMime:        "audio/opus",
		codec.KeySampleRate:  48000,
		codec.KeyFrameRate:   29.97,
		codec.KeyCodecConfig: []byte{0xde, 0xad},
		"empty":              []byte{},
	}

	data, err := json.Marshal(FormatPayload{Format: EncodeFormat(in)})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var p FormatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	out := p.Format.Format()

	if rate, ok := out[codec.KeySampleRate].(int); !ok || rate != 48000 {
		t.Errorf("sample rate came back as %T %v", out[codec.KeySampleRate], out[codec.KeySampleRate])
	}
	if fps, ok := out.Float(codec.KeyFrameRate); !ok || fps != 29.97 {
		t.Errorf("frame rate came back as %v", out[codec.KeyFrameRate])
	}
	if cfg, ok := out.Bytes(codec.KeyCodecConfig); !ok || len(cfg) != 2 || cfg[0] != 0xde {
		t.Errorf("codec config came back as %T %v", out[codec.KeyCodecConfig], out[codec.KeyCodecConfig])
	}
	if b, ok := out.Bytes("empty"); !ok || len(b) != 0 {
		t.Errorf("empty bytes came back as %T", out["empty"])
	}
	if mime, _ := out.String(codec.KeyMime); mime != "audio/opus" {
		t.Errorf("mime came back as %q", mime)
	}
}

func TestWireFormatNil(t *testing.T) {
	if EncodeFormat(nil) != nil {
		t.Error("expected nil wire format")
	}
	if WireFormat(nil).Format() != nil {
		t.Error("expected nil format")
	}
}
