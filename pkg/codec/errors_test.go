// ABOUTME: Tests for engine code translation
// ABOUTME: Verifies the static code table and error wrapping
package codec

import (
	"errors"
	"fmt"
	"testing"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		result error
		want   error
		code   EngineCode
	}{
		{"nil result", nil, nil, CodeOK},
		{"ok code", CodeOK, nil, CodeOK},
		{"no memory", CodeNoMemory, ErrNoMemory, CodeNoMemory},
		{"invalid operation", CodeInvalidOperation, ErrOperationNotPermitted, CodeInvalidOperation},
		{"invalid value", CodeInvalidValue, ErrInvalidArgument, CodeInvalidValue},
		{"invalid state", CodeInvalidState, ErrInvalidState, CodeInvalidState},
		{"service died", CodeServiceDied, ErrServiceDied, CodeServiceDied},
		{"unsupported sample rate", CodeUnsupportedAudioSampleRate, ErrUnsupported, CodeUnsupportedAudioSampleRate},
		{"decode failed", CodeAudioDecodeFailed, ErrUnknown, CodeAudioDecodeFailed},
		{"file access", CodeFileAccessFailed, ErrIO, CodeFileAccessFailed},
		{"timeout", CodeNetworkTimeout, ErrTimeout, CodeNetworkTimeout},
		{"unmapped code", EngineCode(77), ErrUnknown, EngineCode(77)},
		{"extended code", CodeExtendStart + 5, ErrUnknown, CodeExtendStart + 5},
		{"wrapped code", fmt.Errorf("engine: %w", CodeInvalidState), ErrInvalidState, CodeInvalidState},
		{"foreign error", errors.New("boom"), ErrUnknown, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Translate("stop", tt.result)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := CodeOf(err); got != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, got)
			}
		})
	}
}

func TestEngineCodeError(t *testing.T) {
	tests := []struct {
		code EngineCode
		want string
	}{
		{CodeOK, "success"},
		{CodeServiceDied, "avcodec service died"},
		{CodeExtendStart + 3, "extend error:3"},
		{EngineCode(-2), "invalid error code:-2"},
	}

	for _, tt := range tests {
		if got := tt.code.Error(); got != tt.want {
			t.Errorf("code %d: expected %q, got %q", tt.code, tt.want, got)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Translate("flush", CodeInvalidOperation)
	want := "codec flush: operation not be permitted (engine: operation not be permitted)"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	plain := newError("start", ErrInvalidState)
	if plain.Error() != "codec start: the state is not support this operation" {
		t.Errorf("unexpected message %q", plain.Error())
	}
}

func TestCodeOfKindOnly(t *testing.T) {
	if got := CodeOf(newError("push_input", ErrInvalidArgument)); got != CodeInvalidValue {
		t.Errorf("expected CodeInvalidValue, got %d", got)
	}
	if got := CodeOf(nil); got != CodeOK {
		t.Errorf("expected CodeOK, got %d", got)
	}
	if got := CodeOf(errors.New("x")); got != CodeUnknown {
		t.Errorf("expected CodeUnknown, got %d", got)
	}
}
