// ABOUTME: Error taxonomy for codec sessions
// ABOUTME: Translates engine result codes into client-facing error kinds
package codec

import (
	"errors"
	"fmt"
)

// Client-facing error kinds. Every error returned by a Session wraps exactly
// one of these, so callers test with errors.Is.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidState          = errors.New("the state is not support this operation")
	ErrNoMemory              = errors.New("no memory")
	ErrOperationNotPermitted = errors.New("operation not be permitted")
	ErrUnknown               = errors.New("unknown error")
	ErrUnsupported           = errors.New("unsupported interface")
	ErrServiceDied           = errors.New("avcodec service died")
	ErrTimeout               = errors.New("timeout")
	ErrIO                    = errors.New("io error")
)

// EngineCode is the numeric result an engine reports. It implements error so
// engines can return codes directly.
type EngineCode int32

// Engine result codes
const (
	CodeOK EngineCode = iota
	CodeNoMemory
	CodeInvalidOperation
	CodeInvalidValue
	CodeUnknown
	CodeServiceDied
	CodeInvalidState
	CodeUnsupported
	CodeUnsupportedAudioSampleRate
	CodeUnsupportedAudioChannels
	CodeUnsupportedAudioEncoder
	CodeUnsupportedAudioDecoder
	CodeUnsupportedAudioParams
	CodeUnsupportedVideoEncoder
	CodeUnsupportedVideoDecoder
	CodeUnsupportedVideoParams
	CodeUnsupportedStream
	CodeAudioEncodeFailed
	CodeAudioDecodeFailed
	CodeVideoEncodeFailed
	CodeVideoDecodeFailed
	CodeStartFailed
	CodeStopFailed
	CodeOpenFileFailed
	CodeFileAccessFailed
	CodeNetworkTimeout

	// CodeExtendStart is the first vendor-specific code. Codes above it are
	// reported as extended errors and translate to ErrUnknown.
	CodeExtendStart EngineCode = 1000
)

var engineCodeMessages = map[EngineCode]string{
	CodeOK:                         "success",
	CodeNoMemory:                   "no memory",
	CodeInvalidOperation:           "operation not be permitted",
	CodeInvalidValue:               "invalid argument",
	CodeUnknown:                    "unknown error",
	CodeServiceDied:                "avcodec service died",
	CodeInvalidState:               "the state is not support this operation",
	CodeUnsupported:                "unsupport interface",
	CodeUnsupportedAudioSampleRate: "unsupport audio sample rate",
	CodeUnsupportedAudioChannels:   "unsupport audio channel",
	CodeUnsupportedAudioEncoder:    "unsupport audio encoder type",
	CodeUnsupportedAudioDecoder:    "unsupport audio decoder type",
	CodeUnsupportedAudioParams:     "unsupport audio params(other params)",
	CodeUnsupportedVideoEncoder:    "unsupport video encoder type",
	CodeUnsupportedVideoDecoder:    "unsupport video decoder type",
	CodeUnsupportedVideoParams:     "unsupport video params(other params)",
	CodeUnsupportedStream:          "internal data stream error",
	CodeAudioEncodeFailed:          "audio encode failed",
	CodeAudioDecodeFailed:          "audio decode failed",
	CodeVideoEncodeFailed:          "video encode failed",
	CodeVideoDecodeFailed:          "video decode failed",
	CodeStartFailed:                "audio or video start failed",
	CodeStopFailed:                 "audio or video stop failed",
	CodeOpenFileFailed:             "open file failed",
	CodeFileAccessFailed:           "read or write file failed",
	CodeNetworkTimeout:             "network timeout",
	CodeExtendStart:                "extend start error code",
}

// engineCodeKinds is the static translation table. Codes missing from it map
// to ErrUnknown.
var engineCodeKinds = map[EngineCode]error{
	CodeNoMemory:                   ErrNoMemory,
	CodeInvalidOperation:           ErrOperationNotPermitted,
	CodeInvalidValue:               ErrInvalidArgument,
	CodeUnknown:                    ErrUnknown,
	CodeServiceDied:                ErrServiceDied,
	CodeInvalidState:               ErrInvalidState,
	CodeUnsupported:                ErrUnsupported,
	CodeUnsupportedAudioSampleRate: ErrUnsupported,
	CodeUnsupportedAudioChannels:   ErrUnsupported,
	CodeUnsupportedAudioEncoder:    ErrUnsupported,
	CodeUnsupportedAudioDecoder:    ErrUnsupported,
	CodeUnsupportedAudioParams:     ErrUnsupported,
	CodeUnsupportedVideoEncoder:    ErrUnsupported,
	CodeUnsupportedVideoDecoder:    ErrUnsupported,
	CodeUnsupportedVideoParams:     ErrUnsupported,
	CodeUnsupportedStream:          ErrUnsupported,
	CodeAudioEncodeFailed:          ErrUnknown,
	CodeAudioDecodeFailed:          ErrUnknown,
	CodeVideoEncodeFailed:          ErrUnknown,
	CodeVideoDecodeFailed:          ErrUnknown,
	CodeStartFailed:                ErrUnknown,
	CodeStopFailed:                 ErrUnknown,
	CodeOpenFileFailed:             ErrUnknown,
	CodeFileAccessFailed:           ErrIO,
	CodeNetworkTimeout:             ErrTimeout,
}

// Error returns the message registered for the code
func (c EngineCode) Error() string {
	if msg, ok := engineCodeMessages[c]; ok {
		return msg
	}
	if c > CodeExtendStart {
		return fmt.Sprintf("extend error:%d", int32(c-CodeExtendStart))
	}
	return fmt.Sprintf("invalid error code:%d", int32(c))
}

// Kind returns the client-facing error kind for the code, or nil for CodeOK
func (c EngineCode) Kind() error {
	if c == CodeOK {
		return nil
	}
	if kind, ok := engineCodeKinds[c]; ok {
		return kind
	}
	return ErrUnknown
}

// Error is returned by Session operations
type Error struct {
	Op   string     // Session operation, e.g. "stop"
	Kind error      // One of the Err* kinds above
	Code EngineCode // Engine code when the failure came from the engine, else CodeOK
}

func (e *Error) Error() string {
	if e.Code != CodeOK {
		return fmt.Sprintf("codec %s: %v (engine: %v)", e.Op, e.Kind, e.Code)
	}
	return fmt.Sprintf("codec %s: %v", e.Op, e.Kind)
}

// Unwrap exposes the kind to errors.Is
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(op string, kind error) *Error {
	return &Error{Op: op, Kind: kind}
}

// Translate maps an engine result onto the taxonomy. A nil result stays nil.
// EngineCode values go through the static table; any other error is Unknown.
func Translate(op string, result error) error {
	if result == nil {
		return nil
	}
	var code EngineCode
	if !errors.As(result, &code) {
		return &Error{Op: op, Kind: ErrUnknown, Code: CodeUnknown}
	}
	kind := code.Kind()
	if kind == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Code: code}
}

// notPermitted rewrites a translated failure as OperationNotPermitted,
// keeping the engine code
func notPermitted(err error) error {
	var cerr *Error
	if !errors.As(err, &cerr) {
		return err
	}
	return &Error{Op: cerr.Op, Kind: ErrOperationNotPermitted, Code: cerr.Code}
}

// CodeOf extracts the engine code from an error returned by this package or
// by an engine. Errors without a code report CodeUnknown; nil reports CodeOK.
func CodeOf(err error) EngineCode {
	if err == nil {
		return CodeOK
	}
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Code != CodeOK {
		return cerr.Code
	}
	var code EngineCode
	if errors.As(err, &code) {
		return code
	}
	if cerr != nil {
		return codeForKind(cerr.Kind)
	}
	return CodeUnknown
}

func codeForKind(kind error) EngineCode {
	switch kind {
	case ErrInvalidArgument:
		return CodeInvalidValue
	case ErrInvalidState:
		return CodeInvalidState
	case ErrNoMemory:
		return CodeNoMemory
	case ErrOperationNotPermitted:
		return CodeInvalidOperation
	case ErrUnsupported:
		return CodeUnsupported
	case ErrServiceDied:
		return CodeServiceDied
	case ErrTimeout:
		return CodeNetworkTimeout
	case ErrIO:
		return CodeFileAccessFailed
	default:
		return CodeUnknown
	}
}
