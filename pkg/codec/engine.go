// ABOUTME: Engine-side contracts consumed by codec sessions
// ABOUTME: Defines Engine, EngineCallback, Buffer and codec kinds
package codec

// Kind identifies what a codec does
type Kind int

const (
	AudioDecoder Kind = iota
	AudioEncoder
	VideoDecoder
	VideoEncoder
)

func (k Kind) String() string {
	switch k {
	case AudioDecoder:
		return "audio-decoder"
	case AudioEncoder:
		return "audio-encoder"
	case VideoDecoder:
		return "video-decoder"
	case VideoEncoder:
		return "video-encoder"
	default:
		return "unknown"
	}
}

// IsEncoder reports whether the kind encodes
func (k Kind) IsEncoder() bool {
	return k == AudioEncoder || k == VideoEncoder
}

// Buffer is an engine-owned block of memory. Two Buffers are the same buffer
// when they compare equal with ==, so implementations must be pointer types.
type Buffer interface {
	// Bytes returns the full backing memory
	Bytes() []byte
}

// EngineCallback receives asynchronous notifications from an engine. Engines
// call it from their own goroutines.
type EngineCallback interface {
	OnError(code EngineCode)
	OnOutputFormatChanged(format Format)
	OnInputBufferAvailable(index uint32)
	OnOutputBufferAvailable(index uint32, info BufferInfo, flags BufferFlag)
}

// Engine performs the actual encode or decode. Every method returning error
// reports an EngineCode (or nil); other error values are treated as unknown.
type Engine interface {
	Configure(format Format) error
	Prepare() error
	Start() error
	Stop() error
	Flush() error
	Reset() error
	Release() error
	SetParameter(format Format) error

	// GetInputBuffer returns nil when the index has no buffer to fill
	GetInputBuffer(index uint32) Buffer
	// GetOutputBuffer returns nil when the index has no filled buffer
	GetOutputBuffer(index uint32) Buffer

	QueueInputBuffer(index uint32, attr BufferAttr) error
	ReleaseOutputBuffer(index uint32, render bool) error

	SetCallback(cb EngineCallback) error
	GetOutputFormat() (Format, error)
}

// EndOfStreamNotifier is implemented by engines whose input does not flow
// through input buffers (surface-fed video encoders).
type EndOfStreamNotifier interface {
	NotifyEndOfStream() error
}

// FlushResumer is implemented by engines that hand their input buffers back
// after a flush. The session calls it once the flush has been committed, so
// the buffers it announces are not mistaken for pre-flush stragglers.
type FlushResumer interface {
	ResumeAfterFlush() error
}
