// ABOUTME: Processor interface for software codec engines
// ABOUTME: The algorithm half of a soft engine; the engine owns buffers and threading
package soft

import "github.com/Resonate-Protocol/avcodec-go/pkg/codec"

// Unit is one block of processed output
type Unit struct {
	Data   []byte
	Frames int // samples per channel carried by Data
}

// Processor turns input units into output units. It is only ever called from
// the engine's worker goroutine or while the worker is stopped.
type Processor interface {
	// Open prepares the processor for the configured input format
	Open(format codec.Format) error

	// Process consumes one input unit and returns the output ready so far
	Process(data []byte) ([]Unit, error)

	// Drain returns the remaining output at end of stream
	Drain() ([]Unit, error)

	// Reset drops buffered state, keeping the configuration
	Reset() error

	// OutputFormat describes the output; nil until it is known
	OutputFormat() codec.Format

	// Close releases the processor
	Close() error
}

// ParameterSetter is implemented by processors that accept runtime
// parameter changes
type ParameterSetter interface {
	SetParameter(format codec.Format) error
}
