// ABOUTME: Software codec engine with fixed buffer pools and a worker goroutine
// ABOUTME: Implements codec.Engine on top of a Processor
package soft

import (
	"errors"
	"log"
	"sync"

	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
)

// Config holds engine configuration
type Config struct {
	Name            string
	Kind            codec.Kind
	InputBuffers    int // default 4
	OutputBuffers   int // default 4
	InputBufferSize int // default 16384, codec.KeyMaxInputSize wins when set
	Debug           bool
}

type engineState int

const (
	stateIdle engineState = iota
	stateConfigured
	stateRunning
	stateReleased
)

// slot is an engine buffer. Pointer identity is what sessions key on.
type slot struct {
	data []byte
}

func (s *slot) Bytes() []byte { return s.data }

type job struct {
	index uint32
	data  []byte
	attr  codec.BufferAttr
}

// Engine runs a Processor on its own goroutine. Input buffers are announced
// when the engine starts and again after each one is consumed; outputs are
// announced as they are produced, one per free output buffer.
type Engine struct {
	config Config
	proc   Processor

	// opMu serializes lifecycle calls, procMu serializes processor calls,
	// mu guards everything below
	opMu   sync.Mutex
	procMu sync.Mutex
	mu     sync.Mutex

	state    engineState
	flushing bool
	cb       codec.EngineCallback

	inputs   []*slot
	outputs  []*slot
	inOwned  []bool // announced to the client, not yet queued
	outReady []bool // delivered to the client, not yet released

	formatDesc string
	format     codec.Format
	basePts    int64
	havePts    bool
	frames     int64

	jobs     chan job
	announce chan uint32
	freeOut  chan uint32
	stop     chan struct{}
	done     chan struct{}
}

// NewEngine creates an engine around proc
func NewEngine(config Config, proc Processor) *Engine {
	if config.InputBuffers <= 0 {
		config.InputBuffers = 4
	}
	if config.OutputBuffers <= 0 {
		config.OutputBuffers = 4
	}
	if config.InputBufferSize <= 0 {
		config.InputBufferSize = 16384
	}
	if config.Name == "" {
		config.Name = config.Kind.String()
	}
	return &Engine{config: config, proc: proc}
}

// Configure opens the processor and allocates the buffer pools
func (e *Engine) Configure(format codec.Format) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != stateIdle {
		return codec.CodeInvalidState
	}

	if err := e.withProc(func() error { return e.proc.Open(format) }); err != nil {
		log.Printf("%s: configure failed: %v", e.config.Name, err)
		return codeOr(err, codec.CodeUnsupportedAudioParams)
	}

	inSize := e.config.InputBufferSize
	if n, ok := format.Int(codec.KeyMaxInputSize); ok && n > 0 {
		inSize = n
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = make([]*slot, e.config.InputBuffers)
	for i := range e.inputs {
		e.inputs[i] = &slot{data: make([]byte, inSize)}
	}
	e.outputs = make([]*slot, e.config.OutputBuffers)
	for i := range e.outputs {
		e.outputs[i] = &slot{}
	}
	e.inOwned = make([]bool, len(e.inputs))
	e.outReady = make([]bool, len(e.outputs))
	e.jobs = make(chan job, len(e.inputs))
	e.announce = make(chan uint32, len(e.inputs))
	e.freeOut = make(chan uint32, len(e.outputs))
	for i := range e.outputs {
		e.freeOut <- uint32(i)
	}
	e.state = stateConfigured

	if e.config.Debug {
		log.Printf("[DEBUG] %s: configured %s (%d x %d bytes in, %d out)",
			e.config.Name, format.Describe(), len(e.inputs), inSize, len(e.outputs))
	}
	return nil
}

// Prepare is a no-op once configured
func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConfigured {
		return codec.CodeInvalidState
	}
	return nil
}

// Start launches the worker and announces every input buffer
func (e *Engine) Start() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != stateConfigured {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	e.state = stateRunning
	e.resetTimingLocked()
	e.mu.Unlock()

	e.startWorker()
	e.announceAll()
	log.Printf("%s: started", e.config.Name)
	return nil
}

// Stop halts the worker and reclaims every buffer
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	e.state = stateConfigured
	e.mu.Unlock()

	e.stopWorker()
	e.reclaim()
	if err := e.withProc(e.proc.Reset); err != nil {
		return codeOr(err, codec.CodeStopFailed)
	}
	log.Printf("%s: stopped", e.config.Name)
	return nil
}

// Flush drops queued work and reclaims every buffer. Inputs are announced
// again by ResumeAfterFlush.
func (e *Engine) Flush() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	e.flushing = true
	e.mu.Unlock()

	e.stopWorker()
	e.reclaim()
	err := e.withProc(e.proc.Reset)

	e.mu.Lock()
	e.flushing = false
	e.resetTimingLocked()
	e.mu.Unlock()

	e.startWorker()
	if err != nil {
		return codeOr(err, codec.CodeUnknown)
	}
	if e.config.Debug {
		log.Printf("[DEBUG] %s: flushed", e.config.Name)
	}
	return nil
}

// ResumeAfterFlush announces every input buffer again
func (e *Engine) ResumeAfterFlush() error {
	e.mu.Lock()
	running := e.state == stateRunning
	e.mu.Unlock()
	if !running {
		return codec.CodeInvalidState
	}
	e.announceAll()
	return nil
}

// Reset stops the engine if needed and returns it to the unconfigured state
func (e *Engine) Reset() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.resetLocked(stateIdle)
}

// Release resets the engine for good
func (e *Engine) Release() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.resetLocked(stateReleased)
}

func (e *Engine) resetLocked(final engineState) error {
	e.mu.Lock()
	if e.state == stateReleased {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	wasRunning := e.state == stateRunning
	wasConfigured := e.state != stateIdle
	e.state = final
	if final == stateReleased {
		e.cb = nil
	}
	e.mu.Unlock()

	if wasRunning {
		e.stopWorker()
	}

	var err error
	if wasConfigured {
		err = e.withProc(e.proc.Close)
	}

	e.mu.Lock()
	e.inputs, e.outputs = nil, nil
	e.inOwned, e.outReady = nil, nil
	e.formatDesc, e.format = "", nil
	e.mu.Unlock()

	if err != nil {
		log.Printf("%s: close failed: %v", e.config.Name, err)
		return codeOr(err, codec.CodeUnknown)
	}
	return nil
}

// SetParameter forwards runtime changes to processors that accept them
func (e *Engine) SetParameter(format codec.Format) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != stateRunning && state != stateConfigured {
		return codec.CodeInvalidState
	}
	setter, ok := e.proc.(ParameterSetter)
	if !ok {
		return codec.CodeUnsupported
	}
	if err := e.withProc(func() error { return setter.SetParameter(format) }); err != nil {
		return codeOr(err, codec.CodeInvalidValue)
	}
	return nil
}

// GetInputBuffer returns the buffer at index while the client owns it
func (e *Engine) GetInputBuffer(index uint32) codec.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(index) >= len(e.inputs) || !e.inOwned[index] {
		return nil
	}
	return e.inputs[index]
}

// GetOutputBuffer returns the buffer at index while it holds output
func (e *Engine) GetOutputBuffer(index uint32) codec.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(index) >= len(e.outputs) || !e.outReady[index] {
		return nil
	}
	return e.outputs[index]
}

// QueueInputBuffer hands a filled input buffer to the worker
func (e *Engine) QueueInputBuffer(index uint32, attr codec.BufferAttr) error {
	e.mu.Lock()
	if e.state != stateRunning || e.flushing {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	if int(index) >= len(e.inputs) || !e.inOwned[index] {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	data := e.inputs[index].data
	end := int(attr.Offset) + int(attr.Size)
	if attr.Offset < 0 || attr.Size < 0 || end > len(data) {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	j := job{index: index, data: append([]byte(nil), data[attr.Offset:end]...), attr: attr}
	select {
	case e.jobs <- j:
	default:
		e.mu.Unlock()
		return codec.CodeNoMemory
	}
	e.inOwned[index] = false
	e.mu.Unlock()
	return nil
}

// ReleaseOutputBuffer returns an output buffer to the pool. Software engines
// have no surface, so render is ignored.
func (e *Engine) ReleaseOutputBuffer(index uint32, render bool) error {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	if int(index) >= len(e.outputs) || !e.outReady[index] {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	e.outReady[index] = false
	select {
	case e.freeOut <- index:
	default:
	}
	e.mu.Unlock()
	return nil
}

// SetCallback registers the notification sink
func (e *Engine) SetCallback(cb codec.EngineCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateReleased {
		return codec.CodeInvalidState
	}
	e.cb = cb
	return nil
}

// GetOutputFormat returns the processor's output format, empty until known
func (e *Engine) GetOutputFormat() (codec.Format, error) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == stateIdle || state == stateReleased {
		return nil, codec.CodeInvalidState
	}
	if f := e.outputFormat(); f != nil {
		return f.Clone(), nil
	}
	return codec.Format{}, nil
}

func (e *Engine) startWorker() {
	e.mu.Lock()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.run(stop, done)
}

func (e *Engine) stopWorker() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// reclaim takes every buffer back from the client and drops queued work.
// Only called with the worker stopped.
func (e *Engine) reclaim() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		select {
		case <-e.jobs:
			continue
		case <-e.announce:
			continue
		case <-e.freeOut:
			continue
		default:
		}
		break
	}
	for i := range e.inOwned {
		e.inOwned[i] = false
	}
	for i := range e.outReady {
		e.outReady[i] = false
		e.freeOut <- uint32(i)
	}
}

func (e *Engine) announceAll() {
	e.mu.Lock()
	announce := e.announce
	n := len(e.inputs)
	e.mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case announce <- uint32(i):
		default:
		}
	}
}

func (e *Engine) resetTimingLocked() {
	e.havePts = false
	e.basePts = 0
	e.frames = 0
}

func (e *Engine) callback() codec.EngineCallback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

func (e *Engine) run(stop, done chan struct{}) {
	defer close(done)

	e.mu.Lock()
	jobs, announce := e.jobs, e.announce
	e.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case index := <-announce:
			e.offerInput(index)
		case j := <-jobs:
			if !e.process(j, stop) {
				return
			}
		}
	}
}

func (e *Engine) offerInput(index uint32) {
	e.mu.Lock()
	if e.state != stateRunning || int(index) >= len(e.inOwned) {
		e.mu.Unlock()
		return
	}
	e.inOwned[index] = true
	cb := e.cb
	e.mu.Unlock()

	if cb != nil {
		cb.OnInputBufferAvailable(index)
	}
}

func (e *Engine) process(j job, stop chan struct{}) bool {
	eos := j.attr.Flags.Has(codec.FlagEndOfStream)

	var units []Unit
	if len(j.data) > 0 && !j.attr.Flags.Has(codec.FlagCodecConfig) {
		var out []Unit
		err := e.withProc(func() (err error) {
			out, err = e.proc.Process(j.data)
			return err
		})
		if err != nil {
			e.fail(err)
		}
		units = append(units, out...)
	}
	if eos {
		var out []Unit
		err := e.withProc(func() (err error) {
			out, err = e.proc.Drain()
			return err
		})
		if err != nil {
			e.fail(err)
		}
		units = append(units, out...)
		if e.config.Debug {
			log.Printf("[DEBUG] %s: end of stream at input %d, %d trailing units", e.config.Name, j.index, len(out))
		}
	}

	e.announceFormat()

	if eos && len(units) == 0 {
		units = append(units, Unit{})
	}
	for i, u := range units {
		flags := codec.FlagNone
		if eos && i == len(units)-1 {
			flags = codec.FlagEndOfStream
		}
		if !e.emit(u, flags, j.attr.PresentationTimeUs, stop) {
			return false
		}
	}

	if !eos {
		e.offerInput(j.index)
	}
	return true
}

func (e *Engine) emit(u Unit, flags codec.BufferFlag, inPts int64, stop chan struct{}) bool {
	e.mu.Lock()
	free := e.freeOut
	e.mu.Unlock()

	var index uint32
	select {
	case <-stop:
		return false
	case index = <-free:
	}

	e.mu.Lock()
	if e.state != stateRunning || int(index) >= len(e.outputs) {
		e.mu.Unlock()
		return false
	}
	out := e.outputs[index]
	if cap(out.data) < len(u.Data) {
		out.data = make([]byte, len(u.Data))
	}
	out.data = out.data[:len(u.Data)]
	copy(out.data, u.Data)

	if !e.havePts {
		e.basePts = inPts
		e.havePts = true
	}
	pts := inPts
	if rate, ok := e.format.Int(codec.KeySampleRate); ok && rate > 0 {
		pts = e.basePts + e.frames*1000000/int64(rate)
	}
	e.frames += int64(u.Frames)

	e.outReady[index] = true
	cb := e.cb
	e.mu.Unlock()

	if cb != nil {
		cb.OnOutputBufferAvailable(index, codec.BufferInfo{
			PresentationTimeUs: pts,
			Size:               int32(len(u.Data)),
		}, flags)
	}
	return true
}

func (e *Engine) announceFormat() {
	f := e.outputFormat()
	if f == nil {
		return
	}
	desc := f.Describe()

	e.mu.Lock()
	if desc == e.formatDesc {
		e.mu.Unlock()
		return
	}
	e.formatDesc = desc
	e.format = f.Clone()
	cb := e.cb
	e.mu.Unlock()

	log.Printf("%s: output format %s", e.config.Name, desc)
	if cb != nil {
		cb.OnOutputFormatChanged(f.Clone())
	}
}

func (e *Engine) withProc(fn func() error) error {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return fn()
}

func (e *Engine) outputFormat() codec.Format {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return e.proc.OutputFormat()
}

func (e *Engine) fail(err error) {
	code := codec.CodeAudioDecodeFailed
	if e.config.Kind.IsEncoder() {
		code = codec.CodeAudioEncodeFailed
	}
	code = codeOr(err, code)
	log.Printf("%s: processing failed: %v", e.config.Name, err)

	if cb := e.callback(); cb != nil {
		cb.OnError(code)
	}
}

// codeOr returns the engine code carried by err, or fallback
func codeOr(err error, fallback codec.EngineCode) codec.EngineCode {
	var code codec.EngineCode
	if errors.As(err, &code) {
		return code
	}
	return fallback
}
