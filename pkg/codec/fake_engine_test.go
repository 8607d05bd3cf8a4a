// ABOUTME: Scriptable in-memory engine for codec tests
// ABOUTME: Lets tests fire engine callbacks and inject engine failures
package codec

import (
	"sync"
)

type fakeBuffer struct {
	data []byte
}

func (b *fakeBuffer) Bytes() []byte { return b.data }

type fakeEngine struct {
	mu       sync.Mutex
	inputs   map[uint32]*fakeBuffer
	outputs  map[uint32]*fakeBuffer
	failures map[string]error
	hooks    map[string]func()
	calls    []string
	queued   []BufferAttr
	format   Format
	cb       EngineCallback
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		inputs:   make(map[uint32]*fakeBuffer),
		outputs:  make(map[uint32]*fakeBuffer),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
		format:   Format{KeyMime: "audio/raw", KeySampleRate: 48000},
	}
}

func (e *fakeEngine) setInput(index uint32, size int) *fakeBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := &fakeBuffer{data: make([]byte, size)}
	e.inputs[index] = b
	return b
}

func (e *fakeEngine) setOutput(index uint32, data []byte) *fakeBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := &fakeBuffer{data: data}
	e.outputs[index] = b
	return b
}

func (e *fakeEngine) fail(call string, code EngineCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code == CodeOK {
		delete(e.failures, call)
		return
	}
	e.failures[call] = code
}

// during runs fn inside the named engine call, without any engine lock held
func (e *fakeEngine) during(call string, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[call] = fn
}

func (e *fakeEngine) callback() EngineCallback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

func (e *fakeEngine) called() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) run(call string) error {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	hook := e.hooks[call]
	err := e.failures[call]
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (e *fakeEngine) Configure(Format) error    { return e.run("configure") }
func (e *fakeEngine) Prepare() error            { return e.run("prepare") }
func (e *fakeEngine) Start() error              { return e.run("start") }
func (e *fakeEngine) Stop() error               { return e.run("stop") }
func (e *fakeEngine) Flush() error              { return e.run("flush") }
func (e *fakeEngine) Reset() error              { return e.run("reset") }
func (e *fakeEngine) Release() error            { return e.run("release") }
func (e *fakeEngine) SetParameter(Format) error { return e.run("set_parameter") }

func (e *fakeEngine) GetInputBuffer(index uint32) Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.inputs[index]; ok {
		return b
	}
	return nil
}

func (e *fakeEngine) GetOutputBuffer(index uint32) Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.outputs[index]; ok {
		return b
	}
	return nil
}

func (e *fakeEngine) QueueInputBuffer(index uint32, attr BufferAttr) error {
	if err := e.run("queue_input"); err != nil {
		return err
	}
	e.mu.Lock()
	e.queued = append(e.queued, attr)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) ReleaseOutputBuffer(uint32, bool) error { return e.run("release_output") }

func (e *fakeEngine) SetCallback(cb EngineCallback) error {
	if err := e.run("set_callback"); err != nil {
		return err
	}
	e.mu.Lock()
	e.cb = cb
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) GetOutputFormat() (Format, error) {
	if err := e.run("get_output_format"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format, nil
}

// eosEngine adds end-of-stream notification and flush resumption
type eosEngine struct {
	*fakeEngine
}

func (e eosEngine) NotifyEndOfStream() error { return e.run("notify_eos") }
func (e eosEngine) ResumeAfterFlush() error  { return e.run("resume") }

// recorder collects client callbacks
type recorder struct {
	mu      sync.Mutex
	inputs  []*BufferHandle
	outputs []BufferAttr
	formats []Format
	errors  []error
	onInput func(index uint32, h *BufferHandle)
}

func (r *recorder) callbacks(userData any) *Callbacks {
	return &Callbacks{
		OnError: func(_ *Session, err error, _ any) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
		OnFormatChanged: func(_ *Session, view *FormatView, _ any) {
			r.mu.Lock()
			r.formats = append(r.formats, view.Snapshot())
			r.mu.Unlock()
		},
		OnNeedInputData: func(_ *Session, index uint32, h *BufferHandle, _ any) {
			r.mu.Lock()
			r.inputs = append(r.inputs, h)
			hook := r.onInput
			r.mu.Unlock()
			if hook != nil {
				hook(index, h)
			}
		},
		OnNeedOutputData: func(_ *Session, _ uint32, _ *BufferHandle, attr BufferAttr, _ any) {
			r.mu.Lock()
			r.outputs = append(r.outputs, attr)
			r.mu.Unlock()
		},
		UserData: userData,
	}
}

func (r *recorder) counts() (inputs, outputs, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs), len(r.outputs), len(r.errors)
}
