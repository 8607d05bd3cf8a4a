// ABOUTME: Codec session lifecycle controller
// ABOUTME: Drives an engine through its lifecycle and owns the callback path
package codec

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Option configures a Session
type Option func(*Session)

// WithDebug enables [DEBUG] logging of dropped notifications and transitions
func WithDebug(debug bool) Option {
	return func(s *Session) {
		s.debug = debug
	}
}

// WithName sets the name used in logs. Defaults to the codec kind.
func WithName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.name = name
		}
	}
}

// Session wraps one engine instance. Lifecycle methods may be called from any
// goroutine but must not be called from inside a Callbacks function.
type Session struct {
	mu sync.Mutex

	id     string
	name   string
	kind   Kind
	engine Engine
	debug  bool

	gate       *StateGate
	cache      *BufferHandleCache
	dispatcher *Dispatcher
	stats      DispatchStats
}

// NewSession wraps engine in a session in the Created state
func NewSession(kind Kind, engine Engine, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, newError("create", ErrInvalidArgument)
	}

	s := &Session{
		id:     uuid.New().String(),
		name:   kind.String(),
		kind:   kind,
		engine: engine,
		gate:   NewStateGate(),
		cache:  NewBufferHandleCache(engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the unique session id
func (s *Session) ID() string { return s.id }

// Name returns the session name
func (s *Session) Name() string { return s.name }

// Kind returns the codec kind
func (s *Session) Kind() Kind { return s.kind }

// State returns the current lifecycle state
func (s *Session) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.State()
}

// EndOfStream reports whether an end-of-stream input was accepted since the
// last Start
func (s *Session) EndOfStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.EndOfStream()
}

// Stats returns a copy of the dispatch counters
func (s *Session) Stats() DispatchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Configure applies format to the engine
func (s *Session) Configure(format Format) error {
	if format == nil {
		return newError(string(OpConfigure), ErrInvalidArgument)
	}
	return s.transition(OpConfigure, func() error {
		return s.engine.Configure(format.Clone())
	})
}

// Prepare asks the engine to allocate its resources
func (s *Session) Prepare() error {
	return s.transition(OpPrepare, s.engine.Prepare)
}

// Start begins processing and clears the end-of-stream flag
func (s *Session) Start() error {
	return s.transition(OpStart, s.engine.Start)
}

// Stop halts processing. Buffer handles are released on success.
func (s *Session) Stop() error {
	return s.transition(OpStop, s.engine.Stop)
}

// Flush discards queued buffers. No buffer notification reaches the client
// while the engine flushes.
func (s *Session) Flush() error {
	if err := s.transition(OpFlush, s.engine.Flush); err != nil {
		return err
	}

	resumer, ok := s.engine.(FlushResumer)
	if !ok {
		return nil
	}
	if err := Translate(string(OpFlush), resumer.ResumeAfterFlush()); err != nil {
		log.Printf("codec %s: resume after flush failed: %v", s.name, err)
		return err
	}
	return nil
}

// Reset returns the engine to its unconfigured state
func (s *Session) Reset() error {
	return s.transition(OpReset, s.engine.Reset)
}

// SetParameter changes engine parameters while running or stopped
func (s *Session) SetParameter(format Format) error {
	if format == nil {
		return newError(string(OpSetParameter), ErrInvalidArgument)
	}
	return s.transition(OpSetParameter, func() error {
		return s.engine.SetParameter(format.Clone())
	})
}

// NotifyEndOfStream signals end of input for engines not fed through input
// buffers
func (s *Session) NotifyEndOfStream() error {
	notifier, ok := s.engine.(EndOfStreamNotifier)
	if !ok {
		return newError(string(OpNotifyEndOfStream), ErrUnsupported)
	}
	err := s.transition(OpNotifyEndOfStream, notifier.NotifyEndOfStream)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.gate.MarkEndOfStreamAccepted()
	s.mu.Unlock()
	return nil
}

// transition runs an engine call bracketed by a gate transition. The engine
// call happens without the session lock so engine goroutines can keep
// dispatching into the (gated) callback path meanwhile.
func (s *Session) transition(op Op, call func() error) error {
	s.mu.Lock()
	tr, err := s.gate.Begin(op)
	if err != nil {
		state := s.gate.State()
		s.mu.Unlock()
		if s.debug {
			log.Printf("[DEBUG] codec %s: %s rejected in state %v", s.name, op, state)
		}
		return err
	}
	s.mu.Unlock()

	result := Translate(string(op), call())
	if op == OpStop {
		// Any engine stop failure is reported as a refused transition
		result = notPermitted(result)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if result != nil {
		tr.Rollback()
		log.Printf("codec %s: %s failed: %v", s.name, op, result)
		return result
	}
	tr.Commit()
	if tr.ClearsCache() {
		s.cache.Clear()
	}
	if s.debug {
		log.Printf("[DEBUG] codec %s: %s -> %v", s.name, op, s.gate.State())
	}
	return nil
}

// SetCallback registers the client callbacks. Allowed while the engine is not
// processing; a later registration replaces the earlier one.
func (s *Session) SetCallback(cb *Callbacks) error {
	if err := cb.validate(); err != nil {
		return err
	}
	registration := *cb

	s.mu.Lock()
	if !s.gate.Idle() {
		s.mu.Unlock()
		return newError("set_callback", ErrInvalidState)
	}
	if s.dispatcher != nil {
		s.dispatcher.replace(&registration)
		s.mu.Unlock()
		return nil
	}
	d := newDispatcher(s, &registration)
	s.dispatcher = d
	s.mu.Unlock()

	if err := Translate("set_callback", s.engine.SetCallback(d)); err != nil {
		s.mu.Lock()
		if s.dispatcher == d {
			s.dispatcher = nil
		}
		s.mu.Unlock()
		log.Printf("codec %s: set callback failed: %v", s.name, err)
		return err
	}
	return nil
}

// PushInputBuffer queues a filled input buffer. An end-of-stream flag stops
// further input notifications until the next Start.
func (s *Session) PushInputBuffer(index uint32, attr BufferAttr) error {
	const op = "push_input"
	if attr.Size < 0 || attr.Offset < 0 {
		return newError(op, ErrInvalidArgument)
	}
	if err := s.requireRunning(op); err != nil {
		return err
	}

	if err := Translate(op, s.engine.QueueInputBuffer(index, attr)); err != nil {
		log.Printf("codec %s: queue input %d failed: %v", s.name, index, err)
		return err
	}

	if attr.Flags.Has(FlagEndOfStream) {
		s.mu.Lock()
		s.gate.MarkEndOfStreamAccepted()
		s.mu.Unlock()
		if s.debug {
			log.Printf("[DEBUG] codec %s: end of stream queued at input %d", s.name, index)
		}
	}
	return nil
}

// ReleaseOutputBuffer hands an output buffer back to the engine, rendering it
// first when render is true
func (s *Session) ReleaseOutputBuffer(index uint32, render bool) error {
	const op = "release_output"
	if err := s.requireRunning(op); err != nil {
		return err
	}
	if err := Translate(op, s.engine.ReleaseOutputBuffer(index, render)); err != nil {
		log.Printf("codec %s: release output %d failed: %v", s.name, index, err)
		return err
	}
	return nil
}

// OutputDescription returns a snapshot of the current engine output format
func (s *Session) OutputDescription() (Format, error) {
	const op = "output_description"
	s.mu.Lock()
	state := s.gate.State()
	s.mu.Unlock()
	if state == StateCreated || state == StateDestroyed {
		return nil, newError(op, ErrInvalidState)
	}

	format, err := s.engine.GetOutputFormat()
	if err := Translate(op, err); err != nil {
		return nil, err
	}
	return format.Clone(), nil
}

// Destroy detaches the client, drops every buffer handle and releases the
// engine. Local state is torn down even when the engine release fails.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.gate.State() == StateDestroyed {
		s.mu.Unlock()
		return newError("destroy", ErrInvalidState)
	}
	if s.dispatcher != nil {
		s.dispatcher.detachLocked()
	}
	s.cache.Clear()
	s.gate.Destroy()
	s.mu.Unlock()

	err := Translate("destroy", s.engine.Release())
	if err != nil {
		log.Printf("codec %s: engine release failed: %v", s.name, err)
	}
	if s.debug {
		st := s.Stats()
		log.Printf("[DEBUG] codec %s: destroyed (in=%d out=%d dropped=%d/%d/%d)", s.name,
			st.InputDelivered, st.OutputDelivered,
			st.DroppedDetached, st.DroppedGated, st.DroppedUnresolved)
	}
	return err
}

func (s *Session) requireRunning(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate.State() != StateRunning {
		return newError(op, ErrInvalidState)
	}
	return nil
}
