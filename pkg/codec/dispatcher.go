// ABOUTME: Engine callback dispatcher for codec sessions
// ABOUTME: Gates, resolves and forwards engine notifications to the client
package codec

import "log"

// Callbacks is the client registration. Every function is invoked with the
// session lock held: do not call back into the Session from inside a
// callback, hand the work to another goroutine instead.
type Callbacks struct {
	// OnError reports an engine fault. Delivered in every lifecycle state.
	OnError func(s *Session, err error, userData any)

	// OnFormatChanged reports a new output format. The view is only readable
	// until the function returns; call Snapshot to keep it.
	OnFormatChanged func(s *Session, format *FormatView, userData any)

	// OnNeedInputData hands the client an empty input buffer to fill and
	// queue with PushInputBuffer.
	OnNeedInputData func(s *Session, index uint32, buf *BufferHandle, userData any)

	// OnNeedOutputData hands the client a filled output buffer to consume and
	// return with ReleaseOutputBuffer. attr is a copy owned by the callee.
	OnNeedOutputData func(s *Session, index uint32, buf *BufferHandle, attr BufferAttr, userData any)

	// UserData is passed back verbatim to every callback
	UserData any
}

func (cb *Callbacks) validate() error {
	if cb == nil || cb.OnError == nil || cb.OnFormatChanged == nil ||
		cb.OnNeedInputData == nil || cb.OnNeedOutputData == nil {
		return newError("set_callback", ErrInvalidArgument)
	}
	return nil
}

// DispatchStats counts what happened to engine notifications
type DispatchStats struct {
	InputDelivered    uint64
	OutputDelivered   uint64
	FormatDelivered   uint64
	ErrorsDelivered   uint64
	DroppedDetached   uint64 // no client attached
	DroppedGated      uint64 // lifecycle state closed the gate
	DroppedUnresolved uint64 // engine had no buffer at the index
}

// Dispatcher is the EngineCallback a session registers with its engine. All
// entry points serialize on the session lock.
type Dispatcher struct {
	session *Session
	client  *Callbacks
}

func newDispatcher(s *Session, cb *Callbacks) *Dispatcher {
	return &Dispatcher{session: s, client: cb}
}

// OnInputBufferAvailable forwards an empty input buffer to the client
func (d *Dispatcher) OnInputBufferAvailable(index uint32) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()

	client := d.client
	if client == nil {
		s.stats.DroppedDetached++
		return
	}
	if !s.gate.MayDeliverInput() {
		s.stats.DroppedGated++
		if s.debug {
			log.Printf("[DEBUG] codec %s: input %d dropped (state=%v, eos=%v)",
				s.id, index, s.gate.State(), s.gate.EndOfStream())
		}
		return
	}
	handle, ok := s.cache.ResolveInput(index)
	if !ok {
		s.stats.DroppedUnresolved++
		return
	}

	s.stats.InputDelivered++
	client.OnNeedInputData(s, index, handle, client.UserData)
}

// OnOutputBufferAvailable forwards a filled output buffer to the client
func (d *Dispatcher) OnOutputBufferAvailable(index uint32, info BufferInfo, flags BufferFlag) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()

	client := d.client
	if client == nil {
		s.stats.DroppedDetached++
		return
	}
	if !s.gate.MayDeliverOutput() {
		s.stats.DroppedGated++
		if s.debug {
			log.Printf("[DEBUG] codec %s: output %d dropped (state=%v)", s.id, index, s.gate.State())
		}
		return
	}
	handle, ok := s.cache.ResolveOutput(index)
	if !ok {
		s.stats.DroppedUnresolved++
		return
	}

	s.stats.OutputDelivered++
	client.OnNeedOutputData(s, index, handle, attrFromInfo(info, flags), client.UserData)
}

// OnOutputFormatChanged hands the client a view that expires on return
func (d *Dispatcher) OnOutputFormatChanged(format Format) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()

	client := d.client
	if client == nil {
		s.stats.DroppedDetached++
		return
	}

	view := newFormatView(format)
	defer view.expire()

	s.stats.FormatDelivered++
	client.OnFormatChanged(s, view, client.UserData)
}

// OnError forwards an engine fault regardless of lifecycle state
func (d *Dispatcher) OnError(code EngineCode) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()

	client := d.client
	if client == nil {
		s.stats.DroppedDetached++
		return
	}

	err := Translate("engine", code)
	if err == nil {
		err = &Error{Op: "engine", Kind: ErrUnknown, Code: code}
	}

	s.stats.ErrorsDelivered++
	client.OnError(s, err, client.UserData)
}

// Detach drops the client. Notifications that start after Detach returns
// never reach client code.
func (d *Dispatcher) Detach() {
	d.session.mu.Lock()
	d.detachLocked()
	d.session.mu.Unlock()
}

func (d *Dispatcher) detachLocked() {
	d.client = nil
}

// replace swaps the client; callers hold the session lock
func (d *Dispatcher) replace(cb *Callbacks) {
	d.client = cb
}
