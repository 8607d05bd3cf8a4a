// ABOUTME: Lifecycle state machine for codec sessions
// ABOUTME: Validates lifecycle transitions and gates callback delivery
package codec

// LifecycleState is the session lifecycle position
type LifecycleState int

const (
	StateCreated LifecycleState = iota
	StateConfigured
	StateRunning
	StateFlushing
	StateStopped
	StateDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "invalid"
	}
}

// Op names a lifecycle command that goes through the gate
type Op string

const (
	OpConfigure         Op = "configure"
	OpPrepare           Op = "prepare"
	OpStart             Op = "start"
	OpStop              Op = "stop"
	OpFlush             Op = "flush"
	OpReset             Op = "reset"
	OpSetParameter      Op = "set_parameter"
	OpNotifyEndOfStream Op = "notify_eos"
)

// stateUnchanged marks a transition that leaves the state alone
const stateUnchanged LifecycleState = -1

type transition struct {
	from       []LifecycleState // nil means any state but Destroyed
	during     LifecycleState   // state while the engine call runs
	to         LifecycleState   // state after a successful engine call
	clearEOS   bool
	clearCache bool
}

var transitions = map[Op]transition{
	OpConfigure: {
		from:   []LifecycleState{StateCreated},
		during: StateConfigured,
		to:     StateConfigured,
	},
	OpPrepare: {
		from:   []LifecycleState{StateConfigured, StateStopped},
		during: stateUnchanged,
		to:     stateUnchanged,
	},
	OpStart: {
		from:     []LifecycleState{StateConfigured, StateStopped},
		during:   StateRunning,
		to:       StateRunning,
		clearEOS: true,
	},
	OpStop: {
		from:       []LifecycleState{StateRunning},
		during:     StateStopped,
		to:         StateStopped,
		clearCache: true,
	},
	OpFlush: {
		from:       []LifecycleState{StateRunning},
		during:     StateFlushing,
		to:         StateRunning,
		clearCache: true,
	},
	OpReset: {
		from:       nil,
		during:     StateStopped,
		to:         StateCreated,
		clearEOS:   true,
		clearCache: true,
	},
	OpSetParameter: {
		from:   []LifecycleState{StateRunning, StateStopped},
		during: stateUnchanged,
		to:     stateUnchanged,
	},
	OpNotifyEndOfStream: {
		from:   []LifecycleState{StateRunning},
		during: stateUnchanged,
		to:     stateUnchanged,
	},
}

// StateGate tracks the lifecycle state and the end-of-stream flag. It is not
// safe for concurrent use; the owning session serializes access.
type StateGate struct {
	state       LifecycleState
	endOfStream bool
	pending     Op
}

// Transition is an in-flight lifecycle command. Exactly one of Commit or
// Rollback must be called.
type Transition struct {
	gate     *StateGate
	op       Op
	t        transition
	prev     LifecycleState
	prevEOS  bool
	finished bool
}

// NewStateGate returns a gate in the Created state
func NewStateGate() *StateGate {
	return &StateGate{state: StateCreated}
}

// State returns the current state
func (g *StateGate) State() LifecycleState {
	return g.state
}

// EndOfStream reports whether an end-of-stream input has been accepted
// since the last Start
func (g *StateGate) EndOfStream() bool {
	return g.endOfStream
}

// Pending returns the lifecycle command in flight, or "" when idle
func (g *StateGate) Pending() Op {
	return g.pending
}

// Begin validates op against the current state and moves to its in-flight
// state. Any other command except Destroy fails until the returned
// Transition is finished.
func (g *StateGate) Begin(op Op) (*Transition, error) {
	t, ok := transitions[op]
	if !ok {
		return nil, newError(string(op), ErrInvalidArgument)
	}
	if g.state == StateDestroyed || g.pending != "" {
		return nil, newError(string(op), ErrInvalidState)
	}
	if t.from != nil && !containsState(t.from, g.state) {
		return nil, newError(string(op), ErrInvalidState)
	}

	tr := &Transition{
		gate:    g,
		op:      op,
		t:       t,
		prev:    g.state,
		prevEOS: g.endOfStream,
	}
	g.pending = op
	if t.during != stateUnchanged {
		g.state = t.during
	}
	if t.clearEOS {
		g.endOfStream = false
	}
	return tr, nil
}

// Commit applies the post-call state. A Destroy that happened meanwhile wins.
func (tr *Transition) Commit() {
	if tr.finished {
		return
	}
	tr.finished = true
	g := tr.gate
	g.pending = ""
	if g.state == StateDestroyed {
		return
	}
	if tr.t.to != stateUnchanged {
		g.state = tr.t.to
	}
}

// Rollback restores the pre-call state and end-of-stream flag
func (tr *Transition) Rollback() {
	if tr.finished {
		return
	}
	tr.finished = true
	g := tr.gate
	g.pending = ""
	if g.state == StateDestroyed {
		return
	}
	g.state = tr.prev
	g.endOfStream = tr.prevEOS
}

// ClearsCache reports whether a successful commit must clear buffer handles
func (tr *Transition) ClearsCache() bool {
	return tr.t.clearCache
}

// Op returns the command this transition belongs to
func (tr *Transition) Op() Op {
	return tr.op
}

// Destroy moves to the terminal state. Always valid.
func (g *StateGate) Destroy() {
	g.state = StateDestroyed
	g.pending = ""
}

// MarkEndOfStreamAccepted records that an end-of-stream input was queued
func (g *StateGate) MarkEndOfStreamAccepted() {
	if g.state == StateDestroyed {
		return
	}
	g.endOfStream = true
}

// Idle reports whether the engine is not processing, so the callback
// registration may be replaced
func (g *StateGate) Idle() bool {
	if g.pending != "" {
		return false
	}
	switch g.state {
	case StateRunning, StateFlushing, StateDestroyed:
		return false
	default:
		return true
	}
}

// MayDeliverInput reports whether an input-available notification may reach
// the client
func (g *StateGate) MayDeliverInput() bool {
	if g.state == StateFlushing || g.state == StateStopped {
		return false
	}
	return !g.endOfStream
}

// MayDeliverOutput reports whether an output-available notification may
// reach the client. End of stream does not close this gate: the output
// carrying the end-of-stream flag is how the client learns the stream is done.
func (g *StateGate) MayDeliverOutput() bool {
	return g.state != StateFlushing && g.state != StateStopped
}

func containsState(states []LifecycleState, s LifecycleState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
