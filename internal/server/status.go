// ABOUTME: Per-connection codec status tracking
// ABOUTME: Decides which commands a connection accepts in each status
package server

import (
	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
)

// Status is the server-side position of a connection's engine
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitialized
	StatusConfigured
	StatusRunning
	StatusFlushed
	StatusEndOfStream
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitialized:
		return "initialized"
	case StatusConfigured:
		return "configured"
	case StatusRunning:
		return "running"
	case StatusFlushed:
		return "flushed"
	case StatusEndOfStream:
		return "end of stream"
	case StatusError:
		return "error"
	default:
		return "illegal"
	}
}

// allowed lists the statuses each command may run in. Commands missing from
// the table (release) run in any status.
var allowed = map[string][]Status{
	protocol.TypeCreate:          {StatusUninitialized},
	protocol.TypeConfigure:       {StatusInitialized},
	protocol.TypePrepare:         {StatusConfigured},
	protocol.TypeStart:           {StatusConfigured, StatusFlushed},
	protocol.TypeStop:            {StatusRunning, StatusEndOfStream},
	protocol.TypeFlush:           {StatusRunning, StatusEndOfStream},
	protocol.TypeResume:          {StatusFlushed},
	protocol.TypeReset:           {StatusInitialized, StatusConfigured, StatusRunning, StatusFlushed, StatusEndOfStream, StatusError},
	protocol.TypeSetParameter:    {StatusConfigured, StatusRunning, StatusFlushed, StatusEndOfStream},
	protocol.TypeNotifyEOS:       {StatusRunning},
	protocol.TypeGetOutputFormat: {StatusInitialized, StatusConfigured, StatusRunning, StatusFlushed, StatusEndOfStream, StatusError},
	protocol.TypeQueueInput:      {StatusRunning},
	protocol.TypeReleaseOutput:   {StatusRunning, StatusEndOfStream},
}

// permits reports whether a command may run in status s
func permits(command string, s Status) bool {
	statuses, ok := allowed[command]
	if !ok {
		return true
	}
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// after returns the status following a command, given its result. ok is false
// when the command leaves the status alone.
func after(command string, failed bool) (Status, bool) {
	var next Status
	switch command {
	case protocol.TypeConfigure, protocol.TypeStop:
		next = StatusConfigured
	case protocol.TypeStart, protocol.TypeResume:
		next = StatusRunning
	case protocol.TypeFlush:
		next = StatusFlushed
	case protocol.TypeReset:
		next = StatusInitialized
	default:
		return 0, false
	}
	if failed {
		return StatusError, true
	}
	return next, true
}
