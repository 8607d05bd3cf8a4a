// ABOUTME: Read loop for the remote engine connection
// ABOUTME: Routes command results and turns server events into callbacks
package remote

import (
	"encoding/json"
	"log"

	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/gorilla/websocket"
)

// readMessages runs until the connection closes. Losing the connection before
// Release fails every pending command and reports CodeServiceDied.
func (e *Engine) readMessages() {
	defer e.connectionLost()

	for {
		messageType, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			log.Printf("Unexpected WebSocket message type: %d", messageType)
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Failed to parse message: %v", err)
			continue
		}
		e.handleMessage(msg)
	}
}

// maxBufferSize bounds the local mirror of one server buffer
const maxBufferSize = 16 << 20

func (e *Engine) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeResult:
		var result protocol.Result
		if err := msg.Decode(&result); err != nil {
			log.Printf("%v", err)
			result = protocol.Result{Code: int32(codec.CodeUnknown)}
		}
		e.mu.Lock()
		ch, ok := e.pending[msg.ID]
		delete(e.pending, msg.ID)
		e.mu.Unlock()
		if !ok {
			if e.config.Debug {
				log.Printf("[DEBUG] Dropping late result for command %d", msg.ID)
			}
			return
		}
		ch <- result

	case protocol.TypeInputAvailable:
		var event protocol.InputAvailable
		if err := msg.Decode(&event); err != nil {
			log.Printf("%v", err)
			return
		}
		if event.Capacity < 0 || event.Capacity > maxBufferSize {
			log.Printf("Dropping input %d with capacity %d", event.Index, event.Capacity)
			return
		}
		e.mu.Lock()
		buf := e.inputs[event.Index]
		if buf == nil || len(buf.data) != event.Capacity {
			buf = &buffer{data: make([]byte, event.Capacity)}
			e.inputs[event.Index] = buf
		}
		e.inOwned[event.Index] = true
		cb := e.cb
		e.mu.Unlock()
		if cb != nil {
			cb.OnInputBufferAvailable(event.Index)
		}

	case protocol.TypeOutputAvailable:
		var event protocol.OutputAvailable
		if err := msg.Decode(&event); err != nil {
			log.Printf("%v", err)
			return
		}
		offset := int(event.Info.Offset)
		if offset < 0 || event.Capacity < 0 {
			log.Printf("Dropping output %d with negative offset or capacity", event.Index)
			return
		}
		size := max(event.Capacity, offset+len(event.Data))
		if size > maxBufferSize {
			log.Printf("Dropping output %d of %d bytes", event.Index, size)
			return
		}
		e.mu.Lock()
		buf := e.outputs[event.Index]
		if buf == nil || len(buf.data) != size {
			buf = &buffer{data: make([]byte, size)}
			e.outputs[event.Index] = buf
		}
		copy(buf.data[offset:], event.Data)
		e.outReady[event.Index] = true
		cb := e.cb
		e.mu.Unlock()
		if cb != nil {
			cb.OnOutputBufferAvailable(event.Index, event.Info, event.Flags)
		}

	case protocol.TypeFormatChanged:
		var event protocol.FormatPayload
		if err := msg.Decode(&event); err != nil {
			log.Printf("%v", err)
			return
		}
		if cb := e.callback(); cb != nil {
			cb.OnOutputFormatChanged(event.Format.Format())
		}

	case protocol.TypeError:
		var event protocol.ErrorEvent
		if err := msg.Decode(&event); err != nil {
			log.Printf("%v", err)
			return
		}
		log.Printf("Codec server error: %s", event.Message)
		if cb := e.callback(); cb != nil {
			cb.OnError(codec.EngineCode(event.Code))
		}

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

func (e *Engine) callback() codec.EngineCallback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

func (e *Engine) connectionLost() {
	e.mu.Lock()
	e.closed = true
	for id, ch := range e.pending {
		ch <- protocol.Result{Code: int32(codec.CodeServiceDied)}
		delete(e.pending, id)
	}
	expected := e.releasing
	cb := e.cb
	e.mu.Unlock()

	close(e.done)
	e.conn.Close()

	if expected {
		log.Printf("Connection to codec server closed")
		return
	}
	log.Printf("Lost connection to codec server %s", e.server.Name)
	if cb != nil {
		cb.OnError(codec.CodeServiceDied)
	}
}
