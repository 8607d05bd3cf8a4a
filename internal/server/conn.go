// ABOUTME: One client connection driving one codec engine
// ABOUTME: Executes codec commands and forwards engine callbacks as events
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/gorilla/websocket"
)

// Conn is a connected client and the engine it drives
type Conn struct {
	ID   string
	Name string

	server *Server
	ws     *websocket.Conn
	debug  bool

	sendChan   chan protocol.Message
	done       chan struct{}
	doneOnce   sync.Once
	writerDone chan struct{}

	// engine is swapped by the read loop only while no engine goroutine runs
	engine codec.Engine
	codec  codec.Registration

	mu        sync.RWMutex
	status    Status
	lastError string
	config    codec.Format
	inputs    uint64
	outputs   uint64
}

// ConnInfo is a point-in-time view of a connection
type ConnInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Codec     string `json:"codec"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	Config    string `json:"config,omitempty"`
	Inputs    uint64 `json:"inputs"`
	Outputs   uint64 `json:"outputs"`
}

func newConn(s *Server, ws *websocket.Conn, hello protocol.ClientHello) *Conn {
	return &Conn{
		ID:         hello.ClientID,
		Name:       hello.Name,
		server:     s,
		ws:         ws,
		debug:      s.config.Debug,
		sendChan:   make(chan protocol.Message, 256),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Info returns a snapshot for the TUI and the status endpoint
func (c *Conn) Info() ConnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := ConnInfo{
		ID:        c.ID,
		Name:      c.Name,
		Codec:     c.codec.Name,
		Status:    c.status.String(),
		LastError: c.lastError,
		Inputs:    c.inputs,
		Outputs:   c.outputs,
	}
	if c.config != nil {
		info.Config = c.config.Describe()
	}
	return info
}

// Status returns the current engine status
func (c *Conn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	prev := c.status
	c.status = s
	c.mu.Unlock()
	if prev != s {
		log.Printf("Codec server %s in %s status", c.Name, s)
	}
}

func (c *Conn) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// send queues a message for the writer. Engine goroutines block here while
// the writer is behind; nothing blocks once the connection is done.
func (c *Conn) send(msgType string, id uint64, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, id, payload)
	if err != nil {
		log.Printf("Error encoding %s: %v", msgType, err)
		return
	}
	select {
	case c.sendChan <- msg:
	case <-c.done:
	}
}

// writer sends queued messages to the client. When the connection is done it
// flushes what is already queued and returns.
func (c *Conn) writer() {
	defer close(c.writerDone)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	write := func(msg protocol.Message) bool {
		c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("Error writing %s to %s: %v", msg.Type, c.Name, err)
			c.closeDone()
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-c.sendChan:
			if !write(msg) {
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				c.closeDone()
				return
			}

		case <-c.done:
			for {
				select {
				case msg := <-c.sendChan:
					if !write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// serve runs the command loop until the client goes away or releases its
// engine
func (c *Conn) serve() {
	go c.writer()

	defer func() {
		if c.engine != nil {
			if err := c.engine.Release(); err != nil {
				log.Printf("Error releasing engine for %s: %v", c.Name, err)
			}
			c.engine = nil
		}
		c.closeDone()
		<-c.writerDone
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error from %s: %v", c.Name, err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message from %s: %v", c.Name, err)
			continue
		}

		if msg.ID == 0 {
			log.Printf("Ignoring %s from %s: commands need an id", msg.Type, c.Name)
			continue
		}

		result := c.handleCommand(msg)
		c.send(protocol.TypeResult, msg.ID, result)

		if msg.Type == protocol.TypeRelease {
			return
		}
	}
}

// handleCommand runs one command and builds its result
func (c *Conn) handleCommand(msg protocol.Message) protocol.Result {
	status := c.Status()
	if !permits(msg.Type, status) {
		if c.debug {
			log.Printf("[DEBUG] %s: %s rejected in %s status", c.Name, msg.Type, status)
		}
		return protocol.Result{Code: int32(codec.CodeInvalidState)}
	}
	if msg.Type != protocol.TypeCreate && msg.Type != protocol.TypeRelease && c.engine == nil {
		return protocol.Result{Code: int32(codec.CodeInvalidState)}
	}

	var result protocol.Result
	var err error

	switch msg.Type {
	case protocol.TypeCreate:
		result, err = c.create(msg)
	case protocol.TypeConfigure:
		err = c.configure(msg)
	case protocol.TypePrepare:
		err = c.engine.Prepare()
	case protocol.TypeStart:
		err = c.engine.Start()
	case protocol.TypeStop:
		err = c.engine.Stop()
	case protocol.TypeFlush:
		err = c.engine.Flush()
	case protocol.TypeResume:
		if resumer, ok := c.engine.(codec.FlushResumer); ok {
			err = resumer.ResumeAfterFlush()
		}
	case protocol.TypeReset:
		err = c.engine.Reset()
		if err == nil {
			c.mu.Lock()
			c.lastError = ""
			c.config = nil
			c.mu.Unlock()
		}
	case protocol.TypeRelease:
		err = c.release()
	case protocol.TypeSetParameter:
		var p protocol.FormatPayload
		if err = decode(msg, &p); err == nil {
			err = c.engine.SetParameter(p.Format.Format())
		}
	case protocol.TypeNotifyEOS:
		err = c.notifyEndOfStream()
	case protocol.TypeGetOutputFormat:
		var format codec.Format
		format, err = c.engine.GetOutputFormat()
		result.Format = protocol.EncodeFormat(format)
	case protocol.TypeQueueInput:
		err = c.queueInput(msg)
	case protocol.TypeReleaseOutput:
		var p protocol.ReleaseOutput
		if err = decode(msg, &p); err == nil {
			err = c.engine.ReleaseOutputBuffer(p.Index, p.Render)
		}
	default:
		log.Printf("Unknown command from %s: %s", c.Name, msg.Type)
		err = codec.CodeUnsupported
	}

	if next, ok := after(msg.Type, err != nil); ok {
		c.setStatus(next)
	}

	code := codec.CodeOf(err)
	if code != codec.CodeOK {
		log.Printf("Codec server %s: %s failed: %v", c.Name, msg.Type, err)
	} else if c.debug {
		log.Printf("[DEBUG] %s: %s ok", c.Name, msg.Type)
	}
	result.Code = int32(code)
	return result
}

// decode unmarshals a command payload; malformed payloads are invalid values
func decode(msg protocol.Message, v interface{}) error {
	if err := msg.Decode(v); err != nil {
		return fmt.Errorf("%v: %w", err, codec.CodeInvalidValue)
	}
	return nil
}

func (c *Conn) create(msg protocol.Message) (protocol.Result, error) {
	var req protocol.Create
	if err := decode(msg, &req); err != nil {
		return protocol.Result{}, err
	}

	var reg codec.Registration
	var ok bool
	if req.Name != "" {
		reg, ok = c.server.registry.Lookup(req.Name)
	} else {
		reg, ok = c.server.registry.LookupMime(req.Mime, req.Encoder)
	}
	if !ok {
		return protocol.Result{}, fmt.Errorf("no codec for %q/%q: %w", req.Name, req.Mime, codec.CodeUnsupported)
	}

	engine, err := reg.New()
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to create %s: %w", reg.Name, codec.CodeNoMemory)
	}
	if err := engine.SetCallback(c); err != nil {
		engine.Release()
		return protocol.Result{}, fmt.Errorf("codec base set callback failed: %w", codec.CodeInvalidOperation)
	}

	c.engine = engine
	c.mu.Lock()
	c.codec = reg
	c.mu.Unlock()
	c.setStatus(StatusInitialized)
	c.server.updateTUI()

	return protocol.Result{Codec: &protocol.CodecInfo{
		Name: reg.Name,
		Mime: reg.Mime,
		Kind: int(reg.Kind),
	}}, nil
}

func (c *Conn) configure(msg protocol.Message) error {
	var p protocol.FormatPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	format := p.Format.Format()
	c.mu.Lock()
	c.config = format.Clone()
	c.mu.Unlock()
	return c.engine.Configure(format)
}

func (c *Conn) notifyEndOfStream() error {
	notifier, ok := c.engine.(codec.EndOfStreamNotifier)
	if !ok {
		return codec.CodeUnsupported
	}
	if err := notifier.NotifyEndOfStream(); err != nil {
		return err
	}
	c.setStatus(StatusEndOfStream)
	return nil
}

func (c *Conn) queueInput(msg protocol.Message) error {
	var p protocol.QueueInput
	if err := decode(msg, &p); err != nil {
		return err
	}
	if int(p.Attr.Size) != len(p.Data) || p.Attr.Offset < 0 {
		return fmt.Errorf("input region does not match data: %w", codec.CodeInvalidValue)
	}

	buf := c.engine.GetInputBuffer(p.Index)
	if buf == nil {
		return fmt.Errorf("input %d not available: %w", p.Index, codec.CodeInvalidValue)
	}
	mem := buf.Bytes()
	end := int(p.Attr.Offset) + len(p.Data)
	if end > len(mem) {
		return fmt.Errorf("input region %d exceeds buffer of %d: %w", end, len(mem), codec.CodeInvalidValue)
	}
	copy(mem[p.Attr.Offset:end], p.Data)

	if err := c.engine.QueueInputBuffer(p.Index, p.Attr); err != nil {
		return err
	}

	c.mu.Lock()
	c.inputs++
	c.mu.Unlock()
	if p.Attr.Flags.Has(codec.FlagEndOfStream) {
		c.setStatus(StatusEndOfStream)
	}
	return nil
}

func (c *Conn) release() error {
	if c.engine == nil {
		return nil
	}
	err := c.engine.Release()
	c.engine = nil
	c.setStatus(StatusUninitialized)
	return err
}

// OnError forwards an engine error and remembers it for the status page
func (c *Conn) OnError(code codec.EngineCode) {
	c.mu.Lock()
	c.lastError = code.Error()
	c.mu.Unlock()
	c.send(protocol.TypeError, 0, protocol.ErrorEvent{Code: int32(code), Message: code.Error()})
}

func (c *Conn) OnOutputFormatChanged(format codec.Format) {
	c.send(protocol.TypeFormatChanged, 0, protocol.FormatPayload{Format: protocol.EncodeFormat(format)})
}

func (c *Conn) OnInputBufferAvailable(index uint32) {
	event := protocol.InputAvailable{Index: index}
	if c.engine != nil {
		if buf := c.engine.GetInputBuffer(index); buf != nil {
			event.Capacity = len(buf.Bytes())
		}
	}
	c.send(protocol.TypeInputAvailable, 0, event)
}

func (c *Conn) OnOutputBufferAvailable(index uint32, info codec.BufferInfo, flags codec.BufferFlag) {
	event := protocol.OutputAvailable{Index: index, Info: info, Flags: flags}
	if c.engine != nil {
		if buf := c.engine.GetOutputBuffer(index); buf != nil {
			mem := buf.Bytes()
			event.Capacity = len(mem)
			start, end := int(info.Offset), int(info.Offset)+int(info.Size)
			if start >= 0 && end >= start && end <= len(mem) {
				event.Data = append([]byte(nil), mem[start:end]...)
			}
		}
	}

	c.mu.Lock()
	c.outputs++
	c.mu.Unlock()
	c.send(protocol.TypeOutputAvailable, 0, event)
}
