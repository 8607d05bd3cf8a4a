// ABOUTME: Engine proxy talking to a codec server over WebSocket
// ABOUTME: Mirrors server buffers locally and replays server events as callbacks
package remote

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
	"github.com/Resonate-Protocol/avcodec-go/internal/version"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port of the codec server
	Path       string // WebSocket path, defaults to /avcodec
	ClientID   string // defaults to a random UUID
	Name       string // defaults to the product name

	// Codec selects the engine by registry name. When empty, Mime and
	// Encoder select it by mime type.
	Codec   string
	Mime    string
	Encoder bool

	Timeout time.Duration // per command, defaults to 5s
	Debug   bool
}

// buffer is the local mirror of a server buffer. Its pointer stays the same
// for an index as long as the server-side capacity does.
type buffer struct {
	data []byte
}

func (b *buffer) Bytes() []byte { return b.data }

// Engine implements codec.Engine by forwarding every call to a codec server.
// Callbacks run on the connection's read goroutine.
type Engine struct {
	config Config
	conn   *websocket.Conn
	info   protocol.CodecInfo
	server protocol.ServerHello

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu        sync.Mutex
	pending   map[uint64]chan protocol.Result
	cb        codec.EngineCallback
	inputs    map[uint32]*buffer
	outputs   map[uint32]*buffer
	inOwned   map[uint32]bool
	outReady  map[uint32]bool
	closed    bool
	releasing bool

	done chan struct{}
}

// Dial connects to a codec server and creates the configured engine on it
func Dial(ctx context.Context, config Config) (*Engine, error) {
	if config.Path == "" {
		config.Path = "/avcodec"
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = version.Product
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Codec == "" && config.Mime == "" {
		return nil, fmt.Errorf("codec name or mime required: %w", codec.CodeInvalidValue)
	}

	u := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: config.Path}
	log.Printf("Connecting to codec server %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	e := &Engine{
		config:   config,
		conn:     conn,
		pending:  make(map[uint64]chan protocol.Result),
		inputs:   make(map[uint32]*buffer),
		outputs:  make(map[uint32]*buffer),
		inOwned:  make(map[uint32]bool),
		outReady: make(map[uint32]bool),
		done:     make(chan struct{}),
	}

	if err := e.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	go e.readMessages()

	result, err := e.call(protocol.TypeCreate, protocol.Create{
		Name:    config.Codec,
		Mime:    config.Mime,
		Encoder: config.Encoder,
	})
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}
	if result.Codec != nil {
		e.info = *result.Codec
	}

	log.Printf("Created %s on codec server %s", e.info.Name, e.server.Name)
	return e, nil
}

// handshake exchanges hellos before the read loop starts
func (e *Engine) handshake() error {
	hello, err := protocol.NewMessage(protocol.TypeClientHello, 0, protocol.ClientHello{
		ClientID: e.config.ClientID,
		Name:     e.config.Name,
		Version:  protocol.ProtocolVersion,
		DeviceInfo: &protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	})
	if err != nil {
		return err
	}
	if err := e.conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.TypeClientHello, err)
	}

	e.conn.SetReadDeadline(time.Now().Add(e.config.Timeout))
	var msg protocol.Message
	if err := e.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read %s: %w", protocol.TypeServerHello, err)
	}
	e.conn.SetReadDeadline(time.Time{})

	switch msg.Type {
	case protocol.TypeServerHello:
		if err := msg.Decode(&e.server); err != nil {
			return err
		}
	case protocol.TypeServerError:
		var serverErr protocol.ServerError
		if err := msg.Decode(&serverErr); err != nil {
			return err
		}
		return fmt.Errorf("server refused connection: %s: %s", serverErr.Error, serverErr.Message)
	default:
		return fmt.Errorf("expected %s, got %s", protocol.TypeServerHello, msg.Type)
	}

	if e.config.Debug {
		log.Printf("[DEBUG] Handshake complete with %s (codecs: %d)", e.server.Name, len(e.server.Codecs))
	}
	return nil
}

// Kind returns the kind of the engine created on the server
func (e *Engine) Kind() codec.Kind {
	return codec.Kind(e.info.Kind)
}

// Codec describes the engine created on the server
func (e *Engine) Codec() protocol.CodecInfo {
	return e.info
}

// ServerName returns the name the server announced
func (e *Engine) ServerName() string {
	return e.server.Name
}

// call sends a command and waits for its result. Non-zero result codes come
// back as codec.EngineCode errors.
func (e *Engine) call(msgType string, payload interface{}) (protocol.Result, error) {
	id := e.nextID.Add(1)
	msg, err := protocol.NewMessage(msgType, id, payload)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("%v: %w", err, codec.CodeInvalidValue)
	}

	ch := make(chan protocol.Result, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return protocol.Result{}, codec.CodeServiceDied
	}
	e.pending[id] = ch
	e.mu.Unlock()

	e.writeMu.Lock()
	e.conn.SetWriteDeadline(time.Now().Add(e.config.Timeout))
	err = e.conn.WriteJSON(msg)
	e.writeMu.Unlock()
	if err != nil {
		e.forget(id)
		log.Printf("Error sending %s: %v", msgType, err)
		return protocol.Result{}, codec.CodeServiceDied
	}

	timer := time.NewTimer(e.config.Timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if e.config.Debug {
			log.Printf("[DEBUG] %s -> %v", msgType, codec.EngineCode(result.Code))
		}
		if result.Code != int32(codec.CodeOK) {
			return result, codec.EngineCode(result.Code)
		}
		return result, nil
	case <-timer.C:
		e.forget(id)
		log.Printf("Timed out waiting for %s", msgType)
		return protocol.Result{}, codec.CodeNetworkTimeout
	}
}

func (e *Engine) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Engine) command(msgType string, payload interface{}) error {
	_, err := e.call(msgType, payload)
	return err
}

// dropOwnership forgets every announced buffer after the server took them
// all back
func (e *Engine) dropOwnership() {
	e.mu.Lock()
	clear(e.inOwned)
	clear(e.outReady)
	e.mu.Unlock()
}

func (e *Engine) Configure(format codec.Format) error {
	return e.command(protocol.TypeConfigure, protocol.FormatPayload{Format: protocol.EncodeFormat(format)})
}

func (e *Engine) Prepare() error {
	return e.command(protocol.TypePrepare, nil)
}

func (e *Engine) Start() error {
	return e.command(protocol.TypeStart, nil)
}

func (e *Engine) Stop() error {
	if err := e.command(protocol.TypeStop, nil); err != nil {
		return err
	}
	e.dropOwnership()
	return nil
}

func (e *Engine) Flush() error {
	if err := e.command(protocol.TypeFlush, nil); err != nil {
		return err
	}
	e.dropOwnership()
	return nil
}

// ResumeAfterFlush asks the server to hand its input buffers back
func (e *Engine) ResumeAfterFlush() error {
	return e.command(protocol.TypeResume, nil)
}

func (e *Engine) Reset() error {
	if err := e.command(protocol.TypeReset, nil); err != nil {
		return err
	}
	e.dropOwnership()
	return nil
}

// NotifyEndOfStream is forwarded; the server answers CodeUnsupported when its
// engine has no such entry point
func (e *Engine) NotifyEndOfStream() error {
	return e.command(protocol.TypeNotifyEOS, nil)
}

func (e *Engine) SetParameter(format codec.Format) error {
	return e.command(protocol.TypeSetParameter, protocol.FormatPayload{Format: protocol.EncodeFormat(format)})
}

// Release frees the server engine and closes the connection. Release is final.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.releasing {
		e.mu.Unlock()
		return codec.CodeInvalidState
	}
	e.releasing = true
	e.mu.Unlock()

	err := e.command(protocol.TypeRelease, nil)
	e.shutdown()
	return err
}

// shutdown closes the connection and waits for the read loop
func (e *Engine) shutdown() {
	e.mu.Lock()
	e.releasing = true
	e.mu.Unlock()

	e.writeMu.Lock()
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	e.writeMu.Unlock()

	e.conn.Close()
	<-e.done
}

func (e *Engine) GetInputBuffer(index uint32) codec.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inOwned[index] {
		return nil
	}
	return e.inputs[index]
}

func (e *Engine) GetOutputBuffer(index uint32) codec.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.outReady[index] {
		return nil
	}
	return e.outputs[index]
}

// QueueInputBuffer ships the valid region of the mirror to the server
func (e *Engine) QueueInputBuffer(index uint32, attr codec.BufferAttr) error {
	e.mu.Lock()
	buf := e.inputs[index]
	if !e.inOwned[index] || buf == nil {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	start, end := int(attr.Offset), int(attr.Offset)+int(attr.Size)
	if attr.Offset < 0 || attr.Size < 0 || end > len(buf.data) {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	data := append([]byte(nil), buf.data[start:end]...)
	// the server may hand the index back before our result arrives
	e.inOwned[index] = false
	e.mu.Unlock()

	err := e.command(protocol.TypeQueueInput, protocol.QueueInput{Index: index, Attr: attr, Data: data})
	if err != nil && err != codec.CodeServiceDied {
		e.mu.Lock()
		e.inOwned[index] = true
		e.mu.Unlock()
	}
	return err
}

func (e *Engine) ReleaseOutputBuffer(index uint32, render bool) error {
	e.mu.Lock()
	if !e.outReady[index] {
		e.mu.Unlock()
		return codec.CodeInvalidValue
	}
	e.outReady[index] = false
	e.mu.Unlock()

	err := e.command(protocol.TypeReleaseOutput, protocol.ReleaseOutput{Index: index, Render: render})
	if err != nil && err != codec.CodeServiceDied {
		e.mu.Lock()
		e.outReady[index] = true
		e.mu.Unlock()
	}
	return err
}

// SetCallback is local; the server always forwards its engine's callbacks
func (e *Engine) SetCallback(cb codec.EngineCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.releasing {
		return codec.CodeInvalidState
	}
	e.cb = cb
	return nil
}

func (e *Engine) GetOutputFormat() (codec.Format, error) {
	result, err := e.call(protocol.TypeGetOutputFormat, nil)
	if err != nil {
		return nil, err
	}
	return result.Format.Format(), nil
}
