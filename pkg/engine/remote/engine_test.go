// ABOUTME: Tests for the remote engine against a real and a scripted codec server
// ABOUTME: Covers session round trips, server status checks and connection loss
package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
	"github.com/Resonate-Protocol/avcodec-go/internal/server"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/Resonate-Protocol/avcodec-go/pkg/engine/soft"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inputEvent struct {
	index uint32
	buf   *codec.BufferHandle
}

type outputEvent struct {
	index uint32
	data  []byte
	attr  codec.BufferAttr
}

type client struct {
	inputs  chan inputEvent
	outputs chan outputEvent
	formats chan codec.Format
	errs    chan error
}

func newClient() *client {
	return &client{
		inputs:  make(chan inputEvent, 16),
		outputs: make(chan outputEvent, 16),
		formats: make(chan codec.Format, 4),
		errs:    make(chan error, 4),
	}
}

func (c *client) callbacks() *codec.Callbacks {
	return &codec.Callbacks{
		OnError: func(_ *codec.Session, err error, _ any) {
			c.errs <- err
		},
		OnFormatChanged: func(_ *codec.Session, view *codec.FormatView, _ any) {
			c.formats <- view.Snapshot()
		},
		OnNeedInputData: func(_ *codec.Session, index uint32, buf *codec.BufferHandle, _ any) {
			c.inputs <- inputEvent{index: index, buf: buf}
		},
		OnNeedOutputData: func(_ *codec.Session, index uint32, buf *codec.BufferHandle, attr codec.BufferAttr, _ any) {
			c.outputs <- outputEvent{index: index, data: append([]byte(nil), buf.Region(attr)...), attr: attr}
		},
	}
}

func (c *client) nextInput(t *testing.T) inputEvent {
	t.Helper()
	select {
	case ev := <-c.inputs:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an input buffer")
	}
	return inputEvent{}
}

func (c *client) nextOutput(t *testing.T) outputEvent {
	t.Helper()
	select {
	case ev := <-c.outputs:
		return ev
	case err := <-c.errs:
		t.Fatalf("engine error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an output buffer")
	}
	return outputEvent{}
}

func startCodecServer(t *testing.T) string {
	t.Helper()
	reg := codec.NewRegistry()
	require.NoError(t, soft.RegisterAll(reg, soft.Config{InputBuffers: 2, OutputBuffers: 2, InputBufferSize: 256}))

	srv := server.New(server.Config{Name: "test codec server"}, reg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func dial(t *testing.T, config Config) *Engine {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, err := Dial(ctx, config)
	require.NoError(t, err)
	return engine
}

func TestRemoteSessionRepacksPCM(t *testing.T) {
	addr := startCodecServer(t)
	engine := dial(t, Config{ServerAddr: addr, Codec: "pcm-decoder"})
	assert.Equal(t, codec.AudioDecoder, engine.Kind())
	assert.Equal(t, "test codec server", engine.ServerName())

	s, err := codec.NewSession(engine.Kind(), engine, codec.WithName("remote-pcm"))
	require.NoError(t, err)
	c := newClient()
	require.NoError(t, s.SetCallback(c.callbacks()))
	require.NoError(t, s.Configure(audio.Format{Mime: audio.MimeRaw, SampleRate: 48000, Channels: 2, BitDepth: 24}.CodecFormat()))
	require.NoError(t, s.Start())

	in := c.nextInput(t)
	assert.Equal(t, 256, in.buf.Capacity())
	n := copy(in.buf.Bytes(), []byte{0x56, 0x34, 0x12, 0x00, 0xff, 0xff})
	require.NoError(t, s.PushInputBuffer(in.index, codec.BufferAttr{PresentationTimeUs: 1000, Size: int32(n)}))

	select {
	case f := <-c.formats:
		depth, _ := f.Int(codec.KeyBitDepth)
		assert.Equal(t, 16, depth)
	case <-time.After(2 * time.Second):
		t.Fatal("no format change before the first output")
	}

	out := c.nextOutput(t)
	assert.Equal(t, []byte{0x34, 0x12, 0xff, 0xff}, out.data)
	assert.Equal(t, int64(1000), out.attr.PresentationTimeUs)
	require.NoError(t, s.ReleaseOutputBuffer(out.index, false))

	desc, err := s.OutputDescription()
	require.NoError(t, err)
	rate, _ := desc.Int(codec.KeySampleRate)
	assert.Equal(t, 48000, rate)

	require.NoError(t, s.Destroy())
}

func TestRemoteFlushReannouncesInputs(t *testing.T) {
	addr := startCodecServer(t)
	engine := dial(t, Config{ServerAddr: addr, Mime: audio.MimeRaw})

	s, err := codec.NewSession(engine.Kind(), engine)
	require.NoError(t, err)
	c := newClient()
	require.NoError(t, s.SetCallback(c.callbacks()))
	require.NoError(t, s.Configure(audio.Format{Mime: audio.MimeRaw, SampleRate: 8000, Channels: 1, BitDepth: 16}.CodecFormat()))
	require.NoError(t, s.Start())
	defer s.Destroy()

	first := c.nextInput(t)
	c.nextInput(t)

	require.NoError(t, s.Flush())
	assert.False(t, first.buf.Valid())

	again := c.nextInput(t)
	assert.True(t, again.buf.Valid())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	c.nextInput(t)
}

func TestRemoteServerChecksStatus(t *testing.T) {
	addr := startCodecServer(t)
	engine := dial(t, Config{ServerAddr: addr, Codec: "pcm-encoder"})
	assert.Equal(t, codec.AudioEncoder, engine.Kind())

	assert.Equal(t, codec.CodeInvalidState, engine.Start())
	assert.Equal(t, codec.CodeInvalidValue, engine.QueueInputBuffer(0, codec.BufferAttr{}))
	assert.Nil(t, engine.GetInputBuffer(0))

	err := engine.Configure(audio.Format{Mime: audio.MimeRaw, SampleRate: 8000, Channels: 1, BitDepth: 8}.CodecFormat())
	assert.Equal(t, codec.CodeUnsupportedAudioParams, err)
	// a failed configure leaves the server in error status until reset
	assert.Equal(t, codec.CodeInvalidState, engine.Configure(audio.Format{Mime: audio.MimeRaw, SampleRate: 8000, Channels: 1}.CodecFormat()))
	require.NoError(t, engine.Reset())
	require.NoError(t, engine.Configure(audio.Format{Mime: audio.MimeRaw, SampleRate: 8000, Channels: 1}.CodecFormat()))

	require.NoError(t, engine.Release())
	assert.Equal(t, codec.CodeInvalidState, engine.Release())
	assert.Equal(t, codec.CodeInvalidState, engine.SetCallback(nil))
}

func TestDialUnknownCodec(t *testing.T) {
	addr := startCodecServer(t)
	_, err := Dial(context.Background(), Config{ServerAddr: addr, Codec: "h264-decoder"})
	assert.ErrorIs(t, err, codec.CodeUnsupported)

	_, err = Dial(context.Background(), Config{ServerAddr: addr})
	assert.ErrorIs(t, err, codec.CodeInvalidValue)
}

// scriptedServer answers the handshake and codec/create, then hands the
// connection to script
func scriptedServer(t *testing.T, script func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var msg protocol.Message
		if ws.ReadJSON(&msg) != nil {
			return
		}
		hello, _ := protocol.NewMessage(protocol.TypeServerHello, 0, protocol.ServerHello{Name: "scripted", Version: protocol.ProtocolVersion})
		ws.WriteJSON(hello)

		if ws.ReadJSON(&msg) != nil {
			return
		}
		result, _ := protocol.NewMessage(protocol.TypeResult, msg.ID, protocol.Result{
			Codec: &protocol.CodecInfo{Name: "scripted", Mime: audio.MimeRaw, Kind: int(codec.AudioDecoder)},
		})
		ws.WriteJSON(result)

		script(ws)
	}))
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestConnectionLossReportsServiceDied(t *testing.T) {
	drop := make(chan struct{})
	addr := scriptedServer(t, func(ws *websocket.Conn) {
		<-drop
	})

	engine := dial(t, Config{ServerAddr: addr, Codec: "scripted"})
	s, err := codec.NewSession(engine.Kind(), engine)
	require.NoError(t, err)
	c := newClient()
	require.NoError(t, s.SetCallback(c.callbacks()))

	close(drop)

	select {
	case err := <-c.errs:
		assert.ErrorIs(t, err, codec.ErrServiceDied)
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not reported")
	}

	err = s.Configure(codec.Format{codec.KeyMime: audio.MimeRaw})
	assert.ErrorIs(t, err, codec.ErrServiceDied)
	assert.Equal(t, codec.StateCreated, s.State())
	assert.ErrorIs(t, s.Destroy(), codec.ErrServiceDied)
}

func TestCommandTimeout(t *testing.T) {
	addr := scriptedServer(t, func(ws *websocket.Conn) {
		// read commands and never answer
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	engine := dial(t, Config{ServerAddr: addr, Codec: "scripted", Timeout: 50 * time.Millisecond})
	assert.Equal(t, codec.CodeNetworkTimeout, engine.Prepare())
	assert.Equal(t, codec.CodeNetworkTimeout, engine.Release())
}

func TestServerRejectsDuplicateClientID(t *testing.T) {
	addr := startCodecServer(t)
	first := dial(t, Config{ServerAddr: addr, Codec: "pcm-decoder", ClientID: "same"})
	defer first.Release()

	_, err := Dial(context.Background(), Config{ServerAddr: addr, Codec: "pcm-decoder", ClientID: "same"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_client_id")
}

type countingCallback struct {
	buffers int
}

func (c *countingCallback) OnError(codec.EngineCode) {}
func (c *countingCallback) OnOutputFormatChanged(codec.Format) {}
func (c *countingCallback) OnInputBufferAvailable(uint32) { c.buffers++ }
func (c *countingCallback) OnOutputBufferAvailable(uint32, codec.BufferInfo, codec.BufferFlag) {
	c.buffers++
}

func bareEngine() *Engine {
	return &Engine{
		pending:  make(map[uint64]chan protocol.Result),
		inputs:   make(map[uint32]*buffer),
		outputs:  make(map[uint32]*buffer),
		inOwned:  make(map[uint32]bool),
		outReady: make(map[uint32]bool),
		done:     make(chan struct{}),
	}
}

func TestBadBufferEventsAreDropped(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{"negative input capacity", protocol.TypeInputAvailable, protocol.InputAvailable{Index: 0, Capacity: -1}},
		{"huge input capacity", protocol.TypeInputAvailable, protocol.InputAvailable{Index: 0, Capacity: maxBufferSize + 1}},
		{"negative output capacity", protocol.TypeOutputAvailable, protocol.OutputAvailable{Index: 0, Capacity: -1}},
		{"huge output offset", protocol.TypeOutputAvailable, protocol.OutputAvailable{Index: 0, Info: codec.BufferInfo{Offset: maxBufferSize}, Data: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := bareEngine()
			cb := &countingCallback{}
			require.NoError(t, e.SetCallback(cb))

			msg, err := protocol.NewMessage(tt.msgType, 0, tt.payload)
			require.NoError(t, err)
			assert.NotPanics(t, func() { e.handleMessage(msg) })
			assert.Zero(t, cb.buffers)
			assert.Empty(t, e.inputs)
			assert.Empty(t, e.outputs)
		})
	}
}
