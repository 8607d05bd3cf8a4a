// ABOUTME: Tests for the codec session lifecycle and callback delivery
// ABOUTME: Exercises gating, handle identity, teardown and engine failures
package codec

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, engine Engine) (*Session, *recorder) {
	t.Helper()
	s, err := NewSession(AudioDecoder, engine, WithName("test"))
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, s.SetCallback(rec.callbacks(nil)))
	return s, rec
}

func startedSession(t *testing.T, engine Engine) (*Session, *recorder) {
	t.Helper()
	s, rec := newTestSession(t, engine)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())
	return s, rec
}

func TestNewSessionRejectsNilEngine(t *testing.T) {
	_, err := NewSession(AudioDecoder, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSessionAccessors(t *testing.T) {
	s, err := NewSession(AudioEncoder, newFakeEngine())
	require.NoError(t, err)

	assert.Equal(t, "audio-encoder", s.Name())
	assert.Equal(t, AudioEncoder, s.Kind())
	assert.Len(t, s.ID(), 36)
	assert.Equal(t, StateCreated, s.State())

	other, _ := NewSession(AudioEncoder, newFakeEngine())
	assert.NotEqual(t, s.ID(), other.ID())
}

// Configure, Start, the same input twice, then Stop
func TestSessionInputHandleIdentityAcrossDeliveries(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 32)
	s, rec := startedSession(t, engine)

	cb := engine.callback()
	cb.OnInputBufferAvailable(0)
	cb.OnInputBufferAvailable(0)

	require.Len(t, rec.inputs, 2)
	assert.Same(t, rec.inputs[0], rec.inputs[1])
	assert.Equal(t, 1, s.cache.Len())

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, s.cache.Len())
	assert.False(t, rec.inputs[0].Valid())
}

func TestSessionEndOfStreamSuppressesInputUntilStart(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 32)
	s, rec := startedSession(t, engine)

	require.NoError(t, s.PushInputBuffer(0, BufferAttr{Size: 0, Flags: FlagEndOfStream}))
	assert.True(t, s.EndOfStream())

	engine.callback().OnInputBufferAvailable(0)
	in, _, _ := rec.counts()
	assert.Equal(t, 0, in)
	assert.Equal(t, uint64(1), s.Stats().DroppedGated)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.False(t, s.EndOfStream())

	engine.callback().OnInputBufferAvailable(0)
	in, _, _ = rec.counts()
	assert.Equal(t, 1, in)
}

func TestSessionEndOfStreamOutputStillDelivered(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	engine.setOutput(0, make([]byte, 8))
	s, rec := startedSession(t, engine)

	require.NoError(t, s.PushInputBuffer(0, BufferAttr{Flags: FlagEndOfStream}))
	require.True(t, s.EndOfStream())

	engine.callback().OnOutputBufferAvailable(0, BufferInfo{PresentationTimeUs: 40, Size: 0}, FlagEndOfStream)

	require.Len(t, rec.outputs, 1)
	assert.True(t, rec.outputs[0].Flags.Has(FlagEndOfStream))
	assert.Equal(t, int64(40), rec.outputs[0].PresentationTimeUs)
}

func TestSessionDestroyDetachesBeforeRelease(t *testing.T) {
	engine := newFakeEngine()
	s, rec := newTestSession(t, engine)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))

	engine.during("release", func() {
		engine.callback().OnError(CodeServiceDied)
	})

	require.NoError(t, s.Destroy())
	_, _, errs := rec.counts()
	assert.Equal(t, 0, errs)
	assert.Equal(t, uint64(1), s.Stats().DroppedDetached)
	assert.Equal(t, StateDestroyed, s.State())
}

func TestSessionDestroyRacingEngineErrors(t *testing.T) {
	for i := 0; i < 50; i++ {
		engine := newFakeEngine()
		s, _ := newTestSession(t, engine)
		cb := engine.callback()

		var destroyed atomic.Bool
		var late atomic.Int32
		require.NoError(t, s.SetCallback(&Callbacks{
			OnError: func(*Session, error, any) {
				if destroyed.Load() {
					late.Add(1)
				}
			},
			OnFormatChanged:  func(*Session, *FormatView, any) {},
			OnNeedInputData:  func(*Session, uint32, *BufferHandle, any) {},
			OnNeedOutputData: func(*Session, uint32, *BufferHandle, BufferAttr, any) {},
		}))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cb.OnError(CodeAudioDecodeFailed)
			}
		}()

		require.NoError(t, s.Destroy())
		destroyed.Store(true)
		wg.Wait()

		assert.Equal(t, int32(0), late.Load(), "callback began after destroy returned")
	}
}

func TestSessionDestroyTwice(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)

	require.NoError(t, s.Destroy())
	assert.ErrorIs(t, s.Destroy(), ErrInvalidState)
	assert.ErrorIs(t, s.Start(), ErrInvalidState)

	releases := 0
	for _, c := range engine.called() {
		if c == "release" {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
}

func TestSessionDestroyReleaseFailureStillTearsDown(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, rec := startedSession(t, engine)
	engine.callback().OnInputBufferAvailable(0)
	require.Len(t, rec.inputs, 1)

	engine.fail("release", CodeServiceDied)
	err := s.Destroy()

	assert.ErrorIs(t, err, ErrServiceDied)
	assert.Equal(t, StateDestroyed, s.State())
	assert.Equal(t, 0, s.cache.Len())
	assert.False(t, rec.inputs[0].Valid())
}

func TestSessionStopTwice(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, _ := startedSession(t, engine)
	engine.callback().OnInputBufferAvailable(0)

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, s.cache.Len())

	assert.ErrorIs(t, s.Stop(), ErrInvalidState)
	assert.Equal(t, 0, s.cache.Len())
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionStopFailureRollsBack(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, rec := startedSession(t, engine)
	engine.callback().OnInputBufferAvailable(0)

	engine.fail("stop", CodeStopFailed)
	err := s.Stop()

	assert.ErrorIs(t, err, ErrOperationNotPermitted)
	assert.Equal(t, CodeStopFailed, CodeOf(err))
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, rec.inputs[0].Valid(), "failed stop must not release handles")

	engine.fail("stop", CodeOK)
	assert.NoError(t, s.Stop())
}

func TestSessionStopFailureIsNotPermitted(t *testing.T) {
	codes := []EngineCode{CodeInvalidOperation, CodeStopFailed, CodeUnsupported, CodeNoMemory}
	for _, code := range codes {
		engine := newFakeEngine()
		s, _ := startedSession(t, engine)

		engine.fail("stop", code)
		err := s.Stop()
		assert.ErrorIs(t, err, ErrOperationNotPermitted, "code %v", code)
		assert.Equal(t, code, CodeOf(err))
		assert.Equal(t, StateRunning, s.State())
	}
}

func TestSessionStartFailureRollsBack(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))

	engine.fail("start", CodeUnsupportedAudioChannels)
	assert.ErrorIs(t, s.Start(), ErrUnsupported)
	assert.Equal(t, StateConfigured, s.State())
}

func TestSessionFlushSuppressesDelivery(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	engine.setOutput(1, make([]byte, 8))
	s, rec := startedSession(t, engine)
	cb := engine.callback()

	cb.OnInputBufferAvailable(0)
	before := rec.inputs[0]

	engine.during("flush", func() {
		assert.Equal(t, StateFlushing, s.State())
		cb.OnInputBufferAvailable(0)
		cb.OnOutputBufferAvailable(1, BufferInfo{Size: 8}, FlagNone)
	})
	require.NoError(t, s.Flush())

	in, out, _ := rec.counts()
	assert.Equal(t, 1, in)
	assert.Equal(t, 0, out)
	assert.Equal(t, uint64(2), s.Stats().DroppedGated)
	assert.Equal(t, StateRunning, s.State())
	assert.False(t, before.Valid())

	cb.OnInputBufferAvailable(0)
	require.Len(t, rec.inputs, 2)
	assert.NotSame(t, before, rec.inputs[1])
}

func TestSessionFlushFailureClearsFlushing(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, rec := startedSession(t, engine)
	engine.callback().OnInputBufferAvailable(0)

	engine.fail("flush", CodeUnknown)
	assert.ErrorIs(t, s.Flush(), ErrUnknown)
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, rec.inputs[0].Valid())
}

func TestSessionFlushResumesEngineAfterCommit(t *testing.T) {
	base := newFakeEngine()
	base.setInput(0, 8)
	engine := eosEngine{base}
	s, rec := startedSession(t, engine)

	base.during("resume", func() {
		base.callback().OnInputBufferAvailable(0)
	})
	require.NoError(t, s.Flush())

	in, _, _ := rec.counts()
	assert.Equal(t, 1, in, "inputs announced on resume must reach the client")
	assert.Equal(t, []string{"set_callback", "configure", "start", "flush", "resume"}, base.called())
}

func TestSessionResetReturnsToCreated(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, rec := startedSession(t, engine)
	engine.callback().OnInputBufferAvailable(0)
	require.NoError(t, s.PushInputBuffer(0, BufferAttr{Flags: FlagEndOfStream}))

	require.NoError(t, s.Reset())
	assert.Equal(t, StateCreated, s.State())
	assert.False(t, s.EndOfStream())
	assert.False(t, rec.inputs[0].Valid())

	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())
}

func TestSessionPrepare(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)

	assert.ErrorIs(t, s.Prepare(), ErrInvalidState)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Prepare())
	assert.Equal(t, StateConfigured, s.State())
}

func TestSessionConfigureValidation(t *testing.T) {
	s, _ := newTestSession(t, newFakeEngine())

	assert.ErrorIs(t, s.Configure(nil), ErrInvalidArgument)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	assert.ErrorIs(t, s.Configure(Format{KeyMime: "audio/raw"}), ErrInvalidState)
}

func TestSessionSetCallbackValidation(t *testing.T) {
	s, err := NewSession(AudioDecoder, newFakeEngine())
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetCallback(nil), ErrInvalidArgument)

	partial := (&recorder{}).callbacks(nil)
	partial.OnNeedOutputData = nil
	assert.ErrorIs(t, s.SetCallback(partial), ErrInvalidArgument)
}

func TestSessionSetCallbackWhileRunning(t *testing.T) {
	s, _ := startedSession(t, newFakeEngine())
	rec := &recorder{}
	assert.ErrorIs(t, s.SetCallback(rec.callbacks(nil)), ErrInvalidState)
}

func TestSessionSetCallbackReplacesClient(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, first := newTestSession(t, engine)

	second := &recorder{}
	require.NoError(t, s.SetCallback(second.callbacks("second")))
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())

	engine.callback().OnInputBufferAvailable(0)
	in1, _, _ := first.counts()
	in2, _, _ := second.counts()
	assert.Equal(t, 0, in1)
	assert.Equal(t, 1, in2)

	calls := 0
	for _, c := range engine.called() {
		if c == "set_callback" {
			calls++
		}
	}
	assert.Equal(t, 1, calls, "engine registration happens once per engine")
}

func TestSessionSetCallbackEngineFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.fail("set_callback", CodeServiceDied)
	s, err := NewSession(AudioDecoder, engine)
	require.NoError(t, err)

	rec := &recorder{}
	assert.ErrorIs(t, s.SetCallback(rec.callbacks(nil)), ErrServiceDied)
	assert.Nil(t, s.dispatcher)
}

func TestSessionUserDataRoundTrip(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	s, err := NewSession(AudioDecoder, engine)
	require.NoError(t, err)

	type ctx struct{ n int }
	want := &ctx{n: 7}
	var got any
	var gotSession *Session
	require.NoError(t, s.SetCallback(&Callbacks{
		OnError:         func(*Session, error, any) {},
		OnFormatChanged: func(*Session, *FormatView, any) {},
		OnNeedInputData: func(sess *Session, _ uint32, _ *BufferHandle, userData any) {
			gotSession = sess
			got = userData
		},
		OnNeedOutputData: func(*Session, uint32, *BufferHandle, BufferAttr, any) {},
		UserData:         want,
	}))
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())

	engine.callback().OnInputBufferAvailable(0)
	assert.Same(t, want, got)
	assert.Same(t, s, gotSession)
}

func TestSessionPushInputBuffer(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)

	assert.ErrorIs(t, s.PushInputBuffer(0, BufferAttr{Size: 4}), ErrInvalidState)

	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())

	assert.ErrorIs(t, s.PushInputBuffer(0, BufferAttr{Size: -1}), ErrInvalidArgument)
	assert.ErrorIs(t, s.PushInputBuffer(0, BufferAttr{Offset: -4}), ErrInvalidArgument)

	require.NoError(t, s.PushInputBuffer(0, BufferAttr{PresentationTimeUs: 20, Size: 4, Flags: FlagKeyFrame}))
	require.Len(t, engine.queued, 1)
	assert.Equal(t, int32(4), engine.queued[0].Size)

	engine.fail("queue_input", CodeInvalidValue)
	err := s.PushInputBuffer(1, BufferAttr{Flags: FlagEndOfStream})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, s.EndOfStream(), "rejected input must not mark end of stream")
}

func TestSessionReleaseOutputBuffer(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)
	assert.ErrorIs(t, s.ReleaseOutputBuffer(0, true), ErrInvalidState)

	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	require.NoError(t, s.Start())
	require.NoError(t, s.ReleaseOutputBuffer(0, true))

	engine.fail("release_output", CodeInvalidState)
	assert.ErrorIs(t, s.ReleaseOutputBuffer(0, false), ErrInvalidState)
}

func TestSessionErrorsBypassGating(t *testing.T) {
	engine := newFakeEngine()
	s, rec := startedSession(t, engine)
	require.NoError(t, s.Stop())

	engine.callback().OnError(CodeAudioDecodeFailed)

	require.Len(t, rec.errors, 1)
	assert.ErrorIs(t, rec.errors[0], ErrUnknown)
	assert.Equal(t, CodeAudioDecodeFailed, CodeOf(rec.errors[0]))
}

func TestSessionFormatViewIsBorrowed(t *testing.T) {
	engine := newFakeEngine()
	s, err := NewSession(AudioDecoder, engine)
	require.NoError(t, err)

	var kept *FormatView
	var rate int
	require.NoError(t, s.SetCallback(&Callbacks{
		OnError: func(*Session, error, any) {},
		OnFormatChanged: func(_ *Session, view *FormatView, _ any) {
			kept = view
			rate, _ = view.Int(KeySampleRate)
		},
		OnNeedInputData:  func(*Session, uint32, *BufferHandle, any) {},
		OnNeedOutputData: func(*Session, uint32, *BufferHandle, BufferAttr, any) {},
	}))

	engine.callback().OnOutputFormatChanged(Format{KeySampleRate: 44100})

	assert.Equal(t, 44100, rate)
	require.NotNil(t, kept)
	assert.False(t, kept.Valid())
	assert.Nil(t, kept.Snapshot())
}

func TestSessionUnresolvedBufferIsDropped(t *testing.T) {
	engine := newFakeEngine()
	s, rec := startedSession(t, engine)

	engine.callback().OnInputBufferAvailable(5)
	engine.callback().OnOutputBufferAvailable(5, BufferInfo{}, FlagNone)

	in, out, _ := rec.counts()
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Equal(t, uint64(2), s.Stats().DroppedUnresolved)
}

func TestSessionSetParameter(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)
	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))

	assert.ErrorIs(t, s.SetParameter(Format{KeyBitrate: 64000}), ErrInvalidState)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.SetParameter(nil), ErrInvalidArgument)
	assert.NoError(t, s.SetParameter(Format{KeyBitrate: 64000}))
}

func TestSessionNotifyEndOfStream(t *testing.T) {
	plain, _ := startedSession(t, newFakeEngine())
	assert.ErrorIs(t, plain.NotifyEndOfStream(), ErrUnsupported)

	base := newFakeEngine()
	s, _ := startedSession(t, eosEngine{base})
	require.NoError(t, s.NotifyEndOfStream())
	assert.True(t, s.EndOfStream())
}

func TestSessionOutputDescription(t *testing.T) {
	engine := newFakeEngine()
	s, _ := newTestSession(t, engine)

	_, err := s.OutputDescription()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Configure(Format{KeyMime: "audio/raw"}))
	format, err := s.OutputDescription()
	require.NoError(t, err)
	rate, _ := format.Int(KeySampleRate)
	assert.Equal(t, 48000, rate)

	format[KeySampleRate] = 1
	again, _ := s.OutputDescription()
	rate, _ = again.Int(KeySampleRate)
	assert.Equal(t, 48000, rate, "description must be a copy")
}

// Handles reaching the client are always live, whatever lifecycle commands
// race with the engine
func TestSessionConcurrentDeliveryAndLifecycle(t *testing.T) {
	engine := newFakeEngine()
	engine.setInput(0, 8)
	engine.setInput(1, 8)
	engine.setOutput(0, make([]byte, 8))
	s, rec := startedSession(t, engine)

	var stale atomic.Int32
	rec.onInput = func(_ uint32, h *BufferHandle) {
		if !h.Valid() {
			stale.Add(1)
		}
	}

	cb := engine.callback()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			cb.OnInputBufferAvailable(0)
			cb.OnInputBufferAvailable(1)
			cb.OnOutputBufferAvailable(0, BufferInfo{Size: 8}, FlagNone)
		}
	}()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Flush())
		require.NoError(t, s.Stop())
		require.NoError(t, s.Start())
	}
	close(stop)
	wg.Wait()
	require.NoError(t, s.Destroy())

	assert.Zero(t, stale.Load())
}
