// ABOUTME: Package documentation for the codec session layer
// ABOUTME: Explains the threading contract between engines and clients

// Package codec sits between an asynchronous codec engine and a client.
//
// An Engine runs its own goroutines and reports buffer availability through
// an EngineCallback. A Session registers a Dispatcher as that callback and
// forwards notifications to the client Callbacks, but only when the
// lifecycle state allows it:
//
//   - no input notification while flushing, stopped or after an
//     end-of-stream input was queued
//   - no output notification while flushing or stopped; the output that
//     carries the end-of-stream flag is still delivered
//   - errors are always delivered
//
// Each engine buffer is wrapped in exactly one BufferHandle until the next
// Stop, Flush, Reset or Destroy, after which old handles report !Valid().
//
// Callbacks run with the session lock held. Do not call Session methods from
// inside a callback; pass the index to another goroutine:
//
//	inputs := make(chan uint32, 8)
//	cb := &codec.Callbacks{
//		OnNeedInputData: func(s *codec.Session, index uint32, buf *codec.BufferHandle, _ any) {
//			n := copy(buf.Bytes(), nextPacket())
//			sizes[index] = n
//			inputs <- index
//		},
//		...
//	}
//
// Destroy detaches the client before releasing the engine, so a notification
// that starts after Destroy returns never reaches the client. One that was
// already running completes normally.
package codec
