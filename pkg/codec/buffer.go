// ABOUTME: Identity-stable buffer handles and their cache
// ABOUTME: Deduplicates engine buffers so clients always see one handle per buffer
package codec

import "sync/atomic"

// BufferHandle is the client-visible wrapper around an engine buffer. A
// handle is valid until the next cache-clearing event (Stop, Flush, Reset,
// Destroy); after that Valid reports false and Bytes returns nil.
type BufferHandle struct {
	buf      Buffer
	released atomic.Bool
}

// Bytes returns the engine memory behind the handle, or nil once released
func (h *BufferHandle) Bytes() []byte {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.buf.Bytes()
}

// Capacity returns the size of the engine memory, or 0 once released
func (h *BufferHandle) Capacity() int {
	return len(h.Bytes())
}

// Valid reports whether the handle is still backed by the engine
func (h *BufferHandle) Valid() bool {
	return h != nil && !h.released.Load()
}

// Region returns the part of the buffer described by attr, or nil when attr
// does not fit the buffer or the handle was released
func (h *BufferHandle) Region(attr BufferAttr) []byte {
	b := h.Bytes()
	if attr.Offset < 0 || attr.Size < 0 {
		return nil
	}
	end := int(attr.Offset) + int(attr.Size)
	if end > len(b) {
		return nil
	}
	return b[attr.Offset:end]
}

func (h *BufferHandle) release() {
	h.released.Store(true)
}

// BufferHandleCache maps engine buffers to handles. Lookup is linear, which
// is fine for engine pools of a few dozen buffers. Not safe for concurrent
// use; the owning session serializes access.
type BufferHandleCache struct {
	engine  Engine
	handles []*BufferHandle
}

// NewBufferHandleCache creates an empty cache resolving against engine
func NewBufferHandleCache(engine Engine) *BufferHandleCache {
	return &BufferHandleCache{engine: engine}
}

// ResolveInput returns the handle for the engine's input buffer at index.
// The boolean is false when the engine has nothing at that index.
func (c *BufferHandleCache) ResolveInput(index uint32) (*BufferHandle, bool) {
	return c.resolve(c.engine.GetInputBuffer(index))
}

// ResolveOutput returns the handle for the engine's output buffer at index.
// The boolean is false when the engine has nothing at that index.
func (c *BufferHandleCache) ResolveOutput(index uint32) (*BufferHandle, bool) {
	return c.resolve(c.engine.GetOutputBuffer(index))
}

func (c *BufferHandleCache) resolve(buf Buffer) (*BufferHandle, bool) {
	if buf == nil {
		return nil, false
	}
	for _, h := range c.handles {
		if h.buf == buf {
			return h, true
		}
	}
	h := &BufferHandle{buf: buf}
	c.handles = append(c.handles, h)
	return h, true
}

// Clear releases every handle and empties the cache
func (c *BufferHandleCache) Clear() {
	for _, h := range c.handles {
		h.release()
	}
	c.handles = nil
}

// Len returns the number of live handles
func (c *BufferHandleCache) Len() int {
	return len(c.handles)
}
