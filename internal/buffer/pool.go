// Package buffer manages the rotating set of shared-memory pixel buffers
// behind one output surface. The display server owns a buffer from commit
// until it sends a release; the pool tracks that ownership so the
// rasterizer can never scribble over pixels the compositor is reading.
package buffer

import (
	"fmt"
	"log/slog"
)

// State tags a buffer's place in the attach/release cycle.
type State int

const (
	// StateFree means the buffer is ours and writable.
	StateFree State = iota
	// StateWriting means the rasterizer currently paints into it.
	StateWriting
	// StateSubmitted means it is staged on a surface but not committed.
	StateSubmitted
	// StateOwnedByServer means the compositor may still read it; mutating
	// it would tear.
	StateOwnedByServer
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateWriting:
		return "writing"
	case StateSubmitted:
		return "submitted"
	case StateOwnedByServer:
		return "owned-by-server"
	}
	return "invalid"
}

// MaxBuffers caps lazy pool growth when the server is slow to release.
// Two covers double buffering; the extra headroom absorbs a laggy
// compositor without letting the pool grow without bound.
const MaxBuffers = 4

// Buffer is one shared-memory pixel buffer.
type Buffer struct {
	id     int
	state  State
	width  int
	height int
	stride int
	shm    *Shm
	stale  bool
}

// ID identifies the buffer in attach and release protocol messages.
func (b *Buffer) ID() int { return b.id }

// State returns the current ownership tag.
func (b *Buffer) State() State { return b.state }

// Size returns width, height and stride in bytes.
func (b *Buffer) Size() (w, h, stride int) { return b.width, b.height, b.stride }

// ShmFd returns the backing memory's file descriptor.
func (b *Buffer) ShmFd() int { return b.shm.Fd() }

// Bytes returns the writable pixel storage. Reading back a buffer the
// server owns is a tearing bug, so this panics on OwnedByServer; the panic
// doubles as the invariant instrumentation the tests rely on.
func (b *Buffer) Bytes() []byte {
	if b.state == StateOwnedByServer {
		panic(fmt.Sprintf("buffer %d accessed while owned by server", b.id))
	}
	return b.shm.Bytes()
}

// Pool manages the buffers for one surface size. Not safe for concurrent
// use; only the reactor goroutine touches it.
type Pool struct {
	logger *slog.Logger

	width  int
	height int
	nextID int
	bufs   []*Buffer
}

// NewPool creates an empty pool; buffers are allocated on first Acquire
// after Resize sets a size.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{logger: logger}
}

// Resize records a new surface size. Buffers we own are dropped
// immediately; buffers the server owns are marked stale and dropped on
// release, so an in-flight frame is never unmapped under the compositor.
func (p *Pool) Resize(width, height int) {
	if width == p.width && height == p.height {
		return
	}
	p.width = width
	p.height = height

	kept := p.bufs[:0]
	for _, b := range p.bufs {
		if b.state == StateOwnedByServer {
			b.stale = true
			kept = append(kept, b)
			continue
		}
		if err := b.shm.Close(); err != nil {
			p.logger.Debug("closing shm buffer", "buffer", b.id, "error", err)
		}
	}
	p.bufs = kept
}

// Acquire returns a writable buffer, or nil when every buffer is in
// flight and the pool is at its cap. It never blocks: the caller defers
// the repaint and retries when the server acknowledges a release.
func (p *Pool) Acquire() *Buffer {
	if p.width <= 0 || p.height <= 0 {
		return nil
	}
	for _, b := range p.bufs {
		if b.state == StateFree {
			b.state = StateWriting
			return b
		}
	}
	if len(p.bufs) >= MaxBuffers {
		p.logger.Debug("buffer pool exhausted, deferring repaint", "buffers", len(p.bufs))
		return nil
	}

	stride := p.width * 4
	shm, err := NewShm(p.height * stride)
	if err != nil {
		p.logger.Warn("shm allocation failed", "error", err)
		return nil
	}
	b := &Buffer{
		id:     p.nextID,
		state:  StateWriting,
		width:  p.width,
		height: p.height,
		stride: stride,
		shm:    shm,
	}
	p.nextID++
	p.bufs = append(p.bufs, b)
	return b
}

// Submit transitions a painted buffer to server ownership. Call it when
// the buffer is attached and committed.
func (p *Pool) Submit(b *Buffer) {
	if b.state != StateWriting && b.state != StateSubmitted {
		p.logger.Warn("submit of buffer in unexpected state", "buffer", b.id, "state", b.state.String())
	}
	b.state = StateOwnedByServer
}

// Cancel returns a buffer acquired for a repaint that was abandoned.
func (p *Pool) Cancel(b *Buffer) {
	if b.state == StateWriting || b.state == StateSubmitted {
		b.state = StateFree
	}
}

// Release handles the server's acknowledgment for the given buffer id and
// reports whether a writable buffer is now available (the cue to retry a
// deferred repaint). Stale-sized buffers are dropped instead of reused.
func (p *Pool) Release(id int) bool {
	for i, b := range p.bufs {
		if b.id != id {
			continue
		}
		if b.state != StateOwnedByServer {
			p.logger.Debug("release for buffer not owned by server", "buffer", id, "state", b.state.String())
		}
		if b.stale {
			if err := b.shm.Close(); err != nil {
				p.logger.Debug("closing stale shm buffer", "buffer", b.id, "error", err)
			}
			p.bufs = append(p.bufs[:i], p.bufs[i+1:]...)
			return false
		}
		b.state = StateFree
		return true
	}
	p.logger.Debug("release for unknown buffer", "buffer", id)
	return false
}

// Close tears down every buffer regardless of state; only valid once the
// surface is destroyed and no more server events can arrive.
func (p *Pool) Close() {
	for _, b := range p.bufs {
		if err := b.shm.Close(); err != nil {
			p.logger.Debug("closing shm buffer", "buffer", b.id, "error", err)
		}
	}
	p.bufs = nil
}

// Len returns the number of allocated buffers, for tests and debug logs.
func (p *Pool) Len() int { return len(p.bufs) }
