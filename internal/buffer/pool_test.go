package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireGrowsLazily(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(100, 20)

	a := p.Acquire()
	require.NotNil(t, a)
	assert.Equal(t, StateWriting, a.State())
	assert.Equal(t, 1, p.Len())

	b := p.Acquire()
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, p.Len())
}

func TestPool_AcquireWithoutSizeReturnsNil(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	assert.Nil(t, p.Acquire())
}

func TestPool_ExhaustionDefersInsteadOfBlocking(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)

	for i := 0; i < MaxBuffers; i++ {
		b := p.Acquire()
		require.NotNil(t, b)
		p.Submit(b)
	}
	assert.Equal(t, MaxBuffers, p.Len())

	// Every buffer is owned by the server: acquire must fail, not block.
	assert.Nil(t, p.Acquire())

	// A release makes one writable again.
	assert.True(t, p.Release(0))
	got := p.Acquire()
	require.NotNil(t, got)
	assert.Equal(t, 0, got.ID())
}

func TestPool_ReuseAfterRelease(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)

	a := p.Acquire()
	require.NotNil(t, a)
	p.Submit(a)
	require.True(t, p.Release(a.ID()))

	b := p.Acquire()
	require.NotNil(t, b)
	assert.Equal(t, a.ID(), b.ID(), "released buffer should be reused, not reallocated")
	assert.Equal(t, 1, p.Len())
}

func TestPool_ServerOwnedBufferIsNeverWritable(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)

	b := p.Acquire()
	require.NotNil(t, b)

	// Writable while we own it.
	px := b.Bytes()
	px[0] = 0xff

	p.Submit(b)
	assert.Panics(t, func() { _ = b.Bytes() })

	require.True(t, p.Release(b.ID()))
	assert.NotPanics(t, func() { _ = b.Bytes() })
}

func TestPool_ResizeDropsFreeKeepsInFlight(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)

	free := p.Acquire()
	require.NotNil(t, free)
	p.Cancel(free)

	inflight := p.Acquire()
	require.NotNil(t, inflight)
	p.Submit(inflight)

	p.Resize(128, 16)
	assert.Equal(t, 1, p.Len(), "only the server-owned buffer survives a resize")

	// The stale buffer is dropped on release, not recycled at the old size.
	assert.False(t, p.Release(inflight.ID()))
	assert.Equal(t, 0, p.Len())

	// New acquires come out at the new size.
	b := p.Acquire()
	require.NotNil(t, b)
	w, h, stride := b.Size()
	assert.Equal(t, 128, w)
	assert.Equal(t, 16, h)
	assert.Equal(t, 128*4, stride)
	assert.Len(t, b.Bytes(), 128*4*16)
}

func TestPool_ResizeSameSizeIsNoop(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)

	b := p.Acquire()
	require.NotNil(t, b)
	p.Cancel(b)

	p.Resize(64, 16)
	assert.Equal(t, 1, p.Len())
}

func TestPool_ReleaseUnknownBuffer(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()
	p.Resize(64, 16)
	assert.False(t, p.Release(99))
}

func TestShm_MappedSizeMatchesRequest(t *testing.T) {
	s, err := NewShm(4096)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, s.Bytes(), 4096)
	assert.GreaterOrEqual(t, s.Fd(), 0)
}
