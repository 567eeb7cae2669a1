package wayland

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWire() *wireConn {
	c := &wireConn{
		fd:             -1,
		nextID:         1,
		ifaces:         map[uint32]string{1: "wl_display"},
		outputs:        make(map[uint32]*outputState),
		surfaces:       make(map[uint32]*wireSurface),
		layerSurfaces:  make(map[uint32]*wireSurface),
		frameCallbacks: make(map[uint32]*wireSurface),
		buffers:        make(map[uint32]*wireBuffer),
	}
	c.registry = c.newID("wl_registry")
	return c
}

func TestMarshal_HeaderAndPadding(t *testing.T) {
	msg := marshal(3, 2, uint32(7), "hi")
	require.Equal(t, 0, len(msg)%4)

	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(msg[0:4]))
	word := binary.LittleEndian.Uint32(msg[4:8])
	assert.Equal(t, uint32(len(msg)), word>>16)
	assert.Equal(t, uint32(2), word&0xffff)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(msg[8:12]))
	// String: length 3 ("hi" + NUL), then bytes padded to 4.
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(msg[12:16]))
	assert.Equal(t, byte('h'), msg[16])
	assert.Equal(t, byte('i'), msg[17])
	assert.Equal(t, byte(0), msg[18])
}

func TestReader_RoundtripsMarshalledArgs(t *testing.T) {
	msg := marshal(1, 0, uint32(42), int32(-7), "eDP-1")
	r := &reader{b: msg[8:]}
	assert.Equal(t, uint32(42), r.u32())
	assert.Equal(t, int32(-7), r.i32())
	assert.Equal(t, "eDP-1", r.str())
}

func TestReader_Fixed(t *testing.T) {
	r := &reader{b: marshal(1, 0, int32(256*12+128))[8:]}
	assert.Equal(t, 12.5, r.fixed())
}

// global announcement → bind → metadata → done should yield exactly one
// OutputAdded carrying the collected info.
func TestWire_OutputAnnouncement(t *testing.T) {
	c := newTestWire()
	c.handleGlobal(9, "wl_output", 4)

	var outID uint32
	for id := range c.outputs {
		outID = id
	}
	require.NotZero(t, outID)
	assert.Equal(t, "wl_output", c.ifaces[outID])

	c.handle(outID, 4, marshal(outID, 4, "eDP-1")[8:])
	c.handle(outID, 1, marshal(outID, 1, uint32(1), int32(1920), int32(1080), int32(60000))[8:])
	c.handle(outID, 3, marshal(outID, 3, int32(2))[8:])
	assert.Empty(t, c.pending, "nothing announced before done")

	c.handle(outID, 2, nil) // done
	require.Len(t, c.pending, 1)
	added, ok := c.pending[0].(OutputAdded)
	require.True(t, ok)
	assert.Equal(t, outID, added.ID)
	assert.Equal(t, "eDP-1", added.Info.Name)
	assert.Equal(t, 1920, added.Info.Width)
	assert.Equal(t, 2, added.Info.Scale)

	// done twice announces once
	c.handle(outID, 2, nil)
	assert.Len(t, c.pending, 1)

	c.handleGlobalRemove(9)
	require.Len(t, c.pending, 2)
	assert.Equal(t, OutputRemoved{ID: outID}, c.pending[1])
}

func makeSurface(t *testing.T, c *wireConn, outID uint32) *wireSurface {
	t.Helper()
	c.compositor = c.newID("wl_compositor")
	c.layerShell = c.newID("zwlr_layer_shell_v1")
	surf, err := c.CreateSurface(outID, SurfaceConfig{Height: 24, Anchor: AnchorBottom, Layer: "bottom"})
	require.NoError(t, err)
	return surf.(*wireSurface)
}

func announceOutput(c *wireConn, name uint32) uint32 {
	c.handleGlobal(name, "wl_output", 4)
	var outID uint32
	for id := range c.outputs {
		outID = id
	}
	c.handle(outID, 2, nil)
	return outID
}

func TestWire_LayerSurfaceConfigure(t *testing.T) {
	c := newTestWire()
	outID := announceOutput(c, 9)
	c.outputs[outID].info.Width = 2560
	s := makeSurface(t, c, outID)
	c.pending = nil

	// Zero width means "client decides"; the binding substitutes the
	// output width.
	c.handle(s.layerID, 0, marshal(s.layerID, 0, uint32(5), uint32(0), uint32(24))[8:])
	require.Len(t, c.pending, 1)
	cfg, ok := c.pending[0].(SurfaceConfigured)
	require.True(t, ok)
	assert.Equal(t, uint32(5), cfg.Serial)
	assert.Equal(t, 2560, cfg.Width)
	assert.Equal(t, 24, cfg.Height)

	c.handle(s.layerID, 1, nil)
	require.Len(t, c.pending, 2)
	assert.Equal(t, SurfaceClosed{Output: outID}, c.pending[1])
}

func TestWire_UnknownOutputRejected(t *testing.T) {
	c := newTestWire()
	c.compositor = c.newID("wl_compositor")
	c.layerShell = c.newID("zwlr_layer_shell_v1")
	_, err := c.CreateSurface(77, SurfaceConfig{Height: 24})
	assert.Error(t, err)
}

func TestWire_PointerButtonCarriesFocusAndPosition(t *testing.T) {
	c := newTestWire()
	outID := announceOutput(c, 9)
	s := makeSurface(t, c, outID)
	c.pointer = c.newID("wl_pointer")
	c.pending = nil

	// enter(serial, surface, x, y)
	c.handle(c.pointer, 0, marshal(0, 0, uint32(1), s.surfaceID, int32(256*40), int32(256*10))[8:])
	// button(serial, time, button, state=pressed)
	c.handle(c.pointer, 3, marshal(0, 0, uint32(2), uint32(0), uint32(0x110), uint32(1))[8:])
	require.Len(t, c.pending, 1)
	btn, ok := c.pending[0].(PointerButton)
	require.True(t, ok)
	assert.Equal(t, outID, btn.Output)
	assert.Equal(t, 40.0, btn.X)
	assert.Equal(t, 10.0, btn.Y)
	assert.Equal(t, uint32(0x110), btn.Button)

	// release generates nothing
	c.handle(c.pointer, 3, marshal(0, 0, uint32(3), uint32(0), uint32(0x110), uint32(0))[8:])
	assert.Len(t, c.pending, 1)
}

func TestWire_ProtocolErrorIsFatal(t *testing.T) {
	c := newTestWire()
	c.handle(1, 0, marshal(1, 0, uint32(4), uint32(2), "bad request")[8:])
	require.Error(t, c.fatal)
	assert.ErrorContains(t, c.fatal, "bad request")
}

func TestWire_DropBufferReapsWireObjects(t *testing.T) {
	c := newTestWire()
	outID := announceOutput(c, 9)
	s := makeSurface(t, c, outID)

	wb := &wireBuffer{
		bufID:   c.newID("wl_buffer"),
		poolID:  c.newID("wl_shm_pool"),
		localID: 3,
		width:   200,
		height:  24,
	}
	c.buffers[wb.bufID] = wb
	s.buffers[wb.localID] = wb
	c.out.Reset()

	s.DropBuffer(3)
	assert.Empty(t, s.buffers)
	assert.Empty(t, c.buffers)
	// wl_buffer.destroy and wl_shm_pool.destroy, both argument-free.
	assert.Equal(t, 16, c.out.Len())

	// An id the surface no longer tracks is a no-op.
	c.out.Reset()
	s.DropBuffer(3)
	assert.Zero(t, c.out.Len())
}

func TestWire_FrameCallbackRouting(t *testing.T) {
	c := newTestWire()
	outID := announceOutput(c, 9)
	s := makeSurface(t, c, outID)
	c.pending = nil

	s.RequestFrame()
	require.Len(t, c.frameCallbacks, 1)
	var cb uint32
	for id := range c.frameCallbacks {
		cb = id
	}
	c.handle(cb, 0, marshal(cb, 0, uint32(0))[8:])
	require.Len(t, c.pending, 1)
	assert.Equal(t, FrameDone{Output: outID}, c.pending[0])
	assert.Empty(t, c.frameCallbacks)

	// A callback granted after destroy is dropped.
	s.RequestFrame()
	for id := range c.frameCallbacks {
		cb = id
	}
	s.Destroy()
	c.handle(cb, 0, nil)
	assert.Len(t, c.pending, 1)
}
