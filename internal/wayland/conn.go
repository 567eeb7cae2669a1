package wayland

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Minimal wire binding for the protocol subset the bar consumes:
// registry, compositor, shm, layer shell, outputs and pointer input.
// Messages are a tiny fixed grammar (8-byte header, 32-bit words), so the
// codec is hand-rolled rather than generated.

const (
	shmFormatARGB8888 = 0

	layerBackground = 0
	layerBottom     = 1
	layerTop        = 2
	layerOverlay    = 3

	anchorTopBit    = 1
	anchorBottomBit = 2
	anchorLeftBit   = 4
	anchorRightBit  = 8
)

type outputState struct {
	id         uint32
	globalName uint32
	info       OutputInfo
	announced  bool
}

type wireBuffer struct {
	bufID   uint32
	poolID  uint32
	localID int
	width   int
	height  int
}

type wireSurface struct {
	conn      *wireConn
	surfaceID uint32
	layerID   uint32
	outputID  uint32
	buffers   map[int]*wireBuffer
	destroyed bool
}

// wireConn is the concrete Conn over the display socket.
type wireConn struct {
	logger *slog.Logger
	fd     int

	nextID uint32
	ifaces map[uint32]string
	out    bytes.Buffer
	inBuf  []byte

	registry   uint32
	compositor uint32
	shm        uint32
	layerShell uint32
	seat       uint32
	pointer    uint32

	outputs        map[uint32]*outputState
	surfaces       map[uint32]*wireSurface
	layerSurfaces  map[uint32]*wireSurface
	frameCallbacks map[uint32]*wireSurface
	buffers        map[uint32]*wireBuffer

	syncWait uint32

	pointerFocus uint32
	pointerX     float64
	pointerY     float64

	pending []Event
	fatal   error
}

// Connect dials the compositor named by WAYLAND_DISPLAY, binds the
// required globals and runs the startup roundtrips. Output announcements
// observed during the handshake are queued for the first Dispatch.
func Connect(logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	path := display
	if !filepath.IsAbs(path) {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR is not set")
		}
		path = filepath.Join(runtimeDir, display)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating display socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	c := &wireConn{
		logger:         logger,
		fd:             fd,
		nextID:         1,
		ifaces:         map[uint32]string{1: "wl_display"},
		outputs:        make(map[uint32]*outputState),
		surfaces:       make(map[uint32]*wireSurface),
		layerSurfaces:  make(map[uint32]*wireSurface),
		frameCallbacks: make(map[uint32]*wireSurface),
		buffers:        make(map[uint32]*wireBuffer),
	}

	c.registry = c.newID("wl_registry")
	c.request(1, 1, c.registry) // wl_display.get_registry

	// First roundtrip announces globals, second resolves the binds it
	// triggered (output metadata, seat capabilities), third picks up the
	// pointer created from the capabilities event.
	for i := 0; i < 3; i++ {
		if err := c.roundtrip(); err != nil {
			c.Close()
			return nil, err
		}
	}
	var missing []string
	if c.compositor == 0 {
		missing = append(missing, "wl_compositor")
	}
	if c.shm == 0 {
		missing = append(missing, "wl_shm")
	}
	if c.layerShell == 0 {
		missing = append(missing, "zwlr_layer_shell_v1")
	}
	if len(missing) > 0 {
		c.Close()
		return nil, fmt.Errorf("compositor does not advertise %v", missing)
	}
	return c, nil
}

// Fd implements Conn.
func (c *wireConn) Fd() int { return c.fd }

// Close releases the socket.
func (c *wireConn) Close() error { return unix.Close(c.fd) }

func (c *wireConn) newID(iface string) uint32 {
	c.nextID++
	c.ifaces[c.nextID] = iface
	return c.nextID
}

// marshal encodes one message. Supported argument types are uint32, int32
// and string.
func marshal(obj uint32, opcode int, args ...any) []byte {
	var body bytes.Buffer
	for _, a := range args {
		switch v := a.(type) {
		case uint32:
			binary.Write(&body, binary.LittleEndian, v)
		case int32:
			binary.Write(&body, binary.LittleEndian, v)
		case string:
			n := uint32(len(v) + 1)
			binary.Write(&body, binary.LittleEndian, n)
			body.WriteString(v)
			body.WriteByte(0)
			for body.Len()%4 != 0 {
				body.WriteByte(0)
			}
		default:
			panic(fmt.Sprintf("unsupported wire argument %T", a))
		}
	}
	msg := make([]byte, 8, 8+body.Len())
	binary.LittleEndian.PutUint32(msg[0:4], obj)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(8+body.Len())<<16|uint32(opcode))
	return append(msg, body.Bytes()...)
}

// request queues a message on the outgoing buffer.
func (c *wireConn) request(obj uint32, opcode int, args ...any) {
	c.out.Write(marshal(obj, opcode, args...))
}

// requestFd sends a message carrying a file descriptor. Ancillary data
// must travel with its message, so the outgoing buffer is flushed and the
// message sent immediately.
func (c *wireConn) requestFd(obj uint32, opcode int, fd int, args ...any) error {
	if err := c.Flush(); err != nil {
		return err
	}
	msg := marshal(obj, opcode, args...)
	rights := unix.UnixRights(fd)
	for {
		err := unix.Sendmsg(c.fd, msg, rights, nil, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			if err := c.waitWritable(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("sending fd message: %w", err)
		}
		return nil
	}
}

func (c *wireConn) waitWritable() error {
	for {
		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

// Flush implements Conn.
func (c *wireConn) Flush() error {
	for c.out.Len() > 0 {
		n, err := unix.Write(c.fd, c.out.Bytes())
		if n > 0 {
			c.out.Next(n)
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				if err := c.waitWritable(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("writing display socket: %w", err)
		}
	}
	return nil
}

// roundtrip issues wl_display.sync and pumps the socket until the
// callback fires. Events decoded on the way stay queued for Dispatch.
func (c *wireConn) roundtrip() error {
	cb := c.newID("wl_callback")
	c.syncWait = cb
	c.request(1, 0, cb) // wl_display.sync
	if err := c.Flush(); err != nil {
		return err
	}
	for c.syncWait != 0 {
		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if err := c.readAndDecode(); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch implements Conn: decode everything readable and hand back the
// resulting events.
func (c *wireConn) Dispatch() ([]Event, error) {
	if err := c.readAndDecode(); err != nil {
		return nil, err
	}
	evs := c.pending
	c.pending = nil
	return evs, nil
}

func (c *wireConn) readAndDecode() error {
	if c.fatal != nil {
		return c.fatal
	}
	tmp := make([]byte, 4096)
	for {
		n, err := unix.Read(c.fd, tmp)
		if n > 0 {
			c.inBuf = append(c.inBuf, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			return fmt.Errorf("reading display socket: %w", err)
		}
		if n == 0 {
			return errors.New("display connection closed")
		}
		if n < len(tmp) {
			break
		}
	}

	for len(c.inBuf) >= 8 {
		obj := binary.LittleEndian.Uint32(c.inBuf[0:4])
		word := binary.LittleEndian.Uint32(c.inBuf[4:8])
		size := int(word >> 16)
		opcode := int(word & 0xffff)
		if size < 8 {
			c.fatal = fmt.Errorf("protocol violation: message size %d", size)
			return c.fatal
		}
		if len(c.inBuf) < size {
			break
		}
		c.handle(obj, opcode, c.inBuf[8:size])
		c.inBuf = c.inBuf[size:]
		if c.fatal != nil {
			return c.fatal
		}
	}
	return nil
}

// reader decodes message body arguments.
type reader struct{ b []byte }

func (r *reader) u32() uint32 {
	if len(r.b) < 4 {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) fixed() float64 { return float64(r.i32()) / 256 }

func (r *reader) str() string {
	n := int(r.u32())
	if n == 0 || len(r.b) < n {
		return ""
	}
	s := string(r.b[:n-1]) // strip NUL
	pad := (n + 3) &^ 3
	if pad > len(r.b) {
		pad = len(r.b)
	}
	r.b = r.b[pad:]
	return s
}

func (c *wireConn) handle(obj uint32, opcode int, body []byte) {
	r := &reader{b: body}
	switch c.ifaces[obj] {
	case "wl_display":
		switch opcode {
		case 0: // error
			errObj := r.u32()
			code := r.u32()
			msg := r.str()
			c.fatal = fmt.Errorf("protocol error on object %d (%s): code %d: %s",
				errObj, c.ifaces[errObj], code, msg)
		case 1: // delete_id
			delete(c.ifaces, r.u32())
		}
	case "wl_registry":
		switch opcode {
		case 0:
			c.handleGlobal(r.u32(), r.str(), r.u32())
		case 1:
			c.handleGlobalRemove(r.u32())
		}
	case "wl_callback":
		if opcode == 0 {
			c.handleCallbackDone(obj)
		}
	case "wl_output":
		c.handleOutput(obj, opcode, r)
	case "wl_seat":
		if opcode == 0 { // capabilities
			caps := r.u32()
			if caps&1 != 0 && c.pointer == 0 {
				c.pointer = c.newID("wl_pointer")
				c.request(c.seat, 0, c.pointer) // wl_seat.get_pointer
			}
		}
	case "wl_pointer":
		c.handlePointer(opcode, r)
	case "wl_buffer":
		if opcode == 0 { // release
			if wb, ok := c.buffers[obj]; ok {
				if s := c.surfaceForBuffer(wb); s != nil {
					c.pending = append(c.pending, BufferReleased{Output: s.outputID, BufferID: wb.localID})
				}
			}
		}
	case "zwlr_layer_surface_v1":
		c.handleLayerSurface(obj, opcode, r)
	case "wl_shm":
		// format announcements, not needed
	}
}

func (c *wireConn) handleGlobal(name uint32, iface string, version uint32) {
	bind := func(want uint32, as string) uint32 {
		if version < want {
			want = version
		}
		id := c.newID(as)
		c.request(c.registry, 0, name, as, want, id)
		return id
	}
	switch iface {
	case "wl_compositor":
		c.compositor = bind(4, iface)
	case "wl_shm":
		c.shm = bind(1, iface)
	case "zwlr_layer_shell_v1":
		c.layerShell = bind(4, iface)
	case "wl_seat":
		c.seat = bind(5, iface)
	case "wl_output":
		id := bind(4, iface)
		c.outputs[id] = &outputState{id: id, globalName: name, info: OutputInfo{Scale: 1}}
	}
}

func (c *wireConn) handleGlobalRemove(name uint32) {
	for id, out := range c.outputs {
		if out.globalName == name {
			if out.announced {
				c.pending = append(c.pending, OutputRemoved{ID: id})
			}
			delete(c.outputs, id)
			return
		}
	}
}

func (c *wireConn) handleCallbackDone(obj uint32) {
	if obj == c.syncWait {
		c.syncWait = 0
		return
	}
	if s, ok := c.frameCallbacks[obj]; ok {
		delete(c.frameCallbacks, obj)
		if !s.destroyed {
			c.pending = append(c.pending, FrameDone{Output: s.outputID})
		}
	}
}

func (c *wireConn) handleOutput(obj uint32, opcode int, r *reader) {
	out, ok := c.outputs[obj]
	if !ok {
		return
	}
	switch opcode {
	case 0: // geometry
		r.i32() // x
		r.i32() // y
		r.i32() // physical width
		r.i32() // physical height
		r.i32() // subpixel
		out.info.Make = r.str()
		out.info.Model = r.str()
	case 1: // mode
		flags := r.u32()
		w := r.i32()
		h := r.i32()
		if flags&1 != 0 { // current mode
			out.info.Width = int(w)
			out.info.Height = int(h)
		}
	case 2: // done
		if !out.announced {
			out.announced = true
			c.pending = append(c.pending, OutputAdded{ID: obj, Info: out.info})
		}
	case 3: // scale
		out.info.Scale = int(r.i32())
	case 4: // name
		out.info.Name = r.str()
	case 5: // description
		out.info.Description = r.str()
	}
}

func (c *wireConn) handlePointer(opcode int, r *reader) {
	switch opcode {
	case 0: // enter
		r.u32() // serial
		surf := r.u32()
		c.pointerX = r.fixed()
		c.pointerY = r.fixed()
		if s, ok := c.surfaces[surf]; ok {
			c.pointerFocus = s.outputID
		}
	case 1: // leave
		c.pointerFocus = 0
	case 2: // motion
		r.u32() // time
		c.pointerX = r.fixed()
		c.pointerY = r.fixed()
		if c.pointerFocus != 0 {
			c.pending = append(c.pending, PointerMotion{Output: c.pointerFocus, X: c.pointerX, Y: c.pointerY})
		}
	case 3: // button
		r.u32() // serial
		r.u32() // time
		button := r.u32()
		state := r.u32()
		if state == 1 && c.pointerFocus != 0 { // pressed
			c.pending = append(c.pending, PointerButton{Output: c.pointerFocus, X: c.pointerX, Y: c.pointerY, Button: button})
		}
	}
}

func (c *wireConn) handleLayerSurface(obj uint32, opcode int, r *reader) {
	s, ok := c.layerSurfaces[obj]
	if !ok {
		return
	}
	switch opcode {
	case 0: // configure
		serial := r.u32()
		w := int(r.u32())
		h := int(r.u32())
		scale := 1
		if out, ok := c.outputs[s.outputID]; ok {
			if w == 0 {
				w = out.info.Width
			}
			if out.info.Scale > 0 {
				scale = out.info.Scale
			}
		}
		c.pending = append(c.pending, SurfaceConfigured{
			Output: s.outputID,
			Serial: serial,
			Width:  w,
			Height: h,
			Scale:  scale,
		})
	case 1: // closed
		c.pending = append(c.pending, SurfaceClosed{Output: s.outputID})
	}
}

func (c *wireConn) surfaceForBuffer(wb *wireBuffer) *wireSurface {
	for _, s := range c.surfaces {
		for _, b := range s.buffers {
			if b == wb {
				return s
			}
		}
	}
	return nil
}

// CreateSurface implements Conn: compositor surface + layer surface with
// the bar geometry, committed so the server starts the configure
// handshake.
func (c *wireConn) CreateSurface(outputID uint32, cfg SurfaceConfig) (Surface, error) {
	if _, ok := c.outputs[outputID]; !ok {
		return nil, fmt.Errorf("unknown output %d", outputID)
	}
	s := &wireSurface{
		conn:     c,
		outputID: outputID,
		buffers:  make(map[int]*wireBuffer),
	}
	s.surfaceID = c.newID("wl_surface")
	c.request(c.compositor, 0, s.surfaceID) // create_surface

	var layer uint32
	switch cfg.Layer {
	case "background":
		layer = layerBackground
	case "", "bottom":
		layer = layerBottom
	case "top":
		layer = layerTop
	case "overlay":
		layer = layerOverlay
	default:
		return nil, fmt.Errorf("unknown layer %q", cfg.Layer)
	}
	s.layerID = c.newID("zwlr_layer_surface_v1")
	c.request(c.layerShell, 0, s.layerID, s.surfaceID, outputID, layer, "rwaybar")

	anchor := uint32(anchorLeftBit | anchorRightBit)
	if cfg.Anchor == AnchorTop {
		anchor |= anchorTopBit
	} else {
		anchor |= anchorBottomBit
	}
	c.request(s.layerID, 0, uint32(0), uint32(cfg.Height)) // set_size
	c.request(s.layerID, 1, anchor)                        // set_anchor
	c.request(s.layerID, 2, int32(cfg.ExclusiveZone))      // set_exclusive_zone
	c.request(s.surfaceID, 6)                              // commit

	c.surfaces[s.surfaceID] = s
	c.layerSurfaces[s.layerID] = s
	return s, nil
}

// AckConfigure implements Surface.
func (s *wireSurface) AckConfigure(serial uint32) {
	s.conn.request(s.layerID, 6, serial)
}

// Attach implements Surface: stage the buffer and its damage.
func (s *wireSurface) Attach(buf Buffer, damage []Rect) {
	wb, err := s.wireBufferFor(buf)
	if err != nil {
		s.conn.logger.Error("creating shm buffer", "error", err)
		return
	}
	s.conn.request(s.surfaceID, 1, wb.bufID, int32(0), int32(0)) // attach
	for _, d := range damage {
		if d.Empty() {
			continue
		}
		s.conn.request(s.surfaceID, 9, // damage_buffer
			int32(d.X), int32(d.Y), int32(d.W), int32(d.H))
	}
}

// wireBufferFor maps a pool buffer to its server-side wl_buffer, creating
// or recreating it when the buffer is new or was resized.
func (s *wireSurface) wireBufferFor(buf Buffer) (*wireBuffer, error) {
	w, h, stride := buf.Size()
	wb, ok := s.buffers[buf.ID()]
	if ok && wb.width == w && wb.height == h {
		return wb, nil
	}
	if ok {
		s.destroyWireBuffer(wb)
	}

	poolID := s.conn.newID("wl_shm_pool")
	// wl_shm.create_pool(id, fd, size): the fd travels as ancillary data.
	if err := s.conn.requestFd(s.conn.shm, 0, buf.ShmFd(), poolID, int32(h*stride)); err != nil {
		return nil, err
	}
	bufID := s.conn.newID("wl_buffer")
	s.conn.request(poolID, 0, bufID, int32(0), int32(w), int32(h), int32(stride), uint32(shmFormatARGB8888))

	wb = &wireBuffer{bufID: bufID, poolID: poolID, localID: buf.ID(), width: w, height: h}
	s.conn.buffers[bufID] = wb
	s.buffers[buf.ID()] = wb
	return wb, nil
}

func (s *wireSurface) destroyWireBuffer(wb *wireBuffer) {
	s.conn.request(wb.bufID, 0)  // wl_buffer.destroy
	s.conn.request(wb.poolID, 1) // wl_shm_pool.destroy
	delete(s.conn.buffers, wb.bufID)
	delete(s.buffers, wb.localID)
}

// DropBuffer implements Surface: reap the wl_buffer and wl_shm_pool of a
// buffer the pool no longer tracks, typically one that went stale across
// a resize.
func (s *wireSurface) DropBuffer(id int) {
	if wb, ok := s.buffers[id]; ok {
		s.destroyWireBuffer(wb)
	}
}

// RequestFrame implements Surface.
func (s *wireSurface) RequestFrame() {
	cb := s.conn.newID("wl_callback")
	s.conn.frameCallbacks[cb] = s
	s.conn.request(s.surfaceID, 3, cb) // frame
}

// Commit implements Surface.
func (s *wireSurface) Commit() {
	s.conn.request(s.surfaceID, 6)
}

// Destroy implements Surface.
func (s *wireSurface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, wb := range s.buffers {
		s.destroyWireBuffer(wb)
	}
	s.conn.request(s.layerID, 7) // zwlr_layer_surface_v1.destroy
	s.conn.request(s.surfaceID, 0)
	delete(s.conn.layerSurfaces, s.layerID)
	delete(s.conn.surfaces, s.surfaceID)
}
