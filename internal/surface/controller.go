// Package surface drives one bar surface on one output through its
// lifecycle: configure handshake, damage tracking, frame-paced repaints
// and teardown. A controller is only ever touched by the reactor
// goroutine, so it carries no locks.
package surface

import (
	"fmt"
	"image/color"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/dvdsk/rwaybar/internal/buffer"
	"github.com/dvdsk/rwaybar/internal/format"
	"github.com/dvdsk/rwaybar/internal/render"
	"github.com/dvdsk/rwaybar/internal/wayland"
	"github.com/dvdsk/rwaybar/internal/widget"
)

// State is the controller's position in the surface lifecycle.
type State int

const (
	// StateUnmapped: no protocol surface exists yet.
	StateUnmapped State = iota
	// StateConfiguring: surface created, waiting for the server to assign
	// a size.
	StateConfiguring
	// StateReady: mapped and idle.
	StateReady
	// StateDirty: damage recorded, frame callback requested, waiting for
	// the server's permission to draw.
	StateDirty
	// StateRepainting: a buffer is committed and its pacing frame callback
	// is still outstanding.
	StateRepainting
	// StateDestroyed: torn down; every further event is ignored.
	StateDestroyed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnmapped:
		return "unmapped"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateDirty:
		return "dirty"
	case StateRepainting:
		return "repainting"
	case StateDestroyed:
		return "destroyed"
	}
	return "invalid"
}

// Config describes the bar to put on an output.
type Config struct {
	Surface    wayland.SurfaceConfig
	Background string
	Bar        *widget.Bar
}

// Controller owns the surface, its buffer pool and its painted state for
// one output.
type Controller struct {
	logger *slog.Logger
	output uint32
	surf   wayland.Surface
	pool   *buffer.Pool
	bar    *widget.Bar
	bg     color.NRGBA

	state   State
	width   int
	height  int
	scale   int
	damage  wayland.Rect
	dirty   bool
	pending bool

	hitBoxes []widget.HitBox
}

// New creates the protocol surface for output and starts the configure
// handshake. The returned controller is in StateConfiguring.
func New(logger *slog.Logger, conn wayland.Conn, output uint32, cfg Config) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bg, err := render.ParseColor(cfg.Background)
	if err != nil {
		return nil, fmt.Errorf("surface background: %w", err)
	}
	surf, err := conn.CreateSurface(output, cfg.Surface)
	if err != nil {
		return nil, fmt.Errorf("creating surface on output %d: %w", output, err)
	}
	logger = logger.With("output", output, "surface", ulid.Make().String())
	c := &Controller{
		logger: logger,
		output: output,
		surf:   surf,
		pool:   buffer.NewPool(logger),
		bar:    cfg.Bar,
		bg:     bg,
		state:  StateConfiguring,
		scale:  1,
	}
	logger.Debug("surface created", "state", c.state.String())
	return c, nil
}

// Output returns the output id this controller serves.
func (c *Controller) Output() uint32 { return c.output }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// HitBoxes returns the widget bounds from the most recent paint, for
// pointer dispatch.
func (c *Controller) HitBoxes() []widget.HitBox { return c.hitBoxes }

// Bar returns the widget tree, for dirtiness checks by the reactor.
func (c *Controller) Bar() *widget.Bar { return c.bar }

// Configure handles a server size assignment. The first configure paints
// the initial buffer; later ones are resizes and go through the normal
// damage path.
func (c *Controller) Configure(ev wayland.SurfaceConfigured, env format.Env) {
	if c.state == StateDestroyed {
		return
	}
	c.surf.AckConfigure(ev.Serial)
	resized := ev.Width != c.width || ev.Height != c.height
	c.width, c.height, c.scale = ev.Width, ev.Height, ev.Scale
	if resized {
		c.pool.Resize(c.width, c.height)
		c.markDamage(wayland.Rect{X: 0, Y: 0, W: c.width, H: c.height})
	}
	if c.state == StateConfiguring {
		c.repaint(env)
		return
	}
	if resized {
		c.MarkDirty()
	}
}

func (c *Controller) markDamage(r wayland.Rect) {
	c.damage = c.damage.Union(r)
	c.dirty = true
}

// MarkDirty records that displayed values changed and schedules a
// repaint under frame pacing. Damage recorded while a repaint is in
// flight carries forward to the next one.
func (c *Controller) MarkDirty() {
	switch c.state {
	case StateDestroyed, StateUnmapped:
		return
	case StateConfiguring:
		// No size yet; the configure paint will cover it.
		c.dirty = true
		return
	}
	c.markDamage(wayland.Rect{X: 0, Y: 0, W: c.width, H: c.height})
	if c.state == StateReady {
		// Dirty and Repainting already have a frame callback outstanding.
		c.surf.RequestFrame()
		c.surf.Commit()
		c.state = StateDirty
	}
}

// FrameDone handles the server's frame callback: the cue that drawing
// now will actually reach the screen.
func (c *Controller) FrameDone(env format.Env) {
	switch c.state {
	case StateDirty:
		c.repaint(env)
	case StateRepainting:
		if c.dirty {
			c.repaint(env)
		} else {
			c.state = StateReady
		}
	}
}

// BufferReleased handles the server returning a buffer. A deferred
// repaint retries as soon as a buffer is writable again. Buffers the
// pool dropped as stale take their protocol objects with them.
func (c *Controller) BufferReleased(id int, env format.Env) {
	if c.state == StateDestroyed {
		return
	}
	if !c.pool.Release(id) {
		c.surf.DropBuffer(id)
		return
	}
	if c.pending {
		c.repaint(env)
	}
}

// repaint paints the full tree into a fresh buffer and commits it. If no
// buffer is writable the repaint defers rather than blocking.
func (c *Controller) repaint(env format.Env) {
	if c.width <= 0 || c.height <= 0 {
		return
	}
	buf := c.pool.Acquire()
	if buf == nil {
		c.pending = true
		return
	}
	c.pending = false

	w, h, stride := buf.Size()
	canvas := render.NewCanvas(buf.Bytes(), w, h, stride)
	canvas.Clear(c.bg)
	c.hitBoxes = c.bar.Paint(canvas, env)
	canvas.Finalize()

	damage := c.damage
	if damage.Empty() {
		damage = wayland.Rect{X: 0, Y: 0, W: w, H: h}
	}
	c.surf.Attach(buf, []wayland.Rect{damage})
	c.surf.RequestFrame()
	c.surf.Commit()
	c.pool.Submit(buf)

	c.damage = wayland.Rect{}
	c.dirty = false
	prev := c.state
	c.state = StateRepainting
	c.logger.Debug("frame committed", "buffer", buf.ID(), "from", prev.String())
}

// Closed handles the server closing the surface out from under us.
func (c *Controller) Closed() {
	c.teardown("closed by server")
}

// Destroy tears the surface down on output removal. In-flight buffers
// are discarded, not awaited.
func (c *Controller) Destroy() {
	c.teardown("output removed")
}

func (c *Controller) teardown(reason string) {
	if c.state == StateDestroyed {
		return
	}
	c.state = StateDestroyed
	c.pending = false
	c.dirty = false
	c.surf.Destroy()
	c.pool.Close()
	c.logger.Debug("surface destroyed", "reason", reason)
}
