package wayland

// OutputInfo describes one physical display as announced by the server.
type OutputInfo struct {
	Name        string
	Make        string
	Model       string
	Description string
	Width       int
	Height      int
	Scale       int
}

// Rect is a damage rectangle in surface coordinates.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0 := min(r.X, o.X)
	y0 := min(r.Y, o.Y)
	x1 := max(r.X+r.W, o.X+o.W)
	y1 := max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Event is one protocol event decoded by Dispatch. The set is closed.
type Event interface{ isEvent() }

// OutputAdded announces a new output (hot-plug or initial enumeration).
type OutputAdded struct {
	ID   uint32
	Info OutputInfo
}

// OutputRemoved announces that an output disappeared. All surfaces on it
// are implicitly gone.
type OutputRemoved struct {
	ID uint32
}

// SurfaceConfigured delivers the size and scale the server assigned to a
// layer surface. It must be acknowledged before the next commit.
type SurfaceConfigured struct {
	Output uint32
	Serial uint32
	Width  int
	Height int
	Scale  int
}

// SurfaceClosed tells us the server destroyed our layer surface.
type SurfaceClosed struct {
	Output uint32
}

// FrameDone grants a previously requested frame callback: now is a good
// time to submit the next buffer.
type FrameDone struct {
	Output uint32
}

// BufferReleased returns ownership of an attached buffer to the client.
type BufferReleased struct {
	Output   uint32
	BufferID int
}

// PointerMotion reports pointer movement in surface coordinates.
type PointerMotion struct {
	Output uint32
	X, Y   float64
}

// PointerButton reports a button press on a surface.
type PointerButton struct {
	Output uint32
	X, Y   float64
	Button uint32
}

func (OutputAdded) isEvent()       {}
func (OutputRemoved) isEvent()     {}
func (SurfaceConfigured) isEvent() {}
func (SurfaceClosed) isEvent()     {}
func (FrameDone) isEvent()         {}
func (BufferReleased) isEvent()    {}
func (PointerMotion) isEvent()     {}
func (PointerButton) isEvent()     {}

// Buffer is what a surface can attach: a shared-memory buffer identified
// by a small integer the server echoes back in release events.
type Buffer interface {
	ID() int
	ShmFd() int
	Size() (w, h, stride int)
}

// Anchor selects the screen edge a bar docks to.
type Anchor int

const (
	AnchorBottom Anchor = iota
	AnchorTop
)

// SurfaceConfig is the requested geometry for a bar's layer surface.
type SurfaceConfig struct {
	Height        int
	ExclusiveZone int
	Anchor        Anchor
	Layer         string
}

// Surface is one on-screen drawable region (the bar panel on one output).
type Surface interface {
	// AckConfigure acknowledges a SurfaceConfigured event.
	AckConfigure(serial uint32)
	// Attach stages buf for the next commit and records its damage.
	Attach(buf Buffer, damage []Rect)
	// RequestFrame asks the server for a frame callback, delivered later
	// as a FrameDone event.
	RequestFrame()
	// DropBuffer destroys the server-side objects backing the buffer with
	// the given id, for buffers the pool has discarded for good.
	DropBuffer(id int)
	// Commit atomically applies staged state.
	Commit()
	// Destroy tears the surface down; no further events arrive for it.
	Destroy()
}

// Conn is the display connection capability: send messages, receive
// events. Dispatch decodes everything currently readable; Fd exposes the
// socket for readiness polling. A Dispatch or Flush error is fatal to the
// process, there is no reconnect.
type Conn interface {
	Fd() int
	Dispatch() ([]Event, error)
	Flush() error
	CreateSurface(outputID uint32, cfg SurfaceConfig) (Surface, error)
}
