// Package reactor runs the single event loop that owns all rendering
// state. It bridges display-protocol readiness, module wakeups and
// timers, draining everything ready in a tick before deciding which
// surfaces need a repaint, so a burst of module updates costs one
// dirty-mark per affected surface, not one per update.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dvdsk/rwaybar/internal/module"
	"github.com/dvdsk/rwaybar/internal/render"
	"github.com/dvdsk/rwaybar/internal/surface"
	"github.com/dvdsk/rwaybar/internal/wayland"
	"github.com/dvdsk/rwaybar/internal/widget"
)

// BarSpec describes the bar to place on matching outputs. An empty Match
// matches every output.
type BarSpec struct {
	Match      string
	Surface    wayland.SurfaceConfig
	Background string
	Widgets    []widget.Def
}

// Options configures a Reactor.
type Options struct {
	Logger   *slog.Logger
	Conn     wayland.Conn
	Registry *module.Registry
	Bars     []BarSpec
	Fonts    *render.FontStore
	Icons    *render.IconCache

	// Ready replaces the internal fd poller; each receive triggers one
	// Dispatch. Tests drive the loop through it.
	Ready <-chan struct{}
}

// ClickHandler receives pointer clicks resolved to a widget name.
type ClickHandler func(output uint32, widgetName string, button uint32)

// Reactor is the event loop. Run owns the registry and every surface
// controller; no other goroutine touches them.
type Reactor struct {
	logger *slog.Logger
	conn   wayland.Conn
	reg    *module.Registry
	bars   []BarSpec
	fonts  *render.FontStore
	icons  *render.IconCache

	wakeups  chan module.Wakeup
	funcs    chan func()
	timers   *timers
	ready    <-chan struct{}
	resume   chan struct{}
	pollErr  chan error
	loopDone chan struct{}

	controllers map[uint32]*surface.Controller
	outputs     map[uint32]wayland.OutputInfo

	onClick ClickHandler
}

// New creates a reactor; Run starts it.
func New(opts Options) *Reactor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fonts := opts.Fonts
	if fonts == nil {
		fonts = render.NewFontStore()
	}
	return &Reactor{
		logger:      logger,
		conn:        opts.Conn,
		reg:         opts.Registry,
		bars:        opts.Bars,
		fonts:       fonts,
		icons:       opts.Icons,
		wakeups:     make(chan module.Wakeup, 64),
		funcs:       make(chan func(), 16),
		timers:      newTimers(),
		ready:       opts.Ready,
		resume:      make(chan struct{}, 1),
		pollErr:     make(chan error, 1),
		loopDone:    make(chan struct{}),
		controllers: make(map[uint32]*surface.Controller),
		outputs:     make(map[uint32]wayland.OutputInfo),
	}
}

// SetClickHandler installs the pointer click callback. Set before Run.
func (r *Reactor) SetClickHandler(h ClickHandler) { r.onClick = h }

// Notifier returns the sink module goroutines post wakeups to. Posting
// after the loop has exited is a no-op instead of a deadlock.
func (r *Reactor) Notifier() module.Notifier {
	return module.NotifierFunc(func(w module.Wakeup) {
		select {
		case r.wakeups <- w:
		case <-r.loopDone:
		}
	})
}

// Do schedules fn onto the loop goroutine. Safe to call from any
// goroutine; used by the config watcher and other external callbacks.
func (r *Reactor) Do(fn func()) {
	select {
	case r.funcs <- fn:
	case <-r.loopDone:
	}
}

// After schedules fn on the loop after d. Loop goroutine only.
func (r *Reactor) After(d time.Duration, fn func()) {
	r.timers.after(d, fn)
}

// Registry exposes the module registry for functions scheduled via Do.
func (r *Reactor) Registry() *module.Registry { return r.reg }

// poll watches the protocol socket and hands readiness tokens to the
// loop, waiting for the loop to finish dispatching before polling again
// so a busy socket cannot flood the channel.
func (r *Reactor) poll(ctx context.Context, ready chan<- struct{}) {
	fd := r.conn.Fd()
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		_, err := unix.Poll(fds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			select {
			case r.pollErr <- fmt.Errorf("polling display socket: %w", err):
			default:
			}
			return
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			select {
			case r.pollErr <- errors.New("display socket closed"):
			default:
			}
			return
		}
		select {
		case ready <- struct{}{}:
		case <-ctx.Done():
			return
		}
		select {
		case <-r.resume:
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the registry and drives the loop until ctx is canceled
// (clean shutdown, nil) or the display connection fails (fatal, error).
func (r *Reactor) Run(ctx context.Context) error {
	// loopDone closes before shutdown so module goroutines blocked on the
	// wakeup channel unblock before Stop waits for them.
	defer r.shutdown()
	defer close(r.loopDone)

	if err := r.reg.Start(ctx, r.Notifier()); err != nil {
		return fmt.Errorf("starting modules: %w", err)
	}

	if r.ready == nil {
		ch := make(chan struct{})
		r.ready = ch
		go r.poll(ctx, ch)
	}

	// Initial dispatch picks up the outputs announced at connect time.
	if err := r.dispatch(); err != nil {
		return err
	}
	if err := r.conn.Flush(); err != nil {
		return fmt.Errorf("flushing display connection: %w", err)
	}

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if d, ok := r.timers.next(); ok {
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		changed := map[string]struct{}{}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case err := <-r.pollErr:
			stopTimer(timer)
			return err
		case <-r.ready:
			stopTimer(timer)
			if err := r.dispatch(); err != nil {
				return err
			}
			r.resumePoller()
		case w := <-r.wakeups:
			stopTimer(timer)
			r.applyWakeup(w, changed)
		case fn := <-r.funcs:
			stopTimer(timer)
			fn()
		case <-timerC:
			r.timers.fire()
		}

		// Drain whatever else became ready in this tick before deciding
		// on repaints, so a burst coalesces into one dirty-mark.
		if err := r.drain(changed); err != nil {
			return err
		}

		if len(changed) > 0 {
			keys := make([]string, 0, len(changed))
			for k := range changed {
				keys = append(keys, k)
			}
			for _, c := range r.controllers {
				if c.Bar().DirtyFor(keys) {
					c.MarkDirty()
				}
			}
		}

		if err := r.conn.Flush(); err != nil {
			return fmt.Errorf("flushing display connection: %w", err)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (r *Reactor) drain(changed map[string]struct{}) error {
	for {
		select {
		case w := <-r.wakeups:
			r.applyWakeup(w, changed)
		case fn := <-r.funcs:
			fn()
		case <-r.ready:
			if err := r.dispatch(); err != nil {
				return err
			}
			r.resumePoller()
		default:
			r.timers.fire()
			return nil
		}
	}
}

// resumePoller hands the poller its next go-ahead token. The channel is
// buffered so the token survives when the loop answers before the poller
// has reached its resume receive.
func (r *Reactor) resumePoller() {
	select {
	case r.resume <- struct{}{}:
	default:
	}
}

func (r *Reactor) applyWakeup(w module.Wakeup, changed map[string]struct{}) {
	if w.Err != nil {
		r.logger.Warn("module error", "module", w.Key, "error", w.Err)
	}
	for _, key := range r.reg.Apply(w) {
		changed[key] = struct{}{}
	}
}

// dispatch decodes and routes every event currently readable. Any
// protocol failure here is fatal to the loop.
func (r *Reactor) dispatch() error {
	events, err := r.conn.Dispatch()
	if err != nil {
		return fmt.Errorf("display protocol dispatch: %w", err)
	}
	for _, ev := range events {
		r.handleEvent(ev)
	}
	return nil
}

func (r *Reactor) handleEvent(ev wayland.Event) {
	switch e := ev.(type) {
	case wayland.OutputAdded:
		r.addOutput(e)
	case wayland.OutputRemoved:
		r.removeOutput(e.ID)
	case wayland.SurfaceConfigured:
		if c, ok := r.controllers[e.Output]; ok {
			c.Configure(e, r.reg)
		}
	case wayland.SurfaceClosed:
		if c, ok := r.controllers[e.Output]; ok {
			r.logger.Info("surface closed by server", "output", e.Output)
			c.Closed()
			delete(r.controllers, e.Output)
		}
	case wayland.FrameDone:
		if c, ok := r.controllers[e.Output]; ok {
			c.FrameDone(r.reg)
		}
	case wayland.BufferReleased:
		if c, ok := r.controllers[e.Output]; ok {
			c.BufferReleased(e.BufferID, r.reg)
		}
	case wayland.PointerButton:
		r.click(e)
	case wayland.PointerMotion:
		// Hover feedback is not part of the core; ignored.
	}
}

func (r *Reactor) addOutput(e wayland.OutputAdded) {
	r.outputs[e.ID] = e.Info
	if _, exists := r.controllers[e.ID]; exists {
		return
	}
	spec, ok := r.matchBar(e.Info)
	if !ok {
		r.logger.Debug("no bar configured for output", "output", e.ID, "name", e.Info.Name)
		return
	}
	bar, err := widget.BuildBar(spec.Widgets, widget.BarOptions{
		Logger: r.logger,
		Fonts:  r.fonts,
		Icons:  r.icons,
	})
	if err != nil {
		// Widget defs were validated at config load; failing here means a
		// config slipped through, so keep the output bar-less.
		r.logger.Error("building widget tree", "output", e.ID, "error", err)
		return
	}
	c, err := surface.New(r.logger, r.conn, e.ID, surface.Config{
		Surface:    spec.Surface,
		Background: spec.Background,
		Bar:        bar,
	})
	if err != nil {
		r.logger.Error("creating surface", "output", e.ID, "error", err)
		return
	}
	r.logger.Info("output added", "output", e.ID, "name", e.Info.Name)
	r.controllers[e.ID] = c
}

func (r *Reactor) removeOutput(id uint32) {
	delete(r.outputs, id)
	if c, ok := r.controllers[id]; ok {
		r.logger.Info("output removed", "output", id)
		c.Destroy()
		delete(r.controllers, id)
	}
}

// matchBar picks the first spec whose Match equals the output name, with
// an empty Match as the wildcard.
func (r *Reactor) matchBar(info wayland.OutputInfo) (BarSpec, bool) {
	for _, spec := range r.bars {
		if spec.Match == "" || spec.Match == info.Name {
			return spec, true
		}
	}
	return BarSpec{}, false
}

func (r *Reactor) click(e wayland.PointerButton) {
	c, ok := r.controllers[e.Output]
	if !ok || r.onClick == nil {
		return
	}
	if name := widget.HitTest(c.HitBoxes(), e.X, e.Y); name != "" {
		r.onClick(e.Output, name, e.Button)
	}
}

// ApplyConfig swaps in reloaded definitions: the registry is diffed and
// bar specs replace the old ones, with every surface rebuilt against the
// new widget tree. Must run on the loop goroutine (via Do).
func (r *Reactor) ApplyConfig(ctx context.Context, defs []module.Def, bars []BarSpec) error {
	if err := r.reg.Diff(ctx, defs, r.Notifier(), module.BuildOptions{Logger: r.logger}); err != nil {
		return fmt.Errorf("applying module config: %w", err)
	}
	r.bars = bars
	for id, c := range r.controllers {
		c.Destroy()
		delete(r.controllers, id)
	}
	for id, info := range r.outputs {
		r.addOutput(wayland.OutputAdded{ID: id, Info: info})
	}
	return nil
}

func (r *Reactor) shutdown() {
	r.reg.Stop()
	for id, c := range r.controllers {
		c.Destroy()
		delete(r.controllers, id)
	}
	if err := r.conn.Flush(); err != nil {
		r.logger.Debug("final flush failed", "error", err)
	}
}
