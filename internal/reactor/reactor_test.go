package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvdsk/rwaybar/internal/format"
	"github.com/dvdsk/rwaybar/internal/module"
	"github.com/dvdsk/rwaybar/internal/surface"
	"github.com/dvdsk/rwaybar/internal/wayland"
	"github.com/dvdsk/rwaybar/internal/widget"
)

type fakeSurface struct {
	mu        sync.Mutex
	attaches  int
	commits   int
	frameReqs int
	destroyed bool
}

func (f *fakeSurface) AckConfigure(uint32) {}
func (f *fakeSurface) Attach(wayland.Buffer, []wayland.Rect) {
	f.mu.Lock()
	f.attaches++
	f.mu.Unlock()
}
func (f *fakeSurface) DropBuffer(int) {}
func (f *fakeSurface) RequestFrame() {
	f.mu.Lock()
	f.frameReqs++
	f.mu.Unlock()
}
func (f *fakeSurface) Commit() {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
}
func (f *fakeSurface) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}

func (f *fakeSurface) snapshot() (attaches, commits int, destroyed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches, f.commits, f.destroyed
}

// scriptConn feeds scripted event batches to the loop through the Ready
// test hook.
type scriptConn struct {
	mu       sync.Mutex
	batches  [][]wayland.Event
	err      error
	ready    chan struct{}
	surfaces []*fakeSurface
}

func newScriptConn() *scriptConn {
	return &scriptConn{ready: make(chan struct{}, 64)}
}

func (c *scriptConn) push(evs ...wayland.Event) {
	c.mu.Lock()
	c.batches = append(c.batches, evs)
	c.mu.Unlock()
	c.ready <- struct{}{}
}

func (c *scriptConn) failNextDispatch(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.ready <- struct{}{}
}

func (c *scriptConn) Fd() int { return -1 }

func (c *scriptConn) Dispatch() ([]wayland.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	batch := c.batches[0]
	c.batches = c.batches[1:]
	return batch, nil
}

func (c *scriptConn) Flush() error { return nil }

func (c *scriptConn) CreateSurface(uint32, wayland.SurfaceConfig) (wayland.Surface, error) {
	s := &fakeSurface{}
	c.mu.Lock()
	c.surfaces = append(c.surfaces, s)
	c.mu.Unlock()
	return s, nil
}

func (c *scriptConn) surface(i int) *fakeSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.surfaces) {
		return nil
	}
	return c.surfaces[i]
}

func testRegistry(t *testing.T) *module.Registry {
	t.Helper()
	reg, err := module.Build([]module.Def{
		{Key: "vol", Kind: module.KindStatic, Text: "50%"},
	}, module.BuildOptions{})
	require.NoError(t, err)
	return reg
}

func testBars() []BarSpec {
	return []BarSpec{{
		Surface:    wayland.SurfaceConfig{Height: 24},
		Background: "#202020",
		Widgets: []widget.Def{
			{Name: "vol", Group: "left", Source: "vol", Template: "{text}", Padding: 4},
		},
	}}
}

type testLoop struct {
	r      *Reactor
	conn   *scriptConn
	cancel context.CancelFunc
	done   chan error
}

func startLoop(t *testing.T) *testLoop {
	t.Helper()
	conn := newScriptConn()
	r := New(Options{
		Conn:     conn,
		Registry: testRegistry(t),
		Bars:     testBars(),
		Ready:    conn.ready,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("reactor did not stop")
		}
	})
	l := &testLoop{r: r, conn: conn, cancel: cancel, done: done}
	// Two full ticks let the static module's startup wakeup settle before
	// tests start scripting events.
	l.onLoop(t, func() {})
	l.onLoop(t, func() {})
	return l
}

// onLoop runs fn on the loop goroutine and waits for it.
func (l *testLoop) onLoop(t *testing.T, fn func()) {
	t.Helper()
	ran := make(chan struct{})
	l.r.Do(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not run scheduled func")
	}
}

func (l *testLoop) state(t *testing.T, output uint32) surface.State {
	t.Helper()
	var s surface.State = -1
	l.onLoop(t, func() {
		if c, ok := l.r.controllers[output]; ok {
			s = c.State()
		}
	})
	return s
}

func (l *testLoop) waitState(t *testing.T, output uint32, want surface.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.state(t, output) == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func mapSurface(t *testing.T, l *testLoop) *fakeSurface {
	t.Helper()
	l.conn.push(
		wayland.OutputAdded{ID: 1, Info: wayland.OutputInfo{Name: "eDP-1"}},
		wayland.SurfaceConfigured{Output: 1, Serial: 1, Width: 200, Height: 24, Scale: 1},
	)
	l.waitState(t, 1, surface.StateRepainting)
	l.conn.push(wayland.FrameDone{Output: 1})
	l.waitState(t, 1, surface.StateReady)
	s := l.conn.surface(0)
	require.NotNil(t, s)
	return s
}

func TestReactor_OutputLifecycle(t *testing.T) {
	l := startLoop(t)
	s := mapSurface(t, l)

	attaches, commits, _ := s.snapshot()
	assert.Equal(t, 1, attaches, "initial configure paints once")
	assert.Equal(t, 1, commits)

	l.conn.push(wayland.OutputRemoved{ID: 1})
	require.Eventually(t, func() bool {
		_, _, destroyed := s.snapshot()
		return destroyed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, surface.State(-1), l.state(t, 1), "controller dropped")
}

func TestReactor_BurstCoalescesToOneRepaint(t *testing.T) {
	l := startLoop(t)
	s := mapSurface(t, l)
	_, commitsBefore, _ := s.snapshot()

	// Five updates land in one tick; the loop must schedule one repaint
	// reflecting the last value.
	notify := l.r.Notifier()
	l.onLoop(t, func() {
		for i := 0; i < 5; i++ {
			notify.Notify(module.Wakeup{
				Key:   "vol",
				Value: format.Record(map[string]string{"text": []string{"10%", "20%", "30%", "40%", "55%"}[i]}),
			})
		}
	})

	l.waitState(t, 1, surface.StateDirty)
	_, commits, _ := s.snapshot()
	assert.Equal(t, commitsBefore+1, commits, "one frame request commit for the whole burst")

	var last format.Value
	l.onLoop(t, func() { last, _ = l.r.reg.Lookup("vol") })
	assert.Equal(t, "55%", last.String(), "repaint sees the last value of the batch")

	attachesBefore, _, _ := s.snapshot()
	l.conn.push(wayland.FrameDone{Output: 1})
	l.waitState(t, 1, surface.StateRepainting)
	attaches, _, _ := s.snapshot()
	assert.Equal(t, attachesBefore+1, attaches, "exactly one repaint for the burst")
}

func TestReactor_IdleModuleCausesNoRepaint(t *testing.T) {
	l := startLoop(t)
	s := mapSurface(t, l)
	_, commitsBefore, _ := s.snapshot()

	notify := l.r.Notifier()
	same := format.Text("50%")
	for i := 0; i < 20; i++ {
		notify.Notify(module.Wakeup{Key: "vol", Value: same})
	}

	// Force a full loop round-trip, then check nothing was scheduled.
	l.onLoop(t, func() {})
	assert.Equal(t, surface.StateReady, l.state(t, 1))
	_, commits, _ := s.snapshot()
	assert.Equal(t, commitsBefore, commits, "unchanged values must not repaint")
}

func TestReactor_DispatchFailureIsFatal(t *testing.T) {
	l := startLoop(t)
	mapSurface(t, l)

	l.conn.failNextDispatch(errors.New("connection reset"))
	select {
	case err := <-l.done:
		require.Error(t, err)
		assert.ErrorContains(t, err, "connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not exit on protocol failure")
	}
}

func TestReactor_CleanShutdown(t *testing.T) {
	l := startLoop(t)
	mapSurface(t, l)

	l.cancel()
	select {
	case err := <-l.done:
		assert.NoError(t, err, "signal-requested shutdown is clean")
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not exit on cancel")
	}
}

func TestReactor_ClickResolvesWidget(t *testing.T) {
	l := startLoop(t)

	type click struct {
		output uint32
		widget string
		button uint32
	}
	clicks := make(chan click, 1)
	l.r.SetClickHandler(func(output uint32, name string, button uint32) {
		clicks <- click{output, name, button}
	})
	mapSurface(t, l)

	l.conn.push(wayland.PointerButton{Output: 1, X: 5, Y: 12, Button: 0x110})
	select {
	case c := <-clicks:
		assert.Equal(t, click{1, "vol", 0x110}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("click was not dispatched")
	}

	// A click outside every widget is swallowed.
	l.conn.push(wayland.PointerButton{Output: 1, X: 199, Y: 12, Button: 0x110})
	l.onLoop(t, func() {})
	assert.Empty(t, clicks)
}

// The loop may answer a readiness token before the poller goroutine has
// reached its resume receive; the token must still be waiting when it
// gets there.
func TestReactor_ResumeTokenSurvivesSlowReceiver(t *testing.T) {
	r := New(Options{Conn: newScriptConn(), Registry: testRegistry(t)})
	r.resumePoller()
	select {
	case <-r.resume:
	default:
		t.Fatal("resume token was dropped with no receiver waiting")
	}
}

func TestReactor_PollerHandshakeSurvivesPreemption(t *testing.T) {
	l := startLoop(t)

	const cycles = 500
	completed := make(chan int, 1)
	go func() {
		// Mimics the fd poller: announce readiness, yield so the loop can
		// answer first, then wait for the go-ahead.
		for i := 0; i < cycles; i++ {
			l.conn.ready <- struct{}{}
			runtime.Gosched()
			select {
			case <-l.r.resume:
			case <-time.After(2 * time.Second):
				completed <- i
				return
			}
		}
		completed <- cycles
	}()

	select {
	case n := <-completed:
		assert.Equal(t, cycles, n, "handshake lost its resume token")
	case <-time.After(10 * time.Second):
		t.Fatal("handshake stalled")
	}
}

func TestReactor_TimerFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.onLoop(t, func() {
		l.r.After(10*time.Millisecond, func() { close(fired) })
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestReactor_ApplyConfigRebuildsSurfaces(t *testing.T) {
	l := startLoop(t)
	s := mapSurface(t, l)

	var applyErr error
	l.onLoop(t, func() {
		applyErr = l.r.ApplyConfig(context.Background(), []module.Def{
			{Key: "clock", Kind: module.KindClock, Interval: time.Minute},
		}, testBars())
	})
	require.NoError(t, applyErr)

	_, _, destroyed := s.snapshot()
	assert.True(t, destroyed, "old surface torn down on reload")
	require.NotNil(t, l.conn.surface(1), "new surface created for the known output")
}
