package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled callback. Deadlines come from time.Now and
// therefore carry the monotonic clock, so wall-clock jumps do not fire or
// starve timers.
type timerEntry struct {
	at  time.Time
	seq uint64
	fn  func()
}

type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// timers schedules callbacks on the loop goroutine. Not safe for
// concurrent use; only the reactor touches it.
type timers struct {
	heap timerHeap
	seq  uint64
	now  func() time.Time
}

func newTimers() *timers {
	return &timers{now: time.Now}
}

// after schedules fn to run once d has elapsed.
func (t *timers) after(d time.Duration, fn func()) {
	t.seq++
	heap.Push(&t.heap, timerEntry{at: t.now().Add(d), seq: t.seq, fn: fn})
}

// next returns the wait until the earliest deadline, and whether any
// timer is pending.
func (t *timers) next() (time.Duration, bool) {
	if len(t.heap) == 0 {
		return 0, false
	}
	d := t.heap[0].at.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// fire runs every callback whose deadline has passed, in deadline order.
func (t *timers) fire() {
	for len(t.heap) > 0 && !t.heap[0].at.After(t.now()) {
		e := heap.Pop(&t.heap).(timerEntry)
		e.fn()
	}
}
