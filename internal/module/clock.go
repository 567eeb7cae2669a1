package module

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvdsk/rwaybar/internal/format"
)

// Clock produces the current time as a record with per-component fields.
// It wakes on a timer aligned to the next interval boundary rather than a
// fixed period, so ticks land on :00 and the display never drifts.
type Clock struct {
	key      string
	interval time.Duration
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewClock creates a clock module. interval must be a second or minute
// granularity; zero defaults to one minute.
func NewClock(key string, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Clock{
		key:      key,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (c *Clock) Key() string { return c.key }

func (c *Clock) Kind() Kind { return KindClock }

// Start posts the current time immediately, then ticks on boundaries.
func (c *Clock) Start(ctx context.Context, n Notifier) error {
	n.Notify(Wakeup{Key: c.key, Value: c.valueAt(c.now())})
	go c.run(ctx, n)
	return nil
}

func (c *Clock) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
}

func (c *Clock) run(ctx context.Context, n Notifier) {
	defer close(c.doneCh)

	timer := time.NewTimer(c.untilNextBoundary())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-timer.C:
			n.Notify(Wakeup{Key: c.key, Value: c.valueAt(c.now())})
			timer.Reset(c.untilNextBoundary())
		}
	}
}

// untilNextBoundary returns the duration to the next interval boundary,
// never zero so a slow wakeup cannot spin.
func (c *Clock) untilNextBoundary() time.Duration {
	now := c.now()
	next := now.Truncate(c.interval).Add(c.interval)
	d := next.Sub(now)
	if d <= 0 {
		d = c.interval
	}
	return d
}

// valueAt formats t into the clock's record value.
func (c *Clock) valueAt(t time.Time) format.Value {
	text := t.Format("15:04")
	if c.interval < time.Minute {
		text = t.Format("15:04:05")
	}
	return format.Record(map[string]string{
		"text":    text,
		"h":       fmt.Sprintf("%02d", t.Hour()),
		"m":       fmt.Sprintf("%02d", t.Minute()),
		"s":       fmt.Sprintf("%02d", t.Second()),
		"day":     fmt.Sprintf("%02d", t.Day()),
		"month":   fmt.Sprintf("%02d", int(t.Month())),
		"year":    fmt.Sprintf("%04d", t.Year()),
		"weekday": strings.ToLower(t.Weekday().String()),
	})
}
