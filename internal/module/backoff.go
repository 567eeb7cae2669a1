package module

import "time"

// Backoff defaults shared by subprocess respawn and audio reconnection.
// The curve is monotone and bounded: base, doubling per failure, held at
// the cap, reset after a sustained successful run.
const (
	backoffBase  = 250 * time.Millisecond
	backoffCap   = 30 * time.Second
	successReset = 30 * time.Second
)

// Backoff computes retry delays against a monotonic clock. It is not safe
// for concurrent use; each module goroutine owns its own.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	cur time.Duration
}

// NewBackoff returns a backoff with the shared defaults.
func NewBackoff() *Backoff {
	return &Backoff{Base: backoffBase, Cap: backoffCap}
}

// Next returns the delay to wait before the next attempt. Delays strictly
// increase until the cap, then hold.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Base
	} else if b.cur < b.Cap {
		b.cur *= 2
		if b.cur > b.Cap {
			b.cur = b.Cap
		}
	}
	return b.cur
}

// Reset clears the delay after a sustained successful run.
func (b *Backoff) Reset() {
	b.cur = 0
}

// Sustained reports whether a run that lasted d counts as successful enough
// to reset the curve.
func (b *Backoff) Sustained(d time.Duration) bool {
	return d >= successReset
}
