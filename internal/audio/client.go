package audio

import "context"

// State is a snapshot of the default sink.
type State struct {
	// Level is the volume in percent, 0-150.
	Level int
	// Muted reports whether the sink is muted.
	Muted bool
}

// Client watches the audio server. Watch blocks: it connects, delivers the
// current state, then delivers a state per change until ctx ends or the
// connection drops, in which case it returns the cause. Callers own
// reconnection policy.
type Client interface {
	Watch(ctx context.Context, fn func(State)) error
}

// ClientFunc adapts a function to the Client interface, used in tests.
type ClientFunc func(ctx context.Context, fn func(State)) error

// Watch implements Client.
func (f ClientFunc) Watch(ctx context.Context, fn func(State)) error {
	return f(ctx, fn)
}
