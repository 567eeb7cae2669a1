package module

import (
	"context"
	"fmt"
	"time"

	"github.com/dvdsk/rwaybar/internal/format"
)

// Kind identifies a module variant. The set is closed; configuration names
// one of these.
type Kind int

const (
	KindStatic Kind = iota
	KindClock
	KindPropertyWatch
	KindVolume
	KindSubprocess
	KindComposite
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindClock:
		return "clock"
	case KindPropertyWatch:
		return "property"
	case KindVolume:
		return "volume"
	case KindSubprocess:
		return "exec"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "static", "text":
		return KindStatic, nil
	case "clock":
		return KindClock, nil
	case "property":
		return KindPropertyWatch, nil
	case "volume":
		return KindVolume, nil
	case "exec", "subprocess":
		return KindSubprocess, nil
	case "composite":
		return KindComposite, nil
	}
	return 0, fmt.Errorf("unknown module type %q", s)
}

// Wakeup is posted by a module goroutine when it has a new value. Err set
// means the module's data source failed; the registry degrades the module
// to an error-state value and the module keeps retrying on its own
// schedule.
type Wakeup struct {
	Key   string
	Value format.Value
	Err   error
}

// Notifier delivers wakeups to the reactor loop. Implementations must be
// safe for concurrent use and must not block module goroutines for long.
type Notifier interface {
	Notify(w Wakeup)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(w Wakeup)

// Notify implements Notifier.
func (f NotifierFunc) Notify(w Wakeup) { f(w) }

// Module is one data source. Start launches the module's goroutine (if it
// has one) which posts wakeups to n until ctx is cancelled or Stop is
// called. Value state lives in the Registry, not the module.
type Module interface {
	Key() string
	Kind() Kind
	Start(ctx context.Context, n Notifier) error
	Stop()
}

// Def describes one module in validated configuration. Exactly the fields
// relevant to Kind are set; Build rejects inconsistent definitions.
type Def struct {
	Key  string
	Kind Kind

	// Static
	Text string

	// Clock: tick alignment interval, minute or second granularity.
	Interval time.Duration

	// Subprocess
	Command string
	Args    []string

	// PropertyWatch
	Service   string
	Path      string
	Interface string
	Property  string

	// Composite
	Expr string
}
