package module

import (
	"context"

	"github.com/dvdsk/rwaybar/internal/format"
)

// Static is a module whose value is fixed at configuration time. It has no
// goroutine; its only wakeup is the initial value posted from Start.
type Static struct {
	key   string
	value format.Value
}

// NewStatic creates a static text module.
func NewStatic(key, text string) *Static {
	return &Static{key: key, value: format.Text(text)}
}

func (s *Static) Key() string { return s.key }

func (s *Static) Kind() Kind { return KindStatic }

// Start posts the fixed value once.
func (s *Static) Start(_ context.Context, n Notifier) error {
	n.Notify(Wakeup{Key: s.key, Value: s.value})
	return nil
}

func (s *Static) Stop() {}
