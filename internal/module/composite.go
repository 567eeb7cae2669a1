package module

import (
	"context"

	"github.com/dvdsk/rwaybar/internal/format"
)

// Composite derives its value from other modules via an expression. It has
// no goroutine and posts no wakeups of its own: the registry re-evaluates
// it whenever a dependency changes. Cyclic dependencies are rejected when
// the registry is built.
type Composite struct {
	key  string
	src  string
	expr *format.Expr
}

// NewComposite creates a composite module from an already-parsed
// expression. src is the original expression text, kept for reload
// diffing.
func NewComposite(key, src string, expr *format.Expr) *Composite {
	return &Composite{key: key, src: src, expr: expr}
}

func (c *Composite) Key() string { return c.key }

func (c *Composite) Kind() Kind { return KindComposite }

// Deps returns the module keys the expression references.
func (c *Composite) Deps() []string { return c.expr.Refs() }

// Eval computes the current value against the registry environment.
func (c *Composite) Eval(env format.Env) format.Value {
	return c.expr.Eval(env)
}

func (c *Composite) Start(context.Context, Notifier) error { return nil }

func (c *Composite) Stop() {}
