// Package widget builds the per-surface layout tree from validated
// configuration and paints it. Widgets reference modules by key only;
// the registry stays the single owner of module state, and painting
// reads values through the format.Env snapshot it is handed.
package widget

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/dvdsk/rwaybar/internal/format"
	"github.com/dvdsk/rwaybar/internal/render"
)

// Group places a widget in one of the bar's three layout regions.
type Group int

const (
	GroupLeft Group = iota
	GroupCenter
	GroupRight
)

// ParseGroup maps a config string to a Group.
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(s) {
	case "", "left":
		return GroupLeft, nil
	case "center", "centre":
		return GroupCenter, nil
	case "right":
		return GroupRight, nil
	}
	return 0, fmt.Errorf("unknown widget group %q", s)
}

// StyleRule is a conditional style override: when If evaluates truthy
// against the current values, its non-empty fields replace the base
// style's.
type StyleRule struct {
	If         string
	Foreground string
	Background string
}

// Def is one widget as described by configuration. Colors, templates and
// expressions are still strings here; Build validates them.
type Def struct {
	Name       string
	Group      string
	Source     string // module key providing the local value scope
	Template   string
	Icon       string
	IconSize   int
	Foreground string
	Background string
	Border     int
	BorderCol  string
	Padding    int
	FontSize   float64
	Rules      []StyleRule
}

type style struct {
	fg        color.NRGBA
	bg        color.NRGBA
	border    int
	borderCol color.NRGBA
	padding   int
	fontSize  float64
}

type styleRule struct {
	cond *format.Expr
	fg   *color.NRGBA
	bg   *color.NRGBA
}

// Widget is one built node. Immutable after Build except for its
// measurement memo, which caches shaped text keyed by the rendered
// string.
type Widget struct {
	name     string
	source   string
	tmpl     *format.Template
	icon     string
	iconSize int
	base     style
	rules    []styleRule
	deps     map[string]struct{}

	lastText  string
	lastWidth int
}

// Name returns the widget's config name, used in hit boxes.
func (w *Widget) Name() string { return w.name }

// DependsOn reports whether a change to the given module key affects
// this widget.
func (w *Widget) DependsOn(key string) bool {
	_, ok := w.deps[key]
	return ok
}

func parseColorField(what, s string, dst *color.NRGBA) error {
	if s == "" {
		return nil
	}
	c, err := render.ParseColor(s)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	*dst = c
	return nil
}

// Build validates one widget definition. Template, expression and color
// errors surface here, before the event loop starts.
func Build(def Def) (*Widget, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("widget without a name")
	}
	w := &Widget{
		name:     def.Name,
		source:   def.Source,
		icon:     def.Icon,
		iconSize: def.IconSize,
		base: style{
			fg:       color.NRGBA{0xff, 0xff, 0xff, 0xff},
			border:   def.Border,
			padding:  def.Padding,
			fontSize: def.FontSize,
		},
		deps: make(map[string]struct{}),
	}
	if w.base.fontSize == 0 {
		w.base.fontSize = 13
	}
	if err := parseColorField("foreground", def.Foreground, &w.base.fg); err != nil {
		return nil, fmt.Errorf("widget %q: %w", def.Name, err)
	}
	if err := parseColorField("background", def.Background, &w.base.bg); err != nil {
		return nil, fmt.Errorf("widget %q: %w", def.Name, err)
	}
	if err := parseColorField("border-color", def.BorderCol, &w.base.borderCol); err != nil {
		return nil, fmt.Errorf("widget %q: %w", def.Name, err)
	}

	if def.Template != "" {
		tmpl, err := format.Parse(def.Template)
		if err != nil {
			return nil, fmt.Errorf("widget %q: %w", def.Name, err)
		}
		w.tmpl = tmpl
		w.addRefs(tmpl.Refs())
	}

	for i, r := range def.Rules {
		if r.If == "" {
			return nil, fmt.Errorf("widget %q: style rule %d without a condition", def.Name, i)
		}
		cond, err := format.ParseExpr(r.If)
		if err != nil {
			return nil, fmt.Errorf("widget %q: style rule %d: %w", def.Name, i, err)
		}
		sr := styleRule{cond: cond}
		if r.Foreground != "" {
			var c color.NRGBA
			if err := parseColorField("foreground", r.Foreground, &c); err != nil {
				return nil, fmt.Errorf("widget %q: style rule %d: %w", def.Name, i, err)
			}
			sr.fg = &c
		}
		if r.Background != "" {
			var c color.NRGBA
			if err := parseColorField("background", r.Background, &c); err != nil {
				return nil, fmt.Errorf("widget %q: style rule %d: %w", def.Name, i, err)
			}
			sr.bg = &c
		}
		w.rules = append(w.rules, sr)
		w.addRefs(cond.Refs())
	}

	if w.source != "" {
		w.deps[w.source] = struct{}{}
	}
	return w, nil
}

// addRefs records the module keys behind a set of variable references.
// Bare names resolve against the widget's source module when one is set,
// otherwise the first dotted segment is the module key.
func (w *Widget) addRefs(refs []string) {
	for _, ref := range refs {
		key, _, dotted := strings.Cut(ref, ".")
		if !dotted && w.source != "" {
			continue // field of the source module, already tracked
		}
		w.deps[key] = struct{}{}
	}
}

// env returns the evaluation scope for this widget: the source module's
// value (when set) layered over the global registry scope.
func (w *Widget) env(global format.Env) format.Env {
	if w.source == "" {
		return global
	}
	local, ok := global.Lookup(w.source)
	if !ok {
		return global
	}
	return format.ScopedEnv{Local: local, Outer: global}
}

// text renders the widget's template against env.
func (w *Widget) text(env format.Env) string {
	if w.tmpl == nil {
		return ""
	}
	return w.tmpl.Render(env)
}

// effectiveStyle applies the first matching conditional rule over the
// base style.
func (w *Widget) effectiveStyle(env format.Env) style {
	s := w.base
	for _, r := range w.rules {
		if r.cond.Eval(env).Truthy() {
			if r.fg != nil {
				s.fg = *r.fg
			}
			if r.bg != nil {
				s.bg = *r.bg
			}
			return s
		}
	}
	return s
}

// HitBox maps a painted widget to its on-surface bounds, for pointer
// dispatch outside the core.
type HitBox struct {
	Widget string
	Bounds image.Rectangle
}
