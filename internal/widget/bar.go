package widget

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/dvdsk/rwaybar/internal/format"
	"github.com/dvdsk/rwaybar/internal/render"
)

// Bar is the built widget tree for one surface: three groups laid out
// against the left edge, the center and the right edge.
type Bar struct {
	logger *slog.Logger
	groups [3][]*Widget
	fonts  *render.FontStore
	icons  *render.IconCache
}

// BarOptions carries the shared paint resources.
type BarOptions struct {
	Logger *slog.Logger
	Fonts  *render.FontStore
	Icons  *render.IconCache
}

// BuildBar validates and builds the whole tree. Any malformed template,
// expression or color in any widget fails the build.
func BuildBar(defs []Def, opts BarOptions) (*Bar, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fonts == nil {
		opts.Fonts = render.NewFontStore()
	}
	b := &Bar{logger: opts.Logger, fonts: opts.Fonts, icons: opts.Icons}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		g, err := ParseGroup(def.Group)
		if err != nil {
			return nil, fmt.Errorf("widget %q: %w", def.Name, err)
		}
		w, err := Build(def)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[w.name]; dup {
			return nil, fmt.Errorf("duplicate widget name %q", w.name)
		}
		seen[w.name] = struct{}{}
		b.groups[g] = append(b.groups[g], w)
	}
	return b, nil
}

// DirtyFor reports whether any widget depends on one of the changed
// module keys.
func (b *Bar) DirtyFor(keys []string) bool {
	for _, ws := range b.groups {
		for _, w := range ws {
			for _, key := range keys {
				if w.DependsOn(key) {
					return true
				}
			}
		}
	}
	return false
}

// measured is one widget resolved against current values: final text,
// style and width. Resolution happens once per paint so every widget in
// the frame sees the same snapshot.
type measured struct {
	w     *Widget
	text  string
	style style
	width int
}

const iconTextGap = 4

func (b *Bar) measure(w *Widget, env format.Env) measured {
	scope := w.env(env)
	st := w.effectiveStyle(scope)
	text := w.text(scope)

	width := st.padding * 2
	if w.icon != "" {
		size := w.iconSize
		if size == 0 {
			size = 16
		}
		width += size
		if text != "" {
			width += iconTextGap
		}
	}
	if text != "" {
		if text == w.lastText && w.lastWidth > 0 {
			width += w.lastWidth
		} else {
			tw, _ := render.MeasureText(b.fonts.Face(st.fontSize), text)
			w.lastText, w.lastWidth = text, tw
			width += tw
		}
	}
	return measured{w: w, text: text, style: st, width: width}
}

func (b *Bar) paintOne(c *render.Canvas, m measured, x, height int) HitBox {
	rect := image.Rect(x, 0, x+m.width, height)
	if m.style.bg.A > 0 {
		c.Fill(rect, m.style.bg)
	}
	if m.style.border > 0 {
		c.Border(rect, m.style.border, m.style.borderCol)
	}

	cx := x + m.style.padding
	if m.w.icon != "" && b.icons != nil {
		size := m.w.iconSize
		if size == 0 {
			size = 16
		}
		img, err := b.icons.Render(m.w.icon, size)
		if err != nil {
			b.logger.Warn("icon render failed", "widget", m.w.name, "icon", m.w.icon, "error", err)
		} else {
			render.DrawIcon(c, img, cx, (height-size)/2)
		}
		cx += size
		if m.text != "" {
			cx += iconTextGap
		}
	}
	if m.text != "" {
		render.DrawText(c, b.fonts.Face(m.style.fontSize), cx, 0, height, m.text, m.style.fg)
	}
	return HitBox{Widget: m.w.name, Bounds: rect}
}

// Paint draws the full tree onto the canvas against the given value
// snapshot and returns the widgets' bounding boxes. Background clearing
// is the caller's job; Paint only draws widgets.
func (b *Bar) Paint(c *render.Canvas, env format.Env) []HitBox {
	width, height := c.Size()
	var boxes []HitBox

	resolve := func(g Group) []measured {
		ms := make([]measured, 0, len(b.groups[g]))
		for _, w := range b.groups[g] {
			ms = append(ms, b.measure(w, env))
		}
		return ms
	}
	left := resolve(GroupLeft)
	center := resolve(GroupCenter)
	right := resolve(GroupRight)

	x := 0
	for _, m := range left {
		boxes = append(boxes, b.paintOne(c, m, x, height))
		x += m.width
	}

	total := 0
	for _, m := range center {
		total += m.width
	}
	x = (width - total) / 2
	for _, m := range center {
		boxes = append(boxes, b.paintOne(c, m, x, height))
		x += m.width
	}

	total = 0
	for _, m := range right {
		total += m.width
	}
	x = width - total
	for _, m := range right {
		boxes = append(boxes, b.paintOne(c, m, x, height))
		x += m.width
	}
	return boxes
}

// HitTest returns the name of the widget under (x, y), or "".
func HitTest(boxes []HitBox, x, y float64) string {
	pt := image.Pt(int(x), int(y))
	for _, hb := range boxes {
		if pt.In(hb.Bounds) {
			return hb.Widget
		}
	}
	return ""
}
