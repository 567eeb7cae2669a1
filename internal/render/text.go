package render

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// FontStore loads one outline font and hands out sized faces. Faces are
// cached per size; neither loading nor shaping happens during a paint
// except through the cache. With no font loaded it falls back to a
// built-in bitmap face, which keeps headless environments working.
type FontStore struct {
	fnt   *opentype.Font
	faces map[float64]font.Face
}

// NewFontStore returns a store with only the bitmap fallback.
func NewFontStore() *FontStore {
	return &FontStore{faces: make(map[float64]font.Face)}
}

// Load parses the font file at path.
func (fs *FontStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading font: %w", err)
	}
	return fs.LoadBytes(data)
}

// LoadBytes parses font data already in memory.
func (fs *FontStore) LoadBytes(data []byte) error {
	fnt, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parsing font: %w", err)
	}
	fs.fnt = fnt
	fs.faces = make(map[float64]font.Face)
	return nil
}

// Face returns a face at the given point size, creating it on first use.
func (fs *FontStore) Face(size float64) font.Face {
	if fs.fnt == nil {
		return basicfont.Face7x13
	}
	if f, ok := fs.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(fs.fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     96,
		Hinting: font.HintingFull,
	})
	if err != nil {
		// The font parsed, so face creation only fails on degenerate
		// sizes; the bitmap face keeps the bar readable.
		return basicfont.Face7x13
	}
	fs.faces[size] = f
	return f
}

// MeasureText returns the advance width and line height of text in whole
// pixels.
func MeasureText(face font.Face, text string) (width, height int) {
	adv := font.MeasureString(face, text)
	m := face.Metrics()
	return adv.Ceil(), m.Height.Ceil()
}

// DrawText draws text with its left edge at x and its baseline derived
// from centering the line height within [y, y+boxHeight).
func DrawText(c *Canvas, face font.Face, x, y, boxHeight int, text string, col color.NRGBA) int {
	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	baseline := y + (boxHeight-lineHeight)/2 + m.Ascent.Ceil()
	d := font.Drawer{
		Dst:  c.Image(),
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
	return d.Dot.X.Ceil() - x
}
