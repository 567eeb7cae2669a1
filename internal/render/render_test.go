package render

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  color.NRGBA
	}{
		{"named", "red", color.NRGBA{0xff, 0x00, 0x00, 0xff}},
		{"named uppercase", "White", color.NRGBA{0xff, 0xff, 0xff, 0xff}},
		{"named transparent", "transparent", color.NRGBA{0, 0, 0, 0}},
		{"short hex", "#f0c", color.NRGBA{0xff, 0x00, 0xcc, 0xff}},
		{"short hex with alpha", "#f0c8", color.NRGBA{0xff, 0x00, 0xcc, 0x88}},
		{"full hex", "#1a2b3c", color.NRGBA{0x1a, 0x2b, 0x3c, 0xff}},
		{"full hex with alpha", "#1a2b3c80", color.NRGBA{0x1a, 0x2b, 0x3c, 0x80}},
		{"padded", "  #fff ", color.NRGBA{0xff, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseColor(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseColor_Invalid(t *testing.T) {
	for _, input := range []string{"", "nope", "#12", "#12345", "#gggggg", "fff"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseColor(input)
			assert.Error(t, err)
		})
	}
}

func paintSample(pix []byte, w, h int) {
	c := NewCanvas(pix, w, h, w*4)
	c.Clear(MustParseColor("#202020"))
	c.Fill(image.Rect(2, 2, w/2, h-2), MustParseColor("#3c80ff"))
	c.Border(image.Rect(0, 0, w, h), 1, MustParseColor("white"))
	fs := NewFontStore()
	DrawText(c, fs.Face(13), 4, 0, h, "12:00", MustParseColor("#fff"))
	c.Finalize()
}

func TestRender_Deterministic(t *testing.T) {
	const w, h = 120, 24
	a := make([]byte, w*h*4)
	b := make([]byte, w*h*4)
	paintSample(a, w, h)
	paintSample(b, w, h)
	assert.True(t, bytes.Equal(a, b), "identical inputs must produce byte-identical buffers")
}

func TestCanvas_FinalizeSwapsToLittleEndianARGB(t *testing.T) {
	pix := make([]byte, 4)
	c := NewCanvas(pix, 1, 1, 4)
	c.Fill(image.Rect(0, 0, 1, 1), color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})
	c.Finalize()
	assert.Equal(t, []byte{0x30, 0x20, 0x10, 0xff}, pix)
}

func TestCanvas_FinalizePremultiplies(t *testing.T) {
	pix := []byte{0xff, 0xff, 0xff, 0x80}
	c := NewCanvas(pix, 1, 1, 4)
	c.Finalize()
	// White at ~50% alpha premultiplies each channel down to the alpha.
	assert.Equal(t, []byte{0x80, 0x80, 0x80, 0x80}, pix)
}

func TestCanvas_FillClipsToBounds(t *testing.T) {
	pix := make([]byte, 4*4*4)
	c := NewCanvas(pix, 4, 4, 16)
	assert.NotPanics(t, func() {
		c.Fill(image.Rect(-5, -5, 100, 100), MustParseColor("red"))
	})
	assert.Equal(t, uint8(0xff), pix[0])
}

func TestFontStore_FallbackFaceMeasures(t *testing.T) {
	fs := NewFontStore()
	face := fs.Face(13)
	w, h := MeasureText(face, "12:00")
	assert.Greater(t, w, 0)
	assert.Greater(t, h, 0)

	wide, _ := MeasureText(face, "12:00:00")
	assert.Greater(t, wide, w)
}

func TestIconCache_MissingIcon(t *testing.T) {
	ic := NewIconCache(t.TempDir())
	_, err := ic.Render("no-such-icon", 16)
	assert.Error(t, err)

	_, err = ic.Render("x", 0)
	assert.Error(t, err)
}
