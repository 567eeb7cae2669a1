package render

import (
	"image"
	"image/color"
	"image/draw"
)

// Canvas wraps caller-owned pixel storage as a drawable RGBA image. The
// storage is typically a shared-memory buffer; the canvas never
// reallocates it.
type Canvas struct {
	img    *image.RGBA
	width  int
	height int
}

// NewCanvas wraps pix (len >= stride*height) as a canvas. Pixels are
// treated as non-premultiplied RGBA until Finalize.
func NewCanvas(pix []byte, width, height, stride int) *Canvas {
	return &Canvas{
		img: &image.RGBA{
			Pix:    pix[:stride*height],
			Stride: stride,
			Rect:   image.Rect(0, 0, width, height),
		},
		width:  width,
		height: height,
	}
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (w, h int) { return c.width, c.height }

// Image exposes the backing image for text and icon drawing.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Clear fills the whole canvas with col.
func (c *Canvas) Clear(col color.NRGBA) {
	c.Fill(c.img.Rect, col)
}

// Fill paints a solid rectangle, alpha-blending over existing pixels.
func (c *Canvas) Fill(r image.Rectangle, col color.NRGBA) {
	r = r.Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	if col.A == 0xff {
		draw.Draw(c.img, r, &image.Uniform{C: col}, image.Point{}, draw.Src)
		return
	}
	draw.Draw(c.img, r, &image.Uniform{C: col}, image.Point{}, draw.Over)
}

// Border strokes a rectangle outline of the given thickness inside r.
func (c *Canvas) Border(r image.Rectangle, thickness int, col color.NRGBA) {
	if thickness <= 0 {
		return
	}
	t := thickness
	c.Fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), col)
	c.Fill(image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), col)
	c.Fill(image.Rect(r.Min.X, r.Min.Y+t, r.Min.X+t, r.Max.Y-t), col)
	c.Fill(image.Rect(r.Max.X-t, r.Min.Y+t, r.Max.X, r.Max.Y-t), col)
}

// Finalize converts the canvas in place from non-premultiplied RGBA to
// the premultiplied little-endian ARGB byte order the display server
// expects (B, G, R, A in memory). Call exactly once, after all drawing.
func (c *Canvas) Finalize() {
	pix := c.img.Pix
	stride := c.img.Stride
	for y := 0; y < c.height; y++ {
		row := pix[y*stride : y*stride+c.width*4]
		for x := 0; x < len(row); x += 4 {
			r, g, b, a := row[x], row[x+1], row[x+2], row[x+3]
			if a != 0xff {
				r = uint8(uint32(r) * uint32(a) / 0xff)
				g = uint8(uint32(g) * uint32(a) / 0xff)
				b = uint8(uint32(b) * uint32(a) / 0xff)
			}
			row[x], row[x+1], row[x+2], row[x+3] = b, g, r, a
		}
	}
}
