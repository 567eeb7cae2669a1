package render

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

type iconKey struct {
	name string
	size int
}

// IconCache rasterizes named SVG icons from a directory, caching the
// result per (name, size) so repaints only pay a blit.
type IconCache struct {
	dir   string
	cache map[iconKey]*image.RGBA
}

// NewIconCache serves icons from dir; names map to "<name>.svg".
func NewIconCache(dir string) *IconCache {
	return &IconCache{dir: dir, cache: make(map[iconKey]*image.RGBA)}
}

// Render returns the icon rasterized into a size×size image.
func (ic *IconCache) Render(name string, size int) (*image.RGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("icon %q: invalid size %d", name, size)
	}
	key := iconKey{name: name, size: size}
	if img, ok := ic.cache[key]; ok {
		return img, nil
	}

	path := filepath.Join(ic.dir, name+".svg")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("icon %q: %w", name, err)
	}
	defer f.Close()

	icon, err := oksvg.ReadIconStream(f, oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("icon %q: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	ic.cache[key] = img
	return img, nil
}

// DrawIcon blits a rasterized icon onto the canvas at (x, y).
func DrawIcon(c *Canvas, img *image.RGBA, x, y int) {
	r := img.Bounds().Add(image.Pt(x, y))
	draw.Draw(c.Image(), r, img, img.Bounds().Min, draw.Over)
}
