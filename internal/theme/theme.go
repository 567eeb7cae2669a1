// Package theme provides named color palettes for bar styling. A palette
// maps symbolic names ("accent", "warn") to concrete colors, so configs
// can be restyled by swapping one palette reference.
package theme

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dvdsk/rwaybar/internal/render"
)

// Palette maps symbolic color names to color strings the renderer can
// parse.
type Palette map[string]string

// Resolve maps a symbolic name to its palette color. Strings that are not
// palette names pass through unchanged, so configs can mix palette names
// and literal colors freely.
func (p Palette) Resolve(name string) string {
	if c, ok := p[name]; ok {
		return c
	}
	return name
}

type paletteFile struct {
	Colors map[string]string `yaml:"colors"`
}

// ThemesDir returns the path to the user's themes directory.
func ThemesDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "rwaybar", "themes"), nil
}

// Load resolves a theme reference to a palette. A reference containing a
// path separator or a .yaml suffix is read as a file; otherwise it is a
// theme name, looked up in the user themes directory first and the
// bundled themes second, so users can override a bundled theme by name.
func Load(ref string) (Palette, error) {
	if strings.ContainsRune(ref, os.PathSeparator) || strings.HasSuffix(ref, ".yaml") {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
		return parse(ref, data)
	}

	if dir, err := ThemesDir(); err == nil {
		path := filepath.Join(dir, ref+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			return parse(path, data)
		}
	}

	data, ok := embeddedPalette(ref)
	if !ok {
		return nil, fmt.Errorf("unknown theme %q", ref)
	}
	return parse(ref, data)
}

// parse decodes and validates palette YAML. Every color must be parseable
// so a bad palette fails at load, not mid-render.
func parse(src string, data []byte) (Palette, error) {
	var pf paletteFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("theme %s: %w", src, err)
	}
	if len(pf.Colors) == 0 {
		return nil, fmt.Errorf("theme %s: no colors defined", src)
	}
	for name, c := range pf.Colors {
		if _, err := render.ParseColor(c); err != nil {
			return nil, fmt.Errorf("theme %s: color %q: %w", src, name, err)
		}
	}
	return Palette(pf.Colors), nil
}
