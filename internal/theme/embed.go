package theme

import (
	"embed"
	"io/fs"
	"strings"
)

// embeddedThemes contains the bundled palette files.
//
//go:embed themes/*.yaml
var embeddedThemes embed.FS

// DefaultThemeName is the name of the built-in default palette.
const DefaultThemeName = "default"

// embeddedPalette retrieves a bundled palette by name.
func embeddedPalette(name string) ([]byte, bool) {
	data, err := embeddedThemes.ReadFile("themes/" + name + ".yaml")
	if err != nil {
		return nil, false
	}
	return data, true
}

// ListEmbedded returns the names of all bundled palettes.
func ListEmbedded() []string {
	entries, err := fs.ReadDir(embeddedThemes, "themes")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}
