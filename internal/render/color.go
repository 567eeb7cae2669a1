package render

import (
	"fmt"
	"image/color"
	"strings"
)

// namedColors covers the handful of names bar configs actually use.
var namedColors = map[string]color.NRGBA{
	"black":       {0x00, 0x00, 0x00, 0xff},
	"white":       {0xff, 0xff, 0xff, 0xff},
	"red":         {0xff, 0x00, 0x00, 0xff},
	"green":       {0x00, 0x80, 0x00, 0xff},
	"blue":        {0x00, 0x00, 0xff, 0xff},
	"yellow":      {0xff, 0xff, 0x00, 0xff},
	"cyan":        {0x00, 0xff, 0xff, 0xff},
	"magenta":     {0xff, 0x00, 0xff, 0xff},
	"gray":        {0x80, 0x80, 0x80, 0xff},
	"grey":        {0x80, 0x80, 0x80, 0xff},
	"orange":      {0xff, 0xa5, 0x00, 0xff},
	"transparent": {0x00, 0x00, 0x00, 0x00},
}

// ParseColor parses a config color: a known name, or hex in #rgb, #rgba,
// #rrggbb or #rrggbbaa form.
func ParseColor(s string) (color.NRGBA, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[name]; ok {
		return c, nil
	}
	if !strings.HasPrefix(name, "#") {
		return color.NRGBA{}, fmt.Errorf("unknown color %q", s)
	}
	hex := name[1:]
	for _, r := range hex {
		if !isHexDigit(r) {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
	}
	switch len(hex) {
	case 3:
		return color.NRGBA{R: nyb(hex[0]), G: nyb(hex[1]), B: nyb(hex[2]), A: 0xff}, nil
	case 4:
		return color.NRGBA{R: nyb(hex[0]), G: nyb(hex[1]), B: nyb(hex[2]), A: nyb(hex[3])}, nil
	case 6:
		return color.NRGBA{R: octet(hex[0:2]), G: octet(hex[2:4]), B: octet(hex[4:6]), A: 0xff}, nil
	case 8:
		return color.NRGBA{R: octet(hex[0:2]), G: octet(hex[2:4]), B: octet(hex[4:6]), A: octet(hex[6:8])}, nil
	}
	return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
}

// MustParseColor is ParseColor for compile-time-known literals.
func MustParseColor(s string) color.NRGBA {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func isHexDigit(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'f'
}

func hexVal(b byte) uint8 {
	if b >= 'a' {
		return b - 'a' + 10
	}
	return b - '0'
}

// nyb expands a single hex digit to a full byte, 0xf -> 0xff.
func nyb(b byte) uint8 {
	v := hexVal(b)
	return v<<4 | v
}

func octet(s string) uint8 {
	return hexVal(s[0])<<4 | hexVal(s[1])
}
