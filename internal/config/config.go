// Package config handles configuration file loading, parsing and
// validation. Everything that can be wrong with a config (unknown module
// kinds, malformed templates, bad colors, cyclic composite dependencies)
// is rejected here, before the event loop starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dvdsk/rwaybar/internal/module"
	"github.com/dvdsk/rwaybar/internal/theme"
	"github.com/dvdsk/rwaybar/internal/wayland"
	"github.com/dvdsk/rwaybar/internal/widget"
)

// Default configuration values.
const (
	DefaultBarHeight  = 24
	DefaultBackground = "#202020e0"
	DefaultAnchor     = "bottom"
	DefaultLayer      = "bottom"
	DefaultFontSize   = 13
	DefaultLogLevel   = "info"
)

// Config represents the rwaybar configuration as written in TOML.
type Config struct {
	Log     LogConfig               `toml:"log"`
	Font    FontConfig              `toml:"font"`
	Theme   string                  `toml:"theme"`
	Icons   string                  `toml:"icons"`
	Bars    []BarConfig             `toml:"bar"`
	Modules map[string]ModuleConfig `toml:"module"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// FontConfig selects the text font.
type FontConfig struct {
	Path string  `toml:"path"` // empty = built-in bitmap face
	Size float64 `toml:"size"`
}

// BarConfig describes one bar and the outputs it appears on.
type BarConfig struct {
	Output     string         `toml:"output"` // output name, empty = all
	Height     int            `toml:"height"`
	Anchor     string         `toml:"anchor"` // top, bottom
	Layer      string         `toml:"layer"`
	Exclusive  bool           `toml:"exclusive"`
	Background string         `toml:"background"`
	Widgets    []WidgetConfig `toml:"widget"`
}

// WidgetConfig describes one widget in a bar.
type WidgetConfig struct {
	Name       string        `toml:"name"`
	Group      string        `toml:"group"` // left, center, right
	Module     string        `toml:"module"`
	Template   string        `toml:"template"`
	Icon       string        `toml:"icon"`
	IconSize   int           `toml:"icon_size"`
	Foreground string        `toml:"foreground"`
	Background string        `toml:"background"`
	Border     int           `toml:"border"`
	BorderCol  string        `toml:"border_color"`
	Padding    int           `toml:"padding"`
	FontSize   float64       `toml:"font_size"`
	Styles     []StyleConfig `toml:"style"`
}

// StyleConfig is one conditional style rule.
type StyleConfig struct {
	If         string `toml:"if"`
	Foreground string `toml:"foreground"`
	Background string `toml:"background"`
}

// ModuleConfig describes one module. The key comes from the table name:
// [module.clock] defines module "clock".
type ModuleConfig struct {
	Kind     string   `toml:"kind"`
	Text     string   `toml:"text"`     // static
	Interval string   `toml:"interval"` // clock, as a duration string
	Command  string   `toml:"command"`  // exec
	Args     []string `toml:"args"`
	Service  string   `toml:"service"` // property watch
	Path     string   `toml:"path"`
	Iface    string   `toml:"interface"`
	Property string   `toml:"property"`
	Expr     string   `toml:"expr"` // composite
}

// DefaultConfig returns a Config with default values and a single
// clock-only bar.
func DefaultConfig() *Config {
	return &Config{
		Log:  LogConfig{Level: DefaultLogLevel},
		Font: FontConfig{Size: DefaultFontSize},
		Bars: []BarConfig{{
			Height:     DefaultBarHeight,
			Anchor:     DefaultAnchor,
			Layer:      DefaultLayer,
			Exclusive:  true,
			Background: DefaultBackground,
			Widgets: []WidgetConfig{{
				Name:     "clock",
				Group:    "right",
				Module:   "clock",
				Template: "{text}",
				Padding:  8,
			}},
		}},
		Modules: map[string]ModuleConfig{
			"clock": {Kind: "clock", Interval: "1m"},
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "rwaybar", "config.toml")
}

// Load reads configuration from the specified path. If path is empty the
// default location is used; a missing file yields the default config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	cfg.Bars = nil
	cfg.Modules = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Bar is one validated bar: surface geometry plus its widget tree.
type Bar struct {
	Match      string
	Surface    wayland.SurfaceConfig
	Background string
	Widgets    []widget.Def
}

// Resolved is the validated in-memory structure the engine consumes.
type Resolved struct {
	Modules []module.Def
	Bars    []Bar
	Palette theme.Palette
}

var keyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Resolve validates the whole configuration and converts it into engine
// definitions. Widget trees and the module graph are trial-built so every
// configuration error surfaces now.
func (c *Config) Resolve() (*Resolved, error) {
	r := &Resolved{Palette: theme.Palette{}}

	if c.Theme != "" {
		pal, err := theme.Load(c.Theme)
		if err != nil {
			return nil, fmt.Errorf("theme: %w", err)
		}
		r.Palette = pal
	}

	for key, mc := range c.Modules {
		if !keyPattern.MatchString(key) {
			return nil, fmt.Errorf("module %q: keys must match [a-z0-9_]+", key)
		}
		def, err := resolveModule(key, mc)
		if err != nil {
			return nil, err
		}
		r.Modules = append(r.Modules, def)
	}
	// Trial-build the registry: duplicate keys, missing fields, bad
	// composite expressions and cycles all fail here.
	if _, err := module.Build(r.Modules, module.BuildOptions{}); err != nil {
		return nil, err
	}

	if len(c.Bars) == 0 {
		return nil, errors.New("no bars configured")
	}
	for i, bc := range c.Bars {
		bar, err := c.resolveBar(bc, r.Palette)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		r.Bars = append(r.Bars, bar)
	}
	return r, nil
}

func resolveModule(key string, mc ModuleConfig) (module.Def, error) {
	kind, err := module.ParseKind(mc.Kind)
	if err != nil {
		return module.Def{}, fmt.Errorf("module %q: %w", key, err)
	}
	def := module.Def{
		Key:       key,
		Kind:      kind,
		Text:      mc.Text,
		Command:   mc.Command,
		Args:      mc.Args,
		Service:   mc.Service,
		Path:      mc.Path,
		Interface: mc.Iface,
		Property:  mc.Property,
		Expr:      mc.Expr,
	}
	if mc.Interval != "" {
		d, err := time.ParseDuration(mc.Interval)
		if err != nil {
			return module.Def{}, fmt.Errorf("module %q: interval: %w", key, err)
		}
		if d <= 0 {
			return module.Def{}, fmt.Errorf("module %q: interval must be positive", key)
		}
		def.Interval = d
	}
	return def, nil
}

func (c *Config) resolveBar(bc BarConfig, pal theme.Palette) (Bar, error) {
	height := bc.Height
	if height <= 0 {
		height = DefaultBarHeight
	}
	var anchor wayland.Anchor
	switch bc.Anchor {
	case "", "bottom":
		anchor = wayland.AnchorBottom
	case "top":
		anchor = wayland.AnchorTop
	default:
		return Bar{}, fmt.Errorf("unknown anchor %q", bc.Anchor)
	}
	layer := bc.Layer
	if layer == "" {
		layer = DefaultLayer
	}
	background := pal.Resolve(bc.Background)
	if background == "" {
		background = DefaultBackground
	}
	exclusive := 0
	if bc.Exclusive {
		exclusive = height
	}

	bar := Bar{
		Match: bc.Output,
		Surface: wayland.SurfaceConfig{
			Height:        height,
			ExclusiveZone: exclusive,
			Anchor:        anchor,
			Layer:         layer,
		},
		Background: background,
	}

	for _, wc := range bc.Widgets {
		def := widget.Def{
			Name:       wc.Name,
			Group:      wc.Group,
			Source:     wc.Module,
			Template:   wc.Template,
			Icon:       wc.Icon,
			IconSize:   wc.IconSize,
			Foreground: pal.Resolve(wc.Foreground),
			Background: pal.Resolve(wc.Background),
			Border:     wc.Border,
			BorderCol:  pal.Resolve(wc.BorderCol),
			Padding:    wc.Padding,
			FontSize:   orDefault(wc.FontSize, c.Font.Size),
		}
		for _, sc := range wc.Styles {
			def.Rules = append(def.Rules, widget.StyleRule{
				If:         sc.If,
				Foreground: pal.Resolve(sc.Foreground),
				Background: pal.Resolve(sc.Background),
			})
		}
		bar.Widgets = append(bar.Widgets, def)
	}

	// Trial-build the tree so template and color errors fail the load.
	if _, err := widget.BuildBar(bar.Widgets, widget.BarOptions{}); err != nil {
		return Bar{}, err
	}
	return bar, nil
}

func orDefault(v, def float64) float64 {
	if v != 0 {
		return v
	}
	if def != 0 {
		return def
	}
	return DefaultFontSize
}
