package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dvdsk/rwaybar/internal/config"
	"github.com/dvdsk/rwaybar/internal/module"
	"github.com/dvdsk/rwaybar/internal/reactor"
	"github.com/dvdsk/rwaybar/internal/render"
	"github.com/dvdsk/rwaybar/internal/wayland"
)

// runBar wires configuration, display connection and reactor together
// and blocks until a signal or a fatal protocol error.
func runBar() error {
	resolved, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fonts := render.NewFontStore()
	if cfg.Font.Path != "" {
		if err := fonts.Load(cfg.Font.Path); err != nil {
			return fmt.Errorf("loading font: %w", err)
		}
	}
	var icons *render.IconCache
	if cfg.Icons != "" {
		icons = render.NewIconCache(cfg.Icons)
	}

	registry, err := module.Build(resolved.Modules, module.BuildOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("building modules: %w", err)
	}

	conn, err := wayland.Connect(logger)
	if err != nil {
		return fmt.Errorf("connecting to display: %w", err)
	}

	r := reactor.New(reactor.Options{
		Logger:   logger,
		Conn:     conn,
		Registry: registry,
		Bars:     toBarSpecs(resolved.Bars),
		Fonts:    fonts,
		Icons:    icons,
	})
	r.SetClickHandler(func(output uint32, widget string, button uint32) {
		logger.Debug("widget clicked", "output", output, "widget", widget, "button", button)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(globalOpts.configPath,
		func(next *config.Resolved) {
			r.Do(func() {
				if err := r.ApplyConfig(ctx, next.Modules, toBarSpecs(next.Bars)); err != nil {
					logger.Error("applying reloaded config", "error", err)
					return
				}
				logger.Info("configuration reloaded")
			})
		},
		func(err error) {
			logger.Error("config reload rejected, keeping previous config", "error", err)
		})
	if err != nil {
		logger.Warn("config watching unavailable", "error", err)
	} else if err := watcher.Start(); err != nil {
		logger.Warn("config watching unavailable", "error", err)
	} else {
		defer watcher.Stop()
	}

	logger.Info("starting", "version", version, "modules", len(resolved.Modules), "bars", len(resolved.Bars))
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("display connection lost: %w", err)
	}
	logger.Info("shut down cleanly")
	return nil
}

func toBarSpecs(bars []config.Bar) []reactor.BarSpec {
	specs := make([]reactor.BarSpec, 0, len(bars))
	for _, b := range bars {
		specs = append(specs, reactor.BarSpec{
			Match:      b.Match,
			Surface:    b.Surface,
			Background: b.Background,
			Widgets:    b.Widgets,
		})
	}
	return specs
}
