package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dvdsk/rwaybar/internal/audio"
	"github.com/dvdsk/rwaybar/internal/format"
)

// ErrorGlyph is the placeholder shown for a module whose data source is
// currently failing.
const ErrorGlyph = "⚠"

// Registry owns every module and its current value. It is created at
// configuration-apply time and mutated only by the reactor goroutine; no
// lock guards it. Modules are looked up by key and never duplicated.
type Registry struct {
	logger *slog.Logger

	modules map[string]Module
	values  map[string]format.Value
	// dependents maps a module key to the composite keys consuming it.
	dependents map[string][]string
	started    bool
}

// BuildOptions carries the external collaborators modules need.
type BuildOptions struct {
	Logger *slog.Logger
	// Audio backs volume modules; nil defaults to the pactl client.
	Audio audio.Client
}

// Build constructs a registry from validated definitions. Duplicate keys,
// unparseable composite expressions and cyclic composite dependencies are
// configuration errors; nothing is started yet.
func Build(defs []Def, opts BuildOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audioClient := opts.Audio
	if audioClient == nil {
		audioClient = audio.NewPactlClient("", logger)
	}

	r := &Registry{
		logger:     logger,
		modules:    make(map[string]Module, len(defs)),
		values:     make(map[string]format.Value, len(defs)),
		dependents: make(map[string][]string),
	}

	for _, def := range defs {
		if _, dup := r.modules[def.Key]; dup {
			return nil, fmt.Errorf("duplicate module key %q", def.Key)
		}
		mod, err := buildOne(def, audioClient, logger)
		if err != nil {
			return nil, err
		}
		r.modules[def.Key] = mod
	}

	if err := r.linkComposites(); err != nil {
		return nil, err
	}
	return r, nil
}

func buildOne(def Def, audioClient audio.Client, logger *slog.Logger) (Module, error) {
	switch def.Kind {
	case KindStatic:
		return NewStatic(def.Key, def.Text), nil
	case KindClock:
		return NewClock(def.Key, def.Interval), nil
	case KindPropertyWatch:
		if def.Service == "" || def.Path == "" || def.Interface == "" || def.Property == "" {
			return nil, fmt.Errorf("module %q: property watch needs service, path, interface and property", def.Key)
		}
		return NewPropertyWatch(def.Key, def.Service, def.Path, def.Interface, def.Property, logger), nil
	case KindVolume:
		return NewVolume(def.Key, audioClient, logger), nil
	case KindSubprocess:
		if def.Command == "" {
			return nil, fmt.Errorf("module %q: exec needs a command", def.Key)
		}
		return NewSubprocess(def.Key, def.Command, def.Args, logger), nil
	case KindComposite:
		expr, err := format.ParseExpr(def.Expr)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", def.Key, err)
		}
		return NewComposite(def.Key, def.Expr, expr), nil
	}
	return nil, fmt.Errorf("module %q: unknown kind", def.Key)
}

// linkComposites records dependency edges and rejects cycles.
func (r *Registry) linkComposites() error {
	for key, mod := range r.modules {
		comp, ok := mod.(*Composite)
		if !ok {
			continue
		}
		for _, dep := range comp.Deps() {
			if _, exists := r.modules[dep]; !exists {
				// Unknown references evaluate to empty at runtime;
				// only record edges to real modules.
				continue
			}
			r.dependents[dep] = append(r.dependents[dep], key)
		}
	}
	for dep := range r.dependents {
		sort.Strings(r.dependents[dep])
	}
	return r.checkCycles()
}

// checkCycles walks the composite dependency graph with the usual
// three-color DFS.
func (r *Registry) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.modules))

	var visit func(key string, trail []string) error
	visit = func(key string, trail []string) error {
		switch color[key] {
		case gray:
			return fmt.Errorf("cyclic composite dependency: %v -> %s", trail, key)
		case black:
			return nil
		}
		color[key] = gray
		if comp, ok := r.modules[key].(*Composite); ok {
			for _, dep := range comp.Deps() {
				if _, exists := r.modules[dep]; !exists {
					continue
				}
				if err := visit(dep, append(trail, key)); err != nil {
					return err
				}
			}
		}
		color[key] = black
		return nil
	}

	keys := r.Keys()
	for _, key := range keys {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns all module keys, sorted for deterministic iteration.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the module registered under key.
func (r *Registry) Get(key string) (Module, bool) {
	m, ok := r.modules[key]
	return m, ok
}

// Lookup implements format.Env over current values.
func (r *Registry) Lookup(name string) (format.Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Start launches every module. Wakeups flow to n from this point on.
func (r *Registry) Start(ctx context.Context, n Notifier) error {
	for _, key := range r.Keys() {
		if err := r.modules[key].Start(ctx, n); err != nil {
			return fmt.Errorf("start module %q: %w", key, err)
		}
	}
	r.started = true
	// Composites get an initial evaluation so they never render stale.
	for _, key := range r.Keys() {
		if comp, ok := r.modules[key].(*Composite); ok {
			r.values[key] = comp.Eval(r)
		}
	}
	return nil
}

// Stop tears down every module and waits for their goroutines.
func (r *Registry) Stop() {
	if !r.started {
		return
	}
	for _, key := range r.Keys() {
		r.modules[key].Stop()
	}
	r.started = false
}

// Apply folds a wakeup into the registry and returns the keys whose value
// actually changed: the module itself plus any composites downstream of it.
// An unchanged value returns nil so idle sources cause zero repaints.
func (r *Registry) Apply(w Wakeup) []string {
	next := w.Value
	if w.Err != nil {
		next = format.Record(map[string]string{
			"text":  ErrorGlyph,
			"error": w.Err.Error(),
		})
	}
	if _, known := r.modules[w.Key]; !known {
		r.logger.Debug("wakeup for unknown module", "module", w.Key)
		return nil
	}
	if valueEqual(r.values[w.Key], next) {
		return nil
	}
	r.values[w.Key] = next

	changed := []string{w.Key}
	changed = r.recompute(w.Key, changed)
	return changed
}

// recompute re-evaluates composites downstream of key, appending changed
// keys. Cycle-free by construction.
func (r *Registry) recompute(key string, changed []string) []string {
	for _, depKey := range r.dependents[key] {
		comp := r.modules[depKey].(*Composite)
		next := comp.Eval(r)
		if valueEqual(r.values[depKey], next) {
			continue
		}
		r.values[depKey] = next
		changed = append(changed, depKey)
		changed = r.recompute(depKey, changed)
	}
	return changed
}

func valueEqual(a, b format.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case format.KindText:
		return a.Text == b.Text
	case format.KindNumber:
		return a.Num == b.Num
	case format.KindBool:
		return a.Bool == b.Bool
	case format.KindRecord:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, v := range a.Fields {
			if b.Fields[k] != v {
				return false
			}
		}
		return true
	}
	return false
}

// Diff reconciles the registry against a new set of definitions after a
// configuration reload: unchanged modules persist with their value, removed
// ones are stopped, new or redefined ones are built and started.
func (r *Registry) Diff(ctx context.Context, defs []Def, n Notifier, opts BuildOptions) error {
	audioClient := opts.Audio
	if audioClient == nil {
		audioClient = audio.NewPactlClient("", r.logger)
	}

	want := make(map[string]Def, len(defs))
	for _, def := range defs {
		want[def.Key] = def
	}

	// Stop and drop modules that are gone or redefined.
	for _, key := range r.Keys() {
		def, keep := want[key]
		if keep && !r.defChanged(key, def) {
			delete(want, key)
			continue
		}
		r.logger.Info("stopping module", "module", key)
		r.modules[key].Stop()
		delete(r.modules, key)
		delete(r.values, key)
	}

	// Build the newcomers, then relink and recheck cycles over the whole
	// registry before starting anything.
	fresh := make([]string, 0, len(want))
	for key, def := range want {
		mod, err := buildOne(def, audioClient, r.logger)
		if err != nil {
			return err
		}
		r.modules[key] = mod
		fresh = append(fresh, key)
	}
	r.dependents = make(map[string][]string)
	if err := r.linkComposites(); err != nil {
		return err
	}

	sort.Strings(fresh)
	for _, key := range fresh {
		r.logger.Info("starting module", "module", key)
		if err := r.modules[key].Start(ctx, n); err != nil {
			return fmt.Errorf("start module %q: %w", key, err)
		}
	}
	for _, key := range fresh {
		if comp, ok := r.modules[key].(*Composite); ok {
			r.values[key] = comp.Eval(r)
		}
	}
	return nil
}

// defChanged reports whether a definition differs from the live module in a
// way that requires a rebuild. Kind changes always do; beyond that we keep
// it coarse and rebuild whenever the definition is not identical.
func (r *Registry) defChanged(key string, def Def) bool {
	live := r.modules[key]
	if live.Kind() != def.Kind {
		return true
	}
	rebuilt, err := buildOne(def, nil, r.logger)
	if err != nil {
		return true
	}
	switch m := live.(type) {
	case *Static:
		return !valueEqual(m.value, rebuilt.(*Static).value)
	case *Clock:
		return m.interval != rebuilt.(*Clock).interval
	case *Subprocess:
		o := rebuilt.(*Subprocess)
		if m.command != o.command || len(m.args) != len(o.args) {
			return true
		}
		for i := range m.args {
			if m.args[i] != o.args[i] {
				return true
			}
		}
		return false
	case *PropertyWatch:
		o := rebuilt.(*PropertyWatch)
		return m.service != o.service || m.path != o.path ||
			m.iface != o.iface || m.property != o.property
	case *Volume:
		return false
	case *Composite:
		return m.src != rebuilt.(*Composite).src
	}
	return true
}
