package module

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvdsk/rwaybar/internal/audio"
	"github.com/dvdsk/rwaybar/internal/format"
)

func buildRegistry(t *testing.T, defs []Def) *Registry {
	t.Helper()
	r, err := Build(defs, BuildOptions{})
	require.NoError(t, err)
	return r
}

func TestBuild_DuplicateKey(t *testing.T) {
	_, err := Build([]Def{
		{Key: "a", Kind: KindStatic, Text: "x"},
		{Key: "a", Kind: KindStatic, Text: "y"},
	}, BuildOptions{})
	assert.ErrorContains(t, err, "duplicate module key")
}

func TestBuild_RejectsCompositeCycle(t *testing.T) {
	tests := []struct {
		name string
		defs []Def
	}{
		{
			"self reference",
			[]Def{{Key: "a", Kind: KindComposite, Expr: "a + 1"}},
		},
		{
			"two node cycle",
			[]Def{
				{Key: "a", Kind: KindComposite, Expr: "b + 1"},
				{Key: "b", Kind: KindComposite, Expr: "a + 1"},
			},
		},
		{
			"longer cycle through a field access",
			[]Def{
				{Key: "a", Kind: KindComposite, Expr: "b.text"},
				{Key: "b", Kind: KindComposite, Expr: "c * 2"},
				{Key: "c", Kind: KindComposite, Expr: "a"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.defs, BuildOptions{})
			assert.ErrorContains(t, err, "cyclic composite dependency")
		})
	}
}

func TestBuild_AcyclicCompositeChainOK(t *testing.T) {
	r := buildRegistry(t, []Def{
		{Key: "base", Kind: KindStatic, Text: "2"},
		{Key: "mid", Kind: KindComposite, Expr: "base * 10"},
		{Key: "top", Kind: KindComposite, Expr: "mid + 1"},
	})
	assert.Equal(t, []string{"base", "mid", "top"}, r.Keys())
}

func TestRegistry_ApplyPropagatesToComposites(t *testing.T) {
	r := buildRegistry(t, []Def{
		{Key: "cpu", Kind: KindStatic, Text: "0"},
		{Key: "warn", Kind: KindComposite, Expr: "cpu > 90"},
	})

	changed := r.Apply(Wakeup{Key: "cpu", Value: format.Number(95)})
	assert.Equal(t, []string{"cpu", "warn"}, changed)

	v, ok := r.Lookup("warn")
	require.True(t, ok)
	assert.True(t, v.Truthy())

	// A cpu change that does not flip the composite reports only cpu.
	changed = r.Apply(Wakeup{Key: "cpu", Value: format.Number(99)})
	assert.Equal(t, []string{"cpu"}, changed)
}

func TestRegistry_ApplyUnchangedValueIsSilent(t *testing.T) {
	r := buildRegistry(t, []Def{{Key: "prop", Kind: KindStatic, Text: ""}})

	v := format.Record(map[string]string{"text": "idle"})
	assert.NotEmpty(t, r.Apply(Wakeup{Key: "prop", Value: v}))

	// Re-delivering the same value produces no changed keys, so an idle
	// source never schedules a repaint.
	for i := 0; i < 100; i++ {
		same := format.Record(map[string]string{"text": "idle"})
		assert.Empty(t, r.Apply(Wakeup{Key: "prop", Value: same}))
	}
}

func TestRegistry_ApplyErrorDegradesModule(t *testing.T) {
	r := buildRegistry(t, []Def{{Key: "net", Kind: KindStatic, Text: "up"}})

	changed := r.Apply(Wakeup{Key: "net", Err: errors.New("socket closed")})
	assert.Equal(t, []string{"net"}, changed)

	v, ok := r.Lookup("net")
	require.True(t, ok)
	assert.Equal(t, ErrorGlyph, v.String())
	assert.Equal(t, "socket closed", v.Field("error").String())

	// Repeating the same failure stays silent.
	assert.Empty(t, r.Apply(Wakeup{Key: "net", Err: errors.New("socket closed")}))
}

func TestRegistry_ApplyUnknownModule(t *testing.T) {
	r := buildRegistry(t, nil)
	assert.Empty(t, r.Apply(Wakeup{Key: "ghost", Value: format.Text("boo")}))
}

func TestRegistry_StartDeliversStaticValues(t *testing.T) {
	r := buildRegistry(t, []Def{
		{Key: "label", Kind: KindStatic, Text: "rwaybar"},
		{Key: "shout", Kind: KindComposite, Expr: "upper(label)"},
	})

	var wakeups []Wakeup
	n := NotifierFunc(func(w Wakeup) { wakeups = append(wakeups, w) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx, n))
	defer r.Stop()

	require.Len(t, wakeups, 1)
	for _, w := range wakeups {
		r.Apply(w)
	}

	v, ok := r.Lookup("shout")
	require.True(t, ok)
	assert.Equal(t, "RWAYBAR", v.String())
}

func TestRegistry_DiffKeepsUnchangedModules(t *testing.T) {
	r := buildRegistry(t, []Def{
		{Key: "label", Kind: KindStatic, Text: "one"},
		{Key: "old", Kind: KindStatic, Text: "gone soon"},
	})

	n := NotifierFunc(func(Wakeup) {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx, n))
	defer r.Stop()

	kept := r.modules["label"]
	r.Apply(Wakeup{Key: "label", Value: format.Text("one")})

	err := r.Diff(ctx, []Def{
		{Key: "label", Kind: KindStatic, Text: "one"},
		{Key: "fresh", Kind: KindStatic, Text: "new"},
	}, n, BuildOptions{})
	require.NoError(t, err)

	// Unchanged module instance persists, with its value.
	assert.Same(t, kept, r.modules["label"])
	v, ok := r.Lookup("label")
	require.True(t, ok)
	assert.Equal(t, "one", v.String())

	// Removed module is gone.
	_, ok = r.Get("old")
	assert.False(t, ok)
	_, ok = r.Lookup("old")
	assert.False(t, ok)

	// New module exists.
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestRegistry_DiffRebuildsChangedDefinition(t *testing.T) {
	r := buildRegistry(t, []Def{{Key: "label", Kind: KindStatic, Text: "one"}})

	n := NotifierFunc(func(Wakeup) {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx, n))
	defer r.Stop()

	old := r.modules["label"]
	err := r.Diff(ctx, []Def{{Key: "label", Kind: KindStatic, Text: "two"}}, n, BuildOptions{})
	require.NoError(t, err)
	assert.NotSame(t, old, r.modules["label"])
}

func TestSubprocess_BackoffScenario(t *testing.T) {
	// A command that exits immediately five times in a row must produce
	// strictly increasing delays up to the cap, then hold there.
	s := NewSubprocess("job", "true", nil, nil)
	s.backoff = &Backoff{Base: 100 * time.Millisecond, Cap: 400 * time.Millisecond}

	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return len(delays) < 6
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, NotifierFunc(func(Wakeup) {})))
	<-s.doneCh

	require.Len(t, delays, 6)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestVolume_ReconnectsWithBackoff(t *testing.T) {
	attempts := 0
	client := audio.ClientFunc(func(ctx context.Context, fn func(audio.State)) error {
		attempts++
		if attempts == 1 {
			fn(audio.State{Level: 35})
			return errors.New("server gone")
		}
		<-ctx.Done()
		return nil
	})

	var wakeups []Wakeup
	v := NewVolume("vol", client, nil)
	v.backoff = &Backoff{Base: time.Millisecond, Cap: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, v.Start(ctx, NotifierFunc(func(w Wakeup) { wakeups = append(wakeups, w) })))

	// Give the watch loop time to fail once and reconnect.
	time.Sleep(50 * time.Millisecond)
	v.Stop()

	require.GreaterOrEqual(t, len(wakeups), 2)
	assert.Equal(t, "35%", wakeups[0].Value.String())
	assert.Error(t, wakeups[1].Err)
	assert.Equal(t, 2, attempts)
}
