package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

// fakePlugin claims paths containing its suffix and counts calls.
type fakePlugin struct {
	name            string
	suffix          string
	applicableCalls int
	extractCalls    int
}

func (f *fakePlugin) Name() string { return f.name }

func (f *fakePlugin) Applicable(path string, entry Entry) bool {
	f.applicableCalls++
	return strings.HasSuffix(path, f.suffix)
}

func (f *fakePlugin) Extract(ctx context.Context, path string, entry Entry) Record {
	f.extractCalls++
	return Success(path, f.name, map[string]any{"fake": true})
}

func TestRegistry_SelectForOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := &fakePlugin{name: "a", suffix: ".txt"}
	b := &fakePlugin{name: "b", suffix: ".txt"}
	c := &fakePlugin{name: "c", suffix: ".jpg"}
	r.Register(a)
	r.Register(b)
	r.Register(c)

	selected := r.SelectFor("x.txt", Entry{})
	require.Len(t, selected, 2)
	// Registration order, so one file can yield multiple records with
	// a stable relative order.
	assert.Equal(t, "a", selected[0].Name())
	assert.Equal(t, "b", selected[1].Name())

	assert.Empty(t, r.SelectFor("x.bin", Entry{}))
}

func TestBuildRegistry_Defaults(t *testing.T) {
	r, err := BuildRegistry(nil, zap.NewNop())
	require.NoError(t, err)

	names := make([]string, 0, len(r.Plugins()))
	for _, p := range r.Plugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"basic", "text", "tabular", "image", "pdf", "json", "yaml"}, names)
}

func TestBuildRegistry_DisabledPluginNeverConsulted(t *testing.T) {
	off := false
	r, err := BuildRegistry(map[string]Settings{
		"image": {Enabled: &off},
		"pdf":   {Enabled: &off},
	}, zap.NewNop())
	require.NoError(t, err)

	for _, p := range r.Plugins() {
		assert.NotEqual(t, "image", p.Name())
		assert.NotEqual(t, "pdf", p.Name())
	}
	assert.Empty(t, r.SelectFor("photo.jpg", Entry{}), "only image claims .jpg besides basic")
}

func TestBuildRegistry_SettingsOnDefaultsTrue(t *testing.T) {
	assert.True(t, Settings{}.On())
	on := true
	assert.True(t, Settings{Enabled: &on}.On())
	off := false
	assert.False(t, Settings{Enabled: &off}.On())
}

func TestCapabilityErrorSkippedSilently(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	saved := builtin
	defer func() { builtin = saved }()
	builtin = []struct {
		name    string
		factory Factory
	}{
		{"broken", func(s Settings) (Plugin, error) {
			return nil, &CapabilityError{Plugin: "broken", Missing: "libfoo"}
		}},
		{"basic", func(s Settings) (Plugin, error) { return NewBasic(), nil }},
	}

	r, err := BuildRegistry(nil, logger)
	require.NoError(t, err, "missing capability must not fail the run")
	require.Len(t, r.Plugins(), 1)
	assert.Equal(t, "basic", r.Plugins()[0].Name())

	// Logged once at startup, not per file.
	entries := observed.FilterMessage("plugin disabled for this run").All()
	assert.Len(t, entries, 1)
}

func TestBuildRegistry_FactoryErrorIsFatal(t *testing.T) {
	saved := builtin
	defer func() { builtin = saved }()
	builtin = []struct {
		name    string
		factory Factory
	}{
		{"bad", func(s Settings) (Plugin, error) { return nil, errors.New("bad options") }},
	}

	_, err := BuildRegistry(nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuring plugin bad")
}
