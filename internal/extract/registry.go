package extract

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Settings is the per-plugin configuration owned by the registry.
// It is immutable for the duration of a crawl.
type Settings struct {
	// Enabled defaults to true when unset.
	Enabled *bool `koanf:"enabled"`
	// Options is an open name -> value mapping interpreted by each plugin
	// (for example "max_content_length" for the text plugin).
	Options map[string]any `koanf:"options"`
}

// On reports the effective enabled flag.
func (s Settings) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// Factory constructs a plugin from its settings. A factory returning
// *CapabilityError marks the plugin unavailable rather than broken.
type Factory func(s Settings) (Plugin, error)

// Registry holds the ordered set of active plugins. Registration order is
// the dispatch order, so a single file may be processed by more than one
// plugin and the resulting records keep a stable relative order.
type Registry struct {
	plugins []Plugin
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register appends a plugin to the dispatch order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// Plugins returns the active plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// SelectFor returns every active plugin claiming the file, in
// registration order.
func (r *Registry) SelectFor(path string, entry Entry) []Plugin {
	var selected []Plugin
	for _, p := range r.plugins {
		if p.Applicable(path, entry) {
			selected = append(selected, p)
		}
	}
	return selected
}

// builtin lists the known plugin factories in their fixed registration
// order. The basic plugin goes first so its generic record precedes the
// specialized ones for the same file.
var builtin = []struct {
	name    string
	factory Factory
}{
	{"basic", func(s Settings) (Plugin, error) { return NewBasic(), nil }},
	{"text", func(s Settings) (Plugin, error) { return NewText(TextOptionsFrom(s.Options)) }},
	{"tabular", func(s Settings) (Plugin, error) { return NewTabular(TabularOptionsFrom(s.Options)) }},
	{"image", func(s Settings) (Plugin, error) { return NewImage(ImageOptionsFrom(s.Options)) }},
	{"pdf", func(s Settings) (Plugin, error) { return NewPDF(PDFOptionsFrom(s.Options)) }},
	{"json", func(s Settings) (Plugin, error) { return NewJSONDoc(DocOptionsFrom(s.Options)) }},
	{"yaml", func(s Settings) (Plugin, error) { return NewYAMLDoc(DocOptionsFrom(s.Options)) }},
}

// BuildRegistry constructs the registry from static configuration.
//
// Disabled plugins are never registered. A plugin whose factory reports a
// CapabilityError is skipped with a single warning, keeping the crawl
// alive (graceful degradation). Any other factory error is a
// configuration error.
func BuildRegistry(cfg map[string]Settings, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for _, b := range builtin {
		settings := cfg[b.name]
		if !settings.On() {
			continue
		}

		p, err := b.factory(settings)
		if err != nil {
			var capErr *CapabilityError
			if errors.As(err, &capErr) {
				r.logger.Warn("plugin disabled for this run",
					zap.String("plugin", capErr.Plugin),
					zap.String("missing", capErr.Missing))
				continue
			}
			return nil, fmt.Errorf("configuring plugin %s: %w", b.name, err)
		}
		r.Register(p)
	}

	return r, nil
}
