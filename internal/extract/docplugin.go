package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DocOptions configures the structured-document plugins (json, yaml).
type DocOptions struct {
	// MaxContentLength bounds how many bytes are read and parsed.
	MaxContentLength int
	// PreviewLength bounds the emitted content preview in bytes.
	PreviewLength int
}

// DocOptionsFrom reads document plugin options from an open option map.
func DocOptionsFrom(m map[string]any) DocOptions {
	return DocOptions{
		MaxContentLength: optInt(m, "max_content_length", defaultMaxContentLength),
		PreviewLength:    optInt(m, "preview_length", 1000),
	}
}

// docPlugin is shared machinery for the json and yaml plugins: bounded
// read, format-specific parse, structure analysis. A parse failure is
// still a successful extraction that records invalidity; only I/O errors
// fail the record.
type docPlugin struct {
	name       string
	extensions map[string]bool
	parse      func([]byte, *any) error
	opts       DocOptions
}

// NewJSONDoc creates the json structure plugin.
func NewJSONDoc(opts DocOptions) (Plugin, error) {
	return newDocPlugin("json", []string{".json"}, func(b []byte, out *any) error {
		return json.Unmarshal(b, out)
	}, opts), nil
}

// NewYAMLDoc creates the yaml structure plugin.
func NewYAMLDoc(opts DocOptions) (Plugin, error) {
	return newDocPlugin("yaml", []string{".yaml", ".yml"}, func(b []byte, out *any) error {
		return yaml.Unmarshal(b, out)
	}, opts), nil
}

func newDocPlugin(name string, exts []string, parse func([]byte, *any) error, opts DocOptions) *docPlugin {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = defaultMaxContentLength
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 1000
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return &docPlugin{name: name, extensions: set, parse: parse, opts: opts}
}

func (d *docPlugin) Name() string { return d.name }

func (d *docPlugin) Applicable(path string, entry Entry) bool {
	return d.extensions[strings.ToLower(filepath.Ext(path))]
}

func (d *docPlugin) Extract(ctx context.Context, path string, entry Entry) Record {
	f, err := os.Open(path)
	if err != nil {
		return Failed(path, d.name, fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, int64(d.opts.MaxContentLength)))
	if err != nil {
		return Failed(path, d.name, fmt.Errorf("read: %w", err))
	}

	fields := map[string]any{
		d.name + "_size": len(content),
	}
	preview := content
	if len(preview) > d.opts.PreviewLength {
		preview = preview[:d.opts.PreviewLength]
	}
	fields["content_preview"] = string(preview)

	var data any
	if err := d.parse(content, &data); err != nil {
		fields[d.name+"_valid"] = false
		fields[d.name+"_error"] = err.Error()
		return Success(path, d.name, fields)
	}

	keys := rootKeys(data)
	fields[d.name+"_valid"] = true
	fields[d.name+"_structure"] = analyzeStructure(data)
	fields[d.name+"_root_keys"] = keys
	fields[d.name+"_root_key_count"] = len(keys)
	fields[d.name+"_depth"] = structureDepth(data)

	return Success(path, d.name, fields)
}

// analyzeStructure describes the root value. Keys are sorted so repeated
// crawls over an unchanged tree emit identical records.
func analyzeStructure(data any) map[string]any {
	switch v := data.(type) {
	case map[string]any:
		keys := rootKeys(v)
		if len(keys) > 5 {
			keys = keys[:5]
		}
		return map[string]any{"type": "object", "key_count": len(v), "sample_keys": keys}
	case []any:
		return map[string]any{"type": "array", "length": len(v), "sample_item_types": sampleTypes(v)}
	case string:
		return map[string]any{"type": "string", "length": len(v)}
	case bool:
		return map[string]any{"type": "boolean"}
	case nil:
		return map[string]any{"type": "null"}
	case float64, int, int64, uint64:
		return map[string]any{"type": "number"}
	default:
		return map[string]any{"type": fmt.Sprintf("%T", v)}
	}
}

func sampleTypes(items []any) []string {
	seen := map[string]bool{}
	limit := len(items)
	if limit > 5 {
		limit = 5
	}
	for _, item := range items[:limit] {
		switch item.(type) {
		case map[string]any:
			seen["object"] = true
		case []any:
			seen["array"] = true
		case string:
			seen["string"] = true
		case bool:
			seen["boolean"] = true
		case nil:
			seen["null"] = true
		default:
			seen["number"] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func rootKeys(data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func structureDepth(data any) int {
	switch v := data.(type) {
	case map[string]any:
		max := 0
		for _, child := range v {
			if d := structureDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range v {
			if d := structureDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

var _ Plugin = (*docPlugin)(nil)
