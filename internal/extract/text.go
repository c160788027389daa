package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	defaultMaxContentLength = 1 << 20 // 1MB
	defaultExcerptLength    = 500
)

var defaultTextExtensions = []string{
	".txt", ".md", ".rst", ".log",
}

// TextOptions configures the text plugin.
type TextOptions struct {
	// Extensions is the allow-list of claimed extensions (lowercase,
	// leading dot).
	Extensions []string
	// MaxContentLength bounds how many bytes are read; longer files are
	// truncated and the truncation recorded.
	MaxContentLength int
	// IncludeExcerpt controls whether a content excerpt is emitted.
	IncludeExcerpt bool
	// ExcerptLength is the excerpt size in runes.
	ExcerptLength int
}

// TextOptionsFrom reads text plugin options from an open option map.
func TextOptionsFrom(m map[string]any) TextOptions {
	return TextOptions{
		Extensions:       optStrings(m, "extensions"),
		MaxContentLength: optInt(m, "max_content_length", defaultMaxContentLength),
		IncludeExcerpt:   optBool(m, "include_excerpt", true),
		ExcerptLength:    optInt(m, "excerpt_length", defaultExcerptLength),
	}
}

// Text extracts character counts, detected encoding, and an optional
// excerpt from plain-text files.
type Text struct {
	extensions map[string]bool
	opts       TextOptions
}

// NewText creates the text plugin.
func NewText(opts TextOptions) (*Text, error) {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = defaultMaxContentLength
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = defaultExcerptLength
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = defaultTextExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	return &Text{extensions: set, opts: opts}, nil
}

func (t *Text) Name() string { return "text" }

func (t *Text) Applicable(path string, entry Entry) bool {
	return t.extensions[strings.ToLower(filepath.Ext(path))]
}

func (t *Text) Extract(ctx context.Context, path string, entry Entry) Record {
	f, err := os.Open(path)
	if err != nil {
		return Failed(path, t.Name(), fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	// Read one byte past the limit to know whether we truncated.
	buf, err := io.ReadAll(io.LimitReader(f, int64(t.opts.MaxContentLength)+1))
	if err != nil {
		return Failed(path, t.Name(), fmt.Errorf("read: %w", err))
	}
	truncated := len(buf) > t.opts.MaxContentLength
	if truncated {
		buf = buf[:t.opts.MaxContentLength]
	}

	fields := map[string]any{
		"char_count": utf8.RuneCount(buf),
		"line_count": countLines(buf),
		"encoding":   detectEncoding(buf),
		"truncated":  truncated,
	}
	if t.opts.IncludeExcerpt {
		fields["excerpt"] = excerpt(buf, t.opts.ExcerptLength)
	}

	return Success(path, t.Name(), fields)
}

func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	n := bytes.Count(b, []byte{'\n'})
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}

// detectEncoding is a BOM-and-shape heuristic, not a statistical
// detector: ascii, utf-8 (with or without BOM), utf-16, or binary.
func detectEncoding(b []byte) string {
	switch {
	case len(b) == 0:
		return "empty"
	case len(b) >= 3 && bytes.Equal(b[:3], []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8-bom"
	case len(b) >= 2 && bytes.Equal(b[:2], []byte{0xFF, 0xFE}):
		return "utf-16le"
	case len(b) >= 2 && bytes.Equal(b[:2], []byte{0xFE, 0xFF}):
		return "utf-16be"
	}
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
		if c == 0 {
			return "binary"
		}
	}
	if ascii {
		return "ascii"
	}
	if utf8.Valid(b) {
		return "utf-8"
	}
	return "binary"
}

func excerpt(b []byte, maxRunes int) string {
	s := string(b)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

var _ Plugin = (*Text)(nil)
