package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	defaultPDFMaxPages    = 5
	defaultPDFTextPreview = 10000
)

// PDFOptions configures the pdf plugin.
type PDFOptions struct {
	// MaxPages bounds how many pages contribute text.
	MaxPages int
	// MaxTextPreview bounds the emitted text preview in bytes.
	MaxTextPreview int
	// ExtractText controls whether page text is read at all.
	ExtractText bool
}

// PDFOptionsFrom reads pdf plugin options from an open option map.
func PDFOptionsFrom(m map[string]any) PDFOptions {
	return PDFOptions{
		MaxPages:       optInt(m, "max_pages", defaultPDFMaxPages),
		MaxTextPreview: optInt(m, "max_text_preview", defaultPDFTextPreview),
		ExtractText:    optBool(m, "extract_text", true),
	}
}

// PDF extracts page count, embedded text, and document metadata from PDF
// documents. Encrypted documents degrade to a skipped record: decryption
// is an optional capability this plugin does not carry.
type PDF struct {
	opts PDFOptions
}

// NewPDF creates the pdf plugin.
func NewPDF(opts PDFOptions) (*PDF, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultPDFMaxPages
	}
	if opts.MaxTextPreview <= 0 {
		opts.MaxTextPreview = defaultPDFTextPreview
	}
	return &PDF{opts: opts}, nil
}

func (p *PDF) Name() string { return "pdf" }

func (p *PDF) Applicable(path string, entry Entry) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

func (p *PDF) Extract(ctx context.Context, path string, entry Entry) (rec Record) {
	// The parser panics on some malformed documents; contain that to a
	// failed record for this file.
	defer func() {
		if r := recover(); r != nil {
			rec = Failed(path, p.Name(), fmt.Errorf("parse: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "password") ||
			strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return Skipped(path, p.Name())
		}
		return Failed(path, p.Name(), fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	fields := map[string]any{
		"page_count": reader.NumPage(),
	}

	if info := reader.Trailer().Key("Info"); info.Kind() == pdf.Dict {
		for src, dst := range map[string]string{
			"Title":    "title",
			"Author":   "author",
			"Subject":  "subject",
			"Producer": "producer",
			"Creator":  "creator",
		} {
			if v := info.Key(src); v.Kind() == pdf.String {
				if text := v.Text(); text != "" {
					fields[dst] = text
				}
			}
		}
	}

	if p.opts.ExtractText {
		var b strings.Builder
		pages := reader.NumPage()
		if pages > p.opts.MaxPages {
			pages = p.opts.MaxPages
		}
		for i := 1; i <= pages; i++ {
			text, err := reader.Page(i).GetPlainText(nil)
			if err != nil {
				continue
			}
			b.WriteString(text)
			b.WriteString("\n")
		}
		text := b.String()
		fields["text_length"] = len(text)
		fields["word_count"] = len(strings.Fields(text))
		if len(text) > p.opts.MaxTextPreview {
			text = truncateValid(text, p.opts.MaxTextPreview)
		}
		if text != "" {
			fields["text_preview"] = text
		}
	}

	return Success(path, p.Name(), fields)
}

// truncateValid cuts s to at most n bytes without splitting a rune.
func truncateValid(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ Plugin = (*PDF)(nil)
