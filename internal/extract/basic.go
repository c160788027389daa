package extract

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Basic extracts generic file metadata and claims every file. It exists
// so each eligible file yields at least one record regardless of which
// specialized plugins recognize it.
type Basic struct{}

// NewBasic creates the generic metadata plugin.
func NewBasic() *Basic { return &Basic{} }

func (b *Basic) Name() string { return "basic" }

func (b *Basic) Applicable(path string, entry Entry) bool { return !entry.IsDir }

func (b *Basic) Extract(ctx context.Context, path string, entry Entry) Record {
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return Success(path, b.Name(), map[string]any{
		"filename":    filepath.Base(path),
		"directory":   filepath.Dir(path),
		"extension":   ext,
		"size_bytes":  entry.Size,
		"mime_type":   mimeType,
		"modified_at": entry.ModTime.UTC().Format(time.RFC3339),
	})
}

var _ Plugin = (*Basic)(nil)
