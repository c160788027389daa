package extract

import (
	"context"
	"time"
)

// Status classifies the outcome of one extraction attempt.
type Status string

const (
	// StatusSuccess means the plugin produced metadata fields.
	StatusSuccess Status = "success"
	// StatusSkipped means the plugin declared non-applicability after
	// being selected (for example a missing optional decoder).
	StatusSkipped Status = "skipped"
	// StatusFailed means the plugin raised an extraction error.
	StatusFailed Status = "failed"
)

// Entry is an immutable snapshot of a path taken at traversal time.
type Entry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Record is the metadata produced by one (file, plugin) pair. A file may
// yield zero, one, or several records depending on how many plugins claim
// it. Records are never mutated after being emitted.
type Record struct {
	Path   string         `json:"path"`
	Plugin string         `json:"plugin"`
	Status Status         `json:"status"`
	Fields map[string]any `json:"fields"`
	Error  string         `json:"error,omitempty"`
}

// Success builds a success record.
func Success(path, plugin string, fields map[string]any) Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return Record{Path: path, Plugin: plugin, Status: StatusSuccess, Fields: fields}
}

// Skipped builds a skipped record.
func Skipped(path, plugin string) Record {
	return Record{Path: path, Plugin: plugin, Status: StatusSkipped, Fields: map[string]any{}}
}

// Failed builds a failed record carrying the extraction error detail.
func Failed(path, plugin string, err error) Record {
	detail := "extraction failed"
	if err != nil {
		detail = err.Error()
	}
	return Record{Path: path, Plugin: plugin, Status: StatusFailed, Fields: map[string]any{}, Error: detail}
}

// Plugin is the fixed two-operation capability interface every extractor
// variant implements.
//
// Applicable must be cheap (extension or magic-byte checks). Extract must
// be total: it returns a Record for every path it claimed, possibly with
// StatusFailed, and never mutates the source file.
type Plugin interface {
	Name() string
	Applicable(path string, entry Entry) bool
	Extract(ctx context.Context, path string, entry Entry) Record
}

// CapabilityError reports that an optional dependency of a plugin is
// unavailable. The registry disables such plugins for the whole run at
// startup instead of failing the crawl.
type CapabilityError struct {
	Plugin  string
	Missing string
}

func (e *CapabilityError) Error() string {
	return "plugin " + e.Plugin + ": missing capability " + e.Missing
}
