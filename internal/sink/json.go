package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/crawler"
)

// JSON layout names.
const (
	LayoutAggregate = "aggregate"
	LayoutPerRecord = "per-record"
)

// AggregateFileName is the output file of the aggregate layout.
const AggregateFileName = "spawn_metadata.json"

// JSONOptions configures the JSON sink.
type JSONOptions struct {
	// Dir is the output directory, created if missing.
	Dir string
	// Layout is LayoutAggregate (one file holding the whole result) or
	// LayoutPerRecord (one file per record).
	Layout string
	// Annotations are extra key/value pairs written into the aggregate
	// envelope, for example git provenance of the crawled tree.
	Annotations map[string]string
}

// JSONSink writes crawl results to disk as JSON.
type JSONSink struct {
	opts   JSONOptions
	logger *zap.Logger
}

// NewJSON creates the JSON sink.
func NewJSON(opts JSONOptions, logger *zap.Logger) (*JSONSink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("json sink: output directory cannot be empty")
	}
	switch opts.Layout {
	case "":
		opts.Layout = LayoutAggregate
	case LayoutAggregate, LayoutPerRecord:
	default:
		return nil, fmt.Errorf("json sink: unknown layout %q", opts.Layout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONSink{opts: opts, logger: logger.Named("jsonsink")}, nil
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Consume(ctx context.Context, res *crawler.Result) error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("json sink: creating %s: %w", s.opts.Dir, err)
	}

	if s.opts.Layout == LayoutPerRecord {
		return s.writePerRecord(res)
	}
	return s.writeAggregate(res)
}

// aggregateDoc is the Result envelope plus optional annotations.
type aggregateDoc struct {
	*crawler.Result
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (s *JSONSink) writeAggregate(res *crawler.Result) error {
	path := filepath.Join(s.opts.Dir, AggregateFileName)
	doc := aggregateDoc{Result: res, Annotations: s.opts.Annotations}
	if err := writeJSON(path, doc); err != nil {
		return err
	}
	s.logger.Info("wrote aggregate metadata",
		zap.String("path", path),
		zap.Int("records", len(res.Records)))
	return nil
}

func (s *JSONSink) writePerRecord(res *crawler.Result) error {
	// Stems from different directories can collide in the flat output
	// directory; a counter suffix keeps every record.
	used := map[string]int{}
	for _, rec := range res.Records {
		stem := strings.TrimSuffix(filepath.Base(rec.Path), filepath.Ext(rec.Path))
		base := fmt.Sprintf("%s_%s_metadata", stem, rec.Plugin)
		name := base + ".json"
		if n := used[base]; n > 0 {
			name = fmt.Sprintf("%s_%d.json", base, n)
		}
		used[base]++

		if err := writeJSON(filepath.Join(s.opts.Dir, name), rec); err != nil {
			return err
		}
	}
	s.logger.Info("wrote per-record metadata",
		zap.String("dir", s.opts.Dir),
		zap.Int("records", len(res.Records)))
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json sink: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("json sink: writing %s: %w", path, err)
	}
	return nil
}

var _ Sink = (*JSONSink)(nil)
