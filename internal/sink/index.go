package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/crawler"
	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/searchindex"
)

// publisher is the slice of the search client the sink needs.
type publisher interface {
	Publish(ctx context.Context, docs []searchindex.Document) (*searchindex.PublishResult, error)
}

// IndexSink publishes successful records to the search index. Skipped
// and failed records stay local: the index only ever sees metadata that
// was actually extracted.
type IndexSink struct {
	client publisher
	logger *zap.Logger
}

// NewIndex creates the index sink.
func NewIndex(client *searchindex.Client, logger *zap.Logger) *IndexSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexSink{client: client, logger: logger.Named("indexsink")}
}

func (s *IndexSink) Name() string { return "index" }

func (s *IndexSink) Consume(ctx context.Context, res *crawler.Result) error {
	var docs []searchindex.Document
	for _, rec := range res.Records {
		if rec.Status != extract.StatusSuccess {
			continue
		}
		content := map[string]any{
			"path":   rec.Path,
			"plugin": rec.Plugin,
			"run_id": res.RunID,
		}
		for k, v := range rec.Fields {
			content[k] = v
		}
		docs = append(docs, searchindex.Document{
			Subject: "file://" + rec.Path,
			Content: content,
		})
	}

	if len(docs) == 0 {
		s.logger.Info("nothing to publish", zap.String("run_id", res.RunID))
		return nil
	}

	pub, err := s.client.Publish(ctx, docs)
	if err != nil {
		return fmt.Errorf("index sink: %w", err)
	}
	if pub.Failed > 0 {
		return fmt.Errorf("index sink: %d of %d documents failed to publish", pub.Failed, len(docs))
	}
	return nil
}

var _ Sink = (*IndexSink)(nil)
