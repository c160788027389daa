// Package sink delivers crawl results to their destinations: JSON files
// on disk and the remote search index. Sinks consume a completed Result;
// they never run concurrently with the crawl that produced it.
package sink

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/spawn/internal/crawler"
)

// Sink consumes one crawl result.
type Sink interface {
	Name() string
	Consume(ctx context.Context, res *crawler.Result) error
}

// Multi fans a result out to several sinks. Every sink runs even when an
// earlier one fails; the errors are joined.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Consume(ctx context.Context, res *crawler.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Consume(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
