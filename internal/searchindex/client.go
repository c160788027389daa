// Package searchindex publishes metadata records to a remote search
// index over its batch ingest HTTP API.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 100
	defaultTimeout   = 30 * time.Second
)

// Config holds the publishing configuration.
type Config struct {
	// BaseURL is the index service endpoint, without a trailing slash.
	BaseURL string `koanf:"base_url"`
	// Index is the UUID of the target index.
	Index string `koanf:"index"`
	// VisibleTo lists the principals granted read access to published
	// entries. Defaults to public.
	VisibleTo []string `koanf:"visible_to"`
	// BatchSize bounds how many documents go into one ingest request.
	BatchSize int `koanf:"batch_size"`
	// BatchPause is an optional delay between consecutive batches.
	BatchPause time.Duration `koanf:"batch_pause"`
	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("search base_url cannot be empty")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid search base_url: %w", err)
	}
	if c.Index == "" {
		return fmt.Errorf("search index cannot be empty")
	}
	return nil
}

// Document is one entry to publish. Subject identifies the entry in the
// index; Content is the metadata payload.
type Document struct {
	Subject string
	Content map[string]any
}

// PublishResult summarizes a Publish call.
type PublishResult struct {
	Succeeded int
	Failed    int
}

// Client talks to the search index. Create it with New.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a client from validated config.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.VisibleTo) == 0 {
		cfg.VisibleTo = []string{"public"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("searchindex"),
	}, nil
}

// gmetaEntry is the wire form of one document.
type gmetaEntry struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	VisibleTo []string       `json:"visible_to"`
	Content   map[string]any `json:"content"`
}

type ingestRequest struct {
	IngestType string     `json:"ingest_type"`
	IngestData ingestData `json:"ingest_data"`
}

type ingestData struct {
	GMeta []gmetaEntry `json:"gmeta"`
}

// Publish sends docs to the index in batches. A batch that fails after
// its retry is counted and skipped; remaining batches still go out.
// Publish returns an error only when the context ends.
func (c *Client) Publish(ctx context.Context, docs []Document) (*PublishResult, error) {
	res := &PublishResult{}

	for start := 0; start < len(docs); start += c.cfg.BatchSize {
		if start > 0 && c.cfg.BatchPause > 0 {
			if err := sleep(ctx, c.cfg.BatchPause); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start + c.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if err := c.ingest(ctx, batch); err != nil {
			res.Failed += len(batch)
			c.logger.Warn("batch ingest failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}
		res.Succeeded += len(batch)
	}

	c.logger.Info("publish finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}

// ingest posts one batch, retrying once on a transport error or non-2xx
// response.
func (c *Client) ingest(ctx context.Context, batch []Document) error {
	entries := make([]gmetaEntry, 0, len(batch))
	for _, d := range batch {
		entries = append(entries, gmetaEntry{
			ID:        uuid.NewString(),
			Subject:   d.Subject,
			VisibleTo: c.cfg.VisibleTo,
			Content:   d.Content,
		})
	}
	body, err := json.Marshal(ingestRequest{
		IngestType: "GMetaList",
		IngestData: ingestData{GMeta: entries},
	})
	if err != nil {
		return fmt.Errorf("encoding ingest request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/index/%s/ingest", c.cfg.BaseURL, c.cfg.Index)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
		}
		lastErr = c.post(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting ingest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
