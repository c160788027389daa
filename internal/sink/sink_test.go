package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/crawler"
	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/searchindex"
)

func sampleResult() *crawler.Result {
	return &crawler.Result{
		RunID:     "run-1",
		Root:      "/data",
		StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Records: []extract.Record{
			extract.Success("/data/a.txt", "text", map[string]any{"char_count": 50}),
			extract.Success("/data/sub/a.txt", "text", map[string]any{"char_count": 8}),
			extract.Failed("/data/b.jpg", "image", errors.New("decode b.jpg: bad header")),
		},
		Counters: crawler.Counters{Visited: 3, Matched: 3, Failed: 1},
	}
}

func TestJSONSink_Aggregate(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSON(JSONOptions{
		Dir:         dir,
		Annotations: map[string]string{"git_branch": "main"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Consume(context.Background(), sampleResult()))

	data, err := os.ReadFile(filepath.Join(dir, AggregateFileName))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, map[string]any{"git_branch": "main"}, doc["annotations"])

	records, ok := doc["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 3)

	first := records[0].(map[string]any)
	assert.Equal(t, "/data/a.txt", first["path"])
	assert.Equal(t, "text", first["plugin"])
	assert.Equal(t, "success", first["status"])
	_, hasError := first["error"]
	assert.False(t, hasError)

	failed := records[2].(map[string]any)
	assert.Equal(t, "failed", failed["status"])
	assert.Contains(t, failed["error"], "bad header")
}

func TestJSONSink_PerRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSON(JSONOptions{Dir: dir, Layout: LayoutPerRecord}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Consume(context.Background(), sampleResult()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// The two a.txt records share a stem; the collision suffix keeps both.
	assert.ElementsMatch(t, []string{
		"a_text_metadata.json",
		"a_text_metadata_1.json",
		"b_image_metadata.json",
	}, names)

	data, err := os.ReadFile(filepath.Join(dir, "a_text_metadata.json"))
	require.NoError(t, err)
	var rec extract.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "/data/a.txt", rec.Path)
	assert.Equal(t, float64(50), rec.Fields["char_count"])
}

func TestJSONSink_BadConfig(t *testing.T) {
	_, err := NewJSON(JSONOptions{}, zap.NewNop())
	require.Error(t, err)

	_, err = NewJSON(JSONOptions{Dir: t.TempDir(), Layout: "sideways"}, zap.NewNop())
	require.Error(t, err)
}

func TestIndexSink_PublishesOnlySuccesses(t *testing.T) {
	var got struct {
		IngestData struct {
			GMeta []struct {
				Subject string         `json:"subject"`
				Content map[string]any `json:"content"`
			} `json:"gmeta"`
		} `json:"ingest_data"`
	}
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, err := searchindex.New(searchindex.Config{BaseURL: ts.URL, Index: "idx"}, zap.NewNop())
	require.NoError(t, err)

	s := NewIndex(client, zap.NewNop())
	require.NoError(t, s.Consume(context.Background(), sampleResult()))

	require.Equal(t, 1, calls)
	require.Len(t, got.IngestData.GMeta, 2)
	assert.Equal(t, "file:///data/a.txt", got.IngestData.GMeta[0].Subject)
	assert.Equal(t, "text", got.IngestData.GMeta[0].Content["plugin"])
	assert.Equal(t, "run-1", got.IngestData.GMeta[0].Content["run_id"])
	assert.Equal(t, float64(50), got.IngestData.GMeta[0].Content["char_count"])
}

func TestIndexSink_NothingToPublish(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer ts.Close()

	client, err := searchindex.New(searchindex.Config{BaseURL: ts.URL, Index: "idx"}, zap.NewNop())
	require.NoError(t, err)

	res := &crawler.Result{RunID: "run-2", Records: []extract.Record{
		extract.Failed("/data/x", "pdf", errors.New("parse")),
	}}
	require.NoError(t, NewIndex(client, zap.NewNop()).Consume(context.Background(), res))
}

func TestIndexSink_ReportsPublishFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := searchindex.New(searchindex.Config{BaseURL: ts.URL, Index: "idx"}, zap.NewNop())
	require.NoError(t, err)

	err = NewIndex(client, zap.NewNop()).Consume(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish")
}

type recordingSink struct {
	name string
	err  error
	seen int
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Consume(ctx context.Context, res *crawler.Result) error {
	r.seen++
	return r.err
}

func TestMulti_RunsAllSinks(t *testing.T) {
	a := &recordingSink{name: "a", err: errors.New("a broke")}
	b := &recordingSink{name: "b"}

	err := Multi{a, b}.Consume(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Equal(t, 1, a.seen)
	assert.Equal(t, 1, b.seen)

	assert.NoError(t, Multi{b}.Consume(context.Background(), sampleResult()))
}
