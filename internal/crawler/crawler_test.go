package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/matcher"
)

// stubPlugin is a controllable plugin for crawl tests. Call counters are
// atomic because extraction runs on the worker pool.
type stubPlugin struct {
	name       string
	claims     func(path string) bool
	extract    func(ctx context.Context, path string, entry extract.Entry) extract.Record
	applicable atomic.Int64
	extracted  atomic.Int64
}

func (s *stubPlugin) Name() string { return s.name }

func (s *stubPlugin) Applicable(path string, entry extract.Entry) bool {
	s.applicable.Add(1)
	if s.claims == nil {
		return true
	}
	return s.claims(path)
}

func (s *stubPlugin) Extract(ctx context.Context, path string, entry extract.Entry) extract.Record {
	s.extracted.Add(1)
	if s.extract == nil {
		return extract.Success(path, s.name, map[string]any{"stub": true})
	}
	return s.extract(ctx, path, entry)
}

func claimExt(ext string) func(string) bool {
	return func(path string) bool {
		return strings.HasSuffix(path, ext)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return writeFile(t, dir, name, buf.String())
}

func mustRules(t *testing.T, includes, excludes []string) *matcher.RuleSet {
	t.Helper()
	rules, err := matcher.Compile(includes, excludes)
	require.NoError(t, err)
	return rules
}

// textImageRegistry holds only the text and image plugins, so the
// record counts in assertions stay readable.
func textImageRegistry(t *testing.T) *extract.Registry {
	t.Helper()
	r := extract.NewRegistry(zap.NewNop())
	text, err := extract.NewText(extract.TextOptionsFrom(nil))
	require.NoError(t, err)
	img, err := extract.NewImage(extract.ImageOptionsFrom(nil))
	require.NoError(t, err)
	r.Register(text)
	r.Register(img)
	return r
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", strings.Repeat("x", 50))
	writeJPEG(t, dir, "b.jpg", 32, 16)
	writeFile(t, dir, "data.bin", "not eligible")
	writeFile(t, dir, ".git/config", "[core]")

	rules := mustRules(t, []string{`\.(txt|jpg)$`}, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{SkipHiddenDirs: true})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Cancelled)
	assert.Empty(t, res.TraversalErrors)
	assert.Equal(t, 3, res.Counters.Visited)
	assert.Equal(t, 2, res.Counters.Matched)
	assert.Equal(t, 1, res.Counters.Skipped)
	assert.Equal(t, 0, res.Counters.Failed)

	require.Len(t, res.Records, 2)
	assert.Equal(t, filepath.Join(dir, "a.txt"), res.Records[0].Path)
	assert.Equal(t, "text", res.Records[0].Plugin)
	assert.Equal(t, extract.StatusSuccess, res.Records[0].Status)
	assert.Equal(t, 50, res.Records[0].Fields["char_count"])

	assert.Equal(t, filepath.Join(dir, "b.jpg"), res.Records[1].Path)
	assert.Equal(t, "image", res.Records[1].Plugin)
	assert.Equal(t, 32, res.Records[1].Fields["width"])
	assert.Equal(t, 16, res.Records[1].Fields["height"])

	assert.False(t, res.CompletedAt.Before(res.StartedAt))
}

func TestRun_Deterministic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "sub/b.txt", "sub/inner/d.txt", "zz/e.txt"} {
		writeFile(t, dir, name, "content of "+name)
	}

	rules := mustRules(t, []string{`\.txt$`}, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{Workers: 4})

	first, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	second, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, first.Records, 5)
	// Files precede subdirectories at each level.
	assert.Equal(t, filepath.Join(dir, "a.txt"), first.Records[0].Path)
	assert.Equal(t, filepath.Join(dir, "c.txt"), first.Records[1].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "b.txt"), first.Records[2].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "inner", "d.txt"), first.Records[3].Path)
	assert.Equal(t, filepath.Join(dir, "zz", "e.txt"), first.Records[4].Path)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Counters, second.Counters)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_ExcludeWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "keep")
	writeFile(t, dir, "drop.tmp.txt", "drop")

	rules := mustRules(t, []string{`\.txt$`}, []string{`\.tmp\.`})
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, filepath.Join(dir, "keep.txt"), res.Records[0].Path)
	assert.Equal(t, 1, res.Counters.Skipped)
}

func TestRun_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "fine")
	writeFile(t, dir, "b.bad", "boom")
	writeFile(t, dir, "c.txt", "also fine")

	panicking := &stubPlugin{
		name:   "bomb",
		claims: claimExt(".bad"),
		extract: func(ctx context.Context, path string, entry extract.Entry) extract.Record {
			panic("corrupt input")
		},
	}
	ok := &stubPlugin{name: "ok", claims: claimExt(".txt")}

	r := extract.NewRegistry(zap.NewNop())
	r.Register(ok)
	r.Register(panicking)

	rules := mustRules(t, nil, nil)
	c := New(rules, r, zap.NewNop(), nil, Options{Workers: 2})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	byPath := map[string]extract.Record{}
	for _, rec := range res.Records {
		byPath[rec.Path] = rec
	}

	bad := byPath[filepath.Join(dir, "b.bad")]
	assert.Equal(t, extract.StatusFailed, bad.Status)
	assert.Equal(t, "bomb", bad.Plugin)
	assert.Contains(t, bad.Error, "plugin panic")

	assert.Equal(t, extract.StatusSuccess, byPath[filepath.Join(dir, "a.txt")].Status)
	assert.Equal(t, extract.StatusSuccess, byPath[filepath.Join(dir, "c.txt")].Status)
	assert.Equal(t, 1, res.Counters.Failed)
}

func TestRun_HiddenDirPruning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.txt", "visible")
	writeFile(t, dir, ".hidden/buried.txt", "never seen")
	writeFile(t, dir, ".hidden/deep/deeper.txt", "never seen")

	counting := &stubPlugin{name: "counting"}
	r := extract.NewRegistry(zap.NewNop())
	r.Register(counting)

	rules := mustRules(t, nil, nil)
	c := New(rules, r, zap.NewNop(), nil, Options{SkipHiddenDirs: true})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	// Pruning means the hidden subtree is never enumerated: the plugin
	// is consulted exactly once, for top.txt.
	assert.Equal(t, int64(1), counting.applicable.Load())
	assert.Equal(t, 1, res.Counters.Visited)

	// Without pruning all three files surface.
	c = New(rules, r, zap.NewNop(), nil, Options{SkipHiddenDirs: false})
	res, err = c.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counters.Visited)
}

func TestRun_Cancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, dir, string(rune('a'+i))+".txt", "content")
	}

	ctx, cancel := context.WithCancel(context.Background())
	tripwire := &stubPlugin{
		name: "tripwire",
		extract: func(_ context.Context, path string, entry extract.Entry) extract.Record {
			cancel()
			return extract.Success(path, "tripwire", nil)
		},
	}
	r := extract.NewRegistry(zap.NewNop())
	r.Register(tripwire)

	rules := mustRules(t, nil, nil)
	c := New(rules, r, zap.NewNop(), nil, Options{Workers: 1})

	res, err := c.Run(ctx, dir)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Less(t, len(res.Records), 10)
	assert.GreaterOrEqual(t, len(res.Records), 1)
	for _, rec := range res.Records {
		assert.Equal(t, extract.StatusSuccess, rec.Status)
	}
}

func TestRun_DryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "c.bin", "c")

	counting := &stubPlugin{name: "counting"}
	r := extract.NewRegistry(zap.NewNop())
	r.Register(counting)

	rules := mustRules(t, []string{`\.txt$`}, nil)
	c := New(rules, r, zap.NewNop(), nil, Options{DryRun: true})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
	}, res.MatchedPaths)
	assert.Empty(t, res.Records)
	assert.Equal(t, int64(0), counting.extracted.Load())
	assert.Equal(t, 2, res.Counters.Matched)
}

func TestRun_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "d0.txt", "depth 0")
	writeFile(t, dir, "sub/d1.txt", "depth 1")
	writeFile(t, dir, "sub/inner/d2.txt", "depth 2")

	rules := mustRules(t, []string{`\.txt$`}, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{MaxDepth: 1})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, filepath.Join(dir, "d0.txt"), res.Records[0].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "d1.txt"), res.Records[1].Path)
}

func TestRun_Throttle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "c.txt", "c")

	rules := mustRules(t, []string{`\.txt$`}, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{Throttle: 30 * time.Millisecond})

	start := time.Now()
	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	// Burst of one: dispatches after the first each wait the interval.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRun_Symlinks(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "real/data.txt", "linked")
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "alias.txt")))
	// A cycle back to the root must not loop the walk.
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "real", "loop")))

	rules := mustRules(t, []string{`\.txt$`}, nil)

	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{})
	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, filepath.Join(dir, "real", "data.txt"), res.Records[0].Path)

	c = New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{FollowSymlinks: true})
	res, err = c.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, filepath.Join(dir, "alias.txt"), res.Records[0].Path)
	assert.Equal(t, filepath.Join(dir, "real", "data.txt"), res.Records[1].Path)
}

func TestRun_BadRoot(t *testing.T) {
	rules := mustRules(t, nil, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{})

	_, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := writeFile(t, t.TempDir(), "plain.txt", "not a dir")
	_, err = c.Run(context.Background(), file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	_, err = c.Run(context.Background(), "")
	require.Error(t, err)
}

func TestRun_EmptyTreeYieldsEmptyRecordArray(t *testing.T) {
	rules := mustRules(t, []string{`\.txt$`}, nil)
	c := New(rules, textImageRegistry(t), zap.NewNop(), nil, Options{})

	res, err := c.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NotNil(t, res.Records)
	assert.Empty(t, res.Records)

	// The aggregate JSON must show an array, never null.
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"records":[]`)
}

func TestRunning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content")

	var c *Crawler
	witness := &stubPlugin{
		name: "witness",
		extract: func(_ context.Context, path string, entry extract.Entry) extract.Record {
			assert.True(t, c.Running())
			return extract.Success(path, "witness", nil)
		},
	}
	r := extract.NewRegistry(zap.NewNop())
	r.Register(witness)

	c = New(mustRules(t, nil, nil), r, zap.NewNop(), nil, Options{})

	assert.False(t, c.Running())
	_, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, c.Running())
	assert.Equal(t, int64(1), witness.extracted.Load())
}

func TestRun_NoPluginClaims(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xyz", "unclaimed")

	r := extract.NewRegistry(zap.NewNop())
	r.Register(&stubPlugin{name: "never", claims: func(string) bool { return false }})

	rules := mustRules(t, nil, nil)
	c := New(rules, r, zap.NewNop(), nil, Options{})

	res, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Counters.Matched)
}
