// Package crawler implements the directory traversal engine: it
// enumerates paths in a deterministic order, applies the include/exclude
// rules, dispatches eligible files to the plugin registry, and collects
// the resulting metadata records.
//
// Traversal ordering is an externally observable contract: repeated runs
// over an unchanged tree with unchanged configuration produce identical
// record sequences, which keeps JSON output reproducible and portal
// regeneration diffable. Extraction itself runs on a bounded worker
// pool; results are slotted back into traversal order before anyone
// sees them.
package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/matcher"
	"github.com/fyrsmithlabs/spawn/internal/metrics"
)

const defaultWorkers = 4

// Options configures a crawl.
type Options struct {
	// SkipHiddenDirs prunes directories whose name starts with
	// HiddenMarker without descending into them.
	SkipHiddenDirs bool
	// HiddenMarker defaults to ".".
	HiddenMarker string
	// Throttle is the minimum delay between successive file dispatches.
	// Zero disables throttling. Throttling gates dispatch rate; Workers
	// bounds concurrency — they are independent knobs.
	Throttle time.Duration
	// Workers bounds concurrent extractions. Defaults to 4.
	Workers int
	// MaxDepth limits descent below the root; zero means unlimited.
	MaxDepth int
	// FollowSymlinks resolves symlinked files and directories. Cycles
	// are detected and broken via resolved-path tracking.
	FollowSymlinks bool
	// DryRun lists eligible files without dispatching any extraction.
	DryRun bool
}

// Counters are the run-level tallies of a crawl.
type Counters struct {
	Visited int `json:"visited"`
	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// TraversalError records a directory or file that became unreadable
// mid-walk. It is informational: traversal continues past it.
type TraversalError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result is the immutable outcome of one crawl invocation.
type Result struct {
	RunID           string           `json:"run_id"`
	Root            string           `json:"root"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	Records         []extract.Record `json:"records"`
	Counters        Counters         `json:"counters"`
	TraversalErrors []TraversalError `json:"traversal_errors,omitempty"`
	// Cancelled marks a partial result from a cooperatively cancelled
	// crawl; the records present are complete and correctly ordered.
	Cancelled bool `json:"cancelled"`
	// MatchedPaths is populated in dry-run mode only.
	MatchedPaths []string `json:"matched_paths,omitempty"`
}

// Crawler drives crawls. It is safe to reuse for sequential runs; a
// single Crawler must not run two crawls concurrently.
type Crawler struct {
	rules    *matcher.RuleSet
	registry *extract.Registry
	logger   *zap.Logger
	metrics  *metrics.Crawl
	opts     Options

	running atomic.Bool
	visited atomic.Int64
	matched atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New creates a crawler. metrics may be nil.
func New(rules *matcher.RuleSet, registry *extract.Registry, logger *zap.Logger, m *metrics.Crawl, opts Options) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.HiddenMarker == "" {
		opts.HiddenMarker = "."
	}
	return &Crawler{
		rules:    rules,
		registry: registry,
		logger:   logger.Named("crawler"),
		metrics:  m,
		opts:     opts,
	}
}

// Running reports whether a crawl is in flight. Between the crawls of a
// watch session it reports false.
func (c *Crawler) Running() bool {
	return c.running.Load()
}

// Progress returns a point-in-time snapshot of the running crawl's
// counters. Failed counts failed records until the run completes, when
// Result.Counters.Failed switches to counting failed files.
func (c *Crawler) Progress() Counters {
	return Counters{
		Visited: int(c.visited.Load()),
		Matched: int(c.matched.Load()),
		Skipped: int(c.skipped.Load()),
		Failed:  int(c.failed.Load()),
	}
}

// cell receives the records of one dispatched file. Cells are appended
// in traversal order and each is written by exactly one worker, so
// flattening them after the pool drains restores the deterministic
// order without locking.
type cell struct {
	records []extract.Record
}

type run struct {
	c       *Crawler
	ctx     context.Context
	group   *errgroup.Group
	workCtx context.Context
	limiter *rate.Limiter
	res     *Result
	cells   []*cell
	// resolved tracks canonical directory paths when following
	// symlinks, to break cycles.
	resolved map[string]bool
}

// Run performs one crawl rooted at root.
//
// Only configuration-class failures (unreadable or non-directory root)
// return an error; everything that happens during traversal is captured
// in the Result. A cancelled crawl returns a partial Result with
// Cancelled set, not an error.
func (c *Crawler) Run(ctx context.Context, root string) (*Result, error) {
	cleanRoot, err := validateRoot(root)
	if err != nil {
		return nil, err
	}

	c.running.Store(true)
	defer c.running.Store(false)
	c.visited.Store(0)
	c.matched.Store(0)
	c.skipped.Store(0)
	c.failed.Store(0)

	res := &Result{
		RunID:     uuid.NewString(),
		Root:      cleanRoot,
		StartedAt: time.Now().UTC(),
		// Always an array in the JSON output, even for an empty crawl.
		Records: []extract.Record{},
	}

	group, workCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.opts.Workers)

	r := &run{
		c:       c,
		ctx:     ctx,
		group:   group,
		workCtx: workCtx,
		limiter: rate.NewLimiter(rate.Every(c.opts.Throttle), 1),
		res:     res,
	}
	if c.opts.FollowSymlinks {
		r.resolved = map[string]bool{}
		if canon, err := filepath.EvalSymlinks(cleanRoot); err == nil {
			r.resolved[canon] = true
		}
	}

	c.logger.Info("crawl started",
		zap.String("run_id", res.RunID),
		zap.String("root", cleanRoot),
		zap.Int("workers", c.opts.Workers),
		zap.Duration("throttle", c.opts.Throttle),
		zap.Bool("dry_run", c.opts.DryRun))

	r.walk(cleanRoot, 0)

	// Let in-flight extractions finish; workers only record outcomes,
	// they never return errors into the group.
	_ = group.Wait()

	for _, cl := range r.cells {
		res.Records = append(res.Records, cl.records...)
	}
	res.Counters = c.finalCounters(res)
	res.CompletedAt = time.Now().UTC()

	c.logger.Info("crawl completed",
		zap.String("run_id", res.RunID),
		zap.Int("visited", res.Counters.Visited),
		zap.Int("matched", res.Counters.Matched),
		zap.Int("skipped", res.Counters.Skipped),
		zap.Int("failed", res.Counters.Failed),
		zap.Bool("cancelled", res.Cancelled))

	return res, nil
}

// validateRoot rejects a missing or non-directory root before any
// traversal starts.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("root path cannot be empty")
	}
	clean := filepath.Clean(root)
	info, err := os.Stat(clean)
	if err != nil {
		return "", fmt.Errorf("root path %s: %w", clean, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root path %s is not a directory", clean)
	}
	return clean, nil
}

func (c *Crawler) finalCounters(res *Result) Counters {
	counters := Counters{
		Visited: int(c.visited.Load()),
		Matched: int(c.matched.Load()),
		Skipped: int(c.skipped.Load()),
	}
	// Failed counts files, not records: a file with several plugins
	// where one fails is one failed file.
	failedFiles := map[string]bool{}
	for _, rec := range res.Records {
		if rec.Status == extract.StatusFailed {
			failedFiles[rec.Path] = true
		}
	}
	counters.Failed = len(failedFiles)
	return counters
}

// walk traverses dir depth-first. Files are handled before
// subdirectories; both are processed in the lexicographic order
// ReadDir guarantees. Returns false when the crawl was cancelled.
func (r *run) walk(dir string, depth int) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable mid-walk (permissions, deletion race): record and
		// move on, like an excluded directory.
		r.res.TraversalErrors = append(r.res.TraversalErrors, TraversalError{Path: dir, Error: err.Error()})
		r.c.logger.Warn("directory unreadable, skipping", zap.String("dir", dir), zap.Error(err))
		return true
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		isFile, target := r.classify(path, entry)
		if !isFile {
			continue
		}
		if !r.handleFile(path, target) {
			r.res.Cancelled = true
			return false
		}
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !r.isDescendableDir(path, entry) {
			continue
		}
		if r.c.opts.SkipHiddenDirs && matcher.HiddenDir(entry.Name(), r.c.opts.HiddenMarker) {
			r.c.logger.Debug("pruned hidden directory", zap.String("dir", path))
			continue
		}
		if r.c.opts.MaxDepth > 0 && depth+1 > r.c.opts.MaxDepth {
			continue
		}
		if !r.walk(path, depth+1) {
			return false
		}
	}

	return true
}

// classify decides whether a non-directory entry should be treated as a
// file, resolving symlinks when configured. The returned FileInfo is
// the stat snapshot to extract against.
func (r *run) classify(path string, entry os.DirEntry) (bool, os.FileInfo) {
	if entry.Type()&os.ModeSymlink != 0 {
		if !r.c.opts.FollowSymlinks {
			return false, nil
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return false, nil
		}
		return true, info
	}
	info, err := entry.Info()
	if err != nil {
		r.res.TraversalErrors = append(r.res.TraversalErrors, TraversalError{Path: path, Error: err.Error()})
		return false, nil
	}
	return true, info
}

// isDescendableDir reports whether entry is a directory to recurse
// into, including followed symlinked directories with cycle breaking.
func (r *run) isDescendableDir(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 || !r.c.opts.FollowSymlinks {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	canon, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	if r.resolved[canon] {
		r.c.logger.Debug("symlink cycle broken", zap.String("dir", path))
		return false
	}
	r.resolved[canon] = true
	return true
}

// handleFile runs the per-file pipeline: count, match, throttle,
// dispatch. Returns false when the crawl should stop (cancellation).
func (r *run) handleFile(path string, info os.FileInfo) bool {
	c := r.c
	c.visited.Add(1)
	c.metrics.FileVisited()

	if err := r.ctx.Err(); err != nil {
		return false
	}

	if !c.rules.Matches(path) {
		c.skipped.Add(1)
		c.metrics.FileSkipped()
		return true
	}
	c.matched.Add(1)
	c.metrics.FileMatched()

	if c.opts.DryRun {
		r.res.MatchedPaths = append(r.res.MatchedPaths, path)
		return true
	}

	// Throttle gates the dispatch rate; it also observes cancellation.
	if err := r.limiter.Wait(r.ctx); err != nil {
		return false
	}

	snapshot := extract.Entry{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	plugins := c.registry.SelectFor(path, snapshot)
	if len(plugins) == 0 {
		return true
	}

	slot := &cell{}
	r.cells = append(r.cells, slot)
	r.group.Go(func() error {
		for _, p := range plugins {
			start := time.Now()
			rec := safeExtract(r.workCtx, p, path, snapshot)
			c.metrics.ObserveExtract(p.Name(), time.Since(start).Seconds())
			c.metrics.Record(p.Name(), string(rec.Status))
			if rec.Status == extract.StatusFailed {
				c.failed.Add(1)
				c.logger.Warn("extraction failed",
					zap.String("path", path),
					zap.String("plugin", p.Name()),
					zap.String("error", rec.Error))
			}
			slot.records = append(slot.records, rec)
		}
		return nil
	})

	return true
}

// safeExtract contains a panicking plugin to a failed record for that
// one file. This is the failure-containment boundary of the system: one
// bad file never aborts the remaining traversal.
func safeExtract(ctx context.Context, p extract.Plugin, path string, e extract.Entry) (rec extract.Record) {
	defer func() {
		if v := recover(); v != nil {
			rec = extract.Failed(path, p.Name(), fmt.Errorf("plugin panic: %v", v))
		}
	}()
	return p.Extract(ctx, path, e)
}
