package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/config"
	"github.com/fyrsmithlabs/spawn/internal/crawler"
	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/gitinfo"
	"github.com/fyrsmithlabs/spawn/internal/logging"
	"github.com/fyrsmithlabs/spawn/internal/metrics"
	"github.com/fyrsmithlabs/spawn/internal/searchindex"
	"github.com/fyrsmithlabs/spawn/internal/sink"
	"github.com/fyrsmithlabs/spawn/internal/status"
	"github.com/fyrsmithlabs/spawn/internal/watch"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <root>",
	Short: "Crawl a directory tree and extract metadata",
	Long: `Crawl walks the tree rooted at <root>, extracts metadata from every
eligible file, and writes the records to the configured sinks.

Examples:
  # Everything except dotfile directories, aggregate JSON in the cwd
  spawn crawl /data/archive

  # Only images, throttled, four extraction workers
  spawn crawl --include '\.(png|jpg|tiff)$' --throttle 100ms --workers 4 /data/scans

  # See what would be crawled without extracting anything
  spawn crawl --dry-run --include '\.csv$' /data/archive

  # Publish successful records to the search index
  spawn crawl --publish /data/archive`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func init() {
	f := crawlCmd.Flags()
	f.StringArray("include", nil, "regex a path must match to be crawled (repeatable)")
	f.StringArray("exclude", nil, "regex that removes a path from the crawl (repeatable)")
	f.Bool("skip-hidden", true, "prune hidden directories")
	f.String("hidden-marker", ".", "prefix marking a directory as hidden")
	f.Duration("throttle", 0, "minimum delay between file dispatches")
	f.Int("workers", 0, "concurrent extraction workers")
	f.Int("max-depth", 0, "maximum traversal depth (0 = unlimited)")
	f.Bool("follow-symlinks", false, "follow symbolic links")
	f.Bool("dry-run", false, "list eligible files without extracting")
	f.Bool("watch", false, "keep watching the tree and re-crawl on changes")
	f.String("json-dir", "", "directory for JSON metadata output")
	f.String("json-layout", "", "JSON layout: aggregate or per-record")
	f.Bool("no-json", false, "disable JSON output")
	f.Bool("publish", false, "publish successful records to the search index")
	f.StringArray("visible-to", nil, "principals granted read access to published entries")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	registry, err := extract.BuildRegistry(cfg.Plugins, logger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	c := crawler.New(rules, registry, logger, metrics.NewCrawl(promReg), crawler.Options{
		SkipHiddenDirs: cfg.Crawler.SkipHiddenDirs,
		HiddenMarker:   cfg.Crawler.HiddenMarker,
		Throttle:       cfg.Crawler.Throttle,
		Workers:        cfg.Crawler.Workers,
		MaxDepth:       cfg.Crawler.MaxDepth,
		FollowSymlinks: cfg.Crawler.FollowSymlinks,
		DryRun:         mustBool(cmd, "dry-run"),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Enabled {
		srv := status.New(cfg.Status.Host, cfg.Status.Port, c, promReg, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck // best effort on exit
		}()
	}

	root := args[0]
	sinks, err := buildSinks(cfg, root, logger)
	if err != nil {
		return err
	}

	if mustBool(cmd, "dry-run") {
		res, err := c.Run(ctx, root)
		if err != nil {
			return err
		}
		for _, p := range res.MatchedPaths {
			fmt.Println(p)
		}
		return nil
	}

	if mustBool(cmd, "watch") {
		if err := crawlOnce(ctx, c, root, sinks); err != nil {
			logger.Warn("initial crawl reported failures", zap.Error(err))
		}
		w := watch.New(watch.Options{
			SkipHiddenDirs: cfg.Crawler.SkipHiddenDirs,
			HiddenMarker:   cfg.Crawler.HiddenMarker,
		}, logger)
		return w.Run(ctx, root, func(ctx context.Context) {
			if err := crawlOnce(ctx, c, root, sinks); err != nil {
				logger.Warn("crawl reported failures", zap.Error(err))
			}
		})
	}

	return crawlOnce(ctx, c, root, sinks)
}

// crawlOnce runs one crawl, delivers the result, and prints the summary
// to stdout. A crawl with failed files returns an error so the process
// exits nonzero.
func crawlOnce(ctx context.Context, c *crawler.Crawler, root string, sinks sink.Sink) error {
	res, err := c.Run(ctx, root)
	if err != nil {
		return err
	}

	if sinks != nil {
		// Sinks run with a fresh context so a cancelled crawl still
		// flushes its partial result.
		if err := sinks.Consume(context.Background(), res); err != nil {
			return err
		}
	}

	summary := map[string]any{
		"run_id":    res.RunID,
		"root":      res.Root,
		"cancelled": res.Cancelled,
		"counters":  res.Counters,
	}
	out, _ := json.Marshal(summary)
	fmt.Println(string(out))

	if res.Counters.Failed > 0 {
		return fmt.Errorf("%d file(s) failed extraction", res.Counters.Failed)
	}
	return nil
}

// buildSinks assembles the configured delivery chain. Dry runs get none.
func buildSinks(cfg *config.Config, root string, logger *zap.Logger) (sink.Sink, error) {
	var sinks sink.Multi

	if cfg.Metadata.SaveJSON {
		annotations := map[string]string{}
		if prov, err := gitinfo.Detect(root); err == nil && prov != nil {
			annotations["git_branch"] = prov.Branch
			annotations["git_commit"] = prov.Commit
		}
		js, err := sink.NewJSON(sink.JSONOptions{
			Dir:         cfg.Metadata.Dir,
			Layout:      cfg.Metadata.Layout,
			Annotations: annotations,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, js)
	}

	if cfg.Search.Enabled {
		client, err := searchindex.New(cfg.Search.Config, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewIndex(client, logger))
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

// applyFlags lays explicitly set command-line flags over the loaded
// configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	pf := cmd.Root().PersistentFlags()

	if f.Changed("include") {
		cfg.Crawler.Include, _ = f.GetStringArray("include")
	}
	if f.Changed("exclude") {
		cfg.Crawler.Exclude, _ = f.GetStringArray("exclude")
	}
	if f.Changed("skip-hidden") {
		cfg.Crawler.SkipHiddenDirs = mustBool(cmd, "skip-hidden")
	}
	if f.Changed("hidden-marker") {
		cfg.Crawler.HiddenMarker, _ = f.GetString("hidden-marker")
	}
	if f.Changed("throttle") {
		cfg.Crawler.Throttle, _ = f.GetDuration("throttle")
	}
	if f.Changed("workers") {
		cfg.Crawler.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("max-depth") {
		cfg.Crawler.MaxDepth, _ = f.GetInt("max-depth")
	}
	if f.Changed("follow-symlinks") {
		cfg.Crawler.FollowSymlinks = mustBool(cmd, "follow-symlinks")
	}
	if f.Changed("json-dir") {
		cfg.Metadata.Dir, _ = f.GetString("json-dir")
	}
	if f.Changed("json-layout") {
		cfg.Metadata.Layout, _ = f.GetString("json-layout")
	}
	if f.Changed("no-json") {
		cfg.Metadata.SaveJSON = !mustBool(cmd, "no-json")
	}
	if f.Changed("publish") {
		cfg.Search.Enabled = mustBool(cmd, "publish")
	}
	if f.Changed("visible-to") {
		cfg.Search.VisibleTo, _ = f.GetStringArray("visible-to")
	}
	if mustBool(cmd, "dry-run") {
		cfg.Metadata.SaveJSON = false
		cfg.Search.Enabled = false
	}

	if pf.Changed("log-level") {
		cfg.Logging.Level, _ = pf.GetString("log-level")
	}
	if pf.Changed("log-format") {
		cfg.Logging.Format, _ = pf.GetString("log-format")
	}
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
