// Package config provides configuration loading for spawn.
//
// Precedence, highest to lowest: environment variables (SPAWN_*), the
// YAML config file, built-in defaults.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/spawn/internal/extract"
	"github.com/fyrsmithlabs/spawn/internal/logging"
	"github.com/fyrsmithlabs/spawn/internal/matcher"
	"github.com/fyrsmithlabs/spawn/internal/searchindex"
	"github.com/fyrsmithlabs/spawn/internal/sink"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// defaults is the lowest-precedence configuration layer.
const defaults = `
crawler:
  skip_hidden_dirs: true
  hidden_marker: "."
  workers: 4
metadata:
  save_json: true
  dir: "."
  layout: aggregate
search:
  enabled: false
  batch_size: 100
  timeout: 30s
logging:
  level: info
  format: json
status:
  enabled: false
  host: 127.0.0.1
  port: 9187
`

// CrawlerConfig controls traversal and filtering.
type CrawlerConfig struct {
	Include        []string      `koanf:"include"`
	Exclude        []string      `koanf:"exclude"`
	SkipHiddenDirs bool          `koanf:"skip_hidden_dirs"`
	HiddenMarker   string        `koanf:"hidden_marker"`
	Throttle       time.Duration `koanf:"throttle"`
	Workers        int           `koanf:"workers"`
	MaxDepth       int           `koanf:"max_depth"`
	FollowSymlinks bool          `koanf:"follow_symlinks"`
}

// MetadataConfig controls the JSON output sink.
type MetadataConfig struct {
	SaveJSON bool   `koanf:"save_json"`
	Dir      string `koanf:"dir"`
	Layout   string `koanf:"layout"`
}

// SearchConfig controls publishing to the search index.
type SearchConfig struct {
	Enabled            bool `koanf:"enabled"`
	searchindex.Config `koanf:",squash"`
}

// StatusConfig controls the optional status/metrics HTTP server.
type StatusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// Config is the root configuration.
type Config struct {
	Crawler  CrawlerConfig               `koanf:"crawler"`
	Plugins  map[string]extract.Settings `koanf:"plugins"`
	Metadata MetadataConfig              `koanf:"metadata"`
	Search   SearchConfig                `koanf:"search"`
	Logging  logging.Config              `koanf:"logging"`
	Status   StatusConfig                `koanf:"status"`
}

// Load builds the configuration. configPath may be empty, in which case
// only defaults and environment variables apply; a non-empty path must
// exist.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	// SPAWN_CRAWLER_MAX_DEPTH -> crawler.max_depth: strip the prefix,
	// split on the first underscore into section and field.
	if err := k.Load(env.Provider("SPAWN_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "SPAWN_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// Validate checks the whole configuration, compiling the include and
// exclude patterns so a bad regex surfaces before any traversal.
func (c *Config) Validate() error {
	if _, err := matcher.Compile(c.Crawler.Include, c.Crawler.Exclude); err != nil {
		return err
	}
	if c.Crawler.Workers < 0 {
		return fmt.Errorf("crawler workers cannot be negative")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler max_depth cannot be negative")
	}
	if c.Crawler.Throttle < 0 {
		return fmt.Errorf("crawler throttle cannot be negative")
	}

	if c.Metadata.SaveJSON {
		switch c.Metadata.Layout {
		case sink.LayoutAggregate, sink.LayoutPerRecord:
		default:
			return fmt.Errorf("metadata layout must be %q or %q, got %q",
				sink.LayoutAggregate, sink.LayoutPerRecord, c.Metadata.Layout)
		}
	}

	if c.Search.Enabled {
		if err := c.Search.Config.Validate(); err != nil {
			return err
		}
	}

	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		return fmt.Errorf("status port must be 1-65535, got %d", c.Status.Port)
	}

	return c.Logging.Validate()
}

// Rules compiles the crawler's include and exclude patterns.
func (c *Config) Rules() (*matcher.RuleSet, error) {
	return matcher.Compile(c.Crawler.Include, c.Crawler.Exclude)
}
