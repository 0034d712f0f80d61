// Package config holds store configuration with YAML file support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls a trace store's layout and tuning knobs.
type Config struct {
	// Dir is the vault directory holding the log, manifest, index, and
	// archive blocks.
	Dir string `yaml:"dir"`

	// SegmentSize is how many frames make one archive block.
	SegmentSize int `yaml:"segment_size"`

	// ContextBudget is the default context budget in tokens.
	ContextBudget int `yaml:"context_budget"`

	// IndexQueueDepth bounds the async indexing queue.
	IndexQueueDepth int `yaml:"index_queue_depth"`

	// WatchInterval is the poll interval for live tails.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// Default returns the default configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentSize:     512,
		ContextBudget:   4000,
		IndexQueueDepth: 1024,
		WatchInterval:   100 * time.Millisecond,
	}
}

// Load reads a YAML config file and overlays it on the defaults. Unset
// fields keep their default values. Durations are written as strings
// ("250ms", "2s").
func Load(path string) (Config, error) {
	cfg := Default("")

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Dir             string `yaml:"dir"`
		SegmentSize     int    `yaml:"segment_size"`
		ContextBudget   int    `yaml:"context_budget"`
		IndexQueueDepth int    `yaml:"index_queue_depth"`
		WatchInterval   string `yaml:"watch_interval"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Dir = raw.Dir
	if raw.SegmentSize > 0 {
		cfg.SegmentSize = raw.SegmentSize
	}
	if raw.ContextBudget > 0 {
		cfg.ContextBudget = raw.ContextBudget
	}
	if raw.IndexQueueDepth > 0 {
		cfg.IndexQueueDepth = raw.IndexQueueDepth
	}
	if raw.WatchInterval != "" {
		d, err := time.ParseDuration(raw.WatchInterval)
		if err != nil {
			return cfg, fmt.Errorf("parse config: watch_interval: %w", err)
		}
		cfg.WatchInterval = d
	}
	return cfg, nil
}

// LogPath returns the frame log file path.
func (c Config) LogPath() string { return filepath.Join(c.Dir, "frames.log") }

// ManifestPath returns the integrity manifest file path.
func (c Config) ManifestPath() string { return filepath.Join(c.Dir, "manifest.json") }

// IndexPath returns the search index database path.
func (c Config) IndexPath() string { return filepath.Join(c.Dir, "index.db") }

// ArchiveDir returns the archive block directory.
func (c Config) ArchiveDir() string { return filepath.Join(c.Dir, "archive") }
