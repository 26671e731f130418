package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittows/pkg/download"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/workspace/strategy"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Paths derived from storage.content_path are filled after it is known
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyCASDefaults(&cfg.CAS, cfg.Storage.ContentPath)
	applyIndexDefaults(&cfg.Index, cfg.Storage.ContentPath)
	applyPlacementDefaults(&cfg.Placement)
	applyDownloadDefaults(&cfg.Download)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.ContentPath == "" {
		cfg.ContentPath = filepath.Join(getDataDir(), "content")
	}
	if cfg.WorkspacePath == "" {
		cfg.WorkspacePath = filepath.Join(getDataDir(), "workspaces")
	}
}

func applyCASDefaults(cfg *CASConfig, contentPath string) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(contentPath, "cas")
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = fileops.HashSHA256
	}
	cfg.HashAlgorithm = strings.ToLower(cfg.HashAlgorithm)

	if cfg.Remote.Type == "" {
		cfg.Remote.Type = "none"
	}
	if cfg.Remote.S3 == nil {
		cfg.Remote.S3 = make(map[string]any)
	}
}

// applyIndexDefaults selects badger under the content root, so separate CLI
// invocations see the same workspaces.
func applyIndexDefaults(cfg *IndexConfig, contentPath string) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Type == "badger" {
		if _, ok := cfg.Badger["path"]; !ok {
			cfg.Badger["path"] = filepath.Join(contentPath, "index")
		}
	}
}

func applyPlacementDefaults(cfg *PlacementConfig) {
	if cfg.LinkOverheadBytes == 0 {
		cfg.LinkOverheadBytes = strategy.DefaultLinkOverheadBytes
	}
	if cfg.EssentialThreshold == 0 {
		cfg.EssentialThreshold = strategy.DefaultEssentialThreshold
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = fileops.DefaultBufferSize
	}
}

func applyDownloadDefaults(cfg *DownloadConfig) {
	// BytesPerSecond defaults to 0 (unlimited)

	if cfg.Timeout == 0 {
		cfg.Timeout = download.DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "dittows"
	}
}

func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
