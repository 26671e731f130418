package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoWS configuration.
//
// This structure captures all configurable aspects of the engine:
//   - Logging configuration
//   - Storage roots (content storage and workspaces)
//   - CAS blob tiers and hash algorithm
//   - Workspace index backend (store-specific)
//   - Placement tuning
//   - Download and garbage collection settings
//   - Metrics export
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOWS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each backend defines its own configuration type. The Config struct carries
// type-specific maps (e.g., index.badger, cas.remote.s3) and only the map
// matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Storage holds the directory roots the engine works under
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// CAS configures the content-addressable blob tiers
	CAS CASConfig `mapstructure:"cas" yaml:"cas"`

	// Index selects the workspace index and reference table backend
	Index IndexConfig `mapstructure:"index" yaml:"index"`

	// Placement tunes the placement strategies
	Placement PlacementConfig `mapstructure:"placement" yaml:"placement"`

	// Download configures the HTTP downloader for remote files
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// GC configures the CAS garbage collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Metrics configures Prometheus export
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// StorageConfig holds the directory roots.
type StorageConfig struct {
	// ContentPath is the root of the content storage. The local CAS tier
	// lives under it unless cas.path says otherwise.
	ContentPath string `mapstructure:"content_path" yaml:"content_path" validate:"required"`

	// WorkspacePath is the directory new workspaces are created in.
	WorkspacePath string `mapstructure:"workspace_path" yaml:"workspace_path" validate:"required"`
}

// CASConfig configures content-addressable storage.
type CASConfig struct {
	// Path is the local blob tier directory (default: <content_path>/cas)
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// HashAlgorithm names the content hash
	// Valid values: sha256, blake3
	HashAlgorithm string `mapstructure:"hash_algorithm" yaml:"hash_algorithm" validate:"required,oneof=sha256 blake3"`

	// Remote is an optional second tier written through on store.
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// RemoteConfig selects the remote CAS tier.
type RemoteConfig struct {
	// Type specifies the remote tier implementation
	// Valid values: none, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none memory s3"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// IndexConfig selects the workspace index backend.
type IndexConfig struct {
	// Type specifies which backend to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// PlacementConfig tunes the placement strategies.
type PlacementConfig struct {
	// LinkOverheadBytes is the disk usage estimated per linked file.
	LinkOverheadBytes int64 `mapstructure:"link_overhead_bytes" yaml:"link_overhead_bytes" validate:"gte=0"`

	// EssentialThreshold is the size below which the hybrid strategy always
	// copies a file.
	EssentialThreshold int64 `mapstructure:"essential_threshold" yaml:"essential_threshold" validate:"gte=0"`

	// BufferSize is the copy buffer size in bytes.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gte=0"`
}

// DownloadConfig configures remote downloads.
type DownloadConfig struct {
	// BytesPerSecond caps download bandwidth. Zero means unlimited.
	BytesPerSecond uint `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`

	// Burst is the rate limiter burst size in bytes.
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// Timeout bounds a single download request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// GCConfig configures the CAS garbage collector.
type GCConfig struct {
	// Enabled turns on periodic collection in long-running mode.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0,lte=1000"`

	// DryRun reports orphaned blobs without deleting them.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host and Port are the listen address of the metrics server.
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	// Textfile, when set, receives a node-exporter textfile snapshot at the
	// end of every one-shot command.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Provider exposes the storage roots to components that only need paths.
type Provider interface {
	GetContentStoragePath() string
	GetWorkspacePath() string
}

// GetContentStoragePath returns the content storage root.
func (c *Config) GetContentStoragePath() string {
	return c.Storage.ContentPath
}

// GetWorkspacePath returns the workspace root.
func (c *Config) GetWorkspacePath() string {
	return c.Storage.WorkspacePath
}

var _ Provider = (*Config)(nil)

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Values bound by the caller (CLI flags)
//  2. Environment variables (DITTOWS_*)
//  3. Configuration file
//  4. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-supplied viper instance, so CLI flags bound
// with BindPFlag take precedence over file and environment.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTOWS_ prefix and underscores
	// Example: DITTOWS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only affects keys viper knows about. Registering the
	// scalar keys lets Unmarshal see environment-only values.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittows/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"storage.content_path", "storage.workspace_path",
	"cas.path", "cas.hash_algorithm", "cas.remote.type",
	"index.type",
	"placement.link_overhead_bytes", "placement.essential_threshold", "placement.buffer_size",
	"download.bytes_per_second", "download.burst", "download.timeout", "download.user_agent",
	"gc.enabled", "gc.interval", "gc.batch_size", "gc.dry_run",
	"metrics.enabled", "metrics.host", "metrics.port", "metrics.textfile",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is also fine; defaults apply.
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittows")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittows")
}

// getDataDir returns the default data directory.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittows")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "dittows-data"
	}

	return filepath.Join(home, ".local", "share", "dittows")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
