package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittows/pkg/download"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/workspace/strategy"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_StorageUsesXDGDataHome(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Storage.ContentPath != filepath.Join(dataHome, "dittows", "content") {
		t.Errorf("Unexpected default content path %q", cfg.Storage.ContentPath)
	}
	if cfg.Storage.WorkspacePath != filepath.Join(dataHome, "dittows", "workspaces") {
		t.Errorf("Unexpected default workspace path %q", cfg.Storage.WorkspacePath)
	}
}

func TestApplyDefaults_CAS(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{ContentPath: "/srv/content", WorkspacePath: "/srv/ws"}}
	ApplyDefaults(cfg)

	if cfg.CAS.Path != "/srv/content/cas" {
		t.Errorf("Expected CAS path '/srv/content/cas', got %q", cfg.CAS.Path)
	}
	if cfg.CAS.HashAlgorithm != fileops.HashSHA256 {
		t.Errorf("Expected default hash algorithm sha256, got %q", cfg.CAS.HashAlgorithm)
	}
	if cfg.CAS.Remote.Type != "none" {
		t.Errorf("Expected default remote type 'none', got %q", cfg.CAS.Remote.Type)
	}
	if cfg.CAS.Remote.S3 == nil {
		t.Error("Expected S3 map to be initialized")
	}
}

func TestApplyDefaults_Index(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{ContentPath: "/srv/content"}}
	ApplyDefaults(cfg)

	if cfg.Index.Type != "badger" {
		t.Errorf("Expected default index type 'badger', got %q", cfg.Index.Type)
	}
	if cfg.Index.Badger["path"] != "/srv/content/index" {
		t.Errorf("Expected badger path '/srv/content/index', got %v", cfg.Index.Badger["path"])
	}

	mem := &Config{Index: IndexConfig{Type: "memory"}}
	ApplyDefaults(mem)
	if _, ok := mem.Index.Badger["path"]; ok {
		t.Error("Expected no badger path for the memory index")
	}
}

func TestApplyDefaults_Tuning(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Placement.LinkOverheadBytes != strategy.DefaultLinkOverheadBytes {
		t.Errorf("Unexpected link overhead %d", cfg.Placement.LinkOverheadBytes)
	}
	if cfg.Placement.EssentialThreshold != strategy.DefaultEssentialThreshold {
		t.Errorf("Unexpected essential threshold %d", cfg.Placement.EssentialThreshold)
	}
	if cfg.Placement.BufferSize != fileops.DefaultBufferSize {
		t.Errorf("Unexpected buffer size %d", cfg.Placement.BufferSize)
	}
	if cfg.Download.Timeout != download.DefaultTimeout {
		t.Errorf("Unexpected download timeout %v", cfg.Download.Timeout)
	}
	if cfg.Download.BytesPerSecond != 0 {
		t.Errorf("Expected unlimited download rate, got %d", cfg.Download.BytesPerSecond)
	}
	if cfg.GC.BatchSize != 1000 {
		t.Errorf("Expected default GC batch size 1000, got %d", cfg.GC.BatchSize)
	}
	if cfg.GC.Enabled {
		t.Error("Expected GC to be disabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "/var/log/dittows.log",
		},
		CAS: CASConfig{
			Path:          "/custom/cas",
			HashAlgorithm: "BLAKE3",
			Remote:        RemoteConfig{Type: "memory"},
		},
		Index: IndexConfig{
			Type:   "badger",
			Badger: map[string]any{"path": "/custom/index"},
		},
		GC: GCConfig{
			Interval:  time.Hour,
			BatchSize: 10,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/dittows.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.CAS.Path != "/custom/cas" {
		t.Errorf("Expected explicit CAS path to be preserved, got %q", cfg.CAS.Path)
	}
	if cfg.CAS.HashAlgorithm != fileops.HashBLAKE3 {
		t.Errorf("Expected hash algorithm normalized to 'blake3', got %q", cfg.CAS.HashAlgorithm)
	}
	if cfg.CAS.Remote.Type != "memory" {
		t.Errorf("Expected explicit remote type to be preserved, got %q", cfg.CAS.Remote.Type)
	}
	if cfg.Index.Badger["path"] != "/custom/index" {
		t.Errorf("Expected explicit badger path to be preserved, got %v", cfg.Index.Badger["path"])
	}
	if cfg.GC.Interval != time.Hour || cfg.GC.BatchSize != 10 {
		t.Errorf("Expected explicit GC settings to be preserved, got %v/%d", cfg.GC.Interval, cfg.GC.BatchSize)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid, got: %v", err)
	}
}
