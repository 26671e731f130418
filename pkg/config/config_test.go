package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

storage:
  content_path: "` + filepath.Join(tmpDir, "content") + `"
  workspace_path: "` + filepath.Join(tmpDir, "workspaces") + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.CAS.Path != filepath.Join(tmpDir, "content", "cas") {
		t.Errorf("Expected CAS path under content path, got %q", cfg.CAS.Path)
	}
	if cfg.Index.Badger["path"] != filepath.Join(tmpDir, "content", "index") {
		t.Errorf("Expected badger path under content path, got %v", cfg.Index.Badger["path"])
	}
	if cfg.GC.Interval != 24*time.Hour {
		t.Errorf("Expected default GC interval 24h, got %v", cfg.GC.Interval)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A non-existent explicit path must not fall back to ~/.config/dittows/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Index.Type != "badger" {
		t.Errorf("Expected default index type 'badger', got %q", cfg.Index.Type)
	}
	if cfg.CAS.Remote.Type != "none" {
		t.Errorf("Expected default remote type 'none', got %q", cfg.CAS.Remote.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[cas]
hash_algorithm = "blake3"

[gc]
interval = "1h"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.CAS.HashAlgorithm != "blake3" {
		t.Errorf("Expected hash algorithm 'blake3', got %q", cfg.CAS.HashAlgorithm)
	}
	if cfg.GC.Interval != time.Hour {
		t.Errorf("Expected GC interval 1h, got %v", cfg.GC.Interval)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
index:
  type: "postgres"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown index type")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dittows" {
		t.Errorf("Expected directory name 'dittows', got %q", filepath.Base(dir))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty config home")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Fatal("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOWS_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOWS_METRICS_PORT", "9191")
	t.Setenv("DITTOWS_INDEX_TYPE", "memory")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

metrics:
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected port 9191 from env var, got %d", cfg.Metrics.Port)
	}
	if cfg.Index.Type != "memory" {
		t.Errorf("Expected index type 'memory' from env var, got %q", cfg.Index.Type)
	}
}

func TestLoadWith_FlagsOverrideFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: INFO\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	if err := flags.Parse([]string{"--log-level", "debug"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	v := viper.New()
	if err := v.BindPFlag("logging.level", flags.Lookup("log-level")); err != nil {
		t.Fatalf("Failed to bind flag: %v", err)
	}

	cfg, err := LoadWith(v, configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' from flag, got %q", cfg.Logging.Level)
	}
}

func TestProvider(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.ContentPath = "/data/content"
	cfg.Storage.WorkspacePath = "/data/workspaces"

	var p Provider = cfg
	if p.GetContentStoragePath() != "/data/content" {
		t.Errorf("Unexpected content storage path %q", p.GetContentStoragePath())
	}
	if p.GetWorkspacePath() != "/data/workspaces" {
		t.Errorf("Unexpected workspace path %q", p.GetWorkspacePath())
	}
}
