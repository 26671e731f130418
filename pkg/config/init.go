package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
)

// InitConfig writes a commented default configuration to the default
// location and returns its path. An existing file is kept unless force is
// set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var configTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"q": strconv.Quote,
}).Parse(`# DittoWS Configuration File
#
# Every value can be overridden with a DITTOWS_* environment variable,
# e.g. DITTOWS_LOGGING_LEVEL=DEBUG.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: {{ q .Logging.Level }}
  # text or json
  format: {{ q .Logging.Format }}
  # stdout, stderr or a file path
  output: {{ q .Logging.Output }}

storage:
  content_path: {{ q .Storage.ContentPath }}
  workspace_path: {{ q .Storage.WorkspacePath }}

cas:
  path: {{ q .CAS.Path }}
  # sha256 or blake3
  hash_algorithm: {{ q .CAS.HashAlgorithm }}
  remote:
    # none, memory or s3
    type: {{ q .CAS.Remote.Type }}
    # s3:
    #   bucket: "dittows-content"
    #   region: "us-east-1"
    #   key_prefix: "cas/"
    #   endpoint: "http://localhost:9000"

index:
  # memory or badger
  type: {{ q .Index.Type }}
  badger:
    path: {{ q (index .Index.Badger "path") }}

placement:
  link_overhead_bytes: {{ .Placement.LinkOverheadBytes }}
  essential_threshold: {{ .Placement.EssentialThreshold }}
  buffer_size: {{ .Placement.BufferSize }}

download:
  # 0 disables rate limiting
  bytes_per_second: {{ .Download.BytesPerSecond }}
  timeout: {{ q .Download.Timeout.String }}
  user_agent: {{ q .Download.UserAgent }}

gc:
  enabled: {{ .GC.Enabled }}
  interval: {{ q .GC.Interval.String }}
  batch_size: {{ .GC.BatchSize }}
  dry_run: {{ .GC.DryRun }}

metrics:
  enabled: {{ .Metrics.Enabled }}
  port: {{ .Metrics.Port }}
  # node-exporter textfile written after one-shot commands
  textfile: {{ q .Metrics.Textfile }}
`))

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}
