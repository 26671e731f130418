package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Cleanup deletes workspace directories recursively; blobs must never
	// live under a workspace root and vice versa.
	if overlaps(cfg.Storage.WorkspacePath, cfg.CAS.Path) {
		return fmt.Errorf("storage.workspace_path %q and cas.path %q must not contain each other",
			cfg.Storage.WorkspacePath, cfg.CAS.Path)
	}
	if overlaps(cfg.Storage.WorkspacePath, cfg.Storage.ContentPath) {
		return fmt.Errorf("storage.workspace_path %q and storage.content_path %q must not contain each other",
			cfg.Storage.WorkspacePath, cfg.Storage.ContentPath)
	}

	if cfg.CAS.Remote.Type == "s3" {
		for _, key := range []string{"bucket", "region"} {
			if v, _ := cfg.CAS.Remote.S3[key].(string); v == "" {
				return fmt.Errorf("cas.remote.s3.%s is required when cas.remote.type is s3", key)
			}
		}
	}

	if cfg.Download.Burst > 0 && cfg.Download.BytesPerSecond == 0 {
		return fmt.Errorf("download.burst requires download.bytes_per_second")
	}

	return nil
}

// overlaps reports whether one cleaned path equals or contains the other.
func overlaps(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a, strings.TrimSuffix(b, sep)+sep) ||
		strings.HasPrefix(b, strings.TrimSuffix(a, sep)+sep)
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
