// Package workspace holds the types shared by every stage of workspace
// materialization: the request (Configuration), the reconciled Plan, the
// resulting Info, validation results, lifecycle states and the Strategy
// contract implemented by the placement strategies.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittows/pkg/manifest"
	"gopkg.in/yaml.v3"
)

// StrategyKind names a file placement policy.
type StrategyKind string

const (
	StrategyFullCopy          StrategyKind = "full_copy"
	StrategySymlinkOnly       StrategyKind = "symlink_only"
	StrategyHardLink          StrategyKind = "hard_link"
	StrategyHybridCopySymlink StrategyKind = "hybrid_copy_symlink"
)

// AllStrategyKinds lists the known placement policies.
func AllStrategyKinds() []StrategyKind {
	return []StrategyKind{
		StrategyFullCopy,
		StrategySymlinkOnly,
		StrategyHardLink,
		StrategyHybridCopySymlink,
	}
}

// Valid reports whether k is a known placement policy.
func (k StrategyKind) Valid() bool {
	for _, known := range AllStrategyKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ParseStrategyKind accepts the canonical name as well as the PascalCase
// form ("HardLink") and a few hyphenated spellings.
func ParseStrategyKind(s string) (StrategyKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)

	switch norm {
	case "full_copy", "fullcopy", "copy":
		return StrategyFullCopy, nil
	case "symlink_only", "symlinkonly", "symlink":
		return StrategySymlinkOnly, nil
	case "hard_link", "hardlink":
		return StrategyHardLink, nil
	case "hybrid_copy_symlink", "hybridcopysymlink", "hybrid":
		return StrategyHybridCopySymlink, nil
	}
	return "", fmt.Errorf("unknown workspace strategy %q", s)
}

// GameClient describes the executable a workspace is prepared for.
type GameClient struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// ExecutablePath is relative to the workspace root.
	ExecutablePath string `yaml:"executable_path" json:"executable_path"`

	// WorkingDirectory is relative to the workspace root. Empty means the
	// directory containing the executable.
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
}

// Configuration is a workspace preparation request.
type Configuration struct {
	ID string

	// Manifests are ordered; the order breaks ties between equal priorities.
	Manifests []manifest.Manifest

	GameClient GameClient
	Strategy   StrategyKind

	BaseInstallationPath string
	WorkspaceRootPath    string

	// ForceRecreate deletes an existing workspace directory before preparing.
	ForceRecreate bool

	// ManifestSourcePaths maps a manifest ID to the root its relative source
	// paths are resolved against.
	ManifestSourcePaths map[string]string

	// AllowSymlinkFallback lets the symlink-only strategy copy files it cannot link.
	AllowSymlinkFallback bool

	// VerifyHashes checks copied and downloaded files that carry a hash.
	VerifyHashes bool
}

// WorkspacePath returns WorkspaceRootPath/ID.
func (c *Configuration) WorkspacePath() string {
	return filepath.Join(c.WorkspaceRootPath, c.ID)
}

// SourceRoot returns the directory relative source paths of the given
// manifest are resolved against.
func (c *Configuration) SourceRoot(manifestID string) string {
	if root, ok := c.ManifestSourcePaths[manifestID]; ok && root != "" {
		return root
	}
	return c.BaseInstallationPath
}

// ============================================================================
// Request files
// ============================================================================

type requestFile struct {
	ID                   string              `yaml:"id"`
	Strategy             string              `yaml:"strategy"`
	BaseInstallationPath string              `yaml:"base_installation_path"`
	WorkspaceRootPath    string              `yaml:"workspace_root_path"`
	ForceRecreate        bool                `yaml:"force_recreate"`
	AllowSymlinkFallback bool                `yaml:"allow_symlink_fallback"`
	VerifyHashes         bool                `yaml:"verify_hashes"`
	GameClient           GameClient          `yaml:"game_client"`
	ManifestSourcePaths  map[string]string   `yaml:"manifest_source_paths"`
	ManifestFiles        []string            `yaml:"manifest_files"`
	Manifests            []manifest.Manifest `yaml:"manifests"`
}

// LoadConfiguration reads a YAML request file.
//
// Manifests are taken from the inline "manifests" list followed by the files
// named in "manifest_files" (relative entries are resolved against the
// directory of the request file). An empty workspace_root_path is left
// empty so that the caller can fill it from its own configuration.
func LoadConfiguration(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace request: %w", err)
	}

	var req requestFile
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse workspace request %s: %w", path, err)
	}

	cfg := &Configuration{
		ID:                   req.ID,
		Manifests:            req.Manifests,
		GameClient:           req.GameClient,
		BaseInstallationPath: req.BaseInstallationPath,
		WorkspaceRootPath:    req.WorkspaceRootPath,
		ForceRecreate:        req.ForceRecreate,
		ManifestSourcePaths:  req.ManifestSourcePaths,
		AllowSymlinkFallback: req.AllowSymlinkFallback,
		VerifyHashes:         req.VerifyHashes,
	}

	if req.Strategy != "" {
		kind, err := ParseStrategyKind(req.Strategy)
		if err != nil {
			return nil, fmt.Errorf("workspace request %s: %w", path, err)
		}
		cfg.Strategy = kind
	}

	for i := range cfg.Manifests {
		if err := cfg.Manifests[i].Normalize(); err != nil {
			return nil, fmt.Errorf("workspace request %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	for _, mf := range req.ManifestFiles {
		if !filepath.IsAbs(mf) {
			mf = filepath.Join(dir, mf)
		}
		m, err := manifest.LoadFile(mf)
		if err != nil {
			return nil, fmt.Errorf("workspace request %s: %w", path, err)
		}
		cfg.Manifests = append(cfg.Manifests, *m)
	}

	return cfg, nil
}
