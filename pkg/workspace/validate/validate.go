// Package validate implements the pre-flight checks run before a workspace
// is prepared.
package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/reconcile"
)

// Options configures a Validator. Nil capabilities select the platform
// defaults.
type Options struct {
	VolumeProbe fileops.VolumeProbe
	Linker      fileops.Linker

	// Reconciler decides whether two paths name the same workspace file.
	Reconciler *reconcile.Reconciler
}

// Validator checks workspace configurations and strategy prerequisites.
// It never modifies the filesystem beyond the short-lived symlink probe.
type Validator struct {
	probe      fileops.VolumeProbe
	linker     fileops.Linker
	reconciler *reconcile.Reconciler
}

// New creates a Validator.
func New(opts Options) *Validator {
	v := &Validator{probe: opts.VolumeProbe, linker: opts.Linker, reconciler: opts.Reconciler}
	if v.probe == nil {
		v.probe = fileops.DefaultVolumeProbe()
	}
	if v.linker == nil {
		v.linker = fileops.DefaultLinker()
	}
	if v.reconciler == nil {
		v.reconciler = reconcile.New(reconcile.Options{})
	}
	return v
}

// ValidateConfiguration checks cfg for structural errors and suspicious
// but legal settings.
//
// Errors block preparation: a nil configuration, missing or malformed ID,
// missing or non-existent base installation, missing workspace root,
// unknown strategy, manifests without ID or valid content type, and files
// with unusable relative paths or sources.
//
// Warnings do not: an empty file set, duplicate manifest IDs, missing
// per-manifest source roots and a game client executable no manifest
// provides.
func (v *Validator) ValidateConfiguration(ctx context.Context, cfg *workspace.Configuration) *workspace.ValidationResult {
	result := &workspace.ValidationResult{}
	if cfg == nil {
		result.Add(workspace.SeverityError, workspace.IssueMissingField, "", "configuration is nil")
		return result
	}

	// ========================================================================
	// Identity and roots
	// ========================================================================

	switch {
	case cfg.ID == "":
		result.Add(workspace.SeverityError, workspace.IssueMissingField, "", "workspace ID is required")
	case store.ValidateWorkspaceID(cfg.ID) != nil:
		result.Add(workspace.SeverityError, workspace.IssueInvalidID, "",
			"workspace ID %q may only contain letters, digits, '.', '_' and '-'", cfg.ID)
	}

	if cfg.BaseInstallationPath == "" {
		result.Add(workspace.SeverityError, workspace.IssueMissingField, "", "base installation path is required")
	} else if !isDir(cfg.BaseInstallationPath) {
		result.Add(workspace.SeverityError, workspace.IssueDirectoryNotFound, cfg.BaseInstallationPath,
			"base installation directory does not exist")
	}

	if cfg.WorkspaceRootPath == "" {
		result.Add(workspace.SeverityError, workspace.IssueMissingField, "", "workspace root path is required")
	}

	if !cfg.Strategy.Valid() {
		result.Add(workspace.SeverityError, workspace.IssueUnknownStrategy, "", "unknown workspace strategy %q", cfg.Strategy)
	}

	// ========================================================================
	// Manifests
	// ========================================================================

	seen := make(map[string]bool, len(cfg.Manifests))
	provided := make(map[string]bool)

	for i := range cfg.Manifests {
		if ctx.Err() != nil {
			return result
		}
		m := &cfg.Manifests[i]
		v.validateManifest(result, m, provided)

		if m.ID == "" {
			continue
		}
		if seen[m.ID] {
			result.Add(workspace.SeverityWarning, workspace.IssueDuplicateManifest, "", "manifest %q is listed more than once", m.ID)
		}
		seen[m.ID] = true
	}

	for id, root := range cfg.ManifestSourcePaths {
		if root != "" && !isDir(root) {
			result.Add(workspace.SeverityWarning, workspace.IssueDirectoryNotFound, root,
				"source root of manifest %q does not exist", id)
		}
	}

	if manifest.TotalFiles(cfg.Manifests) == 0 {
		result.Add(workspace.SeverityWarning, workspace.IssueEmptyWorkspace, "", "manifests contain no files; the workspace will be empty")
	}

	if exe := cfg.GameClient.ExecutablePath; exe != "" {
		rel, err := manifest.CleanRelativePath(exe)
		if err != nil {
			result.Add(workspace.SeverityError, workspace.IssueInvalidPath, exe, "game client executable: %v", err)
		} else if !provided[v.reconciler.Key(rel)] {
			result.Add(workspace.SeverityWarning, workspace.IssueMissingExecutable, exe,
				"no manifest provides the game client executable")
		}
	}

	return result
}

func (v *Validator) validateManifest(result *workspace.ValidationResult, m *manifest.Manifest, provided map[string]bool) {
	if m.ID == "" {
		result.Add(workspace.SeverityError, workspace.IssueInvalidManifest, "", "manifest %q has no ID", m.Name)
	}
	if !m.ContentType.Valid() {
		result.Add(workspace.SeverityError, workspace.IssueInvalidManifest, "", "manifest %q has no valid content type", m.ID)
	}

	for _, f := range m.Files {
		rel, err := manifest.CleanRelativePath(f.RelativePath)
		if err != nil {
			result.Add(workspace.SeverityError, workspace.IssueInvalidPath, f.RelativePath, "manifest %q: %v", m.ID, err)
			continue
		}
		provided[v.reconciler.Key(rel)] = true

		switch f.SourceType {
		case manifest.SourceContentAddressable:
			if f.Hash == "" {
				result.Add(workspace.SeverityError, workspace.IssueInvalidManifest, rel,
					"manifest %q: content-addressable file has no hash", m.ID)
			}
		case manifest.SourceRemoteDownload:
			if f.DownloadURL == "" {
				result.Add(workspace.SeverityError, workspace.IssueInvalidManifest, rel,
					"manifest %q: remote file has no download URL", m.ID)
			}
		}
	}
}

// ValidatePrerequisites checks what the chosen strategy needs from the
// environment. Every finding is a warning or informational: strategies fall
// back to copying where they can.
func (v *Validator) ValidatePrerequisites(ctx context.Context, strategy workspace.Strategy, cfg *workspace.Configuration) *workspace.ValidationResult {
	result := &workspace.ValidationResult{}
	if strategy == nil || cfg == nil {
		result.Add(workspace.SeverityError, workspace.IssueMissingField, "", "strategy and configuration are required")
		return result
	}

	if strategy.RequiresSameVolume() {
		v.checkVolumes(result, cfg)
	}
	if ctx.Err() != nil {
		return result
	}

	need := strategy.EstimateDiskUsage(cfg)
	free, err := v.probe.FreeSpace(cfg.WorkspaceRootPath)
	switch {
	case errors.Is(err, fileops.ErrNotImplemented):
		result.Add(workspace.SeverityInfo, workspace.IssueUnsupported, cfg.WorkspaceRootPath,
			"free space cannot be determined on this platform")
	case err != nil:
		result.Add(workspace.SeverityWarning, workspace.IssueInsufficientSpace, cfg.WorkspaceRootPath,
			"free space check failed: %v", err)
	case need > 0 && uint64(need) > free:
		result.Add(workspace.SeverityWarning, workspace.IssueInsufficientSpace, cfg.WorkspaceRootPath,
			"workspace needs about %s but only %s are free",
			humanize.IBytes(uint64(need)), humanize.IBytes(free))
	}

	if strategy.RequiresAdminRights() {
		dir := nearestDir(cfg.WorkspaceRootPath)
		if !fileops.CanCreateSymlinks(v.linker, dir) {
			result.Add(workspace.SeverityWarning, workspace.IssuePermission, dir,
				"symbolic links cannot be created; %s needs elevated rights or developer mode", strategy.Name())
		}
	}

	return result
}

func (v *Validator) checkVolumes(result *workspace.ValidationResult, cfg *workspace.Configuration) {
	roots := []string{cfg.BaseInstallationPath}
	for _, root := range cfg.ManifestSourcePaths {
		if root != "" {
			roots = append(roots, root)
		}
	}

	for _, root := range roots {
		same, err := v.probe.SameVolume(root, cfg.WorkspaceRootPath)
		switch {
		case errors.Is(err, fileops.ErrNotImplemented):
			result.Add(workspace.SeverityInfo, workspace.IssueUnsupported, root,
				"volume identity cannot be determined on this platform")
			return
		case err != nil:
			result.Add(workspace.SeverityWarning, workspace.IssueCrossVolume, root, "volume check failed: %v", err)
		case !same:
			result.Add(workspace.SeverityWarning, workspace.IssueCrossVolume, root,
				"source and workspace root are on different volumes; files will be copied instead of hard linked")
		}
	}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// nearestDir returns path or its closest existing ancestor directory.
func nearestDir(path string) string {
	p, err := filepath.Abs(path)
	if err != nil {
		return os.TempDir()
	}
	for !isDir(p) {
		parent := filepath.Dir(p)
		if parent == p {
			return os.TempDir()
		}
		p = parent
	}
	return p
}
