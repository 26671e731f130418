package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/workspace"
)

// AnalyzeDelta resolves cfg into a Plan.
//
// With existing == nil every operation is a Place. Otherwise the workspace
// directory is inspected (read-only): targets that already match their
// resolved source become Unchanged, everything else a Replace, and files on
// disk that no winner produces are listed as Removals. When the existing
// workspace was built with a different strategy every operation is a
// Replace.
//
// Context Cancellation:
// The context is checked between files of the on-disk comparison.
func (r *Reconciler) AnalyzeDelta(ctx context.Context, existing *workspace.Info, cfg *workspace.Configuration) (*workspace.Plan, error) {
	// ========================================================================
	// Step 1: Resolve winners
	// ========================================================================

	res, err := r.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	wsPath := cfg.WorkspacePath()
	plan := &workspace.Plan{
		Config:        cfg,
		WorkspacePath: wsPath,
		Operations:    make([]workspace.FileOperation, 0, len(res.Winners)),
		Conflicts:     res.Conflicts,
		Existing:      existing,
	}

	for _, w := range res.Winners {
		plan.Operations = append(plan.Operations, workspace.FileOperation{
			ManifestID:  w.Manifest.ID,
			ContentType: w.Manifest.ContentType,
			File:        w.File,
			SourcePath:  ResolveSourcePath(cfg, w.Manifest.ID, w.File),
			TargetPath:  filepath.Join(wsPath, filepath.FromSlash(w.RelativePath)),
			Kind:        workspace.OperationPlace,
		})
	}

	if existing == nil {
		return plan, nil
	}

	// ========================================================================
	// Step 2: Compare against the existing workspace
	// ========================================================================

	sameStrategy := existing.Strategy == cfg.Strategy
	for i := range plan.Operations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		op := &plan.Operations[i]
		if _, err := os.Lstat(op.TargetPath); err != nil {
			continue
		}
		if sameStrategy && r.matches(ctx, op) {
			op.Kind = workspace.OperationUnchanged
		} else {
			op.Kind = workspace.OperationReplace
		}
	}

	// ========================================================================
	// Step 3: Find stale files
	// ========================================================================

	wanted := make(map[string]struct{}, len(res.Winners))
	for _, w := range res.Winners {
		wanted[w.Key] = struct{}{}
	}

	removals, err := r.staleFiles(ctx, wsPath, wanted)
	if err != nil {
		return nil, err
	}
	plan.Removals = removals

	place, replace, unchanged := plan.Counts()
	logger.Debug("Delta for workspace %s: %d place, %d replace, %d unchanged, %d stale",
		cfg.ID, place, replace, unchanged, len(removals))
	return plan, nil
}

// matches reports whether the target of op already holds the right content.
func (r *Reconciler) matches(ctx context.Context, op *workspace.FileOperation) bool {
	info, err := os.Lstat(op.TargetPath)
	if err != nil {
		return false
	}

	if info.Mode()&os.ModeSymlink != 0 {
		dest, err := os.Readlink(op.TargetPath)
		if err != nil {
			return false
		}
		if op.SourcePath != "" {
			if _, err := os.Stat(op.TargetPath); err != nil {
				return false
			}
			return filepath.Clean(dest) == filepath.Clean(absSource(op.SourcePath))
		}
		// CAS blobs are stored under their hash.
		return op.File.Hash != "" && filepath.Base(dest) == op.File.Hash
	}

	if !info.Mode().IsRegular() {
		return false
	}

	if op.SourcePath != "" {
		src, err := os.Stat(op.SourcePath)
		if err != nil {
			return false
		}
		if os.SameFile(src, info) {
			return true
		}
		if src.Size() != info.Size() {
			return false
		}
		// Copies carry the source modification time.
		if op.File.Hash == "" {
			return src.ModTime().Equal(info.ModTime())
		}
	} else {
		if op.File.Hash == "" {
			return false
		}
		if op.File.Size > 0 && op.File.Size != info.Size() {
			return false
		}
	}

	actual, err := r.hasher.ComputeFileHash(ctx, op.TargetPath)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, op.File.Hash)
}

// staleFiles lists files and links under root whose key is not wanted.
func (r *Reconciler) staleFiles(ctx context.Context, root string, wanted map[string]struct{}) ([]string, error) {
	var stale []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := wanted[r.Key(rel)]; !ok {
			stale = append(stale, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace %s: %w", root, err)
	}
	return stale, nil
}

func absSource(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Files returns the winning files in order.
func (res *Resolution) Files() []manifest.File {
	files := make([]manifest.File, len(res.Winners))
	for i, w := range res.Winners {
		files[i] = w.File
	}
	return files
}
