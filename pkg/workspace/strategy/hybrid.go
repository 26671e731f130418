package strategy

import (
	"context"
	"path"
	"strings"

	"github.com/marmos91/dittows/pkg/workspace"
)

// essentialExtensions are copied by the hybrid strategy regardless of size.
var essentialExtensions = map[string]struct{}{
	".exe":   {},
	".dll":   {},
	".so":    {},
	".dylib": {},
	".ini":   {},
	".cfg":   {},
	".json":  {},
	".xml":   {},
	".big":   {},
	".bat":   {},
	".sh":    {},
	".str":   {},
	".csf":   {},
}

// IsEssentialFile reports whether the hybrid strategy copies a file, using
// DefaultEssentialThreshold. It is a pure function of its arguments.
func IsEssentialFile(relativePath string, size int64) bool {
	return isEssential(relativePath, size, DefaultEssentialThreshold)
}

func isEssential(relativePath string, size, threshold int64) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(relativePath, "\\", "/")))
	if _, ok := essentialExtensions[ext]; ok {
		return true
	}
	return size < threshold
}

// HybridCopySymlink copies essential files and symlinks the rest (large
// media such as videos, music and textures). A failed symlink always falls
// back to a copy.
type HybridCopySymlink struct {
	base
}

// NewHybridCopySymlink creates the hybrid strategy.
func NewHybridCopySymlink(opts Options) *HybridCopySymlink {
	return &HybridCopySymlink{base: newBase(workspace.StrategyHybridCopySymlink, "HybridCopySymlink", opts)}
}

// IsEssential classifies a file with the configured threshold.
func (s *HybridCopySymlink) IsEssential(relativePath string, size int64) bool {
	return isEssential(relativePath, size, s.opts.EssentialThreshold)
}

func (s *HybridCopySymlink) RequiresAdminRights() bool { return false }
func (s *HybridCopySymlink) RequiresSameVolume() bool  { return false }

func (s *HybridCopySymlink) EstimateDiskUsage(cfg *workspace.Configuration) int64 {
	return s.estimate(cfg, s)
}

func (s *HybridCopySymlink) Prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc) (*workspace.Info, error) {
	return s.prepare(ctx, plan, progress, s)
}

func (s *HybridCopySymlink) place(ctx context.Context, _ *workspace.Plan, op *workspace.FileOperation, src string, size int64, fromCAS bool) (placement, error) {
	if s.IsEssential(op.File.RelativePath, size) {
		return placement{method: methodCopy}, s.opts.FileOps.CopyFile(ctx, src, op.TargetPath)
	}

	fellBack, err := s.opts.FileOps.CreateSymlink(ctx, op.TargetPath, src, true)
	if fellBack {
		return placement{method: methodCopy, fellBack: true}, err
	}
	return placement{method: methodSymlink}, err
}

func (s *HybridCopySymlink) copies(_ *workspace.Configuration, op *workspace.FileOperation, size int64) bool {
	return s.IsEssential(op.File.RelativePath, size)
}
