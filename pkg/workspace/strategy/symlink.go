package strategy

import (
	"context"
	"runtime"

	"github.com/marmos91/dittows/pkg/workspace"
)

// SymlinkOnly links every file to its source. It copies a file only when
// the link fails and the configuration sets AllowSymlinkFallback; otherwise
// the link error aborts the run.
type SymlinkOnly struct {
	base
}

// NewSymlinkOnly creates the symlink-only strategy.
func NewSymlinkOnly(opts Options) *SymlinkOnly {
	return &SymlinkOnly{base: newBase(workspace.StrategySymlinkOnly, "SymlinkOnly", opts)}
}

// RequiresAdminRights is true on Windows, where creating symlinks needs
// elevation or developer mode.
func (s *SymlinkOnly) RequiresAdminRights() bool { return runtime.GOOS == "windows" }
func (s *SymlinkOnly) RequiresSameVolume() bool  { return false }

func (s *SymlinkOnly) EstimateDiskUsage(cfg *workspace.Configuration) int64 {
	return s.estimate(cfg, s)
}

func (s *SymlinkOnly) Prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc) (*workspace.Info, error) {
	return s.prepare(ctx, plan, progress, s)
}

func (s *SymlinkOnly) place(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, src string, _ int64, _ bool) (placement, error) {
	fellBack, err := s.opts.FileOps.CreateSymlink(ctx, op.TargetPath, src, plan.Config.AllowSymlinkFallback)
	if fellBack {
		return placement{method: methodCopy, fellBack: true}, err
	}
	return placement{method: methodSymlink}, err
}

func (s *SymlinkOnly) copies(*workspace.Configuration, *workspace.FileOperation, int64) bool {
	return false
}
