package strategy

import (
	"context"

	"github.com/marmos91/dittows/pkg/workspace"
)

// FullCopy copies every file into the workspace. It has no volume or
// privilege requirements and produces a workspace independent of its
// sources.
type FullCopy struct {
	base
}

// NewFullCopy creates the full-copy strategy.
func NewFullCopy(opts Options) *FullCopy {
	return &FullCopy{base: newBase(workspace.StrategyFullCopy, "FullCopy", opts)}
}

func (s *FullCopy) RequiresAdminRights() bool { return false }
func (s *FullCopy) RequiresSameVolume() bool  { return false }

func (s *FullCopy) EstimateDiskUsage(cfg *workspace.Configuration) int64 {
	return s.estimate(cfg, s)
}

func (s *FullCopy) Prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc) (*workspace.Info, error) {
	return s.prepare(ctx, plan, progress, s)
}

func (s *FullCopy) place(ctx context.Context, _ *workspace.Plan, op *workspace.FileOperation, src string, _ int64, _ bool) (placement, error) {
	return placement{method: methodCopy}, s.opts.FileOps.CopyFile(ctx, src, op.TargetPath)
}

func (s *FullCopy) copies(*workspace.Configuration, *workspace.FileOperation, int64) bool {
	return true
}
