package strategy

import (
	"context"
	"errors"
	"os"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/workspace"
)

// HardLink hard links files whose source lives on the workspace volume and
// copies everything else. Copying is the unconditional fallback: a
// different volume, a filesystem without hard links or a refused link all
// end in a copy.
//
// Executables coming from the CAS are always copied, since making a shared
// read-only blob executable would change it for every workspace.
type HardLink struct {
	base
}

// NewHardLink creates the hard-link strategy.
func NewHardLink(opts Options) *HardLink {
	return &HardLink{base: newBase(workspace.StrategyHardLink, "HardLink", opts)}
}

func (s *HardLink) RequiresAdminRights() bool { return false }
func (s *HardLink) RequiresSameVolume() bool  { return true }

func (s *HardLink) EstimateDiskUsage(cfg *workspace.Configuration) int64 {
	return s.estimate(cfg, s)
}

func (s *HardLink) Prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc) (*workspace.Info, error) {
	return s.prepare(ctx, plan, progress, s)
}

func (s *HardLink) place(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, src string, _ int64, fromCAS bool) (placement, error) {
	if fromCAS && op.File.IsExecutable {
		return placement{method: methodCopy}, s.opts.FileOps.CopyFile(ctx, src, op.TargetPath)
	}

	if s.sameVolume(src, plan.WorkspacePath) {
		err := s.opts.FileOps.CreateHardLink(ctx, op.TargetPath, src)
		if err == nil {
			return placement{method: methodHardLink}, nil
		}
		if !linkFallsBack(err) {
			return placement{method: methodHardLink}, err
		}
		logger.Debug("Hard link %s failed (%v), copying", op.TargetPath, err)
	}

	return placement{method: methodCopy, fellBack: true}, s.opts.FileOps.CopyFile(ctx, src, op.TargetPath)
}

// linkFallsBack reports whether a hard-link failure should end in a copy.
func linkFallsBack(err error) bool {
	return errors.Is(err, fileops.ErrCrossDevice) ||
		errors.Is(err, fileops.ErrNotImplemented) ||
		errors.Is(err, os.ErrPermission)
}

// sameVolume reports whether src can be linked into wsPath. An unsupported
// probe answers true and leaves the decision to the link attempt.
func (s *HardLink) sameVolume(src, wsPath string) bool {
	same, err := s.opts.VolumeProbe.SameVolume(src, wsPath)
	switch {
	case errors.Is(err, fileops.ErrNotImplemented):
		return true
	case err != nil:
		logger.Debug("Volume check for %s failed: %v", src, err)
		return false
	}
	return same
}

func (s *HardLink) copies(cfg *workspace.Configuration, op *workspace.FileOperation, _ int64) bool {
	src := op.SourcePath
	if op.File.SourceType == manifest.SourceContentAddressable {
		if op.File.IsExecutable {
			return true
		}
		if s.opts.CAS == nil {
			return false
		}
		src = s.opts.CAS.Local().Path(op.File.Hash)
	}
	if src == "" {
		return false
	}
	return !s.sameVolume(src, cfg.WorkspacePath())
}
