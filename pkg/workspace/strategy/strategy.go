// Package strategy implements the workspace placement strategies.
//
// All strategies share one materialization loop (prepare) and differ only
// in how a single resolved file is put into the workspace:
//
//	FullCopy           copy every file
//	SymlinkOnly        symlink every file; copy only when explicitly allowed
//	HardLink           hard link when source and workspace share a volume, else copy
//	HybridCopySymlink  copy essential files, symlink the rest
//
// Downloads and CAS blobs are handled by the loop for every strategy.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/reconcile"
)

const (
	// DefaultLinkOverheadBytes is the disk usage estimated per linked file.
	DefaultLinkOverheadBytes int64 = 1024

	// DefaultEssentialThreshold is the size below which every file counts
	// as essential for the hybrid strategy.
	DefaultEssentialThreshold int64 = 1 << 20
)

// Placement methods reported to metrics.
const (
	methodCopy     = "copy"
	methodSymlink  = "symlink"
	methodHardLink = "hardlink"
	methodDownload = "download"
)

// Options configures the strategies. FileOps is required; the rest is
// optional.
type Options struct {
	FileOps *fileops.Service

	// CAS resolves ContentAddressable files. Without it such files are
	// skipped.
	CAS *cas.Service

	// VolumeProbe decides whether the hard-link strategy can link a file.
	VolumeProbe fileops.VolumeProbe

	// Reconciler resolves winners for EstimateDiskUsage.
	Reconciler *reconcile.Reconciler

	Metrics workspace.Metrics

	LinkOverheadBytes  int64
	EssentialThreshold int64

	// Now is the clock used for Info timestamps.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FileOps == nil {
		o.FileOps = fileops.NewService(fileops.Options{})
	}
	if o.VolumeProbe == nil {
		o.VolumeProbe = fileops.DefaultVolumeProbe()
	}
	if o.Reconciler == nil {
		o.Reconciler = reconcile.New(reconcile.Options{})
	}
	o.Metrics = workspace.MetricsOrNoop(o.Metrics)
	if o.LinkOverheadBytes <= 0 {
		o.LinkOverheadBytes = DefaultLinkOverheadBytes
	}
	if o.EssentialThreshold <= 0 {
		o.EssentialThreshold = DefaultEssentialThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// All returns one instance of every strategy, in the order the manager
// consults them.
func All(opts Options) []workspace.Strategy {
	return []workspace.Strategy{
		NewFullCopy(opts),
		NewSymlinkOnly(opts),
		NewHardLink(opts),
		NewHybridCopySymlink(opts),
	}
}

// placement is the outcome of placing one file.
type placement struct {
	method   string
	fellBack bool
}

// copied reports whether the target is an independent copy of the source.
func (p placement) copied() bool {
	return p.method == methodCopy || p.method == methodDownload
}

// policy is the per-strategy part of materialization.
type policy interface {
	// place puts src at op.TargetPath. fromCAS marks read-only blob sources.
	place(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, src string, size int64, fromCAS bool) (placement, error)

	// copies reports whether the file would be physically copied into the
	// workspace of cfg.
	copies(cfg *workspace.Configuration, op *workspace.FileOperation, size int64) bool
}

// base carries what every strategy shares.
type base struct {
	kind workspace.StrategyKind
	name string
	opts Options
}

func newBase(kind workspace.StrategyKind, name string, opts Options) base {
	return base{kind: kind, name: name, opts: opts.withDefaults()}
}

func (b *base) Name() string                 { return b.name }
func (b *base) Kind() workspace.StrategyKind { return b.kind }

func (b *base) CanHandle(cfg *workspace.Configuration) bool {
	return cfg != nil && cfg.Strategy == b.kind
}

// estimate sums the bytes of physically stored winners plus the link
// overhead of every linked one.
func (b *base) estimate(cfg *workspace.Configuration, p policy) int64 {
	if cfg == nil {
		return 0
	}
	res, err := b.opts.Reconciler.Resolve(cfg)
	if err != nil {
		return 0
	}

	var total int64
	for _, w := range res.Winners {
		op := &workspace.FileOperation{
			ManifestID:  w.Manifest.ID,
			ContentType: w.Manifest.ContentType,
			File:        w.File,
			SourcePath:  reconcile.ResolveSourcePath(cfg, w.Manifest.ID, w.File),
		}
		size := w.File.Size
		if size == 0 && op.SourcePath != "" {
			if st, err := os.Stat(op.SourcePath); err == nil {
				size = st.Size()
			}
		}

		if w.File.SourceType == manifest.SourceRemoteDownload || p.copies(cfg, op, size) {
			total += size
		} else {
			total += b.opts.LinkOverheadBytes
		}
	}
	return total
}

// prepare materializes plan using p for every file that needs placing.
func (b *base) prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc, p policy) (*workspace.Info, error) {
	// ========================================================================
	// Step 1: Validate input and set up the workspace directory
	// ========================================================================

	if plan == nil || plan.Config == nil {
		return nil, fmt.Errorf("%s: nil plan or configuration: %w", b.name, workspace.ErrInvalidConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := plan.Config
	wsPath := plan.WorkspacePath
	if wsPath == "" {
		wsPath = cfg.WorkspacePath()
	}
	if err := os.MkdirAll(wsPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory %s: %w", wsPath, err)
	}

	builder := workspace.NewInfoBuilder(plan, b.opts.Now())
	logger.Info("Preparing workspace %s with %s: %d files [preparation=%s]",
		cfg.ID, b.name, len(plan.Operations), plan.PreparationID)

	// ========================================================================
	// Step 2: Remove files no winner produces any more
	// ========================================================================

	for _, rel := range plan.Removals {
		target := filepath.Join(wsPath, filepath.FromSlash(rel))
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &workspace.PlacementError{Path: target, Op: "remove", Err: err}
		}
		logger.Debug("Removed stale file %s", target)
	}

	// ========================================================================
	// Step 3: Place every operation in order
	// ========================================================================

	total := len(plan.Operations)
	var bytes int64
	var placed, unchanged int

	for i := range plan.Operations {
		op := &plan.Operations[i]
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("preparation of %s stopped after %d of %d files: %w", cfg.ID, i, total, err)
		}

		size, err := b.placeOne(ctx, plan, op, builder, p)
		if err != nil {
			return nil, err
		}
		if size >= 0 {
			bytes += size
			if op.Kind == workspace.OperationUnchanged {
				unchanged++
			} else {
				placed++
			}
		}

		if progress != nil {
			progress(workspace.Progress{
				Processed:   i + 1,
				Total:       total,
				CurrentFile: op.File.RelativePath,
				Bytes:       bytes,
			})
		}
	}

	// ========================================================================
	// Step 4: Finalize
	// ========================================================================

	builder.WithGameClient(cfg.GameClient)
	info := builder.Build(b.opts.Now())

	skipped := len(info.Skipped)
	b.opts.Metrics.RecordFiles(b.kind, placed, unchanged, skipped, info.TotalSizeBytes)
	logger.Info("Workspace %s ready: %d files (%s), %d unchanged, %d skipped",
		cfg.ID, info.FileCount, humanize.IBytes(uint64(info.TotalSizeBytes)), unchanged, skipped)
	return info, nil
}

// placeOne handles a single operation. It returns the size counted for the
// file, or -1 when the file was skipped.
func (b *base) placeOne(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, builder *workspace.InfoBuilder, p policy) (int64, error) {
	f := op.File
	fromCAS := f.SourceType == manifest.SourceContentAddressable

	if op.Kind == workspace.OperationUnchanged {
		size := f.Size
		if st, err := os.Stat(op.TargetPath); err == nil {
			size = st.Size()
		}
		builder.AddFile(size)
		if fromCAS {
			builder.AddCASReference(f.Hash)
		}
		logger.Debug("Unchanged %s", f.RelativePath)
		return size, nil
	}

	if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
		return 0, &workspace.PlacementError{Path: op.TargetPath, Op: "mkdir", Err: err}
	}

	if f.SourceType == manifest.SourceRemoteDownload {
		return b.download(ctx, plan, op, builder)
	}

	// ------------------------------------------------------------------------
	// Resolve the source
	// ------------------------------------------------------------------------

	src := op.SourcePath
	if fromCAS {
		if b.opts.CAS == nil {
			b.skip(builder, op, "", "no content store configured")
			return -1, nil
		}
		path, err := b.opts.CAS.ResolvePath(ctx, f.Hash)
		switch {
		case errors.Is(err, cas.ErrBlobNotFound):
			b.skip(builder, op, f.Hash, workspace.ErrSourceMissing.Error())
			return -1, nil
		case workspace.IsCancellation(err):
			return 0, err
		case err != nil:
			return 0, &workspace.PlacementError{Path: op.TargetPath, Op: "resolve", Err: err}
		}
		src = path
	}

	st, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.skip(builder, op, src, workspace.ErrSourceMissing.Error())
			return -1, nil
		}
		return 0, &workspace.PlacementError{Path: src, Op: "stat", Err: err}
	}
	size := st.Size()

	// ------------------------------------------------------------------------
	// Place and post-process
	// ------------------------------------------------------------------------

	pl, err := p.place(ctx, plan, op, src, size, fromCAS)
	if err != nil {
		switch {
		case errors.Is(err, fileops.ErrSourceNotFound):
			b.skip(builder, op, src, workspace.ErrSourceMissing.Error())
			return -1, nil
		case workspace.IsCancellation(err):
			return 0, err
		default:
			return 0, &workspace.PlacementError{Path: op.TargetPath, Op: pl.method, Err: err}
		}
	}

	if pl.copied() {
		if err := b.finishCopy(ctx, plan, op, fromCAS); err != nil {
			return 0, err
		}
	}

	b.opts.Metrics.RecordPlacement(pl.method, pl.fellBack)
	builder.AddFile(size)
	if fromCAS {
		builder.AddCASReference(f.Hash)
	}
	return size, nil
}

// download fetches a RemoteDownload file straight into the workspace.
func (b *base) download(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, builder *workspace.InfoBuilder) (int64, error) {
	n, err := b.opts.FileOps.DownloadFile(ctx, op.File.DownloadURL, op.TargetPath, op.File.Hash, nil)
	if err != nil {
		if workspace.IsCancellation(err) {
			return 0, err
		}
		return 0, &workspace.PlacementError{Path: op.TargetPath, Op: methodDownload, Err: err}
	}
	if err := b.finishCopy(ctx, plan, op, false); err != nil {
		return 0, err
	}

	b.opts.Metrics.RecordPlacement(methodDownload, false)
	builder.AddFile(n)
	logger.Debug("Downloaded %s (%s)", op.File.RelativePath, humanize.IBytes(uint64(n)))
	return n, nil
}

// finishCopy fixes the mode of a physically copied file and verifies its
// hash when requested.
func (b *base) finishCopy(ctx context.Context, plan *workspace.Plan, op *workspace.FileOperation, fromCAS bool) error {
	switch {
	case op.File.IsExecutable:
		if err := b.opts.FileOps.SetExecutable(op.TargetPath); err != nil {
			return &workspace.PlacementError{Path: op.TargetPath, Op: "chmod", Err: err}
		}
	case fromCAS:
		// Blobs are stored read-only; the workspace copy must be writable.
		if err := os.Chmod(op.TargetPath, 0o644); err != nil {
			return &workspace.PlacementError{Path: op.TargetPath, Op: "chmod", Err: err}
		}
	}

	if plan.Config.VerifyHashes && op.File.Hash != "" {
		if !b.opts.FileOps.VerifyFileHash(ctx, op.TargetPath, op.File.Hash) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return &workspace.PlacementError{
				Path: op.TargetPath,
				Op:   "verify",
				Err:  fmt.Errorf("content does not match hash %s", op.File.Hash),
			}
		}
	}
	return nil
}

func (b *base) skip(builder *workspace.InfoBuilder, op *workspace.FileOperation, source, reason string) {
	logger.Warn("Skipping %s from %s: %s (source %s)", op.File.RelativePath, op.ManifestID, reason, source)
	builder.Skip(op.File.RelativePath, source, reason)

	// The previous version must not outlive a skipped replacement.
	if op.Kind == workspace.OperationReplace {
		if err := os.Remove(op.TargetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove %s: %v", op.TargetPath, err)
		}
	}
}
