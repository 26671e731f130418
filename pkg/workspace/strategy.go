package workspace

import "context"

// Progress is one materialization progress event.
type Progress struct {
	Processed   int
	Total       int
	CurrentFile string
	Bytes       int64
}

// Percent returns the completed share in [0, 100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// ProgressFunc receives progress events. It is called synchronously from
// the preparing goroutine and must not block for long.
type ProgressFunc func(Progress)

// Strategy is a file placement policy.
//
// Strategies are registered with the manager as an ordered list; the first
// one whose CanHandle returns true prepares the workspace.
type Strategy interface {
	// Name is a human-readable identifier used in logs.
	Name() string

	// Kind is the strategy kind this implementation handles.
	Kind() StrategyKind

	// CanHandle reports whether cfg requests this strategy.
	CanHandle(cfg *Configuration) bool

	// RequiresAdminRights reports whether the strategy needs elevated
	// privileges on this platform.
	RequiresAdminRights() bool

	// RequiresSameVolume reports whether sources and workspace must share a volume.
	RequiresSameVolume() bool

	// EstimateDiskUsage returns the bytes the workspace will consume: the
	// size of physically copied files plus a fixed overhead per link.
	EstimateDiskUsage(cfg *Configuration) int64

	// Prepare materializes the plan into its workspace directory.
	Prepare(ctx context.Context, plan *Plan, progress ProgressFunc) (*Info, error)
}
