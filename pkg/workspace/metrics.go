package workspace

import (
	"time"

	"github.com/marmos91/dittows/pkg/manifest"
)

// Metrics receives workspace lifecycle observations.
//
// The Prometheus implementation lives in pkg/metrics; components accept a
// nil Metrics and fall back to NoopMetrics.
type Metrics interface {
	// ObservePreparation records one PrepareWorkspace call.
	ObservePreparation(strategy StrategyKind, duration time.Duration, err error)

	// RecordFiles records the outcome counts of a successful run.
	RecordFiles(strategy StrategyKind, placed, unchanged, skipped int, bytes int64)

	// RecordPlacement counts a single placement by method (copy, symlink,
	// hardlink, download, cas) and whether it fell back to copy.
	RecordPlacement(method string, fallback bool)

	// RecordConflict counts a resolved path conflict.
	RecordConflict(winner manifest.ContentType, loser manifest.ContentType)

	// ObserveCleanup records one CleanupWorkspace call.
	ObserveCleanup(duration time.Duration, err error)

	// SetWorkspaces sets the number of known workspaces.
	SetWorkspaces(n int)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObservePreparation(StrategyKind, time.Duration, error)     {}
func (NoopMetrics) RecordFiles(StrategyKind, int, int, int, int64)            {}
func (NoopMetrics) RecordPlacement(string, bool)                              {}
func (NoopMetrics) RecordConflict(manifest.ContentType, manifest.ContentType) {}
func (NoopMetrics) ObserveCleanup(time.Duration, error)                       {}
func (NoopMetrics) SetWorkspaces(int)                                         {}

// MetricsOrNoop returns m, or NoopMetrics when m is nil.
func MetricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}
