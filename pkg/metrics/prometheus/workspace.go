// Package prometheus contains the Prometheus-backed implementations of the
// metrics interfaces declared by the workspace engine.
package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/metrics"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// workspaceMetrics is the Prometheus implementation of workspace.Metrics.
type workspaceMetrics struct {
	preparationsTotal   *prometheus.CounterVec
	preparationDuration *prometheus.HistogramVec
	filesTotal          *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	placementsTotal     *prometheus.CounterVec
	conflictsTotal      *prometheus.CounterVec
	cleanupsTotal       *prometheus.CounterVec
	cleanupDuration     prometheus.Histogram
	workspaces          prometheus.Gauge
}

var (
	globalWorkspace     workspace.Metrics
	globalWorkspaceOnce sync.Once
)

// NewWorkspaceMetrics returns the workspace metrics of the global registry,
// creating them on first use. Later calls share the same collectors.
//
// Returns workspace.NoopMetrics if metrics are not enabled (InitRegistry
// not called).
func NewWorkspaceMetrics() workspace.Metrics {
	if !metrics.IsEnabled() {
		return workspace.NoopMetrics{}
	}
	globalWorkspaceOnce.Do(func() {
		globalWorkspace = NewWorkspaceMetricsWith(metrics.GetRegistry())
	})
	return globalWorkspace
}

// NewWorkspaceMetricsWith creates workspace metrics registered with reg.
func NewWorkspaceMetricsWith(reg prometheus.Registerer) workspace.Metrics {
	factory := promauto.With(reg)

	return &workspaceMetrics{
		preparationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_preparations_total",
				Help: "Total number of workspace preparations by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		preparationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittows_preparation_duration_seconds",
				Help: "Duration of workspace preparations in seconds",
				Buckets: []float64{
					0.1,  // 100ms
					0.5,  // 500ms
					1,    // 1s
					5,    // 5s
					15,   // 15s
					60,   // 1m
					300,  // 5m
					1200, // 20m
				},
			},
			[]string{"strategy"},
		),
		filesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_files_total",
				Help: "Files handled by successful preparations by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_workspace_bytes_total",
				Help: "Bytes of workspace content produced by successful preparations",
			},
			[]string{"strategy"},
		),
		placementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_placements_total",
				Help: "Files placed by method and whether the placement fell back to a copy",
			},
			[]string{"method", "fallback"},
		),
		conflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_conflicts_total",
				Help: "Resolved path conflicts by winning and losing content type",
			},
			[]string{"winner", "loser"},
		),
		cleanupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_cleanups_total",
				Help: "Total number of workspace cleanups by status",
			},
			[]string{"status"},
		),
		cleanupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittows_cleanup_duration_seconds",
				Help:    "Duration of workspace cleanups in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		workspaces: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dittows_workspaces",
				Help: "Number of workspaces in the index",
			},
		),
	}
}

func (m *workspaceMetrics) ObservePreparation(strategy workspace.StrategyKind, duration time.Duration, err error) {
	m.preparationsTotal.WithLabelValues(string(strategy), status(err)).Inc()
	m.preparationDuration.WithLabelValues(string(strategy)).Observe(duration.Seconds())
}

func (m *workspaceMetrics) RecordFiles(strategy workspace.StrategyKind, placed, unchanged, skipped int, bytes int64) {
	s := string(strategy)
	m.filesTotal.WithLabelValues(s, "placed").Add(float64(placed))
	m.filesTotal.WithLabelValues(s, "unchanged").Add(float64(unchanged))
	m.filesTotal.WithLabelValues(s, "skipped").Add(float64(skipped))
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(s).Add(float64(bytes))
	}
}

func (m *workspaceMetrics) RecordPlacement(method string, fallback bool) {
	fb := "false"
	if fallback {
		fb = "true"
	}
	m.placementsTotal.WithLabelValues(method, fb).Inc()
}

func (m *workspaceMetrics) RecordConflict(winner manifest.ContentType, loser manifest.ContentType) {
	m.conflictsTotal.WithLabelValues(winner.String(), loser.String()).Inc()
}

func (m *workspaceMetrics) ObserveCleanup(duration time.Duration, err error) {
	m.cleanupsTotal.WithLabelValues(status(err)).Inc()
	m.cleanupDuration.Observe(duration.Seconds())
}

func (m *workspaceMetrics) SetWorkspaces(n int) {
	m.workspaces.Set(float64(n))
}

// status maps an outcome to a label value.
func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case workspace.IsCancellation(err):
		return "cancelled"
	default:
		return "error"
	}
}
