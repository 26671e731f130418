package prometheus

import (
	"sync"

	"github.com/marmos91/dittows/pkg/gc"
	"github.com/marmos91/dittows/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gcMetrics struct {
	runsTotal    *prometheus.CounterVec
	duration     prometheus.Histogram
	blobsTotal   *prometheus.CounterVec
	freedBytes   prometheus.Counter
	lastOrphaned prometheus.Gauge
}

var (
	globalGC     gc.Metrics
	globalGCOnce sync.Once
)

// NewGCMetrics returns the garbage collector metrics of the global
// registry, creating them on first use.
//
// Returns nil if metrics are not enabled, which leaves the collector
// without metrics.
func NewGCMetrics() gc.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	globalGCOnce.Do(func() {
		globalGC = NewGCMetricsWith(metrics.GetRegistry())
	})
	return globalGC
}

// NewGCMetricsWith creates garbage collector metrics registered with reg.
func NewGCMetricsWith(reg prometheus.Registerer) gc.Metrics {
	factory := promauto.With(reg)

	return &gcMetrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_gc_runs_total",
				Help: "Garbage collection runs by status",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittows_gc_duration_seconds",
				Help:    "Duration of garbage collection runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		blobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittows_gc_blobs_total",
				Help: "Orphaned blobs handled by garbage collection by result",
			},
			[]string{"result"},
		),
		freedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dittows_gc_freed_bytes_total",
				Help: "Bytes freed by garbage collection",
			},
		),
		lastOrphaned: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dittows_gc_last_orphaned_blobs",
				Help: "Orphaned blobs found by the most recent run",
			},
		),
	}
}

func (m *gcMetrics) ObserveCollection(stats *gc.Stats, err error) {
	m.runsTotal.WithLabelValues(status(err)).Inc()
	if stats == nil {
		return
	}
	m.duration.Observe(stats.Duration().Seconds())
	m.blobsTotal.WithLabelValues("deleted").Add(float64(stats.DeletedCount))
	m.blobsTotal.WithLabelValues("failed").Add(float64(stats.FailedCount))
	m.freedBytes.Add(float64(stats.FreedBytes))
	m.lastOrphaned.Set(float64(stats.OrphanedCount))
}
