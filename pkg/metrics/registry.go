// Package metrics holds the process-wide Prometheus registry and the ways
// its contents leave the process: an HTTP endpoint for the long-running
// serve mode and a textfile for one-shot CLI runs.
//
// Metrics are optional. Without InitRegistry every constructor in
// pkg/metrics/prometheus returns a no-op implementation.
//
// Usage:
//
//	metrics.InitRegistry()
//	wsMetrics := prometheus.NewWorkspaceMetrics()
//	mgr := manager.New(manager.Options{Metrics: wsMetrics, ...})
//	...
//	_ = metrics.WriteTextfile("/var/lib/node_exporter/dittows.prom")
package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ErrDisabled is returned by exporters when InitRegistry was not called.
var ErrDisabled = errors.New("metrics collection is disabled")

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry with the Go
// runtime and process collectors. Subsequent calls are ignored.
//
// Thread safety:
// sync.Once provides the memory barrier making the registry visible to
// every later GetRegistry call.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, replacing the file atomically. It is meant for the node
// exporter textfile collector after a one-shot command.
func WriteTextfile(path string) error {
	reg := GetRegistry()
	if reg == nil {
		return ErrDisabled
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
