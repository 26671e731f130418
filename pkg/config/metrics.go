package config

import (
	"github.com/marmos91/dittows/pkg/gc"
	"github.com/marmos91/dittows/pkg/metrics"
	promMetrics "github.com/marmos91/dittows/pkg/metrics/prometheus"
	"github.com/marmos91/dittows/pkg/workspace"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Workspace is the collector for the workspace manager and strategies
	// (never nil, uses noop if disabled)
	Workspace workspace.Metrics

	// GC is the collector for the garbage collector (nil if disabled)
	GC gc.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server (not started)
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{Workspace: workspace.NoopMetrics{}}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host: cfg.Metrics.Host,
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:    server,
		Workspace: promMetrics.NewWorkspaceMetrics(),
		GC:        promMetrics.NewGCMetrics(),
	}
}
