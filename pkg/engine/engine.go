// Package engine is the composition root of DittoWS. It builds every
// component from a config.Config and exposes the operations the CLI needs.
//
// Dependency order:
//
//	metrics → CAS service → index store → reference tracker
//	       → downloader → file operations → reconciler → strategies
//	       → workspace manager → garbage collector
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/config"
	"github.com/marmos91/dittows/pkg/download"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/gc"
	"github.com/marmos91/dittows/pkg/metrics"
	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/manager"
	"github.com/marmos91/dittows/pkg/workspace/reconcile"
	"github.com/marmos91/dittows/pkg/workspace/strategy"
	"github.com/marmos91/dittows/pkg/workspace/validate"
)

// shutdownTimeout bounds the collector and metrics server shutdown.
const shutdownTimeout = 30 * time.Second

// Engine owns the wired components.
//
// Thread Safety:
// Safe for concurrent use. Preparations and content imports share the read
// side of gcLock; garbage collection takes the write side, so a run never
// observes a blob stored but not yet referenced.
type Engine struct {
	cfg        *config.Config
	metrics    *config.MetricsResult
	store      store.Store
	cas        *cas.Service
	tracker    *cas.Tracker
	fileOps    *fileops.Service
	validator  *validate.Validator
	strategies []workspace.Strategy
	manager    *manager.Manager
	collector  *gc.Collector

	gcLock    sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// New builds an Engine from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil configuration")
	}

	e := &Engine{cfg: cfg}
	e.metrics = config.InitializeMetrics(cfg)

	// ========================================================================
	// Step 1: Storage
	// ========================================================================

	casSvc, err := config.CreateCASService(ctx, &cfg.CAS)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAS: %w", err)
	}
	e.cas = casSvc

	st, err := config.CreateStore(ctx, &cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace index: %w", err)
	}
	e.store = st
	e.tracker = cas.NewTracker(st)

	// ========================================================================
	// Step 2: File operations and placement
	// ========================================================================

	downloader := download.New(download.Config{
		Client:         &http.Client{Timeout: cfg.Download.Timeout},
		Hasher:         casSvc.Hasher(),
		BytesPerSecond: cfg.Download.BytesPerSecond,
		Burst:          cfg.Download.Burst,
		UserAgent:      cfg.Download.UserAgent,
	})

	e.fileOps = fileops.NewService(fileops.Options{
		Hasher:     casSvc.Hasher(),
		Downloader: downloader,
		BufferSize: cfg.Placement.BufferSize,
	})

	reconciler := reconcile.New(reconcile.Options{
		Hasher:  casSvc.Hasher(),
		Metrics: e.metrics.Workspace,
	})

	e.validator = validate.New(validate.Options{Linker: e.fileOps.Linker(), Reconciler: reconciler})
	e.strategies = strategy.All(strategy.Options{
		FileOps:            e.fileOps,
		CAS:                casSvc,
		Reconciler:         reconciler,
		Metrics:            e.metrics.Workspace,
		LinkOverheadBytes:  cfg.Placement.LinkOverheadBytes,
		EssentialThreshold: cfg.Placement.EssentialThreshold,
	})

	e.manager = manager.New(manager.Options{
		Strategies:    e.strategies,
		Validator:     e.validator,
		Reconciler:    reconciler,
		FileOps:       e.fileOps,
		Index:         st,
		Tracker:       e.tracker,
		WorkspaceRoot: cfg.Storage.WorkspacePath,
		Metrics:       e.metrics.Workspace,
	})

	// ========================================================================
	// Step 3: Garbage collection
	// ========================================================================

	tiers := []gc.Tier{{Name: "local", Store: casSvc.Local()}}
	if remote := casSvc.Remote(); remote != nil {
		tiers = append(tiers, gc.Tier{Name: cfg.CAS.Remote.Type, Store: remote})
	}

	collector, err := gc.NewCollector(e.tracker, tiers, gc.Config{
		Enabled:   cfg.GC.Enabled,
		Interval:  cfg.GC.Interval,
		BatchSize: cfg.GC.BatchSize,
		DryRun:    cfg.GC.DryRun,
		Metrics:   e.metrics.GC,
		Locker:    &e.gcLock,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	e.collector = collector

	logger.Debug("Engine ready: cas=%s hash=%s remote=%s index=%s workspaces=%s",
		cfg.CAS.Path, casSvc.Hasher().Algorithm(), cfg.CAS.Remote.Type, cfg.Index.Type, cfg.Storage.WorkspacePath)
	return e, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Manager returns the workspace manager.
func (e *Engine) Manager() *manager.Manager {
	return e.manager
}

// CAS returns the CAS service.
func (e *Engine) CAS() *cas.Service {
	return e.cas
}

// Tracker returns the CAS reference tracker.
func (e *Engine) Tracker() *cas.Tracker {
	return e.tracker
}

// PrepareWorkspace prepares cfg. An empty WorkspaceRootPath is filled with
// the configured workspace root; cfg itself is not modified.
func (e *Engine) PrepareWorkspace(ctx context.Context, cfg *workspace.Configuration, opts manager.PrepareOptions) (*workspace.Info, error) {
	cfg = e.withDefaults(cfg)

	e.gcLock.RLock()
	defer e.gcLock.RUnlock()

	return e.manager.PrepareWorkspace(ctx, cfg, opts)
}

// ValidateConfiguration checks cfg and the prerequisites of the strategy
// that would prepare it, without touching the filesystem.
func (e *Engine) ValidateConfiguration(ctx context.Context, cfg *workspace.Configuration) *workspace.ValidationResult {
	cfg = e.withDefaults(cfg)

	result := e.validator.ValidateConfiguration(ctx, cfg)
	if cfg == nil || !result.IsValid() {
		return result
	}
	for _, s := range e.strategies {
		if s.CanHandle(cfg) {
			result.Merge(e.validator.ValidatePrerequisites(ctx, s, cfg))
			break
		}
	}
	return result
}

// withDefaults returns a copy of cfg with the engine's workspace root
// filled in.
func (e *Engine) withDefaults(cfg *workspace.Configuration) *workspace.Configuration {
	if cfg == nil || cfg.WorkspaceRootPath != "" {
		return cfg
	}
	c := *cfg
	c.WorkspaceRootPath = e.cfg.Storage.WorkspacePath
	return &c
}

// CleanupWorkspace removes a workspace and releases its CAS references.
func (e *Engine) CleanupWorkspace(ctx context.Context, id string) error {
	return e.manager.CleanupWorkspace(ctx, id)
}

// StoreContent imports the file at path into the CAS and returns its hash.
// The blob stays unreferenced, and therefore collectable, until a
// workspace uses it.
func (e *Engine) StoreContent(ctx context.Context, path string) (string, error) {
	e.gcLock.RLock()
	defer e.gcLock.RUnlock()

	return e.cas.StoreContent(ctx, path)
}

// CollectGarbage runs one collection.
func (e *Engine) CollectGarbage(ctx context.Context) (*gc.Stats, error) {
	return e.collector.RunNow(ctx)
}

// Serve starts periodic garbage collection and the metrics server (when
// enabled) and blocks until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	e.collector.Start()

	var serverErr chan error
	if e.metrics.Server != nil {
		serverErr = make(chan error, 1)
		go func() {
			serverErr <- e.metrics.Server.Start(ctx)
		}()
	}

	logger.Info("DittoWS is running. Press Ctrl+C to stop.")

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if stopErr := e.collector.Stop(shutdownCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	if e.metrics.Server != nil {
		if stopErr := e.metrics.Server.Stop(shutdownCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// Close stops background work, writes the metrics textfile when configured
// and closes the index store. Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := e.collector.Stop(ctx); err != nil {
			logger.Warn("Garbage collector did not stop cleanly: %v", err)
		}

		if path := e.cfg.Metrics.Textfile; path != "" && metrics.IsEnabled() {
			if err := metrics.WriteTextfile(path); err != nil {
				logger.Warn("Failed to write metrics textfile: %v", err)
			}
		}

		if err := e.store.Close(); err != nil {
			e.closeErr = fmt.Errorf("failed to close workspace index: %w", err)
		}
	})
	return e.closeErr
}
