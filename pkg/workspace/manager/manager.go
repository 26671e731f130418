// Package manager drives workspace preparation end to end: validation,
// strategy selection, reconciliation, materialization, CAS reference
// bookkeeping and the persistent workspace index.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/store/memory"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/reconcile"
	"github.com/marmos91/dittows/pkg/workspace/validate"
)

// Options configures a Manager. Only Strategies is usually set by callers;
// every other field has a working default.
type Options struct {
	// Strategies are consulted in order; the first whose CanHandle accepts
	// the configuration prepares it.
	Strategies []workspace.Strategy

	Validator  *validate.Validator
	Reconciler *reconcile.Reconciler
	FileOps    *fileops.Service

	// Index persists workspace records. Defaults to an in-memory store.
	Index store.WorkspaceIndex

	// Tracker records CAS references. Without it reference bookkeeping is
	// skipped.
	Tracker *cas.Tracker

	// WorkspaceRoot locates directories of workspaces that have no index
	// record during cleanup.
	WorkspaceRoot string

	Metrics workspace.Metrics
	Now     func() time.Time
}

// PrepareOptions are per-call options of PrepareWorkspace.
type PrepareOptions struct {
	// Progress receives one event per processed file.
	Progress workspace.ProgressFunc

	// SkipCleanup keeps files in the workspace that no manifest produces.
	// With ForceRecreate it also keeps the existing directory and its CAS
	// references; every file is placed again on top of it.
	SkipCleanup bool
}

// Manager prepares, lists, validates and removes workspaces.
//
// Thread Safety:
// Safe for concurrent use. At most one preparation or cleanup runs per
// workspace ID; distinct IDs proceed in parallel. The internal mutex only
// guards the busy set and lifecycle states and is never held across file
// I/O.
type Manager struct {
	strategies []workspace.Strategy
	validator  *validate.Validator
	reconciler *reconcile.Reconciler
	fileOps    *fileops.Service
	index      store.WorkspaceIndex
	tracker    *cas.Tracker
	root       string
	metrics    workspace.Metrics
	now        func() time.Time

	mu     sync.Mutex
	busy   map[string]struct{}
	states map[string]workspace.State
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		strategies: opts.Strategies,
		validator:  opts.Validator,
		reconciler: opts.Reconciler,
		fileOps:    opts.FileOps,
		index:      opts.Index,
		tracker:    opts.Tracker,
		root:       opts.WorkspaceRoot,
		metrics:    workspace.MetricsOrNoop(opts.Metrics),
		now:        opts.Now,
		busy:       make(map[string]struct{}),
		states:     make(map[string]workspace.State),
	}
	if m.reconciler == nil {
		m.reconciler = reconcile.New(reconcile.Options{Metrics: opts.Metrics})
	}
	if m.validator == nil {
		m.validator = validate.New(validate.Options{Reconciler: m.reconciler})
	}
	if m.fileOps == nil {
		m.fileOps = fileops.NewService(fileops.Options{})
	}
	if m.index == nil {
		m.index = memory.New()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ============================================================================
// Preparation
// ============================================================================

// PrepareWorkspace validates cfg and materializes its workspace.
//
// When a workspace with the same ID already exists and ForceRecreate is not
// set, only the difference is applied: unchanged files stay, stale files
// are removed. With ForceRecreate the old directory and its CAS references
// are dropped first. opts.SkipCleanup keeps both the old directory and any
// file no manifest produces.
//
// Errors:
//   - workspace.ErrInvalidConfiguration for a nil configuration
//   - workspace.ErrWorkspaceBusy while the same ID is being prepared or removed
//   - *workspace.ValidationError when validation reports errors
//   - workspace.ErrNoStrategy when no strategy handles cfg.Strategy
//   - *workspace.PlacementError when a file cannot be placed
//
// Context Cancellation:
// Checked between phases and between files. The returned error satisfies
// errors.Is(err, context.Canceled) (or DeadlineExceeded) and
// workspace.IsCancellation. Files already placed are left in place.
func (m *Manager) PrepareWorkspace(ctx context.Context, cfg *workspace.Configuration, opts PrepareOptions) (info *workspace.Info, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("prepare workspace: nil configuration: %w", workspace.ErrInvalidConfiguration)
	}

	id := cfg.ID
	if err := m.acquire(id); err != nil {
		return nil, err
	}
	defer m.release(id)

	start := m.now()
	preparationID := uuid.NewString()
	defer func() {
		if err != nil {
			m.fail(id)
			if workspace.IsCancellation(err) {
				logger.Info("Preparation of workspace %s cancelled [preparation=%s]", id, preparationID)
			} else {
				logger.Error("Preparation of workspace %s failed [preparation=%s]: %v", id, preparationID, err)
			}
		}
		m.metrics.ObservePreparation(cfg.Strategy, m.now().Sub(start), err)
	}()

	// ========================================================================
	// Step 1: Validate
	// ========================================================================

	if err := m.advance(id, workspace.StateRequested); err != nil {
		return nil, err
	}
	if err := m.advance(id, workspace.StateValidating); err != nil {
		return nil, err
	}

	result := m.validator.ValidateConfiguration(ctx, cfg)
	if !result.IsValid() {
		return nil, &workspace.ValidationError{Result: result}
	}
	logIssues(id, result)

	// ========================================================================
	// Step 2: Select a strategy and check its prerequisites
	// ========================================================================

	strategy := m.selectStrategy(cfg)
	if strategy == nil {
		return nil, fmt.Errorf("workspace %s: %w: %s", id, workspace.ErrNoStrategy, cfg.Strategy)
	}

	prereq := m.validator.ValidatePrerequisites(ctx, strategy, cfg)
	if !prereq.IsValid() {
		return nil, &workspace.ValidationError{Result: prereq}
	}
	logIssues(id, prereq)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("prepare workspace %s: %w", id, err)
	}

	// ========================================================================
	// Step 3: Reconcile against the existing workspace
	// ========================================================================

	if err := m.advance(id, workspace.StateReconciling); err != nil {
		return nil, err
	}

	existing, err := m.existing(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	plan, err := m.reconciler.AnalyzeDelta(ctx, existing, cfg)
	if err != nil {
		if workspace.IsCancellation(err) {
			return nil, fmt.Errorf("prepare workspace %s: %w", id, err)
		}
		return nil, fmt.Errorf("reconcile workspace %s: %w", id, err)
	}
	plan.PreparationID = preparationID
	if opts.SkipCleanup && len(plan.Removals) > 0 {
		logger.Debug("Workspace %s: keeping %d files no manifest produces", id, len(plan.Removals))
		plan.Removals = nil
	}

	placed, replaced, unchanged := plan.Counts()
	logger.Info("Workspace %s plan: %d new, %d replaced, %d unchanged, %d removed, %d conflicts [preparation=%s]",
		id, placed, replaced, unchanged, len(plan.Removals), len(plan.Conflicts), preparationID)

	// ========================================================================
	// Step 4: Materialize
	// ========================================================================

	if err := m.advance(id, workspace.StateMaterializing); err != nil {
		return nil, err
	}

	info, err = strategy.Prepare(ctx, plan, opts.Progress)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace %s with %s: %w", id, strategy.Name(), err)
	}

	// ========================================================================
	// Step 5: Record references and persist
	// ========================================================================

	if m.tracker != nil {
		released, err := m.tracker.RetainOnly(ctx, id, info.CASReferences)
		if err != nil {
			return nil, err
		}
		if len(released) > 0 {
			logger.Debug("Workspace %s no longer references %d blobs", id, len(released))
		}
	}

	if err := m.advance(id, workspace.StateReady); err != nil {
		return nil, err
	}
	info = info.WithState(workspace.StateReady, m.now())

	if err := m.index.PutWorkspace(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to record workspace %s: %w", id, err)
	}
	m.refreshCount(ctx)

	logger.Info("Workspace %s prepared in %s: %d files, %s [preparation=%s]",
		id, m.now().Sub(start).Round(time.Millisecond), info.FileCount,
		humanize.IBytes(uint64(info.TotalSizeBytes)), preparationID)
	return info, nil
}

// existing returns the record the delta is computed against, after
// applying ForceRecreate.
func (m *Manager) existing(ctx context.Context, cfg *workspace.Configuration, opts PrepareOptions) (*workspace.Info, error) {
	rec, err := m.index.GetWorkspace(ctx, cfg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load workspace %s: %w", cfg.ID, err)
	}

	if !cfg.ForceRecreate {
		return rec, nil
	}
	if opts.SkipCleanup {
		logger.Debug("Workspace %s: force recreate without cleanup", cfg.ID)
		return nil, nil
	}

	path := cfg.WorkspacePath()
	if _, statErr := os.Stat(path); statErr == nil || rec != nil {
		logger.Info("Recreating workspace %s: removing %s", cfg.ID, path)
		if err := m.remove(ctx, cfg.ID, path); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// selectStrategy returns the first strategy accepting cfg, or nil.
func (m *Manager) selectStrategy(cfg *workspace.Configuration) workspace.Strategy {
	for _, s := range m.strategies {
		if s.CanHandle(cfg) {
			return s
		}
	}
	return nil
}

// ============================================================================
// Cleanup and queries
// ============================================================================

// CleanupWorkspace releases every CAS reference of the workspace, deletes
// its directory and drops its index record. Cleaning up an unknown ID whose
// directory does not exist succeeds.
func (m *Manager) CleanupWorkspace(ctx context.Context, id string) (err error) {
	if err := store.ValidateWorkspaceID(id); err != nil {
		return fmt.Errorf("cleanup workspace %q: %w", id, workspace.ErrInvalidConfiguration)
	}
	if err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)

	start := m.now()
	defer func() {
		if err != nil {
			m.fail(id)
		}
		m.metrics.ObserveCleanup(m.now().Sub(start), err)
	}()

	rec, err := m.index.GetWorkspace(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = nil
	case err != nil:
		return fmt.Errorf("failed to load workspace %s: %w", id, err)
	}

	path := ""
	switch {
	case rec != nil && rec.WorkspacePath != "":
		path = rec.WorkspacePath
	case m.root != "":
		path = filepath.Join(m.root, id)
	}

	if err := m.advance(id, workspace.StateCleaningUp); err != nil {
		return err
	}
	if err := m.remove(ctx, id, path); err != nil {
		return err
	}
	if err := m.advance(id, workspace.StateRemoved); err != nil {
		return err
	}
	m.refreshCount(ctx)

	logger.Info("Workspace %s removed", id)
	return nil
}

// remove releases references, deletes the directory and drops the record,
// in that order.
func (m *Manager) remove(ctx context.Context, id, path string) error {
	if m.tracker != nil {
		if _, err := m.tracker.ReleaseWorkspace(ctx, id); err != nil {
			return err
		}
	}
	if path != "" {
		if err := m.fileOps.DeleteDirectoryIfExists(path); err != nil {
			return fmt.Errorf("failed to remove workspace %s: %w", id, err)
		}
	}
	if err := m.index.DeleteWorkspace(ctx, id); err != nil {
		return fmt.Errorf("failed to drop workspace %s from index: %w", id, err)
	}
	return nil
}

// GetAllWorkspaces returns every recorded workspace sorted by ID.
func (m *Manager) GetAllWorkspaces(ctx context.Context) ([]*workspace.Info, error) {
	infos, err := m.index.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return infos, nil
}

// GetWorkspace returns the record of id or workspace.ErrWorkspaceNotFound.
func (m *Manager) GetWorkspace(ctx context.Context, id string) (*workspace.Info, error) {
	info, err := m.index.GetWorkspace(ctx, id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidKey) {
		return nil, fmt.Errorf("%w: %s", workspace.ErrWorkspaceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ValidateWorkspace re-checks that the workspace directory and its
// executable still exist, records the outcome in IsValid and returns the
// updated record.
func (m *Manager) ValidateWorkspace(ctx context.Context, id string) (*workspace.Info, error) {
	info, err := m.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}

	valid := isDir(info.WorkspacePath)
	if valid && info.ExecutablePath != "" {
		st, err := os.Stat(info.ExecutablePath)
		valid = err == nil && st.Mode().IsRegular()
	}

	if valid != info.IsValid {
		logger.Info("Workspace %s validity changed: %t -> %t", id, info.IsValid, valid)
	}
	updated := info.WithValidity(valid, m.now())
	if err := m.index.PutWorkspace(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to record workspace %s: %w", id, err)
	}
	return updated, nil
}

// State returns the lifecycle state of id as seen by this manager.
func (m *Manager) State(id string) (workspace.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok
}

// ============================================================================
// Lifecycle bookkeeping
// ============================================================================

// acquire marks id busy.
func (m *Manager) acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.busy[id]; ok {
		return fmt.Errorf("%w: %s", workspace.ErrWorkspaceBusy, id)
	}
	m.busy[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, id)
}

// advance performs one lifecycle transition. IDs this manager has not seen
// yet start in whatever state the request begins with, and a removed
// workspace may be cleaned up again.
func (m *Manager) advance(id string, next workspace.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.states[id]
	if !ok || (cur == workspace.StateRemoved && next == workspace.StateCleaningUp) {
		m.states[id] = next
		return nil
	}
	s, err := cur.Transition(next)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", id, err)
	}
	m.states[id] = s
	return nil
}

func (m *Manager) fail(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.states[id]; cur.CanTransition(workspace.StateFailed) {
		m.states[id] = workspace.StateFailed
	}
}

func (m *Manager) refreshCount(ctx context.Context) {
	infos, err := m.index.ListWorkspaces(ctx)
	if err != nil {
		logger.Debug("Workspace count unavailable: %v", err)
		return
	}
	m.metrics.SetWorkspaces(len(infos))
}

func logIssues(id string, result *workspace.ValidationResult) {
	for _, issue := range result.Issues {
		switch issue.Severity {
		case workspace.SeverityWarning:
			logger.Warn("Workspace %s: %s", id, issue)
		default:
			logger.Debug("Workspace %s: %s", id, issue)
		}
	}
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
