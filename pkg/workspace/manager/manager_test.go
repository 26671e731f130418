package manager_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittows/pkg/cas"
	casfs "github.com/marmos91/dittows/pkg/cas/fs"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/manifest"
	storememory "github.com/marmos91/dittows/pkg/store/memory"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/manager"
	"github.com/marmos91/dittows/pkg/workspace/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	root    string
	base    string
	wsRoot  string
	cas     *cas.Service
	local   *casfs.Store
	tracker *cas.Tracker
	mgr     *manager.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:   root,
		base:   filepath.Join(root, "install"),
		wsRoot: filepath.Join(root, "workspaces"),
	}

	writeFile(t, filepath.Join(e.base, "generals.exe"), "exe")
	writeFile(t, filepath.Join(e.base, "Data", "INI", "GameData.ini"), "ini")

	local, err := casfs.New(filepath.Join(root, "cas"), fileops.SHA256Hasher{})
	require.NoError(t, err)
	svc, err := cas.NewService(local, nil, fileops.SHA256Hasher{})
	require.NoError(t, err)

	e.local = local
	e.cas = svc
	e.tracker = cas.NewTracker(storememory.New())
	e.mgr = manager.New(manager.Options{
		Strategies:    strategy.All(strategy.Options{CAS: svc}),
		Tracker:       e.tracker,
		WorkspaceRoot: e.wsRoot,
	})
	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *env) config(id string, kind workspace.StrategyKind) *workspace.Configuration {
	return &workspace.Configuration{
		ID:                   id,
		Strategy:             kind,
		BaseInstallationPath: e.base,
		WorkspaceRootPath:    e.wsRoot,
		GameClient:           workspace.GameClient{ID: "zh", ExecutablePath: "generals.exe"},
		Manifests: []manifest.Manifest{{
			ID:          "1.0.steam.gameinstallation.zerohour",
			ContentType: manifest.ContentTypeGameInstallation,
			Files: []manifest.File{
				{RelativePath: "generals.exe", SourceType: manifest.SourceGameInstallation, IsExecutable: true},
				{RelativePath: "Data/INI/GameData.ini", SourceType: manifest.SourceGameInstallation},
			},
		}},
	}
}

// withBlob adds a CAS-backed mod file to cfg and returns its hash.
func (e *env) withBlob(t *testing.T, cfg *workspace.Configuration, content string) string {
	t.Helper()
	staged := filepath.Join(e.root, "staging", content)
	writeFile(t, staged, content)
	hash, err := e.cas.StoreContent(context.Background(), staged)
	require.NoError(t, err)

	cfg.Manifests = append(cfg.Manifests, manifest.Manifest{
		ID:          "1.0.genhub.mod." + content,
		ContentType: manifest.ContentTypeMod,
		Files: []manifest.File{{
			RelativePath: "Data/" + content + ".big",
			Hash:         hash,
			SourceType:   manifest.SourceContentAddressable,
		}},
	})
	return hash
}

// ============================================================================
// Preparation
// ============================================================================

func TestPrepareWorkspace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)

	info, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, "zh", info.ID)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, workspace.StateReady, info.State)
	assert.NotEmpty(t, info.PreparationID)
	assert.FileExists(t, filepath.Join(e.wsRoot, "zh", "generals.exe"))

	state, ok := e.mgr.State("zh")
	require.True(t, ok)
	assert.Equal(t, workspace.StateReady, state)

	stored, err := e.mgr.GetWorkspace(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, info.PreparationID, stored.PreparationID)
}

func TestPrepareNilConfiguration(t *testing.T) {
	e := newEnv(t)
	_, err := e.mgr.PrepareWorkspace(context.Background(), nil, manager.PrepareOptions{})
	assert.ErrorIs(t, err, workspace.ErrInvalidConfiguration)
}

func TestPrepareValidationFailure(t *testing.T) {
	e := newEnv(t)
	cfg := e.config("zh", workspace.StrategyFullCopy)
	cfg.BaseInstallationPath = filepath.Join(e.root, "nowhere")

	_, err := e.mgr.PrepareWorkspace(context.Background(), cfg, manager.PrepareOptions{})
	var verr *workspace.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, workspace.ErrValidationFailed)
	assert.True(t, verr.Result.HasIssue(workspace.SeverityError, workspace.IssueDirectoryNotFound))

	state, _ := e.mgr.State("zh")
	assert.Equal(t, workspace.StateFailed, state)
	assert.NoDirExists(t, filepath.Join(e.wsRoot, "zh"))
}

func TestPrepareNoStrategy(t *testing.T) {
	e := newEnv(t)
	mgr := manager.New(manager.Options{
		Strategies: []workspace.Strategy{strategy.NewFullCopy(strategy.Options{})},
	})

	_, err := mgr.PrepareWorkspace(context.Background(), e.config("zh", workspace.StrategySymlinkOnly), manager.PrepareOptions{})
	assert.ErrorIs(t, err, workspace.ErrNoStrategy)
	assert.NoDirExists(t, filepath.Join(e.wsRoot, "zh"))
}

func TestPrepareEmptyManifestSet(t *testing.T) {
	for _, kind := range workspace.AllStrategyKinds() {
		t.Run(string(kind), func(t *testing.T) {
			e := newEnv(t)
			cfg := e.config("empty", kind)
			cfg.Manifests = nil
			cfg.GameClient = workspace.GameClient{}

			info, err := e.mgr.PrepareWorkspace(context.Background(), cfg, manager.PrepareOptions{})
			require.NoError(t, err)
			assert.Zero(t, info.FileCount)

			entries, err := os.ReadDir(filepath.Join(e.wsRoot, "empty"))
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestForceRecreateRemovesForeignFiles(t *testing.T) {
	for _, kind := range workspace.AllStrategyKinds() {
		t.Run(string(kind), func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			cfg := e.config("zh", kind)

			_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
			require.NoError(t, err)

			marker := filepath.Join(e.wsRoot, "zh", "Data", "marker.txt")
			writeFile(t, marker, "left behind")

			cfg.ForceRecreate = true
			info, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
			require.NoError(t, err)
			assert.Equal(t, 2, info.FileCount)
			assert.NoFileExists(t, marker)
			assert.FileExists(t, filepath.Join(e.wsRoot, "zh", "generals.exe"))
		})
	}
}

func TestForceRecreateSkipCleanupKeepsDirectory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)

	_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	marker := filepath.Join(e.wsRoot, "zh", "marker.txt")
	writeFile(t, marker, "kept")

	cfg.ForceRecreate = true
	_, err = e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{SkipCleanup: true})
	require.NoError(t, err)
	assert.FileExists(t, marker)
}

func TestRepreparationAppliesDelta(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)

	first, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)

	stale := filepath.Join(e.wsRoot, "zh", "Data", "stale.big")
	writeFile(t, stale, "stale")

	var last workspace.Progress
	second, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{
		Progress: func(p workspace.Progress) { last = p },
	})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotEqual(t, first.PreparationID, second.PreparationID)
	assert.Equal(t, 2, last.Processed)
}

func TestRepreparationPicksUpEditedSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)

	_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)

	// Same size, new content.
	source := filepath.Join(e.base, "Data", "INI", "GameData.ini")
	writeFile(t, source, "NEW")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(source, later, later))

	_, err = e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(e.wsRoot, "zh", "Data", "INI", "GameData.ini"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(data))
}

func TestSkipCleanupKeepsForeignFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)

	_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	marker := filepath.Join(e.wsRoot, "zh", "marker.txt")
	writeFile(t, marker, "user file")

	info, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{SkipCleanup: true})
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)
	assert.FileExists(t, marker)

	_, err = e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	assert.NoFileExists(t, marker)
}

func TestMissingSourceIsTolerated(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.base, "Data", "INI", "GameData.ini")))

	info, err := e.mgr.PrepareWorkspace(context.Background(), e.config("zh", workspace.StrategyHybridCopySymlink), manager.PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, info.FileCount)
	require.Len(t, info.Skipped, 1)
}

func TestPrepareCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.mgr.PrepareWorkspace(ctx, e.config("zh", workspace.StrategyFullCopy), manager.PrepareOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, workspace.IsCancellation(err))

	_, err = e.mgr.GetWorkspace(context.Background(), "zh")
	assert.ErrorIs(t, err, workspace.ErrWorkspaceNotFound)
}

func TestPrepareCancelledBetweenFiles(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.mgr.PrepareWorkspace(ctx, e.config("zh", workspace.StrategyFullCopy), manager.PrepareOptions{
		Progress: func(workspace.Progress) { cancel() },
	})
	assert.ErrorIs(t, err, context.Canceled)

	state, _ := e.mgr.State("zh")
	assert.Equal(t, workspace.StateFailed, state)
}

// ============================================================================
// Concurrency
// ============================================================================

// gatedStrategy blocks Prepare for one workspace until released.
type gatedStrategy struct {
	workspace.Strategy
	id      string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStrategy) Prepare(ctx context.Context, plan *workspace.Plan, progress workspace.ProgressFunc) (*workspace.Info, error) {
	if plan.Config.ID == g.id {
		close(g.entered)
		<-g.release
	}
	return g.Strategy.Prepare(ctx, plan, progress)
}

func TestConcurrentPreparationOfSameID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gate := &gatedStrategy{
		Strategy: strategy.NewFullCopy(strategy.Options{}),
		id:       "slow",
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	mgr := manager.New(manager.Options{Strategies: []workspace.Strategy{gate}})

	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = mgr.PrepareWorkspace(ctx, e.config("slow", workspace.StrategyFullCopy), manager.PrepareOptions{})
	}()
	<-gate.entered

	_, err := mgr.PrepareWorkspace(ctx, e.config("slow", workspace.StrategyFullCopy), manager.PrepareOptions{})
	assert.ErrorIs(t, err, workspace.ErrWorkspaceBusy)

	err = mgr.CleanupWorkspace(ctx, "slow")
	assert.ErrorIs(t, err, workspace.ErrWorkspaceBusy)

	// A different ID is not blocked.
	info, err := mgr.PrepareWorkspace(ctx, e.config("fast", workspace.StrategyFullCopy), manager.PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)

	close(gate.release)
	wg.Wait()
	require.NoError(t, slowErr)

	all, err := mgr.GetAllWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fast", all[0].ID)
	assert.Equal(t, "slow", all[1].ID)
}

// ============================================================================
// CAS references and cleanup
// ============================================================================

func TestCASReferencesFollowWorkspaces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfgA := e.config("a", workspace.StrategySymlinkOnly)
	hash := e.withBlob(t, cfgA, "shockwave")
	cfgB := e.config("b", workspace.StrategyFullCopy)
	e.withBlob(t, cfgB, "shockwave")

	_, err := e.mgr.PrepareWorkspace(ctx, cfgA, manager.PrepareOptions{})
	require.NoError(t, err)
	info, err := e.mgr.PrepareWorkspace(ctx, cfgB, manager.PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, info.CASReferences)

	count, err := e.tracker.ReferenceCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "a"))
	count, err = e.tracker.ReferenceCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoDirExists(t, filepath.Join(e.wsRoot, "a"))
	assert.FileExists(t, e.local.Path(hash))

	state, _ := e.mgr.State("a")
	assert.Equal(t, workspace.StateRemoved, state)

	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "b"))
	referenced, err := e.tracker.IsReferenced(ctx, hash)
	require.NoError(t, err)
	assert.False(t, referenced)
}

func TestReferencesDroppedWhenContentLeaves(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyFullCopy)
	hash := e.withBlob(t, cfg, "rotr")

	_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)

	cfg.Manifests = cfg.Manifests[:1]
	_, err = e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)

	count, err := e.tracker.ReferenceCount(ctx, hash)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoFileExists(t, filepath.Join(e.wsRoot, "zh", "Data", "rotr.big"))
}

func TestCleanupUnknownWorkspace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "ghost"))
	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "ghost"))

	// A directory without a record is removed as well.
	orphan := filepath.Join(e.wsRoot, "orphan")
	writeFile(t, filepath.Join(orphan, "file.txt"), "x")
	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "orphan"))
	assert.NoDirExists(t, orphan)

	assert.ErrorIs(t, e.mgr.CleanupWorkspace(ctx, "../escape"), workspace.ErrInvalidConfiguration)
}

func TestCleanupThenPrepareAgain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("zh", workspace.StrategyHardLink)

	_, err := e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	require.NoError(t, e.mgr.CleanupWorkspace(ctx, "zh"))

	all, err := e.mgr.GetAllWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = e.mgr.PrepareWorkspace(ctx, cfg, manager.PrepareOptions{})
	require.NoError(t, err)
	state, _ := e.mgr.State("zh")
	assert.Equal(t, workspace.StateReady, state)
}

// ============================================================================
// Queries
// ============================================================================

func TestGetWorkspaceNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.mgr.GetWorkspace(context.Background(), "missing")
	assert.ErrorIs(t, err, workspace.ErrWorkspaceNotFound)
}

func TestValidateWorkspace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := manager.New(manager.Options{
		Strategies: strategy.All(strategy.Options{}),
		Now:        func() time.Time { return fixed },
	})

	_, err := mgr.PrepareWorkspace(ctx, e.config("zh", workspace.StrategyFullCopy), manager.PrepareOptions{})
	require.NoError(t, err)

	info, err := mgr.ValidateWorkspace(ctx, "zh")
	require.NoError(t, err)
	assert.True(t, info.IsValid)

	require.NoError(t, os.Remove(filepath.Join(e.wsRoot, "zh", "generals.exe")))
	info, err = mgr.ValidateWorkspace(ctx, "zh")
	require.NoError(t, err)
	assert.False(t, info.IsValid)
	assert.Equal(t, fixed, info.UpdatedAt)

	stored, err := mgr.GetWorkspace(ctx, "zh")
	require.NoError(t, err)
	assert.False(t, stored.IsValid)

	_, err = mgr.ValidateWorkspace(ctx, "missing")
	assert.True(t, errors.Is(err, workspace.ErrWorkspaceNotFound))
}
