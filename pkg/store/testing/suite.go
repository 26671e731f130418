package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the store.Store contract against an implementation.
//
// Usage:
//
//	func TestStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store {
//	            return memory.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store. The suite closes it.
	NewStore func(t *testing.T) store.Store
}

// Run executes every test in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WorkspaceRoundTrip", suite.testWorkspaceRoundTrip)
	t.Run("WorkspaceNotFound", suite.testWorkspaceNotFound)
	t.Run("WorkspaceReplace", suite.testWorkspaceReplace)
	t.Run("WorkspaceList", suite.testWorkspaceList)
	t.Run("WorkspaceInvalidID", suite.testWorkspaceInvalidID)
	t.Run("ReferenceCounting", suite.testReferenceCounting)
	t.Run("ReferenceIdempotent", suite.testReferenceIdempotent)
	t.Run("RemoveWorkspaceReferences", suite.testRemoveWorkspaceReferences)
	t.Run("ReferencedHashes", suite.testReferencedHashes)
	t.Run("ConcurrentReferences", suite.testConcurrentReferences)
}

func (suite *StoreTestSuite) open(t *testing.T) store.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleInfo(id string) *workspace.Info {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return &workspace.Info{
		ID:             id,
		WorkspacePath:  "/workspaces/" + id,
		ExecutablePath: "/workspaces/" + id + "/generals.exe",
		Strategy:       workspace.StrategyHybridCopySymlink,
		FileCount:      3,
		TotalSizeBytes: 4096,
		CreatedAt:      created,
		UpdatedAt:      created.Add(time.Minute),
		IsValid:        true,
		State:          workspace.StateReady,
		ManifestIDs:    []string{"1.0.steam.gameinstallation.zerohour"},
		CASReferences:  []string{"aa11", "bb22"},
		Skipped:        []workspace.SkippedFile{{RelativePath: "x.big", Reason: "source file missing"}},
		Conflicts:      1,
		PreparationID:  "0b0e6a63-7a44-4c4f-9d0c-6d1f1b2d0a11",
	}
}

func (suite *StoreTestSuite) testWorkspaceRoundTrip(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	in := sampleInfo("zh-shockwave")
	require.NoError(t, s.PutWorkspace(ctx, in))

	out, err := s.GetWorkspace(ctx, "zh-shockwave")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Strategy, out.Strategy)
	assert.Equal(t, in.FileCount, out.FileCount)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.CASReferences, out.CASReferences)
	assert.Equal(t, in.Skipped, out.Skipped)
	assert.Equal(t, in.State, out.State)

	// Mutating the returned value does not affect the store.
	out.FileCount = 99
	again, err := s.GetWorkspace(ctx, "zh-shockwave")
	require.NoError(t, err)
	assert.Equal(t, 3, again.FileCount)
}

func (suite *StoreTestSuite) testWorkspaceNotFound(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	_, err := s.GetWorkspace(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteWorkspace(ctx, "missing"))
}

func (suite *StoreTestSuite) testWorkspaceReplace(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	require.NoError(t, s.PutWorkspace(ctx, sampleInfo("ws")))
	updated := sampleInfo("ws")
	updated.FileCount = 7
	require.NoError(t, s.PutWorkspace(ctx, updated))

	out, err := s.GetWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 7, out.FileCount)

	require.NoError(t, s.DeleteWorkspace(ctx, "ws"))
	_, err = s.GetWorkspace(ctx, "ws")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testWorkspaceList(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	list, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.PutWorkspace(ctx, sampleInfo(id)))
	}

	list, err = s.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
}

func (suite *StoreTestSuite) testWorkspaceInvalidID(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	for _, id := range []string{"", "..", "a/b", "a:b"} {
		err := s.PutWorkspace(ctx, sampleInfo(id))
		assert.ErrorIs(t, err, store.ErrInvalidKey, "id %q", id)
	}
}

func (suite *StoreTestSuite) testReferenceCounting(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	require.NoError(t, s.AddReference(ctx, "aa11", "ws1"))
	require.NoError(t, s.AddReference(ctx, "aa11", "ws2"))
	require.NoError(t, s.AddReference(ctx, "bb22", "ws1"))

	n, err := s.ReferenceCount(ctx, "aa11")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.RemoveReference(ctx, "aa11", "ws1"))
	n, err = s.ReferenceCount(ctx, "aa11")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Removing an absent pair is not an error.
	require.NoError(t, s.RemoveReference(ctx, "aa11", "ws1"))

	refs, err := s.WorkspaceReferences(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bb22"}, refs)

	n, err = s.ReferenceCount(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (suite *StoreTestSuite) testReferenceIdempotent(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddReference(ctx, "aa11", "ws1"))
	}
	n, err := s.ReferenceCount(ctx, "aa11")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (suite *StoreTestSuite) testRemoveWorkspaceReferences(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	require.NoError(t, s.AddReference(ctx, "bb22", "ws1"))
	require.NoError(t, s.AddReference(ctx, "aa11", "ws1"))
	require.NoError(t, s.AddReference(ctx, "aa11", "ws10"))

	removed, err := s.RemoveWorkspaceReferences(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11", "bb22"}, removed)

	// ws10 shares a prefix with ws1 and must be untouched.
	refs, err := s.WorkspaceReferences(ctx, "ws10")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11"}, refs)

	n, err := s.ReferenceCount(ctx, "bb22")
	require.NoError(t, err)
	assert.Zero(t, n)

	removed, err = s.RemoveWorkspaceReferences(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func (suite *StoreTestSuite) testReferencedHashes(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	require.NoError(t, s.AddReference(ctx, "cc33", "ws1"))
	require.NoError(t, s.AddReference(ctx, "aa11", "ws1"))
	require.NoError(t, s.AddReference(ctx, "aa11", "ws2"))

	hashes, err := s.ReferencedHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11", "cc33"}, hashes)
}

func (suite *StoreTestSuite) testConcurrentReferences(t *testing.T) {
	s := suite.open(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AddReference(ctx, "aa11", fmt.Sprintf("ws%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := s.ReferenceCount(ctx, "aa11")
	require.NoError(t, err)
	assert.Equal(t, workers, n)
}
