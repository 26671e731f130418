package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittows/pkg/store"
	storetesting "github.com/marmos91/dittows/pkg/store/testing"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSuiteInMemory(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			s, err := New(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestStoreSuiteOnDisk(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			s, err := New(context.Background(), Config{Path: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")

	s, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.PutWorkspace(ctx, &workspace.Info{ID: "zh", FileCount: 2, State: workspace.StateReady}))
	require.NoError(t, s.AddReference(ctx, "aa11", "zh"))
	require.NoError(t, s.Close())

	s, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	info, err := s.GetWorkspace(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)

	refs, err := s.WorkspaceReferences(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11"}, refs)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestDecodeRejectsNewerSchema(t *testing.T) {
	_, err := decodeWorkspace([]byte(`{"version": 99, "info": {"id": "zh"}}`))
	assert.Error(t, err)

	_, err = decodeWorkspace([]byte(`{"version": 1}`))
	assert.Error(t, err)
}
