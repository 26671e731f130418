package cas_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittows/pkg/cas"
	casfs "github.com/marmos91/dittows/pkg/cas/fs"
	casmemory "github.com/marmos91/dittows/pkg/cas/memory"
	"github.com/marmos91/dittows/pkg/fileops"
	storememory "github.com/marmos91/dittows/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, withRemote bool) (*cas.Service, *casmemory.Store) {
	t.Helper()
	local, err := casfs.New(t.TempDir(), fileops.SHA256Hasher{})
	require.NoError(t, err)

	var remote *casmemory.Store
	var remoteStore cas.BlobStore
	if withRemote {
		remote = casmemory.New(fileops.SHA256Hasher{})
		remoteStore = remote
	}
	svc, err := cas.NewService(local, remoteStore, fileops.SHA256Hasher{})
	require.NoError(t, err)
	return svc, remote
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.big")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStoreAndResolve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, false)

	hash, err := svc.StoreContent(ctx, writeTemp(t, "INIZH.big contents"))
	require.NoError(t, err)
	assert.Equal(t, fileops.HashBytes(fileops.SHA256Hasher{}, []byte("INIZH.big contents")), hash)

	path, err := svc.ResolvePath(ctx, hash)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "INIZH.big contents", string(data))

	ok, err := svc.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveMissing(t *testing.T) {
	svc, _ := newService(t, true)

	_, err := svc.ResolvePath(context.Background(), "deadbeefdeadbeef")
	assert.ErrorIs(t, err, cas.ErrBlobNotFound)

	_, err = svc.ResolvePath(context.Background(), "NOT-HEX")
	assert.ErrorIs(t, err, cas.ErrInvalidHash)
}

func TestStoreWritesThroughToRemote(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t, true)

	hash, err := svc.StoreContent(ctx, writeTemp(t, "remote copy"))
	require.NoError(t, err)

	ok, err := remote.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolvePullsFromRemote(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t, true)

	data := []byte("only on the remote tier")
	hash := fileops.HashBytes(fileops.SHA256Hasher{}, data)
	require.NoError(t, remote.Put(ctx, hash, bytes.NewReader(data)))

	ok, err := svc.Local().Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	path, err := svc.ResolvePath(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, svc.Local().Path(hash), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestNewServiceRequiresLocal(t *testing.T) {
	_, err := cas.NewService(nil, nil, nil)
	assert.Error(t, err)
}

func TestTrackerCounts(t *testing.T) {
	ctx := context.Background()
	tr := cas.NewTracker(storememory.New())

	require.NoError(t, tr.AddReference(ctx, "aa11bb22", "ws1"))
	require.NoError(t, tr.AddReference(ctx, "aa11bb22", "ws1"))
	require.NoError(t, tr.AddReference(ctx, "aa11bb22", "ws2"))

	n, err := tr.ReferenceCount(ctx, "aa11bb22")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	released, err := tr.ReleaseWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11bb22"}, released)

	ok, err := tr.IsReferenced(ctx, "aa11bb22")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.RemoveReference(ctx, "aa11bb22", "ws2"))
	ok, err = tr.IsReferenced(ctx, "aa11bb22")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackerRetainOnly(t *testing.T) {
	ctx := context.Background()
	tr := cas.NewTracker(storememory.New())

	for _, h := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"} {
		require.NoError(t, tr.AddReference(ctx, h, "ws"))
	}
	require.NoError(t, tr.AddReference(ctx, "aaaaaaaa", "other"))

	released, err := tr.RetainOnly(ctx, "ws", []string{"bbbbbbbb", "dddddddd"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaaaaaaa", "cccccccc"}, released)

	hashes, err := tr.WorkspaceHashes(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"bbbbbbbb", "dddddddd"}, hashes)

	all, err := tr.ReferencedHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaaaaaa", "bbbbbbbb", "dddddddd"}, all)
}
