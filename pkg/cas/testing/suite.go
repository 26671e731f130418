package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BlobStoreTestSuite checks the BlobStore contract. It is run against every
// backend (filesystem, memory, S3 with a fake client).
//
// Usage:
//
//	func TestStore(t *testing.T) {
//	    suite := &castesting.BlobStoreTestSuite{
//	        NewStore: func(t *testing.T) cas.BlobStore {
//	            s, err := fs.New(t.TempDir(), fileops.SHA256Hasher{})
//	            require.NoError(t, err)
//	            return s
//	        },
//	        Hasher:          fileops.SHA256Hasher{},
//	        VerifiesContent: true,
//	    }
//	    suite.Run(t)
//	}
type BlobStoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test.
	NewStore func(t *testing.T) cas.BlobStore

	// Hasher computes the keys blobs are stored under.
	Hasher fileops.Hasher

	// VerifiesContent is set when the store rejects bytes that do not match
	// their key.
	VerifiesContent bool
}

// Run executes every test in the suite.
func (suite *BlobStoreTestSuite) Run(t *testing.T) {
	t.Run("PutAndOpen", suite.testPutAndOpen)
	t.Run("PutIdempotent", suite.testPutIdempotent)
	t.Run("EmptyBlob", suite.testEmptyBlob)
	t.Run("NotFound", suite.testNotFound)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
	t.Run("InvalidHash", suite.testInvalidHash)
	t.Run("HashMismatch", suite.testHashMismatch)
	t.Run("BatchDelete", suite.testBatchDelete)
	t.Run("ConcurrentPut", suite.testConcurrentPut)
	t.Run("Cancelled", suite.testCancelled)
}

func (suite *BlobStoreTestSuite) hash(data []byte) string {
	return fileops.HashBytes(suite.Hasher, data)
}

func (suite *BlobStoreTestSuite) put(t *testing.T, s cas.BlobStore, data []byte) string {
	t.Helper()
	h := suite.hash(data)
	require.NoError(t, s.Put(context.Background(), h, bytes.NewReader(data)))
	return h
}

func readAll(t *testing.T, s cas.BlobStore, hash string) []byte {
	t.Helper()
	rc, err := s.Open(context.Background(), hash)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func (suite *BlobStoreTestSuite) testPutAndOpen(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	data := []byte("Data/INI/GameData.ini contents")

	h := suite.put(t, s, data)

	ok, err := s.Has(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, data, readAll(t, s, h))

	size, err := s.Size(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func (suite *BlobStoreTestSuite) testPutIdempotent(t *testing.T) {
	s := suite.NewStore(t)
	data := []byte("same bytes")

	h1 := suite.put(t, s, data)
	h2 := suite.put(t, s, data)
	assert.Equal(t, h1, h2)

	hashes, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{h1}, hashes)
}

func (suite *BlobStoreTestSuite) testEmptyBlob(t *testing.T) {
	s := suite.NewStore(t)
	h := suite.put(t, s, []byte{})
	assert.Empty(t, readAll(t, s, h))
}

func (suite *BlobStoreTestSuite) testNotFound(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	h := suite.hash([]byte("never stored"))

	ok, err := s.Has(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, h)
	assert.ErrorIs(t, err, cas.ErrBlobNotFound)

	_, err = s.Size(ctx, h)
	assert.ErrorIs(t, err, cas.ErrBlobNotFound)
}

func (suite *BlobStoreTestSuite) testDelete(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	h := suite.put(t, s, []byte("to delete"))

	require.NoError(t, s.Delete(ctx, h))
	ok, err := s.Has(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, h))
}

func (suite *BlobStoreTestSuite) testList(t *testing.T) {
	s := suite.NewStore(t)

	hashes, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hashes)

	want := []string{
		suite.put(t, s, []byte("a")),
		suite.put(t, s, []byte("b")),
		suite.put(t, s, []byte("c")),
	}

	hashes, err = s.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, want, hashes)
}

func (suite *BlobStoreTestSuite) testInvalidHash(t *testing.T) {
	s := suite.NewStore(t)
	err := s.Put(context.Background(), "../../etc/passwd", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, cas.ErrInvalidHash)
}

func (suite *BlobStoreTestSuite) testHashMismatch(t *testing.T) {
	if !suite.VerifiesContent {
		t.Skip("store does not verify content")
	}
	s := suite.NewStore(t)
	ctx := context.Background()
	h := suite.hash([]byte("expected"))

	err := s.Put(ctx, h, bytes.NewReader([]byte("tampered")))
	assert.ErrorIs(t, err, cas.ErrHashMismatch)

	ok, err := s.Has(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *BlobStoreTestSuite) testBatchDelete(t *testing.T) {
	s := suite.NewStore(t)
	bd, ok := s.(cas.BatchDeleter)
	if !ok {
		t.Skip("store does not implement BatchDeleter")
	}

	a := suite.put(t, s, []byte("a"))
	b := suite.put(t, s, []byte("b"))
	keep := suite.put(t, s, []byte("keep"))

	failures, err := bd.DeleteBatch(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Empty(t, failures)

	hashes, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, hashes)
}

func (suite *BlobStoreTestSuite) testConcurrentPut(t *testing.T) {
	s := suite.NewStore(t)
	data := bytes.Repeat([]byte("zh"), 4096)
	h := suite.hash(data)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Put(context.Background(), h, bytes.NewReader(data))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, data, readAll(t, s, h))
}

func (suite *BlobStoreTestSuite) testCancelled(t *testing.T) {
	s := suite.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Put(ctx, suite.hash([]byte("x")), bytes.NewReader([]byte("x")))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
