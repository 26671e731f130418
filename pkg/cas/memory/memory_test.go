package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/dittows/pkg/cas"
	castesting "github.com/marmos91/dittows/pkg/cas/testing"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSuite(t *testing.T) {
	suite := &castesting.BlobStoreTestSuite{
		NewStore: func(t *testing.T) cas.BlobStore {
			return New(fileops.SHA256Hasher{})
		},
		Hasher:          fileops.SHA256Hasher{},
		VerifiesContent: true,
	}
	suite.Run(t)
}

func TestTotalBytes(t *testing.T) {
	s := New(nil)
	h := fileops.SHA256Hasher{}

	for _, data := range [][]byte{[]byte("abc"), []byte("defgh")} {
		require.NoError(t, s.Put(context.Background(), fileops.HashBytes(h, data), bytes.NewReader(data)))
	}
	assert.Equal(t, int64(8), s.TotalBytes())
}
