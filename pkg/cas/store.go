// Package cas implements the content-addressable storage layer workspaces
// link against.
//
// Blobs are keyed by the lowercase hex hash of their content. The local
// filesystem tier (pkg/cas/fs) is the source of every link placed into a
// workspace; an optional remote tier (pkg/cas/s3 or pkg/cas/memory) is
// written through on store and pulled into the local tier on resolve.
//
// Reference counting lives in Tracker: a blob referenced by any workspace
// must not be collected.
package cas

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrBlobNotFound indicates no tier holds the requested hash.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrHashMismatch indicates the bytes written do not hash to the key
	// they were stored under.
	ErrHashMismatch = errors.New("blob content does not match its hash")

	// ErrInvalidHash indicates a key that is not a lowercase hex digest.
	ErrInvalidHash = errors.New("invalid blob hash")
)

// BlobStore is a flat hash -> bytes store.
//
// Implementations must be safe for concurrent use. Put is idempotent: storing
// a hash that already exists is a no-op success.
type BlobStore interface {
	// Has reports whether the blob exists.
	Has(ctx context.Context, hash string) (bool, error)

	// Put stores the bytes read from r under hash.
	Put(ctx context.Context, hash string, r io.Reader) error

	// Open returns a reader for the blob. Returns ErrBlobNotFound if absent.
	Open(ctx context.Context, hash string) (io.ReadCloser, error)

	// Size returns the blob size in bytes. Returns ErrBlobNotFound if absent.
	Size(ctx context.Context, hash string) (int64, error)

	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, hash string) error

	// List returns every stored hash.
	List(ctx context.Context) ([]string, error)
}

// LocalBlobStore is a BlobStore whose blobs are files on the local
// filesystem, so they can serve as link and copy sources.
type LocalBlobStore interface {
	BlobStore

	// Path returns the file path of the blob. The file may not exist.
	Path(hash string) string
}

// BatchDeleter is implemented by stores that delete many blobs at once more
// cheaply than one by one. The returned map holds per-hash failures.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, hashes []string) (map[string]error, error)
}

// ValidateHash checks that hash looks like a lowercase hex digest.
func ValidateHash(hash string) error {
	if len(hash) < 8 || len(hash)%2 != 0 {
		return ErrInvalidHash
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalidHash
		}
	}
	return nil
}
