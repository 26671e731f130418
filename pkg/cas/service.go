package cas

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/fileops"
)

// Service stores files in the CAS and resolves hashes to local paths.
//
// The local tier is authoritative for placement: every path ResolvePath
// returns lives in it. The optional remote tier is written through by
// StoreContent and consulted by ResolvePath when the local tier misses.
type Service struct {
	local  LocalBlobStore
	remote BlobStore
	hasher fileops.Hasher
}

// NewService creates a CAS service. remote may be nil.
func NewService(local LocalBlobStore, remote BlobStore, hasher fileops.Hasher) (*Service, error) {
	if local == nil {
		return nil, fmt.Errorf("local blob store is required")
	}
	if hasher == nil {
		hasher = fileops.SHA256Hasher{}
	}
	return &Service{local: local, remote: remote, hasher: hasher}, nil
}

// Local returns the local blob store.
func (s *Service) Local() LocalBlobStore {
	return s.local
}

// Remote returns the remote blob store, or nil.
func (s *Service) Remote() BlobStore {
	return s.remote
}

// Hasher returns the hash algorithm blobs are keyed by.
func (s *Service) Hasher() fileops.Hasher {
	return s.hasher
}

// StoreContent hashes the file at path, stores it in the local tier and,
// when configured, the remote tier. Returns the content hash.
func (s *Service) StoreContent(ctx context.Context, path string) (string, error) {
	hash, err := s.hasher.ComputeFileHash(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	if err := s.putFile(ctx, s.local, hash, path); err != nil {
		return "", fmt.Errorf("failed to store %s locally: %w", path, err)
	}

	if s.remote != nil {
		exists, err := s.remote.Has(ctx, hash)
		if err != nil {
			return "", fmt.Errorf("failed to check remote blob %s: %w", hash, err)
		}
		if !exists {
			if err := s.putFile(ctx, s.remote, hash, s.local.Path(hash)); err != nil {
				return "", fmt.Errorf("failed to store %s remotely: %w", path, err)
			}
		}
	}

	logger.Debug("CAS stored %s as %s", path, hash)
	return hash, nil
}

func (s *Service) putFile(ctx context.Context, dst BlobStore, hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return dst.Put(ctx, hash, f)
}

// ResolvePath returns the local file path holding the blob for hash,
// pulling it from the remote tier if needed.
//
// Returns ErrBlobNotFound when no tier has the blob.
func (s *Service) ResolvePath(ctx context.Context, hash string) (string, error) {
	if err := ValidateHash(hash); err != nil {
		return "", fmt.Errorf("resolve %q: %w", hash, err)
	}

	exists, err := s.local.Has(ctx, hash)
	if err != nil {
		return "", err
	}
	if exists {
		return s.local.Path(hash), nil
	}

	if s.remote == nil {
		return "", fmt.Errorf("blob %s: %w", hash, ErrBlobNotFound)
	}

	rc, err := s.remote.Open(ctx, hash)
	if errors.Is(err, ErrBlobNotFound) {
		return "", fmt.Errorf("blob %s: %w", hash, ErrBlobNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open remote blob %s: %w", hash, err)
	}
	defer rc.Close()

	if err := s.local.Put(ctx, hash, rc); err != nil {
		return "", fmt.Errorf("failed to pull blob %s: %w", hash, err)
	}

	if size, err := s.local.Size(ctx, hash); err == nil {
		logger.Debug("CAS pulled %s from remote (%s)", hash, humanize.IBytes(uint64(size)))
	}
	return s.local.Path(hash), nil
}

// Has reports whether any tier holds the blob.
func (s *Service) Has(ctx context.Context, hash string) (bool, error) {
	exists, err := s.local.Has(ctx, hash)
	if err != nil || exists || s.remote == nil {
		return exists, err
	}
	return s.remote.Has(ctx, hash)
}
