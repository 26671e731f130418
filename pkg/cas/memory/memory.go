// Package memory implements an in-memory CAS tier.
//
// It serves as the remote tier in tests and single-process setups, and as a
// reference implementation for the conformance suite in pkg/cas/testing.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
)

// Store keeps blobs in a map.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on the way
// in and the way out so callers never share buffers with the store.
type Store struct {
	hasher fileops.Hasher

	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates an empty store. A nil hasher disables content verification.
func New(hasher fileops.Hasher) *Store {
	return &Store{
		hasher: hasher,
		blobs:  make(map[string][]byte),
	}
}

func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *Store) Put(ctx context.Context, hash string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	if s.hasher != nil {
		if actual := fileops.HashBytes(s.hasher, data); actual != hash {
			return fmt.Errorf("blob %s (actual %s): %w", hash, actual, cas.ErrHashMismatch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = data
	}
	return nil
}

func (s *Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.blobs[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (s *Store) Size(ctx context.Context, hash string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return 0, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
	}
	return int64(len(data)), nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, hash)
	return nil
}

// DeleteBatch removes several blobs under one lock.
func (s *Store) DeleteBatch(ctx context.Context, hashes []string) (map[string]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		delete(s.blobs, h)
	}
	return map[string]error{}, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	hashes := make([]string, 0, len(s.blobs))
	for h := range s.blobs {
		hashes = append(hashes, h)
	}
	s.mu.RUnlock()

	sort.Strings(hashes)
	return hashes, nil
}

// TotalBytes returns the sum of all blob sizes.
func (s *Store) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, data := range s.blobs {
		total += int64(len(data))
	}
	return total
}

var _ cas.BlobStore = (*Store)(nil)
var _ cas.BatchDeleter = (*Store)(nil)
