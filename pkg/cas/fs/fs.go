// Package fs implements the local filesystem CAS tier.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
)

// Store keeps blobs as files under a root directory:
//
//	<root>/objects/<first two hex chars>/<hash>
//	<root>/tmp/                               in-flight writes
//
// Blobs are written to tmp/ and renamed into objects/ once complete (and,
// when a hasher is configured, verified), so a blob path either holds the
// full content or does not exist.
//
// Thread Safety:
// Concurrent Puts of the same hash race on the final rename, which is
// atomic; both writers produce identical bytes, so the loser's rename
// simply replaces an identical file.
type Store struct {
	root   string
	hasher fileops.Hasher
}

// New creates the store directories under root.
//
// Parameters:
//   - root: base directory, created with 0755 if missing
//   - hasher: used to verify content on Put; nil disables verification
//
// Returns:
//   - *Store: ready to use
//   - error: if the directories cannot be created
func New(root string, hasher fileops.Hasher) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create CAS directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, hasher: hasher}, nil
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file path of a blob.
func (s *Store) Path(hash string) string {
	prefix := hash
	if len(hash) >= 2 {
		prefix = hash[:2]
	}
	return filepath.Join(s.root, "objects", prefix, hash)
}

func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return false, err
	}

	_, err := os.Stat(s.Path(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", hash, err)
}

// Put stores the content of r under hash.
//
// Context Cancellation:
// The context is checked before the write and between chunks; a cancelled
// write leaves no trace in objects/.
func (s *Store) Put(ctx context.Context, hash string, r io.Reader) error {
	// ========================================================================
	// Step 1: Validate and short-circuit existing blobs
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return err
	}

	final := s.Path(hash)
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	// ========================================================================
	// Step 2: Stream into a temporary file, hashing as we go
	// ========================================================================

	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), hash+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var w io.Writer = tmp
	var sum interface{ Sum([]byte) []byte }
	if s.hasher != nil {
		h := s.hasher.New()
		sum = h
		w = io.MultiWriter(tmp, h)
	}

	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", hash, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", hash, err)
	}

	// ========================================================================
	// Step 3: Verify and move into place
	// ========================================================================

	if sum != nil {
		if actual := hex.EncodeToString(sum.Sum(nil)); actual != hash {
			return fmt.Errorf("blob %s (actual %s): %w", hash, actual, cas.ErrHashMismatch)
		}
	}

	// Blobs are shared between workspaces through hard links; they must
	// never be modified in place.
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return fmt.Errorf("failed to protect blob %s: %w", hash, err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", hash, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return f, nil
}

func (s *Store) Size(ctx context.Context, hash string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return 0, err
	}

	st, err := os.Stat(s.Path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("failed to stat blob %s: %w", hash, err)
	}
	return st.Size(), nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return err
	}

	if err := os.Remove(s.Path(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", hash, err)
	}
	return nil
}

// DeleteBatch deletes several blobs, collecting per-hash failures.
func (s *Store) DeleteBatch(ctx context.Context, hashes []string) (map[string]error, error) {
	failures := make(map[string]error)
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		if err := s.Delete(ctx, h); err != nil {
			failures[h] = err
		}
	}
	return failures, nil
}

// List walks objects/ and returns every blob hash, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var hashes []string

	err := filepath.WalkDir(filepath.Join(s.root, "objects"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || cas.ValidateHash(name) != nil {
			return nil
		}
		hashes = append(hashes, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	sort.Strings(hashes)
	return hashes, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ cas.LocalBlobStore = (*Store)(nil)
var _ cas.BatchDeleter = (*Store)(nil)
