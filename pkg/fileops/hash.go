package fileops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash algorithm names accepted by NewHasher.
const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

// Hasher computes content hashes, lowercase hex encoded.
type Hasher interface {
	// Algorithm returns the algorithm name.
	Algorithm() string

	// New returns a fresh streaming hash.
	New() hash.Hash

	// ComputeFileHash hashes the file at path.
	ComputeFileHash(ctx context.Context, path string) (string, error)
}

// NewHasher returns the hasher for the named algorithm. Empty means sha256.
func NewHasher(algorithm string) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", HashSHA256:
		return SHA256Hasher{}, nil
	case HashBLAKE3:
		return Blake3Hasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// SHA256Hasher is the default hasher.
type SHA256Hasher struct{}

func (SHA256Hasher) Algorithm() string { return HashSHA256 }
func (SHA256Hasher) New() hash.Hash    { return sha256.New() }

func (h SHA256Hasher) ComputeFileHash(ctx context.Context, path string) (string, error) {
	return hashFile(ctx, h.New(), path)
}

// Blake3Hasher hashes with BLAKE3-256.
type Blake3Hasher struct{}

func (Blake3Hasher) Algorithm() string { return HashBLAKE3 }
func (Blake3Hasher) New() hash.Hash    { return blake3.New() }

func (h Blake3Hasher) ComputeFileHash(ctx context.Context, path string) (string, error) {
	return hashFile(ctx, h.New(), path)
}

// HashBytes hashes an in-memory buffer.
func HashBytes(h Hasher, data []byte) string {
	sum := h.New()
	sum.Write(data)
	return hex.EncodeToString(sum.Sum(nil))
}

func hashFile(ctx context.Context, sum hash.Hash, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(sum, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// ctxReader fails reads once ctx is done.
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
