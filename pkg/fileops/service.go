// Package fileops implements the primitive file operations workspace
// strategies are built from: copy, symlink, hard link, hash verification,
// download-and-place and directory removal.
//
// Platform-specific behavior is injected as capabilities (Linker,
// VolumeProbe, Hasher, Downloader). The composition root picks the platform
// defaults; tests substitute fakes to simulate cross-volume layouts or
// missing symlink privileges.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittows/internal/logger"
)

// DefaultBufferSize is the chunk size of CopyFile. Cancellation is checked
// once per chunk.
const DefaultBufferSize = 1 << 20

// Options configures a Service. Zero values select platform defaults.
type Options struct {
	Linker     Linker
	Hasher     Hasher
	Downloader Downloader
	BufferSize int
}

// Service performs file operations on behalf of the placement strategies.
//
// Thread safety:
// A Service holds no mutable state and is safe for concurrent use.
type Service struct {
	linker     Linker
	hasher     Hasher
	downloader Downloader
	bufSize    int
}

// NewService creates a Service from opts.
func NewService(opts Options) *Service {
	s := &Service{
		linker:     opts.Linker,
		hasher:     opts.Hasher,
		downloader: opts.Downloader,
		bufSize:    opts.BufferSize,
	}
	if s.linker == nil {
		s.linker = DefaultLinker()
	}
	if s.hasher == nil {
		s.hasher = SHA256Hasher{}
	}
	if s.bufSize <= 0 {
		s.bufSize = DefaultBufferSize
	}
	return s
}

// Hasher returns the hasher used for verification.
func (s *Service) Hasher() Hasher {
	return s.hasher
}

// Linker returns the link capability.
func (s *Service) Linker() Linker {
	return s.linker
}

// CopyFile copies src to dst.
//
// The destination's parent directories are created as needed and an
// existing destination is replaced. The data is written to a temporary file
// next to dst and renamed into place, so a destination that is a symlink is
// replaced rather than written through. Permission bits and the
// modification time are preserved.
//
// Returns ErrSourceNotFound if src does not exist, or the context error if
// ctx is cancelled mid-copy (the partial temporary file is removed).
func (s *Service) CopyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("copy %s: %w", src, ErrSourceNotFound)
		}
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if st.IsDir() {
		return fmt.Errorf("copy %s: source is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", dst, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	buf := make([]byte, s.bufSize)
	if _, err := io.CopyBuffer(tmp, &ctxReader{ctx: ctx, r: in}, buf); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := tmp.Chmod(st.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	// Re-preparation compares modification times to detect edited sources.
	if err := os.Chtimes(tmpName, st.ModTime(), st.ModTime()); err != nil {
		return fmt.Errorf("set times on %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	committed = true

	logger.Debug("Copied %s -> %s", src, dst)
	return nil
}

// CreateSymlink creates linkPath as a symbolic link to target.
//
// When the link cannot be created and allowFallback is true, target is
// copied to linkPath instead; the returned bool reports that the fallback
// was taken. With allowFallback false the platform error is returned.
func (s *Service) CreateSymlink(ctx context.Context, linkPath, target string, allowFallback bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(absTarget); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("symlink %s: %w", target, ErrSourceNotFound)
		}
		return false, err
	}

	if err := prepareTarget(linkPath); err != nil {
		return false, err
	}

	linkErr := s.linker.Symlink(absTarget, linkPath)
	if linkErr == nil {
		logger.Debug("Symlinked %s -> %s", linkPath, absTarget)
		return false, nil
	}
	if !allowFallback {
		return false, linkErr
	}

	logger.Debug("Symlink %s failed (%v), copying instead", linkPath, linkErr)
	if err := s.CopyFile(ctx, absTarget, linkPath); err != nil {
		return false, err
	}
	return true, nil
}

// CreateHardLink creates linkPath as a hard link to target.
//
// Returns ErrCrossDevice when target and linkPath are on different volumes
// and ErrNotImplemented when the platform cannot create hard links. The
// caller decides whether to fall back to copying.
func (s *Service) CreateHardLink(ctx context.Context, linkPath, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("hard link %s: %w", target, ErrSourceNotFound)
		}
		return err
	}
	if err := prepareTarget(linkPath); err != nil {
		return err
	}
	if err := s.linker.HardLink(target, linkPath); err != nil {
		return err
	}
	logger.Debug("Hard linked %s -> %s", linkPath, target)
	return nil
}

// VerifyFileHash reports whether the file at path hashes to expected.
// Comparison is case-insensitive. Missing files, read errors and
// mismatches all report false.
func (s *Service) VerifyFileHash(ctx context.Context, path, expected string) bool {
	actual, err := s.hasher.ComputeFileHash(ctx, path)
	if err != nil {
		logger.Debug("Hash of %s unavailable: %v", path, err)
		return false
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		logger.Debug("Hash mismatch for %s: expected %s, got %s", path, expected, actual)
		return false
	}
	return true
}

// DownloadFile fetches url into destination through the configured
// Downloader. An unsuccessful result is reported as ErrDownloadFailed.
func (s *Service) DownloadFile(ctx context.Context, url, destination, expectedHash string, progress DownloadProgress) (int64, error) {
	if s.downloader == nil {
		return 0, ErrNoDownloader
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", destination, err)
	}

	res, err := s.downloader.Download(ctx, DownloadRequest{
		URL:          url,
		Destination:  destination,
		ExpectedHash: expectedHash,
	}, progress)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDownloadFailed, url, err)
	}
	if res == nil || !res.Success {
		msg := "unknown error"
		if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		return 0, fmt.Errorf("%w: %s: %s", ErrDownloadFailed, url, msg)
	}
	return res.BytesWritten, nil
}

// DeleteDirectoryIfExists removes path recursively. A missing path is not an error.
func (s *Service) DeleteDirectoryIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// SetExecutable adds execute permission for everyone who may read the file.
func (s *Service) SetExecutable(path string) error {
	return os.Chmod(path, 0o755)
}

// prepareTarget creates the parent of path and removes anything already at
// path so a link can take its place.
func prepareTarget(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing %s: %w", path, err)
	}
	return nil
}
