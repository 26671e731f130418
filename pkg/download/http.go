// Package download implements fileops.Downloader over HTTP.
package download

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/internal/ratelimiter"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/natefinch/atomic"
)

// DefaultTimeout bounds a whole request when Config.Client is not set.
const DefaultTimeout = 30 * time.Minute

// Config configures an HTTPDownloader.
type Config struct {
	// Client performs the requests. Defaults to a client with DefaultTimeout.
	Client *http.Client

	// Hasher verifies DownloadRequest.ExpectedHash. Defaults to SHA-256.
	Hasher fileops.Hasher

	// BytesPerSecond caps the combined throughput of all downloads made by
	// this downloader. Zero means unlimited.
	BytesPerSecond uint
	Burst          uint

	UserAgent string
}

// HTTPDownloader fetches files with GET requests.
//
// The body is streamed into a temporary file next to the destination and
// moved into place atomically once complete (and, when an expected hash is
// given, verified). A failed or cancelled download never leaves a partial
// file at the destination.
//
// Thread Safety:
// Safe for concurrent use; concurrent downloads share the rate limit.
type HTTPDownloader struct {
	client    *http.Client
	hasher    fileops.Hasher
	limiter   *ratelimiter.RateLimiter
	userAgent string
}

// New creates an HTTPDownloader.
func New(cfg Config) *HTTPDownloader {
	d := &HTTPDownloader{
		client:    cfg.Client,
		hasher:    cfg.Hasher,
		limiter:   ratelimiter.New(cfg.BytesPerSecond, cfg.Burst),
		userAgent: cfg.UserAgent,
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: DefaultTimeout}
	}
	if d.hasher == nil {
		d.hasher = fileops.SHA256Hasher{}
	}
	if d.userAgent == "" {
		d.userAgent = "dittows"
	}
	return d
}

// Download fetches req.URL into req.Destination.
//
// HTTP status failures and hash mismatches are reported through an
// unsuccessful DownloadResult. Transport errors and cancellation are
// returned as errors; a cancelled download returns the context error.
func (d *HTTPDownloader) Download(ctx context.Context, req fileops.DownloadRequest, progress fileops.DownloadProgress) (*fileops.DownloadResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid download request %s: %w", req.URL, err)
	}
	httpReq.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &fileops.DownloadResult{ErrorMessage: fmt.Sprintf("unexpected status %s", resp.Status)}, nil
	}

	// ========================================================================
	// Stream into a temporary file
	// ========================================================================

	dir := filepath.Dir(req.Destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sum := d.hasher.New()
	pw := &progressWriter{total: resp.ContentLength, progress: progress}
	dst := d.limiter.Writer(ctx, io.MultiWriter(tmp, sum, pw))

	n, copyErr := io.Copy(dst, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to read %s: %w", req.URL, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write %s: %w", tmpPath, closeErr)
	}

	// ========================================================================
	// Verify and move into place
	// ========================================================================

	if msg := verify(sum, req.ExpectedHash); msg != "" {
		logger.Warn("Download of %s rejected: %s", req.URL, msg)
		return &fileops.DownloadResult{BytesWritten: n, ErrorMessage: msg}, nil
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, fmt.Errorf("failed to set mode of %s: %w", tmpPath, err)
	}
	if err := atomic.ReplaceFile(tmpPath, req.Destination); err != nil {
		return nil, fmt.Errorf("failed to move download into %s: %w", req.Destination, err)
	}

	logger.Debug("Downloaded %s to %s (%s)", req.URL, req.Destination, humanize.IBytes(uint64(n)))
	return &fileops.DownloadResult{Success: true, BytesWritten: n}, nil
}

func verify(sum hash.Hash, expected string) string {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return ""
	}
	actual := hex.EncodeToString(sum.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Sprintf("hash mismatch: expected %s, got %s", expected, actual)
	}
	return ""
}

type progressWriter struct {
	written  int64
	total    int64
	progress fileops.DownloadProgress
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.progress != nil {
		w.progress(w.written, w.total)
	}
	return len(p), nil
}

var _ fileops.Downloader = (*HTTPDownloader)(nil)
