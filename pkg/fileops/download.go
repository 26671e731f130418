package fileops

import "context"

// DownloadRequest describes one file to fetch.
type DownloadRequest struct {
	URL         string
	Destination string

	// ExpectedHash, when set, is verified by the downloader before the
	// file is moved into place.
	ExpectedHash string
}

// DownloadResult reports the outcome of a download.
type DownloadResult struct {
	Success      bool
	ErrorMessage string
	BytesWritten int64
}

// DownloadProgress is reported while bytes arrive. Total is -1 when the
// size is unknown.
type DownloadProgress func(written, total int64)

// Downloader fetches remote files. The HTTP implementation lives in
// pkg/download.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest, progress DownloadProgress) (*DownloadResult, error)
}
