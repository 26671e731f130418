package fileops

import "errors"

var (
	// ErrSourceNotFound indicates the file to copy or link does not exist.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrNotImplemented indicates the platform has no implementation of the
	// requested capability (hard links, volume probing, ...).
	ErrNotImplemented = errors.New("not implemented on this platform")

	// ErrCrossDevice indicates a hard link was attempted across volumes.
	ErrCrossDevice = errors.New("source and target are on different volumes")

	// ErrDownloadFailed indicates the download collaborator reported failure.
	ErrDownloadFailed = errors.New("download failed")

	// ErrNoDownloader is returned by DownloadFile when no Downloader is configured.
	ErrNoDownloader = errors.New("no downloader configured")
)
