package fileops

import (
	"os"
	"path/filepath"
)

// VolumeProbe answers questions about the volumes paths live on.
type VolumeProbe interface {
	// SameVolume reports whether a and b are on the same volume. Paths that
	// do not exist yet are resolved through their nearest existing ancestor.
	SameVolume(a, b string) (bool, error)

	// FreeSpace returns the bytes available to unprivileged users on the
	// volume holding path.
	FreeSpace(path string) (uint64, error)
}

// UnsupportedVolumeProbe reports ErrNotImplemented for every question.
type UnsupportedVolumeProbe struct{}

func (UnsupportedVolumeProbe) SameVolume(string, string) (bool, error) {
	return false, ErrNotImplemented
}

func (UnsupportedVolumeProbe) FreeSpace(string) (uint64, error) {
	return 0, ErrNotImplemented
}

// existingAncestor walks up from path until it finds something that exists.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Lstat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p, nil
		}
		p = parent
	}
}
