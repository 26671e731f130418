package fileops

import (
	"os"
	"path/filepath"
)

// Linker creates hard and symbolic links. The platform implementation is
// chosen at the composition root with DefaultLinker; tests inject fakes.
type Linker interface {
	// HardLink creates link as a hard link to target. It returns
	// ErrCrossDevice when the two are on different volumes and
	// ErrNotImplemented when the platform or filesystem has no hard links.
	HardLink(target, link string) error

	// Symlink creates link as a symbolic link pointing at target.
	Symlink(target, link string) error
}

// UnsupportedLinker reports ErrNotImplemented for every operation.
type UnsupportedLinker struct{}

func (UnsupportedLinker) HardLink(string, string) error { return ErrNotImplemented }
func (UnsupportedLinker) Symlink(string, string) error  { return ErrNotImplemented }

// CanCreateSymlinks probes whether symlinks can be created in dir.
func CanCreateSymlinks(linker Linker, dir string) bool {
	probeDir, err := os.MkdirTemp(dir, ".symlink-probe-")
	if err != nil {
		return false
	}
	defer os.RemoveAll(probeDir)

	target := filepath.Join(probeDir, "target")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		return false
	}
	return linker.Symlink(target, filepath.Join(probeDir, "link")) == nil
}
