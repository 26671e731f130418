//go:build unix

package fileops

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type unixLinker struct{}

// DefaultLinker returns the link implementation for this platform.
func DefaultLinker() Linker {
	return unixLinker{}
}

func (unixLinker) HardLink(target, link string) error {
	err := unix.Link(target, link)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EXDEV):
		return fmt.Errorf("link %s -> %s: %w", link, target, ErrCrossDevice)
	case errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP):
		return fmt.Errorf("link %s -> %s: %w", link, target, ErrNotImplemented)
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("link %s -> %s: %w", link, target, ErrSourceNotFound)
	}
	return fmt.Errorf("link %s -> %s: %w", link, target, err)
}

func (unixLinker) Symlink(target, link string) error {
	if err := unix.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}
