//go:build !unix

package fileops

import (
	"errors"
	"fmt"
	"os"
)

type osLinker struct{}

// DefaultLinker returns the link implementation for this platform.
func DefaultLinker() Linker {
	return osLinker{}
}

func (osLinker) HardLink(target, link string) error {
	if err := os.Link(target, link); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("link %s -> %s: %w", link, target, ErrSourceNotFound)
		}
		return fmt.Errorf("link %s -> %s: %w", link, target, err)
	}
	return nil
}

func (osLinker) Symlink(target, link string) error {
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}
