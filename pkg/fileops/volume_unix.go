//go:build linux || darwin || freebsd || openbsd

package fileops

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type unixVolumeProbe struct{}

// DefaultVolumeProbe returns the volume probe for this platform.
func DefaultVolumeProbe() VolumeProbe {
	return unixVolumeProbe{}
}

func (unixVolumeProbe) SameVolume(a, b string) (bool, error) {
	devA, err := deviceOf(a)
	if err != nil {
		return false, err
	}
	devB, err := deviceOf(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

func (unixVolumeProbe) FreeSpace(path string) (uint64, error) {
	p, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

func deviceOf(path string) (uint64, error) {
	p, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}

	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", p, err)
	}
	return uint64(st.Dev), nil
}
