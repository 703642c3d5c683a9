//go:build !windows

package pager

import (
	"os"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
	"golang.org/x/sys/unix"
)

func busyFromFlock(err error) error {
	if err == unix.EWOULDBLOCK {
		return dberr.Busy
	}
	return dberr.Io(err)
}

// flockExclusive takes an advisory, non-blocking exclusive lock on f,
// returning Busy if another process already holds it.
func flockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return busyFromFlock(err)
	}
	return nil
}

// flockShared takes an advisory, non-blocking shared lock on f.
func flockShared(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return busyFromFlock(err)
	}
	return nil
}

func flockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
