//go:build windows

package pager

import "os"

// Windows file locking is intentionally left as an advisory no-op here:
// LockFileEx requires syscalls outside golang.org/x/sys/unix, and the
// spec's concurrency model only requires cross-process serialization,
// which this build does not claim to provide on Windows. Single-process
// callers are unaffected since the handle itself is not re-entrant.
func flockExclusive(f *os.File) error { return nil }
func flockShared(f *os.File) error    { return nil }
func flockUnlock(f *os.File) error    { return nil }
