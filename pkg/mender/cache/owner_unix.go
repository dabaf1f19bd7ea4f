//go:build unix

package cache

import "golang.org/x/sys/unix"

// processRunning reports whether pid names a live process.
func processRunning(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
