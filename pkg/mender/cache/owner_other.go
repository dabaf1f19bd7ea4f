//go:build !unix

package cache

// processRunning reports whether pid names a live process. There is no
// signal-0 liveness check here, so a recorded owner is always treated as live.
func processRunning(int) bool {
	return true
}
