package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ownerFile records the pid of the process holding the store open.
const ownerFile = "owner.pid"

// ErrBusy is returned by Open when another running process holds the store.
var ErrBusy = errors.New("digest cache in use by another process")

// lockHeld reports whether err is badger refusing the directory lock.
func lockHeld(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// busy explains a lock failure. A recorded owner that is still running is
// named; an owner that has exited leaves a stale pid file, which is removed.
func busy(dir string, err error) error {
	pid, ok := readOwner(dir)
	if !ok {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	if !processRunning(pid) {
		logger.Warn("removing stale cache owner", "stale_pid", pid)
		_ = os.Remove(filepath.Join(dir, ownerFile))
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return fmt.Errorf("%w (pid %d)", ErrBusy, pid)
}

func readOwner(dir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writeOwner(dir string) {
	path := filepath.Join(dir, ownerFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		logger.Debug("failed to record cache owner", "error", err)
	}
}

func removeOwner(dir string) {
	if pid, ok := readOwner(dir); ok && pid == os.Getpid() {
		_ = os.Remove(filepath.Join(dir, ownerFile))
	}
}
