//go:build darwin

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads core count from the runtime and physical memory from sysctl.
// macOS exposes no cheap free-memory figure, so half of physical memory is assumed available.
func Detect() (Resources, error) {
	res := Resources{CPUCores: runtime.NumCPU()}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return res, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	res.TotalRAM = int64(memsize)
	res.AvailableRAM = res.TotalRAM / 2
	return res, nil
}
