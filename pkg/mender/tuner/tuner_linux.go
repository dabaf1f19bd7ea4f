//go:build linux

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads core count from the runtime and memory from sysinfo(2).
func Detect() (Resources, error) {
	res := Resources{CPUCores: runtime.NumCPU()}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return res, fmt.Errorf("sysinfo: %w", err)
	}
	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	res.TotalRAM = int64(info.Totalram) * unit
	res.AvailableRAM = (int64(info.Freeram) + int64(info.Bufferram)) * unit
	if res.AvailableRAM > res.TotalRAM {
		res.AvailableRAM = res.TotalRAM
	}
	return res, nil
}
