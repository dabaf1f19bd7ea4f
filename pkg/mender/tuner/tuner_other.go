//go:build !darwin && !linux

package tuner

import "runtime"

// fallbackRAM is assumed when the platform offers no memory query.
const fallbackRAM = 8 << 30

// Detect reports the core count and a fixed memory estimate.
func Detect() (Resources, error) {
	return Resources{
		CPUCores:     runtime.NumCPU(),
		TotalRAM:     fallbackRAM,
		AvailableRAM: fallbackRAM / 2,
	}, nil
}
