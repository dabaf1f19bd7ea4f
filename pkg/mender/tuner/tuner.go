// Package tuner sizes the hashing worker pool from the detected CPU and
// memory of the machine.
package tuner

// Resources describes the machine the run executes on.
type Resources struct {
	// CPUCores is the number of logical CPUs.
	CPUCores int

	// TotalRAM is physical memory in bytes.
	TotalRAM int64

	// AvailableRAM is an estimate of free memory in bytes.
	AvailableRAM int64
}

// Pool limits.
const (
	minHashWorkers = 2
	maxHashWorkers = 32

	// perWorkerBytes approximates the memory one hashing worker holds:
	// its read buffer plus hash state and bookkeeping.
	perWorkerBytes = 4 << 20

	// memoryFraction caps the share of available memory the pool may use.
	memoryFraction = 0.05
)

// Plan is the tuned hashing configuration.
type Plan struct {
	HashWorkers int
}

// Calculate derives a plan from res.
//
// Hashing alternates between disk reads and CPU work, so two workers per
// core keep both busy. The result is clamped to [2, 32] and further limited
// so the pool's buffers stay within a small fraction of available memory.
func Calculate(res Resources) Plan {
	workers := res.CPUCores * 2

	if res.AvailableRAM > 0 {
		byMemory := int(float64(res.AvailableRAM) * memoryFraction / perWorkerBytes)
		workers = min(workers, byMemory)
	}

	workers = max(workers, minHashWorkers)
	workers = min(workers, maxHashWorkers)
	return Plan{HashWorkers: workers}
}

// CalculateWithOverride returns Calculate(res) unless override is positive,
// in which case override is used, capped at the pool maximum.
func CalculateWithOverride(res Resources, override int) Plan {
	if override > 0 {
		return Plan{HashWorkers: min(override, maxHashWorkers)}
	}
	return Calculate(res)
}
