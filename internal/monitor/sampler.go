package monitor

import "time"

// Sampler abstracts the platform metric reads. Exactly one build-tagged
// implementation compiles per target; tests inject a fake to feed synthetic
// load curves.
type Sampler interface {
	// CPUTime returns the process's cumulative user+system CPU time.
	CPUTime() (time.Duration, error)
	// ResidentMemory returns the process working-set size in bytes.
	ResidentMemory() (uint64, error)
	// TotalMemory returns physical memory in bytes.
	TotalMemory() (uint64, error)
}
