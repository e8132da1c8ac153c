//go:build windows

package monitor

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// platformSampler uses GetProcessTimes, GetProcessMemoryInfo, and
// GlobalMemoryStatusEx on the current process handle.
type platformSampler struct{}

func NewPlatformSampler() Sampler {
	return &platformSampler{}
}

func (s *platformSampler) CPUTime() (time.Duration, error) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.CurrentProcess(), &creation, &exit, &kernel, &user); err != nil {
		return 0, fmt.Errorf("GetProcessTimes: %w", err)
	}
	// Filetime counts 100ns units.
	k := time.Duration(kernel.Nanoseconds())
	u := time.Duration(user.Nanoseconds())
	return k + u, nil
}

func (s *platformSampler) ResidentMemory() (uint64, error) {
	var pmc windows.PROCESS_MEMORY_COUNTERS
	if err := windows.GetProcessMemoryInfo(windows.CurrentProcess(), &pmc, uint32(unsafe.Sizeof(pmc))); err != nil {
		return 0, fmt.Errorf("GetProcessMemoryInfo: %w", err)
	}
	return uint64(pmc.WorkingSetSize), nil
}

func (s *platformSampler) TotalMemory() (uint64, error) {
	var ms windows.MemoryStatusEx
	ms.Length = uint32(unsafe.Sizeof(ms))
	if err := windows.GlobalMemoryStatusEx(&ms); err != nil {
		return 0, fmt.Errorf("GlobalMemoryStatusEx: %w", err)
	}
	return ms.TotalPhys, nil
}
