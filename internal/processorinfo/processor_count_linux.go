//go:build linux

// Package processorinfo reports the number of logical pcpus available
// to the scheduler core, the first fact internal/topology needs before
// it can size the cell and NUMA-node tables.
package processorinfo

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// ProcessorCount returns the number of logical processors the
// scheduling affinity mask actually permits, falling back to
// runtime.NumCPU if the affinity query fails (e.g. non-Linux, or a
// sandboxed environment without CAP_SYS_NICE).
func ProcessorCount() int32 {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return int32(n)
		}
	}
	return int32(runtime.NumCPU())
}
