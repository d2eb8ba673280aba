//go:build !linux

package processorinfo

import "runtime"

// ProcessorCount falls back to runtime.NumCPU on non-Linux platforms,
// where the scheduling-affinity query this package prefers is
// unavailable.
func ProcessorCount() int32 {
	return int32(runtime.NumCPU())
}
