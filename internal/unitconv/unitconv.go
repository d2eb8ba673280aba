// Package unitconv implements the explicit share-unit conversions spec
// §6 requires ("Both CPU and memory express allocations in one of
// {percent, mhz, mb, pages, bshares}; conversions are explicit through
// BaseSharesToUnits") and bridges the internal bshares/byte
// representation to the OCI runtime-spec and cgroup v2 resource types a
// real collaborator (the memory-reclamation and CPU-limit enforcement
// paths) would actually consume.
package unitconv

import (
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/vmkern/coresched/internal/grouptree"
	"github.com/vmkern/coresched/internal/schederr"
)

// BShareBase is the number of base shares ("bshares") representing one
// fully-reserved physical CPU, matching the 0-10000 basis-point scale
// the teacher's job-object CPU rate control used for CPULimitMin/Max.
const BShareBase = 10000

// Topology supplies the machine facts needed to convert between
// abstract bshares and absolute units (mhz, mb, pages).
type Topology struct {
	CPUMHzPerPCPU uint64
	PageSizeBytes uint64
}

// DefaultTopology assumes a 2.8GHz pcpu and 4KiB pages, used where a
// caller has not yet bootstrapped real topology (internal/topology).
func DefaultTopology() Topology {
	return Topology{CPUMHzPerPCPU: 2800, PageSizeBytes: 4096}
}

// BaseSharesToUnits converts a CPU bshares value into the requested
// unit. bshares and percent are both on the 0..BShareBase scale;
// unit==UnitBShares is the identity conversion.
func (t Topology) BaseSharesToUnits(bshares uint64, unit grouptree.ShareUnit) (uint64, error) {
	switch unit {
	case grouptree.UnitBShares:
		return bshares, nil
	case grouptree.UnitPercent:
		return bshares, nil // same 0..10000 basis-point scale
	case grouptree.UnitMHz:
		return bshares * t.CPUMHzPerPCPU / BShareBase, nil
	default:
		return 0, schederr.ErrInvalidArgument
	}
}

// UnitsToBaseShares is BaseSharesToUnits's inverse for CPU units.
func (t Topology) UnitsToBaseShares(value uint64, unit grouptree.ShareUnit) (uint64, error) {
	switch unit {
	case grouptree.UnitBShares, grouptree.UnitPercent:
		return value, nil
	case grouptree.UnitMHz:
		if t.CPUMHzPerPCPU == 0 {
			return 0, schederr.ErrInvalidArgument
		}
		return value * BShareBase / t.CPUMHzPerPCPU, nil
	default:
		return 0, schederr.ErrInvalidArgument
	}
}

// BytesToUnits converts a memory byte count into mb or pages.
func (t Topology) BytesToUnits(bytes uint64, unit grouptree.ShareUnit) (uint64, error) {
	switch unit {
	case grouptree.UnitMB:
		return bytes / (1024 * 1024), nil
	case grouptree.UnitPages:
		if t.PageSizeBytes == 0 {
			return 0, schederr.ErrInvalidArgument
		}
		return bytes / t.PageSizeBytes, nil
	default:
		return 0, schederr.ErrInvalidArgument
	}
}

// UnitsToBytes is BytesToUnits's inverse.
func (t Topology) UnitsToBytes(value uint64, unit grouptree.ShareUnit) (uint64, error) {
	switch unit {
	case grouptree.UnitMB:
		return value * 1024 * 1024, nil
	case grouptree.UnitPages:
		return value * t.PageSizeBytes, nil
	default:
		return 0, schederr.ErrInvalidArgument
	}
}

// ToLinuxCPU translates a group's CPU allocation into an OCI runtime
// spec LinuxCPU block, the shape a cgroup-backed VM CPU controller
// (external to this core) consumes.
func (t Topology) ToLinuxCPU(alloc grouptree.CPUAlloc) *specs.LinuxCPU {
	shares := alloc.Shares
	if shares == 0 {
		shares = 1
	}
	period := uint64(100000)
	quota := int64(alloc.Max) * int64(period) / BShareBase
	return &specs.LinuxCPU{
		Shares: &shares,
		Quota:  &quota,
		Period: &period,
	}
}

// ToLinuxMemory translates a group's memory allocation into an OCI
// runtime spec LinuxMemory block.
func (t Topology) ToLinuxMemory(alloc grouptree.MemAlloc) *specs.LinuxMemory {
	limit := int64(alloc.HardMax)
	reservation := int64(alloc.Min)
	return &specs.LinuxMemory{
		Limit:       &limit,
		Reservation: &reservation,
	}
}

// ToCgroup2Resources translates both allocations into a cgroup v2
// resource set, the shape the memory-reclamation collaborator's
// enforcement path applies directly via the cgroup2 manager.
func (t Topology) ToCgroup2Resources(cpu grouptree.CPUAlloc, mem grouptree.MemAlloc) *cgroup2.Resources {
	weight := cpu.Shares
	if weight == 0 {
		weight = 1
	}
	period := uint64(100000)
	quota := int64(cpu.Max) * int64(period) / BShareBase

	min := int64(mem.Min)
	max := int64(mem.HardMax)

	return &cgroup2.Resources{
		CPU: &cgroup2.CPU{
			Weight: &weight,
			Max:    cgroup2.NewCPUMax(&quota, &period),
		},
		Memory: &cgroup2.Memory{
			Min: &min,
			Max: &max,
		},
	}
}
