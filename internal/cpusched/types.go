// Package cpusched implements the proportional-share CPU scheduler core
// (C4, spec §4.1): per-cell stride/virtual-time scheduling, bounded-lag
// clamping, a max-rate virtual-time ceiling, co-scheduling of
// multi-vCPU VMs, hyperthreading-sharing constraints, and per-cell
// locking.
package cpusched

import (
	"github.com/vmkern/coresched/internal/loadhistory"
	"github.com/vmkern/coresched/internal/seqlock"
)

// RunState is a vCPU's scheduling state (spec §3).
type RunState uint8

const (
	StateNew RunState = iota
	StateZombie
	StateRun
	StateReady
	StateReadyCorun
	StateReadyCostop
	StateWait
	StateBusyWait
	StateDead
)

func (s RunState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateZombie:
		return "zombie"
	case StateRun:
		return "run"
	case StateReady:
		return "ready"
	case StateReadyCorun:
		return "ready-corun"
	case StateReadyCostop:
		return "ready-costop"
	case StateWait:
		return "wait"
	case StateBusyWait:
		return "busy-wait"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// WaitReason names the resource a vCPU in state {wait, busy-wait} is
// blocked on (spec §3).
type WaitReason uint8

const (
	WaitNone WaitReason = iota
	WaitIO
	WaitLock
	WaitMemory
	WaitSwapSlots
	WaitDebugger
)

// CoRunState is a vsmp's co-scheduling state (spec §4.1).
type CoRunState uint8

const (
	CoNone CoRunState = iota
	CoRun
	CoReady
	CoStop
)

// versionedU64 is the §5/§9 seqlock pattern applied to a single uint64
// field: updated under the cell lock, read from other pcpus without it.
type versionedU64 struct {
	seq seqlock.Seq
	val uint64
}

func (v *versionedU64) set(x uint64) {
	v.seq.Begin()
	v.val = x
	v.seq.End()
}

func (v *versionedU64) get() uint64 {
	return seqlock.Read(&v.seq, func() uint64 { return v.val })
}

// VCPU is one virtual processor's scheduling state (spec §3).
type VCPU struct {
	ID     uint32
	VSMP   *VSMP
	Index  int // position within VSMP.VCPUs
	State  RunState
	Wait   WaitReason
	Deadline uint64 // absolute cycle deadline, valid while State is wait/busy-wait

	AffinityMask  uint64
	CurrentPCPU   int
	HandoffPCPU   int
	ActionMask    uint32
	QuantumExpire uint64

	// Two independent versioned pairs (spec §3): cumulative charge and
	// current charge-start, each updated under the cell lock and read
	// lock-free elsewhere.
	chargeCycles versionedU64
	chargeStart  versionedU64

	Meters [9]uint64 // indexed by RunState; cycles spent in each state

	Ring *loadhistory.Ring

	lastAttributedPCPU int
}

// ChargeCycles returns the vCPU's cumulative charged run cycles.
func (v *VCPU) ChargeCycles() uint64 { return v.chargeCycles.get() }

// ChargeStart returns the cycle timestamp the vCPU's current run
// interval began, or 0 if it is not currently running.
func (v *VCPU) ChargeStart() uint64 { return v.chargeStart.get() }
