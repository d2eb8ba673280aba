package cpusched

import "github.com/vmkern/coresched/internal/grouptree"

// MaxVCPUsPerVSMP bounds a vsmp's vCPU list (spec §3: "an ordered list
// of vCPUs (≤ a compile-time maximum)").
const MaxVCPUsPerVSMP = 256

// AffinityKind distinguishes a vsmp's joint-vs-disjoint affinity
// preference (spec §3).
type AffinityKind uint8

const (
	AffinityDisjoint AffinityKind = iota
	AffinityJoint
)

// HTShareKind is a vsmp's hyperthreading-sharing preference (spec §2's
// C4 row: "hyperthreading awareness").
type HTShareKind uint8

const (
	HTShareAny HTShareKind = iota
	HTShareInternal                // only co-schedule with own vCPUs on sibling threads
	HTShareNone                    // never share a physical core with another vsmp
)

// VSMP is the scheduling unit representing one VM (spec §3).
type VSMP struct {
	ID uint32

	VCPUs []*VCPU

	Affinity AffinityKind
	HTShare  HTShareKind

	Base grouptree.CPUAlloc

	// Virtual-time context (spec §3): main/extra split lets a vsmp
	// accrue a small bonus ("extra") separately from its main stride
	// accounting, e.g. for wake-from-wait grace.
	VTimeMain  uint64
	VTimeExtra uint64
	Stride     uint64
	GroupPath  []grouptree.GroupID

	CoRun CoRunState
	// skew is the spread in per-vCPU run cycles within this vsmp (spec
	// §3, glossary "skew"): max(vcpu charge) - min(vcpu charge) among
	// currently co-running vCPUs, tracked for the co-scheduling quorum.
	skew int64

	// StrictCosched requires every vCPU of a multi-vCPU vsmp to be
	// running (or ready-corun) together or not at all (spec §8 scenario
	// 3).
	StrictCosched bool

	// Quarantined marks a vsmp temporarily excluded from hyperthread
	// co-placement after a sharing-constraint violation (e.g. HTShareNone
	// found itself sharing a core) until ClearQuarantine is called.
	Quarantined bool

	// rateTokens implements the max-rate virtual-time ceiling (spec
	// §4.1/§8 scenario 2): refilled each tick in proportion to
	// Base.Max, consumed 1:1 by scheduled cycles. A vsmp with Base.Max
	// == 0 has no cap (unlimited tokens, never checked).
	rateTokens int64

	// NUMA info: the vsmp's current and mandatory home nodes (spec §3);
	// owned here but mutated only by internal/numasched under its own
	// lock discipline (spec §5: "the rebalance path mutates per-vsmp
	// home nodes via the CPU-scheduler API").
	HomeNode    int
	MandatoryHomeNode int // -1 if none
}

// VTime is the vsmp's total virtual time (main + extra), the key the
// ready queue orders on.
func (v *VSMP) VTime() uint64 {
	return v.VTimeMain + v.VTimeExtra
}

// NewVSMP constructs a vsmp with the given base allocation. Shares of 0
// is treated as 1 (spec's stride formula divides by shares).
func NewVSMP(id uint32, base grouptree.CPUAlloc) *VSMP {
	shares := base.Shares
	if shares == 0 {
		shares = 1
	}
	return &VSMP{
		ID:                id,
		Base:              base,
		Stride:            StrideConst / shares,
		MandatoryHomeNode: -1,
		HomeNode:          -1,
	}
}
