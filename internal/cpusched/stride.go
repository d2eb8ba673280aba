package cpusched

// StrideConst is the stride-scheduling scaling constant: Stride =
// StrideConst / shares, so higher shares yield a smaller stride (faster
// virtual-time accrual is undesirable; larger shares should mean the
// vsmp is selected more often, i.e. accrues vtime *more slowly* per
// cycle of service). This is the classic stride-scheduling relation
// (Waldspurger & Weihl).
const StrideConst = 1 << 32

// BoundedLagCycles bounds how far behind the cell's minimum running
// vtime a newly-ready vsmp may sit before it is clamped forward (spec
// §8: "bounded-lag ahead/behind counts > 0 only during transient
// scheduling, never monotonically growing"). Expressed in the same
// virtual-time units as VSMP.VTime.
const BoundedLagCycles = StrideConst * 8

// clampLag pulls vtime forward to minVTime-BoundedLagCycles if it has
// fallen further behind than that, returning the (possibly unchanged)
// vtime and whether a clamp occurred (the "behind" count spec §8
// tracks).
func clampLag(vtime, minVTime uint64) (uint64, bool) {
	if minVTime <= BoundedLagCycles {
		return vtime, false
	}
	floor := minVTime - BoundedLagCycles
	if vtime < floor {
		return floor, true
	}
	return vtime, false
}
