package cpusched

// This file covers the two constraints layered on top of plain
// stride scheduling: hyperthreading sharing preferences and the
// co-scheduling skew/quorum state machine for strict vsmps (spec §4.1,
// §8 scenario 3).

// HTCompatible reports whether a and b may legally share sibling
// hardware threads of the same physical core, given each vsmp's
// HTShare preference. A quarantined vsmp shares with no other vsmp.
func HTCompatible(a, b *VSMP) bool {
	if a == b {
		return true
	}
	if a.Quarantined || b.Quarantined {
		return false
	}
	if a.HTShare == HTShareNone || b.HTShare == HTShareNone {
		return false
	}
	if a.HTShare == HTShareInternal || b.HTShare == HTShareInternal {
		// HTShareInternal only ever shares with its own vsmp's vCPUs.
		return a == b
	}
	return true
}

// Quarantine marks v excluded from hyperthread co-placement after a
// sharing-constraint violation is detected. It stays quarantined until
// ClearQuarantine is called.
func (v *VSMP) Quarantine() {
	v.Quarantined = true
}

// ClearQuarantine lifts a vsmp's hyperthread quarantine.
func (v *VSMP) ClearQuarantine() {
	v.Quarantined = false
}

// updateSkew recomputes a strict-cosched vsmp's skew: the spread
// between its most- and least-advanced currently co-running vCPU
// charge totals (glossary "skew"). Tracked so a quorum check (are all
// vCPUs within an acceptable skew of each other) can be added without
// changing the accounting path.
func (v *VSMP) updateSkew() {
	if len(v.VCPUs) == 0 {
		return
	}
	var min, max uint64
	first := true
	for _, vcpu := range v.VCPUs {
		if vcpu.State != StateRun && vcpu.State != StateReadyCorun {
			continue
		}
		c := vcpu.ChargeCycles()
		if first {
			min, max = c, c
			first = false
			continue
		}
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	if first {
		v.skew = 0
		return
	}
	v.skew = int64(max - min)
}

// Skew returns the vsmp's last-computed co-scheduling skew.
func (v *VSMP) Skew() int64 { return v.skew }

// quorumMet reports whether enough of v's vCPUs are run/ready-corun to
// satisfy co-scheduling (all of them, for a strict vsmp).
func (v *VSMP) quorumMet() bool {
	if !v.StrictCosched {
		return true
	}
	for _, vcpu := range v.VCPUs {
		if vcpu.State != StateRun && vcpu.State != StateReadyCorun && vcpu.State != StateDead {
			return false
		}
	}
	return true
}
