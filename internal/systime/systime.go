// Package systime implements statistical attribution of interrupt and
// kernel-service time back to the virtual CPU on whose behalf the work
// ran (C7, spec §4.4): a sample starts with probability 1/2^k using a
// per-pcpu multiplicative generator, and on Done charges the elapsed
// cycles to the target vCPU's counter.
package systime

import "sync/atomic"

// DefaultShift is k in the spec's "probability 1/2^k (default k=3)".
const DefaultShift = 3

// multiplicative PRNG constants (Lehmer/MINSTD-style), chosen because
// the spec calls for a lightweight per-pcpu generator, not a
// cryptographic one: this is a statistical sampling decision, not a
// security boundary.
const (
	prngMultiplier = 48271
	prngModulus    = 1<<31 - 1
)

// PCPUState is the per-physical-CPU sampling state: the multiplicative
// generator and the nesting-prevention flag (spec §4.4: "Nesting is
// prevented by a per-pcpu flag").
type PCPUState struct {
	seed    uint64
	shift   uint
	active  bool
	started uint64 // opaque timestamp, valid only while active
	target  uint32
}

// NewPCPUState seeds one generator. seed must be nonzero and odd-ish
// variety across pcpus to avoid correlated sampling decisions between
// cores; callers typically seed from the pcpu index plus a boot-time
// nonce.
func NewPCPUState(seed uint64, shift uint) *PCPUState {
	if seed == 0 {
		seed = 1
	}
	if shift == 0 {
		shift = DefaultShift
	}
	return &PCPUState{seed: seed, shift: shift}
}

func (p *PCPUState) next() uint64 {
	p.seed = (p.seed * prngMultiplier) % prngModulus
	return p.seed
}

// shouldSample reports whether this event is selected for sampling,
// with probability 1/2^shift.
func (p *PCPUState) shouldSample() bool {
	mask := uint64(1)<<p.shift - 1
	return p.next()&mask == 0
}

// Start begins a sample attributing time to target (a vCPU ID), unless
// nesting is detected (a sample is already active on this pcpu) or the
// probabilistic gate does not select this event. Returns true if a
// sample was actually started; Done must only be called when Start
// returned true.
//
// Preemption must be disabled by the caller across Start/Done (spec
// §5: "System-time sampling requires preemption disabled across
// Start/Done"), since PCPUState is not safe for concurrent use from
// more than one context on the same pcpu.
func (p *PCPUState) Start(now uint64, target uint32) bool {
	if p.active {
		return false
	}
	if !p.shouldSample() {
		return false
	}
	p.active = true
	p.started = now
	p.target = target
	return true
}

// Done ends the active sample and charges the elapsed cycles to acc.
func (p *PCPUState) Done(now uint64, acc *Accumulator) {
	if !p.active {
		return
	}
	elapsed := now - p.started
	p.active = false
	acc.Add(elapsed)
}

// Accumulator is one vCPU's sysCyclesTotal counter (spec §4.4),
// incremented atomically from whichever pcpu happens to be charging it.
type Accumulator struct {
	total atomic.Uint64
}

// Add charges cycles to the accumulator.
func (a *Accumulator) Add(cycles uint64) {
	a.total.Add(cycles)
}

// Total returns the accumulated cycle count.
func (a *Accumulator) Total() uint64 {
	return a.total.Load()
}
