package cpusched

import (
	"container/heap"
	"sync"

	"github.com/vmkern/coresched/internal/loadhistory"
	"github.com/vmkern/coresched/internal/schederr"
	"github.com/vmkern/coresched/internal/unitconv"
)

// Cell is a set of pcpus sharing one lock and one set of ready queues
// (spec §3). Cross-cell migration is handled by internal/numasched,
// which drains a vsmp to quiescence before moving it between cells.
type Cell struct {
	mu sync.Mutex

	NumPCPUs int
	// running[p] is the vCPU currently executing on pcpu p, or nil.
	running []*VCPU

	ready    readyHeap
	vsmps    map[uint32]*VSMP
	minVTime uint64

	clock *loadhistory.Clock

	// coreOf[p] is the physical core id sibling pcpu p belongs to, used
	// by HTCompatible checks. Uniform 1:1 (no hyperthreading) unless the
	// caller supplies pairing via NewCellWithTopology.
	coreOf []int

	// Diagnostic counters for the bounded-lag invariant (spec §8).
	LagClamps uint64

	now uint64

	// idleCycles is the cumulative sum of (free pcpus * elapsed cycles)
	// across every Tick, feeding internal/numasched's "wasted = min(wait,
	// node-idle)" adjustment (spec §4.2 step 2).
	idleCycles uint64
}

// NewCell allocates a cell with the given pcpu count and no
// hyperthread pairing (every pcpu its own core).
func NewCell(numPCPUs int) *Cell {
	coreOf := make([]int, numPCPUs)
	for i := range coreOf {
		coreOf[i] = i
	}
	return &Cell{
		NumPCPUs: numPCPUs,
		running:  make([]*VCPU, numPCPUs),
		clock:    loadhistory.NewClock(),
		coreOf:   coreOf,
	}
}

// NewCellWithTopology allocates a cell whose pcpus share physical cores
// according to coreOf (coreOf[p] gives pcpu p's core id), enabling
// HTShare constraint checks between sibling threads.
func NewCellWithTopology(numPCPUs int, coreOf []int) *Cell {
	c := NewCell(numPCPUs)
	c.coreOf = append([]int(nil), coreOf...)
	return c
}

// readyHeap orders ready vsmps by virtual time (stride-scheduling's
// "pick the lowest-vtime runnable entity").
type readyHeap []*VSMP

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].VTime() < h[j].VTime() }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*VSMP)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Add admits vsmp to the cell and marks all of its vCPUs ready (spec
// §6: "Add(world, startFn, startArg)").
func (c *Cell) Add(v *VSMP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(v.VCPUs) == 0 {
		return schederr.ErrInvalidArgument
	}
	if _, exists := c.vsmps[v.ID]; exists {
		return schederr.ErrAlreadyExists
	}
	if c.vsmps == nil {
		c.vsmps = make(map[uint32]*VSMP)
	}
	v.VTimeMain = c.minVTime
	if v.Base.Max != 0 {
		v.rateTokens = maxRateBurstCycles * int64(len(v.VCPUs))
	}
	for _, vcpu := range v.VCPUs {
		vcpu.State = StateReady
		vcpu.CurrentPCPU = -1
		vcpu.HandoffPCPU = -1
	}
	c.vsmps[v.ID] = v
	heap.Push(&c.ready, v)
	return nil
}

// Remove evicts vsmp from the cell. Per spec §8's invariant, after
// Remove there must be no vCPU in any cell's ready queue whose
// back-pointer resolves to the removed world; Remove is idempotent,
// returning not-found on a repeat call with no further state change
// (spec §8, "Idempotence").
func (c *Cell) Remove(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vsmps[id]
	if !ok {
		return schederr.ErrNotFound
	}
	delete(c.vsmps, id)
	for i := range c.running {
		if c.running[i] != nil && c.running[i].VSMP == v {
			c.running[i] = nil
		}
	}
	c.removeFromReady(v)
	for _, vcpu := range v.VCPUs {
		vcpu.State = StateDead
	}
	return nil
}

func (c *Cell) removeFromReady(v *VSMP) {
	for i, r := range c.ready {
		if r == v {
			heap.Remove(&c.ready, i)
			return
		}
	}
}

// Tick advances the cell's simulated clock by elapsedCycles: it charges
// every currently-running vCPU's vsmp, refills max-rate tokens, and
// reassigns idle/preemptable pcpus to the lowest-vtime eligible ready
// vsmps, honoring co-scheduling for strict vsmps.
func (c *Cell) Tick(elapsedCycles uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += elapsedCycles
	c.idleCycles += uint64(c.freePCPUs()) * elapsedCycles
	c.chargeRunning(elapsedCycles)
	c.chargeReady(elapsedCycles)
	c.chargeWaiting(elapsedCycles)
	c.refillTokens(elapsedCycles)
	c.updateMinVTime()
	c.preemptExpiredQuanta()
	c.dispatch()
}

// QuantumCycles is the run duration before a running vCPU is
// preempted back to ready, letting the stride scheduler re-evaluate
// which vsmp has the lowest virtual time (spec §4.1's "proportional
// share" requirement only holds if shares are periodically
// reassessed; an indefinitely-running vCPU would never yield to a
// lower-vtime competitor).
const QuantumCycles = 1 << 13

// preemptExpiredQuanta returns any running vCPU whose quantum has
// elapsed back to ready, so dispatch can reconsider the ready set.
func (c *Cell) preemptExpiredQuanta() {
	for pcpu, vcpu := range c.running {
		if vcpu == nil {
			continue
		}
		if c.now < vcpu.QuantumExpire {
			continue
		}
		vcpu.State = StateReady
		vcpu.CurrentPCPU = -1
		c.running[pcpu] = nil
		c.pushReadyIfAbsent(vcpu.VSMP)
	}
}

// pushReadyIfAbsent adds v to the ready heap unless one of its vCPUs
// is already represented there (a vsmp appears at most once in the
// heap regardless of how many of its vCPUs are ready).
func (c *Cell) pushReadyIfAbsent(v *VSMP) {
	for _, r := range c.ready {
		if r == v {
			return
		}
	}
	heap.Push(&c.ready, v)
}

func (c *Cell) chargeReady(elapsedCycles uint64) {
	for _, v := range c.ready {
		for _, vcpu := range v.VCPUs {
			if vcpu.State == StateReady || vcpu.State == StateReadyCorun {
				vcpu.Meters[vcpu.State] += elapsedCycles
			}
		}
	}
}

func (c *Cell) chargeRunning(elapsedCycles uint64) {
	for _, vcpu := range c.running {
		if vcpu == nil {
			continue
		}
		v := vcpu.VSMP
		inc := (elapsedCycles * v.Stride) >> 32
		v.VTimeMain += inc
		v.rateTokens -= int64(elapsedCycles)
		vcpu.chargeCycles.set(vcpu.chargeCycles.get() + elapsedCycles)
		vcpu.Meters[StateRun] += elapsedCycles
	}
}

// chargeWaiting meters time spent blocked in wait/busy-wait, the "wait"
// half of internal/numasched's per-vsmp run/ready/wait snapshot deltas
// (spec §4.2 step 1).
func (c *Cell) chargeWaiting(elapsedCycles uint64) {
	for _, v := range c.vsmps {
		for _, vcpu := range v.VCPUs {
			if vcpu.State == StateWait || vcpu.State == StateBusyWait {
				vcpu.Meters[vcpu.State] += elapsedCycles
			}
		}
	}
}

// maxRateBurstCycles bounds how many cycles of unused max-rate budget a
// single vCPU can bank before refill stops adding more (spec §8
// scenario 2's cap is a *rate*, not an unbounded credit).
const maxRateBurstCycles = 1 << 24

func (c *Cell) refillTokens(elapsedCycles uint64) {
	for _, v := range c.vsmps {
		if v.Base.Max == 0 {
			continue // uncapped
		}
		refill := int64(elapsedCycles) * int64(v.Base.Max) * int64(len(v.VCPUs)) / int64(unitconv.BShareBase)
		v.rateTokens += refill
		burstCap := maxRateBurstCycles * int64(len(v.VCPUs))
		if v.rateTokens > burstCap {
			v.rateTokens = burstCap
		}
	}
}

// updateMinVTime recomputes the cell's running-minimum virtual time
// from the currently runnable vsmps only (running or ready). A vsmp
// blocked in wait/busy-wait contributes nothing: its frozen low vtime
// must not suppress the floor that bounded-lag clamps ready vsmps
// against, or a long-blocked vsmp would permanently defeat the clamp
// for everyone else the moment it wakes (spec §8 scenario 1).
func (c *Cell) updateMinVTime() {
	min := ^uint64(0)
	found := false
	for _, v := range c.vsmps {
		if !c.vsmpRunnable(v) {
			continue
		}
		if v.VTime() < min {
			min = v.VTime()
			found = true
		}
	}
	if found {
		c.minVTime = min
	}
}

func (c *Cell) vsmpRunnable(v *VSMP) bool {
	for _, vcpu := range v.VCPUs {
		switch vcpu.State {
		case StateRun, StateReady, StateReadyCorun, StateReadyCostop:
			return true
		}
	}
	return false
}

// throttled reports whether v has exhausted its max-rate token budget
// and must not be dispatched this tick (spec §8 scenario 2).
func (v *VSMP) throttled() bool {
	return v.Base.Max != 0 && v.rateTokens <= 0
}

func (c *Cell) dispatch() {
	for pcpu := 0; pcpu < c.NumPCPUs; pcpu++ {
		if c.running[pcpu] != nil {
			continue
		}
		vcpu := c.pickNextFor(pcpu)
		if vcpu == nil {
			continue
		}
		c.placeOnPCPU(pcpu, vcpu)
	}
}

// siblingCompatible reports whether scheduling candidate on pcpu would
// violate an HTShare constraint with whatever is running on pcpu's
// sibling threads.
func (c *Cell) siblingCompatible(pcpu int, candidate *VSMP) bool {
	core := c.coreOf[pcpu]
	for p, core2 := range c.coreOf {
		if p == pcpu || core2 != core {
			continue
		}
		if running := c.running[p]; running != nil {
			if !HTCompatible(candidate, running.VSMP) {
				return false
			}
		}
	}
	return true
}

// pickNextFor selects the next vCPU to run on pcpu: the lowest-vtime
// ready vsmp that is not throttled, is HTShare-compatible with pcpu's
// sibling threads, and (if strict-cosched) has enough free pcpus
// elsewhere to co-schedule its remaining vCPUs.
func (c *Cell) pickNextFor(pcpu int) *VCPU {
	free := c.freePCPUs()
	var skipped []*VSMP
	defer func() {
		for _, v := range skipped {
			heap.Push(&c.ready, v)
		}
	}()

	for c.ready.Len() > 0 {
		v := heap.Pop(&c.ready).(*VSMP)
		if v.throttled() {
			skipped = append(skipped, v)
			continue
		}
		if clamped, did := clampLag(v.VTimeMain, c.minVTime); did {
			v.VTimeMain = clamped
			c.LagClamps++
		}
		if v.StrictCosched && len(v.VCPUs) > 1 && free < len(v.VCPUs) {
			// Not enough free pcpus to co-schedule the whole vsmp right
			// now; leave it ready and try the next candidate.
			skipped = append(skipped, v)
			continue
		}
		if !c.siblingCompatible(pcpu, v) {
			skipped = append(skipped, v)
			continue
		}
		vcpu := c.nextReadyVCPU(v)
		if vcpu == nil {
			continue // nothing ready in this vsmp, drop it from the heap permanently
		}
		if c.countReadyVCPUs(v) > 1 {
			// v has other ready vCPUs beyond the one just picked; keep it
			// eligible for them. Otherwise this was its last ready vCPU
			// and v drops out of the ready set once dispatched.
			heap.Push(&c.ready, v)
		}
		return vcpu
	}
	return nil
}

// countReadyVCPUs returns how many of v's vCPUs are currently ready or
// ready-corun.
func (c *Cell) countReadyVCPUs(v *VSMP) int {
	n := 0
	for _, vcpu := range v.VCPUs {
		if vcpu.State == StateReady || vcpu.State == StateReadyCorun {
			n++
		}
	}
	return n
}

func (c *Cell) freePCPUs() int {
	n := 0
	for _, r := range c.running {
		if r == nil {
			n++
		}
	}
	return n
}

func (c *Cell) nextReadyVCPU(v *VSMP) *VCPU {
	for _, vcpu := range v.VCPUs {
		if vcpu.State == StateReady || vcpu.State == StateReadyCorun {
			return vcpu
		}
	}
	return nil
}

func (c *Cell) placeOnPCPU(pcpu int, vcpu *VCPU) {
	vcpu.State = StateRun
	vcpu.CurrentPCPU = pcpu
	vcpu.chargeStart.set(c.now)
	vcpu.QuantumExpire = c.now + QuantumCycles
	c.running[pcpu] = vcpu

	if vcpu.VSMP.StrictCosched {
		c.applyCoSchedule(vcpu.VSMP)
	}
	vcpu.VSMP.updateSkew()
}

// applyCoSchedule implements spec §8 scenario 3: whenever any vCPU of a
// strict vsmp is run, every other vCPU of that vsmp must be run or
// ready-corun. Siblings that are merely ready (not yet dispatched) are
// promoted to ready-corun so dispatch() prioritizes them ahead of
// unrelated ready vsmps on the next free pcpu.
func (c *Cell) applyCoSchedule(v *VSMP) {
	anyRunning := false
	for _, vcpu := range v.VCPUs {
		if vcpu.State == StateRun {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return
	}
	v.CoRun = CoRun
	for _, vcpu := range v.VCPUs {
		if vcpu.State == StateReady {
			vcpu.State = StateReadyCorun
		}
	}
}

// Preempt forces pcpu's current vCPU back to ready (quantum expiry or
// an involuntary preemption), making the pcpu available for the next
// dispatch pass.
func (c *Cell) Preempt(pcpu int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vcpu := c.running[pcpu]
	if vcpu == nil {
		return
	}
	vcpu.State = StateReady
	vcpu.CurrentPCPU = -1
	c.running[pcpu] = nil
	c.pushReadyIfAbsent(vcpu.VSMP)
	c.dispatch()
}

// VSMPs returns a snapshot slice of every vsmp currently admitted to
// the cell, for internal/numasched's periodic rebalance snapshot (spec
// §4.2 step 1).
func (c *Cell) VSMPs() []*VSMP {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*VSMP, 0, len(c.vsmps))
	for _, v := range c.vsmps {
		out = append(out, v)
	}
	return out
}

// IdleCycles returns the cell's cumulative idle-pcpu cycle count (spec
// §4.2 step 1, "per-node: cumulative idle cycles").
func (c *Cell) IdleCycles() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleCycles
}

// SetHomeNode mutates v's home node under the cell lock (spec §5: "the
// rebalance path mutates per-vsmp home nodes via the CPU-scheduler API,
// which internally acquires the appropriate cell lock").
func (c *Cell) SetHomeNode(id uint32, node int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vsmps[id]
	if !ok {
		return schederr.ErrNotFound
	}
	v.HomeNode = node
	return nil
}

// Evict removes v from the cell without tearing down its vCPUs (unlike
// Remove, which marks them dead), for cross-cell relocation by
// internal/numasched. A vCPU currently running is forced back to ready
// first so the vsmp leaves in a quiescent, re-addable state (spec §3:
// "cross-cell migration is allowed only on quiescence").
func (c *Cell) Evict(id uint32) (*VSMP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vsmps[id]
	if !ok {
		return nil, schederr.ErrNotFound
	}
	delete(c.vsmps, id)
	for i := range c.running {
		if c.running[i] != nil && c.running[i].VSMP == v {
			c.running[i] = nil
		}
	}
	c.removeFromReady(v)
	for _, vcpu := range v.VCPUs {
		if vcpu.State != StateDead {
			vcpu.State = StateReady
			vcpu.CurrentPCPU = -1
		}
	}
	return v, nil
}

// GetLoadMetrics returns the cell's current running/ready counts, a
// coarse load signal independent of the full load-history ring.
func (c *Cell) GetLoadMetrics() (running, ready int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.running {
		if r != nil {
			running++
		}
	}
	ready = c.ready.Len()
	return running, ready
}

// SampleLoadHistory advances the cell's shared load-history clock by
// one period and records each live vCPU's run/ready milliseconds for
// that period into its Ring (spec §4.5, §6
// CPU_LOAD_HISTORY_SAMPLE_PERIOD). periodCycles converts elapsed
// per-state meter deltas into milliseconds via cyclesPerMs.
func (c *Cell) SampleLoadHistory(cyclesPerMs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cyclesPerMs == 0 {
		cyclesPerMs = 1
	}
	idx := c.clock.Advance()
	for _, v := range c.vsmps {
		for _, vcpu := range v.VCPUs {
			if vcpu.Ring == nil {
				continue
			}
			runMs := uint32(vcpu.Meters[StateRun] / cyclesPerMs)
			readyMs := uint32((vcpu.Meters[StateReady] + vcpu.Meters[StateReadyCorun]) / cyclesPerMs)
			vcpu.Ring.Record(idx, loadhistory.Sample{RunMs: runMs, ReadyMs: readyMs})
		}
	}
}
