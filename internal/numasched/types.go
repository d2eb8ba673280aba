// Package numasched implements the NUMA placement controller (C5, spec
// §4.2): periodic rebalance of vsmp home nodes across NUMA nodes,
// trading off fairness (load-balance migration) against memory
// locality (locality swap), plus page-migration-rate control and
// monitor-migration triggers driven by long-term node-residency
// history.
package numasched

import (
	"sync"

	"github.com/vmkern/coresched/internal/cpusched"
	"github.com/vmkern/coresched/internal/schederr"
)

// ShortTermSamples is the number of rebalance periods folded into one
// short-term residency count before it is halved into the long-term
// estimate (spec §4.2, "History tracking").
const ShortTermSamples = 10

// MinInitialNodePages is the minimum existing-page count on a node
// before initial placement prefers it outright over round-robin/most-free
// (spec §4.2, "Initial placement").
const MinInitialNodePages = 256

// Collaborator is the external memory-reclamation interface (spec §6):
// page-count queries this controller consumes, and the commands it
// emits (SetMigRate, NumaMigrateVMM).
type Collaborator interface {
	FreePagesOnNode(node int) uint64
	PagesOnNode(vsmpID uint32, node int) uint64
	SetMigRate(vsmpID uint32, rate uint32) error
	NumaMigrateVMM(vsmpID uint32) error
}

// MigRateRow is one row of the page-migration-rate threshold table
// (spec §4.2 step 7).
type MigRateRow struct {
	FreePageThreshPct uint64
	PctLocalThresh    uint64
	NodeHistoryThresh uint64
	Rate              uint32 // 0..200
}

// DefaultMigRateTable returns a threshold table running from most to
// least aggressive migration, tuned against the memory-pressure and
// locality bands a manageable vsmp typically moves through.
func DefaultMigRateTable() []MigRateRow {
	return []MigRateRow{
		{FreePageThreshPct: 5, PctLocalThresh: 100, NodeHistoryThresh: 0, Rate: 200},
		{FreePageThreshPct: 15, PctLocalThresh: 90, NodeHistoryThresh: 20, Rate: 100},
		{FreePageThreshPct: 30, PctLocalThresh: 70, NodeHistoryThresh: 40, Rate: 50},
		{FreePageThreshPct: 100, PctLocalThresh: 50, NodeHistoryThresh: 100, Rate: 0},
	}
}

// NUMAState is one vsmp's per-node residency bookkeeping, owned by the
// NUMA-sched lock (spec §4.2, "Concurrency").
type NUMAState struct {
	MandatoryHomeNode int // -1 if none

	JustMigrated bool

	ShortTerm []uint64 // per-node sample counts since last halving
	LongTerm  []uint64 // per-node EWMA-like residency estimate
	samples   uint64

	LastMonMigMask uint64
	CurrentMigRate uint32

	NBalanceMig   uint64
	NLocalitySwap uint64
}

// meterTotals is a vsmp's cumulative (lifetime) charged cycles in each
// of the three accounting buckets the rebalance snapshot diffs against
// the prior period.
type meterTotals struct {
	Run, Ready, Wait uint64
}

// Stats accumulates controller-wide rebalance counters (spec §8
// scenario 4/5 assertions read these).
type Stats struct {
	NBalanceMig   uint64
	NLocalitySwap uint64
}

// Controller is the process-wide NUMA-sched singleton (spec §9:
// "process-wide state... must be fully constructed before any vCPU
// exists"). One cpusched.Cell is bound per NUMA node (spec SPEC_FULL.md
// §5's default cell-topology policy).
type Controller struct {
	mu sync.Mutex

	cells  []*cpusched.Cell
	collab Collaborator
	table  []MigRateRow

	states     map[uint32]*NUMAState
	prevMeters map[uint32]meterTotals

	prevIdle []uint64

	rrPlacement int

	Stats Stats

	// LastNodeOwedPerPCPU is the most recent rebalance pass's per-node
	// owed/pcpu values, exposed for tests and metrics asserting the
	// "Rebalance neutrality" / convergence laws (spec §8).
	LastNodeOwedPerPCPU []int64
}

// NewController builds a controller over one cell per NUMA node, in
// node-index order. collab may be nil only in tests that never reach
// the page-migration-rate or monitor-migration steps.
func NewController(cells []*cpusched.Cell, collab Collaborator) *Controller {
	return &Controller{
		cells:      cells,
		collab:     collab,
		table:      DefaultMigRateTable(),
		states:     make(map[uint32]*NUMAState),
		prevMeters: make(map[uint32]meterTotals),
		prevIdle:   make([]uint64, len(cells)),
	}
}

// NumNodes returns the number of NUMA nodes the controller spans.
func (ctl *Controller) NumNodes() int { return len(ctl.cells) }

// SetMigRateTable overrides the default page-migration-rate threshold
// table, e.g. for tests asserting specific rate transitions.
func (ctl *Controller) SetMigRateTable(table []MigRateRow) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.table = table
}

// Register admits v to the controller and places it on the given
// node's cell, initializing its NUMA residency state (spec §4.2,
// "Initial placement" is expected to have already chosen node; see
// InitialPlacement).
func (ctl *Controller) Register(v *cpusched.VSMP, node int) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if node < 0 || node >= len(ctl.cells) {
		return schederr.ErrInvalidArgument
	}
	if _, exists := ctl.states[v.ID]; exists {
		return schederr.ErrAlreadyExists
	}
	v.HomeNode = node
	st := &NUMAState{
		MandatoryHomeNode: v.MandatoryHomeNode,
		ShortTerm:         make([]uint64, len(ctl.cells)),
		LongTerm:          make([]uint64, len(ctl.cells)),
	}
	ctl.states[v.ID] = st
	return ctl.cells[node].Add(v)
}

// Unregister removes v from the controller and its current cell.
func (ctl *Controller) Unregister(id uint32) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	st, ok := ctl.states[id]
	_ = st
	if !ok {
		return schederr.ErrNotFound
	}
	delete(ctl.states, id)
	delete(ctl.prevMeters, id)
	for _, cell := range ctl.cells {
		if err := cell.Remove(id); err == nil {
			return nil
		}
	}
	return schederr.ErrNotFound
}

// manageable reports whether v qualifies for automated placement (spec
// §4.2, "Manageability"): its vCPU count is within the smallest node's
// pcpu capacity. Hard memory affinity is not modeled. takeSnapshot
// additionally marks a vsmp with MandatoryHomeNode >= 0 unmanageable,
// so such a vsmp is never a load-balance, locality-swap or
// monitor-migration candidate; page-rate control still covers it.
func (ctl *Controller) manageable(v *cpusched.VSMP) bool {
	smallest := ctl.smallestNodePCPUs()
	return len(v.VCPUs) <= smallest
}

func (ctl *Controller) smallestNodePCPUs() int {
	min := -1
	for _, c := range ctl.cells {
		if min == -1 || c.NumPCPUs < min {
			min = c.NumPCPUs
		}
	}
	return min
}

// meterDeltas returns v's run/ready/wait cycle deltas since the last
// call for this vsmp, diffing against the cumulative lifetime Meters
// totals (spec §4.2 step 1, "per-vsmp: run/ready/wait deltas"), along
// with the new cumulative totals to store. It does not itself mutate
// ctl.prevMeters: takeSnapshot gathers per-cell deltas concurrently via
// errgroup, and a concurrent write into the shared prevMeters map from
// multiple goroutines would race even though each vsmp ID is only ever
// touched by the one goroutine processing its cell; callers commit the
// returned totals back into prevMeters single-threaded instead.
func (ctl *Controller) meterDeltas(v *cpusched.VSMP) (run, ready, wait uint64, cur meterTotals) {
	for _, vcpu := range v.VCPUs {
		cur.Run += vcpu.Meters[cpusched.StateRun]
		cur.Ready += vcpu.Meters[cpusched.StateReady] + vcpu.Meters[cpusched.StateReadyCorun]
		cur.Wait += vcpu.Meters[cpusched.StateWait] + vcpu.Meters[cpusched.StateBusyWait]
	}
	prev := ctl.prevMeters[v.ID]
	run = cur.Run - prev.Run
	ready = cur.Ready - prev.Ready
	wait = cur.Wait - prev.Wait
	return run, ready, wait, cur
}

// InitialPlacement chooses a home node for a newly starting VM (spec
// §4.2, "Initial placement"): the node where it already has the most
// pages if that meets MinInitialNodePages, else round-robin or the
// node with the most free memory, selected by cfg.NumaRoundRobin.
func (ctl *Controller) InitialPlacement(vsmpID uint32, roundRobin bool) int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.collab != nil {
		best, bestPages := 0, uint64(0)
		for n := 0; n < len(ctl.cells); n++ {
			p := ctl.collab.PagesOnNode(vsmpID, n)
			if p > bestPages {
				bestPages, best = p, n
			}
		}
		if bestPages >= MinInitialNodePages {
			return best
		}
	}
	if roundRobin {
		n := ctl.rrPlacement
		ctl.rrPlacement = (ctl.rrPlacement + 1) % len(ctl.cells)
		return n
	}
	if ctl.collab == nil {
		return 0
	}
	best, bestFree := 0, uint64(0)
	for n := 0; n < len(ctl.cells); n++ {
		f := ctl.collab.FreePagesOnNode(n)
		if f > bestFree {
			bestFree, best = f, n
		}
	}
	return best
}
