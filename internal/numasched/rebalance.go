package numasched

import (
	"golang.org/x/sync/errgroup"

	"github.com/vmkern/coresched/internal/config"
)

// vsmpSnap is one vsmp's rebalance-pass snapshot (spec §4.2 steps 1-2).
type vsmpSnap struct {
	id           uint32
	shares       uint64
	run          uint64
	ready        uint64
	wait         uint64
	homeNode     int
	manageable   bool
	justMigrated bool
	owed         int64
}

// nodeSnap is one node's aggregate rebalance-pass snapshot.
type nodeSnap struct {
	numPCPUs    int
	idleDelta   uint64
	totalShares uint64
	entitled    int64
	owed        int64
	vsmps       []*vsmpSnap
}

// RunPeriod executes one NUMA rebalance pass (spec §4.2, "Periodic
// rebalance" steps 1-8). periodCycles is the elapsed cycle count since
// the previous pass (the Δt in the entitled formula); cyclesPerMs
// converts the configured millisecond thresholds into the same cycle
// units the snapshot deltas are expressed in.
func (ctl *Controller) RunPeriod(periodCycles uint64, cyclesPerMs uint64, cfg config.Options) {
	ctl.mu.Lock()

	if cyclesPerMs == 0 {
		cyclesPerMs = 1
	}
	if !cfg.NumaRebalance {
		ctl.mu.Unlock()
		return
	}

	nodes := ctl.takeSnapshot(periodCycles)
	ctl.LastNodeOwedPerPCPU = make([]int64, len(nodes))
	for i, ns := range nodes {
		if ns.numPCPUs > 0 {
			ctl.LastNodeOwedPerPCPU[i] = ns.owed / int64(ns.numPCPUs)
		}
	}

	maxNode, minNode := ctl.extremeNodes(nodes)
	migrated := false
	if maxNode != minNode {
		thresholdCycles := int64(cfg.NumaMigThreshold) * int64(cyclesPerMs)
		migrated = ctl.loadBalance(nodes, maxNode, minNode, thresholdCycles)
	}
	if !migrated {
		ctl.localitySwap(nodes, cfg.NumaSwapLocalityThresh)
	}

	ctl.resetJustMigrated(nodes)

	var migCmds []migRateCmd
	if cfg.NumaPageMig {
		migCmds = ctl.updatePageMigRates(nodes)
	}
	monCmds := ctl.monitorMigration(nodes, cfg)

	// The collaborator is an external service (spec §6); commands to it
	// are retried with backoff "outside the scheduler locks" (spec §7),
	// and the NUMA lock ranks above the memsched lock (spec §5), so both
	// command batches are issued only after this lock is released.
	ctl.mu.Unlock()

	ctl.issuePageMigRates(migCmds)
	ctl.issueMonitorMigrations(monCmds)
}

// takeSnapshot is rebalance step 1: gather per-node/per-vsmp deltas and
// compute entitled/owed (step 2-3). Per-cell gathering runs concurrently
// via errgroup (SPEC_FULL.md's domain stack: bound the snapshot pass to
// the slowest single cell rather than the sum of all cells), since no
// cell's vsmps overlap another's and the only state a cell's goroutine
// would otherwise need to mutate outside its own slice slot is
// ctl.prevMeters — deferred to a single-threaded commit pass below
// instead of written concurrently.
func (ctl *Controller) takeSnapshot(periodCycles uint64) []*nodeSnap {
	nodes := make([]*nodeSnap, len(ctl.cells))
	idleNows := make([]uint64, len(ctl.cells))
	newMeters := make([]map[uint32]meterTotals, len(ctl.cells))

	var g errgroup.Group
	for node, cell := range ctl.cells {
		node, cell := node, cell
		g.Go(func() error {
			idleNow := cell.IdleCycles()
			idleNows[node] = idleNow
			ns := &nodeSnap{numPCPUs: cell.NumPCPUs, idleDelta: idleNow - ctl.prevIdle[node]}
			local := make(map[uint32]meterTotals)

			for _, v := range cell.VSMPs() {
				st := ctl.states[v.ID]
				if st == nil {
					continue
				}
				run, ready, wait, cur := ctl.meterDeltas(v)
				local[v.ID] = cur
				shares := v.Base.Shares
				if shares == 0 {
					shares = 1
				}
				ns.totalShares += shares
				ns.vsmps = append(ns.vsmps, &vsmpSnap{
					id: v.ID, shares: shares,
					run: run, ready: ready, wait: wait,
					homeNode: node, manageable: ctl.manageable(v) && st.MandatoryHomeNode < 0,
					justMigrated: st.JustMigrated,
				})
			}
			nodes[node] = ns
			newMeters[node] = local
			return nil
		})
	}
	_ = g.Wait() // cell snapshot goroutines never return an error

	for node := range ctl.cells {
		ctl.prevIdle[node] = idleNows[node]
	}
	for _, m := range newMeters {
		for id, cur := range m {
			ctl.prevMeters[id] = cur
		}
	}

	// entitled compares a vsmp's share of the WHOLE machine's capacity
	// against what it actually got on the node it happens to run on, so
	// the per-node owed aggregate reveals a node crowded relative to
	// another even when each node's own stride scheduler is already
	// internally fair (spec §4.2 step 2: totalShares and pcpus both
	// range over the full machine, not just the vsmp's current node —
	// otherwise a node's owed sum is a tautological zero by
	// construction and could never signal cross-node imbalance).
	var globalTotalShares uint64
	var totalPCPUs int
	for _, ns := range nodes {
		globalTotalShares += ns.totalShares
		totalPCPUs += ns.numPCPUs
	}

	for _, ns := range nodes {
		for _, s := range ns.vsmps {
			competed := s.run + s.ready
			var entitled int64
			if globalTotalShares > 0 {
				entitled = int64(s.shares) * int64(totalPCPUs) * int64(periodCycles) / int64(globalTotalShares)
			}
			if entitled > int64(competed) {
				entitled = int64(competed)
			}
			owed := entitled - int64(s.run)
			wasted := int64(s.wait)
			if int64(ns.idleDelta) < wasted {
				wasted = int64(ns.idleDelta)
			}
			if owed > 0 {
				owed -= wasted
				if owed < 0 {
					owed = 0
				}
			} else if owed < 0 {
				owed += wasted
				if owed > 0 {
					owed = 0
				}
			}
			s.owed = owed
			ns.entitled += entitled
			ns.owed += owed
		}
	}
	return nodes
}

// extremeNodes returns the indices of the most under-served
// (highest owed/pcpu) and most over-served (lowest owed/pcpu) nodes
// (spec §4.2 step 4).
func (ctl *Controller) extremeNodes(nodes []*nodeSnap) (maxNode, minNode int) {
	var maxVal, minVal int64
	first := true
	for i, ns := range nodes {
		if ns.numPCPUs == 0 {
			continue
		}
		perCPU := ns.owed / int64(ns.numPCPUs)
		if first {
			maxVal, minVal, maxNode, minNode = perCPU, perCPU, i, i
			first = false
			continue
		}
		if perCPU > maxVal {
			maxVal, maxNode = perCPU, i
		}
		if perCPU < minVal {
			minVal, minNode = perCPU, i
		}
	}
	return maxNode, minNode
}

// loadBalance is rebalance step 5. Returns true iff a migration
// occurred.
func (ctl *Controller) loadBalance(nodes []*nodeSnap, maxNode, minNode int, thresholdCycles int64) bool {
	maxOwed, minOwed := nodes[maxNode].owed, nodes[minNode].owed
	if maxOwed-minOwed <= thresholdCycles {
		return false
	}

	var best *vsmpSnap
	var bestLocalityDiff int64
	for _, s := range nodes[maxNode].vsmps {
		if !s.manageable || s.justMigrated {
			continue
		}
		if s.owed <= 0 {
			continue
		}
		if !(minOwed+s.owed <= maxOwed-s.owed-thresholdCycles) {
			continue
		}
		if !(minOwed+2*s.owed-maxOwed < maxOwed-minOwed) {
			continue
		}
		diff := ctl.localityDiffForMove(s.id, maxNode, minNode)
		if best == nil || diff > bestLocalityDiff {
			best, bestLocalityDiff = s, diff
		}
	}
	if best == nil {
		return false
	}

	v, err := ctl.cells[maxNode].Evict(best.id)
	if err != nil {
		return false
	}
	v.HomeNode = minNode
	if err := ctl.cells[minNode].Add(v); err != nil {
		// Re-admit to the source cell rather than lose the vsmp entirely.
		v.HomeNode = maxNode
		_ = ctl.cells[maxNode].Add(v)
		return false
	}
	st := ctl.states[best.id]
	st.JustMigrated = true
	st.NBalanceMig++
	ctl.Stats.NBalanceMig++
	return true
}

// localityDiffForMove estimates the %local(to) - %local(from) change a
// migration would produce, used both to rank load-balance candidates
// and to evaluate locality swaps.
func (ctl *Controller) localityDiffForMove(vsmpID uint32, from, to int) int64 {
	if ctl.collab == nil {
		return 0
	}
	return int64(ctl.pctLocal(vsmpID, to)) - int64(ctl.pctLocal(vsmpID, from))
}

// pctLocal returns the percentage of vsmpID's resident pages that sit
// on node.
func (ctl *Controller) pctLocal(vsmpID uint32, node int) uint64 {
	if ctl.collab == nil {
		return 0
	}
	var total, onNode uint64
	for n := 0; n < len(ctl.cells); n++ {
		p := ctl.collab.PagesOnNode(vsmpID, n)
		total += p
		if n == node {
			onNode = p
		}
	}
	if total == 0 {
		return 0
	}
	return onNode * 100 / total
}

// localitySwap is rebalance step 6: only evaluated when no load-balance
// migration occurred this period.
func (ctl *Controller) localitySwap(nodes []*nodeSnap, threshold uint64) {
	if ctl.collab == nil {
		return
	}
	var all []*vsmpSnap
	for _, ns := range nodes {
		for _, s := range ns.vsmps {
			if s.manageable {
				all = append(all, s)
			}
		}
	}

	var bestA, bestB *vsmpSnap
	var bestDiff int64
	for i, a := range all {
		for _, b := range all[i+1:] {
			if a.homeNode == b.homeNode {
				continue
			}
			localityDiff := int64(ctl.pctLocal(a.id, b.homeNode)+ctl.pctLocal(b.id, a.homeNode)) -
				int64(ctl.pctLocal(a.id, a.homeNode)+ctl.pctLocal(b.id, b.homeNode))
			if bestA == nil || localityDiff > bestDiff {
				bestA, bestB, bestDiff = a, b, localityDiff
			}
		}
	}
	if bestA == nil || bestDiff <= int64(threshold) {
		return
	}

	va, errA := ctl.cells[bestA.homeNode].Evict(bestA.id)
	if errA != nil {
		return
	}
	vb, errB := ctl.cells[bestB.homeNode].Evict(bestB.id)
	if errB != nil {
		va.HomeNode = bestA.homeNode
		_ = ctl.cells[bestA.homeNode].Add(va)
		return
	}

	va.HomeNode = bestB.homeNode
	vb.HomeNode = bestA.homeNode
	_ = ctl.cells[bestB.homeNode].Add(va)
	_ = ctl.cells[bestA.homeNode].Add(vb)

	stA, stB := ctl.states[bestA.id], ctl.states[bestB.id]
	stA.NLocalitySwap++
	stB.NLocalitySwap++
	ctl.Stats.NLocalitySwap += 2
}

// resetJustMigrated clears the anti-thrash flag for every vsmp not
// migrated this period; the rule only looks at the immediately prior
// period (spec §4.2 step 5's fourth bullet).
func (ctl *Controller) resetJustMigrated(nodes []*nodeSnap) {
	migratedThisPeriod := make(map[uint32]bool)
	for _, ns := range nodes {
		for _, s := range ns.vsmps {
			if st := ctl.states[s.id]; st != nil && st.JustMigrated && !s.justMigrated {
				migratedThisPeriod[s.id] = true
			}
		}
	}
	for id, st := range ctl.states {
		if !migratedThisPeriod[id] {
			st.JustMigrated = false
		}
	}
}

// migRateCmd is a pending SetMigRate command, computed under the NUMA
// lock in updatePageMigRates and issued to the collaborator only after
// the lock is released (spec §7).
type migRateCmd struct {
	vsmpID uint32
	rate   uint32
}

// updatePageMigRates is rebalance step 7. It only decides which rates
// changed; the actual collaborator call happens in issuePageMigRates,
// outside the NUMA lock.
func (ctl *Controller) updatePageMigRates(nodes []*nodeSnap) []migRateCmd {
	if ctl.collab == nil {
		return nil
	}
	var cmds []migRateCmd
	for _, ns := range nodes {
		for _, s := range ns.vsmps {
			st := ctl.states[s.id]
			if st == nil {
				continue
			}
			freeMemPct := ctl.freeMemPct(s.homeNode)
			pctLocal := ctl.pctLocal(s.id, s.homeNode)
			history := st.LongTerm[s.homeNode]
			rate := pageMigRate(ctl.table, freeMemPct, pctLocal, history)
			if rate != st.CurrentMigRate {
				cmds = append(cmds, migRateCmd{vsmpID: s.id, rate: rate})
			}
		}
	}
	return cmds
}

// issuePageMigRates calls SetMigRate for each pending rate change and,
// on success, records the new rate so the next period's comparison is
// against what the collaborator actually has. Must not be called while
// holding ctl.mu.
func (ctl *Controller) issuePageMigRates(cmds []migRateCmd) {
	for _, cmd := range cmds {
		if err := ctl.collab.SetMigRate(cmd.vsmpID, cmd.rate); err != nil {
			continue
		}
		ctl.mu.Lock()
		if st := ctl.states[cmd.vsmpID]; st != nil {
			st.CurrentMigRate = cmd.rate
		}
		ctl.mu.Unlock()
	}
}

// pageMigRate implements spec §4.2 step 7's threshold-table lookup: the
// new rate is that of the last row in the table whose predicate
// (nodeFreeMem% < freeThresh || pctLocal > localThresh || history <
// historyThresh) does NOT hold.
func pageMigRate(table []MigRateRow, nodeFreeMemPct, pctLocalPages, longTermHistory uint64) uint32 {
	var rate uint32
	for _, row := range table {
		satisfied := nodeFreeMemPct < row.FreePageThreshPct ||
			pctLocalPages > row.PctLocalThresh ||
			longTermHistory < row.NodeHistoryThresh
		if !satisfied {
			rate = row.Rate
		}
	}
	return rate
}

func (ctl *Controller) freeMemPct(node int) uint64 {
	if ctl.collab == nil {
		return 100
	}
	free := ctl.collab.FreePagesOnNode(node)
	if free > 100 {
		return 100
	}
	return free
}

// monMigCmd is a pending NumaMigrateVMM trigger, computed under the
// NUMA lock and issued outside it (spec §7).
type monMigCmd struct {
	vsmpID uint32
	home   int
}

// monitorMigration is rebalance step 8, plus the history-tracking
// update (spec §4.2, "History tracking") all manageable vsmps get every
// period regardless of whether a migration trigger fires. It only
// decides which triggers fire; the actual collaborator call happens in
// issueMonitorMigrations, outside the NUMA lock.
func (ctl *Controller) monitorMigration(nodes []*nodeSnap, cfg config.Options) []monMigCmd {
	var cmds []monMigCmd
	for _, ns := range nodes {
		for _, s := range ns.vsmps {
			st := ctl.states[s.id]
			if st == nil {
				continue
			}
			ctl.recordResidencySample(st, s.homeNode)

			if ctl.collab == nil || !s.manageable {
				continue
			}
			home := s.homeNode
			historyOK := st.LongTerm[home] > cfg.NumaMonMigHistory
			pctLocal := ctl.pctLocal(s.id, home)
			localityLow := pctLocal < cfg.NumaMonMigLocality
			bit := uint64(1) << uint(home)
			if historyOK && localityLow && st.LastMonMigMask&bit == 0 {
				cmds = append(cmds, monMigCmd{vsmpID: s.id, home: home})
			} else if !historyOK || !localityLow {
				st.LastMonMigMask &^= bit
			}
		}
	}
	return cmds
}

// issueMonitorMigrations calls NumaMigrateVMM for each pending trigger
// and, on success, sets the mask bit so the trigger does not refire
// until locality/history drop out again. Must not be called while
// holding ctl.mu.
func (ctl *Controller) issueMonitorMigrations(cmds []monMigCmd) {
	for _, cmd := range cmds {
		if err := ctl.collab.NumaMigrateVMM(cmd.vsmpID); err != nil {
			continue
		}
		ctl.mu.Lock()
		if st := ctl.states[cmd.vsmpID]; st != nil {
			st.LastMonMigMask |= uint64(1) << uint(cmd.home)
		}
		ctl.mu.Unlock()
	}
}

// recordResidencySample folds one more observation of vsmp being
// resident on home into its short-term counter, halving into the
// long-term estimate every ShortTermSamples observations (spec §4.2,
// "History tracking").
func (ctl *Controller) recordResidencySample(st *NUMAState, home int) {
	st.ShortTerm[home]++
	st.samples++
	if st.samples%ShortTermSamples == 0 {
		for n := range st.LongTerm {
			st.LongTerm[n] = st.LongTerm[n]/2 + st.ShortTerm[n]
			st.ShortTerm[n] = 0
		}
	}
}
