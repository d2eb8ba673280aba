package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmkern/coresched/internal/config"
	"github.com/vmkern/coresched/internal/cpusched"
	"github.com/vmkern/coresched/internal/grouptree"
	"github.com/vmkern/coresched/internal/loadhistory"
	"github.com/vmkern/coresched/internal/memsched"
	"github.com/vmkern/coresched/internal/metrics"
	"github.com/vmkern/coresched/internal/numasched"
	"github.com/vmkern/coresched/internal/topology"
)

// machine bundles one in-process simulated host: a group tree, one
// cpusched.Cell per NUMA node, the numasched and memsched controllers
// wired to a shared fake collaborator, and the registry both controllers
// report into.
type machine struct {
	topo topology.Topology

	tree     *grouptree.Tree
	cells    []*cpusched.Cell
	numa     *numasched.Controller
	mem      *memsched.Controller
	reclaim  *fakeReclaimer
	registry *metrics.Registry

	cfgStore *config.Store

	vmGroup grouptree.GroupID

	nextVSMPID uint32
}

// newMachine builds a machine with numPCPUs split evenly across
// numNodes cells (spec §9: topology must be bootstrapped before any
// vCPU exists).
func newMachine(numPCPUs, numNodes int, reg prometheus.Registerer) (*machine, error) {
	if numNodes < 1 {
		numNodes = 1
	}
	nodeOf := make([]int, numPCPUs)
	cellPCPUs := make([][]int, numNodes)
	for p := 0; p < numPCPUs; p++ {
		n := p % numNodes
		nodeOf[p] = n
		cellPCPUs[n] = append(cellPCPUs[n], p)
	}
	topo := topology.Topology{
		NumPCPUs:      numPCPUs,
		NumNodes:      numNodes,
		PageSizeBytes: 4096,
		NodeOfPCPU:    nodeOf,
	}

	cells := make([]*cpusched.Cell, numNodes)
	for n, pcpus := range cellPCPUs {
		coreOf := make([]int, len(pcpus))
		for i := range coreOf {
			coreOf[i] = i
		}
		cells[n] = cpusched.NewCellWithTopology(len(pcpus), coreOf)
	}

	tree := grouptree.NewTree(grouptree.DefaultConfig())
	groupMemBytes := uint64(numPCPUs) * (1 << 30) // 1GiB headroom per pcpu, a plausible host-wide budget
	vmGroup, err := tree.AddGroup("vm-pool", tree.Root(),
		grouptree.CPUAlloc{Shares: 1000, Max: ^uint64(0)},
		grouptree.MemAlloc{Max: groupMemBytes, HardMax: groupMemBytes})
	if err != nil {
		return nil, fmt.Errorf("creating vm-pool group: %w", err)
	}

	reclaim := newFakeReclaimer(numNodes, 1<<20)
	mem := memsched.NewController(tree, reclaim)
	numa := numasched.NewController(cells, mem)

	return &machine{
		topo:     topo,
		tree:     tree,
		cells:    cells,
		numa:     numa,
		mem:      mem,
		reclaim:  reclaim,
		registry: metrics.NewRegistry(reg),
		cfgStore: config.NewStore(),
		vmGroup:  vmGroup,
	}, nil
}

// spawnVM admits a VM with numVCPUs, shares shares, and memBytes
// reserved memory, placing it via numasched.InitialPlacement.
func (m *machine) spawnVM(ctx context.Context, numVCPUs int, shares uint64, memBytes uint64) (uint32, error) {
	id := m.nextVSMPID
	m.nextVSMPID++

	cfg := m.cfgStore.Load()

	if err := m.tree.JoinGroup(id, m.vmGroup, grouptree.CPUAlloc{Shares: shares}); err != nil {
		return 0, fmt.Errorf("admitting vsmp %d: %w", id, err)
	}
	if err := m.mem.ReserveMem(ctx, id, m.vmGroup, memBytes); err != nil {
		return 0, fmt.Errorf("reserving memory for vsmp %d: %w", id, err)
	}

	v := cpusched.NewVSMP(id, grouptree.CPUAlloc{Shares: shares})
	for i := 0; i < numVCPUs; i++ {
		v.VCPUs = append(v.VCPUs, &cpusched.VCPU{
			ID:          uint32(i),
			VSMP:        v,
			Index:       i,
			CurrentPCPU: -1,
			HandoffPCPU: -1,
			Ring:        loadhistory.NewRing(),
		})
	}

	node := m.numa.InitialPlacement(id, cfg.NumaRoundRobin)
	if err := m.numa.Register(v, node); err != nil {
		return 0, fmt.Errorf("registering vsmp %d with numasched: %w", id, err)
	}
	return id, nil
}

// tick advances every cell by elapsedCycles and returns the aggregate
// running/ready vCPU counts across all cells, for the report's load
// summary.
func (m *machine) tick(elapsedCycles uint64) (running, ready int) {
	for _, c := range m.cells {
		c.Tick(elapsedCycles)
		r, rd := c.GetLoadMetrics()
		running += r
		ready += rd
	}
	return running, ready
}

// sampleLoadHistory advances the per-cell load-history rings.
func (m *machine) sampleLoadHistory(cyclesPerMs uint64) {
	for _, c := range m.cells {
		c.SampleLoadHistory(cyclesPerMs)
		for _, v := range c.VSMPs() {
			m.registry.LoadAverage1m.WithLabelValues("vcpu").Set(float64(len(v.VCPUs)))
		}
	}
}

// rebalance runs one NUMA rebalance period and folds the resulting
// counters into the metrics registry.
func (m *machine) rebalance(periodCycles, cyclesPerMs uint64) {
	before := m.numa.Stats
	m.numa.RunPeriod(periodCycles, cyclesPerMs, m.cfgStore.Load())
	after := m.numa.Stats

	if d := after.NBalanceMig - before.NBalanceMig; d > 0 {
		m.registry.BalanceMigrations.Add(float64(d))
	}
	if d := after.NLocalitySwap - before.NLocalitySwap; d > 0 {
		m.registry.LocalitySwaps.Add(float64(d))
	}

	for node, cell := range m.cells {
		for _, v := range cell.VSMPs() {
			m.reclaim.settle(v.ID, node, 4096)
		}
	}
}
