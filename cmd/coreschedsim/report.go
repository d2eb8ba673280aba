package main

import (
	"fmt"
)

// printReport prints the scenario's final placement and rebalance
// counters to stdout: the console-facing stand-in for the snapshot
// presentation layer spec §1 excludes from the scheduler core itself.
func printReport(m *machine, ids []uint32) {
	fmt.Printf("coreschedsim: %d pcpus across %d nodes, %d vms\n",
		m.topo.NumPCPUs, m.topo.NumNodes, len(ids))

	stats := m.numa.Stats
	fmt.Printf("  numasched: %d load-balance migrations, %d locality swaps\n",
		stats.NBalanceMig, stats.NLocalitySwap)

	for node, owed := range m.numa.LastNodeOwedPerPCPU {
		fmt.Printf("  node %d: owed/pcpu = %d\n", node, owed)
	}

	for node, cell := range m.cells {
		running, ready := cell.GetLoadMetrics()
		fmt.Printf("  cell %d: %d running, %d ready, %d vms resident\n",
			node, running, ready, len(cell.VSMPs()))
	}

	memStats := m.mem.Stats()
	fmt.Printf("  memsched: %d admission denials, %d reserve failures\n",
		memStats.AdmissionDenied, memStats.ReserveFailures)
}
