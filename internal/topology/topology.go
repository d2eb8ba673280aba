// Package topology bootstraps the pcpu/cell/NUMA-node layout the CPU
// and NUMA schedulers partition work across. Linux topology discovery
// (linux.go) is the only platform-specific file; everything else in
// this module consumes the resulting Topology value and is platform
// agnostic.
package topology

// Topology is the static machine shape discovered at hypervisor boot
// (spec §9: "process-wide state... must be fully constructed before any
// vCPU exists").
type Topology struct {
	NumPCPUs      int
	NumNodes      int
	PageSizeBytes uint64
	// NodeOfPCPU maps a pcpu index to its home NUMA node index.
	NodeOfPCPU []int
}

// PCPUsOnNode returns the pcpu indices belonging to node.
func (t Topology) PCPUsOnNode(node int) []int {
	var out []int
	for pcpu, n := range t.NodeOfPCPU {
		if n == node {
			out = append(out, pcpu)
		}
	}
	return out
}

// Uniform returns a synthetic topology with numNodes nodes of
// pcpusPerNode pcpus each, useful for simulation and tests on any
// platform (spec §8's scenarios are stated in exactly this shape: "Two
// nodes, 4 pcpus each").
func Uniform(numNodes, pcpusPerNode int) Topology {
	t := Topology{
		NumPCPUs:      numNodes * pcpusPerNode,
		NumNodes:      numNodes,
		PageSizeBytes: 4096,
		NodeOfPCPU:    make([]int, numNodes*pcpusPerNode),
	}
	for pcpu := range t.NodeOfPCPU {
		t.NodeOfPCPU[pcpu] = pcpu / pcpusPerNode
	}
	return t
}
