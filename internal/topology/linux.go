//go:build linux

package topology

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/vmkern/coresched/internal/processorinfo"
	onceutil "github.com/vmkern/coresched/internal/sync"
)

// nodeSysfsRoot is where the kernel exposes NUMA node/cpu membership.
// Overridable in tests via a package-level var rather than a parameter,
// since Discover's signature must stay platform-agnostic.
var nodeSysfsRoot = "/sys/devices/system/node"

// discoverOnce memoizes discover: sysfs/procfs topology never changes
// within a process's lifetime (spec §9, "must be fully constructed
// before any vCPU exists"), so repeat Discover callers (the NUMA
// controller, the CPU-group builder, a CLI's own bootstrap path) all
// get the first walk's result instead of re-reading sysfs.
var discoverOnce = onceutil.OnceValue(discover)

// Discover bootstraps the machine's pcpu count, page size, and NUMA
// node/pcpu membership from procfs/sysfs. Falls back to a single-node
// topology if sysfs NUMA information is unavailable (e.g. non-NUMA
// hardware, or a container without /sys/devices/system/node mounted).
// Safe to call from multiple goroutines; the underlying sysfs walk
// only ever runs once per process.
func Discover() (Topology, error) {
	return discoverOnce()
}

func discover() (Topology, error) {
	numPCPUs := int(processorinfo.ProcessorCount())
	pageSize := uint64(unix.Getpagesize())

	nodeOf, numNodes, err := discoverNodes(numPCPUs)
	if err != nil || numNodes == 0 {
		nodeOf = make([]int, numPCPUs)
		numNodes = 1
	}

	return Topology{
		NumPCPUs:      numPCPUs,
		NumNodes:      numNodes,
		PageSizeBytes: pageSize,
		NodeOfPCPU:    nodeOf,
	}, nil
}

func discoverNodes(numPCPUs int) ([]int, int, error) {
	entries, err := os.ReadDir(nodeSysfsRoot)
	if err != nil {
		return nil, 0, err
	}

	var nodeIDs []int
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "node"))
		if err != nil {
			continue
		}
		nodeIDs = append(nodeIDs, id)
	}
	if len(nodeIDs) == 0 {
		return nil, 0, os.ErrNotExist
	}
	sort.Ints(nodeIDs)

	nodeOf := make([]int, numPCPUs)
	for i := range nodeOf {
		nodeOf[i] = -1
	}
	for _, nid := range nodeIDs {
		cpulist, err := os.ReadFile(filepath.Join(nodeSysfsRoot, "node"+strconv.Itoa(nid), "cpulist"))
		if err != nil {
			continue
		}
		for _, pcpu := range parseCPUList(strings.TrimSpace(string(cpulist))) {
			if pcpu >= 0 && pcpu < numPCPUs {
				nodeOf[pcpu] = nid
			}
		}
	}
	// Any pcpu sysfs didn't account for is assigned to the first node,
	// rather than left at -1 (an invalid node would break every
	// downstream NUMA computation).
	for i, n := range nodeOf {
		if n == -1 {
			nodeOf[i] = nodeIDs[0]
		}
	}
	return nodeOf, len(nodeIDs), nil
}

// parseCPUList parses the kernel's "0-3,8,10-11" cpulist format.
func parseCPUList(s string) []int {
	var out []int
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for i := a; i <= b; i++ {
				out = append(out, i)
			}
		} else if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
