package main

import "sync"

// fakeReclaimer is a simulated memory-reclamation collaborator (the
// external subsystem internal/numasched and internal/memsched both talk
// to via internal/memsched.Reclaimer): a fixed page budget per NUMA
// node, with per-vsmp residency tracked well enough to drive initial
// placement and monitor-migration decisions realistically.
type fakeReclaimer struct {
	mu sync.Mutex

	pagesPerNode []uint64
	freePerNode  []uint64
	residency    map[uint32][]uint64 // vsmpID -> pages per node

	migRate map[uint32]uint32
}

func newFakeReclaimer(numNodes int, pagesPerNode uint64) *fakeReclaimer {
	pages := make([]uint64, numNodes)
	free := make([]uint64, numNodes)
	for i := range pages {
		pages[i] = pagesPerNode
		free[i] = pagesPerNode
	}
	return &fakeReclaimer{
		pagesPerNode: pages,
		freePerNode:  free,
		residency:    make(map[uint32][]uint64),
		migRate:      make(map[uint32]uint32),
	}
}

func (r *fakeReclaimer) FreePagesOnNode(node int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node < 0 || node >= len(r.freePerNode) {
		return 0
	}
	return r.freePerNode[node]
}

func (r *fakeReclaimer) PagesOnNode(vsmpID uint32, node int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.residency[vsmpID]
	if node < 0 || node >= len(res) {
		return 0
	}
	return res[node]
}

// settle moves pages*rate/100 of a vsmp's resident pages (rate is its
// migration rate, 1 when unset; at least one page) onto home from the
// first other node that holds any, as if
// the page-migration-rate/monitor-migration commands this tick issued
// had already completed. Called by the scenario loop once per period
// rather than modeled as an async background mover, since the
// simulator only needs a plausible locality signal for the next
// rebalance pass to react to.
func (r *fakeReclaimer) settle(vsmpID uint32, home int, pages uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.residency[vsmpID]
	if res == nil {
		res = make([]uint64, len(r.pagesPerNode))
		r.residency[vsmpID] = res
	}
	rate := r.migRate[vsmpID]
	if rate == 0 {
		rate = 1
	}
	moving := pages * uint64(rate) / 100
	if moving == 0 {
		moving = 1
	}
	for n := range res {
		if n == home || res[n] == 0 {
			continue
		}
		if moving > res[n] {
			moving = res[n]
		}
		res[n] -= moving
		res[home] += moving
		break
	}
}

func (r *fakeReclaimer) ReserveMem(vsmpID uint32, bytes uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return nil
}

func (r *fakeReclaimer) UnreserveMem(vsmpID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.residency, vsmpID)
	delete(r.migRate, vsmpID)
	return nil
}

func (r *fakeReclaimer) SetMigRate(vsmpID uint32, rate uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migRate[vsmpID] = rate
	return nil
}

func (r *fakeReclaimer) NumaMigrateVMM(vsmpID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.residency[vsmpID]
	if res == nil {
		return nil
	}
	// A monitor-migration trigger is a one-shot forced consolidation onto
	// the node currently holding the most pages, rather than the gradual
	// rate-limited drift settle() applies each period.
	best, bestPages := 0, uint64(0)
	for n, p := range res {
		if p > bestPages {
			best, bestPages = n, p
		}
	}
	for n := range res {
		if n != best {
			res[best] += res[n]
			res[n] = 0
		}
	}
	return nil
}

func (r *fakeReclaimer) FreePages() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for _, f := range r.freePerNode {
		total += f
	}
	return total
}

func (r *fakeReclaimer) Watermarks() (low, high uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for _, p := range r.pagesPerNode {
		total += p
	}
	return total / 10, total / 4
}
