// Package loadhistory implements the per-vCPU and per-group load-history
// ring (C2, spec §4.5): a fixed-size ring of run/ready samples shared
// across one global index, summarized over three timescales.
package loadhistory

import (
	"sync"
	"sync/atomic"
)

// MaxSamples is the ring's fixed capacity (spec §3: "Fixed ring of ≤ 180
// samples per entity").
const MaxSamples = 180

// Timescales are the three windows spec §4.5 summarizes: the most
// recent 10, 50, and 150 samples.
const (
	Timescale10  = 10
	Timescale50  = 50
	Timescale150 = 150
)

// Sample is one (run-ms, ready-ms) pair.
type Sample struct {
	RunMs   uint32
	ReadyMs uint32
}

func pack(s Sample) uint64 {
	return uint64(s.RunMs)<<32 | uint64(s.ReadyMs)
}

func unpack(v uint64) Sample {
	return Sample{RunMs: uint32(v >> 32), ReadyMs: uint32(v)}
}

// Ring is a fixed-size, lock-free ring of samples for one vCPU or group.
// Slots are stored as packed atomic words so a writer appending the
// newest sample never blocks a reader walking recent history, matching
// spec §9's "ring-wrap races cannot corrupt the summary" relaxation: a
// reader only ever looks at the most recent Timescale150 entries, which
// a single concurrent writer (advancing one slot per period) cannot
// overwrite out from under a bounded-length backward scan.
type Ring struct {
	slots [MaxSamples]atomic.Uint64
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{}
}

// Record stores sample at the slot for globalIndex. globalIndex should
// come from a Clock shared by every ring in the system (spec §3: "the
// ring is global... so any two rings can be aligned by index
// arithmetic").
func (r *Ring) Record(globalIndex uint64, s Sample) {
	r.slots[globalIndex%MaxSamples].Store(pack(s))
}

// at returns the sample recorded at globalIndex, or the zero Sample if
// nothing has been recorded there yet.
func (r *Ring) at(globalIndex uint64) Sample {
	return unpack(r.slots[globalIndex%MaxSamples].Load())
}

// Clock is the global sampling index shared by every Ring in the
// process (spec §3). Advance is called once per load-history sampling
// period (spec §6, CPU_LOAD_HISTORY_SAMPLE_PERIOD).
//
// Design Notes §9's Open Question ("forEach... snapshots the global
// ring index WITHOUT the history lock") is resolved here by taking a
// brief RWMutex around the index itself: see DESIGN.md. The per-entry
// payload is still read lock-free via the atomic slots above, so this
// lock is only ever held for a single integer read or increment.
type Clock struct {
	mu    sync.RWMutex
	index uint64
}

// NewClock returns a Clock starting at index 0.
func NewClock() *Clock {
	return &Clock{}
}

// Advance increments the global index and returns the new value.
func (c *Clock) Advance() uint64 {
	c.mu.Lock()
	c.index++
	v := c.index
	c.mu.Unlock()
	return v
}

// Index returns the current global index without advancing it.
func (c *Clock) Index() uint64 {
	c.mu.RLock()
	v := c.index
	c.mu.RUnlock()
	return v
}
