package loadhistory

import "sort"

// Percentiles are the five quintile points spec §4.5 names: 80/60/40/20/0
// percentile of run+ready, computed over a descending-sorted copy of the
// window.
var Percentiles = [5]int{80, 60, 40, 20, 0}

// Summary is the min/max/mean/quintile summary of one timescale window.
type Summary struct {
	Min       uint32
	Max       uint32
	Mean      uint32
	Quintiles [5]uint32 // aligned with Percentiles
}

// Allocator supplies and releases the scratch buffer a Summarize call
// sorts into. Spec §4.5 requires the implementation to "allocate and
// free a scratch buffer per snapshot request and tolerate allocation
// failure (omit summary silently)"; Go allocation essentially never
// fails, so this indirection exists to let callers (and tests) simulate
// that failure path deterministically — e.g. a bounded pool that is
// temporarily exhausted during a burst of concurrent snapshot requests.
type Allocator interface {
	Get(n int) ([]uint32, bool)
	Put([]uint32)
}

// defaultAllocator always succeeds, backed by a plain make().
type defaultAllocator struct{}

func (defaultAllocator) Get(n int) ([]uint32, bool) { return make([]uint32, 0, n), true }
func (defaultAllocator) Put([]uint32)               {}

// DefaultAllocator is the always-succeeds Allocator used when a caller
// does not need to exercise the allocation-failure path.
var DefaultAllocator Allocator = defaultAllocator{}

// Summarize computes the Summary for the most recent window samples in
// r as of currentIndex (exclusive of currentIndex itself — currentIndex
// is the slot the next sample will be written to). window should be one
// of Timescale10/50/150. Returns ok=false (summary omitted, per spec)
// if the allocator could not supply a scratch buffer.
func Summarize(r *Ring, currentIndex uint64, window int, alloc Allocator) (Summary, bool) {
	if alloc == nil {
		alloc = DefaultAllocator
	}
	scratch, ok := alloc.Get(window)
	if !ok {
		return Summary{}, false
	}
	defer alloc.Put(scratch)

	n := window
	if uint64(n) > currentIndex {
		n = int(currentIndex)
	}
	if n <= 0 {
		return Summary{}, false
	}

	var sum uint64
	min0 := ^uint32(0)
	max0 := uint32(0)
	for i := 0; i < n; i++ {
		idx := currentIndex - 1 - uint64(i)
		s := r.at(idx)
		total := s.RunMs + s.ReadyMs
		scratch = append(scratch, total)
		sum += uint64(total)
		if total < min0 {
			min0 = total
		}
		if total > max0 {
			max0 = total
		}
	}

	sort.Slice(scratch, func(i, j int) bool { return scratch[i] > scratch[j] }) // descending, per spec

	out := Summary{Min: min0, Max: max0, Mean: uint32(sum / uint64(n))}
	for i, p := range Percentiles {
		out.Quintiles[i] = percentileOf(scratch, p)
	}
	return out, true
}

// percentileOf picks the value at percentile p (0-100) out of a
// descending-sorted slice: p=100 is the maximum (index 0), p=0 is the
// minimum (last index).
func percentileOf(descending []uint32, p int) uint32 {
	n := len(descending)
	if n == 0 {
		return 0
	}
	rank := (100 - p) * (n - 1)
	idx := rank / 100
	if idx >= n {
		idx = n - 1
	}
	return descending[idx]
}
