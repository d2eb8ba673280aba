package loadhistory

import "testing"

func TestRecordAndSummarizeConstantLoad(t *testing.T) {
	r := NewRing()
	c := NewClock()
	for i := 0; i < Timescale150; i++ {
		idx := c.Advance() - 1
		r.Record(idx, Sample{RunMs: 100, ReadyMs: 20})
	}
	sum, ok := Summarize(r, c.Index(), Timescale10, nil)
	if !ok {
		t.Fatal("expected summary, got ok=false")
	}
	if sum.Min != 120 || sum.Max != 120 || sum.Mean != 120 {
		t.Fatalf("constant-load summary = %+v, want min=max=mean=120", sum)
	}
	for i, q := range sum.Quintiles {
		if q != 120 {
			t.Fatalf("quintile[%d] = %d, want 120", i, q)
		}
	}
}

func TestSummarizeVaryingLoadOrdering(t *testing.T) {
	r := NewRing()
	c := NewClock()
	// Write ascending totals 1..10 across the most recent 10 slots.
	for i := 1; i <= 10; i++ {
		idx := c.Advance() - 1
		r.Record(idx, Sample{RunMs: uint32(i), ReadyMs: 0})
	}
	sum, ok := Summarize(r, c.Index(), Timescale10, nil)
	if !ok {
		t.Fatal("expected summary, got ok=false")
	}
	if sum.Min != 1 {
		t.Fatalf("min = %d, want 1", sum.Min)
	}
	if sum.Max != 10 {
		t.Fatalf("max = %d, want 10", sum.Max)
	}
	// Quintiles are sampled from a descending sort, so they must themselves
	// be non-increasing from the 80th to the 0th percentile, and bounded
	// by [min, max].
	for i := 1; i < len(sum.Quintiles); i++ {
		if sum.Quintiles[i] > sum.Quintiles[i-1] {
			t.Fatalf("quintiles not descending: %+v", sum.Quintiles)
		}
	}
	if sum.Quintiles[0] > sum.Max || sum.Quintiles[4] < sum.Min {
		t.Fatalf("quintiles %+v out of [min=%d, max=%d] bounds", sum.Quintiles, sum.Min, sum.Max)
	}
	// 0th percentile should land on the minimum exactly (last element of
	// a descending sort).
	if sum.Quintiles[4] != sum.Min {
		t.Fatalf("0th percentile quintile = %d, want %d (the min)", sum.Quintiles[4], sum.Min)
	}
}

func TestSummarizeEmptyHistory(t *testing.T) {
	r := NewRing()
	c := NewClock()
	if _, ok := Summarize(r, c.Index(), Timescale10, nil); ok {
		t.Fatal("expected ok=false with zero recorded samples")
	}
}

// failingAllocator simulates exhaustion of a bounded scratch-buffer pool.
type failingAllocator struct{}

func (failingAllocator) Get(n int) ([]uint32, bool) { return nil, false }
func (failingAllocator) Put([]uint32)               {}

func TestSummarizeToleratesAllocationFailure(t *testing.T) {
	r := NewRing()
	c := NewClock()
	r.Record(c.Advance()-1, Sample{RunMs: 5})
	if _, ok := Summarize(r, c.Index(), Timescale10, failingAllocator{}); ok {
		t.Fatal("expected summary to be silently omitted when the allocator fails")
	}
}

func TestClockAdvanceIsMonotonic(t *testing.T) {
	c := NewClock()
	prev := c.Index()
	for i := 0; i < 1000; i++ {
		next := c.Advance()
		if next <= prev {
			t.Fatalf("Advance() = %d, want > %d", next, prev)
		}
		prev = next
	}
}
