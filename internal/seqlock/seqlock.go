// Package seqlock implements the single-writer/many-reader versioned
// atomic snapshot pattern from spec §5 and §9: fields updated by one
// writer under an external lock (a cell lock, in the CPU scheduler) but
// read from other CPUs without taking that lock.
//
// The writer brackets an update with Begin/End. Readers loop via Read,
// which retries until it observes a stable (v0 == v1) snapshot. The
// function passed to Read must be idempotent — it may be invoked more
// than once and must not accumulate into anything outside its own
// return value (spec §5).
package seqlock

import "sync/atomic"

// Seq is a two-counter sequence lock. The zero value is usable.
type Seq struct {
	v0 atomic.Uint32
	v1 atomic.Uint32
}

// Begin marks the start of a write. Call End when the write is complete.
func (s *Seq) Begin() {
	s.v0.Add(1)
}

// End marks the end of a write started by Begin.
func (s *Seq) End() {
	s.v1.Store(s.v0.Load())
}

// Read invokes fn repeatedly until it observes a consistent snapshot
// (the sequence did not change across fn's execution), and returns fn's
// last result. fn must be idempotent: it is called at least once, and
// possibly several times, under contention with a concurrent writer.
func Read[T any](s *Seq, fn func() T) T {
	for {
		v1 := s.v1.Load()
		val := fn()
		v0 := s.v0.Load()
		if v0 == v1 {
			return val
		}
	}
}

// Busy reports whether a writer is currently between Begin and End.
func (s *Seq) Busy() bool {
	return s.v0.Load() != s.v1.Load()
}
