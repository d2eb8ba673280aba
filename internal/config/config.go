// Package config holds the runtime-mutable scheduler options spec §6
// lists ("all runtime-mutable via config channel"): NUMA rebalance
// tuning, load-history sampling period, and the console group's minimum
// CPU reservation.
package config

import "sync/atomic"

// Options is one immutable snapshot of the scheduler's runtime-mutable
// configuration. Update swaps in a new Options value atomically; any
// goroutine holding an older snapshot from Load keeps observing
// consistent values from that snapshot, never a torn mix of old and new
// fields.
type Options struct {
	NumaRebalance bool
	NumaPageMig   bool

	NumaRebalancePeriodMs    uint64
	NumaMigThreshold         uint64
	NumaSwapLocalityThresh   uint64
	NumaAutoMemAffinity      bool
	NumaRoundRobin           bool
	NumaMonMigHistory        uint64
	NumaMonMigLocality       uint64
	CPULoadHistorySamplePeriodMs uint64
	CPUMinCOS                uint64
}

// Defaults returns the spec's implied defaults: NUMA features enabled,
// a 5s rebalance period, a 2s load-history sample period (spec §4.5,
// §6).
func Defaults() Options {
	return Options{
		NumaRebalance:                true,
		NumaPageMig:                  true,
		NumaRebalancePeriodMs:        5000,
		NumaMigThreshold:             50,
		NumaSwapLocalityThresh:       10,
		NumaAutoMemAffinity:          true,
		NumaRoundRobin:               true,
		NumaMonMigHistory:            3,
		NumaMonMigLocality:           3,
		CPULoadHistorySamplePeriodMs: 2000,
		CPUMinCOS:                    0,
	}
}

// Store is the process-wide config-channel endpoint: a single atomic
// pointer swapped wholesale on Update, read lock-free on the hot path
// (every scheduler tick consults NumaRebalancePeriodMs and friends).
type Store struct {
	v atomic.Pointer[Options]
}

// NewStore returns a Store initialized to Defaults.
func NewStore() *Store {
	s := &Store{}
	opts := Defaults()
	s.v.Store(&opts)
	return s
}

// Load returns the current options snapshot.
func (s *Store) Load() Options {
	return *s.v.Load()
}

// Update replaces the current options wholesale with opts.
func (s *Store) Update(opts Options) {
	o := opts
	s.v.Store(&o)
}

// Mutate applies fn to a copy of the current options and stores the
// result, for callers that only want to change a subset of fields (e.g.
// a single config-channel write).
func (s *Store) Mutate(fn func(*Options)) {
	cur := s.Load()
	fn(&cur)
	s.Update(cur)
}
