// Package fixedpoint implements the 12-bit fixed-point arithmetic (C1)
// spec §4.6 specifies for exponentially weighted moving averages of load
// metrics: Q52.12 unsigned fixed point, with three decay constants tuned
// to 1-, 5-, and 15-minute averages at a 2-second sampling period.
package fixedpoint

import "math"

// Shift is the number of fractional bits.
const Shift = 12

// One is the fixed-point representation of the integer 1.
const One uint64 = 1 << Shift

// Num is a 12-bit fixed-point number stored in a uint64 to give update()
// headroom against overflow, per spec §4.6 ("all arithmetic uses
// unsigned 64-bit intermediates").
type Num uint64

// IntToFixedNum converts an integer sample into fixed-point.
func IntToFixedNum(n int64) Num {
	return Num(uint64(n) << Shift)
}

// FixedNumToDecimal splits a fixed-point number into its whole part and
// a milli (x1000) fractional part, e.g. 1.5 -> (1, 500).
func FixedNumToDecimal(f Num) (whole, milli int64) {
	whole = int64(uint64(f) >> Shift)
	frac := uint64(f) & (One - 1)
	milli = int64((frac * 1000) >> Shift)
	return whole, milli
}

// samplePeriodSeconds is the period spec §4.6 tunes the decay constants
// against: "2-second sampling period".
const samplePeriodSeconds = 2.0

// decayWeight computes EXP_m = 2^12 / 2^((2*log2(e))/(60*m)) for a target
// m-minute average, per spec §4.6's formula, generalized to an arbitrary
// sample period instead of hard-coding 2s, so callers can tune it (the
// spec's period is the default).
func decayWeight(targetMinutes float64, periodSeconds float64) uint64 {
	log2e := math.Log2(math.E)
	exponent := (periodSeconds * log2e) / (60 * targetMinutes)
	w := math.Exp2(float64(Shift) - exponent)
	return uint64(math.Round(w))
}

// Weights holds the three decay constants for the 1/5/15-minute windows.
type Weights struct {
	W1, W5, W15 uint64
}

// DefaultWeights returns the decay constants for the spec's default
// 2-second sampling period.
func DefaultWeights() Weights {
	return NewWeights(samplePeriodSeconds)
}

// NewWeights computes decay constants for an arbitrary sampling period.
func NewWeights(periodSeconds float64) Weights {
	return Weights{
		W1:  decayWeight(1, periodSeconds),
		W5:  decayWeight(5, periodSeconds),
		W15: decayWeight(15, periodSeconds),
	}
}

// update is new = (old*w + sample*(2^12 - w)) >> 12, the exponential
// moving average step from spec §4.6.
func update(old, sample Num, w uint64) Num {
	o := uint64(old)
	s := uint64(sample)
	return Num((o*w + s*(One-w)) >> Shift)
}

// EWMA tracks three decaying averages (1, 5, 15 minute windows) of a
// single fixed-point load sample, updated once per sampling period.
type EWMA struct {
	weights Weights
	load1   Num
	load5   Num
	load15  Num
	samples uint64
}

// NewEWMA returns an EWMA using the default (2s period) decay constants.
func NewEWMA() *EWMA {
	return &EWMA{weights: DefaultWeights()}
}

// NewEWMAWithWeights returns an EWMA using explicit decay constants,
// e.g. from NewWeights for a non-default sampling period.
func NewEWMAWithWeights(w Weights) *EWMA {
	return &EWMA{weights: w}
}

// Update folds one new sample into all three averages.
func (e *EWMA) Update(sample Num) {
	e.load1 = update(e.load1, sample, e.weights.W1)
	e.load5 = update(e.load5, sample, e.weights.W5)
	e.load15 = update(e.load15, sample, e.weights.W15)
	e.samples++
}

// Averages returns the three windows as fixed-point numbers.
func (e *EWMA) Averages() (m1, m5, m15 Num) {
	return e.load1, e.load5, e.load15
}

// Samples returns the number of Update calls folded in so far.
func (e *EWMA) Samples() uint64 {
	return e.samples
}
