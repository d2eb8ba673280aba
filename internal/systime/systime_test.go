package systime

import "testing"

func TestStartPreventsNesting(t *testing.T) {
	p := NewPCPUState(1, 1) // probability 1/2, so a handful of attempts will hit

	started := false
	for i := 0; i < 100 && !started; i++ {
		started = p.Start(uint64(i), 5)
	}
	if !started {
		t.Fatal("expected Start to succeed at least once across 100 attempts")
	}
	if p.Start(1000, 9) {
		t.Fatal("expected Start to reject nesting while a sample is active")
	}
}

func TestDoneChargesAccumulator(t *testing.T) {
	p := NewPCPUState(7, 1)
	var acc Accumulator

	var startedAt uint64
	ok := false
	for i := uint64(0); i < 200 && !ok; i++ {
		ok = p.Start(i, 3)
		startedAt = i
	}
	if !ok {
		t.Fatal("never sampled across 200 attempts")
	}
	p.Done(startedAt+50, &acc)
	if acc.Total() != 50 {
		t.Fatalf("acc.Total() = %d, want 50", acc.Total())
	}
}

func TestDoneWithoutActiveSampleIsNoop(t *testing.T) {
	p := NewPCPUState(3, DefaultShift)
	var acc Accumulator
	p.Done(100, &acc)
	if acc.Total() != 0 {
		t.Fatalf("acc.Total() = %d, want 0 (Done with no active sample must be a no-op)", acc.Total())
	}
}

func TestSamplingRateApproximatesProbability(t *testing.T) {
	p := NewPCPUState(42, 3) // 1/8 probability
	const trials = 200000
	sampled := 0
	for i := 0; i < trials; i++ {
		if p.Start(uint64(i), 1) {
			sampled++
			p.Done(uint64(i)+1, &Accumulator{})
		}
	}
	rate := float64(sampled) / float64(trials)
	if rate < 0.10 || rate > 0.16 {
		t.Fatalf("sampling rate = %f, want close to 0.125 (1/2^3)", rate)
	}
}
