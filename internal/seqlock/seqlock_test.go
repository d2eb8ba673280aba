package seqlock

import (
	"sync"
	"testing"
)

func TestReadStable(t *testing.T) {
	var s Seq
	var payload int64 = 42

	got := Read(&s, func() int64 { return payload })
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestBusyDuringWrite(t *testing.T) {
	var s Seq
	s.Begin()
	if !s.Busy() {
		t.Fatal("expected Busy() true between Begin and End")
	}
	s.End()
	if s.Busy() {
		t.Fatal("expected Busy() false after End")
	}
}

func TestConcurrentWriteRead(t *testing.T) {
	var s Seq
	var payload [2]int64 // must always satisfy payload[0] == payload[1]

	var wg sync.WaitGroup
	wg.Add(1)
	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		var n int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			n++
			s.Begin()
			payload[0] = n
			payload[1] = n
			s.End()
		}
	}()

	for i := 0; i < 10000; i++ {
		snap := Read(&s, func() [2]int64 { return payload })
		if snap[0] != snap[1] {
			t.Fatalf("torn read: %v", snap)
		}
	}
	close(stop)
	wg.Wait()
}
