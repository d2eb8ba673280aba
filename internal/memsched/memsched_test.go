package memsched

import (
	"context"
	"errors"
	"testing"

	"github.com/vmkern/coresched/internal/grouptree"
	"github.com/vmkern/coresched/internal/numasched"
	"github.com/vmkern/coresched/internal/retry"
	"github.com/vmkern/coresched/internal/schederr"
)

// fakeReclaimer is a deterministic in-memory stand-in for the external
// memory-reclamation collaborator.
type fakeReclaimer struct {
	reserved   map[uint32]uint64
	rates      map[uint32]uint32
	migrated   map[uint32]int
	freeNode   map[int]uint64
	pages      map[uint32]map[int]uint64
	reserveErr error
}

func newFakeReclaimer() *fakeReclaimer {
	return &fakeReclaimer{
		reserved: make(map[uint32]uint64),
		rates:    make(map[uint32]uint32),
		migrated: make(map[uint32]int),
		freeNode: make(map[int]uint64),
		pages:    make(map[uint32]map[int]uint64),
	}
}

func (f *fakeReclaimer) FreePages() uint64            { return 0 }
func (f *fakeReclaimer) Watermarks() (uint64, uint64) { return 0, 0 }
func (f *fakeReclaimer) FreePagesOnNode(node int) uint64 {
	return f.freeNode[node]
}
func (f *fakeReclaimer) PagesOnNode(vsmpID uint32, node int) uint64 {
	return f.pages[vsmpID][node]
}
func (f *fakeReclaimer) ReserveMem(vsmpID uint32, bytes uint64) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved[vsmpID] = bytes
	return nil
}
func (f *fakeReclaimer) UnreserveMem(vsmpID uint32) error {
	delete(f.reserved, vsmpID)
	return nil
}
func (f *fakeReclaimer) SetMigRate(vsmpID uint32, rate uint32) error {
	f.rates[vsmpID] = rate
	return nil
}
func (f *fakeReclaimer) NumaMigrateVMM(vsmpID uint32) error {
	f.migrated[vsmpID]++
	return nil
}

func newTestTree(t *testing.T) (*grouptree.Tree, grouptree.GroupID) {
	t.Helper()
	tree := grouptree.NewTree(grouptree.DefaultConfig())
	groupID, err := tree.AddGroup("vm-pool", tree.Root(),
		grouptree.CPUAlloc{Max: 10000, Shares: 100},
		grouptree.MemAlloc{Max: 1 << 30, HardMax: 1 << 30})
	if err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	return tree, groupID
}

func TestReserveMemAdmitsWithinHeadroom(t *testing.T) {
	tree, group := newTestTree(t)
	recl := newFakeReclaimer()
	ctl := NewController(tree, recl)

	if err := ctl.ReserveMem(context.Background(), 1, group, 1<<20); err != nil {
		t.Fatalf("ReserveMem: %v", err)
	}
	if recl.reserved[1] != 1<<20 {
		t.Fatalf("reclaimer recorded %d bytes, want %d", recl.reserved[1], 1<<20)
	}
}

func TestReserveMemDeniedBeyondHeadroom(t *testing.T) {
	tree, group := newTestTree(t)
	recl := newFakeReclaimer()
	ctl := NewController(tree, recl)

	err := ctl.ReserveMem(context.Background(), 1, group, 1<<31)
	if !errors.Is(err, schederr.ErrAdmissionDenied) {
		t.Fatalf("ReserveMem over headroom = %v, want admission-denied", err)
	}
	if ctl.Stats().AdmissionDenied != 1 {
		t.Fatalf("AdmissionDenied = %d, want 1", ctl.Stats().AdmissionDenied)
	}
	if _, reserved := recl.reserved[1]; reserved {
		t.Fatalf("reclaimer should never have been called for a denied reservation")
	}
}

func TestReserveMemRollsBackOnCollaboratorFailure(t *testing.T) {
	tree, group := newTestTree(t)
	recl := newFakeReclaimer()
	recl.reserveErr = retry.Permanent(errors.New("reclaim unavailable"))
	ctl := NewController(tree, recl)

	err := ctl.ReserveMem(context.Background(), 1, group, 1<<20)
	if err == nil {
		t.Fatalf("expected ReserveMem to surface the collaborator failure")
	}
	// A second attempt must be admitted again since the failed attempt's
	// bookkeeping was rolled back rather than left claiming headroom.
	recl.reserveErr = nil
	if err := ctl.ReserveMem(context.Background(), 1, group, 1<<20); err != nil {
		t.Fatalf("ReserveMem retry after rollback: %v", err)
	}
}

func TestUnreserveMemIsIdempotentlyRejectedWhenAbsent(t *testing.T) {
	tree, group := newTestTree(t)
	recl := newFakeReclaimer()
	ctl := NewController(tree, recl)

	if err := ctl.ReserveMem(context.Background(), 1, group, 1<<20); err != nil {
		t.Fatalf("ReserveMem: %v", err)
	}
	if err := ctl.UnreserveMem(context.Background(), 1); err != nil {
		t.Fatalf("UnreserveMem: %v", err)
	}
	if err := ctl.UnreserveMem(context.Background(), 1); !errors.Is(err, schederr.ErrNotFound) {
		t.Fatalf("second UnreserveMem = %v, want not-found", err)
	}
}

// TestControllerSatisfiesNumaschedCollaborator exercises the wiring
// SPEC_FULL.md's domain stack calls for: a memsched Controller stands
// in directly as internal/numasched's external Collaborator.
func TestControllerSatisfiesNumaschedCollaborator(t *testing.T) {
	tree, _ := newTestTree(t)
	recl := newFakeReclaimer()
	ctl := NewController(tree, recl)
	var _ numasched.Collaborator = ctl

	recl.pages[7] = map[int]uint64{0: 10, 1: 90}
	if got := ctl.PagesOnNode(7, 1); got != 90 {
		t.Fatalf("PagesOnNode = %d, want 90", got)
	}
	if err := ctl.SetMigRate(7, 100); err != nil {
		t.Fatalf("SetMigRate: %v", err)
	}
	if recl.rates[7] != 100 {
		t.Fatalf("reclaimer rate = %d, want 100", recl.rates[7])
	}
	if err := ctl.NumaMigrateVMM(7); err != nil {
		t.Fatalf("NumaMigrateVMM: %v", err)
	}
	if recl.migrated[7] != 1 {
		t.Fatalf("migrated count = %d, want 1", recl.migrated[7])
	}
}
