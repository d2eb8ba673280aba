package grouptree

import (
	"errors"
	"testing"

	"github.com/vmkern/coresched/internal/schederr"
)

func newTestTree() *Tree {
	return NewTree(Config{MaxGroups: 64, MaxNodes: 128, MaxDepth: 4})
}

func TestPredefinedGroupsInstalled(t *testing.T) {
	tr := newTestTree()
	for _, name := range append([]string{"root"}, predefinedGroups...) {
		id, ok := tr.Predefined(name)
		if !ok {
			t.Fatalf("predefined group %q missing", name)
		}
		g, err := tr.lookupGroup(id)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		if !g.Flags().Has(FlagPredefined) {
			t.Fatalf("%q missing FlagPredefined", name)
		}
	}
}

func TestAddGroupRejectsDuplicateName(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	if _, err := tr.AddGroup("tenant-a", local, CPUAlloc{Max: 100}, MemAlloc{Max: 100}); err != nil {
		t.Fatalf("first AddGroup: %v", err)
	}
	if _, err := tr.AddGroup("tenant-a", local, CPUAlloc{Max: 100}, MemAlloc{Max: 100}); !errors.Is(err, schederr.ErrAlreadyExists) {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestAddGroupRejectsDepthOverflow(t *testing.T) {
	tr := newTestTree() // MaxDepth = 4
	parent, _ := tr.Predefined("local")
	var err error
	for i := 0; i < 10; i++ {
		var id GroupID
		id, err = tr.AddGroup("", parent, CPUAlloc{Max: ^uint64(0)}, MemAlloc{Max: ^uint64(0), HardMax: ^uint64(0)})
		if err != nil {
			break
		}
		parent = id
	}
	if !errors.Is(err, schederr.ErrLimitExceeded) {
		t.Fatalf("expected limit-exceeded eventually, got %v", err)
	}
}

func TestAddGroupAdmissionDeniedOverHeadroom(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	if _, err := tr.AddGroup("big", local, CPUAlloc{Min: 80}, MemAlloc{}); err != nil {
		t.Fatalf("AddGroup(big): %v", err)
	}
	tr.groups[local.index()].CPU.Max = 100 // cap parent so headroom is exhausted
	if _, err := tr.AddGroup("too-big", local, CPUAlloc{Min: 30}, MemAlloc{}); !errors.Is(err, schederr.ErrAdmissionDenied) {
		t.Fatalf("expected admission-denied, got %v", err)
	}
}

func TestRemoveGroupRejectsPredefinedAndBusy(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	if err := tr.RemoveGroup(local); !errors.Is(err, schederr.ErrBadState) {
		t.Fatalf("expected bad-state removing predefined, got %v", err)
	}
	child, _ := tr.AddGroup("a", local, CPUAlloc{}, MemAlloc{})
	if err := tr.JoinGroup(1, child, CPUAlloc{}); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := tr.RemoveGroup(child); !errors.Is(err, schederr.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestRemoveGroupIdempotence(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	child, _ := tr.AddGroup("solo", local, CPUAlloc{}, MemAlloc{})
	if err := tr.RemoveGroup(child); err != nil {
		t.Fatalf("first RemoveGroup: %v", err)
	}
	if err := tr.RemoveGroup(child); !errors.Is(err, schederr.ErrNotFound) {
		t.Fatalf("second RemoveGroup should be not-found, got %v", err)
	}
}

// TestMoveGroupRollback is spec §8 scenario 6: attempting to move a
// group under a parent that lacks memory capacity must leave the
// group's parent and membership counts unchanged.
func TestMoveGroupRollback(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	cluster, _ := tr.Predefined("cluster")

	g, err := tr.AddGroup("G", local, CPUAlloc{Min: 10}, MemAlloc{Min: 10, Max: 100, HardMax: 100})
	if err != nil {
		t.Fatalf("AddGroup(G): %v", err)
	}
	p, err := tr.AddGroup("P", cluster, CPUAlloc{Max: 1000}, MemAlloc{Max: 50, HardMax: 50})
	if err != nil {
		t.Fatalf("AddGroup(P): %v", err)
	}

	localBefore := tr.groups[local.index()].members.Len()
	pBefore := tr.groups[p.index()].members.Len()

	if err := tr.MoveGroup(g, p); !errors.Is(err, schederr.ErrAdmissionDenied) {
		t.Fatalf("expected admission-denied, got %v", err)
	}

	gg, err := tr.lookupGroup(g)
	if err != nil {
		t.Fatalf("lookup G after failed move: %v", err)
	}
	if gg.Parent() != local {
		t.Fatalf("G's parent changed to %v, want unchanged (%v)", gg.Parent(), local)
	}
	if tr.groups[local.index()].members.Len() != localBefore {
		t.Fatalf("local membership count changed")
	}
	if tr.groups[p.index()].members.Len() != pBefore {
		t.Fatalf("P membership count changed")
	}
}

func TestMoveGroupRejectsOntoNurseryAndDescendant(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	nursery, _ := tr.Predefined("uw-nursery")

	g, _ := tr.AddGroup("G", local, CPUAlloc{}, MemAlloc{})
	if err := tr.MoveGroup(g, nursery); !errors.Is(err, schederr.ErrBadState) {
		t.Fatalf("expected bad-state moving onto nursery, got %v", err)
	}

	child, _ := tr.AddGroup("child", g, CPUAlloc{}, MemAlloc{})
	if err := tr.MoveGroup(g, child); !errors.Is(err, schederr.ErrBadState) {
		t.Fatalf("expected bad-state moving under own descendant, got %v", err)
	}
}

func TestMoveGroupSucceeds(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	cluster, _ := tr.Predefined("cluster")
	g, _ := tr.AddGroup("G", local, CPUAlloc{Min: 5}, MemAlloc{Min: 5, Max: 10, HardMax: 10})

	if err := tr.MoveGroup(g, cluster); err != nil {
		t.Fatalf("MoveGroup: %v", err)
	}
	gg, _ := tr.lookupGroup(g)
	if gg.Parent() != cluster {
		t.Fatalf("parent = %v, want cluster", gg.Parent())
	}
	found := false
	tr.groups[cluster.index()].members.ForEach(func(_ int, nid NodeID) {
		if nid == gg.node {
			found = true
		}
	})
	if !found {
		t.Fatal("G's node not found among cluster's members after move")
	}
}

func TestAddGroupRejectsLeafParent(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	leaf, _ := tr.AddGroup("leafy", local, CPUAlloc{Max: 100}, MemAlloc{})
	tr.groups[leaf.index()].flags |= FlagLeaf
	other, _ := tr.AddGroup("other", local, CPUAlloc{Max: 100}, MemAlloc{})

	if _, err := tr.AddGroup("child", leaf, CPUAlloc{}, MemAlloc{}); !errors.Is(err, schederr.ErrBadState) {
		t.Fatalf("expected bad-state adding under a leaf group, got %v", err)
	}
	if err := tr.MoveGroup(other, leaf); !errors.Is(err, schederr.ErrBadState) {
		t.Fatalf("expected bad-state moving under a leaf group, got %v", err)
	}
}

func TestJoinLeaveGroupSelfDestruct(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	g, _ := tr.AddGroup("ephemeral", local, CPUAlloc{Max: 100}, MemAlloc{})
	tr.groups[g.index()].flags |= FlagSelfDestruct

	if err := tr.JoinGroup(42, g, CPUAlloc{Min: 1}); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := tr.LeaveGroup(42); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	if _, err := tr.lookupGroup(g); !errors.Is(err, schederr.ErrNotFound) {
		t.Fatalf("expected group reaped after last member left, got %v", err)
	}
}

func TestChangeGroupPreservesAllocation(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	cluster, _ := tr.Predefined("cluster")

	if err := tr.JoinGroup(7, local, CPUAlloc{Min: 20}); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := tr.ChangeGroup(7, cluster); err != nil {
		t.Fatalf("ChangeGroup: %v", err)
	}
	nid := tr.leaderIndex[7]
	n, err := tr.lookupNode(nid)
	if err != nil {
		t.Fatalf("lookupNode: %v", err)
	}
	if n.parentGroup != cluster {
		t.Fatalf("parentGroup = %v, want cluster", n.parentGroup)
	}
	if n.vmAlloc.Min != 20 {
		t.Fatalf("vmAlloc.Min = %d, want 20 (preserved across ChangeGroup)", n.vmAlloc.Min)
	}
}

func TestReferenceCounting(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	g, _ := tr.AddGroup("refd", local, CPUAlloc{}, MemAlloc{})

	if err := tr.AddReference(g); err != nil {
		t.Fatalf("AddReference: %v", err)
	}
	if err := tr.RemoveGroup(g); err != nil {
		t.Fatalf("RemoveGroup: %v", err)
	}
	// Still referenced: lookupGroup now reports not-found because
	// removed is set, but the slot is not yet reaped.
	if tr.groups[g.index()].inUse == false {
		t.Fatal("group slot reaped while still referenced")
	}
	if err := tr.RemoveReference(g); err != nil {
		t.Fatalf("RemoveReference: %v", err)
	}
	if tr.groups[g.index()].inUse {
		t.Fatal("group slot not reaped after last reference dropped")
	}
}

func TestForAllGroupsDoStopsEarly(t *testing.T) {
	tr := newTestTree()
	local, _ := tr.Predefined("local")
	for i := 0; i < 3; i++ {
		if _, err := tr.AddGroup("", local, CPUAlloc{}, MemAlloc{}); err != nil {
			t.Fatalf("AddGroup: %v", err)
		}
	}
	count := 0
	tr.ForAllGroupsDo(func(g *Group) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("iteration count = %d, want 2 (stopped early)", count)
	}
}
