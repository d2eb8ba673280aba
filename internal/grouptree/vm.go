package grouptree

import "github.com/vmkern/coresched/internal/schederr"

// JoinGroup attaches a VM leaf (identified by its leader world ID) to
// group id as a member. alloc is the VM's own CPU reservation, used by
// cpuHeadroom exactly like a child group's CPU.Min.
func (t *Tree) JoinGroup(leader uint32, id GroupID, alloc CPUAlloc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joinGroupLocked(leader, id, alloc)
}

func (t *Tree) joinGroupLocked(leader uint32, id GroupID, alloc CPUAlloc) error {
	if _, exists := t.leaderIndex[leader]; exists {
		return schederr.ErrAlreadyExists
	}
	g, err := t.lookupGroup(id)
	if err != nil {
		return err
	}
	if err := t.admitCPU(g, alloc.Min, InvalidGroupID); err != nil {
		return err
	}

	nid, err := t.newVMNodeSlot()
	if err != nil {
		return err
	}
	n := &t.nodes[nid.index()]
	n.kind = NodeVM
	n.leaderRef = leader
	n.vmAlloc = alloc
	n.parentGroup = id

	if _, err := g.members.Append(nid); err != nil {
		t.freeNodeSlot(nid)
		return err
	}
	t.leaderIndex[leader] = nid
	g.flags |= FlagVM
	return nil
}

// LeaveGroup detaches the VM leaf for leader from its current group. If
// the group carries FlagSelfDestruct and this was its last member, the
// group is reaped automatically (spec §4.3).
func (t *Tree) LeaveGroup(leader uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveGroupLocked(leader)
}

func (t *Tree) leaveGroupLocked(leader uint32) error {
	nid, ok := t.leaderIndex[leader]
	if !ok {
		return schederr.ErrNotFound
	}
	n, err := t.lookupNode(nid)
	if err != nil {
		return err
	}
	g, err := t.lookupGroup(n.parentGroup)
	if err != nil {
		return err
	}
	g.members.RemoveMatch(func(x NodeID) bool { return x == nid })
	delete(t.leaderIndex, leader)
	t.freeNodeSlot(nid)

	if g.flags.Has(FlagSelfDestruct) && g.members.Len() == 0 && !g.flags.Has(FlagPredefined) {
		return t.removeGroupLocked(g.id)
	}
	return nil
}

// ChangeGroup atomically re-parents the VM leaf for world into newParent
// while preserving its CPU allocation identity across the move (spec
// §4.3): it reserves the allocation under newParent via a temporary
// child group first, so admission is evaluated exactly once against a
// stable snapshot of newParent's headroom, then re-parents the VM
// directly and discards the temporary.
func (t *Tree) ChangeGroup(world uint32, newParent GroupID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	nid, ok := t.leaderIndex[world]
	if !ok {
		return schederr.ErrNotFound
	}
	n, err := t.lookupNode(nid)
	if err != nil {
		return err
	}
	np, err := t.lookupGroup(newParent)
	if err != nil {
		return err
	}
	if np.flags.Has(FlagLeaf) {
		return schederr.ErrBadState
	}

	vmAlloc := n.vmAlloc
	tempID, err := t.addGroupLocked("", newParent, vmAlloc, MemAlloc{}, 0)
	if err != nil {
		return err
	}

	oldParent, err := t.lookupGroup(n.parentGroup)
	if err != nil {
		t.removeGroupLocked(tempID)
		return err
	}
	oldParent.members.RemoveMatch(func(x NodeID) bool { return x == nid })
	if _, err := np.members.Append(nid); err != nil {
		_, _ = oldParent.members.Append(nid)
		t.removeGroupLocked(tempID)
		return err
	}
	n.parentGroup = newParent

	if err := t.removeGroupLocked(tempID); err != nil {
		// The temporary group was never joined and has no references,
		// so it can always be removed; surfacing an error here would
		// indicate arena corruption rather than a recoverable condition.
		return err
	}
	return nil
}
