package grouptree

import (
	"fmt"

	"github.com/vmkern/coresched/internal/schederr"
	"github.com/vmkern/coresched/internal/staticlist"
)

// AddGroup creates a new group under parent. If name is empty, a name is
// auto-generated. Rejects if depth would exceed the configured maximum,
// parent is a leaf, the name duplicates an existing group, or CPU/memory
// admission against parent fails (spec §4.3).
func (t *Tree) AddGroup(name string, parent GroupID, cpu CPUAlloc, mem MemAlloc) (GroupID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addGroupLocked(name, parent, cpu, mem, 0)
}

func (t *Tree) addGroupLocked(name string, parent GroupID, cpu CPUAlloc, mem MemAlloc, flags Flag) (GroupID, error) {
	p, err := t.lookupGroup(parent)
	if err != nil {
		return InvalidGroupID, err
	}
	if p.flags.Has(FlagLeaf) {
		return InvalidGroupID, schederr.ErrBadState
	}
	if p.depth+1 > t.maxDepth {
		return InvalidGroupID, schederr.ErrLimitExceeded
	}
	if name == "" {
		name = t.autoName()
	} else if len(name) > MaxNameLen {
		return InvalidGroupID, schederr.ErrInvalidArgument
	}
	if _, exists := t.names[name]; exists {
		return InvalidGroupID, schederr.ErrAlreadyExists
	}
	if len(t.freeGroups) == 0 || len(t.freeNodes) == 0 {
		return InvalidGroupID, schederr.ErrNoFreeHandles
	}

	if err := t.admitCPU(p, cpu.Min, InvalidGroupID); err != nil {
		return InvalidGroupID, err
	}
	if flags&FlagPredefined == 0 { // predefined groups bootstrap before memory bounds are meaningful
		if err := t.admitMemory(mem, parent, InvalidGroupID); err != nil {
			return InvalidGroupID, err
		}
	}

	id, selfNode := t.newGroupSlot()
	g := &t.groups[id.index()]
	*g = Group{
		inUse:      true,
		generation: g.generation,
		id:         id,
		name:       name,
		flags:      flags,
		parent:     parent,
		node:       selfNode,
		depth:      p.depth + 1,
		members:    staticlist.New[NodeID](MaxMembersPerGroup),
		CPU:        cpu,
		Mem:        mem,
	}
	t.names[name] = id

	n := &t.nodes[selfNode.index()]
	n.kind = NodeGroupKind
	n.groupRef = id
	n.parentGroup = parent

	if _, err := p.members.Append(selfNode); err != nil {
		// Capacity exhausted on the parent's member list: undo the
		// allocation so AddGroup has no partial effect.
		t.freeGroupSlot(id)
		t.freeNodeSlot(selfNode)
		delete(t.names, name)
		return InvalidGroupID, err
	}

	return id, nil
}

func (t *Tree) autoName() string {
	for {
		t.nextTempSeq++
		name := fmt.Sprintf("group-%d", t.nextTempSeq)
		if _, exists := t.names[name]; !exists {
			return name
		}
	}
}

// RemoveGroup removes an empty, non-predefined group. The group is
// detached and marked removed immediately; if its reference count is
// already zero it is reaped (slot freed) in the same call, otherwise
// reaping is deferred to the matching RemoveReference.
func (t *Tree) RemoveGroup(id GroupID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeGroupLocked(id)
}

func (t *Tree) removeGroupLocked(id GroupID) error {
	g, err := t.lookupGroup(id)
	if err != nil {
		return err
	}
	if g.flags.Has(FlagPredefined) {
		return schederr.ErrBadState
	}
	if g.members.Len() != 0 {
		return schederr.ErrBusy
	}

	p, err := t.lookupGroup(g.parent)
	if err != nil {
		return err
	}
	p.members.RemoveMatch(func(nid NodeID) bool { return nid == g.node })
	g.removed = true
	delete(t.names, g.name)

	if g.refCnt == 0 {
		t.reap(id)
	}
	return nil
}

func (t *Tree) reap(id GroupID) {
	g := &t.groups[id.index()]
	node := g.node
	t.freeGroupSlot(id)
	t.freeNodeSlot(node)
}

// RenameGroup changes a group's name. Rejects predefined groups and name
// conflicts.
func (t *Tree) RenameGroup(id GroupID, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, err := t.lookupGroup(id)
	if err != nil {
		return err
	}
	if g.flags.Has(FlagPredefined) {
		return schederr.ErrBadState
	}
	if newName == "" || len(newName) > MaxNameLen {
		return schederr.ErrInvalidArgument
	}
	if _, exists := t.names[newName]; exists {
		return schederr.ErrAlreadyExists
	}
	delete(t.names, g.name)
	g.name = newName
	t.names[newName] = id
	return nil
}

// isDescendant reports whether candidate is id itself or appears in id's
// subtree (used by MoveGroup to reject moves under a descendant).
func (t *Tree) isDescendant(id, candidate GroupID) bool {
	if id == candidate {
		return true
	}
	var walk func(GroupID) bool
	walk = func(cur GroupID) bool {
		g := &t.groups[cur.index()]
		found := false
		g.members.ForEach(func(_ int, nid NodeID) {
			if found {
				return
			}
			n := &t.nodes[nid.index()]
			if n.kind != NodeGroupKind {
				return
			}
			if n.groupRef == candidate || walk(n.groupRef) {
				found = true
			}
		})
		return found
	}
	return walk(id)
}

// MoveGroup re-parents id under newParent. CPU and memory admission
// against newParent are checked before any destructive step (spec §7:
// "admission checks are performed before any destructive step"), so a
// failure leaves id's parent and the tree's membership counts unchanged
// (spec §8 scenario 6).
func (t *Tree) MoveGroup(id, newParent GroupID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, err := t.lookupGroup(id)
	if err != nil {
		return err
	}
	if g.flags.Has(FlagPredefined) {
		return schederr.ErrBadState
	}
	np, err := t.lookupGroup(newParent)
	if err != nil {
		return err
	}
	if np.flags.Has(FlagLeaf) {
		return schederr.ErrBadState
	}
	if np.name == NurseryName {
		return schederr.ErrBadState
	}
	if t.isDescendant(id, newParent) {
		return schederr.ErrBadState
	}
	if np.depth+1 > t.maxDepth {
		return schederr.ErrLimitExceeded
	}

	if err := t.admitCPU(np, g.CPU.Min, id); err != nil {
		return err
	}
	if err := t.admitMemory(g.Mem, newParent, id); err != nil {
		return err
	}

	oldParent := g.parent
	op, err := t.lookupGroup(oldParent)
	if err != nil {
		return err
	}
	op.members.RemoveMatch(func(nid NodeID) bool { return nid == g.node })
	if _, err := np.members.Append(g.node); err != nil {
		// Restore the original parent: this leaves the tree exactly as
		// it was before MoveGroup was called. op had room for this node
		// a moment ago, so re-adding it cannot fail.
		_, _ = op.members.Append(g.node)
		return err
	}

	g.parent = newParent
	g.depth = np.depth + 1
	t.nodes[g.node.index()].parentGroup = newParent
	return nil
}

// ForAllGroupsDo iterates every live group under the tree lock. fn
// returning false stops the iteration early.
func (t *Tree) ForAllGroupsDo(fn func(g *Group) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.groups {
		g := &t.groups[i]
		if !g.inUse || g.removed {
			continue
		}
		if !fn(g) {
			return
		}
	}
}

// AddReference bumps a group's external reference count, protecting it
// against reaping across drops of the tree lock.
func (t *Tree) AddReference(id GroupID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, err := t.lookupGroup(id)
	if err != nil {
		return err
	}
	g.refCnt++
	return nil
}

// RemoveReference drops a group's external reference count, reaping the
// group if it was already marked removed and the count reaches zero.
func (t *Tree) RemoveReference(id GroupID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A removed group's slot is still addressable by index even though
	// lookupGroup rejects it once removed==true, so look it up directly.
	if int(id.index()) >= len(t.groups) {
		return schederr.ErrNotFound
	}
	g := &t.groups[id.index()]
	if !g.inUse || g.generation != id.generation() {
		return schederr.ErrNotFound
	}
	if g.refCnt == 0 {
		return schederr.ErrBadState
	}
	g.refCnt--
	if g.removed && g.refCnt == 0 {
		t.reap(id)
	}
	return nil
}
