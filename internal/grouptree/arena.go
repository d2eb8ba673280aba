package grouptree

import "github.com/vmkern/coresched/internal/schederr"

// newGroupSlot allocates a group slot and the node slot that represents
// it as a member of its future parent, bumping both generations so any
// previously issued ID for either slot can never alias the new occupant.
func (t *Tree) newGroupSlot() (GroupID, NodeID) {
	gi := t.freeGroups[len(t.freeGroups)-1]
	t.freeGroups = t.freeGroups[:len(t.freeGroups)-1]
	t.groups[gi].generation++
	groupID := packGroupID(gi, t.groups[gi].generation)

	ni := t.freeNodes[len(t.freeNodes)-1]
	t.freeNodes = t.freeNodes[:len(t.freeNodes)-1]
	t.nodes[ni].generation++
	t.nodes[ni].inUse = true
	nodeID := packNodeID(ni, t.nodes[ni].generation)

	return groupID, nodeID
}

func (t *Tree) freeGroupSlot(id GroupID) {
	g := &t.groups[id.index()]
	*g = Group{generation: g.generation}
	t.freeGroups = append(t.freeGroups, id.index())
}

func (t *Tree) freeNodeSlot(id NodeID) {
	n := &t.nodes[id.index()]
	*n = Node{generation: n.generation}
	t.freeNodes = append(t.freeNodes, id.index())
}

// newVMNodeSlot allocates a node slot for a VM leaf (no accompanying
// group slot — a VM node's back-reference is a world ID, not a group).
func (t *Tree) newVMNodeSlot() (NodeID, error) {
	if len(t.freeNodes) == 0 {
		return InvalidNodeID, schederr.ErrNoFreeHandles
	}
	ni := t.freeNodes[len(t.freeNodes)-1]
	t.freeNodes = t.freeNodes[:len(t.freeNodes)-1]
	t.nodes[ni].generation++
	t.nodes[ni].inUse = true
	return packNodeID(ni, t.nodes[ni].generation), nil
}

// lookupGroup resolves id to its Group, checking the slot is in use and
// the generation matches (rejecting stale/aliased IDs).
func (t *Tree) lookupGroup(id GroupID) (*Group, error) {
	if id == InvalidGroupID || int(id.index()) >= len(t.groups) {
		return nil, schederr.ErrNotFound
	}
	g := &t.groups[id.index()]
	if !g.inUse || g.generation != id.generation() || g.removed {
		return nil, schederr.ErrNotFound
	}
	return g, nil
}

func (t *Tree) lookupNode(id NodeID) (*Node, error) {
	if id == InvalidNodeID || int(id.index()) >= len(t.nodes) {
		return nil, schederr.ErrNotFound
	}
	n := &t.nodes[id.index()]
	if !n.inUse || n.generation != id.generation() {
		return nil, schederr.ErrNotFound
	}
	return n, nil
}
