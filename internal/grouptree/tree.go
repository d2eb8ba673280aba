package grouptree

import (
	"sync"

	"github.com/vmkern/coresched/internal/staticlist"
)

// Tree is the process-wide group tree singleton (spec §9,
// "process-wide state"): a tree-wide lock, a fixed-size group arena, and
// a fixed-size node arena. All mutators take the tree lock.
type Tree struct {
	mu sync.Mutex

	groups []Group
	nodes  []Node

	freeGroups []uint32
	freeNodes  []uint32

	names       map[string]GroupID
	leaderIndex map[uint32]NodeID

	root       GroupID
	predefined map[string]GroupID

	maxDepth int

	nextTempSeq uint64
}

// Config controls the tree's fixed capacities and limits.
type Config struct {
	MaxGroups int
	MaxNodes  int
	MaxDepth  int
}

// DefaultConfig returns sane defaults sized for a large hypervisor host.
func DefaultConfig() Config {
	return Config{MaxGroups: 4096, MaxNodes: 8192, MaxDepth: DefaultMaxDepth}
}

// NewTree allocates the group and node arenas and instantiates the
// predefined, non-removable groups (spec §4.3: "a compile-time list
// instantiates the root and its non-removable children").
func NewTree(cfg Config) *Tree {
	if cfg.MaxGroups <= 0 {
		cfg.MaxGroups = DefaultConfig().MaxGroups
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = DefaultConfig().MaxNodes
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	t := &Tree{
		groups:      make([]Group, cfg.MaxGroups),
		nodes:       make([]Node, cfg.MaxNodes),
		names:       make(map[string]GroupID),
		leaderIndex: make(map[uint32]NodeID),
		predefined:  make(map[string]GroupID),
		maxDepth:    cfg.MaxDepth,
	}
	for i := cfg.MaxGroups - 1; i >= 0; i-- {
		t.freeGroups = append(t.freeGroups, uint32(i))
	}
	for i := cfg.MaxNodes - 1; i >= 0; i-- {
		t.freeNodes = append(t.freeNodes, uint32(i))
	}

	t.installPredefined()
	return t
}

// predefinedGroups names the root's non-removable children, in the order
// they are created (spec §4.3). The root itself is implicit (its own
// group is also predefined).
var predefinedGroups = []string{"idle", "system", "local", "cluster", "uw-nursery", "helper", "drivers"}

// NurseryName is the predefined group MoveGroup rejects as a target
// (spec §4.3: "Rejects moves onto the nursery").
const NurseryName = "uw-nursery"

func (t *Tree) installPredefined() {
	rootID, rootNode := t.newGroupSlot()
	root := &t.groups[rootID.index()]
	*root = Group{
		inUse:      true,
		generation: root.generation,
		id:         rootID,
		name:       "root",
		flags:      FlagPredefined | FlagSystem,
		parent:     InvalidGroupID,
		node:       rootNode,
		depth:      0,
		members:    staticlist.New[NodeID](MaxMembersPerGroup),
		CPU:        CPUAlloc{Max: ^uint64(0), Shares: 1},
		Mem:        MemAlloc{Max: ^uint64(0), HardMax: ^uint64(0)},
	}
	t.names[root.name] = rootID
	t.predefined[root.name] = rootID
	t.root = rootID

	n := &t.nodes[rootNode.index()]
	n.kind = NodeGroupKind
	n.groupRef = rootID
	n.parentGroup = InvalidGroupID

	for _, name := range predefinedGroups {
		id, err := t.addGroupLocked(name, rootID,
			CPUAlloc{Shares: 1, Max: ^uint64(0)},
			MemAlloc{Max: ^uint64(0), HardMax: ^uint64(0)},
			FlagPredefined)
		if err != nil {
			// The root starts with unlimited headroom, so a predefined
			// child can never fail admission; a failure here is a
			// construction-time bug, not a runtime condition.
			panic("grouptree: failed to install predefined group " + name + ": " + err.Error())
		}
		t.predefined[name] = id
	}
}

// Root returns the root group's ID.
func (t *Tree) Root() GroupID { return t.root }

// Predefined looks up a predefined group by its compile-time name
// ("idle", "system", "local", "cluster", "uw-nursery", "helper",
// "drivers", "root").
func (t *Tree) Predefined(name string) (GroupID, bool) {
	id, ok := t.predefined[name]
	return id, ok
}
