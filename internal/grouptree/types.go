package grouptree

import "github.com/vmkern/coresched/internal/staticlist"

// Flag bits a Group or Node can carry (spec §3).
type Flag uint16

const (
	FlagLeaf Flag = 1 << iota
	FlagPredefined
	FlagVM
	FlagMemschedClient
	FlagSystem
	FlagSelfDestruct
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// MaxNameLen bounds Group.Name, per spec §3 "length-bounded".
const MaxNameLen = 64

// MaxMembersPerGroup bounds the fixed-capacity member list of a single
// group (spec §9's staticlist generic vector).
const MaxMembersPerGroup = 256

// DefaultMaxDepth is SCHED_NODE_DEPTH_MAX, the compile-time bound on
// tree depth (spec §3, §8).
const DefaultMaxDepth = 16

// ShareUnit names one of the five ways a CPU or memory allocation can be
// expressed (spec §6, "Share units").
type ShareUnit int

const (
	UnitPercent ShareUnit = iota
	UnitMHz
	UnitMB
	UnitPages
	UnitBShares
)

// CPUAlloc is a group's or VM's CPU allocation (spec §3).
type CPUAlloc struct {
	Min    uint64
	Max    uint64
	Shares uint64
	Units  ShareUnit
}

// MemAlloc is a group's memory allocation (spec §3).
type MemAlloc struct {
	Min      uint64
	Max      uint64
	Shares   uint64
	MinLimit uint64
	HardMax  uint64
}

// NodeKind tags what a Node's back-reference points to (spec §9,
// "polymorphic nodes").
type NodeKind uint8

const (
	NodeInvalid NodeKind = iota
	NodeVM
	NodeGroupKind
)

// Node is a tagged variant of {VM(leader-ref), Group(group-ref), Invalid}.
// Every non-root node has exactly one parent group.
type Node struct {
	inUse       bool
	generation  uint32
	kind        NodeKind
	groupRef    GroupID // valid when kind == NodeGroupKind
	leaderRef   uint32  // world ID; valid when kind == NodeVM
	vmAlloc     CPUAlloc
	parentGroup GroupID
}

// Group is one node in the scheduler tree (spec §3).
type Group struct {
	inUse      bool
	generation uint32

	id      GroupID
	name    string
	flags   Flag
	refCnt  int32
	parent  GroupID
	node    NodeID // this group's own node entry, held as a member of parent
	depth   int
	removed bool

	members *staticlist.List[NodeID]

	CPU CPUAlloc
	Mem MemAlloc

	// Virtual-time accounting derived by the CPU scheduler core (§4.1);
	// the tree only stores and forwards these, it does not compute them.
	VTime  uint64
	Stride uint64
}

// ID returns the group's stable identifier.
func (g *Group) ID() GroupID { return g.id }

// Name returns the group's human-readable name.
func (g *Group) Name() string { return g.name }

// Flags returns the group's flag bits.
func (g *Group) Flags() Flag { return g.flags }

// RefCount returns the group's external observer reference count.
func (g *Group) RefCount() int32 { return g.refCnt }

// Parent returns the group's parent group ID, or InvalidGroupID for the
// root.
func (g *Group) Parent() GroupID { return g.parent }

// Depth returns the group's distance from the root (root is depth 0).
func (g *Group) Depth() int { return g.depth }

// Members returns a copy of the group's current member node IDs, safe
// to use after the tree lock is released.
func (g *Group) Members() []NodeID {
	src := g.members.Slice()
	out := make([]NodeID, len(src))
	copy(out, src)
	return out
}
