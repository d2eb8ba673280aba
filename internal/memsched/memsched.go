// Package memsched implements the memory scheduler interface (C6, spec
// §4.3's admission machinery applied to per-VM memory reservations, and
// §6's "To memory reclamation" external interface): ReserveMem and
// UnreserveMem admission against a group's memory headroom, plus the
// SetMigRate/NumaMigrateVMM commands the NUMA placement controller
// drives through the same collaborator. Every outbound call to the
// collaborator is retried with exponential backoff outside any
// scheduler lock (spec §7), matching internal/numasched's RunPeriod.
package memsched

import (
	"context"
	"sync"

	"github.com/vmkern/coresched/internal/grouptree"
	"github.com/vmkern/coresched/internal/retry"
	"github.com/vmkern/coresched/internal/schederr"
)

// Reclaimer is the external memory-reclamation collaborator (spec §6):
// the reclamation-state queries the core consumes (free-pages, low/high
// watermarks, per-node free pages, per-VM pages-on-node counters) and
// the commands it emits (ReserveMem, UnreserveMem, SetMigRate,
// NumaMigrateVMM). Paging-level reclamation mechanism itself (ballooning/
// swap) is out of scope (spec §1 Non-goals); this is only the command/
// query boundary.
type Reclaimer interface {
	FreePages() uint64
	Watermarks() (low, high uint64)
	FreePagesOnNode(node int) uint64
	PagesOnNode(vsmpID uint32, node int) uint64

	ReserveMem(vsmpID uint32, bytes uint64) error
	UnreserveMem(vsmpID uint32) error
	SetMigRate(vsmpID uint32, rate uint32) error
	NumaMigrateVMM(vsmpID uint32) error
}

// reservation is one VM's recorded memory reservation, tracked here
// because the group tree's VM leaf nodes carry only a CPUAlloc (spec
// §3: the tree's Mem allocation lives on Group, not on a VM leaf) —
// memsched is the place a VM's own memory reservation is admitted and
// remembered.
type reservation struct {
	group grouptree.GroupID
	bytes uint64
}

// Stats accumulates controller-wide counters for the C6 admission
// surface. cmd/coreschedsim prints them in its final report; they are
// not fed into internal/metrics.
type Stats struct {
	AdmissionDenied uint64
	ReserveFailures uint64
}

// Controller is the process-wide memory-scheduler singleton. It sits
// below internal/numasched in lock rank (spec §5) and is the
// numasched.Collaborator implementation a Controller wires into
// numasched.NewController.
type Controller struct {
	mu sync.Mutex

	tree  *grouptree.Tree
	recl  Reclaimer
	stats Stats

	reservations map[uint32]reservation
}

// NewController builds a memsched controller admitting reservations
// against tree and issuing commands/queries through recl.
func NewController(tree *grouptree.Tree, recl Reclaimer) *Controller {
	return &Controller{
		tree:         tree,
		recl:         recl,
		reservations: make(map[uint32]reservation),
	}
}

// Stats returns a snapshot of the controller's counters.
func (ctl *Controller) Stats() Stats {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.stats
}

// ReserveMem admits a VM's memory reservation against its group's
// headroom (spec §4.3's admission pattern, reused here for a per-VM
// reservation rather than a subtree), records it, then issues the
// external ReserveMem command outside the controller lock (spec §7).
// On a permanent external failure the reservation is rolled back so
// internal bookkeeping never claims memory the collaborator never
// actually granted.
func (ctl *Controller) ReserveMem(ctx context.Context, vsmpID uint32, group grouptree.GroupID, bytes uint64) error {
	ctl.mu.Lock()
	if _, exists := ctl.reservations[vsmpID]; exists {
		ctl.mu.Unlock()
		return schederr.ErrAlreadyExists
	}
	headroom, err := ctl.tree.MemHeadroom(group)
	if err != nil {
		ctl.mu.Unlock()
		return err
	}
	if bytes > headroom {
		ctl.stats.AdmissionDenied++
		ctl.mu.Unlock()
		return schederr.ErrAdmissionDenied
	}
	ctl.reservations[vsmpID] = reservation{group: group, bytes: bytes}
	ctl.mu.Unlock()

	policy := retry.DefaultPolicy(ctx)
	if err := retry.Do(ctx, policy, func() error { return ctl.recl.ReserveMem(vsmpID, bytes) }); err != nil {
		ctl.mu.Lock()
		delete(ctl.reservations, vsmpID)
		ctl.stats.ReserveFailures++
		ctl.mu.Unlock()
		return err
	}
	return nil
}

// UnreserveMem drops vsmpID's recorded reservation and asks the
// collaborator to release it. The internal bookkeeping is dropped
// unconditionally: the reservation mechanism is external (spec §1
// Non-goals), so a failed release command does not leave this
// controller's admission state stuck believing memory is still held.
func (ctl *Controller) UnreserveMem(ctx context.Context, vsmpID uint32) error {
	ctl.mu.Lock()
	if _, ok := ctl.reservations[vsmpID]; !ok {
		ctl.mu.Unlock()
		return schederr.ErrNotFound
	}
	delete(ctl.reservations, vsmpID)
	ctl.mu.Unlock()

	policy := retry.DefaultPolicy(ctx)
	return retry.Do(ctx, policy, func() error { return ctl.recl.UnreserveMem(vsmpID) })
}

// FreePagesOnNode implements numasched.Collaborator.
func (ctl *Controller) FreePagesOnNode(node int) uint64 { return ctl.recl.FreePagesOnNode(node) }

// PagesOnNode implements numasched.Collaborator.
func (ctl *Controller) PagesOnNode(vsmpID uint32, node int) uint64 {
	return ctl.recl.PagesOnNode(vsmpID, node)
}

// SetMigRate implements numasched.Collaborator, retrying the external
// call with backoff (spec §7). internal/numasched only calls this
// after releasing its own lock (see RunPeriod's issuePageMigRates).
func (ctl *Controller) SetMigRate(vsmpID uint32, rate uint32) error {
	ctx := context.Background()
	return retry.Do(ctx, retry.DefaultPolicy(ctx), func() error { return ctl.recl.SetMigRate(vsmpID, rate) })
}

// NumaMigrateVMM implements numasched.Collaborator, retrying the
// external call with backoff (spec §7).
func (ctl *Controller) NumaMigrateVMM(vsmpID uint32) error {
	ctx := context.Background()
	return retry.Do(ctx, retry.DefaultPolicy(ctx), func() error { return ctl.recl.NumaMigrateVMM(vsmpID) })
}

// FreePages and Watermarks pass through the reclamation-state queries
// spec §6 names alongside the per-node ones, for a metrics exporter or
// admission heuristic to consult without reaching around this
// controller to the raw collaborator.
func (ctl *Controller) FreePages() uint64 { return ctl.recl.FreePages() }

func (ctl *Controller) Watermarks() (low, high uint64) { return ctl.recl.Watermarks() }
