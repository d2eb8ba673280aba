package cpusched

import "github.com/vmkern/coresched/internal/schederr"

// Wait transitions vcpu from run/ready to {wait, busy-wait} blocked on
// reason, with an absolute cycle deadline of 0 meaning no timeout (spec
// §3/§6: vCPU blocking entry points).
func (c *Cell) Wait(vcpu *VCPU, reason WaitReason, busy bool, deadline uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vcpu.State != StateRun && vcpu.State != StateReady && vcpu.State != StateReadyCorun {
		return schederr.ErrBadState
	}
	if vcpu.State == StateRun && vcpu.CurrentPCPU >= 0 {
		c.running[vcpu.CurrentPCPU] = nil
		vcpu.CurrentPCPU = -1
	} else {
		c.removeVCPUFromReady(vcpu)
	}
	vcpu.Wait = reason
	vcpu.Deadline = deadline
	if busy {
		vcpu.State = StateBusyWait
	} else {
		vcpu.State = StateWait
	}
	c.dispatch()
	return nil
}

// removeVCPUFromReady drops vcpu's vsmp from the ready heap if vcpu was
// its only ready member; otherwise leaves the vsmp ready for its
// siblings. Caller sets vcpu.State away from ready before calling.
func (c *Cell) removeVCPUFromReady(vcpu *VCPU) {
	v := vcpu.VSMP
	for _, sibling := range v.VCPUs {
		if sibling != vcpu && (sibling.State == StateReady || sibling.State == StateReadyCorun) {
			return
		}
	}
	c.removeFromReady(v)
}

// Wakeup transitions vcpu from {wait, busy-wait} back to ready. Calling
// Wakeup on a vCPU that has already transitioned (e.g. a race between a
// voluntary completion and a concurrent ForceWakeup) is a no-op, making
// wake idempotent after the state has moved on (spec §8).
func (c *Cell) Wakeup(vcpu *VCPU) error {
	return c.wake(vcpu, false)
}

// ForceWakeup wakes vcpu early. It makes the same transition as Wakeup;
// no interrupted result is recorded for or returned to the waiter.
func (c *Cell) ForceWakeup(vcpu *VCPU) error {
	return c.wake(vcpu, true)
}

func (c *Cell) wake(vcpu *VCPU, forced bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vcpu.State != StateWait && vcpu.State != StateBusyWait {
		return nil
	}
	_ = forced // a forced wake is not distinguished: no wake result is recorded
	vcpu.Wait = WaitNone
	vcpu.Deadline = 0
	vcpu.State = StateReady
	vcpu.CurrentPCPU = -1

	if clamped, did := clampLag(vcpu.VSMP.VTimeMain, c.minVTime); did {
		vcpu.VSMP.VTimeMain = clamped
		c.LagClamps++
	}

	c.pushReadyIfAbsent(vcpu.VSMP)
	c.dispatch()
	return nil
}

// CheckTimeouts scans every waiting vCPU across the cell and wakes any
// whose deadline has passed, through the same path as Wakeup; no
// timeout result is recorded for the waiter. now is the cell's current
// simulated cycle count.
func (c *Cell) CheckTimeouts(now uint64) {
	c.mu.Lock()
	var toWake []*VCPU
	for _, v := range c.vsmps {
		for _, vcpu := range v.VCPUs {
			if (vcpu.State == StateWait || vcpu.State == StateBusyWait) && vcpu.Deadline != 0 && now >= vcpu.Deadline {
				toWake = append(toWake, vcpu)
			}
		}
	}
	c.mu.Unlock()

	for _, vcpu := range toWake {
		_ = c.Wakeup(vcpu)
	}
}

// VcpuHalt voluntarily relinquishes the remainder of vcpu's quantum
// (spec §6), returning it to ready without blocking on any resource.
func (c *Cell) VcpuHalt(vcpu *VCPU) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vcpu.State != StateRun {
		return
	}
	if vcpu.CurrentPCPU >= 0 {
		c.running[vcpu.CurrentPCPU] = nil
	}
	vcpu.State = StateReady
	vcpu.CurrentPCPU = -1
	c.pushReadyIfAbsent(vcpu.VSMP)
	c.dispatch()
}

// MarkReschedule requests that pcpu (on this cell, "local") or a vCPU
// running on a remote cell (not modeled directly here, handled by the
// caller re-dispatching through the owning cell) re-evaluate its run
// decision at the next opportunity. Locally this simply preempts.
func (c *Cell) MarkReschedule(pcpu int) {
	c.Preempt(pcpu)
}

// ActionNotify posts bits into vcpu's action mask (spec §6's
// cross-vCPU signaling entry point) and, if the vCPU is running,
// requests a reschedule so the action is observed promptly.
func (c *Cell) ActionNotify(vcpu *VCPU, bits uint32) {
	c.mu.Lock()
	vcpu.ActionMask |= bits
	pcpu := vcpu.CurrentPCPU
	c.mu.Unlock()
	if pcpu >= 0 {
		c.MarkReschedule(pcpu)
	}
}
