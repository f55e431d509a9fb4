package rhino

import "time"

// cpuState is one simulated logical CPU: which task is currently granted
// the right to run on it, and its dedicated idle task.
type cpuState struct {
	current *Task
	idle    *Task
}

// lock acquires the kernel's single critical section, modeling the
// combination of "disable interrupts" and the SMP cross-core spinlock
// the original uses together (see the package doc's "Thread Safety"
// section). When EnableSystemStats is set, the hold duration is fed to
// Stats.SchedLockLatency on unlock; lockedAt is safe to touch without
// its own synchronization since only the current lock holder ever reads
// or writes it.
func (k *Kernel) lock() {
	k.mu.Lock()
	if k.cfg.EnableSystemStats {
		k.lockedAt = time.Now()
	}
}

// unlock releases the kernel's critical section.
func (k *Kernel) unlock() {
	if k.cfg.EnableSystemStats {
		k.stats.SchedLockLatency.Record(time.Since(k.lockedAt))
	}
	k.mu.Unlock()
}

// isCurrent reports whether t is the task currently dispatched on
// whichever logical CPU it is bound to. Must be called with the lock
// held.
func (k *Kernel) isCurrent(t *Task) bool {
	return t.runningOn != notRunning && k.cpus[t.runningOn].current == t
}

// cpuFor picks which logical CPU a reschedule driven by self should
// consider: the CPU self is already running on, else self's bound CPU,
// else CPU 0.
func (k *Kernel) cpuFor(self *Task) uint8 {
	if self.runningOn != notRunning {
		return self.runningOn
	}
	if self.cpuBind >= 0 {
		return uint8(self.cpuBind)
	}
	return 0
}

// reschedule re-evaluates the CPU associated with self and, if the
// highest-priority eligible ready task there has changed, hands off the
// baton. Must be called with the lock held.
func (k *Kernel) reschedule(self *Task) {
	if self == nil {
		k.rescheduleAny()
		return
	}
	k.rescheduleCPU(k.cpuFor(self))
}

// rescheduleAny re-evaluates every logical CPU, used after a wake whose
// effect is not confined to a single task's own CPU (object give/send,
// tick expiry, resume, a deletion that frees another task's mutex).
func (k *Kernel) rescheduleAny() {
	for cpu := range k.cpus {
		k.rescheduleCPU(uint8(cpu))
	}
	if k.cfg.EnableSystemStats {
		k.stats.ReadyQueueDepth.Update(k.readyQ.count)
	}
}

// rescheduleCPU grants the baton to the highest-priority eligible ready
// task for cpu, if it differs from the one currently dispatched there.
func (k *Kernel) rescheduleCPU(cpu uint8) {
	cs := k.cpus[cpu]
	next := k.pickNext(cpu)
	if next == cs.current {
		return
	}
	old := cs.current
	if old != nil {
		old.runningOn = notRunning
	}
	cs.current = next
	if next != nil {
		next.runningOn = cpu
		logTaskSwitch(k, cpu, old, next)
		// A token still unread from an earlier grant already gives next
		// the right to run; sending a second would block with the lock held.
		select {
		case next.baton <- struct{}{}:
		default:
		}
	}
}

// pickNext returns the highest-priority ready task eligible to run on
// cpu (unbound, or bound to cpu) that is not already dispatched on a
// different CPU, or nil if none (the idle task always satisfies this,
// since it is never suspended, blocked, or bound elsewhere).
//
// This scan always runs with the kernel lock held for its entire
// duration, which is what resolves Open Question (a) from spec.md §9:
// the original's SMP race between a fast-path early return and a
// concurrent binding change cannot occur here, because nothing can
// mutate the ready queue or any task's binding while this scan is in
// progress.
func (k *Kernel) pickNext(cpu uint8) *Task {
	for pri := uint8(0); pri < k.readyQ.priMax; pri++ {
		if !k.readyQ.bitmap.isSet(pri) {
			continue
		}
		head := k.readyQ.heads[pri]
		if head == nil {
			continue
		}
		cur := head
		for {
			if (cur.cpuBind == -1 || uint8(cur.cpuBind) == cpu) &&
				(cur.runningOn == notRunning || cur.runningOn == cpu) {
				return cur
			}
			cur = cur.rlink.next
			if cur == head {
				break
			}
		}
	}
	return nil
}
