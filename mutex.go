package rhino

// Mutex is a priority-inheritance mutex: a task that takes a held mutex
// raises the owner's effective priority to its own (if higher) for as
// long as it waits, and the owner's priority is restored when it no
// longer holds any mutex with a higher-priority waiter. Nested locks by
// the same owner increment a hold count rather than deadlocking.
type Mutex struct {
	blkObj

	owner  *Task
	nested uint32

	// ownerNext threads this mutex into the owning task's chain of
	// currently-held mutexes (Task.mutexHead), grounded in the
	// original's task->mutex_list walked by mutex_pri_limit.
	ownerNext *Mutex
}

// WaitForever requests an unbounded wait from Lock/Sem.Take/Queue.Recv.
const WaitForever uint32 = ^uint32(0)

// NewMutex creates a mutex, unowned, with the given allocation kind and
// wake policy fixed to WakePriority (mutex pend lists are always ordered
// by waiter priority, since priority inheritance depends on knowing the
// highest-priority waiter).
func (k *Kernel) NewMutex(name string, kind allocKind) *Mutex {
	m := &Mutex{blkObj: blkObj{name: name, typ: objTypeMutex, kind: kind, policy: WakePriority}}
	if k.cfg.EnableSystemStats {
		k.lock()
		k.mutexes = append(k.mutexes, m)
		k.unlock()
	}
	return m
}

// Lock acquires m for t, blocking up to ticks if it is already held by
// another task (WaitForever for an unbounded wait, 0 for a try-lock). If
// t already owns m, the nested hold count is incremented and
// StatusOwnerNested is returned. If the wait raises a lower-priority
// owner's effective priority, the raise propagates along that owner's
// own mutex-wait chain, mirroring task_pri_change.
func (m *Mutex) Lock(t *Task, ticks uint32) Status {
	k := t.kernel
	k.lock()

	if !m.valid(objTypeMutex) {
		k.unlock()
		return StatusKObjTypeErr
	}

	if m.owner == nil {
		m.owner = t
		m.nested = 1
		addMutexToChain(t, m)
		k.unlock()
		return StatusOK
	}

	if m.owner == t {
		if m.nested == ^uint32(0) {
			k.unlock()
			return StatusMutexNestedOvf
		}
		m.nested++
		k.unlock()
		return StatusOwnerNested
	}

	if ticks == 0 {
		k.unlock()
		return StatusNoPendWait
	}

	k.raisePriority(m.owner, t.prio.Load())

	k.readyQ.remove(t)
	t.state.Store(StatePend)
	t.blockedOn = m
	m.pendInsert(t)
	if ticks != WaitForever {
		t.deadline = k.tickCount + uint64(ticks)
		k.tick.insert(t)
	}
	k.reschedule(t)
	k.unlock()
	<-t.baton

	if t.waitStatus == StatusOK {
		addMutexToChain(t, m)
		m.nested = 1
	}
	return t.waitStatus
}

// Unlock releases one nested hold of m, returning StatusOwnerNested while
// t still holds it. When the hold count reaches zero, ownership transfers directly to the highest-priority waiter (if
// any) and t's own effective priority is recomputed across every mutex
// it still holds.
func (m *Mutex) Unlock(t *Task) Status {
	k := t.kernel
	k.lock()
	defer k.unlock()

	if !m.valid(objTypeMutex) {
		return StatusKObjTypeErr
	}
	if m.owner != t {
		return StatusMutexNotReleasedByOwner
	}

	m.nested--
	if m.nested > 0 {
		return StatusOwnerNested
	}

	newPri := mutexPriLookRelease(t, m)
	if newPri != t.prio.Load() {
		k.changePriority(t, newPri)
	}

	waiter := m.pendPopHighest()
	if waiter != nil {
		k.tick.remove(waiter)
		m.owner = waiter
		m.nested = 1
		waiter.blockedOn = nil
		k.wake(waiter, BlockReasonOK, StatusOK)
	} else {
		m.owner = nil
	}

	if !k.isCurrent(t) || waiter != nil {
		k.rescheduleAny()
	}
	return StatusOK
}

// Delete removes a statically-allocated mutex; DynDelete removes a
// dynamically-allocated one. Using the wrong one is StatusKObjDelErr.
// Deleting a held mutex wakes every waiter with BlockReasonDel /
// StatusKObjTypeErr, matching the original's "object deletion makes
// waiters ready with reason DEL".
func (m *Mutex) Delete(k *Kernel) Status { return k.deleteMutex(m, allocStatic) }

// DynDelete removes a dynamically-allocated mutex.
func (m *Mutex) DynDelete(k *Kernel) Status { return k.deleteMutex(m, allocDynamic) }

func (k *Kernel) deleteMutex(m *Mutex, wantKind allocKind) Status {
	k.lock()
	defer k.unlock()
	if !m.valid(objTypeMutex) {
		return StatusKObjTypeErr
	}
	if m.kind != wantKind {
		return StatusKObjDelErr
	}
	if m.owner != nil {
		removeMutexFromChain(m.owner, m)
		k.recomputeHolderChain(m.owner)
	}
	for _, w := range m.pendPopAll() {
		k.tick.remove(w)
		w.blockedOn = nil
		k.wake(w, BlockReasonDel, StatusKObjTypeErr)
	}
	m.typ = objTypeNone
	m.owner = nil
	k.rescheduleAny()
	return StatusOK
}

// addMutexToChain links m at the head of t's owned-mutex chain.
func addMutexToChain(t *Task, m *Mutex) {
	m.ownerNext = t.mutexHead
	t.mutexHead = m
}

// removeMutexFromChain unlinks m from t's owned-mutex chain.
func removeMutexFromChain(t *Task, m *Mutex) {
	if t.mutexHead == m {
		t.mutexHead = m.ownerNext
		m.ownerNext = nil
		return
	}
	for cur := t.mutexHead; cur != nil; cur = cur.ownerNext {
		if cur.ownerNext == m {
			cur.ownerNext = m.ownerNext
			m.ownerNext = nil
			return
		}
	}
}

// mutexCeiling returns the minimum priority t must hold given every
// mutex currently in its owned chain: its own base priority, lowered
// (numerically) to the highest-priority waiter of any mutex it owns.
func mutexCeiling(t *Task) uint8 {
	best := t.bPrio
	for m := t.mutexHead; m != nil; m = m.ownerNext {
		if m.pendHead != nil {
			if w := m.pendHead.prio.Load(); w < best {
				best = w
			}
		}
	}
	return best
}

// mutexPriLookRelease pops released from t's owned-mutex chain and
// returns t's recomputed ceiling — the form used when Unlock gives the
// mutex away (resolves spec.md §9 Open Question (b): the original's
// mutex_task_pri_reset is split here into this and
// mutexPriLookRecompute instead of one function overloaded on a nilable
// mutex pointer).
func mutexPriLookRelease(t *Task, released *Mutex) uint8 {
	removeMutexFromChain(t, released)
	return mutexCeiling(t)
}

// mutexPriLookRecompute returns t's recomputed ceiling without popping
// any mutex from its chain — the form used when a mutex t owns is
// deleted out from under it (the chain was already unlinked by the
// caller) or when a waiter is removed from one of t's held mutexes by
// WaitAbort.
func mutexPriLookRecompute(t *Task) uint8 {
	return mutexCeiling(t)
}

// raisePriority raises owner's effective priority to at least waiterPri,
// propagating along owner's own mutex-wait chain if owner is itself
// blocked on another mutex (task_pri_change's do/while walk).
func (k *Kernel) raisePriority(owner *Task, waiterPri uint8) {
	for owner != nil && waiterPri < owner.prio.Load() {
		k.changePriority(owner, waiterPri)
		if owner.state.Load() != StatePend {
			return
		}
		m, isMutex := owner.blockedOn.(*Mutex)
		if !isMutex || m.owner == nil {
			return
		}
		owner = m.owner
	}
}

// recomputeHolderChain walks owner's mutex-wait chain downward,
// recomputing each holder's effective priority via mutexPriLookRecompute
// and demoting where the recomputed ceiling is worse than its current
// priority, mirroring task_pri_change's propagation when a PEND waiter's
// own priority moves but the new value is no longer strictly better than
// the holder's current priority (so raisePriority's early-exit condition
// would never fire, yet the holder's required floor may still have
// changed).
func (k *Kernel) recomputeHolderChain(owner *Task) {
	for owner != nil {
		newPri := mutexPriLookRecompute(owner)
		if newPri == owner.prio.Load() {
			return
		}
		k.changePriority(owner, newPri)
		if owner.state.Load() != StatePend {
			return
		}
		m, isMutex := owner.blockedOn.(*Mutex)
		if !isMutex || m.owner == nil {
			return
		}
		owner = m.owner
	}
}

// pendObj implements pendable.
func (m *Mutex) pendObj() *blkObj { return &m.blkObj }

// changePriority updates t's effective priority and, if t is currently
// on the ready queue or a pend list, repositions it so the change is
// reflected immediately rather than on its next transition.
func (k *Kernel) changePriority(t *Task, newPri uint8) {
	old := t.prio.Load()
	if newPri == old {
		return
	}
	logPriorityInheritance(k, t, old, newPri)
	switch t.state.Load() {
	case StateReady:
		k.readyQ.removeAt(t, old)
		t.prio.Store(newPri)
		// Only the currently-running holder is re-queued at the head,
		// keeping the CPU it already has. A ready-but-not-running task
		// goes to the tail of its new priority instead, preserving
		// fairness among same-priority peers, matching k_task.c's
		// task_pri_change (ready_list_add_head for the running task,
		// ready_list_add_tail otherwise).
		if k.isCurrent(t) {
			k.readyQ.addHead(t)
		} else {
			k.readyQ.addTail(t)
		}
		k.rescheduleAny()
	case StatePend:
		if t.blockedOn != nil {
			t.blockedOn.pendObj().pendRemove(t)
			t.prio.Store(newPri)
			t.blockedOn.pendObj().pendInsert(t)
		} else {
			t.prio.Store(newPri)
		}
	default:
		t.prio.Store(newPri)
	}
}
