package rhino

import (
	"sync/atomic"
)

// SchedPolicy selects how a task shares its priority level with others.
type SchedPolicy uint8

const (
	// SchedFIFO: a ready task keeps the CPU until it blocks, yields, or a
	// higher-priority task becomes ready.
	SchedFIFO SchedPolicy = iota
	// SchedRR: a ready task is preempted by a same-priority sibling once
	// its time slice is exhausted, and rotated to the tail of its
	// priority's ready list.
	SchedRR
)

// atomicPrio stores a uint8 priority in an atomic.Uint32, so trace hooks
// and stats can read a task's current priority without acquiring the
// kernel's critical section.
type atomicPrio struct {
	v atomic.Uint32
}

func (p *atomicPrio) Load() uint8      { return uint8(p.v.Load()) }
func (p *atomicPrio) Store(pri uint8)  { p.v.Store(uint32(pri)) }

// Task is the kernel's unit of execution: a stable identity, a current
// and base priority, a scheduling policy, and a state machine position
// (see TaskState). Each Task owns exactly one dedicated goroutine, gated
// by baton — see the package doc's "Execution Model" section.
type Task struct {
	id     uint64
	name   string
	kernel *Kernel
	fn     func(t *Task)

	prio  atomicPrio // current (possibly inherited) priority
	bPrio uint8       // base priority, restored when inheritance ends

	policy       SchedPolicy
	sliceDefault uint32
	slice        uint32 // ticks remaining in the current ready burst

	state *taskStateBox
	rlink taskLink // ready-queue XOR pend-list membership
	tlink taskLink // tick-list membership, independent of rlink

	deadline    uint64 // absolute tick; valid iff tlink.linked()
	blockReason BlockReason
	blockedOn   pendable // object this task pends on, nil otherwise
	waitStatus  Status  // result status set by whatever woke this task

	cpuBind      int8  // -1 means unbound, free to run on any CPU
	suspendCount uint8
	runningOn    uint8 // logical CPU this task is currently dispatched on; valid only while cpus[runningOn].current == t

	mutexHead *Mutex // head of the chain of mutexes this task owns

	msg any // direct-handoff slot used by Queue's wake path

	allocKind allocKind
	stackSize uint32

	baton chan struct{} // buffered 1; the running-permission token
	done  chan struct{} // closed once fn returns and cleanup has run
}

// TaskOption configures a Task at creation time.
type TaskOption func(*Task)

// WithPolicy sets the task's scheduling policy (default SchedFIFO).
func WithPolicy(policy SchedPolicy) TaskOption {
	return func(t *Task) { t.policy = policy }
}

// WithTimeSlice overrides the default round-robin slice, in ticks.
func WithTimeSlice(ticks uint32) TaskOption {
	return func(t *Task) { t.sliceDefault = ticks }
}

// WithCPUBind pins the task to a specific logical CPU.
func WithCPUBind(cpu uint8) TaskOption {
	return func(t *Task) { t.cpuBind = int8(cpu) }
}

// WithStackSize records the simulated stack size on the task. No stack
// high-water or canary check reads it.
func WithStackSize(bytes uint32) TaskOption {
	return func(t *Task) { t.stackSize = bytes }
}

// newTask allocates a Task in StateReady, not yet linked into any list
// and not yet started.
func (k *Kernel) newTask(name string, pri uint8, fn func(*Task), kind allocKind, opts ...TaskOption) *Task {
	t := &Task{
		id:           k.nextTaskID.Add(1),
		name:         name,
		kernel:       k,
		fn:           fn,
		bPrio:        pri,
		policy:       SchedFIFO,
		sliceDefault: k.cfg.TimeSliceDefault,
		state:        newTaskStateBox(),
		cpuBind:      -1,
		allocKind:    kind,
		baton:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	t.prio.Store(pri)
	t.runningOn = notRunning
	for _, opt := range opts {
		opt(t)
	}
	t.slice = t.sliceDefault
	return t
}

// notRunning marks Task.runningOn as "not currently dispatched on any
// logical CPU".
const notRunning uint8 = 0xFF

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// ID returns the task's stable identity.
func (t *Task) ID() uint64 { return t.id }

// Priority returns the task's current (possibly inherited) priority.
func (t *Task) Priority() uint8 { return t.prio.Load() }

// State returns the task's current position in the state machine.
func (t *Task) State() TaskState { return t.state.Load() }

// run is the body executed on the task's dedicated goroutine: wait for
// the initial baton grant, run fn, then hand the task to the reaper.
func (t *Task) run() {
	<-t.baton
	t.fn(t)
	t.kernel.taskExit(t)
	close(t.done)
}

// start spawns the task's goroutine. Must be called with the kernel's
// critical section NOT held, since the goroutine immediately blocks on
// baton and does no kernel work until granted it.
func (t *Task) start() {
	go t.run()
}

// Sleep blocks the calling task for the given number of ticks, a
// suspension point (spec §5). Calling Sleep from a goroutine other than
// the task's own is a programming error.
func (t *Task) Sleep(ticks uint32) Status {
	k := t.kernel
	k.lock()
	if ticks == 0 {
		k.unlock()
		return StatusOK
	}
	k.readyQ.remove(t)
	t.state.Store(StateSleep)
	t.deadline = k.tickCount + uint64(ticks)
	k.tick.insert(t)
	k.reschedule(t)
	k.unlock()
	<-t.baton // granted again once the kernel redispatches this task
	return t.waitStatus
}

// Yield rotates t to the tail of its priority's ready list and gives up
// the CPU if a same-priority sibling is ready, a suspension point. Unlike
// Sleep/Lock/Take, t is never removed from the ready queue, so it may
// remain its CPU's chosen task (no sibling at the same priority) — in
// that case rescheduleCPU makes no dispatch change and t must not wait
// for a baton grant that will never come.
func (t *Task) Yield() {
	k := t.kernel
	k.lock()
	k.readyQ.rotate(t.prio.Load())
	cpu := k.cpuFor(t)
	k.rescheduleCPU(cpu)
	stillCurrent := k.cpus[cpu].current == t
	k.unlock()
	if !stillCurrent {
		<-t.baton
	}
}

// Suspend suspends t from another task's goroutine (does not block the
// caller). To suspend the calling task itself, use Task.SuspendSelf.
func (k *Kernel) Suspend(t *Task) Status {
	return k.suspend(t)
}

// SuspendSelf suspends the calling task, a suspension point. Must only
// be called from t's own goroutine.
func (t *Task) SuspendSelf() Status {
	k := t.kernel
	k.lock()
	status := k.suspendLocked(t)
	self := status == StatusOK && k.isCurrent(t)
	if self {
		k.reschedule(t)
	}
	k.unlock()
	if self {
		<-t.baton
	}
	return status
}

func (k *Kernel) suspend(t *Task) Status {
	k.lock()
	status := k.suspendLocked(t)
	if status == StatusOK && !k.isCurrent(t) {
		k.rescheduleAny()
	}
	k.unlock()
	return status
}

// suspendLocked increments t's suspend nesting count and, on the 0->1
// transition, removes it from the ready queue (or records the suspend
// against its current Sleep/Pend state as a composite state). Must be
// called with the kernel lock held; does not itself trigger a
// reschedule.
func (k *Kernel) suspendLocked(t *Task) Status {
	if t.suspendCount == 0xFF {
		return StatusSuspendedCountOvf
	}
	t.suspendCount++
	if t.suspendCount > 1 {
		return StatusOK
	}
	switch t.state.Load() {
	case StateReady:
		k.readyQ.remove(t)
		t.state.Store(StateSuspended)
	case StateSleep:
		t.state.Store(StateSleepSuspended)
	case StatePend:
		t.state.Store(StatePendSuspended)
	}
	return StatusOK
}

// Resume decrements t's suspend nesting count and, on reaching 0,
// returns it to Ready (from Suspended) or to its prior Sleep/Pend state
// (from the composite suspended variants).
func (k *Kernel) Resume(t *Task) Status {
	k.lock()
	defer k.unlock()
	if t.suspendCount == 0 {
		return StatusTaskNotSuspended
	}
	t.suspendCount--
	if t.suspendCount > 0 {
		return StatusOK
	}
	switch t.state.Load() {
	case StateSuspended:
		t.state.Store(StateReady)
		k.readyQ.addTail(t)
		k.rescheduleAny()
	case StateSleepSuspended:
		t.state.Store(StateSleep)
	case StatePendSuspended:
		t.state.Store(StatePend)
	}
	return StatusOK
}

// PriChange sets t's base priority to newPri, a suspension-free API
// (spec.md §4.3 task_pri_change). The applied effective priority is
// clamped to t's mutex_pri_limit — the best (numerically lowest) waiter
// across every mutex t currently holds — so a holder can never drop
// below a priority its own waiters already require. If t is currently
// PEND on a mutex, it is repositioned in that mutex's pend list and the
// change propagates along the mutex chain to whatever task currently
// holds it, exactly as a newly-arrived higher-priority waiter would.
func (k *Kernel) PriChange(t *Task, newPri uint8) Status {
	if !k.cfg.EnableTaskPriChg {
		return StatusPriChgNotAllowed
	}
	if newPri >= k.cfg.PriMax {
		return StatusBeyondMaxPri
	}
	k.lock()
	defer k.unlock()
	if t.state.Load() == StateDeleted {
		return StatusKObjTypeErr
	}

	t.bPrio = newPri
	eff := mutexCeiling(t)
	old := t.prio.Load()
	if eff == old {
		return StatusOK
	}
	k.changePriority(t, eff)

	if t.state.Load() == StatePend {
		if m, ok := t.blockedOn.(*Mutex); ok && m.owner != nil {
			if eff < m.owner.prio.Load() {
				k.raisePriority(m.owner, eff)
			} else {
				k.recomputeHolderChain(m.owner)
			}
		}
	}
	return StatusOK
}

// WaitAbort cancels a pending or sleeping wait early, waking t with
// BlockReasonAbort and StatusBlkAbort, provided WaitAbort is enabled.
func (k *Kernel) WaitAbort(t *Task) Status {
	if !k.cfg.EnableWaitAbort {
		return StatusPriChgNotAllowed
	}
	k.lock()
	defer k.unlock()
	switch t.state.Load() {
	case StateSleep:
		k.tick.remove(t)
		k.wake(t, BlockReasonAbort, StatusBlkAbort)
	case StatePend:
		k.tick.remove(t)
		k.detachFromPendObj(t)
		k.wake(t, BlockReasonAbort, StatusBlkAbort)
	default:
		return StatusTaskNotSuspended
	}
	k.rescheduleAny()
	return StatusOK
}

// wake transitions t from Sleep/Pend back to Ready with the given
// reason and status, and places it on the ready queue. Must be called
// with the kernel lock held. It does not itself trigger a reschedule;
// callers that wake a task from outside that task's own suspension path
// (give/send/unlock/timeout/delete) must call k.rescheduleAny()
// afterward.
func (k *Kernel) wake(t *Task, reason BlockReason, status Status) {
	t.blockReason = reason
	t.waitStatus = status
	t.state.Store(StateReady)
	k.readyQ.addTail(t)
}

// Delete tears the task down: releases any mutexes it owns (transferring
// ownership to the next waiter, per mutex), removes it from whatever
// list it is in, marks it Deleted, and hands the goroutine's stack/TCB
// cleanup to the reaper (see reaper.go) since a task cannot free its own
// stack while still running on it.
func (k *Kernel) Delete(t *Task) Status {
	if !k.cfg.EnableTaskDel {
		return StatusPriChgNotAllowed
	}
	k.lock()
	if t.state.Load() == StateDeleted {
		k.unlock()
		return StatusKObjTypeErr
	}

	k.releaseOwnedMutexes(t)

	switch t.state.Load() {
	case StateReady:
		k.readyQ.remove(t)
	case StateSleep, StateSleepSuspended:
		k.tick.remove(t)
	case StatePend, StatePendSuspended:
		k.tick.remove(t)
		k.detachFromPendObj(t)
	}
	t.state.Store(StateDeleted)
	self := k.isCurrent(t)
	k.reaper.submit(t)
	if self {
		k.reschedule(t)
	} else {
		k.rescheduleAny()
	}
	k.unlock()
	logTaskDeleted(k, t)
	if self {
		<-t.baton // never granted again; goroutine exits via taskExit
	}
	return StatusOK
}

// taskExit is invoked on the task's own goroutine immediately after fn
// returns (a task that runs to completion rather than being Delete'd
// from elsewhere).
func (k *Kernel) taskExit(t *Task) {
	k.lock()
	if t.state.Load() != StateDeleted {
		k.releaseOwnedMutexes(t)
		if t.state.Load() == StateReady {
			k.readyQ.remove(t)
		}
		t.state.Store(StateDeleted)
		k.reaper.submit(t)
		k.reschedule(t)
	}
	k.unlock()
}

// detachFromPendObj removes t from whatever object's pend list it is
// linked into and clears the link, recomputing the object owner's
// priority ceiling first if the object is a Mutex (so a task whose
// WaitAbort or deletion was the sole reason for an inherited priority
// promptly drops back down).
func (k *Kernel) detachFromPendObj(t *Task) {
	obj := t.blockedOn
	if obj == nil {
		return
	}
	obj.pendObj().pendRemove(t)
	t.blockedOn = nil
	if m, ok := obj.(*Mutex); ok && m.owner != nil {
		// The released object's owner may itself be PEND on another
		// mutex (chained inheritance, spec.md §8 scenario 2): walk the
		// whole chain, not just this one link, so a de-promotion
		// unwinds as far as it needs to.
		k.recomputeHolderChain(m.owner)
	}
}

// releaseOwnedMutexes is called when t is deleted (or exits): every
// mutex it holds is given to that mutex's highest-priority waiter (if
// any), mirroring the original's task_mutex_free.
func (k *Kernel) releaseOwnedMutexes(t *Task) {
	for m := t.mutexHead; m != nil; {
		next := m.ownerNext
		m.ownerNext = nil
		waiter := m.pendPopHighest()
		if waiter != nil {
			k.tick.remove(waiter)
			m.owner = waiter
			m.nested = 1
			waiter.blockedOn = nil
			k.wake(waiter, BlockReasonOK, StatusOK)
		} else {
			m.owner = nil
			m.nested = 0
		}
		m = next
	}
	t.mutexHead = nil
}

