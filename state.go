package rhino

import (
	"sync/atomic"
)

// TaskState represents where a Task sits in the kernel's state machine
// (spec'd state diagram: READY/SUSPENDED/SLEEP/PEND plus the two
// composite "arrived-while-waiting" states, and the terminal DELETED).
//
// State Machine:
//
//	(none) → Ready            [create autorun]
//	Ready → Pend               [block on a sync object]
//	Ready → Sleep               [Task.Sleep]
//	Ready → Suspended           [Kernel.Suspend / Task.SuspendSelf]
//	Pend → Ready                [wake: OK, timeout, abort, or object delete]
//	Sleep → Ready                [timeout]
//	Suspended → Ready            [resume, if it arrived from Ready]
//	Pend → PendSuspended         [suspend arrives while waiting]
//	Sleep → SleepSuspended       [suspend arrives while sleeping]
//	PendSuspended → Pend         [resume returns to waiting, not Ready]
//	SleepSuspended → Sleep       [resume returns to sleeping, not Ready]
//	any → Deleted                [terminal, cannot re-enter]
//
// State Transition Rules:
//   - Use TryTransition() (CAS) when the caller only needs to enforce a
//     single expected prior state.
//   - Use Store() when the kernel's scheduler critical section already
//     serializes the transition (the common case: all scheduler-internal
//     transitions happen with the kernel lock held, so plain Store is
//     correct and CAS would be redundant).
type TaskState uint64

const (
	// StateReady: task is on the ready queue at its current priority.
	StateReady TaskState = 0
	// StateDeleted: terminal. The task cannot re-enter any other state.
	StateDeleted TaskState = 1
	// StateSleep: task is blocked on Task.Sleep, in the tick list only.
	StateSleep TaskState = 2
	// StatePend: task is blocked on a synchronization object's pend list,
	// optionally also in the tick list if a timeout was given.
	StatePend TaskState = 3
	// StateSuspended: task was suspended directly from Ready.
	StateSuspended TaskState = 4
	// StateSleepSuspended: a suspend arrived while the task was sleeping;
	// resume returns it to StateSleep, not StateReady.
	StateSleepSuspended TaskState = 5
	// StatePendSuspended: a suspend arrived while the task was pending;
	// resume returns it to StatePend, not StateReady.
	StatePendSuspended TaskState = 6
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateDeleted:
		return "Deleted"
	case StateSleep:
		return "Sleep"
	case StatePend:
		return "Pend"
	case StateSuspended:
		return "Suspended"
	case StateSleepSuspended:
		return "SleepSuspended"
	case StatePendSuspended:
		return "PendSuspended"
	default:
		return "Unknown"
	}
}

// BlockReason records why a pend or sleep wait ended, mirroring the
// original's BLK_* wake reasons surfaced to the woken task.
type BlockReason uint32

const (
	// BlockReasonOK: a normal wake (a give/send/unlock found this task
	// waiting and handed the resource directly to it).
	BlockReasonOK BlockReason = iota
	// BlockReasonTimeout: the tick list's deadline for this wait elapsed
	// before a normal wake occurred.
	BlockReasonTimeout
	// BlockReasonAbort: the wait was cancelled by an explicit abort call.
	BlockReasonAbort
	// BlockReasonDel: the object being waited on was deleted.
	BlockReasonDel
)

// taskStateBox is a lock-free holder for TaskState with cache-line
// padding, so reading a task's state from a tracing hook or a stats
// iterator never contends with the scheduler critical section's own
// cache line.
type taskStateBox struct { // betteralign:ignore
	_ [64]byte      // padding before the value
	v atomic.Uint64 // TaskState value
	_ [56]byte      // pad to complete a 64-byte cache line
}

// newTaskStateBox creates a state holder in StateReady (the state every
// task enters at successful, autorun creation).
func newTaskStateBox() *taskStateBox {
	b := &taskStateBox{}
	b.v.Store(uint64(StateReady))
	return b
}

// Load returns the current state atomically.
func (b *taskStateBox) Load() TaskState {
	return TaskState(b.v.Load())
}

// Store atomically stores a new state. Callers must hold the owning
// Kernel's critical section, since state transitions are never valid in
// isolation from the ready-queue/tick-list/pend-list membership they
// accompany.
func (b *taskStateBox) Store(state TaskState) {
	b.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to
// another. Returns true if the transition was successful.
func (b *taskStateBox) TryTransition(from, to TaskState) bool {
	return b.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is Deleted.
func (b *taskStateBox) IsTerminal() bool {
	return b.Load() == StateDeleted
}

// IsBlocked returns true if the task is off the ready queue waiting for
// something (pend, sleep, or either composite suspended-while-waiting
// variant).
func (b *taskStateBox) IsBlocked() bool {
	switch b.Load() {
	case StateSleep, StatePend, StateSleepSuspended, StatePendSuspended:
		return true
	default:
		return false
	}
}

// IsSuspended returns true if a suspend is currently in effect, whether
// or not the task is also waiting on something.
func (b *taskStateBox) IsSuspended() bool {
	switch b.Load() {
	case StateSuspended, StateSleepSuspended, StatePendSuspended:
		return true
	default:
		return false
	}
}
