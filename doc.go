// Package rhino implements the core of a small preemptive, fixed-priority
// real-time kernel: a per-CPU scheduler with priority inheritance through
// mutexes, plus the synchronization primitives (counting semaphore, fixed
// size message queue, mutex) and software-timer service tightly coupled to
// that scheduler.
//
// # Architecture
//
// A [Kernel] owns the ready queue, the tick/timeout list and one or more
// logical CPUs. Each [Task] created against a Kernel runs on a dedicated
// goroutine that is parked on an internal "baton" channel except while the
// scheduler has granted it the right to run on some logical CPU — see
// "Execution Model" below. Synchronization primitives ([Mutex], [Sem],
// [Queue]) move tasks between the ready queue and an object's pend list;
// the software-timer service behind [Timer] runs as a dedicated task
// consuming a command queue.
//
// # Execution Model
//
// Go provides no portable way to suspend an arbitrary goroutine's
// in-flight instruction stream, so this port does not attempt true
// interrupt-driven preemption. Instead it leans on the fact that the
// original kernel's own contract already only allows a task to lose its
// CPU at a small, enumerated set of points (see [Task.Sleep],
// [Task.Yield], [Task.SuspendSelf], blocking take/recv/lock calls, and
// self-delete). Between two such points, a task's goroutine runs
// uninterrupted by the kernel — exactly as the original's cooperative
// contract assumes. A round-robin slice expiring or a higher-priority task
// becoming ready on another CPU takes effect at that task's next
// suspension point or the next driven tick, not mid-instruction.
//
// # Thread Safety
//
// All kernel-owned shared state (ready queue, tick list, pend lists, mutex
// ownership chains) is guarded by a single internal critical section,
// modeling the combination of "disable interrupts" and the SMP cross-core
// spinlock the original uses together (see spec §5); the combination is
// appropriate here because Go has no interrupts to disable in the first
// place. [Kernel] methods are safe to call concurrently from any task's
// goroutine.
//
// # Error Types
//
// Every entry point returns a [Status], not a bare error — mirroring the
// original's kstat_t return convention. [Status] implements error and
// [FatalError] wraps it with a cause for the kinds that are not
// recoverable (see [Status.Fatal]).
package rhino
