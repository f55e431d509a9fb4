package rhino

import "time"

// reaper defers the cleanup of a deleted task's goroutine/stack bookkeeping
// to a dedicated service task run at ReaperPriority (default 0, the
// highest, so a deferred free never starves behind arbitrary application
// tasks), since a task cannot tear down its own goroutine state while
// still executing on it. Grounded in the original's g_res_sem / g_res_list
// / krhino_task_deathbed pattern (k_obj.c), where a dying task posts
// itself onto a free list and wakes a semaphore that a reaper task blocks
// on; the free list plus semaphore is played here by a Queue, so the
// reaper task pends through the same kernel primitive every other task
// does rather than parking on a plain Go channel outside the scheduler's
// view.
type reaper struct {
	kernel *Kernel
	task   *Task
	queue  *Queue
}

// newReaper creates the reaper's backing task and its deathbed queue, run
// at the configured ReaperPriority. It is enqueued ready and started by
// NewKernel once the kernel is otherwise fully initialized.
func newReaper(k *Kernel) *reaper {
	r := &reaper{kernel: k}
	r.queue = k.NewQueue("reaper_deathbed", 64, allocStatic, WakeFIFO)
	r.task = k.newTask("reaper", k.cfg.ReaperPriority, r.run, allocStatic, WithPolicy(SchedFIFO))
	return r
}

// submit hands a just-deleted task to the reaper for cleanup. Must be
// called with the kernel's critical section held, from Delete or taskExit;
// it posts directly against the already-locked queue (sendLocked) rather
// than re-entering Kernel.lock. The actual cleanup happens later, off the
// kernel lock, on the reaper's own goroutine.
func (r *reaper) submit(t *Task) {
	if status := r.queue.sendLocked(r.kernel, t, false, false); status == StatusQueueFull {
		// The deathbed queue is sized generously relative to realistic
		// deletion bursts; a full queue here would indicate deletions far
		// outpacing reaping, which the reaper task being starved by
		// higher-priority work would also explain. Retry off the kernel
		// lock rather than drop the task.
		go r.submitBlocking(t)
	}
}

func (r *reaper) submitBlocking(t *Task) {
	for r.queue.Send(r.kernel, t, false) == StatusQueueFull {
		time.Sleep(time.Millisecond)
	}
}

// run is the reaper task's body: forever pend for a deleted task on the
// deathbed queue and finalize it (waiting for its goroutine to actually
// return, then clearing the references that would otherwise keep it
// reachable). Like the original's reaper task, it never exits.
func (r *reaper) run(self *Task) {
	for {
		msg, status := r.queue.Recv(self, WaitForever)
		if status != StatusOK {
			continue
		}
		r.reap(msg.(*Task))
	}
}

// reap waits for t's goroutine to finish unwinding (already done, for a
// task deleted from elsewhere; imminent, for a task that is cleaning up
// after Delete(self) or a normal return) and releases its last references.
func (r *reaper) reap(t *Task) {
	<-t.done
	t.blockedOn = nil
	t.mutexHead = nil
	logTaskReaped(r.kernel, t)
}
