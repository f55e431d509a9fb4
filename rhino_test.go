package rhino

import (
	"testing"
	"time"
)

// waitForState polls until task reaches want, failing the test if it
// doesn't happen within a generous bound. Task.State is a lock-free
// atomic read, so polling from the test goroutine never contends with
// the kernel's critical section.
func waitForState(tb testing.TB, task *Task, want TaskState) {
	tb.Helper()
	waitUntil(tb, 2*time.Second, func() bool { return task.State() == want })
}

// waitUntil polls cond until it reports true or timeout elapses.
func waitUntil(tb testing.TB, timeout time.Duration, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
