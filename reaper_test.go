package rhino

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestReaper_DoesNotStarveOtherTasks exercises the fix for the reaper
// pending through a real kernel primitive: the reaper task runs at
// priority 0 (the kernel's highest by default), so if it ever held the
// CPU without yielding it back through a proper suspension point, no
// other task would ever be dispatched again. Running a burst of
// short-lived tasks through to normal completion, then confirming a
// further task still gets to run, rules that out.
func TestReaper_DoesNotStarveOtherTasks(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		done := make(chan struct{})
		task, err := k.CreateTask("ephemeral", 10, func(self *Task) {
			close(done)
		})
		require.NoError(t, err)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("ephemeral task %d never ran", i)
		}
		waitForState(t, task, StateDeleted)
	}

	confirmDone := make(chan struct{})
	_, err = k.CreateTask("confirm", 10, func(self *Task) {
		close(confirmDone)
	})
	require.NoError(t, err)
	select {
	case <-confirmDone:
	case <-time.After(2 * time.Second):
		t.Fatal("a plain task never ran after a burst of deletions; the reaper may be starving the CPU")
	}
}
