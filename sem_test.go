package rhino

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSem_TickTimeout is spec.md §8 scenario 4: sem_take(s, 5) on an empty
// semaphore from tick 100 returns BlkTimeout at tick 105, and the task is
// fully removed from the tick list with no stray ready-queue membership.
func TestSem_TickTimeout(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	s := k.NewSem("s", 0, 0, allocStatic, WakeFIFO)

	k.TickAdvance(100)

	result := make(chan Status, 1)
	task, err := k.CreateTask("taker", 5, func(self *Task) {
		result <- s.Take(self, 5)
	})
	require.NoError(t, err)

	waitForState(t, task, StatePend)
	require.Equal(t, uint64(105), task.deadline)

	k.TickAdvance(4) // ticks 101..104: not yet due
	require.Equal(t, StatePend, task.State())

	k.TickAdvance(1) // tick 105: expires
	require.Equal(t, StatusBlkTimeout, <-result)
	require.False(t, task.tlink.linked(), "task must be fully removed from the tick list")
}

// TestSem_GiveTakeRoundTrip is the §8 round-trip law: give then take with
// count starting at 0 returns OK and leaves count at 0.
func TestSem_GiveTakeRoundTrip(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	s := k.NewSem("rt", 0, 0, allocStatic, WakeFIFO)

	require.Equal(t, StatusOK, s.Give(k))
	require.Equal(t, uint32(1), s.CountGet(k))

	done := make(chan struct{})
	_, err = k.CreateTask("taker", 5, func(self *Task) {
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		close(done)
	})
	require.NoError(t, err)
	<-done
	require.Equal(t, uint32(0), s.CountGet(k))
}

// TestSem_GiveWakesHighestPriorityWaiter checks the WakePriority policy:
// Give hands off to the best-priority waiter, not necessarily the first to
// arrive.
func TestSem_GiveWakesHighestPriorityWaiter(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	s := k.NewSem("pri", 0, 0, allocStatic, WakePriority)

	lowDone := make(chan string, 1)
	lowTask, err := k.CreateTask("low", 20, func(self *Task) {
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		lowDone <- "low"
	})
	require.NoError(t, err)
	waitForState(t, lowTask, StatePend)

	highDone := make(chan string, 1)
	highTask, err := k.CreateTask("high", 5, func(self *Task) {
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		highDone <- "high"
	})
	require.NoError(t, err)
	waitForState(t, highTask, StatePend)

	require.Equal(t, StatusOK, s.Give(k))
	select {
	case who := <-highDone:
		require.Equal(t, "high", who)
	case <-time.After(2 * time.Second):
		t.Fatal("high-priority waiter was never woken")
	}
	require.Equal(t, StatePend, lowTask.State(), "low-priority waiter is untouched")

	require.Equal(t, StatusOK, s.Give(k))
	<-lowDone
}

// TestSem_CountSetRefusedWithWaiters covers §4.6's count_set guard.
func TestSem_CountSetRefusedWithWaiters(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	s := k.NewSem("guarded", 0, 0, allocStatic, WakeFIFO)

	require.Equal(t, StatusOK, s.CountSet(k, 3))
	require.Equal(t, uint32(3), s.CountGet(k))

	waiting := make(chan struct{})
	task, err := k.CreateTask("waiter", 5, func(self *Task) {
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		close(waiting)
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
	})
	require.NoError(t, err)
	<-waiting
	waitForState(t, task, StatePend)

	require.Equal(t, StatusSemTaskWaiting, s.CountSet(k, 5))
	require.Equal(t, StatusOK, s.Give(k))
}

// TestSem_PeakTracksHighestCount mirrors Queue's peak tracking: the
// highest count ever observed survives takes that lower it again, and a
// nonzero initial count is itself a peak from the start.
func TestSem_PeakTracksHighestCount(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	s := k.NewSem("peaked", 2, 0, allocStatic, WakeFIFO)
	require.Equal(t, uint32(2), s.PeakGet(k))

	require.Equal(t, StatusOK, s.Give(k))
	require.Equal(t, StatusOK, s.Give(k))
	require.Equal(t, uint32(4), s.CountGet(k))
	require.Equal(t, uint32(4), s.PeakGet(k))

	done := make(chan struct{})
	_, err = k.CreateTask("taker", 5, func(self *Task) {
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		require.Equal(t, StatusOK, s.Take(self, WaitForever))
		close(done)
	})
	require.NoError(t, err)
	<-done

	require.Equal(t, uint32(1), s.CountGet(k))
	require.Equal(t, uint32(4), s.PeakGet(k), "peak must not fall back down with count")
}
