package rhino

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMutex_BasicInheritance is spec.md §8 scenario 1: L(30) holds X, H(10)
// blocks on it, L's priority rises to 10 so a middle-priority M(20) cannot
// preempt it; releasing X restores L to 30 and hands ownership to H.
func TestMutex_BasicInheritance(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	mx := k.NewMutex("X", allocStatic)

	lLocked := make(chan struct{})
	releaseL := make(chan struct{})
	lUnlocked := make(chan struct{})

	lTask, err := k.CreateTask("L", 30, func(self *Task) {
		require.True(t, mx.Lock(self, WaitForever).OK())
		close(lLocked)
		<-releaseL
		require.Equal(t, StatusOK, mx.Unlock(self))
		close(lUnlocked)
	})
	require.NoError(t, err)
	<-lLocked

	var mRan atomic.Bool
	mDone := make(chan struct{})
	_, err = k.CreateTask("M", 20, func(self *Task) {
		mRan.Store(true)
		close(mDone)
	})
	require.NoError(t, err)

	hLocked := make(chan struct{})
	hTask, err := k.CreateTask("H", 10, func(self *Task) {
		require.True(t, mx.Lock(self, WaitForever).OK())
		close(hLocked)
		require.Equal(t, StatusOK, mx.Unlock(self))
	})
	require.NoError(t, err)

	waitForState(t, hTask, StatePend)
	require.Equal(t, uint8(10), lTask.Priority(), "L must inherit H's priority")

	var mRan atomic.Bool
	mDone := make(chan struct{})
	_, err = k.CreateTask("M", 20, func(self *Task) {
		mRan.Store(true)
		close(mDone)
	})
	require.NoError(t, err)
	require.False(t, mRan.Load(), "M must not preempt the priority-inheriting L")

	close(releaseL)
	<-hLocked
	<-lUnlocked
	require.Equal(t, uint8(30), lTask.Priority(), "L restores its base priority after unlock")

	<-mDone
}

// TestMutex_ChainedInheritance is spec.md §8 scenario 2: A(30) holds X; B(25)
// holds Y and blocks on X; C(5) blocks on Y. Priority promotes both A and B
// to 5; aborting C's wait unwinds both back to 25.
func TestMutex_ChainedInheritance(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	mx := k.NewMutex("X", allocStatic)
	my := k.NewMutex("Y", allocStatic)

	aLocked := make(chan struct{})
	releaseA := make(chan struct{})
	aDone := make(chan struct{})
	aTask, err := k.CreateTask("A", 30, func(self *Task) {
		require.True(t, mx.Lock(self, WaitForever).OK())
		close(aLocked)
		<-releaseA
		require.Equal(t, StatusOK, mx.Unlock(self))
		close(aDone)
	})
	require.NoError(t, err)
	<-aLocked

	bDone := make(chan struct{})
	bTask, err := k.CreateTask("B", 25, func(self *Task) {
		require.True(t, my.Lock(self, WaitForever).OK())
		require.True(t, mx.Lock(self, WaitForever).OK())
		require.Equal(t, StatusOK, mx.Unlock(self))
		require.Equal(t, StatusOK, my.Unlock(self))
		close(bDone)
	})
	require.NoError(t, err)
	waitForState(t, bTask, StatePend)
	require.Equal(t, uint8(25), aTask.Priority(), "A inherits B's priority through X")

	cTask, err := k.CreateTask("C", 5, func(self *Task) {
		require.Equal(t, StatusBlkAbort, my.Lock(self, WaitForever))
	})
	require.NoError(t, err)
	waitForState(t, cTask, StatePend)

	require.Equal(t, uint8(5), bTask.Priority(), "B inherits C's priority through Y")
	require.Equal(t, uint8(5), aTask.Priority(), "inheritance propagates through the whole mutex chain")

	require.Equal(t, StatusOK, k.WaitAbort(cTask))
	waitForState(t, cTask, StateDeleted)

	waitUntil(t, 2*time.Second, func() bool {
		return bTask.Priority() == 25 && aTask.Priority() == 25
	})

	close(releaseA)
	<-aDone
	<-bDone
}

// TestMutex_NoContentionRoundTrip is the §8 round-trip law: lock then
// unlock with no contention restores prio == bPrio and pops the mutex from
// the caller's chain.
func TestMutex_NoContentionRoundTrip(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	mx := k.NewMutex("solo", allocStatic)

	done := make(chan struct{})
	var task *Task
	task, err = k.CreateTask("solo", 15, func(self *Task) {
		require.Equal(t, StatusOK, mx.Lock(self, WaitForever))
		require.Equal(t, self, mx.owner)
		require.Equal(t, StatusOK, mx.Unlock(self))
		close(done)
	})
	require.NoError(t, err)
	<-done
	require.Equal(t, uint8(15), task.Priority())
	require.Nil(t, task.mutexHead, "the mutex must be popped from the owner's chain on unlock")
	require.Nil(t, mx.owner)
}

// TestMutex_NestedOwnerLock covers the owner-nested path (§4.5 step 2):
// the same task locking an already-held mutex increments the hold count
// instead of deadlocking, and only the final Unlock hands it away.
func TestMutex_NestedOwnerLock(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	mx := k.NewMutex("nested", allocStatic)

	done := make(chan struct{})
	_, err = k.CreateTask("owner", 10, func(self *Task) {
		require.Equal(t, StatusOK, mx.Lock(self, WaitForever))
		require.Equal(t, StatusOwnerNested, mx.Lock(self, WaitForever))
		require.Equal(t, StatusOwnerNested, mx.Unlock(self))
		require.Equal(t, StatusOK, mx.Unlock(self))
		close(done)
	})
	require.NoError(t, err)
	<-done
}

// TestMutex_TryLockNoWait covers the ticks==0 try-lock path: it must fail
// immediately with StatusNoPendWait rather than blocking.
func TestMutex_TryLockNoWait(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	mx := k.NewMutex("busy", allocStatic)

	holding := make(chan struct{})
	release := make(chan struct{})
	_, err = k.CreateTask("holder", 20, func(self *Task) {
		require.Equal(t, StatusOK, mx.Lock(self, WaitForever))
		close(holding)
		<-release
		require.Equal(t, StatusOK, mx.Unlock(self))
	})
	require.NoError(t, err)
	<-holding

	tryDone := make(chan struct{})
	_, err = k.CreateTask("tryer", 20, func(self *Task) {
		require.Equal(t, StatusNoPendWait, mx.Lock(self, 0))
		close(tryDone)
	})
	require.NoError(t, err)
	<-tryDone
	close(release)
}

// TestChangePriority_ReadyNonRunningTaskRequeuesAtTail covers the
// non-running half of changePriority's ready-queue requeue: a task that is
// merely ready (not the one currently holding the CPU) must land at the
// tail of its new priority's list, not jump ahead of a peer already
// waiting there, even after being pushed away from that priority and back.
func TestChangePriority_ReadyNonRunningTaskRequeuesAtTail(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1), WithTaskPriChg(true))
	require.NoError(t, err)

	releaseBusy := make(chan struct{})
	_, err = k.CreateTask("busy", 1, func(self *Task) {
		<-releaseBusy
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	aDone := make(chan struct{})
	aTask, err := k.CreateTask("A", 10, func(self *Task) {
		record("A")
		close(aDone)
	})
	require.NoError(t, err)
	waitForState(t, aTask, StateReady)

	bDone := make(chan struct{})
	_, err = k.CreateTask("B", 10, func(self *Task) {
		record("B")
		close(bDone)
	})
	require.NoError(t, err)

	require.Equal(t, StatusOK, k.PriChange(aTask, 20))
	require.Equal(t, StateReady, aTask.State())
	require.Equal(t, StatusOK, k.PriChange(aTask, 10))
	require.Equal(t, StateReady, aTask.State())

	close(releaseBusy)
	<-aDone
	<-bDone

	require.Equal(t, []string{"B", "A"}, order, "A must not cut ahead of B after being pushed off and back onto priority 10")
}
