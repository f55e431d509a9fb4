package rhino

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestQueue_SendWakesHighestPriorityWaiterOnly is spec.md §8 scenario 3:
// capacity 4, two receivers R1(10) and R2(20) pending; Send(0xAA) hands off
// directly to R1 (the higher-priority waiter) only, and the ring buffer's
// occupied count stays at 0 since the message never touches it.
func TestQueue_SendWakesHighestPriorityWaiterOnly(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	q := k.NewQueue("q", 4, allocStatic, WakePriority)

	r1Got := make(chan any, 1)
	r1Task, err := k.CreateTask("R1", 10, func(self *Task) {
		msg, status := q.Recv(self, WaitForever)
		require.Equal(t, StatusOK, status)
		r1Got <- msg
	})
	require.NoError(t, err)
	waitForState(t, r1Task, StatePend)

	r2Got := make(chan any, 1)
	r2Task, err := k.CreateTask("R2", 20, func(self *Task) {
		msg, status := q.Recv(self, WaitForever)
		require.Equal(t, StatusOK, status)
		r2Got <- msg
	})
	require.NoError(t, err)
	waitForState(t, r2Task, StatePend)

	require.Equal(t, StatusOK, q.Send(k, 0xAA, false))

	select {
	case msg := <-r1Got:
		require.Equal(t, 0xAA, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("R1 should have received the message directly")
	}
	require.Equal(t, StatePend, r2Task.State(), "R2 must remain pending")

	count, _, _ := q.Info(k)
	require.Equal(t, 0, count, "a direct handoff never touches the ring buffer")

	require.Equal(t, StatusOK, q.Send(k, 0xBB, false))
	require.Equal(t, 0xBB, <-r2Got)
}

// TestQueue_SendBufferWhenNoWaiters covers the no-waiter path: Send fills
// the ring buffer and Recv drains it in FIFO order.
func TestQueue_SendBufferWhenNoWaiters(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	q := k.NewQueue("buffered", 4, allocStatic, WakeFIFO)

	require.Equal(t, StatusOK, q.Send(k, 1, false))
	require.Equal(t, StatusOK, q.Send(k, 2, false))
	count, capacity, peak := q.Info(k)
	require.Equal(t, 2, count)
	require.Equal(t, 4, capacity)
	require.Equal(t, 2, peak)

	done := make(chan struct{})
	_, err = k.CreateTask("drainer", 10, func(self *Task) {
		msg, status := q.Recv(self, WaitForever)
		require.Equal(t, StatusOK, status)
		require.Equal(t, 1, msg)
		msg, status = q.Recv(self, WaitForever)
		require.Equal(t, StatusOK, status)
		require.Equal(t, 2, msg)
		close(done)
	})
	require.NoError(t, err)
	<-done
}

// TestQueue_SendFullReturnsQueueFull covers the bounded-capacity guard.
func TestQueue_SendFullReturnsQueueFull(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	q := k.NewQueue("small", 1, allocStatic, WakeFIFO)

	require.Equal(t, StatusOK, q.Send(k, "a", false))
	require.True(t, q.IsFull(k))
	require.Equal(t, StatusQueueFull, q.Send(k, "b", false))
}

// TestQueue_Flush discards buffered messages without disturbing pending
// waiters, matching krhino_queue_flush.
func TestQueue_Flush(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)
	q := k.NewQueue("flushable", 4, allocStatic, WakeFIFO)

	require.Equal(t, StatusOK, q.Send(k, 1, false))
	require.Equal(t, StatusOK, q.Send(k, 2, false))
	count, _, _ := q.Info(k)
	require.Equal(t, 2, count)

	require.Equal(t, StatusOK, q.Flush(k))
	count, _, _ = q.Info(k)
	require.Equal(t, 0, count)
}
