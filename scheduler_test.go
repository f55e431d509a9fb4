package rhino

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScheduler_RoundRobinFairness is spec.md §8 scenario 5: three tasks at
// the same priority, round-robin policy, a two-tick slice. Over twelve
// driven ticks each gets an equal two-tick burst in arrival order, round
// and round: T1,T1,T2,T2,T3,T3,T1,T1,T2,T2,T3,T3.
//
// None of the three task bodies ever call a kernel suspension API — they
// just block forever on a plain channel, since holding the logical CPU
// here is purely a bookkeeping fact (Kernel.cpus[*].current) driven by
// TickAdvance's own round-robin accounting, not by anything the running
// goroutine does. The snapshot for tick i is taken before TickAdvance(1)
// runs it, since a slice exhausted during tick i only takes effect for
// tick i+1's dispatch.
func TestScheduler_RoundRobinFairness(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1), WithRoundRobin(true))
	require.NoError(t, err)

	never := make(chan struct{})
	for _, name := range []string{"T1", "T2", "T3"} {
		_, err := k.CreateTask(name, 10, func(self *Task) {
			<-never
		}, WithPolicy(SchedRR), WithTimeSlice(2))
		require.NoError(t, err)
	}

	var got []string
	for i := 0; i < 12; i++ {
		got = append(got, k.cpus[0].current.Name())
		k.TickAdvance(1)
	}

	require.Equal(t, []string{
		"T1", "T1", "T2", "T2", "T3", "T3", "T1", "T1", "T2", "T2", "T3", "T3",
	}, got)
}

// TestScheduler_SuspendResumeIdempotence is the §8 law: suspending a task k
// times requires exactly k resumes before it returns to its original
// state; an unbalanced resume is a no-op report, not an early wakeup.
func TestScheduler_SuspendResumeIdempotence(t *testing.T) {
	k, err := NewKernel(WithCPUNum(1))
	require.NoError(t, err)

	never := make(chan struct{})
	_, err = k.CreateTask("busy", 1, func(self *Task) {
		<-never
	})
	require.NoError(t, err)

	target, err := k.CreateTask("target", 20, func(self *Task) {
		<-never
	})
	require.NoError(t, err)
	waitForState(t, target, StateReady)

	const n = 3
	for i := 0; i < n; i++ {
		require.Equal(t, StatusOK, k.Suspend(target))
	}
	require.Equal(t, StateSuspended, target.State())

	for i := 0; i < n-1; i++ {
		require.Equal(t, StatusOK, k.Resume(target))
		require.Equal(t, StateSuspended, target.State(), "unbalanced resume must not wake the task early")
	}

	require.Equal(t, StatusOK, k.Resume(target))
	require.Equal(t, StateReady, target.State())

	require.Equal(t, StatusTaskNotSuspended, k.Resume(target))
}
