package rhino

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks optional runtime statistics for a Kernel, enabled via
// WithSystemStats. Recording is low overhead: depth gauges are plain
// atomics, and latency distributions use the P-Square streaming
// estimator so no per-sample history is retained.
//
// Thread Safety: every Stats method is safe to call from any task's
// goroutine or from the kernel's own scheduling code.
type Stats struct {
	// SchedLockLatency tracks how long the scheduler's critical section
	// was held per lock/unlock pair.
	SchedLockLatency LatencyStats
	// TimerFireLatency tracks the delay between a timer's computed
	// expiry tick and the tick it was actually serviced on.
	TimerFireLatency LatencyStats
	// ReadyQueueDepth tracks the number of ready tasks, as observed at
	// the end of each rescheduleAny pass.
	ReadyQueueDepth DepthStats
}

// LatencyStats is a streaming latency distribution backed by the
// P-Square algorithm, tracking P50/P90/P95/P99 without storing samples.
type LatencyStats struct {
	mu      sync.Mutex
	psquare *pSquareMultiQuantile

	P50, P90, P95, P99 time.Duration
	Max                time.Duration
	Count              int64
}

// Record adds a duration observation and refreshes the cached
// percentile fields.
func (l *LatencyStats) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(d))
	atomic.AddInt64(&l.Count, 1)

	l.P50 = time.Duration(l.psquare.Quantile(0))
	l.P90 = time.Duration(l.psquare.Quantile(1))
	l.P95 = time.Duration(l.psquare.Quantile(2))
	l.P99 = time.Duration(l.psquare.Quantile(3))
	l.Max = time.Duration(l.psquare.Max())
}

// Snapshot returns a copy of the current percentile fields, safe for
// concurrent reads while Record runs on another goroutine.
func (l *LatencyStats) Snapshot() LatencyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LatencyStats{
		P50: l.P50, P90: l.P90, P95: l.P95, P99: l.P99,
		Max: l.Max, Count: l.Count,
	}
}

// DepthStats tracks a running gauge plus its historical peak, for values
// like ready-queue depth or a message queue's occupied slot count.
type DepthStats struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Update records a new depth observation, adjusting the peak if needed.
func (d *DepthStats) Update(depth int) {
	d.current.Store(int64(depth))
	for {
		p := d.peak.Load()
		if int64(depth) <= p {
			return
		}
		if d.peak.CompareAndSwap(p, int64(depth)) {
			return
		}
	}
}

// Current returns the most recently recorded depth.
func (d *DepthStats) Current() int {
	return int(d.current.Load())
}

// Peak returns the highest depth ever recorded.
func (d *DepthStats) Peak() int {
	return int(d.peak.Load())
}
