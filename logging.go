// Package-level configuration for structured logging.
//
// The concrete logger is github.com/joeycumines/logiface fronting
// github.com/joeycumines/stumpy as the default zero-configuration writer.
// Callers may install a different logiface.Logger[*stumpy.Event] (another
// level or writer) via SetLogger or WithLogger. Loggers over other event
// types, such as zerolog or logrus adapters, are not accepted, since every
// call site here uses logiface.Logger[*stumpy.Event].
package rhino

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// kernelLogger is the concrete logger type used throughout this package.
type kernelLogger = logiface.Logger[*stumpy.Event]

var (
	globalLoggerMu sync.RWMutex
	globalLogger   = newDefaultLogger()
)

func newDefaultLogger() *kernelLogger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(logiface.LevelInformational),
	)
}

// SetLogger installs the logger every Kernel uses by default, unless a
// per-Kernel logger was given via WithLogger. logger may be nil to
// silence logging entirely.
func SetLogger(logger *kernelLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	if logger == nil {
		logger = stumpy.L.New(stumpy.L.WithStumpy(), stumpy.L.WithLevel(logiface.LevelDisabled))
	}
	globalLogger = logger
}

// getGlobalLogger returns the currently installed default logger.
func getGlobalLogger() *kernelLogger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// taskFields attaches the identifying fields every kernel log line about a
// task carries: its id and current priority.
func taskFields(b *logiface.Builder[*stumpy.Event], t *Task) *logiface.Builder[*stumpy.Event] {
	if t == nil {
		return b
	}
	return b.Int64("task_id", int64(t.id)).Int64("prio", int64(t.prio.Load()))
}

// logTaskCreated emits a debug-level record for task creation.
func logTaskCreated(k *Kernel, t *Task) {
	taskFields(k.logger().Debug(), t).Str("name", t.name).Log("task created")
}

// logTaskDeleted emits a debug-level record for task deletion.
func logTaskDeleted(k *Kernel, t *Task) {
	taskFields(k.logger().Debug(), t).Log("task deleted")
}

// logTaskReaped emits a trace-level record once the reaper has finalized a
// deleted task's goroutine teardown.
func logTaskReaped(k *Kernel, t *Task) {
	taskFields(k.logger().Trace(), t).Log("task reaped")
}

// logTaskSwitch emits a trace-level record for a context switch, naming
// the logical CPU and the task being switched to.
func logTaskSwitch(k *Kernel, cpu uint8, from, to *Task) {
	b := k.logger().Trace().Int64("cpu", int64(cpu))
	if from != nil {
		b = b.Int64("from_task_id", int64(from.id))
	}
	if to != nil {
		b = b.Int64("to_task_id", int64(to.id))
	}
	b.Log("task switch")
}

// logPriorityInheritance emits an info-level record when a task's
// priority is raised or restored by mutex priority inheritance.
func logPriorityInheritance(k *Kernel, t *Task, from, to uint8) {
	taskFields(k.logger().Info(), t).
		Int64("from_prio", int64(from)).
		Int64("to_prio", int64(to)).
		Log("priority inheritance")
}

// logTimerFired emits a debug-level record when a software timer's
// callback runs.
func logTimerFired(k *Kernel, name string, id uint32) {
	k.logger().Debug().Str("timer_name", name).Int64("timer_id", int64(id)).Log("timer fired")
}

// logFatal emits an error-level record immediately before a fatal Status
// reaches the FatalHook, so the cause is on record even if the hook
// panics.
func logFatal(k *Kernel, status Status, cause error) {
	b := k.logger().Err()
	if cause != nil {
		b = b.Err(cause)
	}
	b.Str("status", status.Error()).Log("fatal kernel error")
}
