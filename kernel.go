package rhino

import (
	"sync"
	"sync/atomic"
	"time"
)

// FatalHook is the callback a Kernel holds for fatal Status kinds
// (Status.Fatal() true). The default hook logs and panics; install a
// different one via WithFatalHook. No code path in this package calls
// the hook: there is no stack canary or scheduler invariant check that
// reports a fatal Status.
type FatalHook func(k *Kernel, status Status, cause error)

func defaultFatalHook(k *Kernel, status Status, cause error) {
	logFatal(k, status, cause)
	panic(WrapFatal(status, cause))
}

// Kernel is one instance of the scheduler core: some number of logical
// CPUs, the shared ready queue and tick list, and the registries of
// kernel objects created against it. The zero value is not usable; build
// one with NewKernel.
type Kernel struct {
	mu       sync.Mutex
	lockedAt time.Time
	cfg      *Config

	cpus []*cpuState

	readyQ *readyQueue
	tick   *tickList

	tickCount  uint64
	nextTaskID atomic.Uint64

	reaper  *reaper
	timerSvc *timerService

	// registries, populated only when cfg.EnableSystemStats is set, for
	// introspection (Mutexes/Sems/Queues/Timers) — not consulted by any
	// scheduling decision.
	mutexes []*Mutex
	sems    []*Sem
	queues  []*Queue
	timers  []*Timer

	stats Stats

	loggerMu sync.RWMutex
	loggerOv *kernelLogger // per-Kernel override; nil means use the global default

	fatalHook FatalHook
}

// kernelOption is an Option carrying a kernel-level extra (WithFatalHook,
// WithLogger) alongside, or instead of, a Config mutation.
type kernelOption struct {
	configure func(*Config) error
	attach    func(*Kernel)
}

func (o kernelOption) apply(c *Config) error {
	if o.configure != nil {
		return o.configure(c)
	}
	return nil
}

// WithFatalHook installs the callback invoked on a fatal Status instead
// of the default log-then-panic behavior.
func WithFatalHook(hook FatalHook) Option {
	return kernelOption{attach: func(k *Kernel) { k.fatalHook = hook }}
}

// WithLogger installs a per-Kernel logger override, taking precedence
// over the package-level default installed by SetLogger.
func WithLogger(logger *kernelLogger) Option {
	return kernelOption{attach: func(k *Kernel) { k.loggerOv = logger }}
}

// logger returns the logger this Kernel logs through: its own override if
// WithLogger was given, else the current package-level default.
func (k *Kernel) logger() *kernelLogger {
	k.loggerMu.RLock()
	ov := k.loggerOv
	k.loggerMu.RUnlock()
	if ov != nil {
		return ov
	}
	return getGlobalLogger()
}

// NewKernel builds a Kernel per opts, starts one idle task per configured
// CPU, and (if enabled) the reaper and timer service tasks. The returned
// Kernel is immediately schedulable; call CreateTask to add application
// tasks.
func NewKernel(opts ...Option) (*Kernel, error) {
	cfg, kopts, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:       cfg,
		readyQ:    newReadyQueue(cfg.PriMax),
		tick:      &tickList{},
		fatalHook: defaultFatalHook,
	}
	for _, o := range kopts {
		o.attach(k)
	}

	k.cpus = make([]*cpuState, cfg.CPUNum)
	for i := range k.cpus {
		k.cpus[i] = &cpuState{}
	}

	k.reaper = newReaper(k)
	k.readyQ.addTail(k.reaper.task)
	k.reaper.task.state.Store(StateReady)

	if cfg.EnableTimer {
		k.timerSvc = newTimerService(k)
		k.readyQ.addTail(k.timerSvc.task)
		k.timerSvc.task.state.Store(StateReady)
	}

	for cpu := uint8(0); cpu < cfg.CPUNum; cpu++ {
		cpu := cpu
		idle := k.newTask("idle", cfg.PriMax-1, idleLoop, allocStatic, WithCPUBind(cpu))
		k.cpus[cpu].idle = idle
		k.readyQ.addTail(idle)
		idle.state.Store(StateReady)
	}

	k.start(k.reaper.task)
	if k.timerSvc != nil {
		k.start(k.timerSvc.task)
	}
	for _, cs := range k.cpus {
		k.start(cs.idle)
	}

	k.lock()
	k.rescheduleAny()
	k.unlock()

	return k, nil
}

// idleLoop is every CPU's idle task body: spin yielding forever,
// mirroring the original's idle task, which simply loops (optionally
// executing a low-power wait instruction this port has no analogue for).
func idleLoop(self *Task) {
	for {
		self.Yield()
	}
}

// start launches t's goroutine. Must be called before the task can ever
// be granted a baton.
func (k *Kernel) start(t *Task) {
	t.start()
}

// CreateTask creates and starts a new application task at the given base
// priority, ready to run.
func (k *Kernel) CreateTask(name string, pri uint8, fn func(*Task), opts ...TaskOption) (*Task, error) {
	if pri >= k.cfg.PriMax {
		return nil, StatusBeyondMaxPri
	}
	t := k.newTask(name, pri, fn, allocStatic, opts...)

	k.lock()
	t.state.Store(StateReady)
	k.readyQ.addTail(t)
	logTaskCreated(k, t)
	k.rescheduleAny()
	k.unlock()

	k.start(t)
	return t, nil
}

// TickAdvance drives the kernel's logical clock forward by n ticks,
// waking every task whose sleep or pend timeout has expired and rotating
// any round-robin task whose time slice has run out. The caller supplies
// ticks externally (there is no real-time timer in this port); see the
// package doc's "Execution Model" section.
func (k *Kernel) TickAdvance(n uint32) {
	for i := uint32(0); i < n; i++ {
		k.tickOnce()
	}
}

func (k *Kernel) tickOnce() {
	k.lock()
	k.tickCount++
	now := k.tickCount

	woke := false
	for _, t := range k.tick.expired(now) {
		switch t.state.Load() {
		case StateSleep:
			k.wake(t, BlockReasonTimeout, StatusBlkTimeout)
			woke = true
		case StateSleepSuspended:
			t.blockReason = BlockReasonTimeout
			t.waitStatus = StatusBlkTimeout
			t.state.Store(StateSuspended)
		case StatePend:
			k.detachFromPendObj(t)
			k.wake(t, BlockReasonTimeout, StatusBlkTimeout)
			woke = true
		case StatePendSuspended:
			k.detachFromPendObj(t)
			t.blockReason = BlockReasonTimeout
			t.waitStatus = StatusBlkTimeout
			t.state.Store(StateSuspended)
		}
	}

	if k.cfg.EnableRR {
		for _, cs := range k.cpus {
			cur := cs.current
			if cur == nil || cur.policy != SchedRR || cur == cs.idle {
				continue
			}
			if cur.slice > 0 {
				cur.slice--
			}
			if cur.slice == 0 {
				cur.slice = cur.sliceDefault
				k.readyQ.rotate(cur.prio.Load())
				woke = true
			}
		}
	}

	if woke {
		k.rescheduleAny()
	}
	k.unlock()
}

// Stats returns a snapshot of the kernel's latency/depth instrumentation.
func (k *Kernel) Stats() Stats {
	return Stats{
		SchedLockLatency: k.stats.SchedLockLatency.Snapshot(),
		TimerFireLatency: k.stats.TimerFireLatency.Snapshot(),
		ReadyQueueDepth:  k.stats.ReadyQueueDepth,
	}
}

// Mutexes returns every mutex ever created against k with
// EnableSystemStats, for introspection.
func (k *Kernel) Mutexes() []*Mutex {
	k.lock()
	defer k.unlock()
	return append([]*Mutex(nil), k.mutexes...)
}

// Sems returns every semaphore ever created against k with
// EnableSystemStats, for introspection.
func (k *Kernel) Sems() []*Sem {
	k.lock()
	defer k.unlock()
	return append([]*Sem(nil), k.sems...)
}

// Queues returns every message queue ever created against k with
// EnableSystemStats, for introspection.
func (k *Kernel) Queues() []*Queue {
	k.lock()
	defer k.unlock()
	return append([]*Queue(nil), k.queues...)
}

// Timers returns every software timer ever created against k with
// EnableSystemStats, for introspection.
func (k *Kernel) Timers() []*Timer {
	k.lock()
	defer k.unlock()
	return append([]*Timer(nil), k.timers...)
}

// resolveKernelOptions splits Options into Config mutations and
// Kernel-attaching extras (WithFatalHook, WithLogger), applying the
// former via the existing Config resolution path.
func resolveKernelOptions(opts []Option) (*Config, []kernelOption, error) {
	var kopts []kernelOption
	var plain []Option
	for _, o := range opts {
		if ko, ok := o.(kernelOption); ok {
			kopts = append(kopts, ko)
			continue
		}
		plain = append(plain, o)
	}
	cfg, err := resolveOptions(plain)
	if err != nil {
		return nil, nil, err
	}
	return cfg, kopts, nil
}
