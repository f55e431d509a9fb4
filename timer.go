package rhino

import (
	"sync/atomic"
	"time"
)

// TimerState is a software timer's membership in the global timer list.
type TimerState uint8

const (
	TimerDeactive TimerState = iota
	TimerActive
)

type timerOp uint8

const (
	timerOpStart timerOp = iota
	timerOpStop
	timerOpChange
	timerOpArgChange
	timerOpArgChangeAuto
	timerOpDel
	timerOpDynDel
)

// timerCmd is one record posted to the timer service's command queue,
// grounded in the original's {timer, op, first, round, arg} tuple
// (k_timer.c's timer_msg_t).
type timerCmd struct {
	timer *Timer
	op    timerOp
	first uint32
	round uint32
	arg   any
}

// Timer is a software timer: a callback invoked first ticks after Start,
// then every round ticks thereafter (round == 0 means one-shot). All state
// mutation happens on the timer service's own task; every method here only
// validates and posts a command, per spec.
type Timer struct {
	name     string
	callback func(arg any)
	arg      any
	first    uint32
	round    uint32
	id       uint32
	kind     allocKind

	// the following fields, like first/round/arg above, are written only
	// by the timer service task (apply/fireExpired) under the kernel lock,
	// never by a poster; Change and ArgChange read state and deleted under
	// the kernel lock before posting.
	nextMatch uint64
	state     TimerState
	deleted   bool
	next      *Timer
	prev      *Timer
}

// Name returns the timer's name.
func (tm *Timer) Name() string { return tm.name }

// State reports whether the timer is currently armed. Safe to call from
// any goroutine; the kernel lock makes the read consistent with whatever
// the service task last committed.
func (tm *Timer) State(k *Kernel) TimerState {
	k.lock()
	defer k.unlock()
	return tm.state
}

// timerService runs the dedicated timer task: a sorted list of armed
// timers and a bounded command queue, grounded in k_timer.c's timer_task /
// timer_cb_proc / cmd_proc.
type timerService struct {
	kernel   *Kernel
	task     *Task
	cmdQueue *Queue
	head     *Timer // sorted ascending by nextMatch
	nextID   atomic.Uint32
}

// timerServicePriority is the priority the dedicated timer task runs at:
// just below the reaper, so a pending delete does not starve timer
// callbacks, but still above ordinary application tasks.
const timerServicePriority = 1

func newTimerService(k *Kernel) *timerService {
	s := &timerService{kernel: k}
	s.cmdQueue = k.NewQueue("timer_cmd", k.cfg.TimerCmdQueueDepth, allocStatic, WakeFIFO)
	s.task = k.newTask("timer_svc", timerServicePriority, s.run, allocStatic, WithPolicy(SchedFIFO))
	return s
}

// NewTimer creates a timer in state Deactive; Start arms it.
func (k *Kernel) NewTimer(name string, callback func(arg any), arg any, first, round uint32, kind allocKind) *Timer {
	tm := &Timer{
		name:     name,
		callback: callback,
		arg:      arg,
		first:    first,
		round:    round,
		id:       k.timerSvc.nextID.Add(1),
		kind:     kind,
		state:    TimerDeactive,
	}
	if k.cfg.EnableSystemStats {
		k.lock()
		k.timers = append(k.timers, tm)
		k.unlock()
	}
	return tm
}

// Start arms tm using its stored first/round, replacing any existing
// arming. Posting never blocks; StatusQueueFull means the command queue is
// saturated (the service task is badly backlogged).
func (tm *Timer) Start(k *Kernel) Status {
	if !k.cfg.EnableTimer {
		return StatusPriChgNotAllowed
	}
	return k.timerSvc.post(timerCmd{timer: tm, op: timerOpStart})
}

// Stop disarms tm. A Stop on an already-Deactive timer is a no-op.
func (tm *Timer) Stop(k *Kernel) Status {
	return k.timerSvc.post(timerCmd{timer: tm, op: timerOpStop})
}

// Change updates tm's first/round ticks. Rejected with StatusInvParam if
// tm is currently Active (must Stop first), matching scenario 6.
func (tm *Timer) Change(k *Kernel, first, round uint32) Status {
	k.lock()
	if tm.deleted {
		k.unlock()
		return StatusKObjTypeErr
	}
	if tm.state == TimerActive {
		k.unlock()
		return StatusInvParam
	}
	k.unlock()
	return k.timerSvc.post(timerCmd{timer: tm, op: timerOpChange, first: first, round: round})
}

// ArgChange updates tm's callback argument. Like Change, rejected while
// Active.
func (tm *Timer) ArgChange(k *Kernel, arg any) Status {
	k.lock()
	if tm.deleted {
		k.unlock()
		return StatusKObjTypeErr
	}
	if tm.state == TimerActive {
		k.unlock()
		return StatusInvParam
	}
	k.unlock()
	return k.timerSvc.post(timerCmd{timer: tm, op: timerOpArgChange, arg: arg})
}

// ArgChangeAuto updates tm's callback argument regardless of its current
// state, internally stopping, changing, and restarting it (so tm is always
// Active afterward), matching ARG_CHANGE_AUTO.
func (tm *Timer) ArgChangeAuto(k *Kernel, arg any) Status {
	return k.timerSvc.post(timerCmd{timer: tm, op: timerOpArgChangeAuto, arg: arg})
}

// Delete removes a statically-allocated timer; DynDelete removes a
// dynamically-allocated one.
func (tm *Timer) Delete(k *Kernel) Status    { return k.timerSvc.del(tm, allocStatic) }
func (tm *Timer) DynDelete(k *Kernel) Status { return k.timerSvc.del(tm, allocDynamic) }

func (s *timerService) del(tm *Timer, wantKind allocKind) Status {
	if tm.kind != wantKind {
		return StatusKObjDelErr
	}
	op := timerOpDel
	if wantKind == allocDynamic {
		op = timerOpDynDel
	}
	return s.post(timerCmd{timer: tm, op: op})
}

// post enqueues cmd for the service task without blocking the caller.
func (s *timerService) post(cmd timerCmd) Status {
	return s.cmdQueue.Send(s.kernel, cmd, false)
}

// insert links tm into the sorted list by nextMatch, ascending.
func (s *timerService) insert(tm *Timer) {
	if s.head == nil || tm.nextMatch < s.head.nextMatch {
		tm.next = s.head
		tm.prev = nil
		if s.head != nil {
			s.head.prev = tm
		}
		s.head = tm
		return
	}
	cur := s.head
	for cur.next != nil && cur.next.nextMatch <= tm.nextMatch {
		cur = cur.next
	}
	tm.next = cur.next
	tm.prev = cur
	if cur.next != nil {
		cur.next.prev = tm
	}
	cur.next = tm
}

// remove unlinks tm from the sorted list; a no-op if not linked.
func (s *timerService) remove(tm *Timer) {
	if tm.prev == nil && tm.next == nil && s.head != tm {
		return
	}
	if tm.prev != nil {
		tm.prev.next = tm.next
	} else {
		s.head = tm.next
	}
	if tm.next != nil {
		tm.next.prev = tm.prev
	}
	tm.next = nil
	tm.prev = nil
}

// nextDelta returns ticks until the nearest expiry, or WaitForever if the
// list is empty.
func (s *timerService) nextDelta() uint32 {
	k := s.kernel
	k.lock()
	defer k.unlock()
	if s.head == nil {
		return WaitForever
	}
	if s.head.nextMatch <= k.tickCount {
		return 1
	}
	delta := s.head.nextMatch - k.tickCount
	if delta > uint64(WaitForever-1) {
		return WaitForever - 1
	}
	return uint32(delta)
}

// run is the timer service task's body: compute the delta to the nearest
// expiry, wait on the command queue for at most that long, then either
// apply a posted command or fire everything now due.
func (s *timerService) run(self *Task) {
	for {
		k := s.kernel
		k.lock()
		now := k.tickCount
		due := s.head != nil && s.head.nextMatch <= now
		k.unlock()
		if due {
			s.fireExpired()
			continue
		}

		msg, status := s.cmdQueue.Recv(self, s.nextDelta())
		if status == StatusOK {
			s.apply(msg.(timerCmd))
		}
	}
}

// fireExpired pops and runs every timer whose nextMatch has passed,
// re-arming periodic ones. Callbacks run outside the kernel lock since
// they may themselves call back into kernel APIs (give a semaphore, send
// a queue) that take it.
func (s *timerService) fireExpired() {
	k := s.kernel
	k.lock()
	now := k.tickCount
	var due []*Timer
	var lateTicks []uint64
	for s.head != nil && s.head.nextMatch <= now {
		tm := s.head
		s.remove(tm)
		due = append(due, tm)
		lateTicks = append(lateTicks, now-tm.nextMatch)
	}
	k.unlock()

	for i, tm := range due {
		cb, arg := tm.callback, tm.arg
		if cb != nil {
			cb(arg)
		}
		logTimerFired(k, tm.name, tm.id)
		if k.cfg.EnableSystemStats && k.cfg.TicksPerSecond > 0 {
			d := time.Duration(lateTicks[i]) * time.Second / time.Duration(k.cfg.TicksPerSecond)
			k.stats.TimerFireLatency.Record(d)
		}

		k.lock()
		if tm.deleted {
			k.unlock()
			continue
		}
		if tm.round > 0 {
			tm.nextMatch = now + uint64(tm.round)
			s.insert(tm)
		} else {
			tm.state = TimerDeactive
		}
		k.unlock()
	}
}

// apply executes one posted command on the service task, the only place
// a Timer's mutable fields are written.
func (s *timerService) apply(cmd timerCmd) {
	k := s.kernel
	tm := cmd.timer

	k.lock()
	defer k.unlock()

	if tm.deleted {
		return
	}

	switch cmd.op {
	case timerOpStart:
		if tm.state == TimerActive {
			s.remove(tm)
		}
		tm.nextMatch = k.tickCount + uint64(tm.first)
		tm.state = TimerActive
		s.insert(tm)

	case timerOpStop:
		if tm.state == TimerActive {
			s.remove(tm)
			tm.state = TimerDeactive
		}

	case timerOpChange:
		tm.first = cmd.first
		tm.round = cmd.round

	case timerOpArgChange:
		tm.arg = cmd.arg

	case timerOpArgChangeAuto:
		if tm.state == TimerActive {
			s.remove(tm)
		}
		tm.arg = cmd.arg
		tm.nextMatch = k.tickCount + uint64(tm.first)
		tm.state = TimerActive
		s.insert(tm)

	case timerOpDel, timerOpDynDel:
		if tm.state == TimerActive {
			s.remove(tm)
			tm.state = TimerDeactive
		}
		tm.deleted = true
	}
}
