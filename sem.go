package rhino

// Sem is a counting semaphore: Give increments the count (or, if a task
// is waiting, hands it directly to the highest-priority or
// longest-waiting one depending on the semaphore's wake policy) and Take
// decrements it, blocking if the count is zero.
type Sem struct {
	blkObj
	count uint32
	max   uint32 // 0 means unbounded
	peak  uint32 // highest count observed, krhino_sem_count_set's peak_count
}

// pendObj implements pendable.
func (s *Sem) pendObj() *blkObj { return &s.blkObj }

// NewSem creates a semaphore with the given initial count, allocation
// kind, and wake policy. max bounds the count Give can reach (0 for
// unbounded); exceeding it is StatusSemOvf.
func (k *Kernel) NewSem(name string, initial, max uint32, kind allocKind, policy wakePolicy) *Sem {
	s := &Sem{
		blkObj: blkObj{name: name, typ: objTypeSem, kind: kind, policy: policy},
		count:  initial,
		max:    max,
		peak:   initial,
	}
	if k.cfg.EnableSem && k.cfg.EnableSystemStats {
		k.lock()
		k.sems = append(k.sems, s)
		k.unlock()
	}
	return s
}

// Take decrements s's count for t, blocking up to ticks if it is
// already zero.
func (s *Sem) Take(t *Task, ticks uint32) Status {
	k := t.kernel
	k.lock()

	if !s.valid(objTypeSem) {
		k.unlock()
		return StatusKObjTypeErr
	}

	if s.count > 0 {
		s.count--
		k.unlock()
		return StatusOK
	}

	if ticks == 0 {
		k.unlock()
		return StatusNoPendWait
	}

	k.readyQ.remove(t)
	t.state.Store(StatePend)
	t.blockedOn = s
	s.pendInsert(t)
	if ticks != WaitForever {
		t.deadline = k.tickCount + uint64(ticks)
		k.tick.insert(t)
	}
	k.reschedule(t)
	k.unlock()
	<-t.baton
	return t.waitStatus
}

// Give increments s's count by one, or hands it directly to the
// highest-priority (or earliest, under WakeFIFO) waiter if any are
// pending. Returns StatusSemOvf if doing so would exceed a bounded
// semaphore's max.
func (s *Sem) Give(k *Kernel) Status {
	return s.give(k, false)
}

// GiveAll wakes every waiter (each receiving the give), used for
// broadcast-style release, mirroring krhino_sem_give_all.
func (s *Sem) GiveAll(k *Kernel) Status {
	return s.give(k, true)
}

func (s *Sem) give(k *Kernel, all bool) Status {
	k.lock()
	defer k.unlock()

	if !s.valid(objTypeSem) {
		return StatusKObjTypeErr
	}

	if s.pendHead == nil {
		if s.max != 0 && s.count >= s.max {
			return StatusSemOvf
		}
		s.count++
		if s.count > s.peak {
			s.peak = s.count
		}
		return StatusOK
	}

	if all {
		for _, w := range s.pendPopAll() {
			k.tick.remove(w)
			w.blockedOn = nil
			k.wake(w, BlockReasonOK, StatusOK)
		}
	} else {
		w := s.pendPopHighest()
		k.tick.remove(w)
		w.blockedOn = nil
		k.wake(w, BlockReasonOK, StatusOK)
	}
	k.rescheduleAny()
	return StatusOK
}

// CountSet sets s's count directly. Refused with StatusSemTaskWaiting if
// any task is currently waiting, matching krhino_sem_count_set.
func (s *Sem) CountSet(k *Kernel, count uint32) Status {
	k.lock()
	defer k.unlock()
	if !s.valid(objTypeSem) {
		return StatusKObjTypeErr
	}
	if s.pendHead != nil {
		return StatusSemTaskWaiting
	}
	s.count = count
	if s.count > s.peak {
		s.peak = s.count
	}
	return StatusOK
}

// CountGet returns s's current count.
func (s *Sem) CountGet(k *Kernel) uint32 {
	k.lock()
	defer k.unlock()
	return s.count
}

// PeakGet returns the highest count s has ever held, matching the
// peak_count field the original's info query exposes alongside count.
func (s *Sem) PeakGet(k *Kernel) uint32 {
	k.lock()
	defer k.unlock()
	return s.peak
}

// Delete removes a statically-allocated semaphore; DynDelete removes a
// dynamically-allocated one.
func (s *Sem) Delete(k *Kernel) Status    { return k.deleteSem(s, allocStatic) }
func (s *Sem) DynDelete(k *Kernel) Status { return k.deleteSem(s, allocDynamic) }

func (k *Kernel) deleteSem(s *Sem, wantKind allocKind) Status {
	k.lock()
	defer k.unlock()
	if !s.valid(objTypeSem) {
		return StatusKObjTypeErr
	}
	if s.kind != wantKind {
		return StatusKObjDelErr
	}
	for _, w := range s.pendPopAll() {
		k.tick.remove(w)
		w.blockedOn = nil
		k.wake(w, BlockReasonDel, StatusKObjTypeErr)
	}
	s.typ = objTypeNone
	k.rescheduleAny()
	return StatusOK
}
