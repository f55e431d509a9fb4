package rhino

// Queue is a bounded message queue: Send never blocks (a full queue
// returns StatusQueueFull immediately); Recv blocks if the queue is
// empty. A send with waiters present bypasses the ring buffer entirely,
// handing the message directly to the highest-priority (or earliest,
// under WakeFIFO) waiter's message slot, grounded in the original's
// task_msg_recv direct-handoff path.
type Queue struct {
	blkObj
	ring *ringBuf
	peak int
}

// pendObj implements pendable.
func (q *Queue) pendObj() *blkObj { return &q.blkObj }

// NewQueue creates a queue with the given ring-buffer capacity.
func (k *Kernel) NewQueue(name string, capacity uint32, kind allocKind, policy wakePolicy) *Queue {
	q := &Queue{
		blkObj: blkObj{name: name, typ: objTypeQueue, kind: kind, policy: policy},
		ring:   newRingBuf(capacity),
	}
	if k.cfg.EnableSystemStats {
		k.lock()
		k.queues = append(k.queues, q)
		k.unlock()
	}
	return q
}

// Send enqueues msg, or hands it directly to the head waiter if one is
// pending. wakeAll hands the same msg to every waiter instead of just
// the head one (mirroring send_back's wake_all option — every woken
// waiter's Recv returns the same value).
func (q *Queue) Send(k *Kernel, msg any, wakeAll bool) Status {
	return q.send(k, msg, wakeAll, false)
}

// SendFront enqueues msg at the head of the ring buffer instead of the
// tail, so it is the next message received once any current waiters are
// satisfied (a no-op distinction when handed directly to a waiter).
func (q *Queue) SendFront(k *Kernel, msg any, wakeAll bool) Status {
	return q.send(k, msg, wakeAll, true)
}

func (q *Queue) send(k *Kernel, msg any, wakeAll, front bool) Status {
	k.lock()
	defer k.unlock()
	return q.sendLocked(k, msg, wakeAll, front)
}

// sendLocked is send's body for a caller that already holds k's critical
// section (the reaper's self-submission path, reaper.go), so it does not
// re-acquire the lock itself.
func (q *Queue) sendLocked(k *Kernel, msg any, wakeAll, front bool) Status {
	if !q.valid(objTypeQueue) {
		return StatusKObjTypeErr
	}

	if q.pendHead == nil {
		var ok bool
		if front {
			ok = q.ring.pushFront(msg)
		} else {
			ok = q.ring.pushBack(msg)
		}
		if !ok {
			return StatusQueueFull
		}
		if q.ring.count > q.peak {
			q.peak = q.ring.count
		}
		return StatusOK
	}

	if wakeAll {
		for _, w := range q.pendPopAll() {
			k.tick.remove(w)
			w.msg = msg
			w.blockedOn = nil
			k.wake(w, BlockReasonOK, StatusOK)
		}
	} else {
		w := q.pendPopHighest()
		k.tick.remove(w)
		w.msg = msg
		w.blockedOn = nil
		k.wake(w, BlockReasonOK, StatusOK)
	}
	k.rescheduleAny()
	return StatusOK
}

// Recv blocks up to ticks for a message, returning it along with
// StatusOK, or (nil, status) on timeout/abort/delete.
func (q *Queue) Recv(t *Task, ticks uint32) (any, Status) {
	k := t.kernel
	k.lock()

	if !q.valid(objTypeQueue) {
		k.unlock()
		return nil, StatusKObjTypeErr
	}

	if msg, ok := q.ring.pop(); ok {
		k.unlock()
		return msg, StatusOK
	}

	if ticks == 0 {
		k.unlock()
		return nil, StatusNoPendWait
	}

	k.readyQ.remove(t)
	t.state.Store(StatePend)
	t.blockedOn = q
	t.msg = nil
	q.pendInsert(t)
	if ticks != WaitForever {
		t.deadline = k.tickCount + uint64(ticks)
		k.tick.insert(t)
	}
	k.reschedule(t)
	k.unlock()
	<-t.baton

	if t.waitStatus != StatusOK {
		return nil, t.waitStatus
	}
	msg := t.msg
	t.msg = nil
	return msg, StatusOK
}

// IsFull reports whether the queue's ring buffer is at capacity.
func (q *Queue) IsFull(k *Kernel) bool {
	k.lock()
	defer k.unlock()
	return q.ring.full()
}

// Flush discards every buffered message; pending waiters are unaffected,
// matching the original's krhino_queue_flush.
func (q *Queue) Flush(k *Kernel) Status {
	k.lock()
	defer k.unlock()
	if !q.valid(objTypeQueue) {
		return StatusKObjTypeErr
	}
	q.ring.flush()
	return StatusOK
}

// Info reports the current occupied count, capacity, and peak occupied
// count ever observed, matching krhino_queue_info_get.
func (q *Queue) Info(k *Kernel) (count, capacity, peak int) {
	k.lock()
	defer k.unlock()
	return q.ring.count, q.ring.cap(), q.peak
}

// Delete removes a statically-allocated queue; DynDelete removes a
// dynamically-allocated one.
func (q *Queue) Delete(k *Kernel) Status    { return k.deleteQueue(q, allocStatic) }
func (q *Queue) DynDelete(k *Kernel) Status { return k.deleteQueue(q, allocDynamic) }

func (k *Kernel) deleteQueue(q *Queue, wantKind allocKind) Status {
	k.lock()
	defer k.unlock()
	if !q.valid(objTypeQueue) {
		return StatusKObjTypeErr
	}
	if q.kind != wantKind {
		return StatusKObjDelErr
	}
	for _, w := range q.pendPopAll() {
		k.tick.remove(w)
		w.blockedOn = nil
		k.wake(w, BlockReasonDel, StatusKObjTypeErr)
	}
	q.typ = objTypeNone
	k.rescheduleAny()
	return StatusOK
}
