package rhino

// objType tags a block object's kind, checked on every entry point to
// detect use-after-free (a deleted object has its tag cleared to
// objTypeNone).
type objType uint8

const (
	objTypeNone objType = iota
	objTypeMutex
	objTypeSem
	objTypeQueue
	objTypeTimer
)

// pendable is implemented by every synchronization object a task can
// block on, giving Task.blockedOn a way to reach the object's common
// header (and, via a type switch, its concrete type) without an unsafe
// downcast.
type pendable interface {
	pendObj() *blkObj
}

// wakePolicy selects how a block object's pend list orders waiters.
type wakePolicy uint8

const (
	// WakeFIFO wakes waiters in arrival order.
	WakeFIFO wakePolicy = iota
	// WakePriority wakes the highest-priority waiter first.
	WakePriority
)

// allocKind distinguishes statically-declared kernel objects from
// dynamically-created ones (RHINO_CONFIG_KOBJ_DYN_ALLOC), so deleting an
// object via the wrong entry point (Delete on a dynamic object, or
// DynDelete on a static one) is reported as StatusKObjDelErr instead of
// silently succeeding.
type allocKind uint8

const (
	allocStatic allocKind = iota
	allocDynamic
)

// blkObj is the common header embedded in every synchronization object
// (Mutex, Sem, Queue, TimerService's internal waiters), mirroring the
// original's block-object header: name, type tag, wake policy, and the
// head of its pend list.
type blkObj struct {
	name       string
	typ        objType
	kind       allocKind
	policy     wakePolicy
	pendHead   *Task // via Task.rlink
	numWaiting int
}

// valid reports whether the object has not been deleted.
func (b *blkObj) valid(want objType) bool {
	return b.typ == want
}

// pendInsert adds t to the object's pend list, ordered by b.policy: FIFO
// always inserts at the tail; WakePriority inserts before the first
// waiter with a strictly worse (numerically higher) priority than t, so
// equal-priority waiters keep arrival order and the best-priority waiter
// is always b.pendHead.
func (b *blkObj) pendInsert(t *Task) {
	b.numWaiting++
	if b.pendHead == nil {
		t.rlink.next = t
		t.rlink.prev = t
		b.pendHead = t
		return
	}
	if b.policy == WakeFIFO {
		linkBefore(b.pendHead, t)
		return
	}
	for cur := b.pendHead; ; cur = cur.rlink.next {
		if t.prio.Load() < cur.prio.Load() {
			linkBefore(cur, t)
			if cur == b.pendHead {
				b.pendHead = t
			}
			return
		}
		if cur.rlink.next == b.pendHead {
			linkBefore(b.pendHead, t)
			return
		}
	}
}

// linkBefore splices t into the circular list immediately before mark.
func linkBefore(mark, t *Task) {
	prev := mark.rlink.prev
	t.rlink.next = mark
	t.rlink.prev = prev
	prev.rlink.next = t
	mark.rlink.prev = t
}

// pendRemove unlinks t from the object's pend list.
func (b *blkObj) pendRemove(t *Task) {
	if !t.rlink.linked() {
		return
	}
	b.numWaiting--
	if t.rlink.next == t {
		b.pendHead = nil
	} else {
		t.rlink.prev.rlink.next = t.rlink.next
		t.rlink.next.rlink.prev = t.rlink.prev
		if b.pendHead == t {
			b.pendHead = t.rlink.next
		}
	}
	t.rlink.next = nil
	t.rlink.prev = nil
}

// pendPopHighest removes and returns the highest-priority (or
// earliest-arrived, under WakeFIFO) waiter, or nil if none are waiting.
func (b *blkObj) pendPopHighest() *Task {
	t := b.pendHead
	if t == nil {
		return nil
	}
	b.pendRemove(t)
	return t
}

// pendPopAll removes and returns every waiter, in wake order.
func (b *blkObj) pendPopAll() []*Task {
	var out []*Task
	for b.pendHead != nil {
		out = append(out, b.pendPopHighest())
	}
	return out
}
