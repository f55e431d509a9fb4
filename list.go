package rhino

// taskLink is a pair of intrusive doubly-linked circular list pointers,
// embedded (by value, twice) in every Task. Unlike the original's
// klist_t, which is woven into its owner via unsafe pointer arithmetic
// (container_of), Go has no such primitive, so each list this kernel
// needs carries its own named link field on Task:
//
//   - rlink threads a task onto exactly one of: a ready-queue priority
//     list, or a block object's pend list. A task is never on both at
//     once (see the ready-queue/pend invariant in blkobj.go and
//     readyqueue.go).
//   - tlink threads a task onto the kernel's tick (timeout) list,
//     independently of rlink — a task pending with a timeout is on both
//     its pend list via rlink and the tick list via tlink at once.
//
// A task not linked into a particular list has both fields of the
// corresponding taskLink nil. Each list is circular with no sentinel
// node; an empty list is represented by a nil head pointer held by the
// list's owner (a priority slot, a block object, or the kernel's tick
// list head).
type taskLink struct {
	next, prev *Task
}

// linked reports whether l is currently threaded into some list.
func (l *taskLink) linked() bool {
	return l.next != nil
}
