// kernel_threadqueue.go - Wait queues for blocked guest threads

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import "slices"

// ThreadQueue is a FIFO of threads waiting for the same event. Guarded by
// the scheduler lock.
type ThreadQueue struct {
	threads []*Thread
}

// Len returns the number of waiting threads.
func (q *ThreadQueue) Len() int { return len(q.threads) }

// sleepThreadNoLock parks cur on q. The caller must follow up with
// rescheduleNoLock while still holding the scheduler lock so a wakeup
// cannot slip in before the fiber has left its core. Only a thread that is
// executing on a core can sleep; otherwise nothing changes and false is
// returned.
func (k *Kernel) sleepThreadNoLock(cur *Thread, q *ThreadQueue) bool {
	if cur == nil || cur.fiber == nil || k.proc.CoreID(cur.fiber) == CORE_NONE {
		if cur != nil {
			k.proc.logf("kernel: thread %d is not running on a core, cannot sleep", cur.id)
		}
		return false
	}
	cur.setState(ThreadWaiting)
	cur.queue = q
	q.threads = append(q.threads, cur)
	return true
}

// wakeupThreadNoLock makes every thread on q runnable.
func (k *Kernel) wakeupThreadNoLock(q *ThreadQueue) {
	for len(q.threads) > 0 {
		k.wakeupOneThreadNoLock(q.threads[0])
	}
}

// wakeupOneThreadNoLock removes t from the queue it sleeps on and queues it.
func (k *Kernel) wakeupOneThreadNoLock(t *Thread) {
	if q := t.queue; q != nil {
		if i := slices.Index(q.threads, t); i >= 0 {
			q.threads = slices.Delete(q.threads, i, i+1)
		}
		t.queue = nil
	}
	if t.State() != ThreadWaiting {
		return
	}
	t.setState(ThreadReady)
	k.proc.Queue(t.fiber)
}

// rescheduleNoLock gives cur's core to a more important thread if one is
// ready. The scheduler lock is dropped across the switch.
func (k *Kernel) rescheduleNoLock(cur *Thread) {
	if cur == nil || cur.fiber == nil {
		return
	}
	k.proc.Reschedule(cur.fiber, true, false)
}

// SleepThread parks cur on q until WakeupThread is called for q.
func (k *Kernel) SleepThread(cur *Thread, q *ThreadQueue) bool {
	if cur == nil {
		k.proc.logf("kernel: sleepThread called from host context")
		return false
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if !k.sleepThreadNoLock(cur, q) {
		return false
	}
	k.rescheduleNoLock(cur)
	return true
}

// WakeupThread makes every thread on q runnable.
func (k *Kernel) WakeupThread(cur *Thread, q *ThreadQueue) {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	k.wakeupThreadNoLock(q)
	k.rescheduleNoLock(cur)
}
