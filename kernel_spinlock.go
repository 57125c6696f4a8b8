// kernel_spinlock.go - Recursive guest spinlocks

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

// SpinLock is a recursive lock owned by a guest thread. Contended acquirers
// give up their core instead of burning it.
type SpinLock struct {
	owner     *Thread
	recursion uint32
	waiters   ThreadQueue
}

// AcquireSpinLock takes s for cur, waiting while another thread owns it.
func (k *Kernel) AcquireSpinLock(cur *Thread, s *SpinLock) bool {
	if cur == nil {
		k.proc.logf("kernel: acquireSpinLock called from host context")
		return false
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	for {
		switch s.owner {
		case nil:
			s.owner = cur
			return true
		case cur:
			s.recursion++
			return true
		}
		if !k.sleepThreadNoLock(cur, &s.waiters) {
			return false
		}
		k.rescheduleNoLock(cur)
	}
}

// TryAcquireSpinLock takes s only if it is free or already owned by cur.
func (k *Kernel) TryAcquireSpinLock(cur *Thread, s *SpinLock) bool {
	if cur == nil {
		return false
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	switch s.owner {
	case nil:
		s.owner = cur
		return true
	case cur:
		s.recursion++
		return true
	}
	return false
}

// ReleaseSpinLock drops one level of cur's hold on s. Fails if cur does not
// own s.
func (k *Kernel) ReleaseSpinLock(cur *Thread, s *SpinLock) bool {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if cur == nil || s.owner != cur {
		return false
	}
	if s.recursion > 0 {
		s.recursion--
		return true
	}
	s.owner = nil
	if len(s.waiters.threads) > 0 {
		k.wakeupOneThreadNoLock(s.waiters.threads[0])
	}
	k.rescheduleNoLock(cur)
	return true
}

// SpinLockOwner returns the owning thread, or nil when s is free.
func (k *Kernel) SpinLockOwner(s *SpinLock) *Thread {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	return s.owner
}
