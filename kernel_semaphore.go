// kernel_semaphore.go - Counting semaphores

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

// Semaphore is a guest counting semaphore. All fields are guarded by the
// scheduler lock.
type Semaphore struct {
	name  string
	count int32
	queue ThreadQueue
}

// NewSemaphore returns a semaphore holding count.
func NewSemaphore(name string, count int32) *Semaphore {
	return &Semaphore{name: name, count: count}
}

// InitSemaphore resets s to count. Threads already waiting stay queued.
func (k *Kernel) InitSemaphore(s *Semaphore, name string, count int32) {
	k.proc.LockScheduler()
	s.name = name
	s.count = count
	k.proc.UnlockScheduler()
}

// WaitSemaphore blocks cur until the count is positive, then decrements it.
// Returns the count before the decrement. Host callers never block: with a
// count of zero or less they get that count back and nothing changes. The
// same holds for a thread that is not running on a core.
func (k *Kernel) WaitSemaphore(cur *Thread, s *Semaphore) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()

	for s.count <= 0 {
		if cur == nil || !k.sleepThreadNoLock(cur, &s.queue) {
			return s.count
		}
		k.rescheduleNoLock(cur)
	}
	prev := s.count
	s.count--
	return prev
}

// TryWaitSemaphore decrements a positive count. Returns the previous count;
// a result of zero or less means the semaphore was not taken.
func (k *Kernel) TryWaitSemaphore(s *Semaphore) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	prev := s.count
	if prev > 0 {
		s.count--
	}
	return prev
}

// SignalSemaphore increments the count and wakes the waiters. Returns the
// previous count.
func (k *Kernel) SignalSemaphore(cur *Thread, s *Semaphore) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	prev := s.count
	s.count++
	k.wakeupThreadNoLock(&s.queue)
	k.rescheduleNoLock(cur)
	return prev
}

// SemaphoreCount returns the current count.
func (k *Kernel) SemaphoreCount(s *Semaphore) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	return s.count
}
