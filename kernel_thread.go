// kernel_thread.go - Guest threads

/*
▓█████   ██████  ██▓███   ██▀███  ▓█████   ██████   ██████  ▒█████     ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓█   ▀ ▒██    ▒ ▓██░  ██▒▓██ ▒ ██▒▓█   ▀ ▒██    ▒ ▒██    ▒ ▒██▒  ██▒   ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒███   ░ ▓██▄   ▓██░ ██▓▒▓██ ░▄█ ▒▒███   ░ ▓██▄   ░ ▓██▄   ▒██░  ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
▒▓█  ▄   ▒   ██▒▒██▄█▓▒ ▒▒██▀▀█▄  ▒▓█  ▄   ▒   ██▒  ▒   ██▒▒██   ██░   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░▒████▒▒██████▒▒▒██▒ ░  ░░██▓ ▒██▒░▒████▒▒██████▒▒▒██████▒▒░ ████▓▒░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░░ ▒░ ░▒ ▒▓▒ ▒ ░▒▓▒░ ░  ░░ ▒▓ ░▒▓░░░ ▒░ ░▒ ▒▓▒ ▒ ░▒ ▒▓▒ ▒ ░░ ▒░▒░▒░    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ░ ░  ░░ ░▒  ░ ░░▒ ░       ░▒ ░ ▒░ ░ ░  ░░ ░▒  ░ ░░ ░▒  ░ ░  ░ ▒ ▒░     ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
   ░   ░  ░  ░  ░░         ░░   ░    ░   ░  ░  ░  ░  ░  ░  ░ ░ ░ ▒        ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
   ░  ░      ░              ░        ░  ░      ░        ░      ░ ░        ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// ThreadState is the scheduling state of a guest thread.
type ThreadState int32

const (
	ThreadNone ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadWaiting
	ThreadMoribund
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNone:
		return "none"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadWaiting:
		return "waiting"
	case ThreadMoribund:
		return "moribund"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ThreadEntry is guest code run by a thread. The return value becomes the
// thread's exit value.
type ThreadEntry func(k *Kernel, t *Thread, arg uint32) uint32

// Thread is a guest operating system thread.
type Thread struct {
	id    uint32
	name  string
	fiber *Fiber

	entry      ThreadEntry
	arg        uint32
	entryPoint uint32

	// Read lock-free by the core loops, written under the scheduler lock
	state          atomic.Int32
	priority       atomic.Int32
	suspendCounter atomic.Int32
	affinity       atomic.Uint32

	// Guarded by the scheduler lock
	queue     *ThreadQueue
	joinQueue ThreadQueue
	exitValue uint32

	done chan struct{}
}

func (t *Thread) ID() uint32 { return t.id }
func (t *Thread) Name() string { return t.name }
func (t *Thread) Fiber() *Fiber { return t.fiber }
func (t *Thread) State() ThreadState { return ThreadState(t.state.Load()) }
func (t *Thread) Priority() int32 { return t.priority.Load() }
func (t *Thread) SuspendCounter() int32 { return t.suspendCounter.Load() }
func (t *Thread) Affinity() uint32 { return t.affinity.Load() }
func (t *Thread) EntryPoint() uint32 { return t.entryPoint }

// Done is closed when the thread exits.
func (t *Thread) Done() <-chan struct{} { return t.done }

func (t *Thread) setState(s ThreadState) { t.state.Store(int32(s)) }

// SetEntryPoint records the guest address the thread started at, for
// display only.
func (t *Thread) SetEntryPoint(addr uint32) { t.entryPoint = addr }

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d %q", t.id, t.name)
}

// CreateThread creates a suspended thread. ResumeThread makes it runnable.
func (k *Kernel) CreateThread(name string, entry ThreadEntry, arg uint32, priority int32, affinity uint32) (*Thread, error) {
	if priority < PRIORITY_HIGHEST || priority > PRIORITY_LOWEST {
		return nil, fmt.Errorf("create thread %q: priority %d out of range", name, priority)
	}
	affinity &= k.allCoresMask()
	if affinity == 0 {
		return nil, fmt.Errorf("create thread %q: affinity excludes every core", name)
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	return k.createThreadNoLock(name, entry, arg, priority, affinity), nil
}

// RunThread creates a thread and resumes it immediately.
func (k *Kernel) RunThread(cur *Thread, name string, entry ThreadEntry, arg uint32, priority int32, affinity uint32) (*Thread, error) {
	t, err := k.CreateThread(name, entry, arg, priority, affinity)
	if err != nil {
		return nil, err
	}
	k.ResumeThread(cur, t)
	return t, nil
}

func (k *Kernel) allCoresMask() uint32 {
	return uint32(1)<<k.proc.CoreCount() - 1
}

func (k *Kernel) createThreadNoLock(name string, entry ThreadEntry, arg uint32, priority int32, affinity uint32) *Thread {
	k.nextThreadID++
	t := &Thread{
		id:    k.nextThreadID,
		name:  name,
		entry: entry,
		arg:   arg,
		done:  make(chan struct{}),
	}
	t.priority.Store(priority)
	t.affinity.Store(affinity)
	t.suspendCounter.Store(1)
	t.setState(ThreadNone)

	t.fiber = k.proc.CreateFiber(t, func(f *Fiber) {
		ret := t.entry(k, t, t.arg)
		k.ExitThread(t, ret)
	})
	k.threads = append(k.threads, t)
	return t
}

// ResumeThread decrements t's suspend counter and makes it runnable when the
// counter reaches zero. Returns the previous counter.
func (k *Kernel) ResumeThread(cur, t *Thread) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	old := k.resumeThreadNoLock(t, 1)
	k.rescheduleNoLock(cur)
	return old
}

func (k *Kernel) resumeThreadNoLock(t *Thread, counter int32) int32 {
	old := t.suspendCounter.Load()
	if old <= 0 {
		return old
	}
	n := max(old-counter, 0)
	t.suspendCounter.Store(n)
	if n == 0 {
		switch t.State() {
		case ThreadNone:
			t.setState(ThreadReady)
			k.proc.Queue(t.fiber)
		default:
			// Suspended Ready fibers stay queued and become eligible again
			k.proc.WakeAllCores()
		}
	}
	return old
}

// SuspendThread increments t's suspend counter. A thread suspending itself
// gives up its core at once; any other thread stops being scheduled the next
// time it gives up its core. Returns the previous counter.
func (k *Kernel) SuspendThread(cur, t *Thread) int32 {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if t.State() == ThreadMoribund {
		return -1
	}
	old := t.suspendCounter.Add(1) - 1
	if t == cur {
		k.rescheduleNoLock(cur)
	}
	return old
}

// ExitThread terminates cur with value. Never returns when cur is running on
// a core.
func (k *Kernel) ExitThread(cur *Thread, value uint32) {
	if cur == nil {
		k.proc.logf("kernel: exitThread called from host context")
		return
	}
	k.proc.LockScheduler()
	if cur.State() == ThreadMoribund {
		k.proc.UnlockScheduler()
		return
	}
	cur.exitValue = value
	cur.setState(ThreadMoribund)
	if i := slices.Index(k.threads, cur); i >= 0 {
		k.threads = slices.Delete(k.threads, i, i+1)
	}
	k.wakeupThreadNoLock(&cur.joinQueue)
	close(cur.done)
	k.proc.UnlockScheduler()

	k.proc.tracef("kernel: %v exited with %d", cur, int32(value))
	k.proc.Exit(cur.fiber)
}

// JoinThread waits until t exits and returns its exit value. Host callers
// block the calling goroutine instead of a fiber.
func (k *Kernel) JoinThread(cur, t *Thread) (uint32, bool) {
	if t == nil || t == cur {
		return 0, false
	}
	if cur == nil {
		select {
		case <-t.done:
		case <-k.proc.Done():
			return 0, false
		}
		k.proc.LockScheduler()
		defer k.proc.UnlockScheduler()
		return t.exitValue, true
	}

	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	for t.State() != ThreadMoribund {
		if !k.sleepThreadNoLock(cur, &t.joinQueue) {
			return 0, false
		}
		k.rescheduleNoLock(cur)
	}
	return t.exitValue, true
}

// YieldThread offers cur's core to ready threads of equal or better priority.
func (k *Kernel) YieldThread(cur *Thread) {
	if cur == nil {
		return
	}
	k.proc.Yield(cur.fiber)
}

// SetThreadPriority changes t's base priority and reschedules cur if that
// made a more important thread runnable.
func (k *Kernel) SetThreadPriority(cur, t *Thread, priority int32) bool {
	if priority < PRIORITY_HIGHEST || priority > PRIORITY_LOWEST {
		return false
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	t.priority.Store(priority)
	k.proc.Requeue(t.fiber)
	k.rescheduleNoLock(cur)
	return true
}

// SetThreadAffinity restricts t to the cores in mask.
func (k *Kernel) SetThreadAffinity(t *Thread, mask uint32) bool {
	mask &= k.allCoresMask()
	if mask == 0 {
		return false
	}
	t.affinity.Store(mask)
	k.proc.WakeAllCores()
	return true
}

// SleepTicks blocks cur for d of guest time using a private alarm.
func (k *Kernel) SleepTicks(cur *Thread, d time.Duration) {
	if cur == nil {
		return
	}
	h := k.CreateAlarmEx("SleepTicks")
	defer k.DestroyAlarm(h)
	if k.SetAlarm(cur, h, d, nil) {
		k.WaitAlarm(cur, h)
	}
}

// CurrentThread returns the thread executing on core id, or nil.
func (k *Kernel) CurrentThread(id int) *Thread {
	if f := k.proc.CurrentFiber(id); f != nil {
		return f.thread
	}
	return nil
}

// ExitValue returns t's exit value once it has exited.
func (k *Kernel) ExitValue(t *Thread) (uint32, bool) {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if t.State() != ThreadMoribund {
		return 0, false
	}
	return t.exitValue, true
}
