package main

import (
	"testing"
	"time"
)

// returnsPromptly runs fn on its own goroutine and fails the test if it
// blocks.
func returnsPromptly(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("%s did not return", what)
	}
}

func TestKernel_WaitsOffCoreFailWithoutParking(t *testing.T) {
	k, _ := newIdleKernel(t, 1)
	entry := func(*Kernel, *Thread, uint32) uint32 { return 0 }
	th, err := k.CreateThread("idle", entry, 0, PRIORITY_DEFAULT, AFFINITY_ANY)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	other, _ := k.CreateThread("other", entry, 0, PRIORITY_DEFAULT, AFFINITY_ANY)
	state := th.State()

	s := NewSemaphore("empty", 0)
	returnsPromptly(t, "WaitSemaphore", func() {
		if prev := k.WaitSemaphore(th, s); prev != 0 {
			t.Errorf("WaitSemaphore = %d, want 0", prev)
		}
	})
	if s.queue.Len() != 0 {
		t.Fatalf("semaphore queue holds %d threads", s.queue.Len())
	}

	lock := SpinLock{owner: other}
	returnsPromptly(t, "AcquireSpinLock", func() {
		if k.AcquireSpinLock(th, &lock) {
			t.Error("AcquireSpinLock took a lock owned by another thread")
		}
	})
	if lock.waiters.Len() != 0 || lock.owner != other {
		t.Fatalf("spinlock changed: owner %v waiters %d", lock.owner, lock.waiters.Len())
	}

	returnsPromptly(t, "JoinThread", func() {
		if _, ok := k.JoinThread(th, other); ok {
			t.Error("JoinThread succeeded on a live thread")
		}
	})

	h := k.CreateAlarm()
	if !k.SetAlarm(nil, h, time.Hour, nil) {
		t.Fatal("SetAlarm failed")
	}
	returnsPromptly(t, "WaitAlarm", func() {
		if k.WaitAlarm(th, h) {
			t.Error("WaitAlarm reported a fire")
		}
	})

	var q ThreadQueue
	returnsPromptly(t, "SleepThread", func() {
		if k.SleepThread(th, &q) {
			t.Error("SleepThread parked a thread that is not running")
		}
	})
	if q.Len() != 0 {
		t.Fatalf("thread queue holds %d threads", q.Len())
	}

	if th.State() != state {
		t.Fatalf("thread state changed from %v to %v", state, th.State())
	}
	if ready := k.proc.ReadyQueue(); len(ready) != 0 {
		t.Fatalf("ready queue holds %d fibers", len(ready))
	}
}
