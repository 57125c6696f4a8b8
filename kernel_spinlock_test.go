package main

import (
	"sync/atomic"
	"testing"
)

func TestSpinLock_MutualExclusionAcrossCores(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	const (
		workers    = 6
		iterations = 200
	)

	var lock SpinLock
	var inside, overlap atomic.Int32
	counter := 0

	var threads []*Thread
	for w := range workers {
		th, err := k.RunThread(nil, "worker", func(k *Kernel, cur *Thread, _ uint32) uint32 {
			for i := range iterations {
				k.AcquireSpinLock(cur, &lock)
				if inside.Add(1) != 1 {
					overlap.Add(1)
				}
				counter++
				if i%5 == 0 {
					k.YieldThread(cur)
				}
				inside.Add(-1)
				k.ReleaseSpinLock(cur, &lock)
				k.YieldThread(cur)
			}
			return 0
		}, uint32(w), PRIORITY_DEFAULT, AFFINITY_ANY)
		if err != nil {
			t.Fatalf("RunThread: %v", err)
		}
		threads = append(threads, th)
	}
	for _, th := range threads {
		waitThread(t, th)
	}

	if n := overlap.Load(); n != 0 {
		t.Fatalf("%d overlapping critical sections", n)
	}
	if counter != workers*iterations {
		t.Fatalf("counter = %d, want %d", counter, workers*iterations)
	}
	if k.SpinLockOwner(&lock) != nil {
		t.Fatal("lock still owned after all workers exited")
	}
}

func TestSpinLock_RecursionAndOwnership(t *testing.T) {
	k, _ := newTestKernel(t, 1)
	var lock SpinLock

	var failures atomic.Int32
	check := func(ok bool) {
		if !ok {
			failures.Add(1)
		}
	}

	th, _ := k.RunThread(nil, "owner", func(k *Kernel, cur *Thread, _ uint32) uint32 {
		check(k.AcquireSpinLock(cur, &lock))
		check(k.TryAcquireSpinLock(cur, &lock))
		check(k.SpinLockOwner(&lock) == cur)
		check(k.ReleaseSpinLock(cur, &lock))
		check(k.SpinLockOwner(&lock) == cur)
		check(k.ReleaseSpinLock(cur, &lock))
		check(k.SpinLockOwner(&lock) == nil)
		check(!k.ReleaseSpinLock(cur, &lock))
		return 0
	}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)
	waitThread(t, th)

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d ownership checks failed", n)
	}
	if k.AcquireSpinLock(nil, &lock) || k.TryAcquireSpinLock(nil, &lock) || k.ReleaseSpinLock(nil, &lock) {
		t.Fatal("host context must not take spin locks")
	}
}
