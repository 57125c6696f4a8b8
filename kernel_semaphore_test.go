package main

import (
	"sync/atomic"
	"testing"
)

func TestSemaphore_HostCallsNeverBlock(t *testing.T) {
	k, _ := newIdleKernel(t, 1)
	s := NewSemaphore("host", 1)

	if prev := k.WaitSemaphore(nil, s); prev != 1 {
		t.Fatalf("WaitSemaphore = %d, want 1", prev)
	}
	if prev := k.WaitSemaphore(nil, s); prev != 0 {
		t.Fatalf("WaitSemaphore on empty = %d, want 0", prev)
	}
	if k.SemaphoreCount(s) != 0 {
		t.Fatalf("count = %d, want 0", k.SemaphoreCount(s))
	}
	if prev := k.TryWaitSemaphore(s); prev != 0 {
		t.Fatalf("TryWaitSemaphore on empty = %d, want 0", prev)
	}
	if prev := k.SignalSemaphore(nil, s); prev != 0 {
		t.Fatalf("SignalSemaphore = %d, want 0", prev)
	}
	if prev := k.TryWaitSemaphore(s); prev != 1 {
		t.Fatalf("TryWaitSemaphore = %d, want 1", prev)
	}

	k.InitSemaphore(s, "renamed", 3)
	if k.SemaphoreCount(s) != 3 || s.name != "renamed" {
		t.Fatalf("InitSemaphore: count %d name %q", k.SemaphoreCount(s), s.name)
	}
}

func TestSemaphore_ProducerConsumerNoLostWakeup(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	const items = 200

	s := NewSemaphore("items", 0)
	var consumed atomic.Int32

	consumer, _ := k.RunThread(nil, "consumer", func(k *Kernel, cur *Thread, _ uint32) uint32 {
		for range items {
			k.WaitSemaphore(cur, s)
			consumed.Add(1)
		}
		return 0
	}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)

	producer, _ := k.RunThread(nil, "producer", func(k *Kernel, cur *Thread, _ uint32) uint32 {
		for i := range items {
			k.SignalSemaphore(cur, s)
			if i%7 == 0 {
				k.YieldThread(cur)
			}
		}
		return 0
	}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)

	waitThread(t, producer)
	waitThread(t, consumer)

	if got := consumed.Load(); got != items {
		t.Fatalf("consumed %d, want %d", got, items)
	}
	if k.SemaphoreCount(s) != 0 {
		t.Fatalf("count after drain = %d, want 0", k.SemaphoreCount(s))
	}
}

func TestSemaphore_WakesAllWaiters(t *testing.T) {
	k, _ := newTestKernel(t, 2)
	s := NewSemaphore("gate", 0)

	var waiters []*Thread
	for range 4 {
		th, _ := k.RunThread(nil, "waiter", func(k *Kernel, cur *Thread, _ uint32) uint32 {
			k.WaitSemaphore(cur, s)
			return 0
		}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)
		waiters = append(waiters, th)
	}
	waitFor(t, "all waiters to block", func() bool {
		for _, th := range waiters {
			if th.State() != ThreadWaiting {
				return false
			}
		}
		return true
	})

	for range 4 {
		k.SignalSemaphore(nil, s)
	}
	for _, th := range waiters {
		waitThread(t, th)
	}
	if k.SemaphoreCount(s) != 0 {
		t.Fatalf("count = %d, want 0", k.SemaphoreCount(s))
	}
}
