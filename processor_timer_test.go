package main

import (
	"io"
	"testing"
	"time"
)

func TestSetInterruptTimer_OnlyLowersDeadline(t *testing.T) {
	start := time.Unix(500, 0)
	p, _ := NewProcessor(2, NewManualClock(start))
	p.SetLogOutput(io.Discard)

	if got := p.NextInterrupt(0); !got.Equal(timeInfinite) {
		t.Fatalf("initial deadline = %v, want infinite", got)
	}

	p.SetInterruptTimer(0, start.Add(10*time.Millisecond))
	p.SetInterruptTimer(0, start.Add(20*time.Millisecond))
	if got := p.NextInterrupt(0); !got.Equal(start.Add(10 * time.Millisecond)) {
		t.Fatalf("later deadline replaced earlier one: %v", got)
	}

	p.SetInterruptTimer(0, start.Add(5*time.Millisecond))
	if got := p.NextInterrupt(0); !got.Equal(start.Add(5 * time.Millisecond)) {
		t.Fatalf("earlier deadline not installed: %v", got)
	}

	if got := p.NextInterrupt(1); !got.Equal(timeInfinite) {
		t.Fatalf("core 1 deadline changed: %v", got)
	}
	if got := p.NextInterrupt(7); !got.Equal(timeInfinite) {
		t.Fatalf("invalid core deadline = %v", got)
	}
	p.SetInterruptTimer(7, start)
}

func TestTimer_ManualClockRaisesInterrupt(t *testing.T) {
	start := time.Unix(500, 0)
	clock := NewManualClock(start)
	p, _ := NewProcessor(2, clock)
	p.SetLogOutput(io.Discard)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	p.SetInterruptTimer(1, start.Add(10*time.Millisecond))

	time.Sleep(10 * time.Millisecond)
	if p.Core(1).HasInterrupt() {
		t.Fatal("interrupt raised before the clock reached the deadline")
	}

	clock.Advance(10 * time.Millisecond)
	waitFor(t, "interrupt on core 1", p.Core(1).HasInterrupt)

	if p.Core(0).HasInterrupt() {
		t.Fatal("core 0 should not be interrupted")
	}
	if got := p.NextInterrupt(1); !got.Equal(timeInfinite) {
		t.Fatalf("deadline after firing = %v, want infinite", got)
	}
}

func TestTimer_SystemClockRaisesInterrupt(t *testing.T) {
	p, _ := NewProcessor(1, SystemClock{})
	p.SetLogOutput(io.Discard)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	p.SetInterruptTimer(0, time.Now().Add(5*time.Millisecond))
	waitFor(t, "interrupt on core 0", p.Core(0).HasInterrupt)
}

func TestManualClock_ChangedIsClosedOnAdvance(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	ch := clock.Changed()
	select {
	case <-ch:
		t.Fatal("changed channel closed before the clock moved")
	default:
	}
	clock.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("changed channel not closed by Advance")
	}
	if got := clock.Now(); !got.Equal(time.Unix(1, 0)) {
		t.Fatalf("Now = %v", got)
	}

	ch = clock.Changed()
	clock.Set(time.Unix(100, 0))
	select {
	case <-ch:
	default:
		t.Fatal("changed channel not closed by Set")
	}
	if (SystemClock{}).Changed() != nil {
		t.Fatal("system clock should not report jumps")
	}
}
