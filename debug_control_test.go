package main

import (
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func newDebugMachine(t *testing.T, cores int) (*Kernel, *Debugger, *SystemBus) {
	t.Helper()
	proc, err := NewProcessor(cores, NewManualClock(time.Unix(4000, 0)))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	proc.SetLogOutput(io.Discard)
	bus := NewSystemBusSize(0x10000)
	k := NewKernel(proc, bus)
	dbg := NewDebugger(k)
	if err := k.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { k.Stop() })
	return k, dbg, bus
}

func waitEvent(t *testing.T, dbg *Debugger, kind DebugEventKind) DebugEvent {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-dbg.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event", kind)
		}
	}
}

// spinner runs safe points at addr until stop is set, counting iterations.
func spinner(addr uint32, count *atomic.Int32, stop *atomic.Bool) ThreadEntry {
	return func(k *Kernel, cur *Thread, _ uint32) uint32 {
		for !stop.Load() {
			k.SafePoint(cur, addr)
			count.Add(1)
		}
		return 0
	}
}

func TestDebugger_BreakpointStopsThread(t *testing.T) {
	k, dbg, _ := newDebugMachine(t, 1)
	dbg.AddBreakpoint(0x100)

	var passed atomic.Uint32
	th, _ := k.RunThread(nil, "bp", func(k *Kernel, cur *Thread, _ uint32) uint32 {
		for pc := uint32(0xF0); pc <= 0x110; pc += 4 {
			k.SafePoint(cur, pc)
			passed.Store(pc)
		}
		return 0
	}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)

	ev := waitEvent(t, dbg, EventBreakpoint)
	if ev.Address != 0x100 || ev.ThreadID != th.ID() || ev.CoreID != 0 {
		t.Fatalf("event = %+v", ev)
	}
	if !dbg.Paused() {
		t.Fatal("breakpoint did not pause execution")
	}
	if got := passed.Load(); got != 0xFC {
		t.Fatalf("thread ran past the breakpoint: last address %#x", got)
	}
	waitFor(t, "core to release the thread", func() bool { return k.CurrentThread(0) == nil })

	snap := dbg.Snapshot()
	ti, ok := snap.Thread(th.ID())
	if !ok {
		t.Fatal("stopped thread missing from snapshot")
	}
	if ti.Regs.CIA != 0x100 || ti.State != ThreadReady || ti.CoreID != CORE_NONE {
		t.Fatalf("stopped thread info %+v", ti)
	}
	if !slices.Equal(snap.Breakpoints, []uint32{0x100}) || !snap.Paused {
		t.Fatalf("snapshot breakpoints %v paused %v", snap.Breakpoints, snap.Paused)
	}

	dbg.Resume()
	waitThread(t, th)
	if got := passed.Load(); got != 0x110 {
		t.Fatalf("last address %#x, want 0x110", got)
	}
}

func TestDebugger_PauseHoldsAllCores(t *testing.T) {
	k, dbg, _ := newDebugMachine(t, 2)

	var count atomic.Int32
	var stop atomic.Bool
	var threads []*Thread
	for range 3 {
		th, _ := k.RunThread(nil, "spin", spinner(0x400, &count, &stop), 0, PRIORITY_DEFAULT, AFFINITY_ANY)
		threads = append(threads, th)
	}
	waitFor(t, "spinners to start", func() bool { return count.Load() > 10 })

	dbg.Pause()
	waitFor(t, "cores to go idle", func() bool {
		return k.CurrentThread(0) == nil && k.CurrentThread(1) == nil
	})
	before := count.Load()
	time.Sleep(20 * time.Millisecond)
	if after := count.Load(); after != before {
		t.Fatalf("threads ran while paused: %d -> %d", before, after)
	}

	dbg.Resume()
	waitFor(t, "threads to run again", func() bool { return count.Load() > before })

	stop.Store(true)
	for _, th := range threads {
		waitThread(t, th)
	}
}

func TestDebugger_StepRunsOneSafePoint(t *testing.T) {
	k, dbg, _ := newDebugMachine(t, 1)

	if dbg.StepCore(0) {
		t.Fatal("step should need a paused machine")
	}

	var count atomic.Int32
	var stop atomic.Bool
	th, _ := k.RunThread(nil, "spin", spinner(0x400, &count, &stop), 0, PRIORITY_DEFAULT, AFFINITY_ANY)
	waitFor(t, "spinner to start", func() bool { return count.Load() > 0 })

	dbg.Pause()
	waitFor(t, "spinner to stop", func() bool {
		return k.CurrentThread(0) == nil && th.State() == ThreadReady
	})

	for range 3 {
		before := count.Load()
		if !dbg.StepCore(0) {
			t.Fatal("StepCore failed")
		}
		ev := waitEvent(t, dbg, EventStepComplete)
		if ev.ThreadID != th.ID() || ev.Address != 0x400 {
			t.Fatalf("step event %+v", ev)
		}
		waitFor(t, "spinner to stop after step", func() bool { return k.CurrentThread(0) == nil })
		if got := count.Load(); got != before+1 {
			t.Fatalf("step ran %d iterations, want 1", got-before)
		}
	}
	if dbg.StepCore(1) || dbg.StepCore(-1) {
		t.Fatal("step on invalid core should fail")
	}

	stop.Store(true)
	dbg.Resume()
	waitThread(t, th)
}

func TestDebugger_StepOverCall(t *testing.T) {
	k, dbg, bus := newDebugMachine(t, 1)
	bus.Write32(0x200, 0x48000101) // bl 0x300
	dbg.AddBreakpoint(0x200)

	var done atomic.Bool
	th, _ := k.RunThread(nil, "caller", func(k *Kernel, cur *Thread, _ uint32) uint32 {
		for _, pc := range []uint32{0x1FC, 0x200, 0x300, 0x304, 0x204, 0x208} {
			k.SafePoint(cur, pc)
		}
		done.Store(true)
		return 0
	}, 0, PRIORITY_DEFAULT, AFFINITY_ANY)

	ev := waitEvent(t, dbg, EventBreakpoint)
	if ev.Address != 0x200 {
		t.Fatalf("stopped at %#x, want 0x200", ev.Address)
	}
	if !dbg.StepCoreOver(0) {
		t.Fatal("StepCoreOver failed")
	}
	if bps := dbg.Breakpoints(); !slices.Equal(bps, []uint32{0x200}) {
		t.Fatalf("Breakpoints() = %v, temporary breakpoint should be hidden", bps)
	}

	ev = waitEvent(t, dbg, EventStepComplete)
	if ev.Address != 0x204 {
		t.Fatalf("step over stopped at %#x, want 0x204", ev.Address)
	}
	if dbg.CheckBreakpoint(0x204) {
		t.Fatal("temporary breakpoint not removed once hit")
	}

	dbg.Resume()
	waitThread(t, th)
	if !done.Load() {
		t.Fatal("thread did not finish")
	}
}

func TestDebugger_BreakpointBookkeeping(t *testing.T) {
	k, _ := newIdleKernel(t, 1)
	dbg := NewDebugger(k)

	dbg.AddBreakpoint(0x300)
	dbg.AddBreakpoint(0x100)
	dbg.AddBreakpoint(0x200)
	if got := dbg.Breakpoints(); !slices.Equal(got, []uint32{0x100, 0x200, 0x300}) {
		t.Fatalf("Breakpoints() = %v", got)
	}
	if !dbg.RemoveBreakpoint(0x200) || dbg.RemoveBreakpoint(0x200) {
		t.Fatal("RemoveBreakpoint should succeed once")
	}
	if dbg.CheckBreakpoint(0x200) || !dbg.CheckBreakpoint(0x100) {
		t.Fatal("CheckBreakpoint mismatch")
	}
	if dbg.StepCoreOver(0) {
		t.Fatal("step over without a pause should fail")
	}

	dbg.Pause()
	dbg.Pause()
	if !dbg.Paused() {
		t.Fatal("Pause did not pause")
	}
	dbg.Resume()
	if dbg.Paused() {
		t.Fatal("Resume did not resume")
	}
}
