package main

import (
	"bytes"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
)

func TestSnapshot_EncodeDecodeMachine(t *testing.T) {
	k, dbg, bus := newDebugMachine(t, 2)
	bus.LoadWords(0x3100, []uint32{0x48000101, 0x60000000, 0x4E800020})
	dbg.AddBreakpoint(0x3104)

	var stop atomic.Bool
	var count atomic.Int32
	th, _ := k.RunThread(nil, "worker", spinner(0x3100, &count, &stop), 0, 12, 1<<1)
	waitFor(t, "worker to run", func() bool { return count.Load() > 0 })

	dbg.Pause()
	waitFor(t, "worker to stop", func() bool { return th.State() == ThreadReady && k.CurrentThread(1) == nil })

	snap := TakeSnapshot(dbg)
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	if !got.Scheduler.Time.Equal(snap.Scheduler.Time) || !got.Scheduler.Paused {
		t.Fatalf("header mismatch: %v paused=%v", got.Scheduler.Time, got.Scheduler.Paused)
	}
	if len(got.Scheduler.Cores) != 2 {
		t.Fatalf("decoded %d cores, want 2", len(got.Scheduler.Cores))
	}
	for i, c := range got.Scheduler.Cores {
		want := snap.Scheduler.Cores[i]
		if c.ID != want.ID || c.LastThread != want.LastThread || !c.NextInterrupt.Equal(want.NextInterrupt) {
			t.Fatalf("core %d: got %+v want %+v", i, c, want)
		}
	}
	ti, ok := got.Scheduler.Thread(th.ID())
	if !ok {
		t.Fatal("worker missing from decoded snapshot")
	}
	if ti.Name != "worker" || ti.Priority != 12 || ti.Affinity != 1<<1 || ti.Regs.CIA != 0x3100 || ti.State != ThreadReady {
		t.Fatalf("decoded thread %+v", ti)
	}
	if len(got.Scheduler.Threads) != len(snap.Scheduler.Threads) {
		t.Fatalf("thread count %d, want %d", len(got.Scheduler.Threads), len(snap.Scheduler.Threads))
	}
	if !slices.Equal(got.Scheduler.ReadyQueue, snap.Scheduler.ReadyQueue) {
		t.Fatalf("ready queue %v, want %v", got.Scheduler.ReadyQueue, snap.Scheduler.ReadyQueue)
	}
	if !slices.Equal(got.Scheduler.Breakpoints, []uint32{0x3104}) {
		t.Fatalf("breakpoints %v", got.Scheduler.Breakpoints)
	}
	if !bytes.Equal(got.Memory, bus.Dump()) {
		t.Fatal("memory image mismatch")
	}

	stop.Store(true)
	dbg.Resume()
	waitThread(t, th)
}

func TestSnapshot_FileRoundTrip(t *testing.T) {
	k, _ := newIdleKernel(t, 1)
	dbg := NewDebugger(k)
	path := filepath.Join(t.TempDir(), "state.esnp")

	if err := SaveSnapshotToFile(TakeSnapshot(dbg), path); err != nil {
		t.Fatalf("SaveSnapshotToFile: %v", err)
	}
	snap, err := LoadSnapshotFromFile(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromFile: %v", err)
	}
	if len(snap.Memory) != 0 {
		t.Fatalf("kernel without memory produced %d bytes of RAM", len(snap.Memory))
	}
	if len(snap.Scheduler.Cores) != 1 {
		t.Fatalf("cores = %d", len(snap.Scheduler.Cores))
	}

	if _, err := LoadSnapshotFromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("missing file not reported")
	}
}

func TestSnapshot_RejectsBadData(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("NOPE\x01\x00\x00\x00")); err == nil {
		t.Error("bad magic accepted")
	}
	if _, err := DecodeSnapshot([]byte("ESNP\x09\x00\x00\x00")); err == nil {
		t.Error("unknown version accepted")
	}
	if _, err := DecodeSnapshot([]byte("ES")); err == nil {
		t.Error("short header accepted")
	}

	k, _ := newIdleKernel(t, 1)
	data, err := EncodeSnapshot(TakeSnapshot(NewDebugger(k)))
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if _, err := DecodeSnapshot(data[:30]); err == nil {
		t.Error("truncated snapshot accepted")
	}
}
