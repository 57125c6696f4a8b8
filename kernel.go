// kernel.go - Guest kernel: scheduler lock, thread table, per-core state

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

/*
kernel.go - Kernel

The Kernel holds the guest-visible state built on top of the Processor:
threads, alarms and the per-core interrupt threads. Every mutation of that
state happens under the scheduler lock (Processor.LockScheduler). Functions
with a NoLock suffix expect the caller to hold it already.

Kernel calls take the calling guest thread explicitly. Host code that is not
running inside a fiber (the loader, the debugger, tests) passes nil, which
behaves like a call from core 0 that never blocks or reschedules.
*/

package main

import (
	"fmt"
	"slices"
	"time"
)

// Kernel is the guest operating system state shared by all cores.
type Kernel struct {
	proc *Processor
	mem  MemoryBus

	// Guarded by the scheduler lock
	threads      []*Thread
	nextThreadID uint32
	alarms       alarmArena
	alarmQueues  [][]AlarmHandle

	interruptThreads []*Thread
}

// NewKernel creates the guest kernel on top of proc. mem may be nil when no
// guest memory is attached.
func NewKernel(proc *Processor, mem MemoryBus) *Kernel {
	k := &Kernel{
		proc:        proc,
		mem:         mem,
		alarmQueues: make([][]AlarmHandle, proc.CoreCount()),
	}
	return k
}

// Processor returns the scheduler the kernel runs on.
func (k *Kernel) Processor() *Processor { return k.proc }

// Memory returns the attached guest memory, or nil.
func (k *Kernel) Memory() MemoryBus { return k.mem }

// Now returns the current guest time.
func (k *Kernel) Now() time.Time { return k.proc.clock.Now() }

// Start creates one interrupt thread per core and starts the processor.
func (k *Kernel) Start() error {
	k.proc.LockScheduler()
	for core := range k.proc.CoreCount() {
		name := fmt.Sprintf("Interrupt Thread %d", core)
		t := k.createThreadNoLock(name, interruptThreadEntry, uint32(core), PRIORITY_INTERRUPT, uint32(1)<<core)
		k.interruptThreads = append(k.interruptThreads, t)
		k.resumeThreadNoLock(t, 1)
	}
	k.proc.UnlockScheduler()

	if err := k.proc.Start(); err != nil {
		return fmt.Errorf("kernel start: %w", err)
	}
	return nil
}

// Stop halts the processor. Guest threads still alive are abandoned.
func (k *Kernel) Stop() error {
	return k.proc.Stop()
}

// InterruptThread returns the interrupt thread of core id.
func (k *Kernel) InterruptThread(id int) *Thread {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if id < 0 || id >= len(k.interruptThreads) {
		return nil
	}
	return k.interruptThreads[id]
}

// Threads returns a copy of the thread table.
func (k *Kernel) Threads() []*Thread {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	return slices.Clone(k.threads)
}

// ThreadByID looks up a thread by id.
func (k *Kernel) ThreadByID(id uint32) *Thread {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	for _, t := range k.threads {
		if t.id == id {
			return t
		}
	}
	return nil
}

// CurrentCore returns the core cur is executing on. Host callers get core 0.
func (k *Kernel) CurrentCore(cur *Thread) int {
	if cur == nil || cur.fiber == nil {
		return 0
	}
	if id := k.proc.CoreID(cur.fiber); id != CORE_NONE {
		return id
	}
	return 0
}

// SafePoint records cia for cur and delivers any pending interrupt or
// debugger stop. Guest code calls this between instructions.
func (k *Kernel) SafePoint(cur *Thread, cia uint32) {
	if cur == nil {
		return
	}
	k.proc.SafePoint(cur.fiber, cia)
}
