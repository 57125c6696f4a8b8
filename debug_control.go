// debug_control.go - Pause, resume, stepping and breakpoints

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

/*
debug_control.go - Debugger

The Debugger plugs into the Processor as its BreakController. It never
preempts guest code: pausing only makes every fiber give up its core at its
next safe point, and the core loops then hold before picking the next fiber.

Stepping a core lets its loop pick exactly one fiber, which runs to its next
safe point and stops again. Step-over looks at the instruction the stopped
fiber is about to execute; for a branch-and-link it plants a temporary
breakpoint after the call and resumes everything, otherwise it steps.
*/

package main

import (
	"slices"
	"sync"
)

// Debugger controls execution of all cores.
type Debugger struct {
	k    *Kernel
	proc *Processor

	mu          sync.Mutex
	paused      bool
	resumeCh    chan struct{}
	stepBudget  []int
	stepping    []bool
	stopReason  []DebugEventKind
	breakpoints map[uint32]uint32 // address -> user data

	events chan DebugEvent
}

// NewDebugger attaches a debugger to k's processor.
func NewDebugger(k *Kernel) *Debugger {
	n := k.proc.CoreCount()
	d := &Debugger{
		k:           k,
		proc:        k.proc,
		resumeCh:    make(chan struct{}),
		stepBudget:  make([]int, n),
		stepping:    make([]bool, n),
		stopReason:  make([]DebugEventKind, n),
		breakpoints: make(map[uint32]uint32),
		events:      make(chan DebugEvent, 64),
	}
	k.proc.SetBreakController(d)
	return d
}

// Events delivers pause, breakpoint and step notifications. Events are
// dropped when nobody keeps up.
func (d *Debugger) Events() <-chan DebugEvent { return d.events }

func (d *Debugger) publish(ev DebugEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

// wakeLocked releases every core held in MaybeBreak so it re-checks.
func (d *Debugger) wakeLocked() {
	close(d.resumeCh)
	d.resumeCh = make(chan struct{})
}

// Paused reports whether execution is paused.
func (d *Debugger) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Pause stops every core at its next safe point.
func (d *Debugger) Pause() {
	d.mu.Lock()
	if d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = true
	for i := range d.stopReason {
		d.stopReason[i] = EventPaused
	}
	d.mu.Unlock()

	d.publish(DebugEvent{Kind: EventPaused, CoreID: CORE_NONE})
	d.proc.WakeAllCores()
}

// Resume lets all cores run freely again.
func (d *Debugger) Resume() {
	d.mu.Lock()
	if !d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = false
	clear(d.stepBudget)
	clear(d.stepping)
	d.wakeLocked()
	d.mu.Unlock()

	d.publish(DebugEvent{Kind: EventResumed, CoreID: CORE_NONE})
}

// StepCore lets core id run one fiber to its next safe point. Only valid
// while paused.
func (d *Debugger) StepCore(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused || id < 0 || id >= len(d.stepBudget) {
		return false
	}
	d.stepBudget[id] = 1
	d.stopReason[id] = EventStepComplete
	d.wakeLocked()
	return true
}

// StepCoreOver steps core id, running through a call in one go when the
// fiber last stopped there is about to execute a branch-and-link.
func (d *Debugger) StepCoreOver(id int) bool {
	f := d.proc.LastFiber(id)
	mem := d.k.Memory()
	if f == nil || mem == nil {
		return d.StepCore(id)
	}

	cia := f.PC()
	if ClassifyInstruction(mem.Read32(cia)) != BranchLink {
		return d.StepCore(id)
	}

	d.mu.Lock()
	if !d.paused {
		d.mu.Unlock()
		return false
	}
	if _, exists := d.breakpoints[cia+4]; !exists {
		d.breakpoints[cia+4] = STEP_OVER_USERDATA
	}
	d.mu.Unlock()

	d.Resume()
	return true
}

// AddBreakpoint plants a breakpoint at addr.
func (d *Debugger) AddBreakpoint(addr uint32) {
	d.mu.Lock()
	d.breakpoints[addr] = 0
	d.mu.Unlock()
}

// RemoveBreakpoint clears the breakpoint at addr. Returns false if none.
func (d *Debugger) RemoveBreakpoint(addr uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.breakpoints[addr]; !ok {
		return false
	}
	delete(d.breakpoints, addr)
	return true
}

// CheckBreakpoint reports whether a breakpoint is planted at addr.
func (d *Debugger) CheckBreakpoint(addr uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.breakpoints[addr]
	return ok
}

// Breakpoints lists user breakpoints in address order. Temporary step-over
// breakpoints are not included.
func (d *Debugger) Breakpoints() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint32
	for addr, ud := range d.breakpoints {
		if ud != STEP_OVER_USERDATA {
			out = append(out, addr)
		}
	}
	slices.Sort(out)
	return out
}

// MaybeBreak holds core id while paused, unless it has a step to take.
func (d *Debugger) MaybeBreak(id int, quit <-chan struct{}) {
	for {
		d.mu.Lock()
		if !d.paused {
			d.mu.Unlock()
			return
		}
		if d.stepBudget[id] > 0 {
			d.stepBudget[id]--
			d.stepping[id] = true
			d.mu.Unlock()
			return
		}
		ch := d.resumeCh
		d.mu.Unlock()

		select {
		case <-ch:
		case <-quit:
			return
		}
	}
}

// ShouldStop reports whether the fiber at a safe point on core id has to
// give up its core.
func (d *Debugger) ShouldStop(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stepping[id] {
		d.stepping[id] = false
		return true
	}
	return d.paused
}

// HitBreakpoint pauses execution if a breakpoint is planted at cia.
func (d *Debugger) HitBreakpoint(id int, cia uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ud, ok := d.breakpoints[cia]
	if !ok {
		return false
	}
	if ud == STEP_OVER_USERDATA {
		delete(d.breakpoints, cia)
		d.stopReason[id] = EventStepComplete
	} else {
		d.stopReason[id] = EventBreakpoint
	}
	if !d.paused {
		d.paused = true
		for i := range d.stopReason {
			if i != id {
				d.stopReason[i] = EventPaused
			}
		}
	}
	d.stepping[id] = false
	d.stepBudget[id] = 0
	return true
}

// Stopped publishes why a fiber stopped on core id.
func (d *Debugger) Stopped(id int, f *Fiber) {
	d.mu.Lock()
	reason := d.stopReason[id]
	d.stopReason[id] = EventPaused
	d.mu.Unlock()

	if reason == EventPaused {
		return
	}
	ev := DebugEvent{Kind: reason, CoreID: id, Address: f.PC()}
	if f.thread != nil {
		ev.ThreadID = f.thread.id
	}
	d.publish(ev)
}

// Snapshot captures every core and thread under the scheduler lock.
func (d *Debugger) Snapshot() SchedulerSnapshot {
	snap := d.k.Snapshot()
	snap.Paused = d.Paused()
	snap.Breakpoints = d.Breakpoints()
	return snap
}

// Snapshot captures every core and thread under the scheduler lock.
func (k *Kernel) Snapshot() SchedulerSnapshot {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()

	p := k.proc
	snap := SchedulerSnapshot{Time: k.Now()}

	p.mu.Lock()
	for _, c := range p.cores {
		ci := CoreInfo{
			ID:               c.id,
			InterruptPending: c.interrupt.Load(),
			HostThread:       int(c.hostThread.Load()),
		}
		if c.currentFiber != nil {
			ci.CurrentThread = c.currentFiber.thread.id
		}
		if c.lastFiber != nil {
			ci.LastThread = c.lastFiber.thread.id
		}
		if c.interruptedFiber != nil {
			ci.InterruptedThread = c.interruptedFiber.thread.id
		}
		snap.Cores = append(snap.Cores, ci)
	}
	for _, f := range p.fiberQueue {
		snap.ReadyQueue = append(snap.ReadyQueue, f.thread.id)
	}
	coreOf := make(map[*Fiber]int)
	for _, f := range p.fiberList {
		if c := p.currentCoreNoLock(f); c != nil {
			coreOf[f] = c.id
		}
	}
	p.mu.Unlock()

	for i := range snap.Cores {
		snap.Cores[i].NextInterrupt = p.NextInterrupt(i)
	}

	for _, t := range k.threads {
		ti := ThreadInfo{
			ID:             t.id,
			Name:           t.name,
			CoreID:         CORE_NONE,
			Affinity:       t.Affinity(),
			State:          t.State(),
			Priority:       t.Priority(),
			SuspendCounter: t.SuspendCounter(),
			EntryPoint:     t.entryPoint,
			Regs:           t.fiber.Registers(),
		}
		if id, ok := coreOf[t.fiber]; ok {
			ti.CoreID = id
		}
		snap.Threads = append(snap.Threads, ti)
	}
	return snap
}
