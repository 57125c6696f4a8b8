// processor.go - Cooperative multi-core fiber scheduler

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
processor.go - Processor

The Processor maps any number of guest threads onto a fixed set of emulated
cores. Every core runs the same loop on its own host goroutine:

 1. Give the debugger a chance to hold the core (before taking any lock).
 2. Under the scheduler mutex, reclaim exited fibers and move fibers that
    switched out on this core into the shared ready-queue.
 3. Convert a pending hardware interrupt into a Ready interrupt-handler fiber.
 4. Pick the first Ready fiber in priority order that may run on this core and
    is not suspended, and switch into it.
 5. Otherwise sleep until something is queued.

The ready-queue is ordered by base priority (0 is most important) with FIFO
order between equal priorities. A fiber that gives up its core is placed on
that core's pending list rather than straight into the ready-queue, so no
other core can pick it up before it has actually switched out.

Locking:

    mu          ready-queue, fiber list, per-core lists, current fibers
    schedLock   guest-kernel scheduler lock, held by guest code around kernel
                state changes; released before every switch to a core loop
    timerMu     per-core interrupt deadlines

Lock order is schedLock -> mu and timerMu -> mu.
*/

package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BreakController lets a debugger hold cores and stop fibers at safe points.
type BreakController interface {
	// MaybeBreak blocks the calling core loop while execution is paused.
	MaybeBreak(coreID int, quit <-chan struct{})
	// ShouldStop reports whether a fiber reaching a safe point on coreID
	// must give up the core.
	ShouldStop(coreID int) bool
	// HitBreakpoint is consulted at safe points with the fiber's address.
	HitBreakpoint(coreID int, cia uint32) bool
	// Stopped is called once a fiber has stopped on coreID.
	Stopped(coreID int, f *Fiber)
}

// Processor owns the cores, the ready-queue and the scheduler locks.
type Processor struct {
	cores []*Core

	mu         sync.Mutex
	cond       *sync.Cond
	fiberQueue []*Fiber
	fiberList  []*Fiber
	nextFiber  uint32

	schedLock sync.Mutex

	timerMu   sync.Mutex
	timerWake chan struct{}
	clock     Clock

	running atomic.Bool
	started atomic.Bool
	quit    chan struct{}
	group   *errgroup.Group

	breaker atomic.Pointer[breakerHolder]

	logMu    sync.Mutex
	logOut   io.Writer
	traceOut io.Writer
}

type breakerHolder struct{ bc BreakController }

// NewProcessor creates a processor with the given number of cores.
func NewProcessor(cores int, clock Clock) (*Processor, error) {
	if cores < 1 || cores > CORE_COUNT_MAX {
		return nil, fmt.Errorf("invalid core count %d (1-%d)", cores, CORE_COUNT_MAX)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	p := &Processor{
		timerWake: make(chan struct{}, 1),
		clock:     clock,
		quit:      make(chan struct{}),
		logOut:    os.Stderr,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range cores {
		p.cores = append(p.cores, newCore(i))
	}
	return p, nil
}

// SetLogOutput redirects error diagnostics. A nil writer discards them.
func (p *Processor) SetLogOutput(w io.Writer) {
	p.logMu.Lock()
	p.logOut = w
	p.logMu.Unlock()
}

// SetTraceOutput enables scheduling trace lines. A nil writer disables them.
func (p *Processor) SetTraceOutput(w io.Writer) {
	p.logMu.Lock()
	p.traceOut = w
	p.logMu.Unlock()
}

// SetBreakController installs the debugger hook used by the core loops.
func (p *Processor) SetBreakController(bc BreakController) {
	if bc == nil {
		p.breaker.Store(nil)
		return
	}
	p.breaker.Store(&breakerHolder{bc: bc})
}

func (p *Processor) breakController() BreakController {
	if h := p.breaker.Load(); h != nil {
		return h.bc
	}
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	if p.logOut != nil {
		fmt.Fprintf(p.logOut, format+"\n", args...)
	}
}

func (p *Processor) tracef(format string, args ...any) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	if p.traceOut != nil {
		fmt.Fprintf(p.traceOut, format+"\n", args...)
	}
}

// Clock returns the processor time source.
func (p *Processor) Clock() Clock { return p.clock }

// CoreCount returns the number of emulated cores.
func (p *Processor) CoreCount() int { return len(p.cores) }

// Core returns core id, or nil if out of range.
func (p *Processor) Core(id int) *Core {
	if id < 0 || id >= len(p.cores) {
		return nil
	}
	return p.cores[id]
}

// IsRunning reports whether the core loops are active.
func (p *Processor) IsRunning() bool { return p.running.Load() }

// Start spawns one goroutine per core plus the interrupt timer goroutine.
func (p *Processor) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("processor already started")
	}
	p.running.Store(true)

	g := new(errgroup.Group)
	for _, core := range p.cores {
		g.Go(func() error {
			return p.coreEntryPoint(core)
		})
	}
	g.Go(p.timerEntryPoint)
	p.group = g
	return nil
}

// Stop halts all cores and the timer, and releases every parked fiber.
// A stopped processor cannot be restarted.
func (p *Processor) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	close(p.quit)

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wakeTimer()

	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

// Done is closed once Stop has been called.
func (p *Processor) Done() <-chan struct{} { return p.quit }

// CreateFiber allocates a fiber for thread and registers it in the fiber
// list. The fiber does not run until it is queued.
func (p *Processor) CreateFiber(thread *Thread, entry FiberEntry) *Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createFiberNoLock(thread, entry)
}

func (p *Processor) createFiberNoLock(thread *Thread, entry FiberEntry) *Fiber {
	p.nextFiber++
	f := &Fiber{
		id:     p.nextFiber,
		thread: thread,
		entry:  entry,
		resume: make(chan struct{}),
		coreID: CORE_NONE,
	}
	p.fiberList = append(p.fiberList, f)
	go p.fiberMain(f)
	return f
}

// Queue inserts a Ready fiber into the ready-queue and wakes all cores.
func (p *Processor) Queue(f *Fiber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueNoLock(f)
}

func (p *Processor) queueNoLock(f *Fiber) {
	if f.thread.State() != ThreadReady {
		p.logf("processor: queued %v in state %v", f, f.thread.State())
	}
	prio := f.thread.Priority()
	pos := sort.Search(len(p.fiberQueue), func(i int) bool {
		return p.fiberQueue[i].thread.Priority() > prio
	})
	p.fiberQueue = slices.Insert(p.fiberQueue, pos, f)
	p.tracef("processor: queued thread %d at %d", f.thread.id, pos)
	p.cond.Broadcast()
}

// requeueNoLock restores priority order after f's priority changed.
func (p *Processor) requeueNoLock(f *Fiber) {
	if i := slices.Index(p.fiberQueue, f); i >= 0 {
		p.fiberQueue = slices.Delete(p.fiberQueue, i, i+1)
		p.queueNoLock(f)
	}
}

// Requeue restores the ready-queue order after f's priority changed. A
// fiber that is not queued is left alone.
func (p *Processor) Requeue(f *Fiber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requeueNoLock(f)
}

// WakeAllCores wakes every idle core loop so it rescans the ready-queue.
func (p *Processor) WakeAllCores() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// peekNextFiberNoLock finds the first fiber in the ready-queue that may run
// on core id.
func (p *Processor) peekNextFiberNoLock(id int) *Fiber {
	bit := uint32(1) << id
	for _, f := range p.fiberQueue {
		t := f.thread
		if t.State() != ThreadReady {
			continue
		}
		if t.SuspendCounter() > 0 {
			continue
		}
		if t.Affinity()&bit != 0 {
			return f
		}
	}
	return nil
}

// currentCoreNoLock returns the core f is executing on, or nil when f is not
// the current fiber of any core.
func (p *Processor) currentCoreNoLock(f *Fiber) *Core {
	if f == nil || f.core == nil || f.core.currentFiber != f {
		return nil
	}
	return f.core
}

// coreEntryPoint is the run loop of one core.
func (p *Processor) coreEntryPoint(core *Core) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	core.hostThread.Store(int64(hostThreadID()))

	for p.running.Load() {
		// Intentionally before the lock
		if bc := p.breakController(); bc != nil {
			bc.MaybeBreak(core.id, p.quit)
		}

		p.mu.Lock()
		if !p.running.Load() {
			p.mu.Unlock()
			break
		}

		for _, f := range core.deleteList {
			if i := slices.Index(p.fiberList, f); i >= 0 {
				p.fiberList = slices.Delete(p.fiberList, i, i+1)
			}
			if core.lastFiber == f {
				core.lastFiber = nil
			}
		}
		core.deleteList = nil

		for _, f := range core.pendingList {
			p.queueNoLock(f)
		}
		core.pendingList = nil

		if core.interruptHandler != nil && core.interrupt.CompareAndSwap(true, false) {
			handler := core.interruptHandler
			// Already queued or running handlers pick the work up anyway
			if handler.thread.State() == ThreadWaiting {
				handler.thread.setState(ThreadReady)
				p.queueNoLock(handler)
			}
		}

		fiber := p.peekNextFiberNoLock(core.id)
		if fiber == nil {
			p.tracef("processor: core %d wait for thread", core.id)
			p.cond.Wait()
			p.mu.Unlock()
			continue
		}

		if i := slices.Index(p.fiberQueue, fiber); i >= 0 {
			p.fiberQueue = slices.Delete(p.fiberQueue, i, i+1)
		}
		core.currentFiber = fiber
		core.lastFiber = fiber
		fiber.core = core
		fiber.coreID = core.id
		fiber.thread.setState(ThreadRunning)
		p.mu.Unlock()

		p.tracef("processor: core %d enter thread %d", core.id, fiber.thread.id)
		if !core.switchToFiber(fiber, p.quit) {
			break
		}

		p.mu.Lock()
		if core.currentFiber == fiber {
			core.currentFiber = nil
		}
		if fiber.core == core {
			fiber.core = nil
		}
		p.mu.Unlock()
	}
	return nil
}

// Reschedule gives up the core if a more important fiber is ready, or, with
// yield set, one of equal importance. A fiber that is no longer Running (for
// example parked on a wait queue) or is suspended always gives up the core.
// With hasSchedulerLock the scheduler lock is released across the switch
// and held again on return. Returns once f runs again.
func (p *Processor) Reschedule(f *Fiber, hasSchedulerLock, yield bool) {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		p.logf("processor: reschedule called from non-core context")
		return
	}

	thread := f.thread
	next := p.peekNextFiberNoLock(core.id)

	// Priority is 0 = highest, 31 = lowest
	if thread.SuspendCounter() <= 0 && thread.State() == ThreadRunning {
		if next == nil {
			p.mu.Unlock()
			return
		}
		if yield {
			// Yield transfers control to threads with equal or better priority
			if thread.Priority() < next.thread.Priority() {
				p.mu.Unlock()
				return
			}
		} else {
			// Only reschedule to more important threads
			if thread.Priority() <= next.thread.Priority() {
				p.mu.Unlock()
				return
			}
		}
	}

	if thread.State() == ThreadRunning {
		thread.setState(ThreadReady)
	}
	if thread.State() == ThreadReady {
		core.pendingList = append(core.pendingList, f)
	}
	p.mu.Unlock()

	if hasSchedulerLock {
		p.schedLock.Unlock()
	}

	p.tracef("processor: core %d leave thread %d", core.id, thread.id)
	p.swapToPrimary(f, core)

	if hasSchedulerLock {
		p.schedLock.Lock()
	}
}

// Yield gives the core to a ready fiber of equal or better priority.
func (p *Processor) Yield(f *Fiber) {
	p.Reschedule(f, false, true)
}

// Exit retires f. The fiber is put on its core's delete list and reclaimed
// by the core loop; Exit never returns when called from a running fiber.
func (p *Processor) Exit(f *Fiber) {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		p.logf("processor: exit called from non-core context")
		return
	}
	core.deleteList = append(core.deleteList, f)
	p.mu.Unlock()

	p.tracef("processor: core %d exit fiber %d", core.id, f.id)
	select {
	case core.primary <- struct{}{}:
	case <-p.quit:
	}
	runtime.Goexit()
}

// WaitFirstInterrupt registers f as its core's interrupt handler and parks
// it until the first interrupt arrives.
func (p *Processor) WaitFirstInterrupt(f *Fiber) {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		p.logf("processor: waitFirstInterrupt called from non-core context")
		return
	}
	if f.thread.Priority() != PRIORITY_INTERRUPT {
		p.logf("processor: interrupt handler %v has priority %d", f, f.thread.Priority())
	}
	core.interruptHandler = f
	f.thread.setState(ThreadWaiting)
	p.mu.Unlock()

	p.swapToPrimary(f, core)
}

// HandleInterrupt parks the running fiber so the core loop can deliver the
// pending interrupt. The fiber is requeued as Ready and remembered as the
// core's interrupted fiber.
func (p *Processor) HandleInterrupt(f *Fiber) {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		p.logf("processor: handleInterrupt called from non-core context")
		return
	}
	f.thread.setState(ThreadReady)
	core.pendingList = append(core.pendingList, f)
	core.interruptedFiber = f
	p.mu.Unlock()

	p.swapToPrimary(f, core)
}

// FinishInterrupt returns the interrupt handler fiber to its parked state.
func (p *Processor) FinishInterrupt(f *Fiber) {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		p.logf("processor: finishInterrupt called from non-core context")
		return
	}
	p.tracef("processor: exit interrupt core %d", core.id)
	core.interruptedFiber = nil
	f.thread.setState(ThreadWaiting)
	p.mu.Unlock()

	p.swapToPrimary(f, core)
}

// InterruptedFiber returns the fiber whose execution the current interrupt
// on core id displaced, or nil.
func (p *Processor) InterruptedFiber(id int) *Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.Core(id); c != nil {
		return c.interruptedFiber
	}
	return nil
}

// RaiseInterrupt flags an interrupt on core id and wakes the core loops.
func (p *Processor) RaiseInterrupt(id int) {
	c := p.Core(id)
	if c == nil {
		return
	}
	c.interrupt.Store(true)
	p.WakeAllCores()
}

// CheckInterrupt is the safe point guest code calls between instructions.
// If an interrupt is pending on f's core, or the debugger wants the core,
// f gives up the core. Returns true if f was switched out.
func (p *Processor) CheckInterrupt(f *Fiber) bool {
	p.mu.Lock()
	core := p.currentCoreNoLock(f)
	if core == nil {
		p.mu.Unlock()
		return false
	}
	isHandler := core.interruptHandler == f
	hasHandler := core.interruptHandler != nil
	p.mu.Unlock()

	if isHandler {
		return false
	}
	if hasHandler && core.interrupt.Load() {
		p.HandleInterrupt(f)
		return true
	}
	if bc := p.breakController(); bc != nil && bc.ShouldStop(core.id) {
		p.stopAtSafePoint(f, core, bc)
		return true
	}
	return false
}

// SafePoint records the fiber's instruction address, consults breakpoints
// and then behaves like CheckInterrupt.
func (p *Processor) SafePoint(f *Fiber, cia uint32) bool {
	if f == nil {
		return false
	}
	f.SetRegisters(func(r *Registers) { r.CIA = cia })
	if bc := p.breakController(); bc != nil {
		if id := p.CoreID(f); id != CORE_NONE && bc.HitBreakpoint(id, cia) {
			p.stopAtSafePoint(f, p.cores[id], bc)
			return true
		}
	}
	return p.CheckInterrupt(f)
}

// stopAtSafePoint requeues f as Ready and hands the core back so the
// debugger can hold the loop.
func (p *Processor) stopAtSafePoint(f *Fiber, core *Core, bc BreakController) {
	p.mu.Lock()
	if p.currentCoreNoLock(f) != core {
		p.mu.Unlock()
		return
	}
	f.thread.setState(ThreadReady)
	core.pendingList = append(core.pendingList, f)
	p.mu.Unlock()

	bc.Stopped(core.id, f)
	p.swapToPrimary(f, core)
}

// CoreID returns the core f is executing on, or CORE_NONE.
func (p *Processor) CoreID(f *Fiber) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.currentCoreNoLock(f); c != nil {
		return c.id
	}
	return CORE_NONE
}

// CurrentFiber returns the fiber executing on core id, or nil.
func (p *Processor) CurrentFiber(id int) *Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.Core(id); c != nil {
		return c.currentFiber
	}
	return nil
}

// LastFiber returns the fiber that most recently ran on core id.
func (p *Processor) LastFiber(id int) *Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.Core(id); c != nil {
		return c.lastFiber
	}
	return nil
}

// Fibers returns a copy of the fiber list.
func (p *Processor) Fibers() []*Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.fiberList)
}

// ReadyQueue returns a copy of the ready-queue in scheduling order.
func (p *Processor) ReadyQueue() []*Fiber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.fiberQueue)
}

// LockScheduler acquires the guest kernel scheduler lock.
func (p *Processor) LockScheduler() { p.schedLock.Lock() }

// UnlockScheduler releases the guest kernel scheduler lock.
func (p *Processor) UnlockScheduler() { p.schedLock.Unlock() }
