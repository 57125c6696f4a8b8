// processor_fiber.go - Cooperative execution contexts for guest threads

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
processor_fiber.go - Fibers

A fiber is the host side of one guest thread. Each fiber owns a goroutine, but
that goroutine only ever runs while it holds its core's baton: the core loop
hands the baton over on the fiber's resume channel and blocks until the fiber
hands it back on the core's primary channel. At most one fiber per core is
therefore executing at any instant, and switches only happen where guest code
calls back into the scheduler.

A fiber may be handed back on one core and resumed later on another. The core
pointer is written by the core loop under the scheduler mutex before the
resume, so code running inside the fiber always sees the core it is on.
*/

package main

import (
	"fmt"
	"runtime"
	"sync"
)

// Registers is the PowerPC user register block saved with each fiber.
type Registers struct {
	GPR [32]uint32
	LR  uint32
	CTR uint32
	CR  uint32
	CIA uint32 // current instruction address
}

// FiberEntry is the host-callable routine a fiber runs once it is first
// switched to. It is normally produced by the kernel's thread creation or by
// the guest program loader.
type FiberEntry func(f *Fiber)

// Fiber is a cooperative execution context bound to a guest thread.
type Fiber struct {
	id     uint32
	thread *Thread
	entry  FiberEntry

	regsMu sync.Mutex
	regs   Registers

	resume chan struct{}

	// Guarded by Processor.mu
	core   *Core
	coreID int
}

// ID returns the processor-wide fiber number.
func (f *Fiber) ID() uint32 { return f.id }

// Thread returns the guest thread this fiber runs.
func (f *Fiber) Thread() *Thread { return f.thread }

// Registers returns a copy of the fiber's register block.
func (f *Fiber) Registers() Registers {
	f.regsMu.Lock()
	defer f.regsMu.Unlock()
	return f.regs
}

// SetRegisters applies fn to the fiber's register block.
func (f *Fiber) SetRegisters(fn func(r *Registers)) {
	f.regsMu.Lock()
	fn(&f.regs)
	f.regsMu.Unlock()
}

// PC is shorthand for the current instruction address.
func (f *Fiber) PC() uint32 {
	f.regsMu.Lock()
	defer f.regsMu.Unlock()
	return f.regs.CIA
}

func (f *Fiber) String() string {
	if f.thread != nil {
		return fmt.Sprintf("fiber %d (thread %d %q)", f.id, f.thread.id, f.thread.name)
	}
	return fmt.Sprintf("fiber %d", f.id)
}

// fiberMain is the body of every fiber goroutine. It waits for the first
// switch-in, runs the entry routine and exits the fiber when it returns.
func (p *Processor) fiberMain(f *Fiber) {
	select {
	case <-f.resume:
	case <-p.quit:
		return
	}

	if f.entry != nil {
		f.entry(f)
	} else {
		p.logf("processor: %v started without an entry routine", f)
	}
	p.Exit(f)
}

// switchToFiber runs on the core goroutine. It hands the core to f and blocks
// until f hands it back. Returns false if the processor is stopping.
func (c *Core) switchToFiber(f *Fiber, quit <-chan struct{}) bool {
	select {
	case f.resume <- struct{}{}:
	case <-quit:
		return false
	}
	select {
	case <-c.primary:
		return true
	case <-quit:
		return false
	}
}

// swapToPrimary runs on the fiber goroutine. It hands core c back to its run
// loop and blocks until some core resumes f again. The caller must have
// captured c while holding the scheduler mutex; f.core may change as soon as
// the baton is released.
func (p *Processor) swapToPrimary(f *Fiber, c *Core) {
	select {
	case c.primary <- struct{}{}:
	case <-p.quit:
		runtime.Goexit()
	}
	select {
	case <-f.resume:
	case <-p.quit:
		runtime.Goexit()
	}
}
