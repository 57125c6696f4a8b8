// kernel_interrupt.go - Per-core interrupt threads

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

// interruptThreadEntry is the body of each core's interrupt thread. It runs
// at PRIORITY_INTERRUPT pinned to its core and never exits: every time the
// core takes an interrupt it sweeps that core's alarms and parks again.
func interruptThreadEntry(k *Kernel, t *Thread, arg uint32) uint32 {
	core := int(arg)
	k.proc.WaitFirstInterrupt(t.fiber)

	for {
		var ctx *Registers
		if f := k.proc.InterruptedFiber(core); f != nil {
			regs := f.Registers()
			ctx = &regs
		}
		n := k.CheckAlarms(core, t, ctx)
		k.proc.tracef("kernel: core %d interrupt fired %d alarm(s)", core, n)
		k.proc.FinishInterrupt(t.fiber)
	}
}
