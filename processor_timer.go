// processor_timer.go - Per-core interrupt deadlines and the timer goroutine

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import (
	"sync"
	"time"
)

// Clock is the time source for alarms and interrupt deadlines.
type Clock interface {
	Now() time.Time
	// Changed returns a channel that is closed the next time the clock jumps,
	// or nil for a clock that simply follows wall time.
	Changed() <-chan struct{}
}

// SystemClock follows the host monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time           { return time.Now() }
func (SystemClock) Changed() <-chan struct{} { return nil }

// ManualClock only moves when Advance or Set is called. Used by tests and by
// deterministic replays.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	changed chan struct{}
}

// NewManualClock returns a manual clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, changed: make(chan struct{})}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// SetInterruptTimer lowers core id's next interrupt deadline to when. A
// later deadline than the current one is ignored.
func (p *Processor) SetInterruptTimer(id int, when time.Time) {
	c := p.Core(id)
	if c == nil {
		p.logf("processor: setInterruptTimer on invalid core %d", id)
		return
	}
	p.timerMu.Lock()
	lowered := when.Before(c.nextInterrupt)
	if lowered {
		c.nextInterrupt = when
	}
	p.timerMu.Unlock()

	if lowered {
		p.wakeTimer()
	}
}

// NextInterrupt returns core id's pending interrupt deadline.
func (p *Processor) NextInterrupt(id int) time.Time {
	c := p.Core(id)
	if c == nil {
		return timeInfinite
	}
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	return c.nextInterrupt
}

// clearInterruptTimer resets core id's deadline to infinite.
func (p *Processor) clearInterruptTimer(id int) {
	c := p.Core(id)
	if c == nil {
		return
	}
	p.timerMu.Lock()
	c.nextInterrupt = timeInfinite
	p.timerMu.Unlock()
}

func (p *Processor) wakeTimer() {
	select {
	case p.timerWake <- struct{}{}:
	default:
	}
}

// timerIdle is how long the timer sleeps when no deadline is pending; the
// wake channel cuts it short whenever a deadline is lowered.
const timerIdle = time.Hour

// timerEntryPoint raises each core's interrupt once its deadline passes.
func (p *Processor) timerEntryPoint() error {
	timer := time.NewTimer(timerIdle)
	defer timer.Stop()

	for p.running.Load() {
		changed := p.clock.Changed()
		now := p.clock.Now()
		next := timeInfinite

		p.timerMu.Lock()
		for _, core := range p.cores {
			if !core.nextInterrupt.After(now) {
				core.nextInterrupt = timeInfinite
				p.RaiseInterrupt(core.id)
			} else if core.nextInterrupt.Before(next) {
				next = core.nextInterrupt
			}
		}
		p.timerMu.Unlock()

		wait := timerIdle
		if changed == nil && next.Before(timeInfinite) {
			wait = next.Sub(now)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-p.timerWake:
		case <-changed:
		case <-p.quit:
			return nil
		}
	}
	return nil
}
