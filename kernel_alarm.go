// kernel_alarm.go - One-shot and periodic alarms

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
kernel_alarm.go - Alarms

Alarms live in an arena and are referred to by AlarmHandle. Each core has an
alarm queue holding the handles armed on it, in arming order. Queues are not
sorted: every check scans the whole queue, so alarms due in the same sweep
fire in queue order and none can be skipped.

State machine:

    None      --set-->     Set
    Set       --fire-->    None       one-shot
    Set       --fire-->    Set        periodic, nextFire += period
    Set       --cancel-->  Cancelled  waiters wake with failure

Arming detaches the alarm from whatever queue held it, appends it to the
arming core's queue and lowers that core's interrupt deadline.
*/

package main

import (
	"fmt"
	"slices"
	"time"
)

// AlarmHandle identifies an alarm. The zero handle is never valid.
type AlarmHandle uint32

// AlarmState is the lifecycle state of an alarm.
type AlarmState int32

const (
	AlarmNone AlarmState = iota
	AlarmSet
	AlarmCancelled
)

func (s AlarmState) String() string {
	switch s {
	case AlarmNone:
		return "none"
	case AlarmSet:
		return "set"
	case AlarmCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("alarm(%d)", int32(s))
}

// AlarmCallback runs when an alarm fires, with the scheduler lock released.
// cur is the thread running the check (the core's interrupt thread, or nil
// for host-driven checks) and ctx the registers of the interrupted fiber,
// if any.
type AlarmCallback func(k *Kernel, cur *Thread, h AlarmHandle, ctx *Registers)

type alarm struct {
	name     string
	nextFire time.Time
	period   time.Duration
	callback AlarmCallback
	group    uint32
	userData any
	state    AlarmState
	core     int
	waiters  ThreadQueue
	context  *Registers
}

type alarmArena struct {
	slots []*alarm
	free  []AlarmHandle
}

func (a *alarmArena) alloc(name string) AlarmHandle {
	al := &alarm{name: name, core: CORE_NONE}
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h-1] = al
		return h
	}
	a.slots = append(a.slots, al)
	return AlarmHandle(len(a.slots))
}

func (a *alarmArena) get(h AlarmHandle) *alarm {
	if h == 0 || int(h) > len(a.slots) {
		return nil
	}
	return a.slots[h-1]
}

func (a *alarmArena) release(h AlarmHandle) {
	a.slots[h-1] = nil
	a.free = append(a.free, h)
}

// CreateAlarm allocates an unnamed alarm in state None.
func (k *Kernel) CreateAlarm() AlarmHandle {
	return k.CreateAlarmEx("")
}

// CreateAlarmEx allocates a named alarm in state None.
func (k *Kernel) CreateAlarmEx(name string) AlarmHandle {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	return k.alarms.alloc(name)
}

// DestroyAlarm cancels h if armed and frees its handle.
func (k *Kernel) DestroyAlarm(h AlarmHandle) bool {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil {
		return false
	}
	k.cancelAlarmNoLock(h, a)
	k.detachAlarmNoLock(h, a)
	k.alarms.release(h)
	return true
}

func (k *Kernel) detachAlarmNoLock(h AlarmHandle, a *alarm) {
	if a.core == CORE_NONE {
		return
	}
	q := k.alarmQueues[a.core]
	if i := slices.Index(q, h); i >= 0 {
		k.alarmQueues[a.core] = slices.Delete(q, i, i+1)
	}
	a.core = CORE_NONE
}

// SetAlarm arms h to fire once after delay.
func (k *Kernel) SetAlarm(cur *Thread, h AlarmHandle, delay time.Duration, cb AlarmCallback) bool {
	return k.SetPeriodicAlarm(cur, h, k.Now().Add(delay), 0, cb)
}

// SetPeriodicAlarm arms h to fire at start and then every period. A zero
// period makes it one-shot. The alarm joins the calling core's queue.
func (k *Kernel) SetPeriodicAlarm(cur *Thread, h AlarmHandle, start time.Time, period time.Duration, cb AlarmCallback) bool {
	if period < 0 {
		return false
	}
	core := k.CurrentCore(cur)

	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil {
		return false
	}
	a.nextFire = start
	a.period = period
	a.callback = cb
	a.context = nil
	a.state = AlarmSet

	k.detachAlarmNoLock(h, a)
	a.core = core
	k.alarmQueues[core] = append(k.alarmQueues[core], h)

	k.proc.SetInterruptTimer(core, start)
	return true
}

func (k *Kernel) cancelAlarmNoLock(h AlarmHandle, a *alarm) bool {
	if a.state != AlarmSet {
		return false
	}
	a.state = AlarmCancelled
	a.nextFire = time.Time{}
	a.period = 0
	k.detachAlarmNoLock(h, a)
	k.wakeupThreadNoLock(&a.waiters)
	return true
}

// CancelAlarm cancels an armed alarm and fails its waiters. Returns false if
// h was not Set.
func (k *Kernel) CancelAlarm(h AlarmHandle) bool {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil {
		return false
	}
	return k.cancelAlarmNoLock(h, a)
}

// CancelAlarms cancels every armed alarm tagged with group, on every core.
// Returns the number cancelled.
func (k *Kernel) CancelAlarms(group uint32) int {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	n := 0
	for core := range k.alarmQueues {
		for _, h := range slices.Clone(k.alarmQueues[core]) {
			a := k.alarms.get(h)
			if a != nil && a.group == group && k.cancelAlarmNoLock(h, a) {
				n++
			}
		}
	}
	return n
}

// WaitAlarm blocks cur until h fires or is cancelled. Returns true only on a
// fire; false if h was not Set or got cancelled.
func (k *Kernel) WaitAlarm(cur *Thread, h AlarmHandle) bool {
	if cur == nil {
		k.proc.logf("kernel: waitAlarm called from host context")
		return false
	}
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil || a.state != AlarmSet {
		return false
	}
	if !k.sleepThreadNoLock(cur, &a.waiters) {
		return false
	}
	k.rescheduleNoLock(cur)
	return a.state != AlarmCancelled
}

// SetAlarmTag sets the group used by CancelAlarms.
func (k *Kernel) SetAlarmTag(h AlarmHandle, group uint32) bool {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil {
		return false
	}
	a.group = group
	return true
}

// SetAlarmUserData attaches an opaque value to h.
func (k *Kernel) SetAlarmUserData(h AlarmHandle, data any) bool {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	a := k.alarms.get(h)
	if a == nil {
		return false
	}
	a.userData = data
	return true
}

// AlarmUserData returns the value set by SetAlarmUserData.
func (k *Kernel) AlarmUserData(h AlarmHandle) any {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if a := k.alarms.get(h); a != nil {
		return a.userData
	}
	return nil
}

// AlarmState returns h's state. Unknown handles report None.
func (k *Kernel) AlarmState(h AlarmHandle) AlarmState {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if a := k.alarms.get(h); a != nil {
		return a.state
	}
	return AlarmNone
}

// AlarmNextFire returns when h fires next; zero unless h is Set.
func (k *Kernel) AlarmNextFire(h AlarmHandle) time.Time {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if a := k.alarms.get(h); a != nil {
		return a.nextFire
	}
	return time.Time{}
}

// AlarmName returns the name given to CreateAlarmEx.
func (k *Kernel) AlarmName(h AlarmHandle) string {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if a := k.alarms.get(h); a != nil {
		return a.name
	}
	return ""
}

// AlarmQueue returns a copy of the handles armed on core id.
func (k *Kernel) AlarmQueue(id int) []AlarmHandle {
	k.proc.LockScheduler()
	defer k.proc.UnlockScheduler()
	if id < 0 || id >= len(k.alarmQueues) {
		return nil
	}
	return slices.Clone(k.alarmQueues[id])
}

// CheckAlarms fires every due alarm on core id and installs the next
// deadline. Normally run by the core's interrupt thread.
func (k *Kernel) CheckAlarms(id int, cur *Thread, ctx *Registers) int {
	if id < 0 || id >= len(k.alarmQueues) {
		return 0
	}
	now := k.Now()
	next := timeInfinite
	fired := 0

	k.proc.LockScheduler()
	// The sweep below installs the queue's earliest deadline afresh
	k.proc.clearInterruptTimer(id)
	for _, h := range slices.Clone(k.alarmQueues[id]) {
		a := k.alarms.get(h)
		if a == nil || a.state != AlarmSet || a.core != id || a.nextFire.After(now) {
			continue
		}
		k.triggerAlarmNoLock(h, a, cur, ctx)
		fired++
	}

	for _, h := range k.alarmQueues[id] {
		a := k.alarms.get(h)
		if a != nil && a.state == AlarmSet && a.nextFire.Before(next) {
			next = a.nextFire
		}
	}
	k.proc.UnlockScheduler()

	k.proc.SetInterruptTimer(id, next)
	return fired
}

func (k *Kernel) triggerAlarmNoLock(h AlarmHandle, a *alarm, cur *Thread, ctx *Registers) {
	a.context = ctx
	if a.period > 0 {
		a.nextFire = a.nextFire.Add(a.period)
		a.state = AlarmSet
	} else {
		a.nextFire = time.Time{}
		a.state = AlarmNone
		k.detachAlarmNoLock(h, a)
	}

	if cb := a.callback; cb != nil {
		k.proc.UnlockScheduler()
		cb(k, cur, h, ctx)
		k.proc.LockScheduler()
	}
	k.wakeupThreadNoLock(&a.waiters)
}
