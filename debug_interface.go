// debug_interface.go - Scheduler state snapshots for the debugger

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

package main

import (
	"fmt"
	"time"
)

// RegisterInfo describes a single register for display in the monitor.
type RegisterInfo struct {
	Name     string // "CIA", "LR", "R3"
	BitWidth int
	Value    uint64
	Group    string // "general", "special"
}

// ThreadInfo is the debugger's view of one guest thread.
type ThreadInfo struct {
	ID             uint32
	Name           string
	CoreID         int // CORE_NONE unless currently running
	Affinity       uint32
	State          ThreadState
	Priority       int32
	SuspendCounter int32
	EntryPoint     uint32
	Regs           Registers
}

// RegisterList flattens the thread's register block for display.
func (ti ThreadInfo) RegisterList() []RegisterInfo {
	regs := []RegisterInfo{
		{Name: "CIA", BitWidth: 32, Value: uint64(ti.Regs.CIA), Group: "special"},
		{Name: "LR", BitWidth: 32, Value: uint64(ti.Regs.LR), Group: "special"},
		{Name: "CTR", BitWidth: 32, Value: uint64(ti.Regs.CTR), Group: "special"},
		{Name: "CR", BitWidth: 32, Value: uint64(ti.Regs.CR), Group: "special"},
	}
	for i, v := range ti.Regs.GPR {
		regs = append(regs, RegisterInfo{Name: fmt.Sprintf("R%d", i), BitWidth: 32, Value: uint64(v), Group: "general"})
	}
	return regs
}

// CoreInfo is the debugger's view of one core.
type CoreInfo struct {
	ID                int
	CurrentThread     uint32 // 0 when idle
	LastThread        uint32
	InterruptedThread uint32
	InterruptPending  bool
	NextInterrupt     time.Time
	HostThread        int
}

// SchedulerSnapshot is a consistent picture of the scheduler, taken with the
// scheduler lock held.
type SchedulerSnapshot struct {
	Time        time.Time
	Paused      bool
	Cores       []CoreInfo
	Threads     []ThreadInfo
	ReadyQueue  []uint32 // thread ids in scheduling order
	Breakpoints []uint32
}

// Thread returns the snapshot entry for id.
func (s *SchedulerSnapshot) Thread(id uint32) (ThreadInfo, bool) {
	for _, t := range s.Threads {
		if t.ID == id {
			return t, true
		}
	}
	return ThreadInfo{}, false
}

// DebugEventKind says why the debugger published an event.
type DebugEventKind int

const (
	EventPaused DebugEventKind = iota
	EventResumed
	EventBreakpoint
	EventStepComplete
)

func (k DebugEventKind) String() string {
	switch k {
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventBreakpoint:
		return "breakpoint"
	case EventStepComplete:
		return "step"
	}
	return "unknown"
}

// DebugEvent is published on the debugger's event channel.
type DebugEvent struct {
	Kind     DebugEventKind
	CoreID   int
	ThreadID uint32
	Address  uint32
}
