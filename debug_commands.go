// debug_commands.go - Machine Monitor command parser and handlers

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
	"strconv"
	"strings"
)

// MonitorCommand is a parsed command with name and arguments.
type MonitorCommand struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
func ParseCommand(input string) MonitorCommand {
	input = strings.TrimSpace(input)
	if input == "" {
		return MonitorCommand{}
	}
	parts := strings.Fields(input)
	return MonitorCommand{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// ParseAddress parses a monitor address in various formats:
// $hex, 0xhex, bare hex, #decimal
func ParseAddress(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	base := 16
	switch {
	case strings.HasPrefix(s, "#"):
		s, base = s[1:], 10
	case strings.HasPrefix(s, "$"):
		s = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 32)
	return uint32(v), err == nil
}

// parseCount parses a decimal count argument.
func parseCount(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	return v, err == nil && v >= 0
}

// ExecuteCommand runs one monitor command. Returns true when the monitor
// should be left.
func (m *MachineMonitor) ExecuteCommand(input string) bool {
	cmd := ParseCommand(input)
	if cmd.Name == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 || m.history[len(m.history)-1] != input {
		m.history = append(m.history, input)
	}

	switch cmd.Name {
	case "r":
		return m.cmdRegisters(cmd)
	case "t", "threads":
		return m.cmdThreads(cmd)
	case "cores":
		m.showCores()
		return false
	case "q", "ready":
		return m.cmdReady(cmd)
	case "core":
		return m.cmdCore(cmd)
	case "p", "pause":
		m.dbg.Pause()
		m.appendOutput("Paused", colorCyan)
		return false
	case "s":
		return m.cmdStep(cmd, false)
	case "so":
		return m.cmdStep(cmd, true)
	case "g":
		return m.cmdGo(cmd)
	case "x":
		return true
	case "b":
		return m.cmdBreakpointSet(cmd)
	case "bc":
		return m.cmdBreakpointClear(cmd)
	case "bl":
		return m.cmdBreakpointList(cmd)
	case "d":
		return m.cmdDisassemble(cmd)
	case "m":
		return m.cmdMemoryDump(cmd)
	case "a", "alarms":
		return m.cmdAlarms(cmd)
	case "ss":
		return m.cmdSaveState(cmd)
	case "sl":
		return m.cmdLoadState(cmd)
	case "?", "help":
		return m.cmdHelp(cmd)
	default:
		m.appendOutput(fmt.Sprintf("Unknown command: %s", cmd.Name), colorRed)
		return false
	}
}

func (m *MachineMonitor) cmdRegisters(cmd MonitorCommand) bool {
	var id uint32
	if len(cmd.Args) >= 1 {
		v, err := strconv.ParseUint(cmd.Args[0], 10, 32)
		if err != nil {
			m.appendOutput(fmt.Sprintf("Invalid thread id: %s", cmd.Args[0]), colorRed)
			return false
		}
		id = uint32(v)
	} else if f := m.k.proc.LastFiber(m.focusedCore); f != nil && f.thread != nil {
		id = f.thread.id
	}
	if id == 0 {
		m.appendOutput("No thread on focused core", colorRed)
		return false
	}
	m.showThreadRegisters(id)
	return false
}

func (m *MachineMonitor) showThreadRegisters(id uint32) {
	snap := m.dbg.Snapshot()
	ti, ok := snap.Thread(id)
	if !ok {
		m.appendOutput(fmt.Sprintf("No thread %d", id), colorRed)
		return
	}
	m.appendOutput(fmt.Sprintf("Thread %d %q %s prio %d core %d", ti.ID, ti.Name, ti.State, ti.Priority, ti.CoreID), colorYellow)
	regs := ti.RegisterList()
	var line strings.Builder
	for i, r := range regs {
		fmt.Fprintf(&line, "%-4s $%08X  ", r.Name, r.Value)
		if i%4 == 3 || i == len(regs)-1 {
			m.appendOutput(strings.TrimRight(line.String(), " "), colorWhite)
			line.Reset()
		}
	}
}

func (m *MachineMonitor) cmdThreads(_ MonitorCommand) bool {
	snap := m.dbg.Snapshot()
	m.appendOutput(" ID  PRIO  STATE     CORE  AFF  SUSP  CIA       NAME", colorCyan)
	for _, t := range snap.Threads {
		core := "-"
		if t.CoreID != CORE_NONE {
			core = strconv.Itoa(t.CoreID)
		}
		m.appendOutput(fmt.Sprintf("%3d  %4d  %-8s  %4s  %3X  %4d  $%08X %s",
			t.ID, t.Priority, t.State, core, t.Affinity, t.SuspendCounter, t.Regs.CIA, t.Name), colorWhite)
	}
	return false
}

func (m *MachineMonitor) showCores() {
	snap := m.dbg.Snapshot()
	for _, c := range snap.Cores {
		next := "never"
		if c.NextInterrupt.Before(timeInfinite) {
			next = c.NextInterrupt.Sub(snap.Time).String()
		}
		color := uint32(colorWhite)
		if c.ID == m.focusedCore {
			color = colorGreen
		}
		m.appendOutput(fmt.Sprintf("Core %d: current %d last %d irq %v next %s tid %d",
			c.ID, c.CurrentThread, c.LastThread, c.InterruptPending, next, c.HostThread), color)
	}
	state := "running"
	if snap.Paused {
		state = "paused"
	}
	m.appendOutput(fmt.Sprintf("%d thread(s), %s", len(snap.Threads), state), colorCyan)
}

func (m *MachineMonitor) cmdReady(_ MonitorCommand) bool {
	snap := m.dbg.Snapshot()
	if len(snap.ReadyQueue) == 0 {
		m.appendOutput("Ready queue empty", colorDim)
		return false
	}
	for i, id := range snap.ReadyQueue {
		ti, _ := snap.Thread(id)
		m.appendOutput(fmt.Sprintf("%2d: thread %d prio %d %s", i, id, ti.Priority, ti.Name), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdCore(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput(fmt.Sprintf("Focused core: %d", m.focusedCore), colorCyan)
		return false
	}
	id, err := strconv.Atoi(cmd.Args[0])
	if err != nil || id < 0 || id >= m.k.proc.CoreCount() {
		m.appendOutput(fmt.Sprintf("Invalid core: %s", cmd.Args[0]), colorRed)
		return false
	}
	m.focusedCore = id
	m.appendOutput(fmt.Sprintf("Focused core: %d", id), colorCyan)
	return false
}

func (m *MachineMonitor) cmdStep(cmd MonitorCommand, over bool) bool {
	core := m.focusedCore
	if len(cmd.Args) >= 1 {
		id, err := strconv.Atoi(cmd.Args[0])
		if err != nil || id < 0 || id >= m.k.proc.CoreCount() {
			m.appendOutput(fmt.Sprintf("Invalid core: %s", cmd.Args[0]), colorRed)
			return false
		}
		core = id
	}

	var ok bool
	if over {
		ok = m.dbg.StepCoreOver(core)
	} else {
		ok = m.dbg.StepCore(core)
	}
	if !ok {
		m.appendOutput("Step needs a paused machine", colorRed)
	}
	return false
}

func (m *MachineMonitor) cmdGo(_ MonitorCommand) bool {
	m.wasPaused = false
	return true
}

func (m *MachineMonitor) cmdBreakpointSet(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: b <addr>", colorRed)
		return false
	}
	addr, ok := ParseAddress(cmd.Args[0])
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	m.dbg.AddBreakpoint(addr)
	m.appendOutput(fmt.Sprintf("Breakpoint set at $%08X", addr), colorCyan)
	return false
}

func (m *MachineMonitor) cmdBreakpointClear(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: bc <addr|*>", colorRed)
		return false
	}
	if cmd.Args[0] == "*" {
		for _, addr := range m.dbg.Breakpoints() {
			m.dbg.RemoveBreakpoint(addr)
		}
		m.appendOutput("All breakpoints cleared", colorCyan)
		return false
	}
	addr, ok := ParseAddress(cmd.Args[0])
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	if m.dbg.RemoveBreakpoint(addr) {
		m.appendOutput(fmt.Sprintf("Breakpoint cleared at $%08X", addr), colorCyan)
	} else {
		m.appendOutput(fmt.Sprintf("No breakpoint at $%08X", addr), colorRed)
	}
	return false
}

func (m *MachineMonitor) cmdBreakpointList(_ MonitorCommand) bool {
	bps := m.dbg.Breakpoints()
	if len(bps) == 0 {
		m.appendOutput("No breakpoints", colorDim)
		return false
	}
	for _, addr := range bps {
		m.appendOutput(fmt.Sprintf("  $%08X", addr), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdDisassemble(cmd MonitorCommand) bool {
	if m.k.Memory() == nil {
		m.appendOutput("No guest memory attached", colorRed)
		return false
	}
	var addr uint32
	if f := m.k.proc.LastFiber(m.focusedCore); f != nil {
		addr = f.PC()
	}
	count := 8
	if len(cmd.Args) >= 1 {
		v, ok := ParseAddress(cmd.Args[0])
		if !ok {
			m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
			return false
		}
		addr = v
	}
	if len(cmd.Args) >= 2 {
		if n, ok := parseCount(cmd.Args[1]); ok {
			count = n
		}
	}
	m.showDisassemblyAt(addr, count)
	return false
}

func (m *MachineMonitor) showDisassemblyAt(addr uint32, count int) {
	mem := m.k.Memory()
	if mem == nil {
		return
	}
	var pc uint32
	if f := m.k.proc.LastFiber(m.focusedCore); f != nil {
		pc = f.PC()
	}
	for i := range count {
		a := addr + uint32(i*WORD_SIZE)
		word := mem.Read32(a)
		marker, color := "  ", uint32(colorWhite)
		if a == pc {
			marker, color = "> ", colorYellow
		}
		if m.dbg.CheckBreakpoint(a) {
			marker = "* "
		}
		m.appendOutput(fmt.Sprintf("%s$%08X  %08X  %s", marker, a, word, DisassemblePPC(word, a)), color)
	}
}

func (m *MachineMonitor) cmdMemoryDump(cmd MonitorCommand) bool {
	mem := m.k.Memory()
	if mem == nil {
		m.appendOutput("No guest memory attached", colorRed)
		return false
	}
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: m <addr> [words]", colorRed)
		return false
	}
	addr, ok := ParseAddress(cmd.Args[0])
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	words := 16
	if len(cmd.Args) >= 2 {
		if n, ok := parseCount(cmd.Args[1]); ok {
			words = n
		}
	}
	for row := 0; row < words; row += 4 {
		var line strings.Builder
		fmt.Fprintf(&line, "$%08X:", addr+uint32(row*WORD_SIZE))
		for col := row; col < min(row+4, words); col++ {
			fmt.Fprintf(&line, " %08X", mem.Read32(addr+uint32(col*WORD_SIZE)))
		}
		m.appendOutput(line.String(), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdAlarms(cmd MonitorCommand) bool {
	core := m.focusedCore
	if len(cmd.Args) >= 1 {
		id, err := strconv.Atoi(cmd.Args[0])
		if err != nil || id < 0 || id >= m.k.proc.CoreCount() {
			m.appendOutput(fmt.Sprintf("Invalid core: %s", cmd.Args[0]), colorRed)
			return false
		}
		core = id
	}
	handles := m.k.AlarmQueue(core)
	if len(handles) == 0 {
		m.appendOutput(fmt.Sprintf("No alarms on core %d", core), colorDim)
		return false
	}
	now := m.k.Now()
	for _, h := range handles {
		m.appendOutput(fmt.Sprintf("  alarm %d %q %s in %s", h, m.k.AlarmName(h), m.k.AlarmState(h),
			m.k.AlarmNextFire(h).Sub(now)), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdSaveState(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: ss <file>", colorRed)
		return false
	}
	if err := SaveSnapshotToFile(TakeSnapshot(m.dbg), cmd.Args[0]); err != nil {
		m.appendOutput(fmt.Sprintf("Save failed: %v", err), colorRed)
		return false
	}
	m.appendOutput(fmt.Sprintf("Snapshot saved to %s", cmd.Args[0]), colorGreen)
	return false
}

func (m *MachineMonitor) cmdLoadState(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: sl <file>", colorRed)
		return false
	}
	snap, err := LoadSnapshotFromFile(cmd.Args[0])
	if err != nil {
		m.appendOutput(fmt.Sprintf("Load failed: %v", err), colorRed)
		return false
	}
	s := snap.Scheduler
	m.appendOutput(fmt.Sprintf("Snapshot %s: %d core(s), %d thread(s), %d ready, %d KB memory",
		s.Time.Format("15:04:05.000"), len(s.Cores), len(s.Threads), len(s.ReadyQueue), len(snap.Memory)/1024), colorCyan)
	for _, t := range s.Threads {
		m.appendOutput(fmt.Sprintf("  %3d %-8s prio %2d $%08X %s", t.ID, t.State, t.Priority, t.Regs.CIA, t.Name), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdHelp(_ MonitorCommand) bool {
	help := []string{
		"r [tid]          registers of thread (default: last on focused core)",
		"t                list threads",
		"cores            list cores",
		"q                show ready queue",
		"core <n>         focus core",
		"p                pause all cores",
		"s [core]         step core",
		"so [core]        step over call",
		"g                resume and leave monitor",
		"x                leave monitor",
		"b <addr>         set breakpoint",
		"bc <addr|*>      clear breakpoint",
		"bl               list breakpoints",
		"d [addr] [n]     disassemble",
		"m <addr> [n]     dump memory words",
		"a [core]         list alarms",
		"ss <file>        save snapshot",
		"sl <file>        show snapshot file",
	}
	for _, line := range help {
		m.appendOutput(line, colorWhite)
	}
	return false
}
