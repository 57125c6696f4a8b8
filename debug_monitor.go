// debug_monitor.go - Machine Monitor core (activate/deactivate, output, events)

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
	"io"
	"sync"
)

// MonitorState represents whether the monitor is active.
type MonitorState int

const (
	MonitorInactive MonitorState = iota
	MonitorActive
)

// OutputLine holds styled text for the monitor scrollback buffer.
type OutputLine struct {
	Text  string
	Color uint32 // RGBA packed
}

// MachineMonitor is the text front end to the Debugger.
type MachineMonitor struct {
	mu    sync.Mutex
	state MonitorState

	dbg *Debugger
	k   *Kernel

	focusedCore int
	wasPaused   bool

	outputLines []OutputLine
	maxOutput   int
	out         io.Writer
	color       bool

	history []string

	stopListener chan struct{}
}

// NewMachineMonitor creates a monitor for dbg.
func NewMachineMonitor(dbg *Debugger) *MachineMonitor {
	return &MachineMonitor{
		state:     MonitorInactive,
		dbg:       dbg,
		k:         dbg.k,
		maxOutput: 500,
	}
}

// SetOutput echoes every new output line to w, with ANSI colour if color is
// set.
func (m *MachineMonitor) SetOutput(w io.Writer, color bool) {
	m.mu.Lock()
	m.out = w
	m.color = color
	m.mu.Unlock()
}

// IsActive returns whether the monitor currently holds the machine.
func (m *MachineMonitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == MonitorActive
}

// FocusedCore returns the core most commands act on.
func (m *MachineMonitor) FocusedCore() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focusedCore
}

// Activate pauses execution and enters the monitor.
func (m *MachineMonitor) Activate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MonitorActive {
		return
	}
	m.state = MonitorActive
	m.wasPaused = m.dbg.Paused()
	m.dbg.Pause()

	m.appendOutput("MACHINE MONITOR - Type ? for help", colorCyan)
	m.showCores()
}

// Deactivate leaves the monitor, resuming execution unless it was already
// paused on entry.
func (m *MachineMonitor) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MonitorInactive {
		return
	}
	m.state = MonitorInactive
	if !m.wasPaused {
		m.dbg.Resume()
	}
}

// Output returns a copy of the scrollback buffer.
func (m *MachineMonitor) Output() []OutputLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutputLine(nil), m.outputLines...)
}

// appendOutput adds a line to the scrollback buffer. Caller holds m.mu.
func (m *MachineMonitor) appendOutput(text string, color uint32) {
	m.outputLines = append(m.outputLines, OutputLine{Text: text, Color: color})
	if len(m.outputLines) > m.maxOutput {
		m.outputLines = m.outputLines[len(m.outputLines)-m.maxOutput:]
	}
	if m.out != nil {
		if m.color {
			fmt.Fprintf(m.out, "%s%s\x1b[0m\n", ansiColor(color), text)
		} else {
			fmt.Fprintf(m.out, "%s\n", text)
		}
	}
}

func ansiColor(color uint32) string {
	r, g, b := color>>24&0xFF, color>>16&0xFF, color>>8&0xFF
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm", r, g, b)
}

// StartEventListener runs a goroutine that reports debugger events and
// activates the monitor when a breakpoint or step stops a core.
func (m *MachineMonitor) StartEventListener() {
	m.mu.Lock()
	if m.stopListener != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stopListener = stop
	m.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-m.dbg.Events():
				m.handleEvent(ev)
			case <-stop:
				return
			}
		}
	}()
}

// StopEventListener stops the goroutine started by StartEventListener.
func (m *MachineMonitor) StopEventListener() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopListener != nil {
		close(m.stopListener)
		m.stopListener = nil
	}
}

func (m *MachineMonitor) handleEvent(ev DebugEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case EventBreakpoint:
		m.appendOutput(fmt.Sprintf("BREAK at $%08X on core %d (thread %d)", ev.Address, ev.CoreID, ev.ThreadID), colorRed)
	case EventStepComplete:
		m.appendOutput(fmt.Sprintf("STEP core %d thread %d at $%08X", ev.CoreID, ev.ThreadID, ev.Address), colorCyan)
	default:
		return
	}

	if m.state != MonitorActive {
		m.state = MonitorActive
		m.wasPaused = false
	}
	m.focusedCore = ev.CoreID
	m.showThreadRegisters(ev.ThreadID)
	m.showDisassemblyAt(ev.Address, 4)
}

// Color constants (RGBA packed as 0xRRGGBBAA)
const (
	colorWhite  = 0xFFFFFFFF
	colorCyan   = 0x64C8FFFF
	colorYellow = 0xFFFF55FF
	colorRed    = 0xFF5555FF
	colorGreen  = 0x55FF55FF
	colorDim    = 0x5555FFFF
)
