// terminal_host.go - Interactive monitor console on the host terminal

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// TerminalHost puts stdin in raw mode and feeds lines into a MachineMonitor.
// Only instantiated in main.go for interactive use; tests drive RunConsole
// directly.
type TerminalHost struct {
	monitor      *MachineMonitor
	done         chan struct{}
	stopped      sync.Once
	fd           int
	oldTermState *term.State
	onQuit       func()
}

// NewTerminalHost creates a console for monitor. onQuit runs when the user
// ends the session with "quit" or Ctrl-D.
func NewTerminalHost(monitor *MachineMonitor, onQuit func()) *TerminalHost {
	return &TerminalHost{
		monitor: monitor,
		done:    make(chan struct{}),
		onQuit:  onQuit,
	}
}

// Start switches the terminal to raw mode and begins reading commands.
// Call Stop() to restore the terminal.
func (h *TerminalHost) Start() error {
	h.fd = int(os.Stdin.Fd())
	if !term.IsTerminal(h.fd) {
		return fmt.Errorf("terminal_host: stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		return fmt.Errorf("terminal_host: failed to set raw mode: %w", err)
	}
	h.oldTermState = oldState

	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(rw, "> ")
	if w, _, err := term.GetSize(h.fd); err == nil {
		t.SetSize(w, 0)
	}
	h.monitor.SetOutput(t, true)

	go func() {
		defer close(h.done)
		RunConsole(t, h.monitor)
		if h.onQuit != nil {
			h.onQuit()
		}
	}()
	return nil
}

// Done is closed once the console session has ended.
func (h *TerminalHost) Done() <-chan struct{} { return h.done }

// Stop restores the terminal. The reader goroutine may stay blocked on
// stdin until the process exits.
func (h *TerminalHost) Stop() {
	h.stopped.Do(func() {
		h.monitor.SetOutput(nil, false)
		if h.oldTermState != nil {
			_ = term.Restore(h.fd, h.oldTermState)
			h.oldTermState = nil
		}
	})
}

// lineReader is the part of term.Terminal the console needs.
type lineReader interface {
	ReadLine() (string, error)
}

// RunConsole reads monitor commands until "quit" or end of input. Leaving
// the monitor with "g" or "x" resumes execution but keeps the console open.
func RunConsole(r lineReader, m *MachineMonitor) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "terminal_host: %v\n", err)
			}
			return
		}
		switch ParseCommand(line).Name {
		case "":
			continue
		case "quit":
			return
		}
		if !m.IsActive() {
			m.Activate()
		}
		if m.ExecuteCommand(line) {
			m.Deactivate()
		}
	}
}
