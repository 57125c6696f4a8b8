package main

import (
	"io"
	"slices"
	"strings"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, cores int) (*MachineMonitor, *Debugger, *SystemBus) {
	t.Helper()
	proc, err := NewProcessor(cores, NewManualClock(time.Unix(5000, 0)))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	proc.SetLogOutput(io.Discard)
	bus := NewSystemBusSize(0x1000)
	dbg := NewDebugger(NewKernel(proc, bus))
	return NewMachineMonitor(dbg), dbg, bus
}

// outputSince returns the monitor text appended after the first n lines.
func outputSince(m *MachineMonitor, n int) string {
	var b strings.Builder
	for _, l := range m.Output()[n:] {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"", "", nil},
		{"   ", "", nil},
		{"R", "r", []string{}},
		{"  b  $100 ", "b", []string{"$100"}},
		{"m 0x200 8", "m", []string{"0x200", "8"}},
	}
	for _, tt := range tests {
		got := ParseCommand(tt.input)
		if got.Name != tt.name || len(got.Args) != len(tt.args) || (len(tt.args) > 0 && !slices.Equal(got.Args, tt.args)) {
			t.Errorf("ParseCommand(%q) = %+v", tt.input, got)
		}
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"$1F00", 0x1F00, true},
		{"0x200", 0x200, true},
		{"0XFF", 0xFF, true},
		{"abc", 0xABC, true},
		{"#256", 256, true},
		{"", 0, false},
		{"$", 0, false},
		{"zz", 0, false},
		{"#12a", 0, false},
		{"100000000", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAddress(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseAddress(%q) = %#x, %v; want %#x, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMonitor_ActivatePausesAndDeactivateResumes(t *testing.T) {
	m, dbg, _ := newTestMonitor(t, 2)

	m.Activate()
	if !m.IsActive() || !dbg.Paused() {
		t.Fatal("Activate should pause the machine")
	}
	if out := outputSince(m, 0); !strings.Contains(out, "MACHINE MONITOR") || !strings.Contains(out, "Core 1:") {
		t.Fatalf("banner output %q", out)
	}
	m.Deactivate()
	if m.IsActive() || dbg.Paused() {
		t.Fatal("Deactivate should resume the machine")
	}

	dbg.Pause()
	m.Activate()
	m.Deactivate()
	if !dbg.Paused() {
		t.Fatal("Deactivate resumed a machine that was paused on entry")
	}
}

func TestMonitor_Commands(t *testing.T) {
	m, dbg, bus := newTestMonitor(t, 2)
	bus.Write32(0x200, 0x48000101)
	bus.Write32(0x10, 0xCAFEF00D)
	m.Activate()

	tests := []struct {
		input string
		leave bool
		want  string
	}{
		{"b 200", false, "Breakpoint set at $00000200"},
		{"b $300", false, "Breakpoint set at $00000300"},
		{"b", false, "Usage: b <addr>"},
		{"b nothex", false, "Invalid address"},
		{"bl", false, "$00000300"},
		{"bc 300", false, "Breakpoint cleared at $00000300"},
		{"bc 300", false, "No breakpoint at $00000300"},
		{"d 200 1", false, "bl 0x00000300"},
		{"m 10 1", false, "$00000010: CAFEF00D"},
		{"m", false, "Usage: m <addr> [words]"},
		{"core 1", false, "Focused core: 1"},
		{"core 9", false, "Invalid core: 9"},
		{"t", false, "PRIO"},
		{"q", false, "Ready queue empty"},
		{"a", false, "No alarms on core 1"},
		{"r 99", false, "No thread 99"},
		{"s 7", false, "Invalid core: 7"},
		{"?", false, "list breakpoints"},
		{"frob", false, "Unknown command: frob"},
		{"x", true, ""},
	}
	for _, tt := range tests {
		n := len(m.Output())
		if leave := m.ExecuteCommand(tt.input); leave != tt.leave {
			t.Errorf("%q: leave = %v, want %v", tt.input, leave, tt.leave)
		}
		if out := outputSince(m, n); !strings.Contains(out, tt.want) {
			t.Errorf("%q: output %q does not contain %q", tt.input, out, tt.want)
		}
	}

	if got := dbg.Breakpoints(); !slices.Equal(got, []uint32{0x200}) {
		t.Fatalf("breakpoints after commands: %v", got)
	}
	if m.FocusedCore() != 1 {
		t.Fatalf("focused core = %d", m.FocusedCore())
	}
	m.ExecuteCommand("bc *")
	if len(dbg.Breakpoints()) != 0 {
		t.Fatal("bc * left breakpoints behind")
	}
}

type scriptedLines struct {
	lines []string
}

func (s *scriptedLines) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestRunConsole(t *testing.T) {
	m, dbg, _ := newTestMonitor(t, 1)

	RunConsole(&scriptedLines{lines: []string{"", "b 400", "g", "bl", "quit", "b 500"}}, m)

	if got := dbg.Breakpoints(); !slices.Equal(got, []uint32{0x400}) {
		t.Fatalf("breakpoints = %v; commands after quit must not run", got)
	}
	if !m.IsActive() || !dbg.Paused() {
		t.Fatal("a command after g should re-enter the monitor")
	}

	m2, dbg2, _ := newTestMonitor(t, 1)
	RunConsole(&scriptedLines{lines: []string{"b 100", "x"}}, m2)
	if m2.IsActive() || dbg2.Paused() {
		t.Fatal("x should leave the monitor and resume")
	}
}
