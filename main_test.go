package main

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{"boot.lua"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Script != "boot.lua" || cfg.Cores != CORE_COUNT || cfg.LoadAddr != 0x3100 || cfg.Arg != 0 {
		t.Fatalf("defaults %+v", cfg)
	}
	if cfg.Monitor || cfg.Socket || cfg.Trace || cfg.Timeout != 0 {
		t.Fatalf("optional features enabled by default: %+v", cfg)
	}
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-cores", "2", "-image", "code.bin", "-load", "0x8000", "-arg", "0x10",
		"-monitor", "-socket", "-trace", "-snapshot", "out.esnp", "-timeout", "3s",
		"-script", "main.lua",
	})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	want := Config{
		Cores: 2, Script: "main.lua", Image: "code.bin", LoadAddr: 0x8000, Arg: 0x10,
		Monitor: true, Socket: true, Trace: true, Snapshot: "out.esnp", Timeout: 3 * time.Second,
	}
	if cfg != want {
		t.Fatalf("got %+v\nwant %+v", cfg, want)
	}

	cfg, err = parseConfig([]string{"-monitor"})
	if err != nil || cfg.Script != "" {
		t.Fatalf("idle monitor session rejected: %+v %v", cfg, err)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{}, "nothing to run"},
		{[]string{"-cores", "0", "a.lua"}, "core count 0"},
		{[]string{"-cores", "33", "a.lua"}, "core count 33"},
		{[]string{"image.bin"}, "unsupported guest program"},
		{[]string{"-load", "0x3101", "a.lua"}, "-load:"},
		{[]string{"-arg", "many", "a.lua"}, "-arg:"},
		{[]string{"-timeout", "-1s", "a.lua"}, "invalid timeout"},
		{[]string{"-frobnicate"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		_, err := parseConfig(tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("parseConfig(%q) error = %v, want %q", tt.args, err, tt.want)
		}
	}
}

func TestParseConfigControlSkipsValidation(t *testing.T) {
	cfg, err := parseConfig([]string{"-ctl", "pause", "-cores", "0"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Control != "pause" {
		t.Fatalf("Control = %q", cfg.Control)
	}
}

func TestParseConfigHelp(t *testing.T) {
	if _, err := parseConfig([]string{"-h"}); err != flag.ErrHelp {
		t.Fatalf("-h error = %v, want flag.ErrHelp", err)
	}
}

func TestValidateCoreCount(t *testing.T) {
	for _, n := range []int{1, CORE_COUNT, CORE_COUNT_MAX} {
		if err := validateCoreCount(n); err != nil {
			t.Errorf("validateCoreCount(%d): %v", n, err)
		}
	}
	for _, n := range []int{-1, 0, CORE_COUNT_MAX + 1} {
		if err := validateCoreCount(n); err == nil {
			t.Errorf("validateCoreCount(%d) accepted", n)
		}
	}
}

func TestParseControlCommand(t *testing.T) {
	tests := []struct {
		in   string
		want ipcRequest
		ok   bool
	}{
		{"pause", ipcRequest{Cmd: "pause"}, true},
		{" Resume ", ipcRequest{Cmd: "resume"}, true},
		{"threads", ipcRequest{Cmd: "threads"}, true},
		{"status:now", ipcRequest{}, false},
		{"step", ipcRequest{Cmd: "step"}, true},
		{"step:2", ipcRequest{Cmd: "step", Core: 2}, true},
		{"stepover:1", ipcRequest{Cmd: "stepover", Core: 1}, true},
		{"step:x", ipcRequest{}, false},
		{"step:32", ipcRequest{}, false},
		{"break:$3100", ipcRequest{Cmd: "break", Addr: 0x3100}, true},
		{"unbreak:0x200", ipcRequest{Cmd: "unbreak", Addr: 0x200}, true},
		{"break", ipcRequest{}, false},
		{"break:zz", ipcRequest{}, false},
		{"snapshot:/tmp/a.esnp", ipcRequest{Cmd: "snapshot", Path: "/tmp/a.esnp"}, true},
		{"snapshot:", ipcRequest{}, false},
		{"reboot", ipcRequest{}, false},
	}
	for _, tt := range tests {
		got, err := parseControlCommand(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseControlCommand(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("parseControlCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
