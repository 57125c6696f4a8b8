// main.go - Espresso Engine command line front end

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
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func boilerPlate() {
	fmt.Println("\n\033[38;2;255;140;60mEspresso Engine\033[0m")
	fmt.Println("A cooperative multi-core scheduler for translated PowerPC guest code.")
	fmt.Println("(c) 2024 - 2026 Zayn Otley")
	fmt.Println("https://github.com/IntuitionAmiga/EspressoEngine")
	fmt.Println("License: GPLv3 or later")
}

// Config holds the parsed command line.
type Config struct {
	Cores    int
	Script   string
	Image    string
	LoadAddr uint32
	Arg      uint32
	Monitor  bool
	Socket   bool
	Control  string
	Trace    bool
	Snapshot string
	Timeout  time.Duration
}

func parseConfig(args []string) (Config, error) {
	var (
		cfg      Config
		loadAddr string
		arg      string
	)

	flagSet := flag.NewFlagSet("espresso_engine", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.IntVar(&cfg.Cores, "cores", CORE_COUNT, "Number of emulated cores")
	flagSet.StringVar(&cfg.Script, "script", "", "Lua guest program to run")
	flagSet.StringVar(&cfg.Image, "image", "", "Raw big-endian code image to load into guest memory")
	flagSet.StringVar(&loadAddr, "load", "0x00003100", "Image load address (hex or decimal)")
	flagSet.StringVar(&arg, "arg", "0", "Argument passed to the guest main thread")
	flagSet.BoolVar(&cfg.Monitor, "monitor", false, "Open the machine monitor on this terminal")
	flagSet.BoolVar(&cfg.Socket, "socket", false, "Listen for control commands on the runtime socket")
	flagSet.StringVar(&cfg.Control, "ctl", "", "Send a command to a running instance (pause, resume, step[:core], stepover[:core], break:addr, unbreak:addr, threads, status, snapshot:path)")
	flagSet.BoolVar(&cfg.Trace, "trace", false, "Trace scheduler events to stderr")
	flagSet.StringVar(&cfg.Snapshot, "snapshot", "", "Write a machine snapshot to this file on exit")
	flagSet.DurationVar(&cfg.Timeout, "timeout", 0, "Stop the machine after this long (0 = no limit)")

	flagSet.Usage = func() {
		flagSet.SetOutput(os.Stdout)
		fmt.Println("Usage: ./espresso_engine [-cores 3] [-image code.bin [-load 0x3100]] [-monitor] [-socket] [-trace] [-snapshot file] [-timeout 10s] -script program.lua")
		fmt.Println("       ./espresso_engine -ctl pause|resume|step[:core]|threads|status|...")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			flagSet.Usage()
		}
		return cfg, err
	}

	if cfg.Script == "" && flagSet.NArg() > 0 {
		cfg.Script = flagSet.Arg(0)
	}

	if cfg.Control != "" {
		return cfg, nil
	}

	if err := validateCoreCount(cfg.Cores); err != nil {
		return cfg, err
	}
	if cfg.Script != "" && guestKindFromExtension(cfg.Script) != guestKindLua {
		return cfg, fmt.Errorf("unsupported guest program %q", cfg.Script)
	}
	if cfg.Script == "" && !cfg.Monitor && !cfg.Socket {
		return cfg, errors.New("nothing to run: give a -script, or -monitor or -socket for an idle machine")
	}
	if cfg.Timeout < 0 {
		return cfg, fmt.Errorf("invalid timeout %s", cfg.Timeout)
	}

	addr, err := parseAddrFlag(loadAddr)
	if err != nil {
		return cfg, fmt.Errorf("-load: %w", err)
	}
	cfg.LoadAddr = addr

	v, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return cfg, fmt.Errorf("-arg: invalid value %q", arg)
	}
	cfg.Arg = uint32(v)
	return cfg, nil
}

func validateCoreCount(n int) error {
	if n < 1 || n > CORE_COUNT_MAX {
		return fmt.Errorf("core count %d out of range 1..%d", n, CORE_COUNT_MAX)
	}
	return nil
}

// parseControlCommand turns "name[:operand]" into a socket request.
func parseControlCommand(s string) (ipcRequest, error) {
	name, operand, hasOperand := strings.Cut(strings.TrimSpace(s), ":")
	req := ipcRequest{Cmd: strings.ToLower(name)}

	switch req.Cmd {
	case "pause", "resume", "threads", "status":
		if hasOperand {
			return req, fmt.Errorf("%s takes no operand", req.Cmd)
		}
	case "step", "stepover":
		if hasOperand {
			n, err := strconv.Atoi(operand)
			if err != nil || n < 0 || n >= CORE_COUNT_MAX {
				return req, fmt.Errorf("invalid core %q", operand)
			}
			req.Core = n
		}
	case "break", "unbreak":
		addr, ok := ParseAddress(operand)
		if !hasOperand || !ok {
			return req, fmt.Errorf("%s needs an address", req.Cmd)
		}
		req.Addr = addr
	case "snapshot":
		if !hasOperand || operand == "" {
			return req, errors.New("snapshot needs a file path")
		}
		req.Path = operand
	default:
		return req, fmt.Errorf("unknown control command %q", name)
	}
	return req, nil
}

func runControl(cfg Config) error {
	req, err := parseControlCommand(cfg.Control)
	if err != nil {
		return err
	}
	resp, err := SendControlCommand(req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func run(cfg Config) error {
	clock := SystemClock{}
	proc, err := NewProcessor(cfg.Cores, clock)
	if err != nil {
		return err
	}
	proc.SetLogOutput(os.Stderr)
	if cfg.Trace {
		proc.SetTraceOutput(os.Stderr)
	}

	bus := NewSystemBus()
	mapTimebase(bus, clock)
	if cfg.Image != "" {
		n, err := loadImage(cfg.Image, bus, cfg.LoadAddr)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d words from %s at 0x%08X\n", n, cfg.Image, cfg.LoadAddr)
	}

	var prog *LuaProgram
	if cfg.Script != "" {
		if prog, err = LoadLuaProgram(cfg.Script); err != nil {
			return err
		}
	}

	k := NewKernel(proc, bus)
	dbg := NewDebugger(k)
	mon := NewMachineMonitor(dbg)

	runtimeStatus.setProgram(cfg.Script, cfg.Image)
	runtimeStatus.setMachine(k, dbg, mon)
	defer runtimeStatus.clear()

	if cfg.Socket {
		srv, err := NewIPCServer(dbg)
		if err != nil {
			return err
		}
		srv.Start()
		defer srv.Stop()
	}

	if err := k.Start(); err != nil {
		return err
	}
	defer k.Stop()

	var mainThread *Thread
	if prog != nil {
		rt := NewLuaRuntime(k, prog, os.Stdout)
		if mainThread, err = rt.Start(cfg.Arg); err != nil {
			return err
		}
	}

	var consoleDone <-chan struct{}
	if cfg.Monitor {
		host := NewTerminalHost(mon, nil)
		if err := host.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		} else {
			mon.StartEventListener()
			defer mon.StopEventListener()
			defer host.Stop()
			consoleDone = host.Done()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var mainDone <-chan struct{}
	if mainThread != nil {
		mainDone = mainThread.Done()
	}

	select {
	case <-mainDone:
		if v, ok := k.ExitValue(mainThread); ok {
			fmt.Printf("main exited with %d\n", int32(v))
		}
	case <-consoleDone:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "timeout after %s\n", cfg.Timeout)
		}
	}

	if cfg.Snapshot != "" {
		if err := SaveSnapshotToFile(TakeSnapshot(dbg), cfg.Snapshot); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", cfg.Snapshot)
	}
	return nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Control != "" {
		if err := runControl(cfg); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	boilerPlate()
	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
