// runtime_ipc.go - JSON control socket

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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

const ipcMaxRequestSize = 4096

type ipcRequest struct {
	Cmd  string `json:"cmd"`
	Core int    `json:"core,omitempty"`
	Addr uint32 `json:"addr,omitempty"`
	Path string `json:"path,omitempty"`
}

type ipcThread struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Priority int32  `json:"priority"`
	Core     int    `json:"core"`
	Affinity uint32 `json:"affinity"`
	Suspend  int32  `json:"suspend"`
	CIA      uint32 `json:"cia"`
}

type ipcCore struct {
	ID            int    `json:"id"`
	Current       uint32 `json:"current"`
	Interrupt     bool   `json:"interrupt"`
	NextInterrupt string `json:"next_interrupt,omitempty"`
	HostThread    int    `json:"host_thread"`
}

type ipcResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Paused  bool        `json:"paused,omitempty"`
	Cores   []ipcCore   `json:"cores,omitempty"`
	Threads []ipcThread `json:"threads,omitempty"`
}

// IPCServer listens on a Unix socket and drives the debugger.
type IPCServer struct {
	listener net.Listener
	dbg      *Debugger
	done     chan struct{}
	sockPath string
}

func resolveSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "espresso-engine.sock")
	}
	return "/tmp/espresso-engine.sock"
}

// NewIPCServer creates and binds the control socket at the default path.
func NewIPCServer(dbg *Debugger) (*IPCServer, error) {
	return newIPCServerAt(resolveSocketPath(), dbg)
}

// newIPCServerAt creates and binds the control socket at the given path.
func newIPCServerAt(sockPath string, dbg *Debugger) (*IPCServer, error) {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		// Stale socket cleanup: try connecting. If peer is dead, remove and retry.
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("ipc bind failed: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("another instance is already running")
		}
	}
	return &IPCServer{listener: ln, dbg: dbg, done: make(chan struct{}), sockPath: sockPath}, nil
}

// Start begins accepting connections in a goroutine.
func (s *IPCServer) Start() {
	go s.acceptLoop()
}

// Stop closes the listener and waits for the accept loop to exit.
func (s *IPCServer) Stop() {
	s.listener.Close()
	<-s.done
	os.Remove(s.sockPath)
}

func (s *IPCServer) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *IPCServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var req ipcRequest
	if err := json.NewDecoder(io.LimitReader(conn, ipcMaxRequestSize)).Decode(&req); err != nil {
		s.writeResponse(conn, ipcResponse{Status: "err", Message: "invalid json"})
		return
	}
	s.writeResponse(conn, s.dispatch(req))
}

func (s *IPCServer) dispatch(req ipcRequest) ipcResponse {
	d := s.dbg
	switch req.Cmd {
	case "pause":
		d.Pause()
		return ipcResponse{Status: "ok", Paused: true}
	case "resume":
		d.Resume()
		return ipcResponse{Status: "ok"}
	case "step":
		if !d.StepCore(req.Core) {
			return ipcResponse{Status: "err", Message: "step needs a paused machine and a valid core"}
		}
		return ipcResponse{Status: "ok", Paused: true}
	case "stepover":
		if !d.StepCoreOver(req.Core) {
			return ipcResponse{Status: "err", Message: "step needs a paused machine and a valid core"}
		}
		return ipcResponse{Status: "ok", Paused: d.Paused()}
	case "break":
		d.AddBreakpoint(req.Addr)
		return ipcResponse{Status: "ok", Message: fmt.Sprintf("breakpoint at 0x%08X", req.Addr)}
	case "unbreak":
		if !d.RemoveBreakpoint(req.Addr) {
			return ipcResponse{Status: "err", Message: fmt.Sprintf("no breakpoint at 0x%08X", req.Addr)}
		}
		return ipcResponse{Status: "ok"}
	case "threads":
		snap := d.Snapshot()
		return ipcResponse{Status: "ok", Paused: snap.Paused, Threads: ipcThreads(snap)}
	case "status":
		return s.status()
	case "snapshot":
		if !filepath.IsAbs(req.Path) {
			return ipcResponse{Status: "err", Message: "absolute path required"}
		}
		if err := SaveSnapshotToFile(TakeSnapshot(d), req.Path); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok", Message: req.Path}
	default:
		return ipcResponse{Status: "err", Message: "unknown command"}
	}
}

func (s *IPCServer) status() ipcResponse {
	snap := s.dbg.Snapshot()
	rs := runtimeStatus.snapshot()
	resp := ipcResponse{Status: "ok", Paused: snap.Paused}
	for _, c := range snap.Cores {
		ic := ipcCore{ID: c.ID, Current: c.CurrentThread, Interrupt: c.InterruptPending, HostThread: c.HostThread}
		if c.NextInterrupt.Before(timeInfinite) {
			ic.NextInterrupt = c.NextInterrupt.Sub(snap.Time).String()
		}
		resp.Cores = append(resp.Cores, ic)
	}
	program := rs.script
	if program == "" {
		program = "(none)"
	}
	uptime := time.Duration(0)
	if !rs.startTime.IsZero() {
		uptime = time.Since(rs.startTime).Round(time.Millisecond)
	}
	resp.Message = fmt.Sprintf("%s, %d thread(s), up %s", program, len(snap.Threads), uptime)
	return resp
}

func ipcThreads(snap SchedulerSnapshot) []ipcThread {
	out := make([]ipcThread, 0, len(snap.Threads))
	for _, t := range snap.Threads {
		out = append(out, ipcThread{
			ID:       t.ID,
			Name:     t.Name,
			State:    t.State.String(),
			Priority: t.Priority,
			Core:     t.CoreID,
			Affinity: t.Affinity,
			Suspend:  t.SuspendCounter,
			CIA:      t.Regs.CIA,
		})
	}
	return out
}

func (s *IPCServer) writeResponse(conn net.Conn, resp ipcResponse) {
	json.NewEncoder(conn).Encode(resp)
}

// SendControlCommand sends req to the running instance at the default socket.
func SendControlCommand(req ipcRequest) (ipcResponse, error) {
	return sendControlCommandAt(resolveSocketPath(), req)
}

// sendControlCommandAt sends req to an instance at the given socket path.
func sendControlCommandAt(sockPath string, req ipcRequest) (ipcResponse, error) {
	var resp ipcResponse
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return resp, fmt.Errorf("cannot connect to running instance: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return resp, fmt.Errorf("send failed: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("remote error: %s", resp.Message)
	}
	return resp, nil
}
