// guest_lua.go - Lua guest programs

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
guest_lua.go - Lua guest programs

Lua scripts stand in for translated guest code. A script only defines
functions at top level; every guest thread gets its own Lua state, loads the
script and calls one of those functions with the thread argument. The
program starts with a thread running main().

Guest code talks to the kernel through the global "kernel" table. Every
kernel call is a safe point, so interrupts and debugger stops are delivered
between calls. A thread's current instruction address only changes through
kernel.trace(addr), which lets scripts line up with a loaded code image and
hit breakpoints. kernel.peek and kernel.poke reach guest memory, including
the memory-mapped time base.
*/

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	luaEntryFunction = "main"
	luaExitFailure   = ^uint32(0)
)

// LuaProgram is a compiled-checked guest script.
type LuaProgram struct {
	Name   string
	Source string
}

// LoadLuaProgram reads path and checks that it compiles.
func LoadLuaProgram(path string) (*LuaProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return NewLuaProgram(path, string(data))
}

// NewLuaProgram checks that source compiles.
func NewLuaProgram(name, source string) (*LuaProgram, error) {
	L := lua.NewState()
	defer L.Close()
	if _, err := L.LoadString(source); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	return &LuaProgram{Name: name, Source: source}, nil
}

// LuaRuntime runs one LuaProgram on a kernel.
type LuaRuntime struct {
	k    *Kernel
	prog *LuaProgram

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	sems    map[int]*Semaphore
	nextSem int
	threads map[uint32]*Thread
}

// NewLuaRuntime binds prog to k. Script output goes to out.
func NewLuaRuntime(k *Kernel, prog *LuaProgram, out io.Writer) *LuaRuntime {
	if out == nil {
		out = io.Discard
	}
	return &LuaRuntime{
		k:       k,
		prog:    prog,
		out:     out,
		sems:    make(map[int]*Semaphore),
		threads: make(map[uint32]*Thread),
	}
}

// Start runs main(arg) in a new thread at the default priority.
func (rt *LuaRuntime) Start(arg uint32) (*Thread, error) {
	return rt.Spawn(nil, luaEntryFunction, PRIORITY_DEFAULT, AFFINITY_ANY, arg)
}

// Spawn runs the script function fname in a new thread.
func (rt *LuaRuntime) Spawn(cur *Thread, fname string, priority int32, affinity, arg uint32) (*Thread, error) {
	t, err := rt.k.CreateThread(fname, rt.entry(fname), arg, priority, affinity)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.threads[t.id] = t
	rt.mu.Unlock()
	rt.k.ResumeThread(cur, t)
	return t, nil
}

// thread finds a thread spawned by this runtime, including ones that have
// already exited, so scripts can still join them.
func (rt *LuaRuntime) thread(id uint32) *Thread {
	rt.mu.Lock()
	t := rt.threads[id]
	rt.mu.Unlock()
	if t == nil {
		t = rt.k.ThreadByID(id)
	}
	return t
}

func (rt *LuaRuntime) printf(t *Thread, format string, args ...any) {
	rt.outMu.Lock()
	defer rt.outMu.Unlock()
	fmt.Fprintf(rt.out, "lua[%s]: "+format+"\n", append([]any{t.name}, args...)...)
}

func (rt *LuaRuntime) entry(fname string) ThreadEntry {
	return func(k *Kernel, t *Thread, arg uint32) uint32 {
		L := lua.NewState()
		defer L.Close()
		rt.register(L, t)

		if err := L.DoString(rt.prog.Source); err != nil {
			k.proc.logf("lua: %s: loading %s: %v", t, rt.prog.Name, err)
			return luaExitFailure
		}
		fn := L.GetGlobal(fname)
		if fn.Type() != lua.LTFunction {
			k.proc.logf("lua: %s: no function %q in %s", t, fname, rt.prog.Name)
			return luaExitFailure
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LNumber(arg)); err != nil {
			k.proc.logf("lua: %s: %v", t, err)
			return luaExitFailure
		}
		ret := L.Get(-1)
		L.Pop(1)
		if n, ok := ret.(lua.LNumber); ok {
			return uint32(int32(n))
		}
		return 0
	}
}

func (rt *LuaRuntime) semaphore(L *lua.LState, n int) *Semaphore {
	id := L.CheckInt(n)
	rt.mu.Lock()
	s := rt.sems[id]
	rt.mu.Unlock()
	if s == nil {
		L.ArgError(n, fmt.Sprintf("no semaphore %d", id))
	}
	return s
}

func luaDuration(ms lua.LNumber) time.Duration {
	return time.Duration(float64(ms) * float64(time.Millisecond))
}

// register installs the kernel table for thread t in L.
func (rt *LuaRuntime) register(L *lua.LState, t *Thread) {
	k := rt.k
	safe := func() {
		k.SafePoint(t, t.fiber.PC())
	}

	funcs := map[string]lua.LGFunction{
		"yield": func(L *lua.LState) int {
			safe()
			k.YieldThread(t)
			return 0
		},
		"exit": func(L *lua.LState) int {
			safe()
			k.ExitThread(t, uint32(int32(L.OptInt(1, 0))))
			return 0
		},
		"spawn": func(L *lua.LState) int {
			safe()
			fname := L.CheckString(1)
			prio := int32(L.OptInt(2, PRIORITY_DEFAULT))
			affinity := uint32(L.OptInt(3, AFFINITY_ANY))
			arg := uint32(L.OptInt(4, 0))
			child, err := rt.Spawn(t, fname, prio, affinity, arg)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			L.Push(lua.LNumber(child.id))
			return 1
		},
		"join": func(L *lua.LState) int {
			safe()
			target := rt.thread(uint32(L.CheckInt(1)))
			if target == nil {
				L.Push(lua.LNil)
				return 1
			}
			v, ok := k.JoinThread(t, target)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(int32(v)))
			return 1
		},
		"suspend": func(L *lua.LState) int {
			safe()
			target := t
			if L.GetTop() >= 1 {
				target = rt.thread(uint32(L.CheckInt(1)))
			}
			if target == nil {
				L.Push(lua.LNumber(-1))
				return 1
			}
			L.Push(lua.LNumber(k.SuspendThread(t, target)))
			return 1
		},
		"resume": func(L *lua.LState) int {
			safe()
			target := rt.thread(uint32(L.CheckInt(1)))
			if target == nil {
				L.Push(lua.LNumber(-1))
				return 1
			}
			L.Push(lua.LNumber(k.ResumeThread(t, target)))
			return 1
		},
		"set_priority": func(L *lua.LState) int {
			safe()
			L.Push(lua.LBool(k.SetThreadPriority(t, t, int32(L.CheckInt(1)))))
			return 1
		},
		"sem_new": func(L *lua.LState) int {
			safe()
			count := int32(L.OptInt(1, 0))
			rt.mu.Lock()
			rt.nextSem++
			id := rt.nextSem
			rt.sems[id] = NewSemaphore(fmt.Sprintf("lua-sem-%d", id), count)
			rt.mu.Unlock()
			L.Push(lua.LNumber(id))
			return 1
		},
		"sem_wait": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.WaitSemaphore(t, rt.semaphore(L, 1))))
			return 1
		},
		"sem_try": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.TryWaitSemaphore(rt.semaphore(L, 1))))
			return 1
		},
		"sem_signal": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.SignalSemaphore(t, rt.semaphore(L, 1))))
			return 1
		},
		"sem_count": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.SemaphoreCount(rt.semaphore(L, 1))))
			return 1
		},
		"alarm_new": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.CreateAlarmEx(L.OptString(1, ""))))
			return 1
		},
		"alarm_set": func(L *lua.LState) int {
			safe()
			h := AlarmHandle(L.CheckInt(1))
			delay := luaDuration(L.CheckNumber(2))
			period := luaDuration(L.OptNumber(3, 0))
			L.Push(lua.LBool(k.SetPeriodicAlarm(t, h, k.Now().Add(delay), period, nil)))
			return 1
		},
		"alarm_wait": func(L *lua.LState) int {
			safe()
			L.Push(lua.LBool(k.WaitAlarm(t, AlarmHandle(L.CheckInt(1)))))
			return 1
		},
		"alarm_cancel": func(L *lua.LState) int {
			safe()
			L.Push(lua.LBool(k.CancelAlarm(AlarmHandle(L.CheckInt(1)))))
			return 1
		},
		"alarm_cancel_group": func(L *lua.LState) int {
			safe()
			L.Push(lua.LNumber(k.CancelAlarms(uint32(L.CheckInt(1)))))
			return 1
		},
		"alarm_tag": func(L *lua.LState) int {
			safe()
			L.Push(lua.LBool(k.SetAlarmTag(AlarmHandle(L.CheckInt(1)), uint32(L.CheckInt(2)))))
			return 1
		},
		"alarm_free": func(L *lua.LState) int {
			safe()
			L.Push(lua.LBool(k.DestroyAlarm(AlarmHandle(L.CheckInt(1)))))
			return 1
		},
		"sleep": func(L *lua.LState) int {
			safe()
			k.SleepTicks(t, luaDuration(L.CheckNumber(1)))
			return 0
		},
		"trace": func(L *lua.LState) int {
			k.SafePoint(t, uint32(L.CheckInt(1)))
			return 0
		},
		"core": func(L *lua.LState) int {
			L.Push(lua.LNumber(k.CurrentCore(t)))
			return 1
		},
		"thread_id": func(L *lua.LState) int {
			L.Push(lua.LNumber(t.id))
			return 1
		},
		"time": func(L *lua.LState) int {
			L.Push(lua.LNumber(k.Now().UnixMilli()))
			return 1
		},
		"print": func(L *lua.LState) int {
			rt.luaPrint(L, t)
			return 0
		},
		"peek": func(L *lua.LState) int {
			addr := uint32(L.CheckInt64(1))
			if k.mem == nil {
				L.Push(lua.LNumber(0))
				return 1
			}
			L.Push(lua.LNumber(k.mem.Read32(addr)))
			return 1
		},
		"poke": func(L *lua.LState) int {
			addr := uint32(L.CheckInt64(1))
			if k.mem != nil {
				k.mem.Write32(addr, uint32(L.CheckInt64(2)))
			}
			return 0
		},
	}

	tbl := L.NewTable()
	L.SetFuncs(tbl, funcs)
	L.SetGlobal("kernel", tbl)
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		rt.luaPrint(L, t)
		return 0
	}))
}

func (rt *LuaRuntime) luaPrint(L *lua.LState, t *Thread) {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	rt.printf(t, "%s", strings.Join(parts, "\t"))
}
