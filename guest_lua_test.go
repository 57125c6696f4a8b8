package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLuaMachine(t *testing.T, cores int, src string) (*Kernel, *ManualClock, *LuaRuntime, *syncBuffer, *syncBuffer) {
	t.Helper()
	prog, err := NewLuaProgram("test.lua", src)
	if err != nil {
		t.Fatalf("NewLuaProgram: %v", err)
	}
	clock := NewManualClock(time.Unix(3000, 0))
	proc, err := NewProcessor(cores, clock)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	logs := &syncBuffer{}
	proc.SetLogOutput(logs)
	k := NewKernel(proc, NewSystemBusSize(0x10000))
	if err := k.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { k.Stop() })

	out := &syncBuffer{}
	return k, clock, NewLuaRuntime(k, prog, out), out, logs
}

func TestLuaProgram_CompileErrors(t *testing.T) {
	if _, err := NewLuaProgram("bad.lua", "function main( return end"); err == nil {
		t.Fatal("syntax error not reported")
	}
	if _, err := LoadLuaProgram(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Fatal("missing file not reported")
	}

	path := filepath.Join(t.TempDir(), "ok.lua")
	if err := os.WriteFile(path, []byte("function main() return 0 end"), 0644); err != nil {
		t.Fatal(err)
	}
	prog, err := LoadLuaProgram(path)
	if err != nil {
		t.Fatalf("LoadLuaProgram: %v", err)
	}
	if prog.Name != path {
		t.Fatalf("program name = %q", prog.Name)
	}
}

func TestLuaRuntime_WorkersAndSemaphores(t *testing.T) {
	const src = `
function main(arg)
  local s = kernel.sem_new(0)
  local ids = {}
  for i = 1, 3 do
    ids[i] = kernel.spawn("worker", 16, 7, s)
  end
  for i = 1, 3 do
    kernel.sem_wait(s)
  end
  local total = 0
  for i = 1, 3 do
    total = total + kernel.join(ids[i])
  end
  print("total", total)
  return total + arg
end

function worker(s)
  kernel.yield()
  kernel.sem_signal(s)
  return 10
end
`
	k, _, rt, out, _ := newLuaMachine(t, 3, src)
	mainThread, err := rt.Start(5)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	v, ok := k.JoinThread(nil, mainThread)
	if !ok {
		t.Fatal("JoinThread failed")
	}
	if v != 35 {
		t.Fatalf("main returned %d, want 35", v)
	}
	if !strings.Contains(out.String(), "lua[main]: total\t30") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLuaRuntime_ErrorsExitWithFailure(t *testing.T) {
	const src = `
function main()
  error("boom")
end
`
	k, _, rt, _, logs := newLuaMachine(t, 1, src)
	mainThread, _ := rt.Start(0)
	if v, _ := k.JoinThread(nil, mainThread); v != luaExitFailure {
		t.Fatalf("exit value = %#x, want %#x", v, luaExitFailure)
	}
	if !strings.Contains(logs.String(), "boom") {
		t.Fatalf("error not logged: %q", logs.String())
	}

	missing, err := rt.Spawn(nil, "nosuch", PRIORITY_DEFAULT, AFFINITY_ANY, 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if v, _ := k.JoinThread(nil, missing); v != luaExitFailure {
		t.Fatalf("missing function exit value = %#x", v)
	}
}

func TestLuaRuntime_ExitAndMemory(t *testing.T) {
	const src = `
function main()
  kernel.poke(0x100, 0xDEADBEEF)
  if kernel.peek(0x100) ~= 0xDEADBEEF then
    return 1
  end
  kernel.trace(0x2000)
  kernel.exit(7)
  return 2
end
`
	k, _, rt, _, _ := newLuaMachine(t, 1, src)
	mainThread, _ := rt.Start(0)
	if v, _ := k.JoinThread(nil, mainThread); v != 7 {
		t.Fatalf("exit value = %d, want 7", v)
	}
	if got := k.Memory().Read32(0x100); got != 0xDEADBEEF {
		t.Fatalf("guest memory = %#x", got)
	}
	if pc := mainThread.Fiber().PC(); pc != 0x2000 {
		t.Fatalf("traced address = %#x, want 0x2000", pc)
	}
}

func TestLuaRuntime_SleepUsesGuestClock(t *testing.T) {
	const src = `
function main()
  local before = kernel.time()
  kernel.sleep(20)
  return kernel.time() - before
end
`
	k, clock, rt, _, _ := newLuaMachine(t, 2, src)
	mainThread, _ := rt.Start(0)
	advanceUntil(t, clock, 5*time.Millisecond, mainThread)
	v, _ := k.ExitValue(mainThread)
	if v < 20 {
		t.Fatalf("slept %dms of guest time, want at least 20", v)
	}
}

func TestLuaRuntime_PrintDefaultsToDiscard(t *testing.T) {
	k, _ := newIdleKernel(t, 1)
	prog, _ := NewLuaProgram("p.lua", "function main() end")
	rt := NewLuaRuntime(k, prog, nil)
	if rt.out != io.Discard {
		t.Fatal("nil output should discard")
	}
}
