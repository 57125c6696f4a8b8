// debug_snapshot.go - Scheduler snapshot files

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	snapshotMagic   = "ESNP"
	snapshotVersion = 1
)

// MachineSnapshot is a scheduler snapshot plus, optionally, guest RAM.
type MachineSnapshot struct {
	Scheduler SchedulerSnapshot
	Memory    []byte
}

// memoryDumper is implemented by buses that can copy out all of RAM.
type memoryDumper interface {
	Dump() []byte
}

// Dump returns a copy of guest RAM.
func (bus *SystemBus) Dump() []byte {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()
	return bytes.Clone(bus.memory)
}

// TakeSnapshot captures the scheduler state and guest memory.
func TakeSnapshot(d *Debugger) *MachineSnapshot {
	snap := &MachineSnapshot{Scheduler: d.Snapshot()}
	if dumper, ok := d.k.Memory().(memoryDumper); ok {
		snap.Memory = dumper.Dump()
	}
	return snap
}

func writeString(buf *bytes.Buffer, s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeSnapshot serialises snap: header and scheduler state little-endian,
// followed by gzip-compressed memory.
func EncodeSnapshot(snap *MachineSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian
	s := &snap.Scheduler

	buf.WriteString(snapshotMagic)
	binary.Write(&buf, le, uint32(snapshotVersion))
	binary.Write(&buf, le, s.Time.UnixNano())
	paused := byte(0)
	if s.Paused {
		paused = 1
	}
	buf.WriteByte(paused)

	binary.Write(&buf, le, uint32(len(s.Cores)))
	for _, c := range s.Cores {
		binary.Write(&buf, le, int32(c.ID))
		binary.Write(&buf, le, c.CurrentThread)
		binary.Write(&buf, le, c.LastThread)
		binary.Write(&buf, le, c.InterruptedThread)
		pending := byte(0)
		if c.InterruptPending {
			pending = 1
		}
		buf.WriteByte(pending)
		next := int64(-1)
		if c.NextInterrupt.Before(timeInfinite) {
			next = c.NextInterrupt.UnixNano()
		}
		binary.Write(&buf, le, next)
		binary.Write(&buf, le, int32(c.HostThread))
	}

	binary.Write(&buf, le, uint32(len(s.Threads)))
	for _, t := range s.Threads {
		binary.Write(&buf, le, t.ID)
		writeString(&buf, t.Name)
		binary.Write(&buf, le, int32(t.CoreID))
		binary.Write(&buf, le, t.Affinity)
		binary.Write(&buf, le, int32(t.State))
		binary.Write(&buf, le, t.Priority)
		binary.Write(&buf, le, t.SuspendCounter)
		binary.Write(&buf, le, t.EntryPoint)
		binary.Write(&buf, le, t.Regs)
	}

	binary.Write(&buf, le, uint32(len(s.ReadyQueue)))
	binary.Write(&buf, le, s.ReadyQueue)
	binary.Write(&buf, le, uint32(len(s.Breakpoints)))
	binary.Write(&buf, le, s.Breakpoints)

	binary.Write(&buf, le, uint32(len(snap.Memory)))
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(snap.Memory); err != nil {
		return nil, fmt.Errorf("compressing memory: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses data written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*MachineSnapshot, error) {
	r := bytes.NewReader(data)
	le := binary.LittleEndian

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("invalid snapshot magic: %q", string(magic))
	}
	var version uint32
	if err := binary.Read(r, le, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", version)
	}

	snap := &MachineSnapshot{}
	s := &snap.Scheduler
	var nanos int64
	if err := binary.Read(r, le, &nanos); err != nil {
		return nil, fmt.Errorf("reading time: %w", err)
	}
	s.Time = time.Unix(0, nanos)
	paused, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading pause flag: %w", err)
	}
	s.Paused = paused != 0

	var count uint32
	if err := binary.Read(r, le, &count); err != nil {
		return nil, fmt.Errorf("reading core count: %w", err)
	}
	if count > CORE_COUNT_MAX {
		return nil, fmt.Errorf("core count %d out of range", count)
	}
	for range count {
		var c CoreInfo
		var id, host int32
		var next int64
		binary.Read(r, le, &id)
		binary.Read(r, le, &c.CurrentThread)
		binary.Read(r, le, &c.LastThread)
		binary.Read(r, le, &c.InterruptedThread)
		pending, _ := r.ReadByte()
		binary.Read(r, le, &next)
		if err := binary.Read(r, le, &host); err != nil {
			return nil, fmt.Errorf("reading core: %w", err)
		}
		c.ID = int(id)
		c.InterruptPending = pending != 0
		c.NextInterrupt = timeInfinite
		if next >= 0 {
			c.NextInterrupt = time.Unix(0, next)
		}
		c.HostThread = int(host)
		s.Cores = append(s.Cores, c)
	}

	if err := binary.Read(r, le, &count); err != nil {
		return nil, fmt.Errorf("reading thread count: %w", err)
	}
	for range count {
		var t ThreadInfo
		var core, state int32
		binary.Read(r, le, &t.ID)
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading thread name: %w", err)
		}
		t.Name = name
		binary.Read(r, le, &core)
		binary.Read(r, le, &t.Affinity)
		binary.Read(r, le, &state)
		binary.Read(r, le, &t.Priority)
		binary.Read(r, le, &t.SuspendCounter)
		binary.Read(r, le, &t.EntryPoint)
		if err := binary.Read(r, le, &t.Regs); err != nil {
			return nil, fmt.Errorf("reading thread registers: %w", err)
		}
		t.CoreID = int(core)
		t.State = ThreadState(state)
		s.Threads = append(s.Threads, t)
	}

	readIDs := func(what string) ([]uint32, error) {
		var n uint32
		if err := binary.Read(r, le, &n); err != nil {
			return nil, fmt.Errorf("reading %s count: %w", what, err)
		}
		if int(n)*4 > r.Len() {
			return nil, fmt.Errorf("%s count %d exceeds data", what, n)
		}
		ids := make([]uint32, n)
		if err := binary.Read(r, le, ids); err != nil {
			return nil, fmt.Errorf("reading %s: %w", what, err)
		}
		return ids, nil
	}
	if s.ReadyQueue, err = readIDs("ready queue"); err != nil {
		return nil, err
	}
	if s.Breakpoints, err = readIDs("breakpoint"); err != nil {
		return nil, err
	}

	var memLen uint32
	if err := binary.Read(r, le, &memLen); err != nil {
		return nil, fmt.Errorf("reading memory length: %w", err)
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()
	snap.Memory = make([]byte, memLen)
	if _, err := io.ReadFull(gz, snap.Memory); err != nil {
		return nil, fmt.Errorf("decompressing memory: %w", err)
	}
	return snap, nil
}

// SaveSnapshotToFile writes snap to path.
func SaveSnapshotToFile(snap *MachineSnapshot, path string) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshotFromFile reads a snapshot written by SaveSnapshotToFile.
func LoadSnapshotFromFile(path string) (*MachineSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}
