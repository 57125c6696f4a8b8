// runtime_status.go - Process-wide runtime status

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import (
	"sync"
	"time"
)

type runtimeStatusSnapshot struct {
	script    string
	image     string
	cores     int
	startTime time.Time

	kernel   *Kernel
	debugger *Debugger
	monitor  *MachineMonitor
}

type runtimeStatusStore struct {
	mu sync.RWMutex
	runtimeStatusSnapshot
}

func (s *runtimeStatusStore) setProgram(script, image string) {
	s.mu.Lock()
	s.script = script
	s.image = image
	s.mu.Unlock()
}

func (s *runtimeStatusStore) setMachine(k *Kernel, d *Debugger, m *MachineMonitor) {
	s.mu.Lock()
	s.kernel = k
	s.debugger = d
	s.monitor = m
	if k != nil {
		s.cores = k.proc.CoreCount()
	}
	s.startTime = time.Now()
	s.mu.Unlock()
}

func (s *runtimeStatusStore) snapshot() runtimeStatusSnapshot {
	s.mu.RLock()
	snap := s.runtimeStatusSnapshot
	s.mu.RUnlock()
	return snap
}

func (s *runtimeStatusStore) clear() {
	s.mu.Lock()
	s.runtimeStatusSnapshot = runtimeStatusSnapshot{}
	s.mu.Unlock()
}

var runtimeStatus = &runtimeStatusStore{}
