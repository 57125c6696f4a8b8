// memory_bus.go - Guest memory for the Espresso Engine

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
memory_bus.go - Guest Memory Bus

Guest RAM as seen by the decoder and the debugger. The emulated console is a
big-endian PowerPC machine, so words are stored most significant byte first.
Accesses outside RAM read as zero and writes to them are dropped.

A small number of memory-mapped registers can be attached with MapIO. Reads
inside a mapped region go to its callback instead of RAM.
*/

package main

import (
	"encoding/binary"
	"sync"
)

const (
	DEFAULT_MEMORY_SIZE = 16 * 1024 * 1024
	WORD_SIZE           = 4
	PAGE_SIZE           = 0x1000
	PAGE_MASK           = ^uint32(PAGE_SIZE - 1)
)

type MemoryBus interface {
	/*
		MemoryBus is the guest memory interface used by the kernel, the
		debugger and the program loader. Implementations must be safe
		for concurrent use from every core.
	*/

	Read32(addr uint32) uint32
	Write32(addr uint32, value uint32)
	Reset()
}

type SystemBus struct {
	memory  []byte
	mutex   sync.RWMutex
	mapping map[uint32][]IORegion
}

type IORegion struct {
	start   uint32
	end     uint32
	onRead  func(addr uint32) uint32
	onWrite func(addr uint32, value uint32)
}

func NewSystemBus() *SystemBus {
	return NewSystemBusSize(DEFAULT_MEMORY_SIZE)
}

// NewSystemBusSize allocates size bytes of guest RAM.
func NewSystemBusSize(size int) *SystemBus {
	return &SystemBus{
		memory:  make([]byte, size),
		mapping: make(map[uint32][]IORegion),
	}
}

func (bus *SystemBus) MapIO(start, end uint32, onRead func(addr uint32) uint32, onWrite func(addr uint32, value uint32)) {
	/*
		MapIO attaches callbacks to the inclusive range start..end. The
		region is indexed by every page it touches so lookups stay a
		single map access.
	*/

	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	region := IORegion{start: start, end: end, onRead: onRead, onWrite: onWrite}
	for page := start & PAGE_MASK; ; page += PAGE_SIZE {
		bus.mapping[page] = append(bus.mapping[page], region)
		if page >= end&PAGE_MASK {
			break
		}
	}
}

func (bus *SystemBus) findRegion(addr uint32) *IORegion {
	regions := bus.mapping[addr&PAGE_MASK]
	for i := range regions {
		if addr >= regions[i].start && addr <= regions[i].end {
			return &regions[i]
		}
	}
	return nil
}

func (bus *SystemBus) inRange(addr uint32) bool {
	return uint64(addr)+WORD_SIZE <= uint64(len(bus.memory))
}

func (bus *SystemBus) Write32(addr uint32, value uint32) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	if region := bus.findRegion(addr); region != nil {
		if region.onWrite != nil {
			region.onWrite(addr, value)
		}
		return
	}
	if bus.inRange(addr) {
		binary.BigEndian.PutUint32(bus.memory[addr:addr+WORD_SIZE], value)
	}
}

func (bus *SystemBus) Read32(addr uint32) uint32 {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()

	if region := bus.findRegion(addr); region != nil {
		if region.onRead != nil {
			return region.onRead(addr)
		}
		return 0
	}
	if !bus.inRange(addr) {
		return 0
	}
	return binary.BigEndian.Uint32(bus.memory[addr : addr+WORD_SIZE])
}

// LoadWords copies words into RAM starting at addr.
func (bus *SystemBus) LoadWords(addr uint32, words []uint32) {
	for i, w := range words {
		bus.Write32(addr+uint32(i*WORD_SIZE), w)
	}
}

// Size returns the RAM size in bytes.
func (bus *SystemBus) Size() int { return len(bus.memory) }

func (bus *SystemBus) Reset() {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	clear(bus.memory)
}
