// runtime_helpers.go - Program loading and machine setup helpers

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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Guest program kinds
const (
	guestKindNone = iota
	guestKindLua
)

// Time base registers. Reads return the 64-bit tick count since boot split
// across two words, upper first.
const (
	TIMEBASE_UPPER     = 0x0D000000
	TIMEBASE_LOWER     = 0x0D000004
	TIMEBASE_FREQUENCY = 60_750_000
)

func guestKindFromExtension(path string) int {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return guestKindLua
	}
	return guestKindNone
}

// loadImage copies a raw big-endian code image into bus at addr and returns
// the number of words written.
func loadImage(path string, bus *SystemBus, addr uint32) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading image: %w", err)
	}
	if len(data)%WORD_SIZE != 0 {
		return 0, fmt.Errorf("image %s: size %d is not a multiple of %d", path, len(data), WORD_SIZE)
	}
	if uint64(addr)+uint64(len(data)) > uint64(bus.Size()) {
		return 0, fmt.Errorf("image %s: %d bytes at 0x%08X exceeds guest memory", path, len(data), addr)
	}
	words := make([]uint32, len(data)/WORD_SIZE)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(data[i*WORD_SIZE:])
	}
	bus.LoadWords(addr, words)
	return len(words), nil
}

// mapTimebase attaches the read-only time base registers to bus, counting
// from the guest clock's current time.
func mapTimebase(bus *SystemBus, clock Clock) {
	boot := clock.Now()
	ticks := func() uint64 {
		elapsed := clock.Now().Sub(boot)
		if elapsed < 0 {
			return 0
		}
		return uint64(elapsed/time.Microsecond) * TIMEBASE_FREQUENCY / 1_000_000
	}
	bus.MapIO(TIMEBASE_UPPER, TIMEBASE_LOWER+WORD_SIZE-1,
		func(addr uint32) uint32 {
			tb := ticks()
			if addr == TIMEBASE_UPPER {
				return uint32(tb >> 32)
			}
			return uint32(tb)
		},
		nil)
}

func parseAddrFlag(value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", value)
	}
	if v%WORD_SIZE != 0 {
		return 0, fmt.Errorf("address %q is not word aligned", value)
	}
	return uint32(v), nil
}
