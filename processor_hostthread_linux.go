//go:build linux

// processor_hostthread_linux.go - Host thread identification (Linux)

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import "golang.org/x/sys/unix"

// hostThreadID returns the kernel thread id of the calling OS thread. Core
// goroutines are locked to their thread, so the value is stable per core.
func hostThreadID() int {
	return unix.Gettid()
}
