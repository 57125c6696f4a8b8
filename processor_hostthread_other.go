//go:build !linux

// processor_hostthread_other.go - Host thread identification (non-Linux)

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

func hostThreadID() int {
	return 0
}
