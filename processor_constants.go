// processor_constants.go - Core, priority and affinity constants for the scheduler

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/EspressoEngine
License: GPLv3 or later
*/

package main

import "time"

// Emulated processor layout
const (
	CORE_COUNT     = 3  // Espresso has three PowerPC cores
	CORE_COUNT_MAX = 32 // affinity masks are 32 bits wide
	CORE_NONE      = -1 // fiber is not executing on any core
)

// Guest thread priorities, 0 is the most important
const (
	PRIORITY_INTERRUPT = -1
	PRIORITY_HIGHEST   = 0
	PRIORITY_DEFAULT   = 16
	PRIORITY_LOWEST    = 31
)

// Thread affinity masks, bit n selects core n
const (
	AFFINITY_CPU0 = 1 << 0
	AFFINITY_CPU1 = 1 << 1
	AFFINITY_CPU2 = 1 << 2
	AFFINITY_ANY  = AFFINITY_CPU0 | AFFINITY_CPU1 | AFFINITY_CPU2
)

// Breakpoint user data marking a temporary step-over breakpoint
const STEP_OVER_USERDATA = 0xFFFFFFFF

// timeInfinite is the "no interrupt scheduled" deadline.
var timeInfinite = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
