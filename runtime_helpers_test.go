package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTimebaseCountsGuestTime(t *testing.T) {
	clock := NewManualClock(time.Unix(100, 0))
	bus := NewSystemBusSize(0x1000)
	mapTimebase(bus, clock)

	if bus.Read32(TIMEBASE_UPPER) != 0 || bus.Read32(TIMEBASE_LOWER) != 0 {
		t.Fatal("time base should start at zero")
	}
	clock.Advance(time.Second)
	if got := bus.Read32(TIMEBASE_LOWER); got != TIMEBASE_FREQUENCY {
		t.Fatalf("lower after 1s = %d, want %d", got, TIMEBASE_FREQUENCY)
	}

	clock.Advance(4999 * time.Second)
	upper, lower := bus.Read32(TIMEBASE_UPPER), bus.Read32(TIMEBASE_LOWER)
	if ticks := uint64(upper)<<32 | uint64(lower); ticks != 5000*TIMEBASE_FREQUENCY {
		t.Fatalf("ticks after 5000s = %d (upper %d lower %d)", ticks, upper, lower)
	}

	bus.Write32(TIMEBASE_LOWER, 0)
	if bus.Read32(TIMEBASE_LOWER) == 0 {
		t.Fatal("time base must ignore writes")
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	bus := NewSystemBusSize(0x100)

	n, err := loadImage(write("ok.bin", []byte{0x48, 0x00, 0x01, 0x01, 0x60, 0x00, 0x00, 0x00}), bus, 0x40)
	if err != nil || n != 2 {
		t.Fatalf("loadImage = %d, %v", n, err)
	}
	if bus.Read32(0x40) != 0x48000101 || bus.Read32(0x44) != 0x60000000 {
		t.Fatal("image not loaded big-endian")
	}

	if _, err := loadImage(write("odd.bin", []byte{1, 2, 3}), bus, 0); err == nil {
		t.Error("misaligned image size accepted")
	}
	if _, err := loadImage(write("big.bin", make([]byte, 0x20)), bus, 0xF0); err == nil {
		t.Error("image past end of memory accepted")
	}
	if _, err := loadImage(filepath.Join(dir, "missing.bin"), bus, 0); err == nil {
		t.Error("missing image accepted")
	}
}

func TestParseAddrFlag(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0x00003100", 0x3100, true},
		{"256", 256, true},
		{"0x3102", 0, false},
		{"0x100000000", 0, false},
		{"start", 0, false},
	}
	for _, tt := range tests {
		got, err := parseAddrFlag(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseAddrFlag(%q) = %#x, %v", tt.in, got, err)
		}
	}
}

func TestGuestKindFromExtension(t *testing.T) {
	if guestKindFromExtension("demo/boot.lua") != guestKindLua || guestKindFromExtension("BOOT.LUA") != guestKindLua {
		t.Fatal("lua scripts not recognised")
	}
	if guestKindFromExtension("image.bin") != guestKindNone || guestKindFromExtension("noext") != guestKindNone {
		t.Fatal("non-lua files should be rejected")
	}
}
