package main

import "testing"

func TestClassifyInstruction(t *testing.T) {
	tests := []struct {
		name string
		word uint32
		want BranchKind
	}{
		{"b", 0x48000010, Branch},
		{"bl", 0x48000101, BranchLink},
		{"bla", 0x48000103, BranchLink},
		{"bc", 0x41820008, Branch},
		{"bcl", 0x41820009, BranchLink},
		{"blr", 0x4E800020, Branch},
		{"blrl", 0x4E800021, BranchLink},
		{"bctr", 0x4E800420, Branch},
		{"bctrl", 0x4E800421, BranchLink},
		{"isync", 0x4C00012C, BranchOther},
		{"nop", 0x60000000, BranchOther},
		{"li", 0x38600001, BranchOther},
		{"sc", 0x44000002, BranchOther},
	}
	for _, tt := range tests {
		if got := ClassifyInstruction(tt.word); got != tt.want {
			t.Errorf("%s (%08X): got %v, want %v", tt.name, tt.word, got, tt.want)
		}
	}
}

func TestDisassemblePPC(t *testing.T) {
	tests := []struct {
		word uint32
		pc   uint32
		want string
	}{
		{0x48000101, 0x200, "bl 0x00000300"},
		{0x4BFFFFFC, 0x1000, "b 0x00000FFC"},
		{0x48000102, 0x1000, "ba 0x00000100"},
		{0x4E800020, 0, "blr"},
		{0x4E800421, 0, "bctrl"},
		{0x38600001, 0, "li r3,1"},
		{0x3863FFFF, 0, "addi r3,r3,-1"},
		{0x3C608000, 0, "lis r3,-32768"},
		{0x60000000, 0, "nop"},
		{0x44000002, 0, "sc"},
		{0x7C0802A6, 0, ".long 0x7C0802A6"},
	}
	for _, tt := range tests {
		if got := DisassemblePPC(tt.word, tt.pc); got != tt.want {
			t.Errorf("DisassemblePPC(%08X, %X) = %q, want %q", tt.word, tt.pc, got, tt.want)
		}
	}
}
