// debug_disasm_powerpc.go - PowerPC branch classification and short disassembly

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

import "fmt"

// BranchKind is the control-flow class of an instruction, as far as
// step-over cares.
type BranchKind int

const (
	BranchOther BranchKind = iota
	Branch
	BranchLink
)

func (k BranchKind) String() string {
	switch k {
	case Branch:
		return "branch"
	case BranchLink:
		return "branch-link"
	}
	return "other"
}

const (
	ppcOpBC     = 16
	ppcOpB      = 18
	ppcOpXL     = 19
	ppcOpADDI   = 14
	ppcOpADDIS  = 15
	ppcOpSC     = 17
	ppcOpORI    = 24
	ppcXOBCLR   = 16
	ppcXOBCCTR  = 528
	ppcNOP      = 0x60000000
	ppcBranchLK = 1
	ppcBranchAA = 2
)

func ppcOpcode(word uint32) uint32 { return word >> 26 }
func ppcXO(word uint32) uint32     { return (word >> 1) & 0x3FF }
func ppcRT(word uint32) uint32     { return (word >> 21) & 0x1F }
func ppcRA(word uint32) uint32     { return (word >> 16) & 0x1F }
func ppcSIMM(word uint32) int32    { return int32(int16(word & 0xFFFF)) }

// ClassifyInstruction returns whether word is a branch, and whether it sets
// the link register.
func ClassifyInstruction(word uint32) BranchKind {
	switch ppcOpcode(word) {
	case ppcOpB, ppcOpBC:
	case ppcOpXL:
		if xo := ppcXO(word); xo != ppcXOBCLR && xo != ppcXOBCCTR {
			return BranchOther
		}
	default:
		return BranchOther
	}
	if word&ppcBranchLK != 0 {
		return BranchLink
	}
	return Branch
}

// branchTarget decodes the target of an immediate branch at pc. ok is false
// for register-indirect branches.
func branchTarget(word, pc uint32) (target uint32, ok bool) {
	switch ppcOpcode(word) {
	case ppcOpB:
		li := int32(word&0x03FFFFFC) << 6 >> 6
		target = uint32(li)
	case ppcOpBC:
		bd := int32(int16(word & 0xFFFC))
		target = uint32(bd)
	default:
		return 0, false
	}
	if word&ppcBranchAA == 0 {
		target += pc
	}
	return target, true
}

// DisassemblePPC renders word at pc for the monitor. Only the instructions
// the monitor needs to recognise get proper mnemonics.
func DisassemblePPC(word, pc uint32) string {
	suffix := ""
	if word&ppcBranchLK != 0 {
		suffix += "l"
	}

	switch ppcOpcode(word) {
	case ppcOpB:
		if word&ppcBranchAA != 0 {
			suffix += "a"
		}
		target, _ := branchTarget(word, pc)
		return fmt.Sprintf("b%s 0x%08X", suffix, target)
	case ppcOpBC:
		if word&ppcBranchAA != 0 {
			suffix += "a"
		}
		target, _ := branchTarget(word, pc)
		bo := ppcRT(word)
		bi := ppcRA(word)
		return fmt.Sprintf("bc%s %d,%d,0x%08X", suffix, bo, bi, target)
	case ppcOpXL:
		switch ppcXO(word) {
		case ppcXOBCLR:
			if ppcRT(word) == 20 {
				return "blr" + suffix
			}
			return fmt.Sprintf("bclr%s %d,%d", suffix, ppcRT(word), ppcRA(word))
		case ppcXOBCCTR:
			if ppcRT(word) == 20 {
				return "bctr" + suffix
			}
			return fmt.Sprintf("bcctr%s %d,%d", suffix, ppcRT(word), ppcRA(word))
		}
	case ppcOpADDI:
		if ppcRA(word) == 0 {
			return fmt.Sprintf("li r%d,%d", ppcRT(word), ppcSIMM(word))
		}
		return fmt.Sprintf("addi r%d,r%d,%d", ppcRT(word), ppcRA(word), ppcSIMM(word))
	case ppcOpADDIS:
		if ppcRA(word) == 0 {
			return fmt.Sprintf("lis r%d,%d", ppcRT(word), ppcSIMM(word))
		}
		return fmt.Sprintf("addis r%d,r%d,%d", ppcRT(word), ppcRA(word), ppcSIMM(word))
	case ppcOpSC:
		if word == 0x44000002 {
			return "sc"
		}
	case ppcOpORI:
		if word == ppcNOP {
			return "nop"
		}
		return fmt.Sprintf("ori r%d,r%d,0x%X", ppcRA(word), ppcRT(word), word&0xFFFF)
	}
	return fmt.Sprintf(".long 0x%08X", word)
}
