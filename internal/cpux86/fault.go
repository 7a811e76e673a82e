// Package cpux86 implements the CPU execution engine: state, paging/TLB, the
// three-layer memory access pipeline, control transfer, exception machinery,
// and the per-mnemonic semantics driven by internal/decode's output.
//
// Grounded on _examples/IntuitionAmiga-IntuitionEngine/cpu_x86.go (dispatch
// idiom, register-pointer-array trick, ALU flag helpers) generalized to the
// real/protected/VM86 semantics of spec.md §4.2, with algorithm ordering
// taken from _examples/original_source/cpu.cpp where spec.md is behavioral
// rather than exact (doControlTransfer, doInterrupt, doInterruptReturn,
// pageLookup).
package cpux86

import "fmt"

// Exception numbers, per spec.md §4.2/§7 and
// original_source/cpu_exception.h's CPUExceptionNumber enum.
const (
	ExcDE = iota // Divide error
	ExcDB        // Debug
	ExcNMI
	ExcBP // Breakpoint
	ExcOF // Overflow (INTO)
	ExcBR // BOUND range exceeded
	ExcUD // Invalid opcode
	ExcNM // Device not available
	ExcDF // Double fault
	ExcReserved9
	ExcTS // Invalid TSS
	ExcNP // Segment not present
	ExcSS // Stack-segment fault
	ExcGP // General protection
	ExcPF // Page fault
	ExceptionMax
)

// errorCodeMask has a bit set for every exception number that carries a
// pushed error code, per spec.md §7 and original_source/cpu_exception.h's
// CPUExceptionErrorCodeMask (bits 8,10,11,12,13,14 = DF,TS,NP,SS,GP,PF).
const errorCodeMask = 1<<ExcDF | 1<<ExcTS | 1<<ExcNP | 1<<ExcSS | 1<<ExcGP | 1<<ExcPF

// Origin values carried beside a raised vector (CPUFault.Origin and
// doInterrupt's origin parameter, not bits of the vector itself): hardware
// vs software vs CPU-generated, affecting whether a software INT's
// target gate DPL is checked against CPL.
const (
	OriginCPU = iota
	OriginSoftware
	OriginHardware
)

// CPUFault is a guest-visible architectural exception: spec.md §7's first
// taxonomy. Every pipeline operation that can fault returns one as a Go
// error instead of the teacher's print-and-halt style, per spec.md §9's
// design note on exceptions-as-control-flow.
type CPUFault struct {
	Number    int
	ErrorCode uint32
	HasError  bool
	Origin    int
}

func (f *CPUFault) Error() string {
	if f.HasError {
		return fmt.Sprintf("cpu fault %d (error code %#x)", f.Number, f.ErrorCode)
	}
	return fmt.Sprintf("cpu fault %d", f.Number)
}

func newFault(number int) *CPUFault {
	f := &CPUFault{Number: number}
	if errorCodeMask&(1<<uint(number)) != 0 {
		f.HasError = true
	}
	return f
}

func newFaultWithError(number int, errorCode uint32) *CPUFault {
	f := newFault(number)
	f.ErrorCode = errorCode
	return f
}

// selectorErrorCode composes the low-15-bits-selector error code shape used
// by #TS/#NP/#SS/#GP, per spec.md §7: bit0 external, bit1 IDT, bit2 LDT,
// bits [3:15] the selector index with RPL masked out.
func selectorErrorCode(selector uint16, external, idt, ldt bool) uint32 {
	var e uint32
	if external {
		e |= 1
	}
	if idt {
		e |= 2
	}
	if ldt {
		e |= 4
	}
	e |= uint32(selector&0xFFF8)
	return e
}

// pageFaultErrorCode composes the #PF error code: bit0 P, bit1 W, bit2 U,
// per spec.md §4.2's paging walk and the scenario in spec.md §8 (U=1,W=0,P=0
// => 0b100).
func pageFaultErrorCode(present, write, user bool) uint32 {
	var e uint32
	if present {
		e |= 1
	}
	if write {
		e |= 2
	}
	if user {
		e |= 4
	}
	return e
}

// HostFault is a non-architectural, fatal implementation error: spec.md §7's
// second taxonomy (unimplemented instruction, impossible table lookup).
// Never converted into a guest CPUFault — the two domains stay separate so
// implementation bugs are never silently masked as guest-visible behaviour.
type HostFault struct {
	Reason string
}

func (f *HostFault) Error() string { return "host fault: " + f.Reason }

// HaltedException marks the unrecoverable "HLT with IF=0" condition, a third
// category per spec.md §7, used by test harnesses to detect end-of-test.
type HaltedException struct{}

func (*HaltedException) Error() string { return "cpu halted with interrupts disabled" }
