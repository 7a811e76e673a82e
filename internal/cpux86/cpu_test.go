package cpux86

import (
	"testing"
)

// flatBus is a minimal Bus backed by one contiguous byte slice, used to drive
// the CPU through concrete instruction streams without needing the full
// internal/bus region-map machinery.
type flatBus struct {
	mem [0x110000]byte
}

func (b *flatBus) ReadU8(addr uint32) byte  { return b.mem[addr] }
func (b *flatBus) WriteU8(addr uint32, v byte) { b.mem[addr] = v }
func (b *flatBus) ReadU16(addr uint32) uint16 {
	return uint16(b.mem[addr]) | uint16(b.mem[addr+1])<<8
}
func (b *flatBus) WriteU16(addr uint32, v uint16) {
	b.mem[addr] = byte(v)
	b.mem[addr+1] = byte(v >> 8)
}
func (b *flatBus) ReadU32(addr uint32) uint32 {
	return uint32(b.ReadU16(addr)) | uint32(b.ReadU16(addr+2))<<16
}
func (b *flatBus) WriteU32(addr uint32, v uint32) {
	b.WriteU16(addr, uint16(v))
	b.WriteU16(addr+2, uint16(v>>16))
}
func (b *flatBus) ReadU64(addr uint32) uint64 {
	return uint64(b.ReadU32(addr)) | uint64(b.ReadU32(addr+4))<<32
}
func (b *flatBus) WriteU64(addr uint32, v uint64) {
	b.WriteU32(addr, uint32(v))
	b.WriteU32(addr+4, uint32(v>>32))
}
func (b *flatBus) PeekU8(addr uint32) byte { return b.mem[addr] }

func (b *flatBus) In8(uint16) byte           { return 0xFF }
func (b *flatBus) Out8(uint16, byte)         {}
func (b *flatBus) In16(uint16) uint16        { return 0xFFFF }
func (b *flatBus) Out16(uint16, uint16)      {}
func (b *flatBus) In32(uint16) uint32        { return 0xFFFFFFFF }
func (b *flatBus) Out32(uint16, uint32)      {}

// newTestCPU returns a CPU reset into real mode with CS=DS=SS=0 (so linear
// address == offset), ready to execute a byte stream written directly into
// the bus at the chosen address.
func newTestCPU(t *testing.T) (*CPU, *flatBus) {
	t.Helper()
	bus := &flatBus{}
	cpu := New(Model8086, bus)
	cpu.state.Seg[SRegCS] = SegCache{Selector: 0, Descriptor: cpu.makeRealModeDescriptor(0, true)}
	cpu.state.Seg[SRegDS] = SegCache{Selector: 0, Descriptor: cpu.makeRealModeDescriptor(0, false)}
	cpu.state.Seg[SRegSS] = SegCache{Selector: 0, Descriptor: cpu.makeRealModeDescriptor(0, false)}
	cpu.state.EIP = 0x1000
	cpu.state.SetReg16(RegSP, 0xF000)
	cpu.prefetch.Flush(cpu.currentLinearIP())
	return cpu, bus
}

func (b *flatBus) loadAt(addr uint32, bytes ...byte) {
	for i, v := range bytes {
		b.mem[addr+uint32(i)] = v
	}
}

// TestDivideByZeroRaisesDE covers spec.md §8's scenario: DIV r/m8 by zero
// raises #DE with IP left pointing at the DIV itself (rolled back, not
// advanced past it).
func TestDivideByZeroRaisesDE(t *testing.T) {
	cpu, bus := newTestCPU(t)
	start := uint32(cpu.state.EIP)
	// F6 /6, modrm 0xF6: mod=11 reg=110(DIV) rm=110(DH) -- DH starts zero.
	bus.loadAt(start, 0xF6, 0xF6)

	err := cpu.Step()
	fault, ok := err.(*CPUFault)
	if !ok {
		t.Fatalf("expected *CPUFault, got %T (%v)", err, err)
	}
	if fault.Number != ExcDE {
		t.Fatalf("expected #DE (%d), got %d", ExcDE, fault.Number)
	}
	if cpu.state.EIP != uint64(start) {
		t.Fatalf("expected EIP rolled back to %#x, got %#x", start, cpu.state.EIP)
	}
}

// TestPushfPopfRoundTrip covers spec.md §8's PUSHF/POPF invariant: pushing
// and immediately popping FLAGS is a no-op on EFLAGS (CPL 0, no VM/IOPL
// effects to filter).
func TestPushfPopfRoundTrip(t *testing.T) {
	cpu, bus := newTestCPU(t)
	cpu.state.EFLAGS = SetFlags(FlagCF|FlagZF|FlagSF, Model8086)
	before := cpu.state.EFLAGS
	start := uint32(cpu.state.EIP)
	bus.loadAt(start, 0x9C, 0x9D) // PUSHF; POPF

	if err := cpu.Step(); err != nil {
		t.Fatalf("PUSHF: %v", err)
	}
	if err := cpu.Step(); err != nil {
		t.Fatalf("POPF: %v", err)
	}
	if cpu.state.EFLAGS != before {
		t.Fatalf("EFLAGS not preserved: before %#x after %#x", before, cpu.state.EFLAGS)
	}
}

// TestPushaPopaRoundTrip covers spec.md §8's PUSHA/POPA invariant: every GPR
// except SP (which is restored by the final POPA pop, not the discarded
// stacked value) returns to its prior value.
func TestPushaPopaRoundTrip(t *testing.T) {
	cpu, bus := newTestCPU(t)
	cpu.state.SetReg16(RegAX, 0x1111)
	cpu.state.SetReg16(RegCX, 0x2222)
	cpu.state.SetReg16(RegDX, 0x3333)
	cpu.state.SetReg16(RegBX, 0x4444)
	cpu.state.SetReg16(RegBP, 0x5555)
	cpu.state.SetReg16(RegSI, 0x6666)
	cpu.state.SetReg16(RegDI, 0x7777)
	beforeSP := cpu.state.GetReg16(RegSP)

	start := uint32(cpu.state.EIP)
	bus.loadAt(start, 0x60, 0x61) // PUSHA; POPA

	if err := cpu.Step(); err != nil {
		t.Fatalf("PUSHA: %v", err)
	}
	if err := cpu.Step(); err != nil {
		t.Fatalf("POPA: %v", err)
	}

	check := func(name string, got, want uint16) {
		if got != want {
			t.Errorf("%s: got %#x, want %#x", name, got, want)
		}
	}
	check("AX", cpu.state.GetReg16(RegAX), 0x1111)
	check("CX", cpu.state.GetReg16(RegCX), 0x2222)
	check("DX", cpu.state.GetReg16(RegDX), 0x3333)
	check("BX", cpu.state.GetReg16(RegBX), 0x4444)
	check("BP", cpu.state.GetReg16(RegBP), 0x5555)
	check("SI", cpu.state.GetReg16(RegSI), 0x6666)
	check("DI", cpu.state.GetReg16(RegDI), 0x7777)
	check("SP", cpu.state.GetReg16(RegSP), beforeSP)
}

// TestFarCallFarReturnRoundTrip covers spec.md §8's control-transfer
// invariant: a far CALL through an indirect memory pointer followed by a
// matching RETF restores CS:IP to the instruction after the call.
func TestFarCallFarReturnRoundTrip(t *testing.T) {
	cpu, bus := newTestCPU(t)
	start := uint32(cpu.state.EIP)

	// FF /3, modrm 0x1E: mod=00 reg=011(CALLF) rm=110 -> disp16 direct memory.
	const ptrAddr = 0x2000
	bus.loadAt(start, 0xFF, 0x1E, byte(ptrAddr&0xFF), byte(ptrAddr>>8))
	// far pointer at ptrAddr: offset 0x1234, selector 0x0050
	bus.loadAt(ptrAddr, 0x34, 0x12, 0x50, 0x00)

	retAddr := start + 4 // length of FF 1E <disp16>
	calleeLinear := uint32(0x0050)<<4 + 0x1234
	bus.loadAt(calleeLinear, 0xCB) // RETF

	if err := cpu.Step(); err != nil {
		t.Fatalf("CALLF: %v", err)
	}
	if cpu.state.Seg[SRegCS].Selector != 0x0050 || cpu.state.EIP != 0x1234 {
		t.Fatalf("unexpected callee state: CS=%#x EIP=%#x", cpu.state.Seg[SRegCS].Selector, cpu.state.EIP)
	}

	if err := cpu.Step(); err != nil {
		t.Fatalf("RETF: %v", err)
	}
	if cpu.state.Seg[SRegCS].Selector != 0 {
		t.Fatalf("expected CS restored to 0, got %#x", cpu.state.Seg[SRegCS].Selector)
	}
	if cpu.state.EIP != uint64(retAddr) {
		t.Fatalf("expected EIP restored to %#x, got %#x", retAddr, cpu.state.EIP)
	}
}

// TestStepDeterminism covers spec.md §8's determinism invariant: stepping
// identical instruction streams from identical initial states produces
// identical resulting states.
func TestStepDeterminism(t *testing.T) {
	run := func() State {
		cpu, bus := newTestCPU(t)
		cpu.state.SetReg16(RegAX, 5)
		cpu.state.SetReg16(RegCX, 7)
		start := uint32(cpu.state.EIP)
		bus.loadAt(start, 0x01, 0xC8) // ADD AX, CX
		if err := cpu.Step(); err != nil {
			t.Fatalf("ADD: %v", err)
		}
		return cpu.state
	}
	a := run()
	b := run()
	if a.GPR != b.GPR || a.EFLAGS != b.EFLAGS || a.EIP != b.EIP {
		t.Fatalf("non-deterministic step result: %+v vs %+v", a, b)
	}
	if a.GetReg16(RegAX) != 12 {
		t.Fatalf("expected AX=12, got %#x", a.GetReg16(RegAX))
	}
}

// TestPageFaultErrorCode covers spec.md §8's scenario: a user-mode write to a
// not-present page raises #PF with error code bits (P=0,W=1,U=1) = 0b110.
func TestPageFaultErrorCode(t *testing.T) {
	if got := pageFaultErrorCode(false, true, true); got != 0b110 {
		t.Fatalf("expected error code 0b110, got %#b", got)
	}
}
