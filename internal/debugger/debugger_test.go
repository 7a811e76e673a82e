package debugger

import (
	"strings"
	"testing"

	"github.com/x86core/x86core/internal/cpux86"
)

// flatBus is a minimal cpux86.Bus backed by one contiguous byte slice, the
// same shape internal/cpux86's own tests use, kept local here since each
// package's tests build their own throwaway fixture rather than sharing one
// across package boundaries.
type flatBus struct {
	mem [0x110000]byte
}

func (b *flatBus) ReadU8(addr uint32) byte     { return b.mem[addr] }
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

func (b *flatBus) In8(uint16) byte      { return 0xFF }
func (b *flatBus) Out8(uint16, byte)    {}
func (b *flatBus) In16(uint16) uint16   { return 0xFFFF }
func (b *flatBus) Out16(uint16, uint16) {}
func (b *flatBus) In32(uint16) uint32   { return 0xFFFFFFFF }
func (b *flatBus) Out32(uint16, uint32) {}

func (b *flatBus) loadAt(addr uint32, bytes ...byte) {
	for i, v := range bytes {
		b.mem[addr+uint32(i)] = v
	}
}

// newTestDebugger builds a Debugger around a freshly reset CPU, left at its
// power-on CS:IP (F000:FFF0, per spec.md §3) rather than mutating segment
// state directly — internal/debugger has no access to cpux86's unexported
// prefetch-flush machinery, so tests work with the reset state's own linear
// address instead of relocating it. DS/SS are already flat (selector 0,
// base 0) out of Reset, so data writes below use raw 20-bit addresses.
func newTestDebugger(t *testing.T) (*Debugger, *flatBus, uint32) {
	t.Helper()
	bus := &flatBus{}
	cpu := cpux86.New(cpux86.Model8086, bus)
	s := cpu.State()
	start := uint32(s.Seg[cpux86.SRegCS].Selector)<<4 + uint32(s.EIP)
	return New(cpu, bus), bus, start
}

func TestBreakpointStopsRun(t *testing.T) {
	d, bus, start := newTestDebugger(t)
	// NOP; NOP; NOP
	bus.loadAt(start, 0x90, 0x90, 0x90)
	d.SetBreakpoint(uint64(start) + 2)

	ev := d.Run(100)
	if ev.Reason != StopBreakpoint {
		t.Fatalf("expected StopBreakpoint, got %v (%v)", ev.Reason, ev.Err)
	}
	if ev.Breakpoint != uint64(start)+2 {
		t.Fatalf("expected breakpoint at %#x, got %#x", start+2, ev.Breakpoint)
	}
}

func TestWatchpointFiresOnWrite(t *testing.T) {
	d, bus, start := newTestDebugger(t)
	// MOV BYTE PTR [0x3000], 0x42 -- C6 06 disp16 imm8
	bus.loadAt(start, 0xC6, 0x06, 0x00, 0x30, 0x42)
	d.SetWatchpoint(0x3000)

	ev, err := d.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if ev == nil {
		t.Fatal("expected a watchpoint StopEvent, got nil")
	}
	if ev.Reason != StopWatchpoint || ev.New != 0x42 {
		t.Fatalf("unexpected watchpoint event: %+v", ev)
	}
}

func TestConditionalBreakpointOnlyFiresWhenTrue(t *testing.T) {
	d, bus, start := newTestDebugger(t)
	// ADD AX, 1; NOP; ADD AX, 1; NOP -- AX starts at 0, so AX==2 after the
	// second ADD.
	bus.loadAt(start, 0x05, 0x01, 0x00, 0x90, 0x05, 0x01, 0x00, 0x90)
	bpAddr := uint64(start) + 7 // the second NOP, after AX becomes 2
	d.SetConditionalBreakpoint(bpAddr, &Condition{RegName: "AX", Op: CondEqual, Value: 2})

	ev := d.Run(100)
	if ev.Reason != StopBreakpoint {
		t.Fatalf("expected StopBreakpoint, got %v (%v)", ev.Reason, ev.Err)
	}
	if ev.Breakpoint != bpAddr {
		t.Fatalf("expected stop at %#x, got %#x", bpAddr, ev.Breakpoint)
	}
}

func TestLuaConditionEvaluatesRegisters(t *testing.T) {
	d, _, _ := newTestDebugger(t)
	d.CPU.State().SetReg16(cpux86.RegAX, 7)
	ok, err := d.lua.Eval("AX == 7", d)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Fatal("expected AX == 7 to evaluate true")
	}
	ok, err = d.lua.Eval("AX == 8", d)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if ok {
		t.Fatal("expected AX == 8 to evaluate false")
	}
}

func TestDisassembleReportsCurrentPC(t *testing.T) {
	d, bus, start := newTestDebugger(t)
	bus.loadAt(start, 0x90, 0x05, 0x01, 0x00) // NOP; ADD AX, 1

	lines := d.Disassemble(uint64(start), 2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !lines[0].IsPC {
		t.Fatalf("expected first line to be marked as PC: %+v", lines[0])
	}
	if lines[1].IsPC {
		t.Fatalf("expected second line not marked as PC: %+v", lines[1])
	}
	if !strings.Contains(lines[1].Text, "ADD") {
		t.Fatalf("expected second line to disassemble as ADD, got %q", lines[1].Text)
	}
}

func TestDebugPortActivatesOnMagicWrite(t *testing.T) {
	fired := false
	dp := &DebugPort{Activate: func() { fired = true }}
	dp.Out16(debugPortAddr, debugPortMagic)
	if !fired {
		t.Fatal("expected Activate to fire on magic value write")
	}

	fired = false
	dp.Out16(debugPortAddr, 0x1234)
	if fired {
		t.Fatal("did not expect Activate to fire on a non-magic write")
	}
}
