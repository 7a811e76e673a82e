// Package debugger implements an interactive monitor for internal/cpux86,
// consuming only the external hooks spec.md §6 names (set_interrupt_function,
// exception_trace_mask, clear_history, trace, show_history,
// show_control_transfer_history, load_sreg, set_creg) plus the CORE's bus and
// decode packages — it is not part of the CORE itself (spec.md §1 places
// "the interactive debugger" out of the CORE's own scope, as an external
// collaborator), the same way cmd/x86core is an external consumer rather
// than a CORE package.
//
// Grounded on _examples/IntuitionAmiga-IntuitionEngine/debug_monitor.go's
// MachineMonitor (freeze/resume, breakpoint/watchpoint bookkeeping,
// conditional-breakpoint struct shapes from debug_interface.go) and
// debug_commands.go's command-line parsing style, reworked for a single
// x86 CPU driven from a terminal REPL rather than a multi-CPU GUI overlay.
package debugger

import (
	"fmt"

	"github.com/x86core/x86core/internal/cpux86"
	"github.com/x86core/x86core/internal/decode"
)

// ConditionOp mirrors the teacher's debug_interface.go ConditionOp enum.
type ConditionOp int

const (
	CondEqual ConditionOp = iota
	CondNotEqual
	CondLess
	CondGreater
	CondLessEqual
	CondGreaterEqual
)

// Condition is a scripted breakpoint guard: either a simple register/memory
// comparison (evaluated in Go, no interpreter needed) or a Lua expression
// string (spec.md's supplemented scripting feature, see lua.go), matching
// the teacher's BreakpointCondition plus the Lua upgrade SPEC_FULL.md §11
// wires in.
type Condition struct {
	RegName string // compared register, empty if LuaExpr is set
	Op      ConditionOp
	Value   uint64
	LuaExpr string // non-empty: evaluate as a Lua boolean expression instead
}

// Breakpoint is one address breakpoint, optionally guarded by Condition.
type Breakpoint struct {
	Addr      uint64
	Condition *Condition
	HitCount  uint64
	Temp      bool // cleared automatically on first hit ("run until")
}

// Watchpoint is a write watchpoint on one linear address, grounded on the
// teacher's single-type (write-only) Watchpoint.
type Watchpoint struct {
	Addr      uint64
	LastValue byte
}

// Debugger wraps a CPU and its bus with the bookkeeping an interactive
// monitor needs: breakpoints, watchpoints and scripted macros. It keeps no
// execution log of its own; history listings read the CPU's own rings.
type Debugger struct {
	CPU *cpux86.CPU
	Bus cpux86.Bus

	breakpoints map[uint64]*Breakpoint
	watchpoints map[uint64]*Watchpoint

	macros map[string][]string

	lua *luaConditions
}

// New constructs a Debugger attached to cpu. bus is the same bus the CPU was
// built with — kept separately so the debugger can peek physical memory
// without going through the CPU. New does not install the debug-port
// handler; that is a DebugPort registered on the bus by the caller.
func New(cpu *cpux86.CPU, bus cpux86.Bus) *Debugger {
	return &Debugger{
		CPU:         cpu,
		Bus:         bus,
		breakpoints: make(map[uint64]*Breakpoint),
		watchpoints: make(map[uint64]*Watchpoint),
		macros:      make(map[string][]string),
		lua:         newLuaConditions(),
	}
}

// --- breakpoints ---

func (d *Debugger) SetBreakpoint(addr uint64) {
	d.breakpoints[addr] = &Breakpoint{Addr: addr}
}

func (d *Debugger) SetConditionalBreakpoint(addr uint64, cond *Condition) {
	d.breakpoints[addr] = &Breakpoint{Addr: addr, Condition: cond}
}

// SetRunUntil installs a temporary breakpoint cleared on its first hit, the
// "run until" convenience the teacher's tempBreakpoints map implements.
func (d *Debugger) SetRunUntil(addr uint64) {
	d.breakpoints[addr] = &Breakpoint{Addr: addr, Temp: true}
}

func (d *Debugger) ClearBreakpoint(addr uint64) { delete(d.breakpoints, addr) }
func (d *Debugger) ClearAllBreakpoints()        { d.breakpoints = make(map[uint64]*Breakpoint) }

func (d *Debugger) ListBreakpoints() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(d.breakpoints))
	for _, b := range d.breakpoints {
		out = append(out, b)
	}
	return out
}

// --- watchpoints ---

func (d *Debugger) SetWatchpoint(addr uint64) {
	d.watchpoints[addr] = &Watchpoint{Addr: addr, LastValue: d.peekPhysical(addr)}
}

func (d *Debugger) ClearWatchpoint(addr uint64) { delete(d.watchpoints, addr) }
func (d *Debugger) ClearAllWatchpoints()        { d.watchpoints = make(map[uint64]*Watchpoint) }

func (d *Debugger) ListWatchpoints() []*Watchpoint {
	out := make([]*Watchpoint, 0, len(d.watchpoints))
	for _, w := range d.watchpoints {
		out = append(out, w)
	}
	return out
}

func (d *Debugger) peekPhysical(addr uint64) byte { return d.Bus.PeekU8(uint32(addr)) }

// --- macros ---

// RecordMacro and Macro implement the teacher's Feature-13 scripting map: a
// named sequence of command lines replayed by the REPL.
func (d *Debugger) RecordMacro(name string, lines []string) { d.macros[name] = lines }
func (d *Debugger) Macro(name string) ([]string, bool)       { lines, ok := d.macros[name]; return lines, ok }

// --- stepping ---

// StopReason explains why Run returned control to the REPL.
type StopReason int

const (
	StopBreakpoint StopReason = iota
	StopWatchpoint
	StopFault
	StopHalted
	StopStepLimit
)

// StopEvent carries StopReason plus whatever detail triggered it.
type StopEvent struct {
	Reason     StopReason
	Breakpoint uint64
	Watchpoint uint64
	Old, New   byte
	Err        error
}

// linearPC returns the current CS:EIP as a flat linear address, the address
// space breakpoints are set against (matching how the teacher's 6502/68k
// adapters key breakpoints on the flat PC rather than segment:offset).
func (d *Debugger) linearPC() uint64 {
	s := d.CPU.State()
	return uint64(s.Seg[cpux86.SRegCS].Descriptor.Base) + s.EIP
}

// Step executes exactly one CPU instruction and reports any watchpoint hit
// caused by it; breakpoint checking against the post-step PC is the caller's
// job (Run below), since a bare single "s" step should always execute even
// if it lands on a breakpoint.
func (d *Debugger) Step() (*StopEvent, error) {
	watchBefore := d.snapshotWatches()
	err := d.CPU.Step()
	if ev := d.diffWatches(watchBefore); ev != nil {
		return ev, err
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Debugger) snapshotWatches() map[uint64]byte {
	out := make(map[uint64]byte, len(d.watchpoints))
	for addr, w := range d.watchpoints {
		out[addr] = w.LastValue
	}
	return out
}

func (d *Debugger) diffWatches(before map[uint64]byte) *StopEvent {
	for addr, w := range d.watchpoints {
		cur := d.peekPhysical(addr)
		if cur != before[addr] {
			old := w.LastValue
			w.LastValue = cur
			return &StopEvent{Reason: StopWatchpoint, Watchpoint: addr, Old: old, New: cur}
		}
	}
	return nil
}

// Run steps the CPU until a breakpoint, watchpoint, fault, halt, or
// maxSteps is reached (maxSteps<=0 means unbounded), per the teacher's
// trapLoop idiom generalized from a goroutine-driven GUI loop into a
// synchronous call the REPL's "g"/"run" command makes directly.
func (d *Debugger) Run(maxSteps int) *StopEvent {
	for i := 0; maxSteps <= 0 || i < maxSteps; i++ {
		ev, err := d.Step()
		if ev != nil {
			return ev
		}
		if err != nil {
			if _, ok := err.(*cpux86.HaltedException); ok {
				return &StopEvent{Reason: StopHalted, Err: err}
			}
			return &StopEvent{Reason: StopFault, Err: err}
		}
		pc := d.linearPC()
		if bp, ok := d.breakpoints[pc]; ok {
			if !d.breakpointFires(bp) {
				continue
			}
			bp.HitCount++
			if bp.Temp {
				delete(d.breakpoints, pc)
			}
			return &StopEvent{Reason: StopBreakpoint, Breakpoint: pc}
		}
	}
	return &StopEvent{Reason: StopStepLimit}
}

func (d *Debugger) breakpointFires(bp *Breakpoint) bool {
	if bp.Condition == nil {
		return true
	}
	if bp.Condition.LuaExpr != "" {
		ok, err := d.lua.Eval(bp.Condition.LuaExpr, d)
		return err == nil && ok
	}
	return d.evalSimpleCondition(bp.Condition)
}

func (d *Debugger) evalSimpleCondition(c *Condition) bool {
	v, ok := d.GetRegister(c.RegName)
	if !ok {
		return false
	}
	switch c.Op {
	case CondEqual:
		return v == c.Value
	case CondNotEqual:
		return v != c.Value
	case CondLess:
		return v < c.Value
	case CondGreater:
		return v > c.Value
	case CondLessEqual:
		return v <= c.Value
	case CondGreaterEqual:
		return v >= c.Value
	}
	return false
}

// --- register access, by name, for the REPL and Lua bridge ---

var reg16Names = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var segNames = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

// GetRegister resolves a register name (16-bit GPR, segment, EIP/IP, FLAGS)
// to its current value, used by both command-line register display and
// scripted breakpoint conditions.
func (d *Debugger) GetRegister(name string) (uint64, bool) {
	s := d.CPU.State()
	for i, n := range reg16Names {
		if n == name {
			return uint64(s.GetReg16(i)), true
		}
		if n[0:1]+"L" == name && i < 4 {
			return uint64(s.GetReg8(i)), true
		}
	}
	for i, n := range segNames {
		if n == name {
			return uint64(s.Seg[i].Selector), true
		}
	}
	switch name {
	case "IP", "EIP":
		return s.EIP, true
	case "FLAGS", "EFLAGS":
		return uint64(s.EFLAGS), true
	case "PC":
		return d.linearPC(), true
	}
	return 0, false
}

// SetRegister writes a 16-bit GPR, segment register (via the full
// checkSreg-validated load_sreg hook, spec.md §6), or EIP/FLAGS.
func (d *Debugger) SetRegister(name string, value uint64) error {
	s := d.CPU.State()
	for i, n := range reg16Names {
		if n == name {
			s.SetReg16(i, uint16(value))
			return nil
		}
	}
	for i, n := range segNames {
		if n == name {
			if fault := d.CPU.LoadSreg(i, uint16(value)); fault != nil {
				return fault
			}
			return nil
		}
	}
	switch name {
	case "IP", "EIP":
		s.EIP = value
		return nil
	case "FLAGS", "EFLAGS":
		s.EFLAGS = uint32(value)
		return nil
	}
	return fmt.Errorf("debugger: unknown register %q", name)
}

// RegisterDump returns a display-ready snapshot of every named register,
// grounded on the teacher's RegisterInfo/GetRegisters shape.
type RegisterDump struct {
	Name  string
	Value uint64
}

func (d *Debugger) RegisterDump() []RegisterDump {
	s := d.CPU.State()
	out := make([]RegisterDump, 0, 16)
	for i, n := range reg16Names {
		out = append(out, RegisterDump{n, uint64(s.GetReg16(i))})
	}
	for i, n := range segNames {
		out = append(out, RegisterDump{n, uint64(s.Seg[i].Selector)})
	}
	out = append(out, RegisterDump{"EIP", s.EIP})
	out = append(out, RegisterDump{"EFLAGS", uint64(s.EFLAGS)})
	out = append(out, RegisterDump{"CPL", uint64(s.CPL)})
	return out
}

// --- disassembly ---

// Line is one disassembled instruction, per the teacher's DisassembledLine.
type Line struct {
	Addr     uint64
	HexBytes string
	Text     string
	Length   int
	IsPC     bool
}

// Disassemble decodes count instructions starting at linear address addr,
// reading bytes via the bus's non-faulting PeekU8 (spec.md §6) so
// disassembly never raises a guest exception or consumes bus cycles.
func (d *Debugger) Disassemble(addr uint64, count int) []Line {
	out := make([]Line, 0, count)
	cur := uint32(addr)
	model := d.CPU.Model()
	opSize, addrSize := 16, 16
	if d.CPU.State().OperandOrAddressIs32() {
		opSize, addrSize = 32, 32
	}
	for i := 0; i < count; i++ {
		start := cur
		fetch := func() (byte, error) {
			b := d.Bus.PeekU8(cur)
			cur++
			return b, nil
		}
		inst, err := decode.Decode(fetch, model, opSize, addrSize)
		if err != nil {
			out = append(out, Line{Addr: uint64(start), Text: "(bad)", Length: 1})
			cur = start + 1
			continue
		}
		hex := ""
		for j := 0; j < inst.Length; j++ {
			hex += fmt.Sprintf("%02X", inst.Raw[j])
		}
		out = append(out, Line{
			Addr:     uint64(start),
			HexBytes: hex,
			Text:     inst.Mnemonic.String(),
			Length:   inst.Length,
			IsPC:     uint64(start) == d.linearPC(),
		})
	}
	return out
}
