package cpux86

import (
	"github.com/x86core/x86core/internal/decode"
	"github.com/x86core/x86core/internal/history"
)

// Step executes exactly one instruction, per spec.md §4.2's instruction
// cycle: interrupt check, halt check, history snapshot, decode off the
// prefetch queue, dispatch, with exception rollback restoring IP and
// flushing the prefetch queue on a fault. Returns a *CPUFault for a
// guest-visible exception that the caller (or an outer doInterrupt) should
// route, a *HostFault for a host-side implementation bug, or
// *HaltedException when HLT is reached with interrupts disabled.
func (c *CPU) Step() error {
	if c.state.Halted && !c.state.Flags().IF() {
		return &HaltedException{}
	}

	if vec := c.pendingHardwareInterrupt(); vec != NoInterruptPending && c.state.Flags().IF() && !c.stiDelay {
		c.state.Halted = false
		if fault := c.doInterrupt(vec, OriginHardware, false, 0); fault != nil {
			return fault
		}
		c.recordHistory(c.snapshot(), nil)
	}
	c.stiDelay = false

	if c.state.Halted {
		return nil
	}

	startIP := c.state.EIP
	startCS := c.state.Seg[SRegCS]

	operandSize, addressSize := 16, 16
	if c.state.OperandOrAddressIs32() {
		operandSize, addressSize = 32, 32
	}
	inst, err := decode.Decode(func() (byte, error) { return c.nextByte() }, c.model, operandSize, addressSize)
	if err != nil {
		c.state.EIP = startIP
		c.state.Seg[SRegCS] = startCS
		c.flushPrefetch()
		if fault, ok := err.(*CPUFault); ok {
			return fault
		}
		return newFault(ExcUD)
	}

	// Pre-step snapshot, per spec.md §3/§4.2: taken before EIP advances or
	// dispatch mutates any CPU state, matching original_source/cpu.cpp's
	// step() snapshotting history.state before calling doStep().
	preStep := c.snapshot()
	instBytes := append([]byte(nil), inst.Raw[:inst.Length]...)

	c.state.EIP += uint64(inst.Length)
	if fault := c.checkIpLimit(); fault != nil {
		c.state.EIP = startIP
		c.state.Seg[SRegCS] = startCS
		c.flushPrefetch()
		return fault
	}

	if fault := c.dispatch(&inst); fault != nil {
		switch f := fault.(type) {
		case *CPUFault:
			c.state.EIP = startIP
			c.state.Seg[SRegCS] = startCS
			c.flushPrefetch()
			c.recordException(preStep, instBytes, f)
			return f
		default:
			return fault
		}
	}

	c.recordHistory(preStep, instBytes)
	return nil
}

func (c *CPU) pendingHardwareInterrupt() int {
	if c.interruptFunc == nil {
		return NoInterruptPending
	}
	return c.interruptFunc()
}

func (c *CPU) recordHistory(snap historyRecord, instructionBytes []byte) {
	c.history.Push(history.Entry{State: snap, InstructionBytes: instructionBytes, Exception: -1})
}

// recordException always pushes a history entry, per spec.md §3's "History
// entries are created on every step" -- exceptionTraceMask only gates
// whether an exception is printed/logged to the console (no such call
// exists yet here), not whether it reaches the history ring.
func (c *CPU) recordException(snap historyRecord, instructionBytes []byte, f *CPUFault) {
	c.history.Push(history.Entry{State: snap, InstructionBytes: instructionBytes, Exception: f.Number})
}

// historyRecord is the opaque per-step snapshot stored in history.Entry's
// State field; kept minimal (the debugger re-derives detail from State()
// plus the ring's ordering) per spec.md §9's design note preferring small
// explicit structures over capturing the entire CPU.
type historyRecord struct {
	EIP    uint64
	CS     uint16
	EFLAGS uint32
}

func (c *CPU) snapshot() historyRecord {
	return historyRecord{EIP: c.state.EIP, CS: c.state.Seg[SRegCS].Selector, EFLAGS: c.state.EFLAGS}
}

