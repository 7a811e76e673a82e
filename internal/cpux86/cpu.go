package cpux86

import (
	"github.com/x86core/x86core/internal/desc"
	"github.com/x86core/x86core/internal/history"
)

// InterruptFunc returns the next pending IRQ vector already mapped through
// the PIC, or NoInterruptPending, per spec.md §6's set_interrupt_function.
type InterruptFunc func() int

// NoInterruptPending is the sentinel InterruptFunc returns when no hardware
// interrupt is pending.
const NoInterruptPending = -1

// CPU is the execution engine: registers, TLB, prefetch queue, and the bus
// connection, driving internal/decode's Decode to implement one step() at a
// time per spec.md §4.2.
type CPU struct {
	state    State
	model    CPUModel
	bus      Bus
	tlb      TLB
	prefetch *PrefetchQueue

	history     *history.Ring
	ctHistory   *history.ControlTransferLog
	exceptionTraceMask uint16 // bit i set => exception i is traced

	interruptFunc InterruptFunc
	stiDelay      bool // one-cycle delay after STI/MOV SS, per spec.md §4.2 step 1
}

// New constructs a CPU reset into real mode, per spec.md §3's Lifecycle:
// the CPU owns its state; descriptor caches and the TLB start empty.
func New(model CPUModel, bus Bus) *CPU {
	c := &CPU{
		model:     model,
		bus:       bus,
		prefetch:  NewPrefetchQueue(model),
		history:   history.NewRing(),
		ctHistory: history.NewControlTransferLog(),
		interruptFunc: func() int { return NoInterruptPending },
	}
	c.exceptionTraceMask = 0xFFFF &^ (1 << ExcDE) // spec.md §9's exceptionTraceMask_ default: all but #DE traced
	c.Reset()
	return c
}

// Reset puts the CPU into the documented power-on real-mode state: CS =
// 0xF000 (BIOS entry segment convention), IP = 0xFFF0, all other segments
// zero, flags with only the reserved bit 1 set.
func (c *CPU) Reset() {
	c.state = State{}
	c.state.Seg[SRegCS] = SegCache{Selector: 0xF000, Descriptor: c.makeRealModeDescriptor(0xF000, true)}
	c.state.Seg[SRegDS] = SegCache{Selector: 0, Descriptor: c.makeRealModeDescriptor(0, false)}
	c.state.Seg[SRegES] = SegCache{Selector: 0, Descriptor: c.makeRealModeDescriptor(0, false)}
	c.state.Seg[SRegSS] = SegCache{Selector: 0, Descriptor: c.makeRealModeDescriptor(0, false)}
	c.state.Seg[SRegFS] = SegCache{Selector: 0, Descriptor: c.makeRealModeDescriptor(0, false)}
	c.state.Seg[SRegGS] = SegCache{Selector: 0, Descriptor: c.makeRealModeDescriptor(0, false)}
	c.state.EIP = 0xFFF0
	c.state.EFLAGS = SetFlags(0, c.model)
	c.tlb.Flush()
	c.prefetch = NewPrefetchQueue(c.model)
	c.prefetch.Flush(c.currentLinearIP())
	c.history.Clear()
	c.ctHistory.Clear()
}

func (c *CPU) currentLinearIP() uint32 {
	return c.state.Seg[SRegCS].Descriptor.Base + uint32(c.state.EIP)
}

// SetInterruptFunc installs the external hardware-interrupt callback, per
// spec.md §6's set_interrupt_function.
func (c *CPU) SetInterruptFunc(f InterruptFunc) { c.interruptFunc = f }

// State exposes a read-only-by-convention view for the debugger; callers
// must not mutate GPR/Seg/CR slices without going through the provided
// setters (load_sreg/set_creg) that perform the required checks.
func (c *CPU) State() *State { return &c.state }

func (c *CPU) Model() CPUModel { return c.model }

func (c *CPU) Bus() Bus { return c.bus }

func (c *CPU) History() *history.Ring                    { return c.history }
func (c *CPU) ControlTransferHistory() *history.ControlTransferLog { return c.ctHistory }

// SetExceptionTraceMask and ClearHistory implement spec.md §6's
// exception_trace_mask and clear_history debug hooks.
func (c *CPU) SetExceptionTraceMask(mask uint16) { c.exceptionTraceMask = mask }
func (c *CPU) ClearHistory()                     { c.history.Clear(); c.ctHistory.Clear() }

// LoadSreg and SetCreg implement spec.md §6's external debugger hooks
// load_sreg/set_creg: writes that run the full protected-mode checks a
// guest MOV-to-segment or MOV-to-CR would, rather than poking state
// directly the way a raw register editor would.
func (c *CPU) LoadSreg(segIndex int, value uint16) *CPUFault { return c.loadSegReg(segIndex, value) }
func (c *CPU) SetCreg(index int, value uint32)               { c.setControlReg(index, value) }

// makeRealModeDescriptor builds the flat code/data descriptor a real-mode or
// VM86 segment load synthesizes: Base = selector<<4, Limit = 0xFFFF, per
// spec.md §8's invariant. DPL is 0 in real mode and 3 in VM86 ("all data
// segments follow the same rule with DPL=3"), matching
// original_source/cpu.cpp's loadCS/loadSeg VM86 branch rather than the
// hardcoded DPL 0 a flat real-mode-only core would use.
func (c *CPU) makeRealModeDescriptor(selector uint16, code bool) desc.Descriptor {
	dpl := uint8(0)
	if c.state.VM86() {
		dpl = 3
	}
	if code {
		return desc.SetRealModeCode(selector, dpl)
	}
	return desc.SetRealModeData(selector, dpl)
}
