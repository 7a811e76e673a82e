package desc

import "fmt"

// Table is the (base, limit) pair describing GDT or IDT location, loaded by
// LGDT/LIDT and read by every descriptor fetch.
type Table struct {
	Base  uint64
	Limit uint16
}

// SelectorIndex and SelectorTI decode a 16-bit selector's descriptor-table
// index and table indicator (0 = GDT, 1 = LDT); the low 2 bits (RPL) are the
// caller's concern, not the table's.
func SelectorIndex(selector uint16) uint16 { return selector >> 3 }
func SelectorTI(selector uint16) bool      { return selector&0x4 != 0 }
func SelectorRPL(selector uint16) uint8    { return uint8(selector & 0x3) }

// EntryAddress returns the linear address of the 8-byte raw descriptor for
// selector within table, or ok=false if the index is 0 or the entry exceeds
// the table limit.
func (t Table) EntryAddress(selector uint16) (addr uint64, ok bool) {
	idx := SelectorIndex(selector)
	off := uint32(idx) * 8
	if idx == 0 || uint32(off)+7 > uint32(t.Limit) {
		return 0, false
	}
	return t.Base + uint64(off), true
}

// Offsets of SS0/ESP0 (ring-0 stack pointer) within the 16-bit and 32-bit TSS
// layouts — the only TSS fields this core reads, per spec.md §9's Open
// Question scoping task-switch support to privilege-level stack switching
// only. Grounded on original_source/cpu.cpp's tssSaveStack/tssRestoreStack.
const (
	TSS16OffSS0  = 0x04
	TSS16OffSP0  = 0x02
	TSS32OffSS0  = 0x08
	TSS32OffESP0 = 0x04
)

func (d Descriptor) String() string {
	switch d.Kind {
	case KindCodeData:
		kind := "data"
		if d.IsCode {
			kind = "code"
		}
		return fmt.Sprintf("%s base=%#08x limit=%#x dpl=%d p=%v", kind, d.Base, d.Limit, d.DPL, d.Present)
	case KindCallGate:
		return fmt.Sprintf("call-gate sel=%#04x off=%#08x params=%d dpl=%d 32=%v", d.GateSelector, d.GateOffset, d.ParamCount, d.DPL, d.Is32Bit)
	case KindTaskGate:
		return fmt.Sprintf("task-gate sel=%#04x dpl=%d", d.GateSelector, d.DPL)
	case KindLDT:
		return fmt.Sprintf("ldt base=%#08x limit=%#x", d.Base, d.Limit)
	case KindTSS:
		return fmt.Sprintf("tss base=%#08x limit=%#x busy=%v 32=%v", d.Base, d.Limit, d.TSSBusy, d.Is32Bit)
	case KindInterruptOrTrapGate:
		return fmt.Sprintf("gate sel=%#04x off=%#08x dpl=%d 32=%v", d.GateSelector, d.GateOffset, d.DPL, d.Is32Bit)
	default:
		return "invalid-descriptor"
	}
}
