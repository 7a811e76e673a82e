// Package addr implements the segment:offset address value type shared by the
// decoder, the CPU execution engine and the system bus.
package addr

import "fmt"

// Width is the number of bytes the offset wraps within. 8 is a sentinel
// meaning "no masking" — used internally when an address carries a full
// linear/physical value that must not be truncated to 16 or 32 bits.
type Width int

const (
	Width16 Width = 2
	Width32 Width = 4
	WidthNoMask Width = 8
)

// Address is the segment:offset pair used throughout the CPU pipeline.
// Offset is stored as a full uint64 but only the low 8*OffsetWidth bits are
// significant; arithmetic wraps at that boundary.
type Address struct {
	Segment     uint16
	Offset      uint64
	OffsetWidth Width
}

// New builds an Address, masking the offset to the given width immediately.
func New(segment uint16, offset uint64, width Width) Address {
	a := Address{Segment: segment, Offset: offset, OffsetWidth: width}
	a.Offset = a.mask(offset)
	return a
}

func (a Address) mask(v uint64) uint64 {
	if a.OffsetWidth >= WidthNoMask {
		return v
	}
	bits := uint(8 * a.OffsetWidth)
	return v & ((uint64(1) << bits) - 1)
}

// Add returns a new Address with delta added to the offset, wrapped per
// OffsetWidth.
func (a Address) Add(delta int64) Address {
	a.Offset = a.mask(uint64(int64(a.Offset) + delta))
	return a
}

// String renders "SEG:OFFSET" with the offset zero-padded to its width
// (4 hex digits for 16-bit, 8 for 32-bit, 16 when unmasked).
func (a Address) String() string {
	digits := 4
	switch a.OffsetWidth {
	case Width32:
		digits = 8
	case WidthNoMask:
		digits = 16
	}
	return fmt.Sprintf("%04X:%0*X", a.Segment, digits, a.Offset)
}

// RealModeLinear computes the classic real-mode/VM86 linear address
// (segment<<4)+offset, truncated to 20 bits (A20 gating lives in the bus,
// not here).
func (a Address) RealModeLinear() uint32 {
	return uint32(uint64(a.Segment)<<4+a.Offset) & 0xFFFFF
}
