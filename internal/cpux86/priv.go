package cpux86

import "github.com/x86core/x86core/internal/desc"

// Privilege-check family, grounded on original_source/cpu.cpp's checkPriv*
// helpers and generalized per spec.md §4.2's control-transfer privilege
// rules. Each returns a *CPUFault (#GP, #SS, #NP or #UD depending on the
// check, carrying a selector error code where a selector is at fault) rather
// than the original's bool-return-plus-manual-raise style, so callers can use
// Go's early-return idiom uniformly with the rest of the pipeline.

// checkPriv requires CPL <= dpl (numerically), used for data-segment and
// non-conforming code-segment access checks.
func (c *CPU) checkPriv(dpl uint8) *CPUFault {
	if c.state.CPL > dpl {
		return newFaultWithError(ExcGP, 0)
	}
	return nil
}

// checkPmode requires protected mode (and not VM86), used to guard
// instructions meaningless in real mode (LGDT target validation aside,
// which is always allowed).
func (c *CPU) checkPmode() *CPUFault {
	if !c.state.ProtectedMode() || c.state.VM86() {
		return newFault(ExcUD)
	}
	return nil
}

// checkPrivIOPL requires CPL <= IOPL, raising #GP(0) otherwise, per
// spec.md §4.2's "sensitive instruction" rule for CLI/STI/PUSHF-derived
// IOPL field writes outside real mode.
func (c *CPU) checkPrivIOPL() *CPUFault {
	if !c.state.ProtectedMode() {
		return nil
	}
	if c.state.CPL > c.state.Flags().IOPL() {
		return newFaultWithError(ExcGP, 0)
	}
	return nil
}

// checkPrivVM86 additionally forbids the instruction outright in VM86 mode
// when IOPL < 3, the classic "VM86 IOPL trap to monitor" case; spec.md §9
// scopes the monitor's emulation of the trapped instruction out, so this
// simply raises #GP(0) for the caller to translate into a VM86 exit.
func (c *CPU) checkPrivVM86() *CPUFault {
	if c.state.VM86() && c.state.Flags().IOPL() < 3 {
		return newFaultWithError(ExcGP, 0)
	}
	return c.checkPrivIOPL()
}

// checkIOAccess validates a port I/O access against IOPL (real/protected,
// non-VM86) or the per-port I/O permission bitmap fetched from the current
// TSS (VM86 or CPL > IOPL in protected mode), per spec.md §4.2.
func (c *CPU) checkIOAccess(port uint16, size int) *CPUFault {
	if !c.state.ProtectedMode() {
		return nil
	}
	if c.state.CPL <= c.state.Flags().IOPL() && !c.state.VM86() {
		return nil
	}
	return c.checkIOPermissionBitmap(port, size)
}

// checkIOPermissionBitmap reads the I/O bitmap offset from the TSS and
// consults the bit range [port, port+size) for this access, per
// original_source/cpu.cpp's checkIOPermission. A TSS with no bitmap
// (offset beyond the segment limit) denies every port.
func (c *CPU) checkIOPermissionBitmap(port uint16, size int) *CPUFault {
	tr := c.state.TR.Descriptor
	if !tr.Present || tr.Kind != desc.KindTSS {
		return newFaultWithError(ExcGP, 0)
	}
	bitmapOffsetAddr := tr.Base + tssIOMapBaseOffset
	bitmapOffset := c.bus.ReadU16(bitmapOffsetAddr)
	for i := 0; i < size; i++ {
		p := port + uint16(i)
		byteAddr := tr.Base + uint32(bitmapOffset) + uint32(p/8)
		if uint64(byteAddr) > uint64(tr.Base)+uint64(tr.Limit) {
			return newFaultWithError(ExcGP, 0)
		}
		bitByte := c.bus.ReadU8(byteAddr)
		if bitByte&(1<<(p%8)) != 0 {
			return newFaultWithError(ExcGP, 0)
		}
	}
	return nil
}

// checkSreg validates a segment-register load target (descriptor present,
// correct S/type, DPL/RPL/CPL ordering per the destination register class),
// per original_source/cpu.cpp's checkSregLoad, generalized across all six
// segment registers per spec.md §4.2.
func (c *CPU) checkSreg(segIndex int, selector uint16, d *descriptorLookup) *CPUFault {
	if segIndex == SRegSS {
		return c.checkSSLoad(selector, d)
	}
	return c.checkDataOrCodeLoad(segIndex, selector, d)
}

// descriptorLookup is the resolved table entry for a selector load: the
// fields of the unpacked descriptor that checkSreg's two branches use. The
// RPL is not stored here; both branches take it from the selector itself.
type descriptorLookup struct {
	Present bool
	IsCode  bool
	Writable bool
	Conforming bool
	DPL     uint8
}

func (c *CPU) checkSSLoad(selector uint16, d *descriptorLookup) *CPUFault {
	if selector&0xFFFC == 0 {
		return newFaultWithError(ExcGP, 0)
	}
	rpl := uint8(selector & 3)
	if !d.Present {
		return newFaultWithError(ExcSS, selectorErrorCode(selector, false, false, selector&4 != 0))
	}
	if d.IsCode || !d.Writable {
		return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, selector&4 != 0))
	}
	if rpl != c.state.CPL || d.DPL != c.state.CPL {
		return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, selector&4 != 0))
	}
	return nil
}

func (c *CPU) checkDataOrCodeLoad(segIndex int, selector uint16, d *descriptorLookup) *CPUFault {
	if selector&0xFFFC == 0 {
		if segIndex == SRegCS {
			return newFaultWithError(ExcGP, 0)
		}
		return nil // null selector is a legal data-segment load
	}
	if !d.Present {
		return newFaultWithError(ExcNP, selectorErrorCode(selector, false, false, selector&4 != 0))
	}
	rpl := uint8(selector & 3)
	if segIndex != SRegCS && d.IsCode && !d.Conforming {
		if rpl > d.DPL || c.state.CPL > d.DPL {
			return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, selector&4 != 0))
		}
	} else if segIndex != SRegCS && !d.IsCode {
		if rpl > d.DPL || c.state.CPL > d.DPL {
			return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, selector&4 != 0))
		}
	}
	return nil
}

// tssIOMapBaseOffset is the byte offset of the I/O map base field within a
// 32-bit TSS, per original_source/cpu_descriptor.h's TSS32Layout.
const tssIOMapBaseOffset = 0x66
