package cpux86

// toPhysicalAddress applies paging (if enabled) to a linear address, per
// spec.md §4.2's paging lookup; with paging disabled the linear address is
// the physical address directly (A20 gating is applied bus-side).
func (c *CPU) toPhysicalAddress(linear uint32, write bool) (uint32, *CPUFault) {
	if !c.state.PagingEnabled() {
		return linear, nil
	}
	return c.pageLookup(linear, c.pagingRequest(write))
}

func (c *CPU) fetchLinearByte(linear uint32) (byte, *CPUFault) {
	phys, fault := c.toPhysicalAddress(linear, false)
	if fault != nil {
		return 0, fault
	}
	return c.bus.ReadU8(phys), nil
}

// readLinear and writeLinear implement spec.md §4.2's Linear layer: mask to
// access size, split straddled-page accesses into two physical accesses and
// stitch/split the value, per spec.md §4.2.
func (c *CPU) readLinear(linear uint32, size int) (uint64, *CPUFault) {
	if linear&pageMask+uint32(size) > pageSize && size > 1 {
		var v uint64
		for i := 0; i < size; i++ {
			phys, fault := c.toPhysicalAddress(linear+uint32(i), false)
			if fault != nil {
				return 0, fault
			}
			v |= uint64(c.bus.ReadU8(phys)) << (8 * i)
		}
		return v, nil
	}
	phys, fault := c.toPhysicalAddress(linear, false)
	if fault != nil {
		return 0, fault
	}
	switch size {
	case 1:
		return uint64(c.bus.ReadU8(phys)), nil
	case 2:
		return uint64(c.bus.ReadU16(phys)), nil
	case 4:
		return uint64(c.bus.ReadU32(phys)), nil
	case 8:
		return c.bus.ReadU64(phys), nil
	}
	return 0, newFault(ExcGP) // unreachable: size is always 1/2/4/8 by construction
}

func (c *CPU) writeLinear(linear uint32, value uint64, size int) *CPUFault {
	if linear&pageMask+uint32(size) > pageSize && size > 1 {
		// Validate both pages before touching memory, per spec.md §4.2.
		if _, fault := c.toPhysicalAddress(linear, true); fault != nil {
			return fault
		}
		if _, fault := c.toPhysicalAddress(linear+uint32(size)-1, true); fault != nil {
			return fault
		}
		for i := 0; i < size; i++ {
			phys, _ := c.toPhysicalAddress(linear+uint32(i), true)
			c.bus.WriteU8(phys, byte(value>>(8*i)))
		}
		return nil
	}
	phys, fault := c.toPhysicalAddress(linear, true)
	if fault != nil {
		return fault
	}
	switch size {
	case 1:
		c.bus.WriteU8(phys, byte(value))
	case 2:
		c.bus.WriteU16(phys, uint16(value))
	case 4:
		c.bus.WriteU32(phys, uint32(value))
	case 8:
		c.bus.WriteU64(phys, value)
	default:
		return newFault(ExcGP) // unreachable: size is always 1/2/4/8 by construction
	}
	return nil
}

// checkLogicalAccess implements spec.md §4.2's Logical layer: requires
// P=1,S=1 and range [offset,offset+size) subset of [0,limit]; stack-segment
// violations raise #SS, others #GP; writes in protected non-VM86 mode also
// require a writable data segment.
func (c *CPU) checkLogicalAccess(seg *SegCache, segIndex int, offset uint32, size int, write bool) *CPUFault {
	if !c.state.ProtectedMode() || c.state.VM86() {
		return nil
	}
	d := seg.Descriptor
	stackFault := segIndex == SRegSS
	if !d.Present || (d.Kind != 0 /* KindCodeData */) {
		return c.accessFault(stackFault, seg.Selector)
	}
	end := uint64(offset) + uint64(size)
	if end > uint64(d.Limit)+1 {
		return c.accessFault(stackFault, seg.Selector)
	}
	if write && !d.IsCode && !d.Writable {
		return c.accessFault(stackFault, seg.Selector)
	}
	if !write && d.IsCode && !d.Readable {
		return c.accessFault(stackFault, seg.Selector)
	}
	return nil
}

func (c *CPU) accessFault(stackFault bool, selector uint16) *CPUFault {
	if stackFault {
		return newFaultWithError(ExcSS, selectorErrorCode(selector, false, false, false))
	}
	return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
}

// ReadMem and WriteMem implement the Logical->Linear->Physical pipeline for
// a segment:offset access, per spec.md §4.2.
func (c *CPU) ReadMem(segIndex int, offset uint32, size int) (uint64, *CPUFault) {
	seg := &c.state.Seg[segIndex]
	if fault := c.checkLogicalAccess(seg, segIndex, offset, size, false); fault != nil {
		return 0, fault
	}
	linear := seg.Descriptor.Base + offset
	return c.readLinear(linear, size)
}

func (c *CPU) WriteMem(segIndex int, offset uint32, value uint64, size int) *CPUFault {
	seg := &c.state.Seg[segIndex]
	if fault := c.checkLogicalAccess(seg, segIndex, offset, size, true); fault != nil {
		return fault
	}
	linear := seg.Descriptor.Base + offset
	return c.writeLinear(linear, value, size)
}

// PeekMem performs a non-faulting debugger read straight through the bus's
// PeekU8, per spec.md §6.
func (c *CPU) PeekMem(segIndex int, offset uint32) byte {
	seg := &c.state.Seg[segIndex]
	linear := seg.Descriptor.Base + offset
	phys, fault := c.toPhysicalAddress(linear, false)
	if fault != nil {
		return 0xFF
	}
	return c.bus.PeekU8(phys)
}

// --- stack helpers ---

func (c *CPU) stackOperandSize() int {
	if c.state.Seg[SRegSS].Descriptor.Flags&0x4 != 0 { // D/B bit
		return 4
	}
	return 2
}

func (c *CPU) updateSP(delta int32, size int) {
	sp := c.state.GetReg32(RegSP)
	if size == 2 {
		c.state.SetReg16(RegSP, uint16(int32(uint16(sp))+delta))
	} else {
		c.state.SetReg32(RegSP, uint32(int32(sp)+delta))
	}
}

func (c *CPU) Push(value uint64, size int) *CPUFault {
	c.updateSP(-int32(size), size)
	sp := c.state.GetReg32(RegSP)
	if c.stackOperandSize() == 2 {
		sp &= 0xFFFF
	}
	return c.WriteMem(SRegSS, sp, value, size)
}

func (c *CPU) Pop(size int) (uint64, *CPUFault) {
	sp := c.state.GetReg32(RegSP)
	if c.stackOperandSize() == 2 {
		sp &= 0xFFFF
	}
	v, fault := c.ReadMem(SRegSS, sp, size)
	if fault != nil {
		return 0, fault
	}
	c.updateSP(int32(size), size)
	return v, nil
}

// checkIpLimit implements spec.md §8's invariant "IP never exceeds
// ipMask() at the end of step()", grounded on
// original_source/cpu.cpp's checkIpLimit: in protected mode, raises #GP(0)
// if EIP exceeds the current CS limit.
func (c *CPU) checkIpLimit() *CPUFault {
	if !c.state.ProtectedMode() || c.state.VM86() {
		return nil
	}
	cs := c.state.Seg[SRegCS].Descriptor
	if uint64(c.state.EIP) > uint64(cs.Limit) {
		return newFaultWithError(ExcGP, 0)
	}
	return nil
}

func (c *CPU) ipMask() uint64 {
	if c.state.OperandOrAddressIs32() {
		return 0xFFFFFFFF
	}
	return 0xFFFF
}

// OperandOrAddressIs32 reports whether the current CS default operand size
// is 32-bit (D/B bit), used to mask EIP/IP consistently.
func (s *State) OperandOrAddressIs32() bool {
	return s.Seg[SRegCS].Descriptor.Flags&0x4 != 0
}
