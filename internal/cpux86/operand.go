package cpux86

import "github.com/x86core/x86core/internal/decode"

// effectiveOffset resolves a DecodedEA of type EAMemory to its offset within
// the segment named by ea.Segment, applying the decoded base/index/scale/disp
// per spec.md §4.1's addressing modes and wrapping to 16 bits for 16-bit
// addressing.
func (c *CPU) effectiveOffset(ea *decode.DecodedEA, addressSize int) uint32 {
	var off uint32
	if ea.BaseReg >= 0 {
		off += c.state.GetReg32(ea.BaseReg)
	}
	if ea.IndexReg >= 0 {
		idx := c.state.GetReg32(ea.IndexReg)
		if ea.Scale > 1 {
			idx *= uint32(ea.Scale)
		}
		off += idx
	}
	off += uint32(ea.Disp)
	if addressSize == 16 {
		off &= 0xFFFF
	}
	return off
}

// readOperand reads a decoded operand's value, sign/zero-extension left to
// the caller (operands are returned raw at OperationSize width).
func (c *CPU) readOperand(ea *decode.DecodedEA, inst *decode.DecodedInstruction) (uint64, *CPUFault) {
	switch ea.Type {
	case decode.EARegister8:
		return uint64(c.state.GetReg8(ea.RegIndex)), nil
	case decode.EARegister16:
		return uint64(c.state.GetReg16(ea.RegIndex)), nil
	case decode.EARegister32:
		return uint64(c.state.GetReg32(ea.RegIndex)), nil
	case decode.EASegReg:
		return uint64(c.state.Seg[ea.RegIndex].Selector), nil
	case decode.EAControlReg:
		return uint64(c.state.GetCReg(ea.RegIndex)), nil
	case decode.EADebugReg:
		return uint64(c.state.GetDReg(ea.RegIndex)), nil
	case decode.EAImmediate:
		return ea.Imm, nil
	case decode.EAMemory:
		off := c.effectiveOffset(ea, inst.AddressSize)
		v, fault := c.ReadMem(ea.Segment, off, inst.OperationSize)
		return v, fault
	case decode.EARelative:
		return uint64(ea.RelTarget), nil
	default:
		return 0, &CPUFault{}
	}
}

func (c *CPU) writeOperand(ea *decode.DecodedEA, inst *decode.DecodedInstruction, value uint64) *CPUFault {
	switch ea.Type {
	case decode.EARegister8:
		c.state.SetReg8(ea.RegIndex, uint8(value))
		return nil
	case decode.EARegister16:
		c.state.SetReg16(ea.RegIndex, uint16(value))
		return nil
	case decode.EARegister32:
		c.state.SetReg32(ea.RegIndex, uint32(value))
		return nil
	case decode.EASegReg:
		return c.loadSegReg(ea.RegIndex, uint16(value))
	case decode.EAControlReg:
		c.setControlReg(ea.RegIndex, uint32(value))
		return nil
	case decode.EADebugReg:
		c.state.SetDReg(ea.RegIndex, uint32(value))
		return nil
	case decode.EAMemory:
		off := c.effectiveOffset(ea, inst.AddressSize)
		return c.WriteMem(ea.Segment, off, value, inst.OperationSize)
	default:
		return &CPUFault{}
	}
}

// loadSegReg implements a MOV/POP-to-segment-register load: resolve the
// descriptor, run checkSreg and install the SegCache. CPL is not changed
// here, not even for CS; CS is normally loaded only via control transfer.
func (c *CPU) loadSegReg(segIndex int, selector uint16) *CPUFault {
	if !c.state.ProtectedMode() || c.state.VM86() {
		isCode := segIndex == SRegCS
		c.state.Seg[segIndex] = SegCache{Selector: selector, Descriptor: c.makeRealModeDescriptor(selector, isCode)}
		return nil
	}
	if selector&0xFFFC == 0 {
		c.state.Seg[segIndex] = SegCache{Selector: 0}
		return nil
	}
	d, fault := c.resolveSelector(selector)
	if fault != nil {
		return fault
	}
	lookup := &descriptorLookup{Present: d.Present, IsCode: d.IsCode, Writable: d.Writable, Conforming: d.Conforming, DPL: d.DPL}
	if fault := c.checkSreg(segIndex, selector, lookup); fault != nil {
		return fault
	}
	c.state.Seg[segIndex] = SegCache{Selector: selector, Descriptor: d}
	return nil
}

// setControlReg writes CR0/CR2/CR3/CR4, flushing the TLB on any write to
// CR3 or a paging-relevant bit of CR0, per spec.md §3's Lifecycle note.
func (c *CPU) setControlReg(index int, value uint32) {
	if index == 0 {
		old := c.state.CR[0]
		c.state.SetCReg(0, value)
		if old&CR0PG != value&CR0PG {
			c.tlb.Flush()
		}
		return
	}
	c.state.SetCReg(index, value)
	if index == 3 {
		c.tlb.Flush()
	}
}
