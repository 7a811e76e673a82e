package cpux86

import "github.com/x86core/x86core/internal/decode"

func (c *CPU) readPort(port uint16, size int) uint64 {
	switch size {
	case 1:
		return uint64(c.bus.In8(port))
	case 2:
		return uint64(c.bus.In16(port))
	default:
		return uint64(c.bus.In32(port))
	}
}

func (c *CPU) writePort(port uint16, v uint64, size int) {
	switch size {
	case 1:
		c.bus.Out8(port, uint8(v))
	case 2:
		c.bus.Out16(port, uint16(v))
	default:
		c.bus.Out32(port, uint32(v))
	}
}

// portOperand resolves the DX-or-immediate port operand. The decode table's
// 0xEC-0xEF entries reuse modeCL as a placeholder for the DX operand (DX's
// GPR index is never actually decoded there), so the port is read directly
// from DX whenever the operand isn't an immediate rather than trusting
// RegIndex.
func (c *CPU) portOperand(ea *decode.DecodedEA) uint16 {
	if ea.Type == decode.EAImmediate {
		return uint16(ea.Imm)
	}
	return c.state.GetReg16(RegDX)
}

func (c *CPU) execIn(inst *decode.DecodedInstruction) error {
	port := c.portOperand(&inst.Operands[1])
	size := inst.OperationSize
	if fault := c.checkIOAccess(port, size); fault != nil {
		return fault
	}
	v := c.readPort(port, size)
	if fault := c.writeOperand(&inst.Operands[0], inst, v); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execOut(inst *decode.DecodedInstruction) error {
	port := c.portOperand(&inst.Operands[0])
	size := inst.OperationSize
	if fault := c.checkIOAccess(port, size); fault != nil {
		return fault
	}
	v, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	c.writePort(port, v, size)
	return nil
}

// execTableReg implements LGDT/LIDT/SGDT/SIDT: the 6-byte pseudo-descriptor
// (16-bit limit, 32-bit base) is read from or written to the decoded memory
// operand, per spec.md §3's GDTR/IDTR note.
func (c *CPU) execTableReg(inst *decode.DecodedInstruction) error {
	ea := &inst.Operands[0]
	off := c.effectiveOffset(ea, inst.AddressSize)

	load := inst.Mnemonic == decode.LGDT || inst.Mnemonic == decode.LIDT
	isGDT := inst.Mnemonic == decode.LGDT || inst.Mnemonic == decode.SGDT

	if load {
		if fault := c.checkPriv(0); fault != nil {
			return fault
		}
		limit, fault := c.ReadMem(ea.Segment, off, 2)
		if fault != nil {
			return fault
		}
		base, fault := c.ReadMem(ea.Segment, off+2, 4)
		if fault != nil {
			return fault
		}
		if isGDT {
			c.state.GDT.Limit = uint16(limit)
			c.state.GDT.Base = uint64(uint32(base))
		} else {
			c.state.IDT.Limit = uint16(limit)
			c.state.IDT.Base = uint64(uint32(base))
		}
		return nil
	}

	var limit uint16
	var base uint32
	if isGDT {
		limit, base = c.state.GDT.Limit, uint32(c.state.GDT.Base)
	} else {
		limit, base = c.state.IDT.Limit, uint32(c.state.IDT.Base)
	}
	if fault := c.WriteMem(ea.Segment, off, uint64(limit), 2); fault != nil {
		return fault
	}
	if fault := c.WriteMem(ea.Segment, off+2, uint64(base), 4); fault != nil {
		return fault
	}
	return nil
}

// execSystemSelectorReg implements LLDT/LTR/SLDT/STR: loads or stores a
// 16-bit selector into LDTR/TR, resolving the descriptor via the GDT on
// load.
func (c *CPU) execSystemSelectorReg(inst *decode.DecodedInstruction) error {
	if fault := c.checkPmode(); fault != nil {
		return fault
	}
	ea := &inst.Operands[0]
	switch inst.Mnemonic {
	case decode.SLDT:
		if fault := c.writeOperand(ea, inst, uint64(c.state.LDTR.Selector)); fault != nil {
			return fault
		}
		return nil
	case decode.STR:
		if fault := c.writeOperand(ea, inst, uint64(c.state.TR.Selector)); fault != nil {
			return fault
		}
		return nil
	}

	if fault := c.checkPriv(0); fault != nil {
		return fault
	}
	v, fault := c.readOperand(ea, inst)
	if fault != nil {
		return fault
	}
	selector := uint16(v)
	if selector&0xFFFC == 0 {
		if inst.Mnemonic == decode.LLDT {
			c.state.LDTR = SegCache{Selector: 0}
			return nil
		}
		return newFaultWithError(ExcGP, 0)
	}
	d, fault := c.resolveSelector(selector)
	if fault != nil {
		return fault
	}
	if inst.Mnemonic == decode.LLDT {
		c.state.LDTR = SegCache{Selector: selector, Descriptor: d}
	} else {
		c.state.TR = SegCache{Selector: selector, Descriptor: d}
	}
	return nil
}

// execLoadFarPointer implements LDS/LES/LFS/LGS/LSS: loads a GPR from the
// memory operand's offset word and the paired segment register from the
// selector word immediately following it.
func (c *CPU) execLoadFarPointer(inst *decode.DecodedInstruction) error {
	src := &inst.Operands[1]
	off := c.effectiveOffset(src, inst.AddressSize)
	offset, fault := c.ReadMem(src.Segment, off, inst.OperationSize)
	if fault != nil {
		return fault
	}
	selector, fault := c.ReadMem(src.Segment, off+uint32(inst.OperationSize), 2)
	if fault != nil {
		return fault
	}

	var segIndex int
	switch inst.Mnemonic {
	case decode.LDS:
		segIndex = SRegDS
	case decode.LES:
		segIndex = SRegES
	case decode.LFS:
		segIndex = SRegFS
	case decode.LGS:
		segIndex = SRegGS
	case decode.LSS:
		segIndex = SRegSS
	}
	if fault := c.loadSegReg(segIndex, uint16(selector)); fault != nil {
		return fault
	}
	if fault := c.writeOperand(&inst.Operands[0], inst, offset); fault != nil {
		return fault
	}
	return nil
}

// execMovCR/execMovDR implement MOV to/from CR0-CR4 and DR0-DR7: both
// require CPL 0, per spec.md §4.2.
func (c *CPU) execMovCR(inst *decode.DecodedInstruction) error {
	if fault := c.checkPriv(0); fault != nil {
		return fault
	}
	dst := &inst.Operands[0]
	src := &inst.Operands[1]
	if dst.Type == decode.EAControlReg {
		v, fault := c.readOperand(src, inst)
		if fault != nil {
			return fault
		}
		c.setControlReg(dst.RegIndex, uint32(v))
		return nil
	}
	v, fault := c.readOperand(src, inst)
	if fault != nil {
		return fault
	}
	if fault := c.writeOperand(dst, inst, v); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execMovDR(inst *decode.DecodedInstruction) error {
	if fault := c.checkPriv(0); fault != nil {
		return fault
	}
	dst := &inst.Operands[0]
	src := &inst.Operands[1]
	v, fault := c.readOperand(src, inst)
	if fault != nil {
		return fault
	}
	if fault := c.writeOperand(dst, inst, v); fault != nil {
		return fault
	}
	return nil
}

// execArpl implements ARPL: adjusts the RPL of the destination selector to
// be no lower a privilege (numerically no smaller) than the source
// register's RPL, setting ZF when an adjustment was made.
func (c *CPU) execArpl(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	src := &inst.Operands[1]
	dv, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	sv, fault := c.readOperand(src, inst)
	if fault != nil {
		return fault
	}
	dstRPL := uint16(dv) & 3
	srcRPL := uint16(sv) & 3
	var flags uint32
	if dstRPL < srcRPL {
		dv = uint64(uint16(dv)&^3 | srcRPL)
		flags = FlagZF
		if fault := c.writeOperand(dst, inst, dv); fault != nil {
			return fault
		}
	}
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagZF)|flags, c.model)
	return nil
}
