package cpux86

import "github.com/x86core/x86core/internal/decode"

func (c *CPU) execMov(inst *decode.DecodedInstruction) error {
	v, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	if fault := c.writeOperand(&inst.Operands[0], inst, v); fault != nil {
		return fault
	}
	if dst := &inst.Operands[0]; dst.Type == decode.EASegReg && dst.RegIndex == SRegSS {
		c.stiDelay = true
	}
	return nil
}

// execMovExtend implements MOVZX/MOVSX: the source is read at its own
// (narrower) OperationSize while the destination write uses the decoder's
// OperandSize, so this bypasses readOperand/writeOperand's shared
// OperationSize field and handles both widths directly.
func (c *CPU) execMovExtend(inst *decode.DecodedInstruction) error {
	src := &inst.Operands[1]
	var raw uint64
	var fault *CPUFault
	srcSize := 1
	if src.Type == decode.EARegister16 {
		srcSize = 2
	}
	if src.Type == decode.EAMemory {
		srcSize = inst.OperationSize
	}

	switch src.Type {
	case decode.EARegister8:
		raw = uint64(c.state.GetReg8(src.RegIndex))
	case decode.EARegister16:
		raw = uint64(c.state.GetReg16(src.RegIndex))
	case decode.EAMemory:
		off := c.effectiveOffset(src, inst.AddressSize)
		raw, fault = c.ReadMem(src.Segment, off, srcSize)
		if fault != nil {
			return fault
		}
	}

	var extended uint64
	if inst.Mnemonic == decode.MOVZX {
		extended = raw
	} else {
		bits := uint(srcSize * 8)
		extended = uint64(signExtend(raw, bits))
	}

	dst := &inst.Operands[0]
	if dst.Type == decode.EARegister32 {
		c.state.SetReg32(dst.RegIndex, uint32(extended))
	} else {
		c.state.SetReg16(dst.RegIndex, uint16(extended))
	}
	return nil
}

// execLea computes the effective address itself (no memory access) and
// stores it in the destination register.
func (c *CPU) execLea(inst *decode.DecodedInstruction) error {
	src := &inst.Operands[1]
	off := c.effectiveOffset(src, inst.AddressSize)
	dst := &inst.Operands[0]
	if dst.Type == decode.EARegister32 {
		c.state.SetReg32(dst.RegIndex, off)
	} else {
		c.state.SetReg16(dst.RegIndex, uint16(off))
	}
	return nil
}

func (c *CPU) execXchg(inst *decode.DecodedInstruction) error {
	a := &inst.Operands[0]
	b := &inst.Operands[1]
	va, fault := c.readOperand(a, inst)
	if fault != nil {
		return fault
	}
	vb, fault := c.readOperand(b, inst)
	if fault != nil {
		return fault
	}
	if fault := c.writeOperand(a, inst, vb); fault != nil {
		return fault
	}
	if fault := c.writeOperand(b, inst, va); fault != nil {
		return fault
	}
	return nil
}

// execCbw implements CBW/CWDE: sign-extend AL into AX, or AX into EAX,
// selected by OperandSize.
func (c *CPU) execCbw(inst *decode.DecodedInstruction) error {
	if inst.OperandSize == 16 {
		al := c.state.GetReg8(RegAX)
		c.state.SetReg16(RegAX, uint16(int8(al)))
	} else {
		ax := c.state.GetReg16(RegAX)
		c.state.SetReg32(RegAX, uint32(int16(ax)))
	}
	return nil
}

// execCwd implements CWD/CDQ: sign-extend AX into DX:AX, or EAX into
// EDX:EAX.
func (c *CPU) execCwd(inst *decode.DecodedInstruction) error {
	if inst.OperandSize == 16 {
		ax := int16(c.state.GetReg16(RegAX))
		if ax < 0 {
			c.state.SetReg16(RegDX, 0xFFFF)
		} else {
			c.state.SetReg16(RegDX, 0)
		}
	} else {
		eax := int32(c.state.GetReg32(RegAX))
		if eax < 0 {
			c.state.SetReg32(RegDX, 0xFFFFFFFF)
		} else {
			c.state.SetReg32(RegDX, 0)
		}
	}
	return nil
}
