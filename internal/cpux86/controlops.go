package cpux86

import "github.com/x86core/x86core/internal/decode"

func (c *CPU) stackSize(inst *decode.DecodedInstruction) int {
	if inst.OperandSize == 16 {
		return 2
	}
	return 4
}

func (c *CPU) execPush(inst *decode.DecodedInstruction) error {
	v, fault := c.readOperand(&inst.Operands[0], inst)
	if fault != nil {
		return fault
	}
	if fault := c.Push(v, c.stackSize(inst)); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execPop(inst *decode.DecodedInstruction) error {
	v, fault := c.Pop(c.stackSize(inst))
	if fault != nil {
		return fault
	}
	if fault := c.writeOperand(&inst.Operands[0], inst, v); fault != nil {
		return fault
	}
	return nil
}

// execPusha implements PUSHA/PUSHAD: pushes all eight GPRs in the
// architectural order (AX,CX,DX,BX,original-SP,BP,SI,DI).
func (c *CPU) execPusha(inst *decode.DecodedInstruction) error {
	size := c.stackSize(inst)
	sp := c.state.GetReg32(RegSP)
	order := []int{RegAX, RegCX, RegDX, RegBX, -1, RegBP, RegSI, RegDI}
	for _, reg := range order {
		var v uint64
		if reg == -1 {
			v = uint64(sp)
		} else if size == 2 {
			v = uint64(c.state.GetReg16(reg))
		} else {
			v = uint64(c.state.GetReg32(reg))
		}
		if fault := c.Push(v, size); fault != nil {
			return fault
		}
	}
	return nil
}

// execPopa implements POPA/POPAD: pops in reverse order, discarding the
// stacked SP value (popped into the void, per the architecture).
func (c *CPU) execPopa(inst *decode.DecodedInstruction) error {
	size := c.stackSize(inst)
	order := []int{RegDI, RegSI, RegBP, -1, RegBX, RegDX, RegCX, RegAX}
	for _, reg := range order {
		v, fault := c.Pop(size)
		if fault != nil {
			return fault
		}
		if reg == -1 {
			continue
		}
		if size == 2 {
			c.state.SetReg16(reg, uint16(v))
		} else {
			c.state.SetReg32(reg, uint32(v))
		}
	}
	return nil
}

func (c *CPU) execPushf(inst *decode.DecodedInstruction) error {
	if fault := c.Push(uint64(c.state.EFLAGS), c.stackSize(inst)); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execPopf(inst *decode.DecodedInstruction) error {
	v, fault := c.Pop(c.stackSize(inst))
	if fault != nil {
		return fault
	}
	c.state.EFLAGS = SetFlags(FilterFlags(uint32(v), c.state.EFLAGS, c.state.CPL, inst.OperandSize == 16), c.model)
	return nil
}

// execJmpNear implements near JMP (relative or indirect r/m), per
// spec.md §8's invariant that EIP stays within ipMask() after every step.
func (c *CPU) execJmpNear(inst *decode.DecodedInstruction) error {
	target, fault := c.resolveControlTarget(inst)
	if fault != nil {
		return fault
	}
	if fault := c.doNearControlTransfer(target); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) resolveControlTarget(inst *decode.DecodedInstruction) (uint32, *CPUFault) {
	ea := &inst.Operands[0]
	if ea.Type == decode.EARelative {
		return uint32(int64(c.state.EIP) + ea.RelTarget), nil
	}
	v, fault := c.readOperand(ea, inst)
	return uint32(v), fault
}

func (c *CPU) execJmpFar(inst *decode.DecodedInstruction) error {
	ea := &inst.Operands[0]
	var selector16 uint16
	var offset32 uint32
	if ea.Type == decode.EAFarPointer {
		selector16, offset32 = ea.FarSelector, ea.FarOffset
	} else {
		// Indirect ModRM memory form: read selector:offset from memory.
		off := c.effectiveOffset(ea, inst.AddressSize)
		offset, fault := c.ReadMem(ea.Segment, off, inst.OperationSize)
		if fault != nil {
			return fault
		}
		selector, fault := c.ReadMem(ea.Segment, off+uint32(inst.OperationSize), 2)
		if fault != nil {
			return fault
		}
		selector16, offset32 = uint16(selector), uint32(offset)
	}
	if fault := c.doFarControlTransfer(selector16, offset32, false); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execCallNear(inst *decode.DecodedInstruction) error {
	target, fault := c.resolveControlTarget(inst)
	if fault != nil {
		return fault
	}
	retAddr := uint64(c.state.EIP)
	if fault := c.Push(retAddr, c.stackSize(inst)); fault != nil {
		return fault
	}
	if fault := c.doNearControlTransfer(target); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execCallFar(inst *decode.DecodedInstruction) error {
	ea := &inst.Operands[0]
	oldCS := c.state.Seg[SRegCS].Selector
	oldEIP := uint32(c.state.EIP)
	size := c.stackSize(inst)

	var selector uint16
	var offset uint32
	if ea.Type == decode.EAFarPointer {
		selector, offset = ea.FarSelector, ea.FarOffset
	} else {
		off := c.effectiveOffset(ea, inst.AddressSize)
		offVal, fault := c.ReadMem(ea.Segment, off, inst.OperationSize)
		if fault != nil {
			return fault
		}
		selVal, fault := c.ReadMem(ea.Segment, off+uint32(inst.OperationSize), 2)
		if fault != nil {
			return fault
		}
		selector, offset = uint16(selVal), uint32(offVal)
	}

	if fault := c.Push(uint64(oldCS), size); fault != nil {
		return fault
	}
	if fault := c.Push(uint64(oldEIP), size); fault != nil {
		c.updateSP(int32(size), size) // undo the CS push on failure
		return fault
	}
	if fault := c.doFarControlTransfer(selector, offset, true); fault != nil {
		c.updateSP(int32(2*size), size)
		return fault
	}
	return nil
}

func (c *CPU) execRetNear(inst *decode.DecodedInstruction) error {
	size := c.stackSize(inst)
	v, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	c.updateSP(int32(c.popImmBytes(inst)), size)
	if fault := c.doNearControlTransfer(uint32(v)); fault != nil {
		return fault
	}
	return nil
}

// jccTaken evaluates the sixteen Jcc condition codes against EFLAGS, per
// original_source/cpu.cpp's checkCondition table.
func (c *CPU) jccTaken(cond uint8) bool {
	f := c.state.Flags()
	switch cond {
	case 0x0:
		return f.OF()
	case 0x1:
		return !f.OF()
	case 0x2:
		return f.CF()
	case 0x3:
		return !f.CF()
	case 0x4:
		return f.ZF()
	case 0x5:
		return !f.ZF()
	case 0x6:
		return f.CF() || f.ZF()
	case 0x7:
		return !f.CF() && !f.ZF()
	case 0x8:
		return f.SF()
	case 0x9:
		return !f.SF()
	case 0xA:
		return f.PF()
	case 0xB:
		return !f.PF()
	case 0xC:
		return f.SF() != f.OF()
	case 0xD:
		return f.SF() == f.OF()
	case 0xE:
		return f.ZF() || f.SF() != f.OF()
	case 0xF:
		return !f.ZF() && f.SF() == f.OF()
	}
	return false
}

func (c *CPU) execJcc(inst *decode.DecodedInstruction) error {
	if !c.jccTaken(inst.Cond) {
		return nil
	}
	target, fault := c.resolveControlTarget(inst)
	if fault != nil {
		return fault
	}
	if fault := c.doNearControlTransfer(target); fault != nil {
		return fault
	}
	return nil
}

// execLoop implements LOOP/LOOPE/LOOPNE/JCXZ, decrementing (E)CX per
// AddressSize and branching per the mnemonic's extra ZF condition.
func (c *CPU) execLoop(inst *decode.DecodedInstruction) error {
	wide := inst.AddressSize == 32
	var cx uint32
	if wide {
		cx = c.state.GetReg32(RegCX)
	} else {
		cx = uint32(c.state.GetReg16(RegCX))
	}

	taken := false
	switch inst.Mnemonic {
	case decode.JCXZ:
		taken = cx == 0
	default:
		cx--
		if wide {
			c.state.SetReg32(RegCX, cx)
		} else {
			c.state.SetReg16(RegCX, uint16(cx))
		}
		switch inst.Mnemonic {
		case decode.LOOP:
			taken = cx != 0
		case decode.LOOPE:
			taken = cx != 0 && c.state.Flags().ZF()
		case decode.LOOPNE:
			taken = cx != 0 && !c.state.Flags().ZF()
		}
	}

	if !taken {
		return nil
	}
	target, fault := c.resolveControlTarget(inst)
	if fault != nil {
		return fault
	}
	if fault := c.doNearControlTransfer(target); fault != nil {
		return fault
	}
	return nil
}
