package cpux86

import "github.com/x86core/x86core/internal/decode"

// execString implements MOVS/CMPS/SCAS/LODS/STOS/INS/OUTS, including the
// REP/REPE/REPNE prefix loop, per spec.md §4.2. Source defaults to DS:SI
// (overridable), destination is always ES:DI (never overridable), per the
// architecture. The REP loop runs to completion in one dispatch call rather
// than one iteration per Step(), a simplification noted in SPEC_FULL.md §12.
func (c *CPU) execString(inst *decode.DecodedInstruction) error {
	size := inst.OperationSize
	if size == 0 {
		size = inst.OperandSize / 8
	}
	srcSeg := SRegDS
	if inst.SegOverride >= 0 {
		srcSeg = inst.SegOverride
	}
	wide := inst.AddressSize == 32
	rep := inst.Prefixes&(decode.PrefixRepZ|decode.PrefixRepNZ) != 0
	repe := inst.Prefixes&decode.PrefixRepZ != 0

	for {
		if rep && c.regCount(wide) == 0 {
			break
		}

		var fault *CPUFault
		var stopOnFlag bool
		switch inst.Mnemonic {
		case decode.MOVS:
			fault = c.stringMovs(srcSeg, size, wide)
		case decode.STOS:
			fault = c.stringStos(size, wide)
		case decode.LODS:
			fault = c.stringLods(srcSeg, size, wide)
		case decode.CMPS:
			fault, stopOnFlag = c.stringCmps(srcSeg, size, wide)
		case decode.SCAS:
			fault, stopOnFlag = c.stringScas(size, wide)
		case decode.INS:
			fault = c.stringIns(size, wide)
		case decode.OUTS:
			fault = c.stringOuts(srcSeg, size, wide)
		}
		if fault != nil {
			return fault
		}

		if !rep {
			return nil
		}
		c.decRegCount(wide)
		if stopOnFlag {
			if repe && !c.state.Flags().ZF() {
				return nil
			}
			if !repe && c.state.Flags().ZF() {
				return nil
			}
		}
		if c.regCount(wide) == 0 {
			return nil
		}
	}
	return nil
}

func (c *CPU) regCount(wide bool) uint32 {
	if wide {
		return c.state.GetReg32(RegCX)
	}
	return uint32(c.state.GetReg16(RegCX))
}

func (c *CPU) decRegCount(wide bool) {
	if wide {
		c.state.SetReg32(RegCX, c.state.GetReg32(RegCX)-1)
	} else {
		c.state.SetReg16(RegCX, c.state.GetReg16(RegCX)-1)
	}
}

func (c *CPU) stringStep(size int) uint32 {
	if c.state.Flags().DF() {
		return uint32(-int32(size))
	}
	return uint32(size)
}

func (c *CPU) siOffset(wide bool) uint32 {
	if wide {
		return c.state.GetReg32(RegSI)
	}
	return uint32(c.state.GetReg16(RegSI))
}

func (c *CPU) diOffset(wide bool) uint32 {
	if wide {
		return c.state.GetReg32(RegDI)
	}
	return uint32(c.state.GetReg16(RegDI))
}

func (c *CPU) advanceSI(delta uint32, wide bool) {
	if wide {
		c.state.SetReg32(RegSI, c.state.GetReg32(RegSI)+delta)
	} else {
		c.state.SetReg16(RegSI, uint16(c.state.GetReg16(RegSI)+uint16(delta)))
	}
}

func (c *CPU) advanceDI(delta uint32, wide bool) {
	if wide {
		c.state.SetReg32(RegDI, c.state.GetReg32(RegDI)+delta)
	} else {
		c.state.SetReg16(RegDI, uint16(c.state.GetReg16(RegDI)+uint16(delta)))
	}
}

func (c *CPU) stringMovs(srcSeg, size int, wide bool) *CPUFault {
	v, fault := c.ReadMem(srcSeg, c.siOffset(wide), size)
	if fault != nil {
		return fault
	}
	if fault := c.WriteMem(SRegES, c.diOffset(wide), v, size); fault != nil {
		return fault
	}
	step := c.stringStep(size)
	c.advanceSI(step, wide)
	c.advanceDI(step, wide)
	return nil
}

func (c *CPU) stringStos(size int, wide bool) *CPUFault {
	v, _ := c.readAccumulator(size)
	if fault := c.WriteMem(SRegES, c.diOffset(wide), v, size); fault != nil {
		return fault
	}
	c.advanceDI(c.stringStep(size), wide)
	return nil
}

func (c *CPU) stringLods(srcSeg, size int, wide bool) *CPUFault {
	v, fault := c.ReadMem(srcSeg, c.siOffset(wide), size)
	if fault != nil {
		return fault
	}
	switch size {
	case 1:
		c.state.SetReg8(RegAX, uint8(v))
	case 2:
		c.state.SetReg16(RegAX, uint16(v))
	default:
		c.state.SetReg32(RegAX, uint32(v))
	}
	c.advanceSI(c.stringStep(size), wide)
	return nil
}

func (c *CPU) stringCmps(srcSeg, size int, wide bool) (*CPUFault, bool) {
	a, fault := c.ReadMem(srcSeg, c.siOffset(wide), size)
	if fault != nil {
		return fault, false
	}
	b, fault := c.ReadMem(SRegES, c.diOffset(wide), size)
	if fault != nil {
		return fault, false
	}
	result := a - b
	flags := updateFlagsSub(a, b, result, size)
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags, c.model)
	step := c.stringStep(size)
	c.advanceSI(step, wide)
	c.advanceDI(step, wide)
	return nil, true
}

func (c *CPU) stringScas(size int, wide bool) (*CPUFault, bool) {
	acc, _ := c.readAccumulator(size)
	v, fault := c.ReadMem(SRegES, c.diOffset(wide), size)
	if fault != nil {
		return fault, false
	}
	result := acc - v
	flags := updateFlagsSub(acc, v, result, size)
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags, c.model)
	c.advanceDI(c.stringStep(size), wide)
	return nil, true
}

func (c *CPU) stringIns(size int, wide bool) *CPUFault {
	if fault := c.checkIOAccess(c.state.GetReg16(RegDX), size); fault != nil {
		return fault
	}
	v := c.readPort(c.state.GetReg16(RegDX), size)
	if fault := c.WriteMem(SRegES, c.diOffset(wide), v, size); fault != nil {
		return fault
	}
	c.advanceDI(c.stringStep(size), wide)
	return nil
}

func (c *CPU) stringOuts(srcSeg, size int, wide bool) *CPUFault {
	if fault := c.checkIOAccess(c.state.GetReg16(RegDX), size); fault != nil {
		return fault
	}
	v, fault := c.ReadMem(srcSeg, c.siOffset(wide), size)
	if fault != nil {
		return fault
	}
	c.writePort(c.state.GetReg16(RegDX), v, size)
	c.advanceSI(c.stringStep(size), wide)
	return nil
}
