package cpux86

import "github.com/x86core/x86core/internal/decode"

// dispatch executes one decoded instruction against CPU state, per
// spec.md §4.2. Grounded on _examples/IntuitionAmiga-IntuitionEngine's
// baseOps[256] dispatch idiom, generalized to switch on decode.Mnemonic
// instead of raw opcode byte since decode and execution are split per
// spec.md §9.
func (c *CPU) dispatch(inst *decode.DecodedInstruction) error {
	switch inst.Mnemonic {
	case decode.ADD, decode.OR, decode.ADC, decode.SBB, decode.AND, decode.SUB, decode.XOR, decode.CMP, decode.TEST:
		return c.execALU(inst)
	case decode.NOT, decode.NEG, decode.INC, decode.DEC:
		return c.execUnary(inst)
	case decode.MUL, decode.IMUL:
		return c.execMul(inst)
	case decode.DIV, decode.IDIV:
		return c.execDiv(inst)
	case decode.MOV:
		return c.execMov(inst)
	case decode.MOVZX, decode.MOVSX:
		return c.execMovExtend(inst)
	case decode.LEA:
		return c.execLea(inst)
	case decode.XCHG:
		return c.execXchg(inst)
	case decode.NOP, decode.WAIT, decode.ESCAPE, decode.LOCKPREFIX:
		return nil
	case decode.CBW:
		return c.execCbw(inst)
	case decode.CWD:
		return c.execCwd(inst)

	case decode.PUSH:
		return c.execPush(inst)
	case decode.POP:
		return c.execPop(inst)
	case decode.PUSHA:
		return c.execPusha(inst)
	case decode.POPA:
		return c.execPopa(inst)
	case decode.PUSHF:
		return c.execPushf(inst)
	case decode.POPF:
		return c.execPopf(inst)
	case decode.LAHF:
		ah := uint8(c.state.EFLAGS) | 0x02
		c.state.SetReg8(4, ah) // AH index = 4 per GetReg8's high-byte mapping
		return nil
	case decode.SAHF:
		ah := c.state.GetReg8(4)
		c.state.EFLAGS = SetFlags(c.state.EFLAGS&0xFFFFFF00|uint32(ah), c.model)
		return nil

	case decode.JMP:
		return c.execJmpNear(inst)
	case decode.JMPF:
		return c.execJmpFar(inst)
	case decode.CALL:
		return c.execCallNear(inst)
	case decode.CALLF:
		return c.execCallFar(inst)
	case decode.RET:
		return c.execRetNear(inst)
	case decode.RETF:
		if fault := c.doFarReturn(inst.OperandSize == 16, c.popImmBytes(inst)); fault != nil {
			return fault
		}
		return nil
	case decode.IRET:
		if fault := c.doInterruptReturn(inst.OperandSize == 16); fault != nil {
			return fault
		}
		return nil
	case decode.Jcc:
		return c.execJcc(inst)
	case decode.LOOP, decode.LOOPE, decode.LOOPNE, decode.JCXZ:
		return c.execLoop(inst)
	case decode.INT:
		if fault := c.doInterrupt(int(inst.Operands[0].Imm), OriginSoftware, false, 0); fault != nil {
			return fault
		}
		return nil
	case decode.INT3:
		if fault := c.doInterrupt(ExcBP, OriginSoftware, false, 0); fault != nil {
			return fault
		}
		return nil
	case decode.INTO:
		if c.state.Flags().OF() {
			if fault := c.doInterrupt(ExcOF, OriginSoftware, false, 0); fault != nil {
				return fault
			}
		}
		return nil
	case decode.HLT:
		if fault := c.checkPriv(0); fault != nil {
			return fault
		}
		c.state.Halted = true
		return nil

	case decode.CLI:
		if fault := c.checkPrivVM86(); fault != nil {
			return fault
		}
		c.state.EFLAGS &^= FlagIF
		return nil
	case decode.STI:
		if fault := c.checkPrivVM86(); fault != nil {
			return fault
		}
		c.state.EFLAGS |= FlagIF
		c.stiDelay = true
		return nil
	case decode.CLD:
		c.state.EFLAGS &^= FlagDF
		return nil
	case decode.STD:
		c.state.EFLAGS |= FlagDF
		return nil
	case decode.CLC:
		c.state.EFLAGS &^= FlagCF
		return nil
	case decode.STC:
		c.state.EFLAGS |= FlagCF
		return nil
	case decode.CMC:
		c.state.EFLAGS ^= FlagCF
		return nil
	case decode.CLTS:
		if fault := c.checkPriv(0); fault != nil {
			return fault
		}
		c.state.CR[0] &^= 1 << 3
		return nil

	case decode.SHL, decode.SHR, decode.SAR, decode.ROL, decode.ROR, decode.RCL, decode.RCR:
		return c.execShiftRotate(inst)
	case decode.SHLD, decode.SHRD:
		return c.execDoubleShift(inst)
	case decode.SETcc:
		return c.execSetcc(inst)
	case decode.BT, decode.BTS, decode.BTR, decode.BTC:
		return c.execBitTest(inst)
	case decode.BSF, decode.BSR:
		return c.execBitScan(inst)

	case decode.MOVS, decode.CMPS, decode.SCAS, decode.LODS, decode.STOS, decode.INS, decode.OUTS:
		return c.execString(inst)

	case decode.IN:
		return c.execIn(inst)
	case decode.OUT:
		return c.execOut(inst)

	case decode.LGDT, decode.LIDT, decode.SGDT, decode.SIDT:
		return c.execTableReg(inst)
	case decode.LLDT, decode.LTR, decode.SLDT, decode.STR:
		return c.execSystemSelectorReg(inst)
	case decode.LDS, decode.LES, decode.LFS, decode.LGS, decode.LSS:
		return c.execLoadFarPointer(inst)
	case decode.MOVCR:
		return c.execMovCR(inst)
	case decode.MOVDR:
		return c.execMovDR(inst)
	case decode.ARPL:
		return c.execArpl(inst)

	default:
		return &HostFault{Reason: "unimplemented mnemonic " + inst.Mnemonic.String()}
	}
}

func (c *CPU) popImmBytes(inst *decode.DecodedInstruction) uint32 {
	if inst.NumOperands > 0 && inst.Operands[0].Type == decode.EAImmediate {
		return uint32(inst.Operands[0].Imm)
	}
	return 0
}
