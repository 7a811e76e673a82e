package cpux86

import "github.com/x86core/x86core/internal/decode"

// execALU implements the eight two-operand ALU mnemonics (ADD..TEST) in one
// handler, per original_source/cpu.cpp's ArithmeticOp dispatch, reading both
// operands, applying updateFlagsAdd/Sub/Logical, and writing back unless the
// mnemonic is a compare-only form (CMP/TEST).
func (c *CPU) execALU(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	src := &inst.Operands[1]
	l, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	r, fault := c.readOperand(src, inst)
	if fault != nil {
		return fault
	}

	size := inst.OperationSize
	var result uint64
	var flags uint32
	writeBack := true

	switch inst.Mnemonic {
	case decode.ADD:
		result = l + r
		flags = updateFlagsAdd(l, r, result, size)
	case decode.ADC:
		carry := uint64(0)
		if c.state.Flags().CF() {
			carry = 1
		}
		result = l + r + carry
		flags = updateFlagsAdd(l, r+carry, result, size)
	case decode.OR:
		result = l | r
		flags = updateFlagsLogical(result, size)
	case decode.SBB:
		carry := uint64(0)
		if c.state.Flags().CF() {
			carry = 1
		}
		result = l - r - carry
		flags = updateFlagsSub(l, r+carry, result, size)
	case decode.AND:
		result = l & r
		flags = updateFlagsLogical(result, size)
	case decode.SUB:
		result = l - r
		flags = updateFlagsSub(l, r, result, size)
	case decode.XOR:
		result = l ^ r
		flags = updateFlagsLogical(result, size)
	case decode.CMP:
		result = l - r
		flags = updateFlagsSub(l, r, result, size)
		writeBack = false
	case decode.TEST:
		result = l & r
		flags = updateFlagsLogical(result, size)
		writeBack = false
	}

	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags, c.model)

	if writeBack {
		if fault := c.writeOperand(dst, inst, result); fault != nil {
			return fault
		}
	}
	return nil
}

// execUnary implements NOT/NEG/INC/DEC, the single-operand read-modify-write
// family; NOT touches no flags, NEG is SUB(0,x), INC/DEC preserve CF per the
// architecture (they use updateFlagsAdd/Sub but keep the prior CF bit).
func (c *CPU) execUnary(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	v, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	size := inst.OperationSize
	oldCF := c.state.EFLAGS & FlagCF

	switch inst.Mnemonic {
	case decode.NOT:
		_, _, mask := aluWidthInfo(size)
		if fault := c.writeOperand(dst, inst, (^v)&mask); fault != nil {
			return fault
		}
		return nil
	case decode.NEG:
		result := uint64(0) - v
		flags := updateFlagsSub(0, v, result, size)
		c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags, c.model)
		if fault := c.writeOperand(dst, inst, result); fault != nil {
			return fault
		}
		return nil
	case decode.INC:
		result := v + 1
		flags := updateFlagsAdd(v, 1, result, size) &^ FlagCF
		c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags|oldCF, c.model)
		if fault := c.writeOperand(dst, inst, result); fault != nil {
			return fault
		}
		return nil
	case decode.DEC:
		result := v - 1
		flags := updateFlagsSub(v, 1, result, size) &^ FlagCF
		c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagPF|FlagAF|FlagZF|FlagSF|FlagOF)|flags|oldCF, c.model)
		if fault := c.writeOperand(dst, inst, result); fault != nil {
			return fault
		}
		return nil
	}
	return &HostFault{Reason: "unreachable unary mnemonic"}
}

// execMul implements MUL/IMUL in all three encodings (1-operand r/m,
// 2-operand imul r,r/m, 3-operand imul r,r/m,imm), per spec.md §8's scenario
// 2 ("IMUL r16, r/m16 overflowing into OF/CF").
func (c *CPU) execMul(inst *decode.DecodedInstruction) error {
	size := inst.OperationSize
	bits, _, mask := aluWidthInfo(size)

	if inst.NumOperands == 1 {
		src, fault := c.readOperand(&inst.Operands[0], inst)
		if fault != nil {
			return fault
		}
		acc, _ := c.readAccumulator(size)
		if inst.Mnemonic == decode.MUL {
			result := acc * src
			c.writeAccumulatorWide(result, size)
			hi := result >> bits
			of := hi != 0
			c.setMulFlags(of)
		} else {
			sa := signExtend(acc, bits)
			ss := signExtend(src, bits)
			result := uint64(sa * ss)
			c.writeAccumulatorWide(result, size)
			trunc := int64(result & mask)
			if bits < 64 {
				signBit := int64(1) << (bits - 1)
				if trunc&signBit != 0 {
					trunc |= ^int64(mask)
				}
			}
			of := int64(sa*ss) != trunc
			c.setMulFlags(of)
		}
		return nil
	}

	var a, b uint64
	var fault *CPUFault
	if inst.NumOperands == 2 {
		a, fault = c.readOperand(&inst.Operands[0], inst)
		if fault != nil {
			return fault
		}
		b, fault = c.readOperand(&inst.Operands[1], inst)
	} else {
		a, fault = c.readOperand(&inst.Operands[1], inst)
		if fault != nil {
			return fault
		}
		b, fault = c.readOperand(&inst.Operands[2], inst)
	}
	if fault != nil {
		return fault
	}
	sa := signExtend(a, bits)
	sb := signExtend(b, bits)
	full := sa * sb
	result := uint64(full) & mask
	of := full != int64(signExtend(result, bits))
	c.setMulFlags(of)
	if fault := c.writeOperand(&inst.Operands[0], inst, result); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) setMulFlags(overflow bool) {
	var f uint32
	if overflow {
		f = FlagCF | FlagOF
	}
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagOF)|f, c.model)
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func (c *CPU) readAccumulator(size int) (uint64, *CPUFault) {
	switch size {
	case 1:
		return uint64(c.state.GetReg8(RegAX)), nil
	case 2:
		return uint64(c.state.GetReg16(RegAX)), nil
	default:
		return uint64(c.state.GetReg32(RegAX)), nil
	}
}

// writeAccumulatorWide stores a double-width MUL/DIV result across
// AX:DX / EAX:EDX (or AL:AH for byte forms), per the architecture.
func (c *CPU) writeAccumulatorWide(result uint64, size int) {
	switch size {
	case 1:
		c.state.SetReg16(RegAX, uint16(result))
	case 2:
		c.state.SetReg16(RegAX, uint16(result))
		c.state.SetReg16(RegDX, uint16(result>>16))
	default:
		c.state.SetReg32(RegAX, uint32(result))
		c.state.SetReg32(RegDX, uint32(result>>32))
	}
}

// execDiv implements DIV/IDIV, raising #DE on divide-by-zero or quotient
// overflow, per spec.md §8's scenario 1 ("DIV r/m8 by zero raises #DE with
// IP pointing at the DIV itself").
func (c *CPU) execDiv(inst *decode.DecodedInstruction) error {
	size := inst.OperationSize
	bits, _, mask := aluWidthInfo(size)
	src, fault := c.readOperand(&inst.Operands[0], inst)
	if fault != nil {
		return fault
	}

	var dividend uint64
	switch size {
	case 1:
		dividend = uint64(c.state.GetReg16(RegAX))
	case 2:
		dividend = uint64(c.state.GetReg16(RegAX)) | uint64(c.state.GetReg16(RegDX))<<16
	default:
		dividend = uint64(c.state.GetReg32(RegAX)) | uint64(c.state.GetReg32(RegDX))<<32
	}

	if src == 0 {
		return newFault(ExcDE)
	}

	if inst.Mnemonic == decode.DIV {
		q := dividend / src
		r := dividend % src
		if q > mask {
			return newFault(ExcDE)
		}
		c.storeDivResult(q, r, size)
		return nil
	}

	sDividend := int64(dividend)
	if bits < 64 {
		signBit := int64(1) << (2*bits - 1)
		if int64(dividend)&signBit != 0 {
			sDividend = int64(dividend) | ^int64((uint64(1)<<(2*bits))-1)
		}
	}
	sSrc := signExtend(src, bits)
	q := sDividend / sSrc
	r := sDividend % sSrc
	maxPos := int64(mask >> 1)
	minNeg := -maxPos - 1
	if q > maxPos || q < minNeg {
		return newFault(ExcDE)
	}
	c.storeDivResult(uint64(q)&mask, uint64(r)&mask, size)
	return nil
}

func (c *CPU) storeDivResult(quotient, remainder uint64, size int) {
	switch size {
	case 1:
		c.state.SetReg8(RegAX, uint8(quotient))
		c.state.SetReg8(4, uint8(remainder)) // AH
	case 2:
		c.state.SetReg16(RegAX, uint16(quotient))
		c.state.SetReg16(RegDX, uint16(remainder))
	default:
		c.state.SetReg32(RegAX, uint32(quotient))
		c.state.SetReg32(RegDX, uint32(remainder))
	}
}
