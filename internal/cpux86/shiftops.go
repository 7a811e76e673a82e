package cpux86

import "github.com/x86core/x86core/internal/decode"

// countMask returns the shift-count mask: 0x1F pre-386, but always 0x1F
// for 16/32-bit operands on 386+ too (0x3F only applies to 64-bit forms,
// out of scope per spec.md §1's Non-goals on long mode).
func countMask() uint64 { return 0x1F }

func (c *CPU) execShiftRotate(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	v, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	count, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	count &= countMask()
	if count == 0 {
		return nil
	}

	size := inst.OperationSize
	bits, msb, mask := aluWidthInfo(size)
	v &= mask
	var result uint64
	var cf, of bool

	switch inst.Mnemonic {
	case decode.SHL:
		result = (v << count) & mask
		if count <= uint64(bits) {
			cf = (v<<(count-1))&msb != 0
		}
		of = count == 1 && (result&msb != 0) != cf
	case decode.SHR:
		result = v >> count
		cf = count <= uint64(bits) && (v>>(count-1))&1 != 0
		of = count == 1 && v&msb != 0
	case decode.SAR:
		sv := signExtend(v, bits)
		result = uint64(sv>>count) & mask
		cf = count <= uint64(bits) && (v>>(count-1))&1 != 0
		of = false
	case decode.ROL:
		n := count % uint64(bits)
		result = ((v << n) | (v >> (uint64(bits) - n))) & mask
		if n == 0 {
			result = v
		}
		cf = result&1 != 0
		of = count == 1 && (result&msb != 0) != cf
	case decode.ROR:
		n := count % uint64(bits)
		result = ((v >> n) | (v << (uint64(bits) - n))) & mask
		if n == 0 {
			result = v
		}
		cf = result&msb != 0
		of = count == 1 && (result&msb != 0) != ((result<<1)&msb != 0)
	case decode.RCL:
		result, cf, of = c.rotateCarryLeft(v, count, bits, msb, mask)
	case decode.RCR:
		result, cf, of = c.rotateCarryRight(v, count, bits, msb, mask)
	}

	var flags uint32
	if cf {
		flags |= FlagCF
	}
	if of {
		flags |= FlagOF
	}
	flags |= updateFlagsLogical(result, size) &^ (FlagCF | FlagOF)
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagZF|FlagSF|FlagOF)|flags, c.model)

	if fault := c.writeOperand(dst, inst, result); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) rotateCarryLeft(v, count uint64, bits uint, msb, mask uint64) (result uint64, cf, of bool) {
	carry := uint64(0)
	if c.state.Flags().CF() {
		carry = 1
	}
	n := count % (uint64(bits) + 1)
	for i := uint64(0); i < n; i++ {
		newCarry := (v & msb) != 0
		v = (v<<1)&mask | carry
		if newCarry {
			carry = 1
		} else {
			carry = 0
		}
	}
	return v, carry != 0, n == 1 && (v&msb != 0) != (carry != 0)
}

func (c *CPU) rotateCarryRight(v, count uint64, bits uint, msb, mask uint64) (result uint64, cf, of bool) {
	carry := uint64(0)
	if c.state.Flags().CF() {
		carry = 1
	}
	n := count % (uint64(bits) + 1)
	for i := uint64(0); i < n; i++ {
		newCarry := v & 1
		v = (v>>1)&(mask>>1) | (carry << (bits - 1))
		carry = newCarry
	}
	return v, carry != 0, n == 1 && (v&msb != 0) != ((v&(msb>>1)) != 0)
}

// execDoubleShift implements SHLD/SHRD: shifts dst by count bits, filling
// the vacated bits from src.
func (c *CPU) execDoubleShift(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	v, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	src, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	count, fault := c.readOperand(&inst.Operands[2], inst)
	if fault != nil {
		return fault
	}
	count &= countMask()
	if count == 0 {
		return nil
	}

	size := inst.OperationSize
	bits, msb, mask := aluWidthInfo(size)
	var result uint64
	var cf bool

	if inst.Mnemonic == decode.SHLD {
		combined := (v << uint(bits)) | (src & mask)
		cf = (combined>>(uint64(bits)*2-count))&1 != 0
		result = (combined >> (uint64(bits) - count)) & mask
	} else {
		combined := (src << uint(bits)) | (v & mask)
		cf = (combined>>(count-1))&1 != 0
		result = (combined >> count) & mask
	}

	var flags uint32
	if cf {
		flags |= FlagCF
	}
	flags |= updateFlagsLogical(result, size) &^ FlagCF
	_ = msb
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF|FlagPF|FlagZF|FlagSF)|flags, c.model)
	if fault := c.writeOperand(dst, inst, result); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execSetcc(inst *decode.DecodedInstruction) error {
	var v uint64
	if c.jccTaken(inst.Cond) {
		v = 1
	}
	if fault := c.writeOperand(&inst.Operands[0], inst, v); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execBitTest(inst *decode.DecodedInstruction) error {
	dst := &inst.Operands[0]
	v, fault := c.readOperand(dst, inst)
	if fault != nil {
		return fault
	}
	bitIdx, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	bits := uint64(inst.OperationSize * 8)
	bit := bitIdx % bits
	cf := (v>>bit)&1 != 0

	var flags uint32
	if cf {
		flags = FlagCF
	}
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagCF)|flags, c.model)

	var newVal uint64
	write := true
	switch inst.Mnemonic {
	case decode.BT:
		write = false
	case decode.BTS:
		newVal = v | (1 << bit)
	case decode.BTR:
		newVal = v &^ (1 << bit)
	case decode.BTC:
		newVal = v ^ (1 << bit)
	}
	if !write {
		return nil
	}
	if fault := c.writeOperand(dst, inst, newVal); fault != nil {
		return fault
	}
	return nil
}

func (c *CPU) execBitScan(inst *decode.DecodedInstruction) error {
	v, fault := c.readOperand(&inst.Operands[1], inst)
	if fault != nil {
		return fault
	}
	_, _, mask := aluWidthInfo(inst.OperationSize)
	v &= mask
	if v == 0 {
		c.state.EFLAGS = SetFlags(c.state.EFLAGS|FlagZF, c.model)
		return nil
	}
	c.state.EFLAGS = SetFlags(c.state.EFLAGS&^uint32(FlagZF), c.model)

	bits := inst.OperationSize * 8
	var idx int
	if inst.Mnemonic == decode.BSF {
		for idx = 0; idx < bits; idx++ {
			if v&(1<<uint(idx)) != 0 {
				break
			}
		}
	} else {
		for idx = bits - 1; idx >= 0; idx-- {
			if v&(1<<uint(idx)) != 0 {
				break
			}
		}
	}
	if fault := c.writeOperand(&inst.Operands[0], inst, uint64(idx)); fault != nil {
		return fault
	}
	return nil
}
