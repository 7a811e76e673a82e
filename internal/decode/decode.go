package decode

import "fmt"

// InvalidOpcode is returned when the byte stream does not form a known
// instruction, or would require more than MaxInstructionBytes.
type InvalidOpcode struct {
	Opcode []byte
}

func (e *InvalidOpcode) Error() string { return fmt.Sprintf("decode: invalid opcode %x", e.Opcode) }

// MaxInstructionBytes bounds total instruction length, per spec.md §4.1 and
// original_source/decode.h's MaxInstructionBytes=15.
const MaxInstructionBytes = 15

// FetchFunc pulls the next raw instruction byte. The decoder calls it
// exactly as many times as the encoded instruction consumes.
type FetchFunc func() (byte, error)

// rm16Base and rm16Index give the 16-bit addressing-mode base/index register pairing
// for mod-rm.rm when mod != 11, per the classic 8086 table (also listed in
// original_source/cpu_registers.cpp's Rm16Text).
var rm16Base = [8]int{3, 3, 5, 5, 6, 7, 5, 3} // BX,BX,BP,BP,SI,DI,BP,BX (register indices into eBX..)
var rm16Index = [8]int{6, 7, 6, 7, -1, -1, -1, -1}

// decoder holds per-call mutable state; a fresh one is created for every
// Decode invocation, keeping the package itself stateless across calls.
type decoder struct {
	fetch  FetchFunc
	model  CPUModel
	length int
	raw    [MaxInstructionBytes]byte

	defaultOperandSize int
	defaultAddressSize int
}

func (d *decoder) next() (byte, error) {
	if d.length >= MaxInstructionBytes {
		return 0, &InvalidOpcode{Opcode: d.raw[:d.length]}
	}
	b, err := d.fetch()
	if err != nil {
		return 0, err
	}
	d.raw[d.length] = b
	d.length++
	return b, nil
}

// Decode consumes one instruction from fetch using the given CPU model and
// default (mode-derived) operand/address size, and returns the decoded
// record. It never evaluates memory effective addresses, per spec.md §4.1.
func Decode(fetch FetchFunc, model CPUModel, defaultOperandSize, defaultAddressSize int) (DecodedInstruction, error) {
	d := &decoder{fetch: fetch, model: model, defaultOperandSize: defaultOperandSize, defaultAddressSize: defaultAddressSize}
	inst := DecodedInstruction{SegOverride: -1, OperandSize: defaultOperandSize, AddressSize: defaultAddressSize}

	// Step 1: prefixes.
	for {
		b, err := d.next()
		if err != nil {
			return inst, err
		}
		switch b {
		case 0x26:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixES
			inst.SegOverride = 0
			continue
		case 0x2E:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixCS
			inst.SegOverride = 1
			continue
		case 0x36:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixSS
			inst.SegOverride = 2
			continue
		case 0x3E:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixDS
			inst.SegOverride = 3
			continue
		case 0x64:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixFS
			inst.SegOverride = 4
			continue
		case 0x65:
			inst.Prefixes = inst.Prefixes&^segmentPrefixMask | PrefixGS
			inst.SegOverride = 5
			continue
		case 0x66:
			if model >= Model80386SX {
				inst.Prefixes |= PrefixOperandSize
				if inst.OperandSize == 16 {
					inst.OperandSize = 32
				} else {
					inst.OperandSize = 16
				}
			}
			continue
		case 0x67:
			if model >= Model80386SX {
				inst.Prefixes |= PrefixAddressSize
				if inst.AddressSize == 16 {
					inst.AddressSize = 32
				} else {
					inst.AddressSize = 16
				}
			}
			continue
		case 0xF0:
			inst.Prefixes |= PrefixLock
			continue
		case 0xF2:
			inst.Prefixes = inst.Prefixes&^(PrefixRepZ|PrefixRepNZ) | PrefixRepNZ
			continue
		case 0xF3:
			inst.Prefixes = inst.Prefixes&^(PrefixRepZ|PrefixRepNZ) | PrefixRepZ
			continue
		}
		// Not a prefix: rewind one logical byte by treating it as the opcode.
		return d.decodeOpcode(b, &inst)
	}
}

func (d *decoder) decodeOpcode(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	if op == 0x0F && d.model >= Model80186 {
		op2, err := d.next()
		if err != nil {
			return *inst, err
		}
		return d.decodeExtended(op2, inst)
	}

	if e, ok := baseTable8086[op]; ok {
		if isVariableWidthOpcode(op) {
			if op&1 == 0 {
				inst.OperationSize = 1
			} else if inst.OperandSize == 32 {
				inst.OperationSize = 4
			} else {
				inst.OperationSize = 2
			}
		}
		return d.finish(e, inst)
	}

	if inst2, err, handled := d.decodeFixedOrGroup(op, inst); handled {
		return inst2, err
	}

	inst.Length = d.length
	inst.Raw = d.raw
	return *inst, &InvalidOpcode{Opcode: d.raw[:d.length]}
}

// isVariableWidthOpcode reports whether op is one of the string or
// port-I/O instructions whose width comes from the opcode's own low bit
// (the classic "w" bit) rather than from a modrm Eb/Ev/Gb/Gv mode, since
// these opcodes carry no modrm byte at all.
func isVariableWidthOpcode(op byte) bool {
	return (op >= 0xA4 && op <= 0xAF) || (op >= 0xE4 && op <= 0xE7) || (op >= 0xEC && op <= 0xEF)
}

// setOperationSizeFromMode mirrors the Eb/Ev width distinction used outside
// readModrmOperands, for the Grp1-5 opcode-extension decoders that resolve
// their modrm EA directly instead of going through e.modes.
func setOperationSizeFromMode(inst *DecodedInstruction, size OperandMode) {
	if size == modeEb {
		inst.OperationSize = 1
	} else {
		inst.OperationSize = inst.OperandSize / 8
	}
}

func (d *decoder) decodeExtended(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	if op >= 0x80 && op <= 0x8F {
		inst.Mnemonic = Jcc
		inst.Cond = jccConditionFromOpcode(op)
		return d.readJv(inst)
	}
	if op >= 0x90 && op <= 0x9F {
		inst.Mnemonic = SETcc
		inst.Cond = jccConditionFromOpcode(op)
		return d.readModrmOperands(entry{SETcc, [3]OperandMode{modeEb}, true}, inst)
	}
	if op == 0x00 || op == 0x01 {
		return d.decodeSystemGroup(op, inst)
	}
	if e, ok := extendedTable0F[op]; ok {
		return d.readModrmOperands(e, inst)
	}
	inst.Length = d.length
	inst.Raw = d.raw
	return *inst, &InvalidOpcode{Opcode: d.raw[:d.length]}
}

// decodeSystemGroup handles 0F 00 (SLDT/STR/LLDT/LTR) and 0F 01
// (SGDT/SIDT/LGDT/LIDT), both of which sub-dispatch on modrm.reg.
func (d *decoder) decodeSystemGroup(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	ea, err := d.decodeModrmEA(modrm, modeEv, inst)
	if err != nil {
		return *inst, err
	}
	reg := groupReg(modrm)
	if op == 0x00 {
		switch reg {
		case 0:
			inst.Mnemonic = SLDT
		case 2:
			inst.Mnemonic = LLDT
		case 3:
			inst.Mnemonic = LTR
		default:
			return *inst, &InvalidOpcode{Opcode: d.raw[:d.length]}
		}
	} else {
		switch reg {
		case 0:
			inst.Mnemonic = SGDT
		case 1:
			inst.Mnemonic = SIDT
		case 2:
			inst.Mnemonic = LGDT
		case 3:
			inst.Mnemonic = LIDT
		default:
			return *inst, &InvalidOpcode{Opcode: d.raw[:d.length]}
		}
	}
	inst.Operands[0] = ea
	inst.NumOperands = 1
	inst.Length = d.length
	inst.Raw = d.raw
	return *inst, nil
}

// decodeFixedOrGroup handles opcode-extension groups (reg-field sub-dispatch)
// and fixed-form instructions that the static baseTable8086 does not cover:
// PUSH/POP reg (0x50-5F), Jcc (0x70-7F), LOOP family (0xE0-E3), Grp1
// (0x80-83), shift Grp2 (0xC0-C1,0xD0-D3), Grp3 (0xF6-F7), Grp4/5
// (0xFE-FF). Mirrors the teacher's cpu_x86_grp.go Grp1-5 split.
func (d *decoder) decodeFixedOrGroup(op byte, inst *DecodedInstruction) (DecodedInstruction, error, bool) {
	switch {
	case op >= 0x50 && op <= 0x57:
		inst.Mnemonic = PUSH
		inst.Operands[0] = DecodedEA{Type: EARegister16, RegIndex: int(op - 0x50)}
		if inst.OperandSize == 32 {
			inst.Operands[0].Type = EARegister32
		}
		inst.NumOperands = 1
		inst.Length, inst.Raw = d.length, d.raw
		return *inst, nil, true
	case op >= 0x58 && op <= 0x5F:
		inst.Mnemonic = POP
		inst.Operands[0] = DecodedEA{Type: EARegister16, RegIndex: int(op - 0x58)}
		if inst.OperandSize == 32 {
			inst.Operands[0].Type = EARegister32
		}
		inst.NumOperands = 1
		inst.Length, inst.Raw = d.length, d.raw
		return *inst, nil, true
	case op == 0x60:
		inst.Mnemonic = PUSHA
		inst.Length, inst.Raw = d.length, d.raw
		return *inst, nil, true
	case op == 0x61:
		inst.Mnemonic = POPA
		inst.Length, inst.Raw = d.length, d.raw
		return *inst, nil, true
	case op >= 0x70 && op <= 0x7F:
		inst.Mnemonic = Jcc
		inst.Cond = jccConditionFromOpcode(op)
		r, err := d.readJb(inst)
		return r, err, true
	case op == 0xE0:
		inst.Mnemonic = LOOPNE
		r, err := d.readJb(inst)
		return r, err, true
	case op == 0xE1:
		inst.Mnemonic = LOOPE
		r, err := d.readJb(inst)
		return r, err, true
	case op == 0xE2:
		inst.Mnemonic = LOOP
		r, err := d.readJb(inst)
		return r, err, true
	case op == 0xE3:
		inst.Mnemonic = JCXZ
		r, err := d.readJb(inst)
		return r, err, true
	case op >= 0x80 && op <= 0x83:
		r, err := d.decodeGrp1(op, inst)
		return r, err, true
	case op == 0xC0 || op == 0xC1:
		r, err := d.decodeGrp2(op, inst, false)
		return r, err, true
	case op >= 0xD0 && op <= 0xD3:
		r, err := d.decodeGrp2Implicit(op, inst)
		return r, err, true
	case op == 0xF6 || op == 0xF7:
		r, err := d.decodeGrp3(op, inst)
		return r, err, true
	case op == 0xFE || op == 0xFF:
		r, err := d.decodeGrp45(op, inst)
		return r, err, true
	case op >= 0xB0 && op <= 0xB7:
		inst.Mnemonic = MOV
		inst.Operands[0] = DecodedEA{Type: EARegister8, RegIndex: int(op - 0xB0)}
		inst.NumOperands = 1
		r, err := d.readIb(inst)
		return r, err, true
	case op >= 0xB8 && op <= 0xBF:
		inst.Mnemonic = MOV
		t := EARegister16
		if inst.OperandSize == 32 {
			t = EARegister32
		}
		inst.Operands[0] = DecodedEA{Type: t, RegIndex: int(op - 0xB8)}
		inst.NumOperands = 1
		r, err := d.readIv(inst)
		return r, err, true
	}
	return *inst, nil, false
}

func (d *decoder) decodeGrp1(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	size := modeEv
	if op == 0x80 {
		size = modeEb
	}
	ea, err := d.decodeModrmEA(modrm, size, inst)
	if err != nil {
		return *inst, err
	}
	setOperationSizeFromMode(inst, size)
	switch groupReg(modrm) {
	case 0:
		inst.Mnemonic = ADD
	case 1:
		inst.Mnemonic = OR
	case 2:
		inst.Mnemonic = ADC
	case 3:
		inst.Mnemonic = SBB
	case 4:
		inst.Mnemonic = AND
	case 5:
		inst.Mnemonic = SUB
	case 6:
		inst.Mnemonic = XOR
	case 7:
		inst.Mnemonic = CMP
	}
	inst.Operands[0] = ea
	inst.NumOperands = 1
	if op == 0x81 {
		return d.readIv(inst)
	}
	return d.readIb(inst) // 0x80, 0x82 (byte imm), 0x83 (sign-extended byte imm)
}

func (d *decoder) decodeGrp2(op byte, inst *DecodedInstruction, implicit bool) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	size := modeEv
	if op == 0xC0 {
		size = modeEb
	}
	ea, err := d.decodeModrmEA(modrm, size, inst)
	if err != nil {
		return *inst, err
	}
	setOperationSizeFromMode(inst, size)
	setShiftMnemonic(groupReg(modrm), inst)
	inst.Operands[0] = ea
	inst.NumOperands = 1
	return d.readIb(inst)
}

func (d *decoder) decodeGrp2Implicit(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	size := modeEv
	if op == 0xD0 || op == 0xD2 {
		size = modeEb
	}
	ea, err := d.decodeModrmEA(modrm, size, inst)
	if err != nil {
		return *inst, err
	}
	setOperationSizeFromMode(inst, size)
	setShiftMnemonic(groupReg(modrm), inst)
	inst.Operands[0] = ea
	if op == 0xD0 || op == 0xD1 {
		inst.Operands[1] = DecodedEA{Type: EAImmediate, Imm: 1}
	} else {
		inst.Operands[1] = DecodedEA{Type: EARegister8, RegIndex: 1} // CL
	}
	inst.NumOperands = 2
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func setShiftMnemonic(reg int, inst *DecodedInstruction) {
	switch reg {
	case 0:
		inst.Mnemonic = ROL
	case 1:
		inst.Mnemonic = ROR
	case 2:
		inst.Mnemonic = RCL
	case 3:
		inst.Mnemonic = RCR
	case 4, 6:
		inst.Mnemonic = SHL
	case 5:
		inst.Mnemonic = SHR
	case 7:
		inst.Mnemonic = SAR
	}
}

func (d *decoder) decodeGrp3(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	size := modeEv
	if op == 0xF6 {
		size = modeEb
	}
	ea, err := d.decodeModrmEA(modrm, size, inst)
	if err != nil {
		return *inst, err
	}
	setOperationSizeFromMode(inst, size)
	reg := groupReg(modrm)
	inst.Operands[0] = ea
	inst.NumOperands = 1
	switch reg {
	case 0, 1:
		inst.Mnemonic = TEST
		if op == 0xF6 {
			return d.readIb(inst)
		}
		return d.readIv(inst)
	case 2:
		inst.Mnemonic = NOT
	case 3:
		inst.Mnemonic = NEG
	case 4:
		inst.Mnemonic = MUL
	case 5:
		inst.Mnemonic = IMUL
	case 6:
		inst.Mnemonic = DIV
	case 7:
		inst.Mnemonic = IDIV
	}
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func (d *decoder) decodeGrp45(op byte, inst *DecodedInstruction) (DecodedInstruction, error) {
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	size := modeEv
	if op == 0xFE {
		size = modeEb
	}
	ea, err := d.decodeModrmEA(modrm, size, inst)
	if err != nil {
		return *inst, err
	}
	setOperationSizeFromMode(inst, size)
	reg := groupReg(modrm)
	inst.Operands[0] = ea
	inst.NumOperands = 1
	switch reg {
	case 0:
		inst.Mnemonic = INC
	case 1:
		inst.Mnemonic = DEC
	case 2:
		inst.Mnemonic = CALL
	case 3:
		inst.Mnemonic = CALLF
	case 4:
		inst.Mnemonic = JMP
	case 5:
		inst.Mnemonic = JMPF
	case 6:
		inst.Mnemonic = PUSH
	default:
		return *inst, &InvalidOpcode{Opcode: d.raw[:d.length]}
	}
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

// finish resolves a static table entry: reads modrm if required, then each
// operand mode in order.
func (d *decoder) finish(e entry, inst *DecodedInstruction) (DecodedInstruction, error) {
	if e.hasModrm {
		return d.readModrmOperands(e, inst)
	}
	inst.Mnemonic = e.mnemonic
	n := 0
	for _, m := range e.modes {
		if m == modeNone {
			continue
		}
		if err := d.readSimpleOperand(m, inst, n); err != nil {
			return *inst, err
		}
		n++
	}
	inst.NumOperands = n
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func (d *decoder) readSimpleOperand(m OperandMode, inst *DecodedInstruction, slot int) error {
	switch m {
	case modeAL:
		inst.Operands[slot] = DecodedEA{Type: EARegister8, RegIndex: 0}
	case modeCL:
		inst.Operands[slot] = DecodedEA{Type: EARegister8, RegIndex: 1}
	case modeEAXr:
		t := EARegister16
		if inst.OperandSize == 32 {
			t = EARegister32
		}
		inst.Operands[slot] = DecodedEA{Type: t, RegIndex: 0}
	case modeIb:
		b, err := d.next()
		if err != nil {
			return err
		}
		inst.Operands[slot] = DecodedEA{Type: EAImmediate, Imm: uint64(b)}
	case modeIv:
		v, err := d.readImmWidth(inst.OperandSize)
		if err != nil {
			return err
		}
		inst.Operands[slot] = DecodedEA{Type: EAImmediate, Imm: v}
	case modeJb:
		b, err := d.next()
		if err != nil {
			return err
		}
		inst.Operands[slot] = DecodedEA{Type: EARelative, RelTarget: int64(int8(b))}
	case modeJv:
		v, err := d.readImmWidth(inst.OperandSize)
		if err != nil {
			return err
		}
		if inst.OperandSize == 16 {
			inst.Operands[slot] = DecodedEA{Type: EARelative, RelTarget: int64(int16(v))}
		} else {
			inst.Operands[slot] = DecodedEA{Type: EARelative, RelTarget: int64(int32(v))}
		}
	case modeAp:
		off, err := d.readImmWidth(inst.OperandSize)
		if err != nil {
			return err
		}
		selLo, err := d.next()
		if err != nil {
			return err
		}
		selHi, err := d.next()
		if err != nil {
			return err
		}
		sel := uint16(selLo) | uint16(selHi)<<8
		inst.Operands[slot] = DecodedEA{Type: EAFarPointer, FarSelector: sel, FarOffset: uint32(off)}
	}
	return nil
}

func (d *decoder) readImmWidth(width int) (uint64, error) {
	if width == 16 {
		lo, err := d.next()
		if err != nil {
			return 0, err
		}
		hi, err := d.next()
		if err != nil {
			return 0, err
		}
		return uint64(lo) | uint64(hi)<<8, nil
	}
	var v uint64
	for i := 0; i < 4; i++ {
		b, err := d.next()
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

func (d *decoder) readJb(inst *DecodedInstruction) (DecodedInstruction, error) {
	b, err := d.next()
	if err != nil {
		return *inst, err
	}
	inst.Operands[0] = DecodedEA{Type: EARelative, RelTarget: int64(int8(b))}
	inst.NumOperands = 1
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func (d *decoder) readJv(inst *DecodedInstruction) (DecodedInstruction, error) {
	v, err := d.readImmWidth(inst.OperandSize)
	if err != nil {
		return *inst, err
	}
	if inst.OperandSize == 16 {
		inst.Operands[0] = DecodedEA{Type: EARelative, RelTarget: int64(int16(v))}
	} else {
		inst.Operands[0] = DecodedEA{Type: EARelative, RelTarget: int64(int32(v))}
	}
	inst.NumOperands = 1
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func (d *decoder) readIb(inst *DecodedInstruction) (DecodedInstruction, error) {
	b, err := d.next()
	if err != nil {
		return *inst, err
	}
	inst.Operands[inst.NumOperands] = DecodedEA{Type: EAImmediate, Imm: uint64(b)}
	inst.NumOperands++
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

func (d *decoder) readIv(inst *DecodedInstruction) (DecodedInstruction, error) {
	v, err := d.readImmWidth(inst.OperandSize)
	if err != nil {
		return *inst, err
	}
	inst.Operands[inst.NumOperands] = DecodedEA{Type: EAImmediate, Imm: v}
	inst.NumOperands++
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

// readModrmOperands reads the modrm byte (and SIB/disp if needed), then
// assigns operands per e.modes, with the modrm-derived EA taking whichever
// slot held an Eb/Ev/Sw/Cd/Dd mode and the reg field taking whichever slot
// held Gb/Gv.
func (d *decoder) readModrmOperands(e entry, inst *DecodedInstruction) (DecodedInstruction, error) {
	inst.Mnemonic = e.mnemonic
	modrm, err := d.next()
	if err != nil {
		return *inst, err
	}
	n := 0
	for _, m := range e.modes {
		switch m {
		case modeNone:
			continue
		case modeEb, modeEv, modeMp:
			ea, err := d.decodeModrmEA(modrm, m, inst)
			if err != nil {
				return *inst, err
			}
			inst.Operands[n] = ea
			if m == modeEb {
				inst.OperationSize = 1
			} else if inst.OperationSize == 0 {
				inst.OperationSize = inst.OperandSize / 8
			}
		case modeGb:
			inst.Operands[n] = DecodedEA{Type: EARegister8, RegIndex: groupReg(modrm)}
			inst.OperationSize = 1
		case modeGv:
			t := EARegister16
			if inst.OperandSize == 32 {
				t = EARegister32
			}
			inst.Operands[n] = DecodedEA{Type: t, RegIndex: groupReg(modrm)}
			if inst.OperationSize == 0 {
				inst.OperationSize = inst.OperandSize / 8
			}
		case modeSw:
			inst.Operands[n] = DecodedEA{Type: EASegReg, RegIndex: groupReg(modrm)}
		case modeCd:
			inst.Operands[n] = DecodedEA{Type: EAControlReg, RegIndex: groupReg(modrm)}
		case modeDd:
			inst.Operands[n] = DecodedEA{Type: EADebugReg, RegIndex: groupReg(modrm)}
		case modeIb:
			if err := d.readSimpleOperand(modeIb, inst, n); err != nil {
				return *inst, err
			}
		case modeImplicitCL:
			inst.Operands[n] = DecodedEA{Type: EARegister8, RegIndex: 1}
		default:
			continue
		}
		n++
	}
	inst.NumOperands = n
	inst.Length, inst.Raw = d.length, d.raw
	return *inst, nil
}

// decodeModrmEA computes the Eb/Ev operand: either a register (mod==11) or a
// memory reference (mod!=11), per spec.md §4.1 step 4. It never performs the
// segment/linear/physical translation — that is internal/cpux86's job.
func (d *decoder) decodeModrmEA(modrm byte, size OperandMode, inst *DecodedInstruction) (DecodedEA, error) {
	mod := modrmMod(modrm)
	rm := modrmRm(modrm)

	if mod == 3 {
		t := EARegister16
		if size == modeEb {
			t = EARegister8
		} else if inst.OperandSize == 32 {
			t = EARegister32
		}
		return DecodedEA{Type: t, RegIndex: rm}, nil
	}

	ea := DecodedEA{Type: EAMemory, BaseReg: -1, IndexReg: -1, Segment: defaultSegmentFor(inst, mod, rm)}

	if inst.AddressSize == 32 {
		if rm == 4 {
			sib, err := d.next()
			if err != nil {
				return ea, err
			}
			scale := sib >> 6
			index := int(sib>>3) & 0x7
			base := int(sib) & 0x7
			if index != 4 {
				ea.IndexReg = index
				ea.Scale = 1 << scale
			} else if scale != 0 {
				ea.HasSIBQuirk = true // spec.md §9 Open Question: index=SP, scale>0
			}
			if base == 5 && mod == 0 {
				disp, err := d.readDisp32()
				if err != nil {
					return ea, err
				}
				ea.Disp = disp
				ea.BaseReg = -1
			} else {
				ea.BaseReg = base
				if base == 5 && inst.SegOverride < 0 {
					ea.Segment = 2 // SS (EBP-based SIB form)
				}
			}
		} else if rm == 5 && mod == 0 {
			disp, err := d.readDisp32()
			if err != nil {
				return ea, err
			}
			ea.Disp = disp
			ea.BaseReg = -1
		} else {
			ea.BaseReg = rm
		}
		switch mod {
		case 1:
			b, err := d.next()
			if err != nil {
				return ea, err
			}
			ea.Disp = int32(int8(b))
		case 2:
			disp, err := d.readDisp32()
			if err != nil {
				return ea, err
			}
			ea.Disp = disp
		}
		return ea, nil
	}

	// 16-bit addressing.
	if mod == 0 && rm == 6 {
		lo, err := d.next()
		if err != nil {
			return ea, err
		}
		hi, err := d.next()
		if err != nil {
			return ea, err
		}
		ea.Disp = int32(int16(uint16(lo) | uint16(hi)<<8))
		ea.BaseReg, ea.IndexReg = -1, -1
		return ea, nil
	}
	ea.BaseReg = rm16Base[rm]
	ea.IndexReg = rm16Index[rm]
	switch mod {
	case 1:
		b, err := d.next()
		if err != nil {
			return ea, err
		}
		ea.Disp = int32(int8(b))
	case 2:
		lo, err := d.next()
		if err != nil {
			return ea, err
		}
		hi, err := d.next()
		if err != nil {
			return ea, err
		}
		ea.Disp = int32(int16(uint16(lo) | uint16(hi)<<8))
	}
	return ea, nil
}

func (d *decoder) readDisp32() (int32, error) {
	v, err := d.readImmWidth(32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// defaultSegmentFor returns the segment-register index (0=ES..5=GS) that
// applies absent an override: SS for BP-based 16-bit forms and EBP-based
// 32-bit forms, DS otherwise — unless a prefix override is active. mod==0
// with rm==6 (16-bit) or rm==5 (32-bit) is the disp-only direct-addressing
// form with no base register at all, which defaults to DS even though the
// same rm encoding means BP/EBP-based addressing (and thus SS) at mod 1/2.
func defaultSegmentFor(inst *DecodedInstruction, mod, rm int) int {
	if inst.SegOverride >= 0 {
		return inst.SegOverride
	}
	if inst.AddressSize == 16 && (rm == 2 || rm == 3 || (rm == 6 && mod != 0)) {
		return 2 // SS
	}
	if inst.AddressSize == 32 && rm == 5 && mod != 0 {
		return 2 // SS (EBP-based)
	}
	return 3 // DS
}
