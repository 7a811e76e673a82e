package decode

// OperandMode is one entry from the closed catalogue of operand templates
// named in spec.md §6 (Eb/Ev/Gb/Gv/Ib/Iv/Jbs/Ap/Mp/…). The decoder reads
// exactly the bytes each mode implies; it never evaluates the resulting
// effective address (that is the execution engine's job).
type OperandMode int

const (
	modeNone OperandMode = iota
	modeAL
	modeCL
	modeEAXr // eAX..eDI implied register, index = opcode low 3 bits
	modeEb   // modrm r/m, byte
	modeEv   // modrm r/m, word/dword per operand size
	modeGb   // modrm reg, byte
	modeGv   // modrm reg, word/dword
	modeIb   // immediate byte
	modeIv   // immediate word/dword
	modeIbs  // immediate byte, sign-extended to operand size
	modeJb   // relative byte displacement
	modeJv   // relative word/dword displacement
	modeAp   // absolute far pointer (seg:off immediate)
	modeMp   // memory operand holding a far pointer
	modeSw   // segment register, modrm.reg field
	modeCd   // control register, modrm.reg field
	modeDd   // debug register, modrm.reg field
	modeOne  // implicit constant 1 (shift/rotate by 1)
	modeImplicitCL
	modeRelReg // reg field selects which GPR (PUSH/POP reg, opcode low 3 bits)
)

// entry is one static opcode-table record: mnemonic, up to three operand
// modes, and whether decoding requires a modrm byte — the per-opcode
// "has-modrm bitmap" of spec.md §6, expressed here as a bool field rather
// than a packed bitmap for readability; the semantics are identical.
type entry struct {
	mnemonic Mnemonic
	modes    [3]OperandMode
	hasModrm bool
}

// baseTable8086 covers the 8086-family base opcode space that this core
// decodes via static data, following spec.md §6's table format. Opcodes not
// listed here (0x80-0x83, 0xC0-0xC1, 0xD0-0xD3, 0xF6-0xF7, 0xFE-0xFF, and a
// handful of others) are opcode-extension groups or fixed-form instructions
// dispatched by decodeFixedOrGroup in decode.go, mirroring the
// teacher's cpu_x86_grp.go split of "plain dispatch table" vs "Grp1-5
// sub-dispatch on modrm.reg".
var baseTable8086 = map[byte]entry{
	0x00: {ADD, [3]OperandMode{modeEb, modeGb}, true},
	0x01: {ADD, [3]OperandMode{modeEv, modeGv}, true},
	0x02: {ADD, [3]OperandMode{modeGb, modeEb}, true},
	0x03: {ADD, [3]OperandMode{modeGv, modeEv}, true},
	0x04: {ADD, [3]OperandMode{modeAL, modeIb}, false},
	0x05: {ADD, [3]OperandMode{modeEAXr, modeIv}, false},

	0x08: {OR, [3]OperandMode{modeEb, modeGb}, true},
	0x09: {OR, [3]OperandMode{modeEv, modeGv}, true},
	0x0A: {OR, [3]OperandMode{modeGb, modeEb}, true},
	0x0B: {OR, [3]OperandMode{modeGv, modeEv}, true},
	0x0C: {OR, [3]OperandMode{modeAL, modeIb}, false},
	0x0D: {OR, [3]OperandMode{modeEAXr, modeIv}, false},

	0x10: {ADC, [3]OperandMode{modeEb, modeGb}, true},
	0x11: {ADC, [3]OperandMode{modeEv, modeGv}, true},
	0x12: {ADC, [3]OperandMode{modeGb, modeEb}, true},
	0x13: {ADC, [3]OperandMode{modeGv, modeEv}, true},
	0x14: {ADC, [3]OperandMode{modeAL, modeIb}, false},
	0x15: {ADC, [3]OperandMode{modeEAXr, modeIv}, false},

	0x18: {SBB, [3]OperandMode{modeEb, modeGb}, true},
	0x19: {SBB, [3]OperandMode{modeEv, modeGv}, true},
	0x1A: {SBB, [3]OperandMode{modeGb, modeEb}, true},
	0x1B: {SBB, [3]OperandMode{modeGv, modeEv}, true},
	0x1C: {SBB, [3]OperandMode{modeAL, modeIb}, false},
	0x1D: {SBB, [3]OperandMode{modeEAXr, modeIv}, false},

	0x20: {AND, [3]OperandMode{modeEb, modeGb}, true},
	0x21: {AND, [3]OperandMode{modeEv, modeGv}, true},
	0x22: {AND, [3]OperandMode{modeGb, modeEb}, true},
	0x23: {AND, [3]OperandMode{modeGv, modeEv}, true},
	0x24: {AND, [3]OperandMode{modeAL, modeIb}, false},
	0x25: {AND, [3]OperandMode{modeEAXr, modeIv}, false},

	0x28: {SUB, [3]OperandMode{modeEb, modeGb}, true},
	0x29: {SUB, [3]OperandMode{modeEv, modeGv}, true},
	0x2A: {SUB, [3]OperandMode{modeGb, modeEb}, true},
	0x2B: {SUB, [3]OperandMode{modeGv, modeEv}, true},
	0x2C: {SUB, [3]OperandMode{modeAL, modeIb}, false},
	0x2D: {SUB, [3]OperandMode{modeEAXr, modeIv}, false},

	0x30: {XOR, [3]OperandMode{modeEb, modeGb}, true},
	0x31: {XOR, [3]OperandMode{modeEv, modeGv}, true},
	0x32: {XOR, [3]OperandMode{modeGb, modeEb}, true},
	0x33: {XOR, [3]OperandMode{modeGv, modeEv}, true},
	0x34: {XOR, [3]OperandMode{modeAL, modeIb}, false},
	0x35: {XOR, [3]OperandMode{modeEAXr, modeIv}, false},

	0x38: {CMP, [3]OperandMode{modeEb, modeGb}, true},
	0x39: {CMP, [3]OperandMode{modeEv, modeGv}, true},
	0x3A: {CMP, [3]OperandMode{modeGb, modeEb}, true},
	0x3B: {CMP, [3]OperandMode{modeGv, modeEv}, true},
	0x3C: {CMP, [3]OperandMode{modeAL, modeIb}, false},
	0x3D: {CMP, [3]OperandMode{modeEAXr, modeIv}, false},

	0x63: {ARPL, [3]OperandMode{modeEv, modeGv}, true},

	0x84: {TEST, [3]OperandMode{modeEb, modeGb}, true},
	0x85: {TEST, [3]OperandMode{modeEv, modeGv}, true},
	0x86: {XCHG, [3]OperandMode{modeEb, modeGb}, true},
	0x87: {XCHG, [3]OperandMode{modeEv, modeGv}, true},
	0x88: {MOV, [3]OperandMode{modeEb, modeGb}, true},
	0x89: {MOV, [3]OperandMode{modeEv, modeGv}, true},
	0x8A: {MOV, [3]OperandMode{modeGb, modeEb}, true},
	0x8B: {MOV, [3]OperandMode{modeGv, modeEv}, true},
	0x8C: {MOV, [3]OperandMode{modeEv, modeSw}, true},
	0x8D: {LEA, [3]OperandMode{modeGv, modeEv}, true},
	0x8E: {MOV, [3]OperandMode{modeSw, modeEv}, true},

	0x90: {NOP, [3]OperandMode{}, false},
	0x98: {CBW, [3]OperandMode{}, false},
	0x99: {CWD, [3]OperandMode{}, false},

	0x9C: {PUSHF, [3]OperandMode{}, false},
	0x9D: {POPF, [3]OperandMode{}, false},
	0x9E: {SAHF, [3]OperandMode{}, false},
	0x9F: {LAHF, [3]OperandMode{}, false},

	0xA0: {MOV, [3]OperandMode{modeAL, modeIv}, false}, // moffs forms decoded as direct memory below
	0xA4: {MOVS, [3]OperandMode{}, false},
	0xA5: {MOVS, [3]OperandMode{}, false},
	0xA6: {CMPS, [3]OperandMode{}, false},
	0xA7: {CMPS, [3]OperandMode{}, false},
	0xA8: {TEST, [3]OperandMode{modeAL, modeIb}, false},
	0xA9: {TEST, [3]OperandMode{modeEAXr, modeIv}, false},
	0xAA: {STOS, [3]OperandMode{}, false},
	0xAB: {STOS, [3]OperandMode{}, false},
	0xAC: {LODS, [3]OperandMode{}, false},
	0xAD: {LODS, [3]OperandMode{}, false},
	0xAE: {SCAS, [3]OperandMode{}, false},
	0xAF: {SCAS, [3]OperandMode{}, false},

	0xC2: {RET, [3]OperandMode{modeIv}, false},
	0xC3: {RET, [3]OperandMode{}, false},
	0xC6: {MOV, [3]OperandMode{modeEb, modeIb}, true},
	0xC7: {MOV, [3]OperandMode{modeEv, modeIv}, true},
	0xC4: {LES, [3]OperandMode{modeGv, modeMp}, true},
	0xC5: {LDS, [3]OperandMode{modeGv, modeMp}, true},
	0xCA: {RETF, [3]OperandMode{modeIv}, false},
	0xCB: {RETF, [3]OperandMode{}, false},
	0xCC: {INT3, [3]OperandMode{}, false},
	0xCD: {INT, [3]OperandMode{modeIb}, false},
	0xCE: {INTO, [3]OperandMode{}, false},
	0xCF: {IRET, [3]OperandMode{}, false},

	0xE8: {CALL, [3]OperandMode{modeJv}, false},
	0xE9: {JMP, [3]OperandMode{modeJv}, false},
	0xEA: {JMPF, [3]OperandMode{modeAp}, false},
	0xEB: {JMP, [3]OperandMode{modeJb}, false},

	0xE4: {IN, [3]OperandMode{modeAL, modeIb}, false},
	0xE5: {IN, [3]OperandMode{modeEAXr, modeIb}, false},
	0xE6: {OUT, [3]OperandMode{modeIb, modeAL}, false},
	0xE7: {OUT, [3]OperandMode{modeIb, modeEAXr}, false},
	0xEC: {IN, [3]OperandMode{modeAL, modeCL}, false},
	0xED: {IN, [3]OperandMode{modeEAXr, modeCL}, false},
	0xEE: {OUT, [3]OperandMode{modeCL, modeAL}, false},
	0xEF: {OUT, [3]OperandMode{modeCL, modeEAXr}, false},

	0xF4: {HLT, [3]OperandMode{}, false},
	0xF5: {CMC, [3]OperandMode{}, false},
	0xF8: {CLC, [3]OperandMode{}, false},
	0xF9: {STC, [3]OperandMode{}, false},
	0xFA: {CLI, [3]OperandMode{}, false},
	0xFB: {STI, [3]OperandMode{}, false},
	0xFC: {CLD, [3]OperandMode{}, false},
	0xFD: {STD, [3]OperandMode{}, false},

	0x9B: {WAIT, [3]OperandMode{}, false},

	0xD8: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xD9: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDA: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDB: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDC: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDD: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDE: {ESCAPE, [3]OperandMode{modeEv}, true},
	0xDF: {ESCAPE, [3]OperandMode{modeEv}, true},
}

// extendedTable0F covers the 0F-escape opcodes this core implements. Unknown
// 0F opcodes fall through as InvalidOpcode (spec.md §4.1's failure mode).
var extendedTable0F = map[byte]entry{
	0xA3: {BT, [3]OperandMode{modeEv, modeGv}, true},
	0xAB: {BTS, [3]OperandMode{modeEv, modeGv}, true},
	0xB3: {BTR, [3]OperandMode{modeEv, modeGv}, true},
	0xBB: {BTC, [3]OperandMode{modeEv, modeGv}, true},

	0xA4: {SHLD, [3]OperandMode{modeEv, modeGv, modeIb}, true},
	0xA5: {SHLD, [3]OperandMode{modeEv, modeGv, modeImplicitCL}, true},
	0xAC: {SHRD, [3]OperandMode{modeEv, modeGv, modeIb}, true},
	0xAD: {SHRD, [3]OperandMode{modeEv, modeGv, modeImplicitCL}, true},

	0xAF: {IMUL, [3]OperandMode{modeGv, modeEv}, true},

	0xB6: {MOVZX, [3]OperandMode{modeGv, modeEb}, true},
	0xB7: {MOVZX, [3]OperandMode{modeGv, modeEv}, true}, // MOVZX r32, r/m16
	0xBE: {MOVSX, [3]OperandMode{modeGv, modeEb}, true},
	0xBF: {MOVSX, [3]OperandMode{modeGv, modeEv}, true},

	0xBC: {BSF, [3]OperandMode{modeGv, modeEv}, true},
	0xBD: {BSR, [3]OperandMode{modeGv, modeEv}, true},

	0x20: {MOVCR, [3]OperandMode{modeEv, modeCd}, true},
	0x22: {MOVCR, [3]OperandMode{modeCd, modeEv}, true},
	0x21: {MOVDR, [3]OperandMode{modeEv, modeDd}, true},
	0x23: {MOVDR, [3]OperandMode{modeDd, modeEv}, true},

	0xB2: {LSS, [3]OperandMode{modeGv, modeMp}, true},
	0xB4: {LFS, [3]OperandMode{modeGv, modeMp}, true},
	0xB5: {LGS, [3]OperandMode{modeGv, modeMp}, true},

	0x06: {CLTS, [3]OperandMode{}, false},
}

// jccConditionFromOpcode maps the low nibble of a Jcc/SETcc opcode to its condition code;
// EvalCond-style dispatch lives in the execution engine, per
// _examples/original_source/cpu_flags.h's EvalCond, grounded the same way.
func jccConditionFromOpcode(low byte) uint8 { return low & 0xF }

// groupReg reads the reg field (bits 3-5) of a modrm byte — used by the
// opcode-extension groups (0x80-83, 0xC0-C1, 0xD0-D3, 0xF6-F7, 0xFE-FF, and
// the 0F 00/01 system-instruction groups).
func groupReg(modrm byte) int { return int(modrm>>3) & 0x7 }

func modrmMod(modrm byte) int { return int(modrm>>6) & 0x3 }
func modrmRm(modrm byte) int  { return int(modrm) & 0x7 }
