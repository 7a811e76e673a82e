package decode

// Prefix bits, collected left-to-right; later segment-override and repeat
// prefixes win, everything else OR's together, per spec.md §4.1 step 1.
const (
	PrefixES uint16 = 1 << iota
	PrefixCS
	PrefixSS
	PrefixDS
	PrefixFS
	PrefixGS
	PrefixOperandSize
	PrefixAddressSize
	PrefixLock
	PrefixRepZ  // F3
	PrefixRepNZ // F2
)

const segmentPrefixMask = PrefixES | PrefixCS | PrefixSS | PrefixDS | PrefixFS | PrefixGS

// CPUModel selects which opcode table and prefetch/queue parameters apply.
type CPUModel int

const (
	Model8088 CPUModel = iota
	Model8086
	Model80186
	Model80286
	Model80386SX
	Model80386
	Model80486
)

// EAType tags the closed set of effective-address shapes a DecodedEA can
// take, per spec.md §9's design note: express as a sum type, not a general
// variant-of-pointers.
type EAType int

const (
	EANone EAType = iota
	EARegister8
	EARegister16
	EARegister32
	EASegReg
	EAControlReg
	EADebugReg
	EAImmediate
	EAMemory   // modrm/sib/disp-derived memory reference
	EARelative // Jcc/JMP/CALL/LOOP displacement, PC-relative
	EAFarPointer
	EAMemoryFarPointer // Mp: memory location holding a far pointer
)

// DecodedEA is the tagged union of operand shapes. Only the fields relevant
// to Type are meaningful; RegIndex doubles as the register-class index
// (0-7 for GPRs, 0-5 for segment registers, 0-7 for CR/DR) depending on Type.
type DecodedEA struct {
	Type EAType

	RegIndex int
	Imm      uint64

	// EAMemory
	BaseReg    int  // -1 if none
	IndexReg   int  // -1 if none
	Scale      uint8
	Disp       int32
	Segment    int // override segment register index, or the default for the addressing mode
	HasSIBQuirk bool // undocumented index=SP/scale>0 artifact, spec.md §9 Open Question

	// EARelative
	RelTarget int64

	// EAFarPointer / EAMemoryFarPointer
	FarSelector uint16
	FarOffset   uint32
}

// DecodedInstruction is the decoder's sole output: everything the execution
// engine needs to run one instruction, plus enough of the raw encoding to
// support disassembly and the history ring.
type DecodedInstruction struct {
	Mnemonic Mnemonic
	Cond     uint8 // Jcc/SETcc condition code (0-15), meaningless otherwise

	Prefixes  uint16
	SegOverride int // -1 if none, else 0=ES..5=GS

	OperandSize  int // 16 or 32
	AddressSize  int // 16 or 32
	OperationSize int // 1, 2, 4, 8 — byte-suffixed forms (MOVSB, …) force 1

	Operands [3]DecodedEA
	NumOperands int

	Length int
	Raw    [15]byte
}
