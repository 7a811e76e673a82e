package cpux86

import "github.com/x86core/x86core/internal/desc"

// Register indices, per original_source/cpu_registers.h's Reg enum.
const (
	RegAX = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
)

// Segment register indices, per original_source/cpu_registers.h's SReg enum.
const (
	SRegES = iota
	SRegCS
	SRegSS
	SRegDS
	SRegFS
	SRegGS
	numSRegs
)

// SegCache is the unpacked descriptor cache for one segment register: the
// selector plus its expanded (base, limit, access, flags), per spec.md §3.
type SegCache struct {
	Selector   uint16
	Descriptor desc.Descriptor
}

// State is the full architectural register file, per spec.md §3 "Registers".
type State struct {
	GPR  [8]uint64 // low 8/16/32 bits meaningful per operand size
	Seg  [numSRegs]SegCache
	EIP  uint64

	EFLAGS uint32

	CR [8]uint32 // only CR0, CR2, CR3, CR4 meaningful
	DR [8]uint32 // write-only scratch

	LDTR   SegCache
	LDTSel uint16
	GDT    desc.Table
	IDT    desc.Table
	TR     SegCache // current TSS descriptor + selector

	CPL uint8

	Halted bool
	Cycles uint64
}

func (s *State) Flags() Flags { return Flags(s.EFLAGS) }

// GPR width accessors — the teacher's cpu_x86.go keeps a regs32 [8]*uint32
// pointer array for O(1) lookup; here the GPR bank is already indexable
// uint64s, and width is applied at the accessor, which serves the same
// "register class" idea for 8/16/32-bit forms without needing AH/CH/DH/BH
// aliasing tricks beyond the dedicated high-byte helpers below.
func (s *State) GetReg8(index int) uint8 {
	if index < 4 {
		return uint8(s.GPR[index])
	}
	return uint8(s.GPR[index-4] >> 8)
}

func (s *State) SetReg8(index int, v uint8) {
	if index < 4 {
		s.GPR[index] = s.GPR[index]&^0xFF | uint64(v)
		return
	}
	s.GPR[index-4] = s.GPR[index-4]&^0xFF00 | uint64(v)<<8
}

func (s *State) GetReg16(index int) uint16 { return uint16(s.GPR[index]) }
func (s *State) SetReg16(index int, v uint16) {
	s.GPR[index] = s.GPR[index]&^0xFFFF | uint64(v)
}

func (s *State) GetReg32(index int) uint32 { return uint32(s.GPR[index]) }
func (s *State) SetReg32(index int, v uint32) {
	s.GPR[index] = uint64(v)
}

func (s *State) GetCReg(i int) uint32  { return s.CR[i] }
func (s *State) SetCReg(i int, v uint32) { s.CR[i] = v }
func (s *State) GetDReg(i int) uint32  { return s.DR[i] }
func (s *State) SetDReg(i int, v uint32) { s.DR[i] = v }

// PagingEnabled, ProtectedMode and VM86 read CR0/EFLAGS for the mode
// predicates used throughout the memory pipeline and control transfer.
func (s *State) PagingEnabled() bool  { return s.CR[0]&CR0PG != 0 }
func (s *State) ProtectedMode() bool  { return s.CR[0]&CR0PE != 0 }
func (s *State) VM86() bool           { return Flags(s.EFLAGS).VM() }
func (s *State) WriteProtectUser() bool { return s.CR[0]&CR0WP != 0 }

// CR0 bit positions relevant to this core, per original_source/cpu.h.
const (
	CR0PE = 1 << 0
	CR0WP = 1 << 16
	CR0PG = 1 << 31
)
