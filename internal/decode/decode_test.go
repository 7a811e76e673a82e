package decode

import "testing"

func fetcher(bytes []byte) FetchFunc {
	i := 0
	return func() (byte, error) {
		if i >= len(bytes) {
			return 0, &InvalidOpcode{Opcode: bytes}
		}
		b := bytes[i]
		i++
		return b, nil
	}
}

func TestDecodeINT21(t *testing.T) {
	inst, err := Decode(fetcher([]byte{0xCD, 0x21}), Model8086, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic != INT {
		t.Fatalf("expected INT, got %v", inst.Mnemonic)
	}
	if inst.Operands[0].Imm != 0x21 {
		t.Fatalf("expected vector 0x21, got %#x", inst.Operands[0].Imm)
	}
	if inst.Length != 2 {
		t.Fatalf("expected length 2, got %d", inst.Length)
	}
}

func TestDecodeDivRm8Grp3(t *testing.T) {
	// F6 /6 = DIV r/m8, modrm 0xF6 => mod=11 reg=110(6) rm=110(6) -> DIV ESI-as-DH? use a clean encoding.
	// modrm byte 0xF6: mod=11(3), reg=110(6)=DIV, rm=110(6)=DH
	inst, err := Decode(fetcher([]byte{0xF6, 0xF6}), Model8086, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic != DIV {
		t.Fatalf("expected DIV, got %v", inst.Mnemonic)
	}
	if inst.Operands[0].Type != EARegister8 {
		t.Fatalf("expected register operand, got %v", inst.Operands[0].Type)
	}
}

func TestDecodeImulGv0FAF(t *testing.T) {
	// 0F AF /r, modrm 0xC1: mod=11 reg=000(AX) rm=001(CX)
	inst, err := Decode(fetcher([]byte{0x0F, 0xAF, 0xC1}), Model80386, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic != IMUL {
		t.Fatalf("expected IMUL, got %v", inst.Mnemonic)
	}
	if inst.NumOperands != 2 {
		t.Fatalf("expected 2 operands, got %d", inst.NumOperands)
	}
}

func TestDecodeJccRelative(t *testing.T) {
	inst, err := Decode(fetcher([]byte{0x74, 0xFE}), Model8086, 16, 16) // JZ -2
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic != Jcc {
		t.Fatalf("expected Jcc, got %v", inst.Mnemonic)
	}
	if inst.Operands[0].RelTarget != -2 {
		t.Fatalf("expected -2, got %d", inst.Operands[0].RelTarget)
	}
}

func TestDecodeModrm32WithSIB(t *testing.T) {
	// MOV EAX, [EBX+ECX*2+0x10]: 8B /r with addr32
	// opcode 8B, modrm 0x44 (mod=01 reg=000 rm=100=SIB), sib 0x4B (scale=01 index=001(ECX) base=011(EBX)), disp8=0x10
	inst, err := Decode(fetcher([]byte{0x8B, 0x44, 0x4B, 0x10}), Model80386, 32, 32)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic != MOV {
		t.Fatalf("expected MOV, got %v", inst.Mnemonic)
	}
	mem := inst.Operands[1]
	if mem.Type != EAMemory || mem.BaseReg != 3 || mem.IndexReg != 1 || mem.Scale != 2 || mem.Disp != 0x10 {
		t.Fatalf("unexpected EA: %+v", mem)
	}
}

func TestInvalidOpcodeTooLong(t *testing.T) {
	bytes := make([]byte, 20)
	for i := range bytes {
		bytes[i] = 0x66 // operand-size prefix repeated forever
	}
	_, err := Decode(fetcher(bytes), Model80386, 16, 16)
	if err == nil {
		t.Fatalf("expected InvalidOpcode due to length overflow")
	}
}
