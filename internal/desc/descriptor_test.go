package desc

import "testing"

func TestRoundTripCodeDescriptor(t *testing.T) {
	raw := ToRaw(0x0FFF, 0x00100000, AccessPresent|AccessS|0x8|0x2, FlagsDB)
	d := FromU64(raw)
	if d.Kind != KindCodeData || !d.IsCode {
		t.Fatalf("expected code descriptor, got %+v", d)
	}
	if d.Base != 0x00100000 || d.Limit != 0x0FFF {
		t.Fatalf("base/limit mismatch: %+v", d)
	}
	if !d.Present || !d.Readable {
		t.Fatalf("expected present+readable: %+v", d)
	}
}

func TestGranularityExpandsLimit(t *testing.T) {
	raw := ToRaw(0xFFFFFFFF, 0, AccessPresent|AccessS|0x8, FlagsG)
	d := FromU64(raw)
	if d.Limit != 0xFFFFF000|0xFFF {
		t.Fatalf("expected 4G-1 limit, got %#x", d.Limit)
	}
}

func TestCallGateClassification(t *testing.T) {
	raw := uint64(SysTypeCallGate32|AccessS&0|AccessPresent)<<40 |
		uint64(0x0008)<<16 | // selector
		uint64(0x00001234) | // offset low 16
		uint64(2)<<32 // param count
	d := FromU64(raw)
	if d.Kind != KindCallGate {
		t.Fatalf("expected call gate, got %+v", d)
	}
	if d.GateSelector != 0x0008 {
		t.Fatalf("selector mismatch: %#x", d.GateSelector)
	}
	if d.ParamCount != 2 {
		t.Fatalf("param count mismatch: %d", d.ParamCount)
	}
}

func TestSelectorDecode(t *testing.T) {
	sel := uint16(0x001B) // index 3, TI=0 (GDT), RPL 3
	if SelectorIndex(sel) != 3 || SelectorTI(sel) || SelectorRPL(sel) != 3 {
		t.Fatalf("selector decode mismatch: idx=%d ti=%v rpl=%d", SelectorIndex(sel), SelectorTI(sel), SelectorRPL(sel))
	}
}

func TestRealModeSynthesis(t *testing.T) {
	d := SetRealModeCode(0x0040, 0)
	if d.Base != 0x0400 || d.Limit != 0xFFFF {
		t.Fatalf("real mode code descriptor mismatch: %+v", d)
	}
}
