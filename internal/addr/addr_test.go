package addr

import "testing"

func TestAddWraps16(t *testing.T) {
	a := New(0x1000, 0xFFFE, Width16)
	a = a.Add(4)
	if a.Offset != 2 {
		t.Fatalf("expected wrap to 0x0002, got %#x", a.Offset)
	}
}

func TestAddWraps32(t *testing.T) {
	a := New(0, 0xFFFFFFFE, Width32)
	a = a.Add(4)
	if a.Offset != 2 {
		t.Fatalf("expected wrap to 0x2, got %#x", a.Offset)
	}
}

func TestNoMaskPassesThrough(t *testing.T) {
	a := New(0, 0x1_0000_0000, WidthNoMask)
	if a.Offset != 0x1_0000_0000 {
		t.Fatalf("unmasked offset should not truncate, got %#x", a.Offset)
	}
}

func TestRealModeLinear(t *testing.T) {
	a := New(0x0040, 0x1234, Width16)
	if got, want := a.RealModeLinear(), uint32(0x1634); got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
}

func TestString(t *testing.T) {
	a := New(0x0040, 0x1234, Width16)
	if a.String() != "0040:1234" {
		t.Fatalf("got %q", a.String())
	}
}
