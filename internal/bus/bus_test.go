package bus

import "testing"

func TestRAMReadWrite(t *testing.T) {
	b := New()
	if err := b.AddMemHandler(0, 0xFFFF, NewRAM(0x10000), false); err != nil {
		t.Fatal(err)
	}
	b.WriteU32(0x100, 0xDEADBEEF)
	if got := b.ReadU32(0x100); got != 0xDEADBEEF {
		t.Fatalf("got %#x", got)
	}
}

func TestOverlappingRegionsRejected(t *testing.T) {
	b := New()
	if err := b.AddMemHandler(0, 0xFFF, NewRAM(0x1000), false); err != nil {
		t.Fatal(err)
	}
	if err := b.AddMemHandler(0x800, 0x1800, NewRAM(0x1000), false); err == nil {
		t.Fatalf("expected overlap rejection")
	}
}

func TestUnmappedReadsOpenBus(t *testing.T) {
	b := New()
	if got := b.ReadU8(0x1234); got != 0xFF {
		t.Fatalf("expected open-bus 0xFF, got %#x", got)
	}
}

func TestA20Aliasing(t *testing.T) {
	b := New()
	ram := NewRAM(0x200000)
	if err := b.AddMemHandler(0, 0x1FFFFF, ram, false); err != nil {
		t.Fatal(err)
	}
	b.SetAddressMask(0xFFEFFFFF) // A20 gated off
	b.WriteU8(0x000000, 0x42)
	if got := b.ReadU8(0x100000); got != 0x42 {
		t.Fatalf("expected A20 alias, got %#x", got)
	}
	b.SetAddressMask(0xFFFFFFFF) // A20 enabled
	b.WriteU8(0x100000, 0x99)
	if got := b.ReadU8(0x000000); got == 0x99 {
		t.Fatalf("A20 enabled should decouple the two addresses")
	}
}

type fakeObserver struct {
	ran  uint64
	next uint64
}

func (f *fakeObserver) RunCycles(c uint64) { f.ran += c }
func (f *fakeObserver) NextAction() uint64 { return f.next }

func TestCycleObserverHorizon(t *testing.T) {
	b := New()
	if err := b.AddMemHandler(0, 0xFF, NewRAM(0x100), false); err != nil {
		t.Fatal(err)
	}
	obs := &fakeObserver{next: 4}
	b.AddCycleObserver(obs)
	for i := 0; i < 10; i++ {
		b.ReadU8(0)
	}
	if obs.ran == 0 {
		t.Fatalf("expected observer to receive cycles")
	}
}
