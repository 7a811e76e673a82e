package bus

// RAM is a flat read/write memory handler, grounded on
// _examples/IntuitionAmiga-IntuitionEngine/memory_bus.go's contiguous byte
// slice storage.
type RAM struct {
	Bytes []byte
}

// NewRAM allocates a zeroed RAM region of the given size.
func NewRAM(size uint32) *RAM {
	return &RAM{Bytes: make([]byte, size)}
}

func (m *RAM) ReadU8(offset uint32) byte          { return m.Bytes[offset] }
func (m *RAM) WriteU8(offset uint32, value byte)  { m.Bytes[offset] = value }
func (m *RAM) PeekU8(offset uint32) byte          { return m.Bytes[offset] }

// ROM is read-only memory; writes are silently discarded, matching real
// hardware (BIOS shadow regions, option ROMs).
type ROM struct {
	Bytes []byte
}

// NewROM wraps image as a read-only handler. image is used directly, not
// copied — callers that mutate image after mapping it will see the change.
func NewROM(image []byte) *ROM {
	return &ROM{Bytes: image}
}

func (r *ROM) ReadU8(offset uint32) byte         { return r.Bytes[offset] }
func (r *ROM) WriteU8(offset uint32, value byte) {}
func (r *ROM) PeekU8(offset uint32) byte         { return r.Bytes[offset] }

// CMOS is the classic index/data CMOS RAM pair (ports 0x70/0x71): a write to
// the index port latches a register number, and the following I/O on the
// data port reads or writes that register. Grounded on SPEC_FULL.md §12's
// "CMOS/ROM boot surface" supplement (the original's debugger/main.cpp boot
// path loads a CMOS image alongside the BIOS ROM so boot-time BIOS CMOS
// checksum/equipment-byte reads succeed instead of reading open-bus 0xFF).
type CMOS struct {
	Bytes [128]byte
	index byte
}

// NewCMOS wraps image as the initial register contents, zero-padded or
// truncated to the 128-byte register file.
func NewCMOS(image []byte) *CMOS {
	c := &CMOS{}
	copy(c.Bytes[:], image)
	return c
}

func (c *CMOS) In8(port uint16) byte {
	if port == 0x71 {
		return c.Bytes[c.index&0x7F]
	}
	return 0xFF
}

func (c *CMOS) Out8(port uint16, value byte) {
	switch port {
	case 0x70:
		c.index = value & 0x7F
	case 0x71:
		c.Bytes[c.index&0x7F] = value
	}
}

// UnmappedMemHandler is the bus's fallback when no region matches: reads
// return 0xFF (open bus), writes are discarded.
type UnmappedMemHandler struct{}

func (UnmappedMemHandler) ReadU8(uint32) byte          { return 0xFF }
func (UnmappedMemHandler) WriteU8(uint32, byte)        {}

// UnmappedIOHandler is the default port handler: reads return 0xFF, writes
// are discarded — the common behaviour of an unpopulated ISA bus slot.
type UnmappedIOHandler struct{}

func (UnmappedIOHandler) In8(uint16) byte         { return 0xFF }
func (UnmappedIOHandler) Out8(uint16, byte)       {}
