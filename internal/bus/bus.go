// Package bus implements the system bus: ordered range maps for memory and
// port-mapped I/O handlers, a cycle accumulator with a next-action horizon,
// and address-line (A20) masking.
//
// Grounded on _examples/IntuitionAmiga-IntuitionEngine/machine_bus.go (sorted
// region lookup, WithFault-style accessors, atomic sealing) and memory_bus.go
// (the simpler mutex-protected region map this core's access pattern is
// closer to, since spec.md §4.4 describes a linear scan over "a few dozen
// handlers" rather than machine_bus.go's page-indexed fast path). The
// MemoryHandler/IOHandler/CycleObserver contracts follow spec.md §6 and
// _examples/original_source/system_bus.h's composition of wide accessors
// from narrow ones.
package bus

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryHandler is implemented by anything mapped into the physical address
// space: RAM, ROM, or a device's memory-mapped registers. offset is relative
// to the handler's registered base. Wide accessors are optional; when a
// handler only implements the 8-bit methods, the bus composes wider accesses
// from them (see ReadU16/WriteU16 and the other wide accessors below).
type MemoryHandler interface {
	ReadU8(offset uint32) byte
	WriteU8(offset uint32, value byte)
}

// WideMemoryHandler is an optional fast path a handler may implement to
// avoid the bus decomposing wide accesses into byte accesses.
type WideMemoryHandler interface {
	ReadU16(offset uint32) uint16
	ReadU32(offset uint32) uint32
	ReadU64(offset uint32) uint64
	WriteU16(offset uint32, value uint16)
	WriteU32(offset uint32, value uint32)
	WriteU64(offset uint32, value uint64)
}

// Peeker is implemented by handlers that can serve a non-faulting debugger
// read (spec.md §6's peek_u8, "must not fault").
type Peeker interface {
	PeekU8(offset uint32) byte
}

// IOHandler is implemented by anything mapped into port-I/O space.
type IOHandler interface {
	In8(port uint16) byte
	Out8(port uint16, value byte)
}

// WideIOHandler is the optional 16/32-bit port fast path.
type WideIOHandler interface {
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out16(port uint16, value uint16)
	Out32(port uint16, value uint32)
}

// CycleObserver is a peripheral that tracks elapsed bus cycles. RunCycles
// must be idempotent over a RunCycles(0) call; NextAction reports the
// maximum number of cycles the observer may sleep before it needs attention
// again (CycleObserverNever if it never needs attention).
type CycleObserver interface {
	RunCycles(cycles uint64)
	NextAction() uint64
}

// CycleObserverNever is the "never needs attention" sentinel for NextAction.
const CycleObserverNever = ^uint64(0)

// cyclesFudgeFactor and observerFudgeFactor implement spec.md §4.4's
// "increments the cycle counter by the access width (2x fudge factor)" and
// "hands each cycle observer (cycles x 3) elapsed" rules.
const (
	cyclesFudgeFactor   = 2
	observerFudgeFactor = 3
)

type memRegion struct {
	start, end uint32 // inclusive
	handler    MemoryHandler
	syncSensitive bool
}

type ioRegion struct {
	start, end    uint16 // inclusive
	handler       IOHandler
	syncSensitive bool
}

// Bus is the shared memory and I/O multiplexer. Registration and access
// calls all take one mutex protecting the region slices; per spec.md §5 the
// core is single-threaded and cooperative, so that mutex is sufficient
// rather than a lock-free map.
type Bus struct {
	mu sync.Mutex

	memRegions []memRegion
	ioRegions  []ioRegion

	defaultMem MemoryHandler
	defaultIO  IOHandler

	addressMask uint32 // A20 gate lives here: bit 20 is set or cleared only through SetAddressMask; no I/O port handler changes it

	observers []CycleObserver
	cycles    uint64
	horizon   uint64
}

// New creates a Bus with a 32-bit address mask (A20 enabled: no masking) and
// an UnmappedMemHandler default.
func New() *Bus {
	b := &Bus{
		addressMask: 0xFFFFFFFF,
		defaultMem:  UnmappedMemHandler{},
		defaultIO:   UnmappedIOHandler{},
		horizon:     CycleObserverNever,
	}
	return b
}

// SetAddressMask sets the mask applied to every physical address before
// region lookup. Clearing bit 20 models A20 gated off (wraps 0x100000 to 0).
func (b *Bus) SetAddressMask(mask uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addressMask = mask
}

// SetDefaultIOHandler installs the fallback handler used when no explicit
// I/O mapping matches a port.
func (b *Bus) SetDefaultIOHandler(h IOHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultIO = h
}

// AddMemHandler registers h for [start, end] inclusive. Overlapping ranges
// are rejected, per spec.md §4.4.
func (b *Bus) AddMemHandler(start, end uint32, h MemoryHandler, syncSensitive bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.memRegions {
		if start <= r.end && end >= r.start {
			return fmt.Errorf("bus: memory region [%#x,%#x] overlaps existing [%#x,%#x]", start, end, r.start, r.end)
		}
	}
	b.memRegions = append(b.memRegions, memRegion{start, end, h, syncSensitive})
	sort.Slice(b.memRegions, func(i, j int) bool { return b.memRegions[i].start < b.memRegions[j].start })
	return nil
}

// AddIOHandler registers h for ports [start, end] inclusive.
func (b *Bus) AddIOHandler(start, end uint16, h IOHandler, syncSensitive bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.ioRegions {
		if start <= r.end && end >= r.start {
			return fmt.Errorf("bus: io region [%#x,%#x] overlaps existing [%#x,%#x]", start, end, r.start, r.end)
		}
	}
	b.ioRegions = append(b.ioRegions, ioRegion{start, end, h, syncSensitive})
	sort.Slice(b.ioRegions, func(i, j int) bool { return b.ioRegions[i].start < b.ioRegions[j].start })
	return nil
}

// AddCycleObserver registers a peripheral to receive elapsed-cycle callbacks.
func (b *Bus) AddCycleObserver(o CycleObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
	if n := o.NextAction(); n < b.horizon {
		b.horizon = n
	}
}

func (b *Bus) findMem(addr uint32) (memRegion, uint32, bool) {
	for _, r := range b.memRegions {
		if addr >= r.start && addr <= r.end {
			return r, addr - r.start, true
		}
	}
	return memRegion{}, 0, false
}

func (b *Bus) findIO(port uint16) (ioRegion, bool) {
	for _, r := range b.ioRegions {
		if port >= r.start && port <= r.end {
			return r, true
		}
	}
	return ioRegion{}, false
}

// addCycles implements the bus-side half of spec.md §4.4 steps 1-2: account
// for the access, and if the horizon is crossed, run pending peripheral
// cycles and recompute the horizon as the minimum NextAction across
// observers.
func (b *Bus) addCycles(width uint64) {
	b.cycles += width * cyclesFudgeFactor
	if b.cycles < b.horizon {
		return
	}
	b.runCycles()
}

func (b *Bus) runCycles() {
	elapsed := b.cycles * observerFudgeFactor
	b.cycles = 0
	next := CycleObserverNever
	for _, o := range b.observers {
		o.RunCycles(elapsed)
		if n := o.NextAction(); n < next {
			next = n
		}
	}
	b.horizon = next
}

// RunCycles forces an immediate dispatch of pending cycles to observers,
// independent of the horizon — used by the debugger's single-step command.
func (b *Bus) RunCycles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runCycles()
}

func (b *Bus) syncIfNeeded(sensitive bool) {
	if sensitive {
		b.runCycles()
	}
}

// --- physical memory access ---

func (b *Bus) ReadU8(addr uint32) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr &= b.addressMask
	b.addCycles(1)
	r, off, ok := b.findMem(addr)
	if !ok {
		return b.defaultMem.ReadU8(addr)
	}
	b.syncIfNeeded(r.syncSensitive)
	return r.handler.ReadU8(off)
}

func (b *Bus) WriteU8(addr uint32, value byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr &= b.addressMask
	b.addCycles(1)
	r, off, ok := b.findMem(addr)
	if !ok {
		b.defaultMem.WriteU8(addr, value)
		return
	}
	b.syncIfNeeded(r.syncSensitive)
	r.handler.WriteU8(off, value)
}

func (b *Bus) ReadU16(addr uint32) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr &= b.addressMask
	b.addCycles(2)
	r, off, ok := b.findMem(addr)
	if !ok {
		return uint16(b.defaultMem.ReadU8(addr)) | uint16(b.defaultMem.ReadU8(addr+1))<<8
	}
	b.syncIfNeeded(r.syncSensitive)
	if w, ok := r.handler.(WideMemoryHandler); ok {
		return w.ReadU16(off)
	}
	return uint16(r.handler.ReadU8(off)) | uint16(r.handler.ReadU8(off+1))<<8
}

func (b *Bus) WriteU16(addr uint32, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr &= b.addressMask
	b.addCycles(2)
	r, off, ok := b.findMem(addr)
	if !ok {
		b.defaultMem.WriteU8(addr, byte(value))
		b.defaultMem.WriteU8(addr+1, byte(value>>8))
		return
	}
	b.syncIfNeeded(r.syncSensitive)
	if w, ok := r.handler.(WideMemoryHandler); ok {
		w.WriteU16(off, value)
		return
	}
	r.handler.WriteU8(off, byte(value))
	r.handler.WriteU8(off+1, byte(value>>8))
}

func (b *Bus) ReadU32(addr uint32) uint32 {
	lo := uint32(b.ReadU16(addr))
	hi := uint32(b.ReadU16(addr + 2))
	return lo | hi<<16
}

func (b *Bus) WriteU32(addr uint32, value uint32) {
	b.WriteU16(addr, uint16(value))
	b.WriteU16(addr+2, uint16(value>>16))
}

func (b *Bus) ReadU64(addr uint32) uint64 {
	lo := uint64(b.ReadU32(addr))
	hi := uint64(b.ReadU32(addr + 4))
	return lo | hi<<32
}

func (b *Bus) WriteU64(addr uint32, value uint64) {
	b.WriteU32(addr, uint32(value))
	b.WriteU32(addr+4, uint32(value>>32))
}

// PeekU8 performs a non-faulting, non-cycle-consuming read for debugger use,
// per spec.md §6's peek_u8 contract.
func (b *Bus) PeekU8(addr uint32) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr &= b.addressMask
	r, off, ok := b.findMem(addr)
	if !ok {
		return 0xFF
	}
	if p, ok := r.handler.(Peeker); ok {
		return p.PeekU8(off)
	}
	return r.handler.ReadU8(off)
}

// --- port I/O access ---

func (b *Bus) In8(port uint16) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCycles(1)
	r, ok := b.findIO(port)
	if !ok {
		return b.defaultIO.In8(port)
	}
	b.syncIfNeeded(r.syncSensitive)
	return r.handler.In8(port)
}

func (b *Bus) Out8(port uint16, value byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCycles(1)
	r, ok := b.findIO(port)
	if !ok {
		b.defaultIO.Out8(port, value)
		return
	}
	b.syncIfNeeded(r.syncSensitive)
	r.handler.Out8(port, value)
}

func (b *Bus) In16(port uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCycles(2)
	r, ok := b.findIO(port)
	if !ok {
		return uint16(b.defaultIO.In8(port)) | uint16(b.defaultIO.In8(port+1))<<8
	}
	b.syncIfNeeded(r.syncSensitive)
	if w, ok := r.handler.(WideIOHandler); ok {
		return w.In16(port)
	}
	return uint16(r.handler.In8(port)) | uint16(r.handler.In8(port+1))<<8
}

func (b *Bus) Out16(port uint16, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCycles(2)
	r, ok := b.findIO(port)
	if !ok {
		b.defaultIO.Out8(port, byte(value))
		b.defaultIO.Out8(port+1, byte(value>>8))
		return
	}
	b.syncIfNeeded(r.syncSensitive)
	if w, ok := r.handler.(WideIOHandler); ok {
		w.Out16(port, value)
		return
	}
	r.handler.Out8(port, byte(value))
	r.handler.Out8(port+1, byte(value>>8))
}

func (b *Bus) In32(port uint16) uint32 {
	lo := uint32(b.In16(port))
	hi := uint32(b.In16(port + 2))
	return lo | hi<<16
}

func (b *Bus) Out32(port uint16, value uint32) {
	b.Out16(port, uint16(value))
	b.Out16(port+2, uint16(value>>16))
}
