package main

import (
	"fmt"
	"os"

	"github.com/x86core/x86core/internal/bus"
	"github.com/x86core/x86core/internal/cpux86"
	"github.com/x86core/x86core/internal/debugger"
)

// debugPortAddr is spec.md §6's "Debug port convention" trap port.
const debugPortAddr = 0x8ABC

// buildMachine assembles a Bus with RAM from 0 to f.memBytes-1, an optional
// ROM image mapped at the top of the address space (real-mode BIOS
// convention: image ends at 0x100000), and a CPU of the requested family.
// The returned DebugPort has a nil Activate until the caller wires one in,
// matching spec.md §6's debug-port trap being a no-op until a debugger is
// actually attached.
func buildMachine(f *machineFlags) (*cpux86.CPU, *bus.Bus, *debugger.DebugPort, error) {
	model, err := parseFamily(f.family)
	if err != nil {
		return nil, nil, nil, err
	}

	b := bus.New()
	if err := b.AddMemHandler(0, f.memBytes-1, bus.NewRAM(f.memBytes), false); err != nil {
		return nil, nil, nil, err
	}

	if f.romPath != "" {
		image, err := os.ReadFile(f.romPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading rom image: %w", err)
		}
		top := uint32(0x100000)
		start := top - uint32(len(image))
		if err := b.AddMemHandler(start, top-1, bus.NewROM(image), false); err != nil {
			return nil, nil, nil, fmt.Errorf("mapping rom image: %w", err)
		}
	}

	if f.cmosPath != "" {
		image, err := os.ReadFile(f.cmosPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading cmos image: %w", err)
		}
		if err := b.AddIOHandler(0x70, 0x71, bus.NewCMOS(image), false); err != nil {
			return nil, nil, nil, fmt.Errorf("mapping cmos image: %w", err)
		}
	}

	if !f.a20 {
		b.SetAddressMask(0xFFFFFFFF &^ (1 << 20))
	}

	dp := &debugger.DebugPort{}
	if err := b.AddIOHandler(debugPortAddr, debugPortAddr, dp, false); err != nil {
		return nil, nil, nil, err
	}

	cpu := cpux86.New(model, b)
	return cpu, b, dp, nil
}
