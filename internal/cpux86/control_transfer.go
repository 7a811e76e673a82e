package cpux86

import "github.com/x86core/x86core/internal/desc"

// doNearControlTransfer implements a same-segment JMP/CALL/RET: update EIP,
// masked to ipMask(), and flush the prefetch queue, per spec.md §4.2 and
// §8's round-trip invariant ("a near jmp to the instruction after itself is
// a no-op on every register except EIP").
func (c *CPU) doNearControlTransfer(newIP uint32) *CPUFault {
	c.state.EIP = uint64(newIP) & c.ipMask()
	if fault := c.checkIpLimit(); fault != nil {
		return fault
	}
	c.flushPrefetch()
	return nil
}

func (c *CPU) flushPrefetch() {
	c.prefetch.Flush(c.currentLinearIP())
}

// loadCodeSegment installs a new CS selector/descriptor pair and updates
// CPL to the descriptor's DPL (conforming segments keep the caller's CPL),
// per original_source/cpu.cpp's loadCS, then flushes the prefetch queue.
func (c *CPU) loadCodeSegment(selector uint16, d desc.Descriptor, newEIP uint32, cpl uint8) {
	c.state.Seg[SRegCS] = SegCache{Selector: selector, Descriptor: d}
	c.state.CPL = cpl
	c.state.EIP = uint64(newEIP) & c.ipMask()
	c.flushPrefetch()
}

// resolveSelector fetches and classifies the descriptor a selector names,
// consulting the LDT when the TI bit is set, per spec.md §4.2.
func (c *CPU) resolveSelector(selector uint16) (desc.Descriptor, *CPUFault) {
	if selector&0xFFFC == 0 {
		return desc.Descriptor{}, newFaultWithError(ExcGP, 0)
	}
	var table desc.Table
	if desc.SelectorTI(selector) {
		table = desc.Table{Base: uint64(c.state.LDTR.Descriptor.Base), Limit: uint16(c.state.LDTR.Descriptor.Limit)}
	} else {
		table = c.state.GDT
	}
	addr, ok := table.EntryAddress(selector)
	if !ok {
		return desc.Descriptor{}, newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, desc.SelectorTI(selector)))
	}
	raw := c.bus.ReadU64(uint32(addr))
	return desc.FromU64(raw), nil
}

// doFarControlTransfer implements a far JMP/CALL target resolution,
// handling a direct code-segment descriptor or a call gate indirection, per
// spec.md §4.2 and the scenario in spec.md §8 ("protected-mode far JMP
// through a conforming code segment keeps CPL unchanged").
func (c *CPU) doFarControlTransfer(selector uint16, offset uint32, isCall bool) *CPUFault {
	if !c.state.ProtectedMode() || c.state.VM86() {
		c.state.Seg[SRegCS] = SegCache{Selector: selector, Descriptor: c.makeRealModeDescriptor(selector, true)}
		c.state.EIP = uint64(offset) & c.ipMask()
		c.flushPrefetch()
		return nil
	}

	d, fault := c.resolveSelector(selector)
	if fault != nil {
		return fault
	}

	switch d.Kind {
	case desc.KindCodeData:
		if !d.IsCode {
			return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
		}
		rpl := uint8(selector & 3)
		if d.Conforming {
			if d.DPL > c.state.CPL {
				return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
			}
		} else {
			if rpl > c.state.CPL || d.DPL != c.state.CPL {
				return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
			}
		}
		if !d.Present {
			return newFaultWithError(ExcNP, selectorErrorCode(selector, false, false, false))
		}
		cpl := c.state.CPL
		if !d.Conforming {
			cpl = d.DPL
		}
		c.loadCodeSegment(selector, d, offset, cpl)
		return nil

	case desc.KindCallGate:
		if d.DPL < c.state.CPL {
			return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
		}
		if !d.Present {
			return newFaultWithError(ExcNP, selectorErrorCode(selector, false, false, false))
		}
		codeDesc, fault := c.resolveSelector(d.GateSelector)
		if fault != nil {
			return fault
		}
		if !codeDesc.IsCode {
			return newFaultWithError(ExcGP, selectorErrorCode(d.GateSelector, false, false, false))
		}
		cpl := c.state.CPL
		if !codeDesc.Conforming {
			cpl = codeDesc.DPL
		}
		if isCall && cpl < c.state.CPL {
			return c.callGatePrivilegeChange(d.GateSelector, codeDesc, d.GateOffset, cpl)
		}
		c.loadCodeSegment(d.GateSelector, codeDesc, d.GateOffset, cpl)
		return nil

	case desc.KindTaskGate:
		// Task switching is out of scope per spec.md §9's Open Question;
		// callers that reach a task gate get a host-visible signal instead
		// of a silent no-op.
		return nil

	default:
		return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
	}
}

// callGatePrivilegeChange implements the inner-privilege-level call-gate
// path: switch to the new level's stack (from the TSS), push the caller's
// SS:ESP and return address, per spec.md §4.2.
func (c *CPU) callGatePrivilegeChange(selector uint16, d desc.Descriptor, offset uint32, newCPL uint8) *CPUFault {
	newSS, newESP, fault := c.tssStackFor(newCPL)
	if fault != nil {
		return fault
	}
	oldSS := c.state.Seg[SRegSS]
	oldESP := c.state.GetReg32(RegSP)

	ssDesc, fault := c.resolveSelector(newSS)
	if fault != nil {
		return fault
	}
	c.state.Seg[SRegSS] = SegCache{Selector: newSS, Descriptor: ssDesc}
	c.state.SetReg32(RegSP, newESP)

	size := 4
	if !d.Is32Bit {
		size = 2
	}
	if fault := c.Push(uint64(oldSS.Selector), size); fault != nil {
		return fault
	}
	if fault := c.Push(uint64(oldESP), size); fault != nil {
		return fault
	}

	c.loadCodeSegment(selector, d, offset, newCPL)
	return nil
}

// tssStackFor reads the SSn/ESPn fields from the current 32-bit TSS for the
// given privilege level, per original_source/cpu_descriptor.h's TSS32
// layout (offsets 4,8 for level 0's ESP0/SS0, +8 per level).
func (c *CPU) tssStackFor(level uint8) (ss uint16, esp uint32, fault *CPUFault) {
	tr := c.state.TR.Descriptor
	if !tr.Present || tr.Kind != desc.KindTSS {
		return 0, 0, newFaultWithError(ExcTS, 0)
	}
	base := uint32(4) + uint32(level)*8
	esp = c.bus.ReadU32(tr.Base + base)
	ss = uint16(c.bus.ReadU32(tr.Base + base + 4))
	return ss, esp, nil
}

// doInterrupt implements spec.md §4.2's interrupt/exception dispatch:
// fetch the IDT gate (or real-mode IVT entry), push flags/CS/IP (and
// possibly SS/SP on a privilege change), clear IF/TF for interrupt gates,
// and transfer control — per original_source/cpu.cpp's doInterrupt.
func (c *CPU) doInterrupt(vector int, origin int, hasError bool, errorCode uint32) *CPUFault {
	if !c.state.ProtectedMode() {
		return c.doRealModeInterrupt(vector)
	}
	if c.state.VM86() {
		return c.doVM86InterruptToMonitor(vector, hasError, errorCode)
	}

	if uint64(vector)*8+7 > uint64(c.state.IDT.Limit) {
		return newFaultWithError(ExcGP, selectorErrorCode(uint16(vector*8), false, true, false))
	}
	idtAddr := c.state.IDT.Base + uint64(vector)*8
	raw := c.bus.ReadU64(uint32(idtAddr))
	gate := desc.FromU64(raw)
	if gate.Kind != desc.KindInterruptOrTrapGate {
		return newFaultWithError(ExcGP, selectorErrorCode(uint16(vector*8), false, true, false))
	}
	if origin == OriginSoftware && gate.DPL < c.state.CPL {
		return newFaultWithError(ExcGP, selectorErrorCode(uint16(vector*8), false, true, false))
	}
	if !gate.Present {
		return newFaultWithError(ExcNP, selectorErrorCode(uint16(vector*8), false, true, false))
	}

	codeDesc, fault := c.resolveSelector(gate.GateSelector)
	if fault != nil {
		return fault
	}

	size := 4
	if !gate.Is32Bit {
		size = 2
	}
	oldFlags := c.state.EFLAGS
	oldCS := c.state.Seg[SRegCS]
	oldEIP := uint32(c.state.EIP)

	newCPL := c.state.CPL
	if !codeDesc.Conforming {
		newCPL = codeDesc.DPL
	}
	if newCPL < c.state.CPL {
		newSS, newESP, ftErr := c.tssStackFor(newCPL)
		if ftErr != nil {
			return ftErr
		}
		oldSS := c.state.Seg[SRegSS]
		oldESP := c.state.GetReg32(RegSP)
		ssDesc, ftErr2 := c.resolveSelector(newSS)
		if ftErr2 != nil {
			return ftErr2
		}
		c.state.Seg[SRegSS] = SegCache{Selector: newSS, Descriptor: ssDesc}
		c.state.SetReg32(RegSP, newESP)
		c.Push(uint64(oldSS.Selector), size)
		c.Push(uint64(oldESP), size)
	}

	c.Push(uint64(oldFlags), size)
	c.Push(uint64(oldCS.Selector), size)
	c.Push(uint64(oldEIP), size)
	if hasError {
		c.Push(uint64(errorCode), size)
	}

	c.state.EFLAGS &^= FlagTF
	// Trap gates leave IF untouched; interrupt gates clear it. Both are
	// KindInterruptOrTrapGate, told apart by the type nibble of the access
	// byte that FromU64 keeps in gate.Access.
	if t := gate.Access & desc.AccessTypeMask; t == desc.SysTypeIntGate16 || t == desc.SysTypeIntGate32 {
		c.state.EFLAGS &^= FlagIF
	}
	c.state.EFLAGS &^= FlagNT

	c.loadCodeSegment(gate.GateSelector, codeDesc, gate.GateOffset, newCPL)
	return nil
}

// doVM86InterruptToMonitor implements the interrupt/exception path taken
// while running in VM86 mode: unlike a real-mode interrupt, control always
// transfers through the protected-mode IDT to the CPL-0 monitor, pushing
// GS,FS,DS,ES ahead of the usual SS:ESP/FLAGS/CS:IP frame and clearing those
// four segments and the VM flag, per original_source/cpu.cpp's
// tssRestoreStack(fromVM86=true) and doControlTransfer's isInterrupt path.
func (c *CPU) doVM86InterruptToMonitor(vector int, hasError bool, errorCode uint32) *CPUFault {
	if uint64(vector)*8+7 > uint64(c.state.IDT.Limit) {
		return newFaultWithError(ExcGP, selectorErrorCode(uint16(vector*8), false, true, false))
	}
	idtAddr := c.state.IDT.Base + uint64(vector)*8
	raw := c.bus.ReadU64(uint32(idtAddr))
	gate := desc.FromU64(raw)
	if gate.Kind != desc.KindInterruptOrTrapGate {
		return newFaultWithError(ExcGP, selectorErrorCode(uint16(vector*8), false, true, false))
	}
	if !gate.Present {
		return newFaultWithError(ExcNP, selectorErrorCode(uint16(vector*8), false, true, false))
	}

	codeDesc, fault := c.resolveSelector(gate.GateSelector)
	if fault != nil {
		return fault
	}

	size := 4
	if !gate.Is32Bit {
		size = 2
	}

	oldGS, oldFS, oldDS, oldES := c.state.Seg[SRegGS], c.state.Seg[SRegFS], c.state.Seg[SRegDS], c.state.Seg[SRegES]
	oldSS := c.state.Seg[SRegSS]
	oldESP := c.state.GetReg32(RegSP)
	oldFlags := c.state.EFLAGS
	oldCS := c.state.Seg[SRegCS]
	oldEIP := uint32(c.state.EIP)

	// VM86 interrupt delivery always targets CPL 0, per tssRestoreStack's
	// "newCpl != 0" invariant.
	newSS, newESP, ftErr := c.tssStackFor(0)
	if ftErr != nil {
		return ftErr
	}
	ssDesc, ftErr2 := c.resolveSelector(newSS)
	if ftErr2 != nil {
		return ftErr2
	}
	c.state.Seg[SRegSS] = SegCache{Selector: newSS, Descriptor: ssDesc}
	c.state.SetReg32(RegSP, newESP)

	c.Push(uint64(oldGS.Selector), size)
	c.Push(uint64(oldFS.Selector), size)
	c.Push(uint64(oldDS.Selector), size)
	c.Push(uint64(oldES.Selector), size)
	c.Push(uint64(oldSS.Selector), size)
	c.Push(uint64(oldESP), size)
	c.Push(uint64(oldFlags), size)
	c.Push(uint64(oldCS.Selector), size)
	c.Push(uint64(oldEIP), size)
	if hasError {
		c.Push(uint64(errorCode), size)
	}

	c.state.Seg[SRegGS] = SegCache{}
	c.state.Seg[SRegFS] = SegCache{}
	c.state.Seg[SRegDS] = SegCache{}
	c.state.Seg[SRegES] = SegCache{}

	c.state.EFLAGS &^= FlagVM | FlagTF | FlagNT
	if gate.Kind == desc.KindInterruptOrTrapGate {
		c.state.EFLAGS &^= FlagIF
	}

	c.loadCodeSegment(gate.GateSelector, codeDesc, gate.GateOffset, 0)
	return nil
}

// doRealModeInterrupt implements the real-mode IVT walk (VM86 interrupts go
// through doVM86InterruptToMonitor instead): 4-byte
// IP:CS entries at vector*4, pushing FLAGS:CS:IP, per spec.md §8's scenario
// 3 ("real-mode INT 0x21 ... walks the IVT at physical address 0x84").
func (c *CPU) doRealModeInterrupt(vector int) *CPUFault {
	entryAddr := uint32(vector) * 4
	ip := c.bus.ReadU16(entryAddr)
	cs := c.bus.ReadU16(entryAddr + 2)

	oldFlags := c.state.EFLAGS
	oldCS := c.state.Seg[SRegCS].Selector
	oldIP := uint32(c.state.EIP)

	if fault := c.Push(uint64(oldFlags), 2); fault != nil {
		return fault
	}
	if fault := c.Push(uint64(oldCS), 2); fault != nil {
		return fault
	}
	if fault := c.Push(uint64(oldIP), 2); fault != nil {
		return fault
	}

	c.state.EFLAGS &^= FlagTF | FlagIF
	c.state.Seg[SRegCS] = SegCache{Selector: cs, Descriptor: c.makeRealModeDescriptor(cs, true)}
	c.state.EIP = uint64(ip)
	c.flushPrefetch()
	return nil
}

// doFarReturn implements RETF: pop IP/CS (and flags for IRET), validate the
// target descriptor, and restore the caller's stack when returning to an
// outer privilege level.
func (c *CPU) doFarReturn(operandSize16 bool, popBytes uint32) *CPUFault {
	size := 4
	if operandSize16 {
		size = 2
	}
	eip, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	sel, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	selector := uint16(sel)

	if !c.state.ProtectedMode() || c.state.VM86() {
		c.state.Seg[SRegCS] = SegCache{Selector: selector, Descriptor: c.makeRealModeDescriptor(selector, true)}
		c.state.EIP = eip & c.ipMask()
		c.flushPrefetch()
		return nil
	}

	d, fault2 := c.resolveSelector(selector)
	if fault2 != nil {
		return fault2
	}
	rpl := uint8(selector & 3)
	if rpl < c.state.CPL {
		return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
	}

	if rpl > c.state.CPL {
		c.updateSP(int32(popBytes), size)
		newESP, _ := c.Pop(size)
		newSSSel, _ := c.Pop(size)
		ssDesc, fault3 := c.resolveSelector(uint16(newSSSel))
		if fault3 != nil {
			return fault3
		}
		c.loadCodeSegment(selector, d, uint32(eip), rpl)
		c.state.Seg[SRegSS] = SegCache{Selector: uint16(newSSSel), Descriptor: ssDesc}
		c.state.SetReg32(RegSP, uint32(newESP))
		return nil
	}

	c.loadCodeSegment(selector, d, uint32(eip), rpl)
	c.updateSP(int32(popBytes), size)
	return nil
}

// doInterruptReturn implements IRET, layering flags restoration (with
// FilterFlags) and the VM86 resume path on top of doFarReturn, per
// spec.md §4.2 and §12's vm86()/iopl() note.
func (c *CPU) doInterruptReturn(operandSize16 bool) *CPUFault {
	size := 4
	if operandSize16 {
		size = 2
	}
	if !c.state.ProtectedMode() || c.state.VM86() {
		eip, fault := c.Pop(size)
		if fault != nil {
			return fault
		}
		sel, fault := c.Pop(size)
		if fault != nil {
			return fault
		}
		flags, fault := c.Pop(size)
		if fault != nil {
			return fault
		}
		c.state.EFLAGS = SetFlags(FilterFlags(uint32(flags), c.state.EFLAGS, c.state.CPL, operandSize16), c.model)
		c.state.Seg[SRegCS] = SegCache{Selector: uint16(sel), Descriptor: c.makeRealModeDescriptor(uint16(sel), true)}
		c.state.EIP = eip & c.ipMask()
		c.flushPrefetch()
		return nil
	}

	eip, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	sel, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	flags, fault := c.Pop(size)
	if fault != nil {
		return fault
	}
	selector := uint16(sel)
	newFlags := FilterFlags(uint32(flags), c.state.EFLAGS, c.state.CPL, operandSize16)
	requestedPL := uint8(selector & 3)

	// Return-to-VM86: original_source/cpu.cpp's doInterruptReturn requires
	// cpl()==0 to pop a VM=1 flags word, then forces the requested privilege
	// level to 3 and resumes through the extended VM86 stack frame below.
	if Flags(newFlags).VM() {
		if c.state.CPL != 0 {
			return newFaultWithError(ExcGP, 0)
		}
		c.state.EFLAGS = SetFlags(newFlags, c.model)
		requestedPL = 3
	}

	if requestedPL > c.state.CPL {
		newESP, fault := c.Pop(size)
		if fault != nil {
			return fault
		}
		newSSSel, fault := c.Pop(size)
		if fault != nil {
			return fault
		}

		if c.state.VM86() {
			newES, fault := c.Pop(size)
			if fault != nil {
				return fault
			}
			newDS, fault := c.Pop(size)
			if fault != nil {
				return fault
			}
			newFS, fault := c.Pop(size)
			if fault != nil {
				return fault
			}
			newGS, fault := c.Pop(size)
			if fault != nil {
				return fault
			}
			c.state.Seg[SRegES] = SegCache{Selector: uint16(newES), Descriptor: c.makeRealModeDescriptor(uint16(newES), false)}
			c.state.Seg[SRegDS] = SegCache{Selector: uint16(newDS), Descriptor: c.makeRealModeDescriptor(uint16(newDS), false)}
			c.state.Seg[SRegFS] = SegCache{Selector: uint16(newFS), Descriptor: c.makeRealModeDescriptor(uint16(newFS), false)}
			c.state.Seg[SRegGS] = SegCache{Selector: uint16(newGS), Descriptor: c.makeRealModeDescriptor(uint16(newGS), false)}
			c.state.Seg[SRegCS] = SegCache{Selector: selector, Descriptor: c.makeRealModeDescriptor(selector, true)}
			c.state.CPL = requestedPL
			c.state.EIP = eip & c.ipMask()
			c.flushPrefetch()
			c.state.Seg[SRegSS] = SegCache{Selector: uint16(newSSSel), Descriptor: c.makeRealModeDescriptor(uint16(newSSSel), false)}
			c.state.SetReg32(RegSP, uint32(newESP))
			return nil
		}

		d, fault2 := c.resolveSelector(selector)
		if fault2 != nil {
			return fault2
		}
		c.state.EFLAGS = SetFlags(newFlags, c.model)
		c.loadCodeSegment(selector, d, uint32(eip), requestedPL)
		ssDesc, fault3 := c.resolveSelector(uint16(newSSSel))
		if fault3 != nil {
			return fault3
		}
		c.state.Seg[SRegSS] = SegCache{Selector: uint16(newSSSel), Descriptor: ssDesc}
		c.state.SetReg32(RegSP, uint32(newESP))
		return nil
	}

	d, fault2 := c.resolveSelector(selector)
	if fault2 != nil {
		return fault2
	}
	if requestedPL < c.state.CPL {
		return newFaultWithError(ExcGP, selectorErrorCode(selector, false, false, false))
	}
	c.state.EFLAGS = SetFlags(newFlags, c.model)
	c.loadCodeSegment(selector, d, uint32(eip), requestedPL)
	return nil
}
