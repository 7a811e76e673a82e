package cpux86

// TLB is the 8-set x 4-way software-managed translation cache, per
// spec.md §3: set index (linearAddr>>12)&7, pseudo-random replacement (no
// LRU) choosing from bits [4:6] of the linear address on an all-valid set.
const (
	tlbSets = 8
	tlbWays = 4
)

const (
	tlbV = 1 << 0 // valid
	tlbW = 1 << 1 // writable
	tlbU = 1 << 2 // user-accessible
	tlbD = 1 << 3 // dirty (set only via a walk, per spec.md §4.2)
)

type tlbEntry struct {
	tag   uint32 // linear page number, valid only when flags&tlbV
	phys  uint32 // physical page base
	flags uint32
}

type TLB struct {
	sets [tlbSets][tlbWays]tlbEntry
}

func setIndex(linear uint32) int { return int((linear >> 12) & (tlbSets - 1)) }

func (t *TLB) find(linear uint32) (*tlbEntry, bool) {
	page := linear &^ 0xFFF
	set := &t.sets[setIndex(linear)]
	for i := range set {
		if set[i].flags&tlbV != 0 && set[i].tag == page {
			return &set[i], true
		}
	}
	return nil, false
}

// alloc picks a victim way: the first invalid way, else one chosen from bits
// [4:6] of the linear address (pseudo-random, no LRU), per spec.md §3.
func (t *TLB) alloc(linear uint32) *tlbEntry {
	set := &t.sets[setIndex(linear)]
	for i := range set {
		if set[i].flags&tlbV == 0 {
			return &set[i]
		}
	}
	victim := (linear >> 4) & (tlbWays - 1)
	return &set[victim]
}

// Flush invalidates every entry — called on CR3 writes and PG toggles, per
// spec.md §3's Lifecycle note, and verified by the invariant in spec.md §8.
func (t *TLB) Flush() {
	for s := range t.sets {
		for w := range t.sets[s] {
			t.sets[s][w] = tlbEntry{}
		}
	}
}

// PDE/PTE bit layout, per original_source/cpu.h's PT32_MASK_* constants.
const (
	pt32MaskP    = 1 << 0
	pt32MaskW    = 1 << 1
	pt32MaskU    = 1 << 2
	pt32MaskA    = 1 << 5
	pt32MaskD    = 1 << 6
	pt32MaskAddr = 0xFFFFF000
	pageShift    = 12
	pageSize     = 1 << pageShift
	pageMask     = pageSize - 1
)

// pagingRequest normalises access flags per spec.md §4.2 step 1: CPL==3
// becomes "user", and CPL==0 with CR0.WP==0 disables the write check.
type pagingRequest struct {
	write bool
	user  bool
}

func (c *CPU) pagingRequest(write bool) pagingRequest {
	user := c.state.CPL == 3
	w := write
	if !user && !c.state.WriteProtectUser() {
		w = false
	}
	return pagingRequest{write: w, user: user}
}

// pageLookup implements spec.md §4.2's paging algorithm: TLB check with
// dirty-bit semantics, then a two-level walk on miss, then TLB refresh.
// Grounded on original_source/cpu.cpp's pageLookup.
func (c *CPU) pageLookup(linear uint32, req pagingRequest) (phys uint32, fault *CPUFault) {
	if e, ok := c.tlb.find(linear); ok {
		sufficient := (!req.write || e.flags&tlbW != 0) && (!req.user || e.flags&tlbU != 0)
		if sufficient {
			if req.write && e.flags&tlbD == 0 {
				// Dirty bit clear on a write hit: treat as miss to set D,
				// per spec.md §4.2 and the Open Question in spec.md §9
				// about TLB dirty-bit under-specification — we choose to
				// always re-walk rather than patch the TLB entry in place,
				// which keeps the TLB and the in-memory PTE from diverging.
			} else {
				return e.phys | (linear & pageMask), nil
			}
		}
	}

	pdeAddr := (c.state.CR[3] & pt32MaskAddr) + uint32(linear>>22)*4
	pde := c.bus.ReadU32(pdeAddr)
	if pde&pt32MaskP == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(false, req.write, req.user))
	}
	if req.user && pde&pt32MaskU == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(true, req.write, req.user))
	}
	if req.write && pde&pt32MaskW == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(true, req.write, req.user))
	}

	pteAddr := (pde & pt32MaskAddr) + uint32((linear>>12)&0x3FF)*4
	pte := c.bus.ReadU32(pteAddr)
	if pte&pt32MaskP == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(false, req.write, req.user))
	}
	if req.user && pte&pt32MaskU == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(true, req.write, req.user))
	}
	if req.write && pte&pt32MaskW == 0 {
		return 0, newFaultWithError(ExcPF, pageFaultErrorCode(true, req.write, req.user))
	}

	// Step 4: set A/D on success and refresh the TLB. Memory ordering is not
	// modelled, per spec.md §4.2.
	if pde&pt32MaskA == 0 {
		c.bus.WriteU32(pdeAddr, pde|pt32MaskA)
	}
	if pte&pt32MaskA == 0 || (req.write && pte&pt32MaskD == 0) {
		pte |= pt32MaskA
		if req.write {
			pte |= pt32MaskD
		}
		c.bus.WriteU32(pteAddr, pte)
	}

	entry := c.tlb.alloc(linear)
	flags := uint32(tlbV)
	if pte&pt32MaskW != 0 {
		flags |= tlbW
	}
	if pte&pt32MaskU != 0 {
		flags |= tlbU
	}
	if pte&pt32MaskD != 0 {
		flags |= tlbD
	}
	*entry = tlbEntry{tag: linear &^ pageMask, phys: pte & pt32MaskAddr, flags: flags}

	return (pte & pt32MaskAddr) | (linear & pageMask), nil
}
