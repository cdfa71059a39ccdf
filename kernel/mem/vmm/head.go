package vmm

import (
	"hexos/kernel"
	"hexos/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errMisalignedHugePage = &kernel.Error{Module: "vmm", Message: "huge page frame is not aligned to the huge page size"}
	errPageAlreadyMapped  = &kernel.Error{Module: "vmm", Message: "page is already mapped"}
	errUnmapInvalidPage   = &kernel.Error{Module: "vmm", Message: "cannot unmap a page that is not mapped"}
	errUnmapHugePage      = &kernel.Error{Module: "vmm", Message: "cannot unmap a page that is part of a huge page mapping"}
)

// PageTableHead provides access to the active 4-level page table through
// the recursive mapping installed in the last P4 entry.
//
// Map, Unmap and Translate perform no locking. Callers must ensure that at
// most one of them runs at any time.
type PageTableHead struct {
	p4 P4Table
}

// P4 returns the top-level table.
func (h *PageTableHead) P4() P4Table {
	return h.p4
}

// Translate returns the physical address that virtAddr maps to or
// ErrInvalidMapping if the address is not mapped.
func (h *PageTableHead) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, ok := h.TranslatePage(PageFromAddress(virtAddr))
	if !ok {
		return 0, ErrInvalidMapping
	}

	return frame.Address() + PageOffset(virtAddr), nil
}

// TranslatePage returns the physical frame that page maps to. Pages inside
// a 1G or 2M huge page mapping resolve to the matching frame inside the
// huge page. A huge page whose frame is not aligned to its size causes a
// kernel panic.
func (h *PageTableHead) TranslatePage(page Page) (pmm.Frame, bool) {
	p3, ok := h.p4.NextTable(page.P4Index())
	if !ok {
		return pmm.InvalidFrame, false
	}

	if p3Entry := p3.Entry(page.P3Index()); p3Entry.HasFlags(FlagPresent | FlagHugePage) {
		startFrame, _ := p3Entry.Frame()
		if startFrame%hugePageFrames1G != 0 {
			panicFn(errMisalignedHugePage)
			return pmm.InvalidFrame, false
		}

		return startFrame + pmm.Frame(page.P2Index()*entriesPerTable+page.P1Index()), true
	}

	p2, ok := p3.NextTable(page.P3Index())
	if !ok {
		return pmm.InvalidFrame, false
	}

	if p2Entry := p2.Entry(page.P2Index()); p2Entry.HasFlags(FlagPresent | FlagHugePage) {
		startFrame, _ := p2Entry.Frame()
		if startFrame%hugePageFrames2M != 0 {
			panicFn(errMisalignedHugePage)
			return pmm.InvalidFrame, false
		}

		return startFrame + pmm.Frame(page.P1Index()), true
	}

	p1, ok := p2.NextTable(page.P2Index())
	if !ok {
		return pmm.InvalidFrame, false
	}

	return p1.Entry(page.P1Index()).Frame()
}

// MapTo establishes a mapping between page and frame, allocating any
// missing intermediate tables from alloc. The entry is always marked present
// and writable in addition to flags. Mapping a page that is already in use
// causes a kernel panic.
func (h *PageTableHead) MapTo(page Page, frame pmm.Frame, flags EntryFlag, alloc pmm.FrameAllocator) *kernel.Error {
	p3, err := h.p4.NextTableCreate(page.P4Index(), alloc)
	if err != nil {
		return err
	}

	p2, err := p3.NextTableCreate(page.P3Index(), alloc)
	if err != nil {
		return err
	}

	p1, err := p2.NextTableCreate(page.P2Index(), alloc)
	if err != nil {
		return err
	}

	entry := p1.Entry(page.P1Index())
	if !entry.IsUnused() {
		panicFn(errPageAlreadyMapped)
		return errPageAlreadyMapped
	}

	entry.Set(frame, flags|FlagPresent|FlagRW)
	return nil
}

// Map allocates a frame from alloc and maps page to it.
func (h *PageTableHead) Map(page Page, flags EntryFlag, alloc pmm.FrameAllocator) *kernel.Error {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return err
	}

	return h.MapTo(page, frame, flags, alloc)
}

// IdentityMap maps frame to the page with the same address.
func (h *PageTableHead) IdentityMap(frame pmm.Frame, flags EntryFlag, alloc pmm.FrameAllocator) *kernel.Error {
	return h.MapTo(PageFromAddress(frame.Address()), frame, flags, alloc)
}

// Unmap removes the mapping for page, flushes its TLB entry and hands the
// frame back to alloc. Intermediate tables are never released. Unmapping a
// page that is not mapped, or that belongs to a huge page, causes a kernel
// panic.
func (h *PageTableHead) Unmap(page Page, alloc pmm.FrameAllocator) {
	if _, ok := h.TranslatePage(page); !ok {
		panicFn(errUnmapInvalidPage)
		return
	}

	p1, ok := h.leafTable(page)
	if !ok {
		panicFn(errUnmapHugePage)
		return
	}

	entry := p1.Entry(page.P1Index())
	frame, _ := entry.Frame()
	entry.SetUnused()
	hw.FlushTLBEntry(page.Address())

	alloc.FreeFrame(frame)
}

// leafTable walks the 4K table chain for page. It returns false if any
// level is missing or maps a huge page.
func (h *PageTableHead) leafTable(page Page) (P1Table, bool) {
	p3, ok := h.p4.NextTable(page.P4Index())
	if !ok {
		return P1Table{}, false
	}

	p2, ok := p3.NextTable(page.P3Index())
	if !ok {
		return P1Table{}, false
	}

	return p2.NextTable(page.P2Index())
}
