package vmm

import (
	"hexos/kernel"
	"hexos/kernel/mem"
)

var (
	errNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical"}
	errTableIndexRange     = &kernel.Error{Module: "vmm", Message: "page table index out of range"}
)

// Page describes a virtual memory page index.
type Page uintptr

// PageFromAddress returns the Page that contains the given virtual address.
// Unaligned addresses are rounded down to the page that contains them.
// Addresses whose bits 48-63 are not copies of bit 47 are not canonical and
// cause a kernel panic.
func PageFromAddress(virtAddr uintptr) Page {
	if upper := virtAddr >> 47; upper != 0 && upper != 0x1ffff {
		panicFn(errNonCanonicalAddress)
	}

	return Page(virtAddr >> mem.PageShift)
}

// PageFromTableIndices returns the page whose table indices match the
// arguments. Pages with a P4 index in the upper half are sign-extended so
// that their address is canonical. Indices >= 512 cause a kernel panic.
func PageFromTableIndices(p4, p3, p2, p1 uint) Page {
	if p4 >= entriesPerTable || p3 >= entriesPerTable || p2 >= entriesPerTable || p1 >= entriesPerTable {
		panicFn(errTableIndexRange)
		return 0
	}

	page := Page(p4<<(3*pageLevelBits) | p3<<(2*pageLevelBits) | p2<<pageLevelBits | p1)
	if p4 >= entriesPerTable/2 {
		page |= Page(0xffff) << (pageLevels * pageLevelBits)
	}

	return page
}

// Address returns the virtual address of the first byte in this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// P4Index returns the index of the P4 entry for this page.
func (p Page) P4Index() uint {
	return uint(p>>(3*pageLevelBits)) & (entriesPerTable - 1)
}

// P3Index returns the index of the P3 entry for this page.
func (p Page) P3Index() uint {
	return uint(p>>(2*pageLevelBits)) & (entriesPerTable - 1)
}

// P2Index returns the index of the P2 entry for this page.
func (p Page) P2Index() uint {
	return uint(p>>pageLevelBits) & (entriesPerTable - 1)
}

// P1Index returns the index of the P1 entry for this page.
func (p Page) P1Index() uint {
	return uint(p) & (entriesPerTable - 1)
}

// PageOffset returns the offset of virtAddr inside its page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & uintptr(mem.PageSize-1)
}
