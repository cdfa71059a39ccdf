package vmm

import (
	"hexos/kernel"
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

var (
	errHugePageInWalk = &kernel.Error{Module: "vmm", Message: "cannot descend into a huge page mapping"}
)

// tableRef locates a page table through its recursively mapped virtual
// address.
type tableRef struct {
	addr uintptr
}

// entries returns the table contents.
func (t tableRef) entries() *[entriesPerTable]Entry {
	return (*[entriesPerTable]Entry)(hw.Pointer(t.addr))
}

// Entry returns a pointer to the entry at index idx.
func (t tableRef) Entry(idx uint) *Entry {
	return &t.entries()[idx]
}

// zero clears every entry of the table.
func (t tableRef) zero() {
	mem.Memset(uintptr(hw.Pointer(t.addr)), 0, mem.PageSize)
}

// nextTableAddress returns the virtual address of the table that the entry
// at idx points to. The second return value is false if the entry is not
// present or maps a huge page.
func (t tableRef) nextTableAddress(idx uint) (uintptr, bool) {
	entry := t.Entry(idx)
	if !entry.HasFlags(FlagPresent) || entry.HasFlags(FlagHugePage) {
		return 0, false
	}

	return childTableAddr(t.addr, idx), true
}

// childTableAddr returns the recursively mapped virtual address of the table
// referenced by entry idx of the table at tableAddr. Shifting the table
// address by one level moves every index one position towards the page
// offset; the vacated P1 slot selects the entry.
func childTableAddr(tableAddr uintptr, idx uint) uintptr {
	return (tableAddr << pageLevelBits) | (uintptr(idx) << mem.PageShift)
}

// nextTableCreate returns the virtual address of the table that the entry
// at idx points to, allocating and clearing a new table if the entry is not
// present. An entry with the huge page flag causes a kernel panic, whether or
// not it is present.
func (t tableRef) nextTableCreate(idx uint, alloc pmm.FrameAllocator) (uintptr, *kernel.Error) {
	entry := t.Entry(idx)
	if entry.HasFlags(FlagHugePage) {
		panicFn(errHugePageInWalk)
		return 0, errHugePageInWalk
	}

	if addr, ok := t.nextTableAddress(idx); ok {
		return addr, nil
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		return 0, err
	}

	entry.Set(frame, FlagPresent|FlagRW)
	addr, _ := t.nextTableAddress(idx)
	tableRef{addr}.zero()

	return addr, nil
}

// P4Table is the top-level page table.
type P4Table struct{ tableRef }

// P3Table is a table whose entries point to P2 tables or map 1G huge pages.
type P3Table struct{ tableRef }

// P2Table is a table whose entries point to P1 tables or map 2M huge pages.
type P2Table struct{ tableRef }

// P1Table is a leaf table whose entries map 4K pages.
type P1Table struct{ tableRef }

// NextTable returns the P3 table referenced by entry idx.
func (t P4Table) NextTable(idx uint) (P3Table, bool) {
	addr, ok := t.nextTableAddress(idx)
	return P3Table{tableRef{addr}}, ok
}

// NextTableCreate returns the P3 table referenced by entry idx, creating it
// if needed.
func (t P4Table) NextTableCreate(idx uint, alloc pmm.FrameAllocator) (P3Table, *kernel.Error) {
	addr, err := t.nextTableCreate(idx, alloc)
	return P3Table{tableRef{addr}}, err
}

// NextTable returns the P2 table referenced by entry idx.
func (t P3Table) NextTable(idx uint) (P2Table, bool) {
	addr, ok := t.nextTableAddress(idx)
	return P2Table{tableRef{addr}}, ok
}

// NextTableCreate returns the P2 table referenced by entry idx, creating it
// if needed.
func (t P3Table) NextTableCreate(idx uint, alloc pmm.FrameAllocator) (P2Table, *kernel.Error) {
	addr, err := t.nextTableCreate(idx, alloc)
	return P2Table{tableRef{addr}}, err
}

// NextTable returns the P1 table referenced by entry idx.
func (t P2Table) NextTable(idx uint) (P1Table, bool) {
	addr, ok := t.nextTableAddress(idx)
	return P1Table{tableRef{addr}}, ok
}

// NextTableCreate returns the P1 table referenced by entry idx, creating it
// if needed.
func (t P2Table) NextTableCreate(idx uint, alloc pmm.FrameAllocator) (P1Table, *kernel.Error) {
	addr, err := t.nextTableCreate(idx, alloc)
	return P1Table{tableRef{addr}}, err
}
