// Package vmm manages the active 4-level page table of the amd64 MMU. Tables
// are accessed through a recursive mapping: the last P4 entry points back to
// the P4 table itself so that every table has a fixed virtual address.
package vmm

import (
	"unsafe"

	"hexos/kernel"
	"hexos/kernel/cpu"
	"hexos/kernel/kfmt"
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

var (
	// panicFn is used by tests to override calls to kfmt.Panic and is
	// automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// hw provides access to the memory and TLB of the machine.
	hw Hardware = nativeHardware{}

	// activeHead is the head of the active page table.
	activeHead = PageTableHead{p4: P4Table{tableRef{p4TableAddr}}}

	errMissingRecursiveMapping = &kernel.Error{Module: "vmm", Message: "last P4 entry does not point to the active P4 table"}
)

// Hardware abstracts the MMU-related operations that the vmm package needs.
type Hardware interface {
	// Pointer returns a pointer to the memory at virtAddr.
	Pointer(virtAddr uintptr) unsafe.Pointer

	// FlushTLBEntry invalidates the TLB entry for virtAddr.
	FlushTLBEntry(virtAddr uintptr)

	// ActivePDT returns the physical address of the active P4 table.
	ActivePDT() uintptr
}

// nativeHardware talks to the CPU the kernel runs on.
type nativeHardware struct{}

func (nativeHardware) Pointer(virtAddr uintptr) unsafe.Pointer { return unsafe.Pointer(virtAddr) }
func (nativeHardware) FlushTLBEntry(virtAddr uintptr)          { cpu.FlushTLBEntry(virtAddr) }
func (nativeHardware) ActivePDT() uintptr                      { return cpu.ActivePDT() }

// SetHardware replaces the machine that the package operates on and returns
// the previous one. It allows the page table code to run against an emulated
// MMU.
func SetHardware(h Hardware) Hardware {
	prev := hw
	hw = h
	return prev
}

// ActiveTable returns the head of the active page table.
func ActiveTable() *PageTableHead {
	return &activeHead
}

// Init verifies that the last entry of the active P4 table maps the table
// itself. All table accesses depend on this recursive mapping.
func Init() *kernel.Error {
	rootAddr := hw.ActivePDT()

	frame, ok := activeHead.p4.Entry(recursiveSlot).Frame()
	if !ok || frame.Address() != rootAddr {
		panicFn(errMissingRecursiveMapping)
		return errMissingRecursiveMapping
	}

	kfmt.Printf("[vmm] recursive mapping verified; P4 table at 0x%16x\n", uint64(rootAddr))
	return nil
}

// Translate returns the physical address that virtAddr maps to in the active
// page table.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return activeHead.Translate(virtAddr)
}

// AllocAny maps a fresh frame at the first unused page of the active page
// table and returns it. See PageTableHead.AllocAny.
func AllocAny(alloc pmm.FrameAllocator) (*[mem.PageSize]byte, *kernel.Error) {
	return activeHead.AllocAny(alloc)
}

// SimpleIDMap identity-maps frame as a writable page in the active page
// table.
func SimpleIDMap(frame pmm.Frame, alloc pmm.FrameAllocator) *kernel.Error {
	return activeHead.IdentityMap(frame, FlagRW, alloc)
}

// IdentityMapRegion identity-maps the frames that cover size bytes starting
// at startFrame.
func IdentityMapRegion(startFrame pmm.Frame, size mem.Size, flags EntryFlag, alloc pmm.FrameAllocator) *kernel.Error {
	pageCount := size.Pages()
	for frame := startFrame; pageCount > 0; frame, pageCount = frame+1, pageCount-1 {
		if err := activeHead.IdentityMap(frame, flags, alloc); err != nil {
			return err
		}
	}

	return nil
}
