package vmm

import (
	"hexos/kernel"
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

var (
	errFrameOutOfRange = &kernel.Error{Module: "vmm", Message: "frame address does not fit in a page table entry"}
)

// EntryFlag describes a flag that can be applied to a page table entry.
type EntryFlag uintptr

// Entry describes a page table entry. Entries encode a physical frame
// address and a set of flags.
type Entry uintptr

// IsUnused returns true if no bit of the entry is set.
func (e Entry) IsUnused() bool {
	return e == 0
}

// SetUnused clears the entry.
func (e *Entry) SetUnused() {
	*e = 0
}

// Flags returns the flag bits of the entry.
func (e Entry) Flags() EntryFlag {
	return EntryFlag(uintptr(e) &^ ptePhysPageMask)
}

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return (uintptr(e) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (e Entry) HasAnyFlag(flags EntryFlag) bool {
	return (uintptr(e) & uintptr(flags)) != 0
}

// Frame returns the physical frame that this entry points to. The second
// return value is false if the entry is not present.
func (e Entry) Frame() (pmm.Frame, bool) {
	if !e.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, false
	}

	return pmm.Frame((uintptr(e) & ptePhysPageMask) >> mem.PageShift), true
}

// Set overwrites the entry with the given frame and flags.
func (e *Entry) Set(frame pmm.Frame, flags EntryFlag) {
	if frame.Address()&^ptePhysPageMask != 0 {
		panicFn(errFrameOutOfRange)
		return
	}

	*e = Entry(frame.Address() | (uintptr(flags) &^ ptePhysPageMask))
}
