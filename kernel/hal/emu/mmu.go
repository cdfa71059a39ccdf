package emu

import (
	"fmt"
	"unsafe"

	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

const (
	entryPresent  = uint64(1 << 0)
	entryWritable = uint64(1 << 1)
	entryHuge     = uint64(1 << 7)
	entryAddrMask = uint64(0x000f_ffff_ffff_f000)

	recursiveSlot = 511

	pageOffsetMask = uint64(mem.PageSize - 1)
	hugePage2M     = uint64(1 << 21)
	hugePage1G     = uint64(1 << 30)
)

// PageFault describes a failed address translation. The MMU raises it as a
// Go panic from Pointer, mirroring the exception a real CPU would deliver.
type PageFault struct {
	// The faulting virtual address.
	Addr uintptr

	// The paging level (4 to 1) whose entry was not present, or 0 if the
	// fault was not caused by a missing entry.
	Level int

	// A human readable reason.
	Reason string
}

// Error implements error.
func (f *PageFault) Error() string {
	return fmt.Sprintf("emu: page fault at %#x (level %d): %s", f.Addr, f.Level, f.Reason)
}

// Machine couples emulated physical memory with an MMU. Translations are
// cached in a software TLB that is only invalidated by FlushTLBEntry and
// SwitchPDT, so code that forgets to flush observes stale mappings just like
// it would on real hardware.
type Machine struct {
	mem *Memory

	// cr3 holds the physical address of the active P4 table.
	cr3 uint64

	// tlb maps virtual page numbers to physical page addresses.
	tlb map[uint64]uint64

	// TLBFlushes counts single-entry invalidations.
	TLBFlushes int
}

// NewMachine returns a machine whose MMU translates into memory.
func NewMachine(memory *Memory) *Machine {
	return &Machine{
		mem: memory,
		tlb: make(map[uint64]uint64),
	}
}

// Memory returns the physical memory of the machine.
func (m *Machine) Memory() *Memory {
	return m.mem
}

// Boot zeroes the frame that will hold the root table, installs the
// recursive mapping in its last slot and loads it into CR3.
func (m *Machine) Boot(root pmm.Frame) error {
	ptr, err := m.mem.HostPointer(uint64(root.Address()))
	if err != nil {
		return err
	}
	mem.Memset(uintptr(ptr), 0, mem.PageSize)

	slotAddr := uint64(root.Address()) + recursiveSlot<<mem.PointerShift
	if err = m.mem.WriteUint64(slotAddr, uint64(root.Address())|entryPresent|entryWritable); err != nil {
		return err
	}

	m.SwitchPDT(root.Address())
	return nil
}

// ActivePDT returns the physical address of the active root table.
func (m *Machine) ActivePDT() uintptr {
	return uintptr(m.cr3)
}

// SwitchPDT loads a new root table and flushes the whole TLB.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.cr3 = uint64(pdtPhysAddr)
	m.tlb = make(map[uint64]uint64)
}

// FlushTLBEntry invalidates the cached translation for virtAddr.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	delete(m.tlb, uint64(virtAddr)>>mem.PageShift)
	m.TLBFlushes++
}

// Translate returns the physical address that virtAddr maps to.
func (m *Machine) Translate(virtAddr uintptr) (uint64, error) {
	virt := uint64(virtAddr)
	if pageAddr, cached := m.tlb[virt>>mem.PageShift]; cached {
		return pageAddr | virt&pageOffsetMask, nil
	}

	if !canonical(virt) {
		return 0, &PageFault{Addr: virtAddr, Reason: "non-canonical address"}
	}

	tableAddr := m.cr3
	for level := 4; level >= 1; level-- {
		shift := uint(mem.PageShift + 9*(level-1))
		index := (virt >> shift) & 511

		entry, err := m.mem.ReadUint64(tableAddr + index<<mem.PointerShift)
		if err != nil {
			return 0, &PageFault{Addr: virtAddr, Level: level, Reason: err.Error()}
		}

		if entry&entryPresent == 0 {
			return 0, &PageFault{Addr: virtAddr, Level: level, Reason: "entry not present"}
		}

		var pageSize uint64
		switch {
		case level == 1:
			pageSize = uint64(mem.PageSize)
		case entry&entryHuge != 0 && level == 3:
			pageSize = hugePage1G
		case entry&entryHuge != 0 && level == 2:
			pageSize = hugePage2M
		case entry&entryHuge != 0:
			return 0, &PageFault{Addr: virtAddr, Level: level, Reason: "huge flag set on P4 entry"}
		default:
			tableAddr = entry & entryAddrMask
			continue
		}

		physAddr := entry&entryAddrMask&^(pageSize-1) | virt&(pageSize-1)
		m.tlb[virt>>mem.PageShift] = physAddr &^ pageOffsetMask
		return physAddr, nil
	}

	// unreachable; level 1 always terminates the walk
	return 0, &PageFault{Addr: virtAddr, Reason: "walk did not terminate"}
}

// Pointer translates virtAddr and returns a host pointer to the backing
// physical memory. It panics with a *PageFault if the address is not mapped.
func (m *Machine) Pointer(virtAddr uintptr) unsafe.Pointer {
	physAddr, err := m.Translate(virtAddr)
	if err != nil {
		panic(err)
	}

	ptr, err := m.mem.HostPointer(physAddr)
	if err != nil {
		panic(&PageFault{Addr: virtAddr, Reason: err.Error()})
	}

	return ptr
}

// canonical returns true if bits 48-63 of virt are copies of bit 47.
func canonical(virt uint64) bool {
	upper := virt >> 47
	return upper == 0 || upper == 0x1ffff
}
