// Package emu emulates the parts of an amd64 machine that the memory manager
// talks to: banks of physical RAM and an MMU that walks 4-level page tables
// rooted at CR3. It lets the page table code run unmodified inside a hosted
// process.
package emu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/google/btree"
	"golang.org/x/sys/unix"

	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm/allocator"
)

var (
	// ErrUnalignedBank is returned when a bank does not start and end on a
	// page boundary.
	ErrUnalignedBank = errors.New("emu: bank is not page aligned")

	// ErrOverlappingBank is returned when a bank overlaps an existing one.
	ErrOverlappingBank = errors.New("emu: bank overlaps an existing bank")

	// ErrUnbackedAddress is returned for physical addresses that are not
	// backed by any bank.
	ErrUnbackedAddress = errors.New("emu: physical address is not backed by RAM")
)

// bank is a contiguous block of emulated physical RAM.
type bank struct {
	base uint64
	data []byte
}

func (b *bank) end() uint64 {
	return b.base + uint64(len(b.data))
}

func bankLess(a, b *bank) bool {
	return a.base < b.base
}

// Memory is the physical address space of an emulated machine. Each bank is
// backed by an anonymous host mapping so its contents never move.
type Memory struct {
	banks *btree.BTreeG[*bank]
}

// NewMemory returns an empty physical address space.
func NewMemory() *Memory {
	return &Memory{banks: btree.NewG(2, bankLess)}
}

// AddBank backs the physical range [base, base+length) with zeroed RAM.
func (m *Memory) AddBank(base, length uint64) error {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	if length == 0 || base&pageSizeMinus1 != 0 || length&pageSizeMinus1 != 0 {
		return fmt.Errorf("%w: [%#x, %#x)", ErrUnalignedBank, base, base+length)
	}

	overlap := false
	m.banks.DescendLessOrEqual(&bank{base: base + length - 1}, func(b *bank) bool {
		overlap = b.end() > base
		return false
	})
	if overlap {
		return fmt.Errorf("%w: [%#x, %#x)", ErrOverlappingBank, base, base+length)
	}

	data, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("emu: failed to mmap bank [%#x, %#x): %w", base, base+length, err)
	}

	m.banks.ReplaceOrInsert(&bank{base: base, data: data})
	return nil
}

// Close releases the host memory backing every bank.
func (m *Memory) Close() error {
	var err error
	m.banks.Ascend(func(b *bank) bool {
		if unmapErr := unix.Munmap(b.data); unmapErr != nil && err == nil {
			err = unmapErr
		}
		return true
	})
	m.banks.Clear(false)
	return err
}

// lookup returns the bank that contains physAddr.
func (m *Memory) lookup(physAddr uint64) (*bank, bool) {
	var found *bank
	m.banks.DescendLessOrEqual(&bank{base: physAddr}, func(b *bank) bool {
		if physAddr < b.end() {
			found = b
		}
		return false
	})

	return found, found != nil
}

// HostPointer returns a host pointer to the byte at physAddr.
func (m *Memory) HostPointer(physAddr uint64) (unsafe.Pointer, error) {
	b, ok := m.lookup(physAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnbackedAddress, physAddr)
	}

	return unsafe.Pointer(&b.data[physAddr-b.base]), nil
}

// ReadUint64 reads the 64-bit little-endian word at physAddr.
func (m *Memory) ReadUint64(physAddr uint64) (uint64, error) {
	ptr, err := m.HostPointer(physAddr)
	if err != nil {
		return 0, err
	}

	return *(*uint64)(ptr), nil
}

// WriteUint64 stores val at physAddr.
func (m *Memory) WriteUint64(physAddr, val uint64) error {
	ptr, err := m.HostPointer(physAddr)
	if err != nil {
		return err
	}

	*(*uint64)(ptr) = val
	return nil
}

// VisitMemAreas reports each bank as a usable RAM area in ascending address
// order. It allows a Memory to act as the area source of a frame allocator.
func (m *Memory) VisitMemAreas(visitor allocator.MemoryAreaVisitor) {
	m.banks.Ascend(func(b *bank) bool {
		return visitor(allocator.MemoryArea{BaseAddress: b.base, Length: uint64(len(b.data))})
	})
}

// PhysAddress maps a host pointer returned by HostPointer back to the
// physical address it refers to.
func (m *Memory) PhysAddress(ptr unsafe.Pointer) (uint64, bool) {
	host := uintptr(ptr)

	var (
		physAddr uint64
		found    bool
	)
	m.banks.Ascend(func(b *bank) bool {
		start := uintptr(unsafe.Pointer(&b.data[0]))
		if host >= start && host < start+uintptr(len(b.data)) {
			physAddr, found = b.base+uint64(host-start), true
			return false
		}
		return true
	})

	return physAddr, found
}
