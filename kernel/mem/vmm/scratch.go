package vmm

import (
	"hexos/kernel"
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
	"hexos/kernel/sync"
)

var (
	// ErrOutOfScratchPages is returned by AllocAny when no existing leaf
	// table has a free slot.
	ErrOutOfScratchPages = &kernel.Error{Module: "vmm", Message: "no unused page in the existing page tables"}

	// scratchLock serializes AllocAny callers.
	scratchLock sync.Spinlock
)

// AllocAny finds the first unused leaf entry in the tables that already
// exist, maps a newly allocated frame there and returns the page. The search
// visits P4 entries in ascending order and never descends into the recursive
// slot or into huge page mappings. No new intermediate tables are created.
func (h *PageTableHead) AllocAny(alloc pmm.FrameAllocator) (*[mem.PageSize]byte, *kernel.Error) {
	scratchLock.Acquire()
	defer scratchLock.Release()

	page, err := h.allocAny(alloc)
	if err != nil {
		return nil, err
	}

	return (*[mem.PageSize]byte)(hw.Pointer(page.Address())), nil
}

func (h *PageTableHead) allocAny(alloc pmm.FrameAllocator) (Page, *kernel.Error) {
	for p4Index := uint(0); p4Index < recursiveSlot; p4Index++ {
		p3, ok := h.p4.NextTable(p4Index)
		if !ok {
			continue
		}

		for p3Index := uint(0); p3Index < entriesPerTable; p3Index++ {
			p2, ok := p3.NextTable(p3Index)
			if !ok {
				continue
			}

			for p2Index := uint(0); p2Index < entriesPerTable; p2Index++ {
				p1, ok := p2.NextTable(p2Index)
				if !ok {
					continue
				}

				for p1Index := uint(0); p1Index < entriesPerTable; p1Index++ {
					if !p1.Entry(p1Index).IsUnused() {
						continue
					}

					page := PageFromTableIndices(p4Index, p3Index, p2Index, p1Index)
					return page, h.Map(page, FlagPresent|FlagRW, alloc)
				}
			}
		}
	}

	return 0, ErrOutOfScratchPages
}
