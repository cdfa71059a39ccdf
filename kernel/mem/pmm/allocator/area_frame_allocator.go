// Package allocator provides the physical frame allocator used while the
// kernel brings up its page tables.
package allocator

import (
	"hexos/kernel"
	"hexos/kernel/kfmt"
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when every usable frame has
	// been handed out.
	ErrOutOfMemory = &kernel.Error{Module: "area_frame_alloc", Message: "out of memory"}
)

const (
	excludeKernel = iota
	excludeBootInfo
	excludeReserved
	excludedRangeCount
)

// AreaFrameAllocator hands out physical frames in ascending order by walking
// the RAM areas reported by the bootloader. The frames occupied by the
// kernel image, the boot information blob and a single reserved MMIO frame
// are never returned.
//
// The allocator does not track individual frames so freed frames cannot be
// reused. It performs no locking; callers must own it exclusively.
type AreaFrameAllocator struct {
	areas MemoryAreaSource

	// nextFree is the next candidate frame. It only ever moves forward.
	nextFree pmm.Frame

	// curLastFrame is the last whole frame of the selected area. It is
	// only meaningful if hasArea is true.
	curLastFrame pmm.Frame
	hasArea      bool

	excluded [excludedRangeCount]frameRange

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// NewAreaFrameAllocator returns an allocator for the areas reported by src.
// The kernel image occupies [kernelStart, kernelEnd), the boot information
// blob [bootInfoStart, bootInfoEnd) and reservedAddr lies inside a frame
// that is reserved for device MMIO.
func NewAreaFrameAllocator(kernelStart, kernelEnd, bootInfoStart, bootInfoEnd, reservedAddr uintptr, src MemoryAreaSource) *AreaFrameAllocator {
	alloc := &AreaFrameAllocator{areas: src}

	alloc.excluded[excludeKernel] = rangeFromAddresses(kernelStart, kernelEnd)
	alloc.excluded[excludeBootInfo] = rangeFromAddresses(bootInfoStart, bootInfoEnd)
	reservedFrame := pmm.FrameFromAddress(reservedAddr)
	alloc.excluded[excludeReserved] = frameRange{first: reservedFrame, last: reservedFrame}

	alloc.selectNextArea()
	return alloc
}

// selectNextArea picks the area with the lowest base address whose last
// whole frame is not behind nextFree. If nextFree points before the selected
// area it is moved to the area's first frame.
func (alloc *AreaFrameAllocator) selectNextArea() {
	var (
		found               bool
		bestArea            MemoryArea
		bestFirst, bestLast pmm.Frame
	)

	alloc.areas.VisitMemAreas(func(area MemoryArea) bool {
		first, last, ok := area.frames()
		if !ok || last < alloc.nextFree {
			return true
		}

		if !found || area.BaseAddress < bestArea.BaseAddress {
			found, bestArea, bestFirst, bestLast = true, area, first, last
		}
		return true
	})

	alloc.hasArea = found
	if !found {
		return
	}

	alloc.curLastFrame = bestLast
	if alloc.nextFree < bestFirst {
		alloc.nextFree = bestFirst
	}
}

// AllocFrame reserves and returns the next free frame. It returns
// ErrOutOfMemory once all areas have been exhausted; further calls keep
// failing.
func (alloc *AreaFrameAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for alloc.hasArea {
		if alloc.nextFree > alloc.curLastFrame {
			alloc.selectNextArea()
			continue
		}

		if r, excluded := alloc.excludedRange(alloc.nextFree); excluded {
			alloc.nextFree = r.last + 1
			continue
		}

		frame := alloc.nextFree
		alloc.nextFree++
		alloc.allocCount++
		return frame, nil
	}

	return pmm.InvalidFrame, ErrOutOfMemory
}

// excludedRange returns the excluded range that contains frame.
func (alloc *AreaFrameAllocator) excludedRange(frame pmm.Frame) (frameRange, bool) {
	for _, r := range alloc.excluded {
		if r.contains(frame) {
			return r, true
		}
	}

	return frameRange{}, false
}

// FreeFrame is a no-op; the allocator cannot reclaim frames.
func (alloc *AreaFrameAllocator) FreeFrame(_ pmm.Frame) {}

// AllocCount returns the number of frames handed out so far.
func (alloc *AreaFrameAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// PrintMemoryMap prints the areas known to the allocator together with the
// excluded frame ranges and the amount of usable memory.
func (alloc *AreaFrameAllocator) PrintMemoryMap() {
	kfmt.Printf("[area_frame_alloc] system memory map:\n")

	var totalFree mem.Size
	alloc.areas.VisitMemAreas(func(area MemoryArea) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d\n", area.BaseAddress, area.BaseAddress+area.Length, area.Length)

		if first, last, ok := area.frames(); ok {
			totalFree += mem.Size(last-first+1) * mem.PageSize
		}
		return true
	})

	for index, label := range [excludedRangeCount]string{"kernel image", "boot info", "reserved"} {
		r := alloc.excluded[index]
		if r.empty {
			continue
		}
		kfmt.Printf("[area_frame_alloc] %s: frames [0x%x - 0x%x]\n", label, uint64(r.first), uint64(r.last))
	}

	kfmt.Printf("[area_frame_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}
