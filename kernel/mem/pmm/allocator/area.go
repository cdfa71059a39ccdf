package allocator

import (
	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
)

// MemoryArea describes a region of usable physical RAM.
type MemoryArea struct {
	// The physical address of the first byte in the area.
	BaseAddress uint64

	// The area length in bytes.
	Length uint64
}

// frames returns the first and last whole frames inside the area. Reported
// areas may not be page-aligned; the start is rounded up and the end rounded
// down. The returned flag is false if the area does not contain a single
// whole frame.
func (a MemoryArea) frames() (pmm.Frame, pmm.Frame, bool) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	startFrame := (a.BaseAddress + pageSizeMinus1) >> mem.PageShift
	endFrame := (a.BaseAddress + a.Length) >> mem.PageShift

	if a.Length == 0 || endFrame <= startFrame {
		return pmm.InvalidFrame, pmm.InvalidFrame, false
	}

	return pmm.Frame(startFrame), pmm.Frame(endFrame - 1), true
}

// MemoryAreaVisitor is invoked by a MemoryAreaSource for each area it knows
// about. The visitor returns false to stop the scan.
type MemoryAreaVisitor func(MemoryArea) bool

// MemoryAreaSource is implemented by types that can enumerate the usable RAM
// areas of the system. Each call to VisitMemAreas restarts the enumeration
// from the beginning.
type MemoryAreaSource interface {
	VisitMemAreas(MemoryAreaVisitor)
}

// AreaList is a MemoryAreaSource backed by a slice.
type AreaList []MemoryArea

// VisitMemAreas implements MemoryAreaSource.
func (l AreaList) VisitMemAreas(visitor MemoryAreaVisitor) {
	for _, area := range l {
		if !visitor(area) {
			return
		}
	}
}

// frameRange is an inclusive range of frames that must never be handed out.
type frameRange struct {
	first, last pmm.Frame
	empty       bool
}

// rangeFromAddresses returns the frames covering the physical address range
// [start, end). The range is empty when end <= start.
func rangeFromAddresses(start, end uintptr) frameRange {
	if end <= start {
		return frameRange{empty: true}
	}

	return frameRange{
		first: pmm.FrameFromAddress(start),
		last:  pmm.FrameFromAddress(end - 1),
	}
}

func (r frameRange) contains(frame pmm.Frame) bool {
	return !r.empty && frame >= r.first && frame <= r.last
}
