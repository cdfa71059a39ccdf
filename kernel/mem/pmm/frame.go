// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"

	"hexos/kernel"
	"hexos/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// FrameFromAddress returns the Frame that contains the given physical
// address.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// LastAddress returns the physical address of the last byte in this Frame.
func (f Frame) LastAddress() uintptr {
	return f.Address() + uintptr(mem.PageSize-1)
}

// ContainsAddress returns true if physAddr falls inside this Frame.
func (f Frame) ContainsAddress(physAddr uintptr) bool {
	return FrameFromAddress(physAddr) == f
}

// Next returns the frame that follows f.
func (f Frame) Next() Frame {
	return f + 1
}

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	// AllocFrame reserves and returns a frame. A non-nil error indicates
	// that physical memory is exhausted.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator. Allocators that cannot
	// reclaim memory implement it as a no-op.
	FreeFrame(Frame)
}
