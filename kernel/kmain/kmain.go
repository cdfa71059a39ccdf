// Package kmain contains the kernel entrypoint that brings up physical and
// virtual memory management.
package kmain

import (
	"hexos/kernel"
	"hexos/kernel/hal/multiboot"
	"hexos/kernel/kfmt"
	"hexos/kernel/mem/pmm"
	"hexos/kernel/mem/pmm/allocator"
	"hexos/kernel/mem/vmm"
)

var (
	// APICBaseAddr is the physical address of the local APIC registers.
	// The frame that contains it is never handed out by the frame
	// allocator and gets identity-mapped during boot.
	APICBaseAddr uintptr = 0xfee00000

	// FrameAllocator is the physical frame allocator set up by Kmain.
	FrameAllocator *allocator.AreaFrameAllocator

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if FrameAllocator, err = initMemory(kernelStart, kernelEnd, multiboot.MemoryAreas{}); err != nil {
		kfmt.Panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// initMemory sets up a frame allocator over the areas reported by src,
// checks the recursive page table mapping and identity-maps the APIC frame.
func initMemory(kernelStart, kernelEnd uintptr, src allocator.MemoryAreaSource) (*allocator.AreaFrameAllocator, *kernel.Error) {
	infoStart, infoEnd := multiboot.InfoRegion()
	alloc := allocator.NewAreaFrameAllocator(kernelStart, kernelEnd, infoStart, infoEnd, APICBaseAddr, src)
	alloc.PrintMemoryMap()

	if err := vmm.Init(); err != nil {
		return nil, err
	}

	apicFrame := pmm.FrameFromAddress(APICBaseAddr)
	if err := vmm.SimpleIDMap(apicFrame, alloc); err != nil {
		return nil, err
	}
	kfmt.Printf("[kmain] identity mapped APIC frame at 0x%x\n", uint64(apicFrame.Address()))

	return alloc, nil
}
