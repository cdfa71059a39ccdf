package main

import "hexos/kernel/kmain"

var (
	// These variables are populated by the rt0 code before main is
	// invoked. Passing globals to Kmain prevents the compiler from inlining
	// the call and removing Kmain from the generated object file.
	multibootInfoPtr uintptr
	kernelStart      uintptr
	kernelEnd        uintptr
)

// main is the only Go symbol that is visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual
// kernel entrypoint (kmain.Kmain).
//
// main is not expected to return. If it does, the rt0 code will halt the CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
