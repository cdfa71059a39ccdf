package kmain

import (
	"bytes"
	"io"
	"testing"

	"hexos/kernel/hal/emu"
	"hexos/kernel/hal/multiboot"
	"hexos/kernel/kfmt"
	"hexos/kernel/mem/pmm"
	"hexos/kernel/mem/pmm/allocator"
	"hexos/kernel/mem/vmm"
)

// bootEmulatedMachine boots a machine with 8M of RAM whose root table lives
// in the first frame of the kernel image at 0x100000.
func bootEmulatedMachine(t *testing.T) *emu.Memory {
	t.Helper()

	memory := emu.NewMemory()
	t.Cleanup(func() { _ = memory.Close() })
	if err := memory.AddBank(0, 0x800000); err != nil {
		t.Fatalf("unexpected error adding RAM: %v", err)
	}

	machine := emu.NewMachine(memory)
	if err := machine.Boot(pmm.Frame(0x100)); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	prevHW := vmm.SetHardware(machine)
	t.Cleanup(func() { vmm.SetHardware(prevHW) })

	multiboot.SetInfoPtr(0)
	return memory
}

func TestInitMemory(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	memory := bootEmulatedMachine(t)

	var buf bytes.Buffer
	// Drain output buffered by earlier tests so buf only sees this one.
	kfmt.SetOutputSink(io.Discard)
	kfmt.SetOutputSink(&buf)

	alloc, err := initMemory(0x100000, 0x200000, memory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	physAddr, err := vmm.Translate(APICBaseAddr + 0x20)
	if err != nil || physAddr != APICBaseAddr+0x20 {
		t.Fatalf("expected the APIC frame to be identity mapped; got (0x%x, %v)", physAddr, err)
	}

	// The APIC page needs a new P3, P2 and P1 table.
	if exp, got := uint64(3), alloc.AllocCount(); got != exp {
		t.Errorf("expected %d frames to be allocated for page tables; got %d", exp, got)
	}

	exp := "[area_frame_alloc] system memory map:\n" +
		"\t[0x0000000000 - 0x0000800000], size:    8388608\n" +
		"[area_frame_alloc] kernel image: frames [0x100 - 0x1ff]\n" +
		"[area_frame_alloc] reserved: frames [0xfee00 - 0xfee00]\n" +
		"[area_frame_alloc] free memory: 8192Kb\n" +
		"[vmm] recursive mapping verified; P4 table at 0x0000000000100000\n" +
		"[kmain] identity mapped APIC frame at 0xfee00000\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected initMemory to print:\n%q\ngot:\n%q", exp, got)
	}
}

func TestInitMemoryOutOfFrames(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	bootEmulatedMachine(t)
	kfmt.SetOutputSink(io.Discard)

	if _, err := initMemory(0x100000, 0x200000, allocator.AreaList{}); err != allocator.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}
