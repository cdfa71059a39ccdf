package vmm

import (
	"testing"

	"hexos/kernel/mem/pmm"
)

func TestEntryFlags(t *testing.T) {
	var (
		entry Entry
		flag1 = EntryFlag(1 << 10)
		flag2 = EntryFlag(1 << 21)
	)

	if !entry.IsUnused() {
		t.Fatal("expected a zero entry to be unused")
	}

	if entry.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	entry = Entry(flag1 | flag2)

	if !entry.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !entry.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	entry = Entry(flag1)

	if !entry.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if entry.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	entry.SetUnused()
	if !entry.IsUnused() {
		t.Fatal("expected SetUnused to clear every bit")
	}
}

func TestEntryFrame(t *testing.T) {
	specs := []struct {
		frame pmm.Frame
		flags EntryFlag
	}{
		{pmm.Frame(0), FlagPresent},
		{pmm.Frame(0x123), FlagPresent | FlagRW},
		{pmm.Frame(0xfee00), FlagPresent | FlagRW | FlagDoNotCache},
		{pmm.Frame(0xff_ffff_ffff), FlagPresent | FlagHugePage | FlagGlobal | FlagNoExecute},
	}

	for specIndex, spec := range specs {
		var entry Entry
		entry.Set(spec.frame, spec.flags)

		frame, ok := entry.Frame()
		if !ok || frame != spec.frame {
			t.Errorf("[spec %d] expected Frame() to return (0x%x, true); got (0x%x, %t)", specIndex, spec.frame, frame, ok)
		}

		if got := entry.Flags(); got != spec.flags {
			t.Errorf("[spec %d] expected Flags() to return 0x%x; got 0x%x", specIndex, spec.flags, got)
		}
	}

	// Entries that are not present do not point to a frame.
	var entry Entry
	entry.Set(pmm.Frame(0x42), FlagRW)
	if frame, ok := entry.Frame(); ok || frame.Valid() {
		t.Errorf("expected Frame() of a non-present entry to return (InvalidFrame, false); got (0x%x, %t)", frame, ok)
	}
	if entry.IsUnused() {
		t.Error("expected a non-present entry with bits set not to be unused")
	}
}

func TestEntrySetFrameOutOfRange(t *testing.T) {
	defer func(origPanicFn func(interface{})) { panicFn = origPanicFn }(panicFn)
	panicFn = func(e interface{}) { panic(e) }

	var entry Entry
	expectPanic(t, errFrameOutOfRange, func() { entry.Set(pmm.Frame(1<<40), FlagPresent) })

	if !entry.IsUnused() {
		t.Fatal("expected a rejected Set not to modify the entry")
	}
}
