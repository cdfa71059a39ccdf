package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"hexos/kernel/mem/pmm/allocator"
)

func silenceLogger(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prevOut, prevLevel := logger.Out, logger.GetLevel()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetLevel(prevLevel)
	})
	return &buf
}

const smallMachine = `
name = "tiny"
reserved_addr = 0xf000

[kernel]
start = 0x2000
end = 0x4000

[boot_info]
start = 0x8000
end = 0x8800

[[areas]]
base = 0x0
length = 0x10000
`

func TestAllocCommand(t *testing.T) {
	logs := silenceLogger(t)

	var out bytes.Buffer
	cmd := &AllocCommand{
		config:   writeConfig(t, "tiny.toml", smallMachine),
		printMap: true,
		out:      &out,
	}

	if got := cmd.Execute(context.Background(), flag.NewFlagSet("alloc", flag.ContinueOnError)); got != subcommands.ExitSuccess {
		t.Fatalf("expected exit status %v; got %v", subcommands.ExitSuccess, got)
	}

	exp := "frames [0x0 - 0x1] (2)\n" +
		"frames [0x4 - 0x7] (4)\n" +
		"frames [0x9 - 0xe] (6)\n"
	if got := out.String(); got != exp {
		t.Errorf("expected output:\n%s\ngot:\n%s", exp, got)
	}

	for _, exp := range []string{
		"(tiny) [area_frame_alloc] system memory map:",
		"physical memory exhausted",
	} {
		if !strings.Contains(logs.String(), exp) {
			t.Errorf("expected logs to contain %q; got:\n%s", exp, logs.String())
		}
	}
}

func TestAllocCommandCount(t *testing.T) {
	silenceLogger(t)

	var out bytes.Buffer
	cmd := &AllocCommand{
		config: writeConfig(t, "tiny.toml", smallMachine),
		count:  5,
		out:    &out,
	}

	if got := cmd.Execute(context.Background(), flag.NewFlagSet("alloc", flag.ContinueOnError)); got != subcommands.ExitSuccess {
		t.Fatalf("expected exit status %v; got %v", subcommands.ExitSuccess, got)
	}

	exp := "frames [0x0 - 0x1] (2)\nframes [0x4 - 0x6] (3)\n"
	if got := out.String(); got != exp {
		t.Errorf("expected output:\n%s\ngot:\n%s", exp, got)
	}
}

func TestAllocRuns(t *testing.T) {
	alloc := allocator.NewAreaFrameAllocator(0x3000, 0x5000, 0, 0, 0xa000, allocator.AreaList{
		{BaseAddress: 0x0, Length: 0xc000},
		{BaseAddress: 0x20000, Length: 0x2000},
	})

	runs, exhausted := allocRuns(alloc, 0)
	if !exhausted {
		t.Error("expected allocator to be exhausted")
	}

	exp := []frameRun{
		{first: 0x0, last: 0x2},
		{first: 0x5, last: 0x9},
		{first: 0xb, last: 0xb},
		{first: 0x20, last: 0x21},
	}
	if len(runs) != len(exp) {
		t.Fatalf("expected %d runs; got %d: %v", len(exp), len(runs), runs)
	}
	for index := range exp {
		if runs[index] != exp[index] {
			t.Errorf("[run %d] expected %v; got %v", index, exp[index], runs[index])
		}
	}
}

const bootMachine = `
name = "boot-4m"
reserved_addr = 0xfee00000

[kernel]
start = 0x100000
end = 0x200000

[[areas]]
base = 0x0
length = 0x400000
`

func TestBootCommand(t *testing.T) {
	logs := silenceLogger(t)

	var out bytes.Buffer
	cmd := &BootCommand{
		config:    writeConfig(t, "boot.toml", bootMachine),
		scratch:   2,
		translate: "0xfee00123, 0xfee01000,0xfee02008,0x0,0xfffffffffffff000",
		out:       &out,
	}

	if got := cmd.Execute(context.Background(), flag.NewFlagSet("boot", flag.ContinueOnError)); got != subcommands.ExitSuccess {
		t.Fatalf("expected exit status %v; got %v\nlogs:\n%s", subcommands.ExitSuccess, got, logs.String())
	}

	// The identity map consumes frames 0-2 for its P3, P2 and P1 tables so
	// the scratch pages land in the free slots after the reserved page.
	exp := "identity mapped frame 0xfee00000\n" +
		"scratch page 0 -> frame 0x3000\n" +
		"scratch page 1 -> frame 0x4000\n" +
		"0xfee00123 -> 0xfee00123\n" +
		"0xfee01000 -> 0x3000\n" +
		"0xfee02008 -> 0x4008\n" +
		"0x0 -> not mapped\n" +
		"0xfffffffffffff000 -> 0x100000\n"
	if got := out.String(); got != exp {
		t.Errorf("expected output:\n%s\ngot:\n%s", exp, got)
	}

	if !strings.Contains(logs.String(), "(boot-4m) [vmm] recursive mapping verified") {
		t.Errorf("expected kernel output in logs; got:\n%s", logs.String())
	}
}

func TestBootCommandErrors(t *testing.T) {
	silenceLogger(t)

	specs := []struct {
		cmd    *BootCommand
		expErr subcommands.ExitStatus
	}{
		{&BootCommand{}, subcommands.ExitUsageError},
		{&BootCommand{config: "x.toml", scratch: -1}, subcommands.ExitUsageError},
		{&BootCommand{config: writeConfig(t, "boot.toml", bootMachine), translate: "0x800000000000"}, subcommands.ExitFailure},
		{&BootCommand{config: writeConfig(t, "boot.toml", bootMachine), translate: "zero"}, subcommands.ExitFailure},
		{
			// The root table frame is not backed by RAM.
			&BootCommand{config: writeConfig(t, "boot.toml", strings.Replace(bootMachine, "0x400000", "0x80000", 1))},
			subcommands.ExitFailure,
		},
	}

	for specIndex, spec := range specs {
		spec.cmd.out = io.Discard
		fs := flag.NewFlagSet("boot", flag.ContinueOnError)
		fs.SetOutput(io.Discard)

		if got := spec.cmd.Execute(context.Background(), fs); got != spec.expErr {
			t.Errorf("[spec %d] expected exit status %v; got %v", specIndex, spec.expErr, got)
		}
	}
}

func TestLineLogger(t *testing.T) {
	logs := silenceLogger(t)

	w := &lineLogger{entry: logger.WithField("source", "test")}
	for _, chunk := range []string{"[vmm] one", "\n[vmm] t", "wo\n[vmm] three"} {
		if n, err := w.Write([]byte(chunk)); err != nil || n != len(chunk) {
			t.Fatalf("expected Write to return (%d, nil); got (%d, %v)", len(chunk), n, err)
		}
	}

	if strings.Contains(logs.String(), "three") {
		t.Error("expected incomplete line to stay buffered")
	}

	w.Flush()
	for _, exp := range []string{`msg="[vmm] one"`, `msg="[vmm] two"`, `msg="[vmm] three"`} {
		if !strings.Contains(logs.String(), exp) {
			t.Errorf("expected logs to contain %q; got:\n%s", exp, logs.String())
		}
	}
}
