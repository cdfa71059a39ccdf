package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"hexos/kernel/hal/emu"
	"hexos/kernel/mem/pmm"
	"hexos/kernel/mem/vmm"
)

// BootCommand brings up the page tables of an emulated machine the way the
// kernel does at boot: it verifies the recursive mapping, identity maps the
// reserved frame and then maps scratch pages.
type BootCommand struct {
	config    string
	scratch   int
	translate string

	// out receives the report; stdout when nil.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*BootCommand) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*BootCommand) Synopsis() string {
	return "Boot an emulated machine, build its page tables and print translations."
}

// Usage implements subcommands.Command.Usage.
func (*BootCommand) Usage() string {
	return "boot -config <machine.toml|machine.yaml> [-scratch <pages>] [-translate <addr,...>]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *BootCommand) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to the machine description")
	fs.IntVar(&c.scratch, "scratch", 1, "number of scratch pages to map with AllocAny")
	fs.StringVar(&c.translate, "translate", "", "comma separated virtual addresses to translate after booting")
}

// Execute implements subcommands.Command.Execute.
func (c *BootCommand) Execute(_ context.Context, fs *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.config == "" || c.scratch < 0 {
		fs.Usage()
		return subcommands.ExitUsageError
	}

	if err := c.execute(); err != nil {
		logger.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *BootCommand) execute() error {
	addrs, err := parseAddrList(c.translate)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c.config)
	if err != nil {
		return err
	}

	restore := routeKernelOutput(cfg.Name)
	defer restore()

	memory := emu.NewMemory()
	defer memory.Close()

	for _, b := range cfg.banks() {
		if err := memory.AddBank(b.Base, b.Length); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"base":   fmt.Sprintf("%#x", b.Base),
			"length": b.Length,
		}).Debug("added RAM bank")
	}

	machine := emu.NewMachine(memory)
	if err := machine.Boot(cfg.rootFrame()); err != nil {
		return fmt.Errorf("installing root table: %w", err)
	}

	prev := vmm.SetHardware(machine)
	defer vmm.SetHardware(prev)

	if kerr := vmm.Init(); kerr != nil {
		return kerr
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	alloc := cfg.newAllocator()
	reserved := pmm.FrameFromAddress(uintptr(cfg.ReservedAddr))
	if kerr := vmm.SimpleIDMap(reserved, alloc); kerr != nil {
		return kerr
	}
	fmt.Fprintf(out, "identity mapped frame %#x\n", uint64(reserved.Address()))

	for i := 0; i < c.scratch; i++ {
		page, kerr := vmm.AllocAny(alloc)
		if kerr != nil {
			return kerr
		}

		physAddr, ok := memory.PhysAddress(unsafe.Pointer(page))
		if !ok {
			return fmt.Errorf("scratch page %d is not backed by RAM", i)
		}
		fmt.Fprintf(out, "scratch page %d -> frame %#x\n", i, physAddr)
	}

	for _, addr := range addrs {
		physAddr, kerr := vmm.Translate(uintptr(addr))
		if kerr != nil {
			fmt.Fprintf(out, "%#x -> not mapped\n", addr)
			continue
		}
		fmt.Fprintf(out, "%#x -> %#x\n", addr, uint64(physAddr))
	}

	logger.WithFields(logrus.Fields{
		"machine":     cfg.Name,
		"frames":      alloc.AllocCount(),
		"tlb_flushes": machine.TLBFlushes,
	}).Info("boot finished")
	return nil
}

// parseAddrList parses a comma separated list of canonical virtual addresses.
// Hex values need a 0x prefix.
func parseAddrList(list string) ([]uint64, error) {
	if list == "" {
		return nil, nil
	}

	var addrs []uint64
	for _, field := range strings.Split(list, ",") {
		addr, err := strconv.ParseUint(strings.TrimSpace(field), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", field, err)
		}
		if top := addr >> 47; top != 0 && top != 0x1ffff {
			return nil, fmt.Errorf("address %#x is not canonical", addr)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
