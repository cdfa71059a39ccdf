package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"hexos/kernel/mem/pmm"
	"hexos/kernel/mem/pmm/allocator"
)

// AllocCommand runs the area frame allocator over a machine's memory map and
// prints the frames it hands out, collapsed into contiguous runs.
type AllocCommand struct {
	config   string
	count    uint64
	printMap bool

	// out receives the frame runs; stdout when nil.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*AllocCommand) Name() string {
	return "alloc"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*AllocCommand) Synopsis() string {
	return "Allocate frames from a machine's memory map and print the resulting runs."
}

// Usage implements subcommands.Command.Usage.
func (*AllocCommand) Usage() string {
	return "alloc -config <machine.toml|machine.yaml> [-n <frames>] [-print-map]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *AllocCommand) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to the machine description")
	fs.Uint64Var(&c.count, "n", 0, "number of frames to allocate; 0 allocates until memory runs out")
	fs.BoolVar(&c.printMap, "print-map", false, "log the allocator's view of the memory map first")
}

// Execute implements subcommands.Command.Execute.
func (c *AllocCommand) Execute(_ context.Context, fs *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.config == "" {
		fs.Usage()
		return subcommands.ExitUsageError
	}

	if err := c.execute(); err != nil {
		logger.WithError(err).Error("alloc failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *AllocCommand) execute() error {
	cfg, err := loadConfig(c.config)
	if err != nil {
		return err
	}

	restore := routeKernelOutput(cfg.Name)
	defer restore()

	alloc := cfg.newAllocator()
	if c.printMap {
		alloc.PrintMemoryMap()
	}

	runs, exhausted := allocRuns(alloc, c.count)

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	for _, r := range runs {
		fmt.Fprintf(out, "frames [%#x - %#x] (%d)\n", uint64(r.first), uint64(r.last), uint64(r.last-r.first)+1)
	}

	fields := logrus.Fields{
		"machine": cfg.Name,
		"frames":  alloc.AllocCount(),
		"runs":    len(runs),
	}
	if exhausted {
		logger.WithFields(fields).Warn("physical memory exhausted")
	} else {
		logger.WithFields(fields).Info("allocation finished")
	}
	return nil
}

// frameRun is a sequence of consecutive frames.
type frameRun struct {
	first, last pmm.Frame
}

// allocRuns allocates count frames (or all of them when count is 0) and
// groups them into runs. It reports whether the allocator ran out of memory.
func allocRuns(alloc *allocator.AreaFrameAllocator, count uint64) ([]frameRun, bool) {
	var runs []frameRun
	for n := uint64(0); count == 0 || n < count; n++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return runs, true
		}

		if last := len(runs) - 1; last >= 0 && runs[last].last+1 == frame {
			runs[last].last = frame
			continue
		}
		runs = append(runs, frameRun{first: frame, last: frame})
	}
	return runs, false
}
