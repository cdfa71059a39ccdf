// The memsim tool drives the frame allocator and the page table code against
// an emulated machine described by a TOML or YAML file. It is intended for
// experimenting with memory layouts without booting a real kernel.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var debug = flag.Bool("debug", false, "enable debug logging")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(AllocCommand), "")
	subcommands.Register(new(BootCommand), "")

	flag.Parse()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
