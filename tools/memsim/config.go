package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"hexos/kernel/mem"
	"hexos/kernel/mem/pmm"
	"hexos/kernel/mem/pmm/allocator"
)

var (
	errNoAreas         = errors.New("machine has no memory areas")
	errEmptyKernel     = errors.New("kernel range is empty")
	errRootOutsideKern = errors.New("root table is outside the kernel image")
	errUnknownFormat   = errors.New("unknown config format")
	errReservedTooHigh = errors.New("reserved address cannot be identity mapped")
)

// addrRange is a half-open physical address range.
type addrRange struct {
	Start uint64 `toml:"start" yaml:"start"`
	End   uint64 `toml:"end" yaml:"end"`
}

// area is a usable RAM region as reported by the firmware.
type area struct {
	Base   uint64 `toml:"base" yaml:"base"`
	Length uint64 `toml:"length" yaml:"length"`
}

// machineConfig describes the memory layout of an emulated machine.
type machineConfig struct {
	// Name tags kernel output produced while simulating this machine.
	Name string `toml:"name" yaml:"name"`

	Areas    []area    `toml:"areas" yaml:"areas"`
	Kernel   addrRange `toml:"kernel" yaml:"kernel"`
	BootInfo addrRange `toml:"boot_info" yaml:"boot_info"`

	// ReservedAddr is an address (usually an MMIO window) whose frame the
	// allocator must never hand out.
	ReservedAddr uint64 `toml:"reserved_addr" yaml:"reserved_addr"`

	// RootTable is the physical address of the boot P4 table. It defaults
	// to the first frame of the kernel image.
	RootTable *uint64 `toml:"root_table" yaml:"root_table"`
}

// loadConfig reads a machine description. The format is picked from the file
// extension.
func loadConfig(path string) (*machineConfig, error) {
	var c machineConfig

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, ext)
	}

	if c.Name == "" {
		c.Name = filepath.Base(path)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid machine %q: %w", c.Name, err)
	}
	return &c, nil
}

func (c *machineConfig) validate() error {
	if len(c.Areas) == 0 {
		return errNoAreas
	}
	if c.Kernel.End <= c.Kernel.Start {
		return errEmptyKernel
	}

	// Identity maps only reach the lower half of the address space.
	if c.ReservedAddr >= 1<<47 {
		return fmt.Errorf("%w: %#x", errReservedTooHigh, c.ReservedAddr)
	}

	root := c.rootFrame()
	if root.Address() < uintptr(c.Kernel.Start) || root.LastAddress() >= uintptr(c.Kernel.End) {
		return fmt.Errorf("%w: %#x", errRootOutsideKern, root.Address())
	}
	return nil
}

// rootFrame returns the frame that holds the boot P4 table.
func (c *machineConfig) rootFrame() pmm.Frame {
	addr := c.Kernel.Start
	if c.RootTable != nil {
		addr = *c.RootTable
	}
	return pmm.FrameFromAddress(uintptr(addr))
}

// areaList converts the configured areas into an allocator area source.
func (c *machineConfig) areaList() allocator.AreaList {
	list := make(allocator.AreaList, 0, len(c.Areas))
	for _, a := range c.Areas {
		list = append(list, allocator.MemoryArea{BaseAddress: a.Base, Length: a.Length})
	}
	return list
}

// banks returns the page-aligned part of each area. Areas smaller than a
// page are dropped.
func (c *machineConfig) banks() []area {
	pageMask := uint64(mem.PageSize - 1)

	var out []area
	for _, a := range c.Areas {
		start := (a.Base + pageMask) &^ pageMask
		end := (a.Base + a.Length) &^ pageMask
		if end > start {
			out = append(out, area{Base: start, Length: end - start})
		}
	}
	return out
}

// newAllocator returns a frame allocator over the configured areas that
// skips the kernel image, the boot info blob and the reserved frame.
func (c *machineConfig) newAllocator() *allocator.AreaFrameAllocator {
	return allocator.NewAreaFrameAllocator(
		uintptr(c.Kernel.Start), uintptr(c.Kernel.End),
		uintptr(c.BootInfo.Start), uintptr(c.BootInfo.End),
		uintptr(c.ReservedAddr),
		c.areaList(),
	)
}
