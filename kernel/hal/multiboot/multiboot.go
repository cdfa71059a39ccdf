// Package multiboot reads the parts of the multiboot2 information blob that
// the memory manager needs: the memory map and the extent of the blob itself.
package multiboot

import (
	"unsafe"

	"hexos/kernel/mem/pmm/allocator"
)

type tagType uint32

// Tag types defined by the multiboot2 specification. Only the memory map is
// consumed; the rest are listed so that dumps can be decoded in tests.
const (
	tagEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// infoHeader is the fixed header at the start of the information blob.
type infoHeader struct {
	totalSize uint32
	reserved  uint32
}

// tagHeader precedes every tag. The size covers the header and the payload
// but not the padding that keeps the next tag 8-byte aligned.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader precedes the entries of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

var (
	infoData uintptr
)

// MemRegionVisitor defines a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoRegion returns the physical address range [start, end) occupied by the
// multiboot information blob.
func InfoRegion() (uintptr, uintptr) {
	if infoData == 0 {
		return 0, 0
	}

	hdr := (*infoHeader)(unsafe.Pointer(infoData))
	return infoData, infoData + uintptr(hdr.totalSize)
}

// VisitMemRegions invokes visitor for each entry of the bootloader-supplied
// memory map. Entries with an unknown type are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	payload, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(payload))
	for cur, end := payload+unsafe.Sizeof(*hdr), payload+uintptr(size); cur < end; cur += uintptr(hdr.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(cur))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// MemoryAreas exposes the available regions of the multiboot memory map as
// an allocator.MemoryAreaSource.
type MemoryAreas struct{}

// VisitMemAreas implements allocator.MemoryAreaSource.
func (MemoryAreas) VisitMemAreas(visitor allocator.MemoryAreaVisitor) {
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Type != MemAvailable {
			return true
		}

		return visitor(allocator.MemoryArea{BaseAddress: entry.PhysAddress, Length: entry.Length})
	})
}

// findTagByType returns the address and length of the payload of the first
// tag with the given type or (0, 0) if the blob contains no such tag.
func findTagByType(wanted tagType) (uintptr, uint32) {
	cur := infoData + unsafe.Sizeof(infoHeader{})
	for {
		hdr := (*tagHeader)(unsafe.Pointer(cur))
		switch hdr.tagType {
		case tagEnd:
			return 0, 0
		case wanted:
			return cur + unsafe.Sizeof(*hdr), hdr.size - uint32(unsafe.Sizeof(*hdr))
		}

		cur += uintptr((hdr.size + 7) &^ 7)
	}
}
