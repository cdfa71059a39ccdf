package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a table at any level.
	entriesPerTable = 512

	// pageLevelBits is the number of virtual address bits that index a
	// table at any level.
	pageLevelBits = 9

	// ptePhysPageMask extracts the physical address from a page table
	// entry. For this architecture bits 12-51 contain the address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// recursiveSlot is the P4 entry that points back to the P4 table
	// itself. With the recursive mapping in place every table is reachable
	// through a fixed virtual address.
	recursiveSlot = entriesPerTable - 1

	// p4TableAddr is the virtual address of the active P4 table. Setting
	// all table index bits to recursiveSlot makes the MMU follow the
	// recursive entry at every level and land on the P4.
	p4TableAddr = uintptr(0xfffffffffffff000)

	// hugePageFrames1G and hugePageFrames2M are the number of 4K frames
	// covered by a huge page mapped at the P3 and P2 level respectively.
	hugePageFrames1G = entriesPerTable * entriesPerTable
	hugePageFrames2M = entriesPerTable
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set on P3 or P2 entries that map a 1G or 2M page
	// directly instead of pointing to the next table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute EntryFlag = 1 << 63
)
