package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). Multiplying a
	// table index by the pointer size is a left shift by PointerShift.
	PointerShift = 3

	// PageShift is equal to log2(PageSize). Shifting an address right by
	// PageShift yields its page (or frame) number.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)
)
