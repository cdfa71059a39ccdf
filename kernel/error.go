package kernel

// Error describes a kernel error. Kernel code cannot rely on errors.New
// before the Go allocator is up, so every error is declared once as a
// package-level *Error and compared by identity.
type Error struct {
	// Module names the subsystem that reported the error (e.g. "vmm").
	Module string

	// Message is a human readable description of the failure.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
