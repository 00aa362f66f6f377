package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so callers can compare
// them by identity. The Module field doubles as the error kind; errors that
// belong to the same family share a Module value.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Kind returns the error family that this error belongs to.
func (e *Error) Kind() string {
	return e.Module
}

// SameKind returns true if err is a *Error that belongs to the same family
// as e.
func (e *Error) SameKind(err error) bool {
	other, ok := err.(*Error)
	return ok && other != nil && other.Module == e.Module
}
