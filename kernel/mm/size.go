package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Superpages returns the number of whole 2MiB superpages that fit in this
// size. Any trailing bytes that do not form a full superpage are ignored.
func (s Size) Superpages() uint64 {
	return uint64(s >> SuperpageShift)
}

// Pages returns the number of 4KiB pages that are required for storing this
// size.
func (s Size) Pages() uint64 {
	return uint64((s + PageSize - 1) &^ (PageSize - 1) >> PageShift)
}
