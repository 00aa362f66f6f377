// Package mm contains the physical address value types shared by the memory
// management code.
package mm

import (
	"fmt"
	"math"
)

// Page2M describes the physical address of a 2MiB superpage. Valid values are
// always aligned to SuperpageSize.
type Page2M uintptr

// InvalidPage2M is returned by lookups and allocators when they fail to
// produce a superpage.
const InvalidPage2M = Page2M(math.MaxUint64)

// Page2MFromAddress returns the superpage that contains the given physical
// address. Addresses that are not superpage-aligned are rounded down.
func Page2MFromAddress(physAddr uintptr) Page2M {
	return Page2M(physAddr &^ uintptr(SuperpageSize-1))
}

// Valid returns true if this is a superpage-aligned address.
func (p Page2M) Valid() bool {
	return p != InvalidPage2M && uintptr(p)&uintptr(SuperpageSize-1) == 0
}

// Address returns the physical address of the first byte of the superpage.
func (p Page2M) Address() uintptr {
	return uintptr(p)
}

// Next returns the superpage that immediately follows p.
func (p Page2M) Next() Page2M {
	return p + Page2M(SuperpageSize)
}

// Slice returns the 4KiB page with the given index inside this superpage.
func (p Page2M) Slice(index uint16) Page4K {
	return Page4K{Base: p, Index: index}
}

// String implements fmt.Stringer for Page2M.
func (p Page2M) String() string {
	return fmt.Sprintf("0x%x", uintptr(p))
}

// Page4K describes a 4KiB slice of a divided superpage. A Page4K is only
// meaningful while its base superpage remains divided.
type Page4K struct {
	// Base is the superpage that was divided to obtain this page.
	Base Page2M

	// Index is the slice number in the range [0, SlicesPerSuperpage).
	Index uint16
}

// Page4KFromAddress returns the 4KiB slice that contains the given physical
// address.
func Page4KFromAddress(physAddr uintptr) Page4K {
	return Page4K{
		Base:  Page2MFromAddress(physAddr),
		Index: uint16((physAddr & uintptr(SuperpageSize-1)) >> PageShift),
	}
}

// Valid returns true if the base superpage is valid and the index addresses
// one of its slices.
func (p Page4K) Valid() bool {
	return p.Base.Valid() && p.Index < SlicesPerSuperpage
}

// Address returns the physical address of the first byte of the page.
func (p Page4K) Address() uintptr {
	return p.Base.Address() + uintptr(p.Index)<<PageShift
}

// String implements fmt.Stringer for Page4K.
func (p Page4K) String() string {
	return fmt.Sprintf("0x%x[%d]", uintptr(p.Base), p.Index)
}

// Window describes a physically contiguous address range [Base, Base+Length).
type Window struct {
	Base   uintptr
	Length Size
}

// End returns the first address past the end of the window.
func (w Window) End() uintptr {
	return w.Base + uintptr(w.Length)
}

// Aligned returns true if both the window start and its length are multiples
// of SuperpageSize.
func (w Window) Aligned() bool {
	return w.Base&uintptr(SuperpageSize-1) == 0 && w.Length&(SuperpageSize-1) == 0
}

// Overlaps returns true if the two windows share at least one byte.
func (w Window) Overlaps(other Window) bool {
	return w.Base < other.End() && other.Base < w.End()
}

// Contains returns true if addr falls inside the window.
func (w Window) Contains(addr uintptr) bool {
	return addr >= w.Base && addr < w.End()
}

// ShrinkToSuperpages returns the largest superpage-aligned window that fits
// inside w. Reported region addresses may not be aligned; the start is rounded
// up and the end is rounded down. The returned window has a zero Length if no
// full superpage fits.
func (w Window) ShrinkToSuperpages() Window {
	sizeMinus1 := uintptr(SuperpageSize - 1)
	start := (w.Base + sizeMinus1) &^ sizeMinus1
	end := w.End() &^ sizeMinus1
	if end <= start {
		return Window{Base: start}
	}

	return Window{Base: start, Length: Size(end - start)}
}

// String implements fmt.Stringer for Window.
func (w Window) String() string {
	return fmt.Sprintf("[0x%10x - 0x%10x]", w.Base, w.End())
}
