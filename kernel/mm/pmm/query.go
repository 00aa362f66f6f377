package pmm

import (
	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// Status2M returns the usage counter of a whole superpage. It fails with
// ErrNotTracked if the page has no record and with ErrAlreadyDivided if the
// page is divided.
func (alloc *Allocator) Status2M(page mm.Page2M) (uint32, *kernel.Error) {
	rec := alloc.index.Find(page)
	switch {
	case rec == nil:
		return 0, ErrNotTracked
	case rec.Divided():
		return 0, ErrAlreadyDivided
	}
	return rec.whole.Used(), nil
}

// Status4K returns the usage counter of a slice. It fails with ErrNotTracked
// if the base superpage has no record and with ErrNotDivided if it is whole.
func (alloc *Allocator) Status4K(page mm.Page4K) (uint32, *kernel.Error) {
	rec := alloc.index.Find(page.Base)
	if rec == nil {
		return 0, ErrNotTracked
	}

	status := rec.SliceStatus(page.Index)
	if status == nil {
		return 0, ErrNotDivided
	}
	return status.Used(), nil
}

// PageInfo describes the allocator's view of a physical address.
type PageInfo struct {
	// Page is the superpage that contains the address.
	Page mm.Page2M

	// Managed is true if the address lies in a window handed to the
	// allocator and is not reserved.
	Managed bool

	// Tracked is true if the superpage has a tracking record.
	Tracked bool

	// Divided is true if the superpage is split into slices. Slice then
	// holds the index of the slice containing the address.
	Divided bool
	Slice   uint16

	// Used is the usage counter of the whole superpage or, for divided
	// superpages, of the slice containing the address.
	Used uint32

	// FreeSlices is the number of unused slices of a divided superpage.
	FreeSlices int
}

// Lookup resolves a physical address to the state of the page that
// contains it.
func (alloc *Allocator) Lookup(addr uintptr) PageInfo {
	page := mm.Page2MFromAddress(addr)
	info := PageInfo{Page: page}

	for _, w := range alloc.windows {
		if w.Contains(addr) {
			info.Managed = !alloc.reserved(page)
			break
		}
	}

	rec := alloc.index.Find(page)
	if rec == nil {
		return info
	}

	info.Tracked = true
	if !rec.Divided() {
		info.Used = rec.whole.Used()
		return info
	}

	slice := mm.Page4KFromAddress(addr)
	info.Divided = true
	info.Slice = slice.Index
	info.Used = rec.div.status[slice.Index].Used()
	info.FreeSlices = rec.FreeSlices()
	return info
}

// Stats is a snapshot of the allocator counters.
type Stats struct {
	Total2M     uint64
	Free2M      uint64
	Allocated2M uint64

	// Untracked2M counts free superpages that are still on the FreeStack.
	Untracked2M uint64

	// Divided2M counts superpages that are split into slices.
	Divided2M uint64

	Free4K   uint64
	FreeSize mm.Size

	// Ranges is the number of StatusRanges in the index.
	Ranges int

	// RecycledDivisions is the number of slice state blocks kept for
	// reuse.
	RecycledDivisions int
}

// Stats returns a snapshot of the allocator counters.
func (alloc *Allocator) Stats() Stats {
	return Stats{
		Total2M:           alloc.total2M,
		Free2M:            alloc.Free2MPages(),
		Allocated2M:       alloc.Allocated2MPages(),
		Untracked2M:       uint64(alloc.stack.Count()),
		Divided2M:         alloc.divided,
		Free4K:            alloc.free4K,
		FreeSize:          alloc.FreeMemorySize(),
		Ranges:            alloc.index.Ranges(),
		RecycledDivisions: alloc.heap.Len(),
	}
}
