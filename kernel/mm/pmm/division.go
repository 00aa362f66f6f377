package pmm

import (
	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// division holds the per-slice state of a divided superpage.
type division struct {
	// bitmap has bit i set iff status[i] is in use.
	bitmap Bitmap512

	status [mm.SlicesPerSuperpage]PageStatus
}

// DivisionRecord tracks the state of a single superpage. A record is either
// whole, in which case a single PageStatus describes the entire superpage, or
// divided into mm.SlicesPerSuperpage slices that are tracked individually.
//
// The record is whole when div is nil.
type DivisionRecord struct {
	page  mm.Page2M
	whole PageStatus
	div   *division
}

// Page returns the superpage described by this record.
func (r *DivisionRecord) Page() mm.Page2M { return r.page }

// Divided returns true if the superpage is split into slices.
func (r *DivisionRecord) Divided() bool { return r.div != nil }

// WholeStatus returns the status of a whole superpage. It returns nil if the
// record is divided.
func (r *DivisionRecord) WholeStatus() *PageStatus {
	if r.div != nil {
		return nil
	}
	return &r.whole
}

// SliceStatus returns the status of a slice of a divided superpage. It returns
// nil if the record is whole or the index is out of range.
func (r *DivisionRecord) SliceStatus(index uint16) *PageStatus {
	if r.div == nil || index >= mm.SlicesPerSuperpage {
		return nil
	}
	return &r.div.status[index]
}

// AllocWhole adds a reference to a whole superpage and fails with
// ErrAlreadyAllocated if the record is divided.
func (r *DivisionRecord) AllocWhole() *kernel.Error {
	if r.div != nil {
		return ErrAlreadyAllocated
	}

	// A free page cannot be saturated.
	_, _ = r.whole.Inc()
	return nil
}

// Divide splits a free whole superpage into slices. It fails with
// ErrAlreadyDivided if the record is already divided or with ErrAllocated if
// the superpage is in use; in both cases the record is left unchanged.
func (r *DivisionRecord) Divide() *kernel.Error {
	return r.divideWith(nil)
}

// divideWith works like Divide but uses d as the slice state. If d is nil a
// new division is allocated. d must be zeroed.
func (r *DivisionRecord) divideWith(d *division) *kernel.Error {
	switch {
	case r.div != nil:
		return ErrAlreadyDivided
	case r.whole.IsUsed():
		return ErrAllocated
	}

	if d == nil {
		d = new(division)
	}
	r.div = d
	return nil
}

// Merge turns a divided superpage whose slices are all free back into a whole
// free superpage. It fails with ErrNotDivided if the record is whole or with
// ErrUsed if any slice is still in use; in both cases the record is left
// unchanged.
func (r *DivisionRecord) Merge() *kernel.Error {
	_, err := r.mergeTake()
	return err
}

// mergeTake works like Merge but also returns the detached slice state so
// it can be recycled.
func (r *DivisionRecord) mergeTake() (*division, *kernel.Error) {
	switch {
	case r.div == nil:
		return nil, ErrNotDivided
	case !r.div.bitmap.IsZero():
		return nil, ErrUsed
	}

	d := r.div
	r.div = nil
	r.whole = PageStatus{}
	return d, nil
}

// AllocSlice reserves the lowest free slice of a divided superpage and returns
// its index together with its status. The last return value is false if the
// record is whole or all slices are in use.
func (r *DivisionRecord) AllocSlice() (uint16, *PageStatus, bool) {
	if r.div == nil {
		return 0, nil, false
	}

	index, ok := r.div.bitmap.FirstClear()
	if !ok {
		return 0, nil, false
	}

	r.div.bitmap.Set(index)
	status := &r.div.status[index]
	_, _ = status.Inc()
	return index, status, true
}

// FreeSlice drops a reference to slice index and returns the updated counter.
// Once the counter reaches zero the slice becomes available for allocation.
// Freeing a slice does not merge the record.
//
// FreeSlice fails with ErrNotDivided if the record is whole and with
// ErrStatusUnderflow if the slice is already free.
func (r *DivisionRecord) FreeSlice(index uint16) (uint32, *kernel.Error) {
	if r.div == nil || index >= mm.SlicesPerSuperpage {
		return 0, ErrNotDivided
	}

	used, err := r.div.status[index].Dec()
	if err != nil {
		return 0, err
	}

	if used == 0 {
		r.div.bitmap.Clear(index)
	}
	return used, nil
}

// IsFree returns true if a whole superpage is unused or a divided superpage
// has no slices in use.
func (r *DivisionRecord) IsFree() bool {
	if r.div == nil {
		return r.whole.IsFree()
	}
	return r.div.bitmap.IsZero()
}

// FreeSlices returns the number of unused slices of a divided superpage or 0
// for whole records.
func (r *DivisionRecord) FreeSlices() int {
	if r.div == nil {
		return 0
	}
	return mm.SlicesPerSuperpage - r.div.bitmap.Count()
}

// recordClass buckets records for the allocator's running counters.
type recordClass uint8

const (
	classWholeFree recordClass = iota
	classWholeUsed
	classDividedPartial
	classDividedFull
)

// snapshot captures the accounting-relevant state of a record.
type snapshot struct {
	class      recordClass
	freeSlices int
}

func (r *DivisionRecord) snapshot() snapshot {
	switch {
	case r.div == nil && r.whole.IsFree():
		return snapshot{class: classWholeFree}
	case r.div == nil:
		return snapshot{class: classWholeUsed}
	}

	free := r.FreeSlices()
	if free == 0 {
		return snapshot{class: classDividedFull}
	}
	return snapshot{class: classDividedPartial, freeSlices: free}
}
