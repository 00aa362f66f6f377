// Package pmm implements the physical memory allocator. Memory is handed out
// as 2MiB superpages or as 4KiB slices obtained by dividing a superpage, and
// every page carries a usage counter of the mapping-table entries that
// reference it.
//
// Superpages that were never allocated live on a FreeStack. The first
// allocation of a superpage creates a tracking record for it in the
// RangeIndex; from then on the page stays tracked and is reused from the
// index before the FreeStack is consulted.
//
// An Allocator is not safe for concurrent use. Callers running on more than
// one core must serialize access, e.g. by using a LockedAllocator.
package pmm

import (
	"sort"

	"github.com/phuslu/log"

	"kobzar/kernel"
	"kobzar/kernel/kfmt"
	"kobzar/kernel/mm"
)

// Allocator hands out superpages and 4KiB slices from a set of physical
// memory windows. It is the only mutator of its FreeStack, RangeIndex and
// the DivisionRecords they contain.
type Allocator struct {
	cfg     Config
	log     *log.Logger
	windows []mm.Window

	stack *FreeStack
	index *RangeIndex
	heap  divisionHeap

	total2M uint64

	// running counters; see Stats.
	wholeFree uint64
	wholeUsed uint64
	divided   uint64
	partial   uint64
	free4K    uint64
}

// New creates an allocator that manages the superpages inside windows. Every
// window must be aligned to mm.SuperpageSize and windows must not overlap.
// Empty windows are ignored. Superpages that overlap a window in cfg.Reserved
// are never handed out.
func New(windows []mm.Window, cfg Config) (*Allocator, *kernel.Error) {
	sorted := make([]mm.Window, 0, len(windows))
	for _, w := range windows {
		if w.Length == 0 {
			continue
		}
		if !w.Aligned() {
			return nil, ErrMisalignedWindow
		}
		sorted = append(sorted, w)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	var maxEnd uintptr
	for _, w := range sorted {
		if w.Base < maxEnd {
			return nil, ErrOverlappingWindow
		}
		maxEnd = w.End()
	}

	alloc := &Allocator{
		cfg:     cfg,
		log:     cfg.Logger,
		windows: sorted,
		index:   NewRangeIndex(cfg.IndexDegree),
	}
	if alloc.log == nil {
		alloc.log = kfmt.Logger("pmm")
	}

	// Count usable superpages first so the stack storage can be sized
	// with a single allocation.
	var usable uint64
	alloc.visitUsable(func(mm.Page2M) { usable++ })

	alloc.stack = NewFreeStack(make([]mm.Page2M, usable))
	alloc.total2M = usable

	// Push pages in descending order so that pops hand out the lowest
	// address first.
	for i := len(sorted) - 1; i >= 0; i-- {
		w := sorted[i]
		for addr := w.End(); addr > w.Base; {
			addr -= uintptr(mm.SuperpageSize)
			page := mm.Page2M(addr)
			if alloc.reserved(page) {
				continue
			}
			if err := alloc.stack.Push(page); err != nil {
				return nil, err
			}
		}
	}

	alloc.printMemoryMap()
	return alloc, nil
}

// visitUsable invokes fn for each superpage that is not reserved.
func (alloc *Allocator) visitUsable(fn func(mm.Page2M)) {
	for _, w := range alloc.windows {
		for addr := w.Base; addr < w.End(); addr += uintptr(mm.SuperpageSize) {
			if page := mm.Page2M(addr); !alloc.reserved(page) {
				fn(page)
			}
		}
	}
}

// reserved returns true if page overlaps a reserved window.
func (alloc *Allocator) reserved(page mm.Page2M) bool {
	pageWindow := mm.Window{Base: page.Address(), Length: mm.SuperpageSize}
	for _, r := range alloc.cfg.Reserved {
		if r.Overlaps(pageWindow) {
			return true
		}
	}
	return false
}

func (alloc *Allocator) printMemoryMap() {
	for _, w := range alloc.windows {
		alloc.log.Info().
			Str("window", w.String()).
			Uint64("size", uint64(w.Length)).
			Msg("usable memory window")
	}
	for _, r := range alloc.cfg.Reserved {
		alloc.log.Info().Str("window", r.String()).Msg("reserved memory window")
	}
	alloc.log.Info().
		Uint64("superpages", alloc.total2M).
		Uint64("free_kb", uint64(alloc.FreeMemorySize()/mm.Kb)).
		Msg("physical memory allocator ready")
}

// Alloc2M allocates a whole superpage. Tracked free superpages are reused
// (lowest address first) before untracked superpages are taken from the
// FreeStack. Alloc2M fails with ErrNoMorePages if neither source has a free
// superpage.
func (alloc *Allocator) Alloc2M() (Page2MHandle, *kernel.Error) {
	rng, rec, err := alloc.takeWhole()
	if err != nil {
		return Page2MHandle{}, err
	}

	before := rec.snapshot()
	if err = rec.AllocWhole(); err != nil {
		return Page2MHandle{}, err
	}
	alloc.account(rng, before, rec.snapshot())

	alloc.scrub(rec.page.Address(), mm.SuperpageSize)
	return Page2MHandle{page: rec.page}, nil
}

// Alloc4K allocates a 4KiB page. Divided superpages with free slices are
// used first (lowest address first); otherwise a free superpage is obtained
// as in Alloc2M and divided. Alloc4K fails with ErrNoMorePages if no slice
// can be found.
func (alloc *Allocator) Alloc4K() (Page4KHandle, *kernel.Error) {
	rng, rec := alloc.findPartial()
	if rec == nil {
		var err *kernel.Error
		if rng, rec, err = alloc.takeWhole(); err != nil {
			return Page4KHandle{}, err
		}

		before := rec.snapshot()
		if err = rec.divideWith(alloc.heap.get()); err != nil {
			return Page4KHandle{}, err
		}
		alloc.account(rng, before, rec.snapshot())
		alloc.log.Debug().Str("page", rec.page.String()).Msg("divided superpage")
	}

	before := rec.snapshot()
	index, _, ok := rec.AllocSlice()
	if !ok {
		// findPartial and divide only return records with a free slice.
		return Page4KHandle{}, ErrNoMorePages
	}
	alloc.account(rng, before, rec.snapshot())

	page := rec.page.Slice(index)
	alloc.scrub(page.Address(), mm.PageSize)
	return Page4KHandle{page: page}, nil
}

// takeWhole returns a tracked, free, whole superpage record. Tracked pages
// are preferred; if none exists a page is popped from the FreeStack and a
// tracking record is created for it.
func (alloc *Allocator) takeWhole() (*StatusRange, *DivisionRecord, *kernel.Error) {
	if rng, rec := alloc.findWholeFree(); rec != nil {
		return rng, rec, nil
	}

	page, ok := alloc.stack.Pop()
	if !ok {
		alloc.log.Warn().Msg("physical memory exhausted")
		return nil, nil, ErrNoMorePages
	}

	rng, rec, err := alloc.index.Insert(page)
	if err != nil {
		// The page is still free; keep it available.
		_ = alloc.stack.Push(page)
		return nil, nil, err
	}
	alloc.wholeFree++

	alloc.log.Debug().Str("page", page.String()).Int("ranges", alloc.index.Ranges()).Msg("tracking superpage")
	return rng, rec, nil
}

// findWholeFree returns the lowest tracked superpage that is whole and free.
func (alloc *Allocator) findWholeFree() (*StatusRange, *DivisionRecord) {
	if alloc.wholeFree == 0 {
		return nil, nil
	}

	var (
		foundRange *StatusRange
		foundRec   *DivisionRecord
	)
	alloc.index.Ascend(func(rng *StatusRange) bool {
		if rng.freeWhole == 0 {
			return true
		}
		for i := range rng.records {
			if rec := &rng.records[i]; rec.div == nil && rec.whole.IsFree() {
				foundRange, foundRec = rng, rec
				return false
			}
		}
		return true
	})
	return foundRange, foundRec
}

// findPartial returns the lowest divided superpage that has a free slice.
func (alloc *Allocator) findPartial() (*StatusRange, *DivisionRecord) {
	if alloc.partial == 0 {
		return nil, nil
	}

	var (
		foundRange *StatusRange
		foundRec   *DivisionRecord
	)
	alloc.index.Ascend(func(rng *StatusRange) bool {
		if rng.partial == 0 {
			return true
		}
		for i := range rng.records {
			if rec := &rng.records[i]; rec.div != nil && !rec.div.bitmap.IsFull() {
				foundRange, foundRec = rng, rec
				return false
			}
		}
		return true
	})
	return foundRange, foundRec
}

// Release2M drops a reference to a whole superpage. The page stays tracked
// and becomes available for reuse once its counter reaches zero.
//
// Release2M fails with ErrUsageCounterNonzero if the page is not tracked or
// is divided and with ErrCounterUnderflow if the page is already free.
func (alloc *Allocator) Release2M(h Page2MHandle) *kernel.Error {
	rng, rec := alloc.index.lookup(h.page)
	if rec == nil || rec.Divided() {
		return ErrUsageCounterNonzero
	}

	before := rec.snapshot()
	if _, err := rec.whole.Dec(); err != nil {
		return ErrCounterUnderflow
	}
	alloc.account(rng, before, rec.snapshot())
	return nil
}

// Release4K drops a reference to a 4KiB page. The slice becomes available
// for reuse once its counter reaches zero. If Config.AutoMerge is set and
// the divided superpage has no slices left in use, it is merged.
//
// Release4K fails with ErrUsageCounterNonzero if the base superpage is not
// tracked or not divided and with ErrCounterUnderflow if the slice is
// already free.
func (alloc *Allocator) Release4K(h Page4KHandle) *kernel.Error {
	rng, rec := alloc.index.lookup(h.page.Base)
	if rec == nil || !rec.Divided() || !h.page.Valid() {
		return ErrUsageCounterNonzero
	}

	before := rec.snapshot()
	if _, err := rec.FreeSlice(h.page.Index); err != nil {
		return ErrCounterUnderflow
	}
	alloc.account(rng, before, rec.snapshot())

	if alloc.cfg.AutoMerge && rec.IsFree() {
		return alloc.merge(rng, rec)
	}
	return nil
}

// Retain2M adds a reference to an allocated superpage and returns the new
// counter value. It fails with ErrNotAllocated if the page is not an
// allocated whole superpage and with ErrStatusOverflow if the counter is
// saturated.
func (alloc *Allocator) Retain2M(h Page2MHandle) (uint32, *kernel.Error) {
	rec := alloc.index.Find(h.page)
	if rec == nil || rec.Divided() || rec.whole.IsFree() {
		return 0, ErrNotAllocated
	}
	return rec.whole.Inc()
}

// Retain4K adds a reference to an allocated 4KiB page and returns the new
// counter value. It fails with ErrNotAllocated if the page is not an
// allocated slice and with ErrStatusOverflow if the counter is saturated.
func (alloc *Allocator) Retain4K(h Page4KHandle) (uint32, *kernel.Error) {
	rec := alloc.index.Find(h.page.Base)
	status := (*PageStatus)(nil)
	if rec != nil {
		status = rec.SliceStatus(h.page.Index)
	}
	if status == nil || status.IsFree() {
		return 0, ErrNotAllocated
	}
	return status.Inc()
}

// Handle2M returns a handle for an allocated whole superpage. Mapping code
// that only keeps physical addresses uses it to release pages.
func (alloc *Allocator) Handle2M(page mm.Page2M) (Page2MHandle, *kernel.Error) {
	rec := alloc.index.Find(page)
	if rec == nil || rec.Divided() || rec.whole.IsFree() {
		return Page2MHandle{}, ErrNotAllocated
	}
	return Page2MHandle{page: page}, nil
}

// Handle4K returns a handle for an allocated 4KiB page.
func (alloc *Allocator) Handle4K(page mm.Page4K) (Page4KHandle, *kernel.Error) {
	rec := alloc.index.Find(page.Base)
	if rec == nil {
		return Page4KHandle{}, ErrNotAllocated
	}
	if status := rec.SliceStatus(page.Index); status == nil || status.IsFree() {
		return Page4KHandle{}, ErrNotAllocated
	}
	return Page4KHandle{page: page}, nil
}

// Merge turns a divided superpage with no slices in use back into a whole
// free superpage. It fails with ErrNotTracked if the page has no record and
// otherwise with the errors returned by DivisionRecord.Merge.
func (alloc *Allocator) Merge(page mm.Page2M) *kernel.Error {
	rng, rec := alloc.index.lookup(page)
	if rec == nil {
		return ErrNotTracked
	}
	return alloc.merge(rng, rec)
}

func (alloc *Allocator) merge(rng *StatusRange, rec *DivisionRecord) *kernel.Error {
	before := rec.snapshot()
	d, err := rec.mergeTake()
	if err != nil {
		return err
	}
	alloc.heap.put(d)
	alloc.account(rng, before, rec.snapshot())

	alloc.log.Debug().Str("page", rec.page.String()).Msg("merged superpage")
	return nil
}

// Retire drops the tracking record of a free whole superpage and returns the
// page to the FreeStack. It fails with ErrNotTracked if the page has no
// record and with ErrNotRetirable if the page is divided or in use.
func (alloc *Allocator) Retire(page mm.Page2M) *kernel.Error {
	rec := alloc.index.Find(page)
	switch {
	case rec == nil:
		return ErrNotTracked
	case rec.Divided() || rec.whole.IsUsed():
		return ErrNotRetirable
	}

	if err := alloc.index.Remove(page); err != nil {
		return err
	}
	alloc.wholeFree--

	if err := alloc.stack.Push(page); err != nil {
		return err
	}

	alloc.log.Debug().Str("page", page.String()).Msg("retired superpage")
	return nil
}

// account updates the running counters after a record moved from state
// before to state after.
func (alloc *Allocator) account(rng *StatusRange, before, after snapshot) {
	rng.account(before, after)

	alloc.adjustClass(before.class, ^uint64(0))
	alloc.adjustClass(after.class, 1)
	alloc.free4K += uint64(after.freeSlices) - uint64(before.freeSlices)
}

func (alloc *Allocator) adjustClass(c recordClass, delta uint64) {
	switch c {
	case classWholeFree:
		alloc.wholeFree += delta
	case classWholeUsed:
		alloc.wholeUsed += delta
	case classDividedPartial:
		alloc.divided += delta
		alloc.partial += delta
	case classDividedFull:
		alloc.divided += delta
	}
}

func (alloc *Allocator) scrub(addr uintptr, size mm.Size) {
	if alloc.cfg.Scrubber != nil {
		alloc.cfg.Scrubber.Scrub(addr, size)
	}
}

// Free2MPages returns the number of free superpages, both tracked and
// untracked.
func (alloc *Allocator) Free2MPages() uint64 {
	return alloc.wholeFree + uint64(alloc.stack.Count())
}

// Allocated2MPages returns the number of superpages that are in use either as
// whole pages or because they are divided.
func (alloc *Allocator) Allocated2MPages() uint64 {
	return alloc.wholeUsed + alloc.divided
}

// Total2MPages returns the number of superpages managed by the allocator.
func (alloc *Allocator) Total2MPages() uint64 { return alloc.total2M }

// Free4KPages returns the number of free slices in divided superpages.
func (alloc *Allocator) Free4KPages() uint64 { return alloc.free4K }

// FreeMemorySize returns the number of free bytes.
func (alloc *Allocator) FreeMemorySize() mm.Size {
	return mm.Size(alloc.Free2MPages())*mm.SuperpageSize + mm.Size(alloc.Free4KPages())*mm.PageSize
}

// Windows returns the memory windows managed by the allocator in ascending
// address order.
func (alloc *Allocator) Windows() []mm.Window {
	return append([]mm.Window(nil), alloc.windows...)
}
