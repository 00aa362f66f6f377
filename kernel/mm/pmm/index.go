package pmm

import (
	"github.com/google/btree"

	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// DefaultIndexDegree is the B-tree degree used when Config.IndexDegree is not
// set.
const DefaultIndexDegree = 8

// RangeIndex maps superpage addresses to their tracking records. It keeps the
// StatusRanges in a B-tree ordered by their low address so a lookup costs a
// tree descent followed by an index computation inside the matching range.
//
// Ranges never overlap. Tracking a superpage that is adjacent to existing
// ranges extends them so that every StatusRange is a maximal contiguous run
// of tracked superpages.
type RangeIndex struct {
	tree    *btree.BTreeG[*StatusRange]
	records int
}

// NewRangeIndex returns an empty index backed by a B-tree of the given degree.
func NewRangeIndex(degree int) *RangeIndex {
	if degree < 2 {
		degree = DefaultIndexDegree
	}

	return &RangeIndex{
		tree: btree.NewG[*StatusRange](degree, func(a, b *StatusRange) bool {
			return a.low < b.low
		}),
	}
}

// Ranges returns the number of StatusRanges in the index.
func (idx *RangeIndex) Ranges() int { return idx.tree.Len() }

// Records returns the number of tracked superpages.
func (idx *RangeIndex) Records() int { return idx.records }

// rangeFor returns the range that contains addr or nil.
func (idx *RangeIndex) rangeFor(addr uintptr) *StatusRange {
	var found *StatusRange
	idx.tree.DescendLessOrEqual(&StatusRange{low: addr}, func(r *StatusRange) bool {
		found = r
		return false
	})

	if found == nil || !found.Contains(addr) {
		return nil
	}
	return found
}

// Find returns the tracking record of page or nil if the page is not tracked.
func (idx *RangeIndex) Find(page mm.Page2M) *DivisionRecord {
	if r := idx.rangeFor(page.Address()); r != nil {
		return r.RecordFor(page)
	}
	return nil
}

// lookup works like Find but also returns the containing range.
func (idx *RangeIndex) lookup(page mm.Page2M) (*StatusRange, *DivisionRecord) {
	r := idx.rangeFor(page.Address())
	if r == nil {
		return nil, nil
	}
	return r, r.RecordFor(page)
}

// Insert starts tracking page with a free whole record. It fails with
// ErrAlreadyTracked if page already has a record.
func (idx *RangeIndex) Insert(page mm.Page2M) (*StatusRange, *DivisionRecord, *kernel.Error) {
	addr := page.Address()

	var prev *StatusRange
	idx.tree.DescendLessOrEqual(&StatusRange{low: addr}, func(r *StatusRange) bool {
		prev = r
		return false
	})
	if prev != nil && prev.Contains(addr) {
		return nil, nil, ErrAlreadyTracked
	}

	next, _ := idx.tree.Get(&StatusRange{low: page.Next().Address()})
	idx.records++

	switch {
	case prev != nil && prev.high == addr:
		prev.appendRecord()
		if next != nil {
			idx.tree.Delete(next)
			prev.absorb(next)
		}
		return prev, prev.RecordFor(page), nil
	case next != nil:
		// low is the ordering key; re-insert after changing it.
		idx.tree.Delete(next)
		rec := next.prependRecord()
		idx.tree.ReplaceOrInsert(next)
		return next, rec, nil
	default:
		r := newStatusRange(page)
		idx.tree.ReplaceOrInsert(r)
		return r, &r.records[0], nil
	}
}

// Remove stops tracking page, splitting its range if needed. It fails with
// ErrNotTracked if page has no record.
func (idx *RangeIndex) Remove(page mm.Page2M) *kernel.Error {
	r := idx.rangeFor(page.Address())
	if r == nil {
		return ErrNotTracked
	}

	idx.tree.Delete(r)
	left, right := r.cut(int((page.Address() - r.low) >> mm.SuperpageShift))
	if left != nil {
		idx.tree.ReplaceOrInsert(left)
	}
	if right != nil {
		idx.tree.ReplaceOrInsert(right)
	}

	idx.records--
	return nil
}

// Ascend invokes fn for each range in ascending address order until fn
// returns false.
func (idx *RangeIndex) Ascend(fn func(*StatusRange) bool) {
	idx.tree.Ascend(fn)
}
