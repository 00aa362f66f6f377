package pmm

import (
	"kobzar/kernel/mm"
)

// StatusRange holds the tracking records of a physically contiguous run of
// superpages [low, high).
type StatusRange struct {
	low, high uintptr
	records   []DivisionRecord

	// freeWhole and partial count the records in classWholeFree and
	// classDividedPartial so the allocator can skip ranges without
	// scanning their records.
	freeWhole int
	partial   int
}

func newStatusRange(page mm.Page2M) *StatusRange {
	r := &StatusRange{
		low:     page.Address(),
		high:    page.Next().Address(),
		records: make([]DivisionRecord, 1, 4),
	}
	r.records[0].page = page
	r.freeWhole = 1
	return r
}

// Low returns the address of the first superpage in the range.
func (r *StatusRange) Low() uintptr { return r.low }

// High returns the first address past the end of the range.
func (r *StatusRange) High() uintptr { return r.high }

// Len returns the number of records in the range.
func (r *StatusRange) Len() int { return len(r.records) }

// Contains returns true if addr falls inside the range.
func (r *StatusRange) Contains(addr uintptr) bool {
	return addr >= r.low && addr < r.high
}

// RecordFor returns the record of a superpage. The caller must ensure that
// the range contains page.
func (r *StatusRange) RecordFor(page mm.Page2M) *DivisionRecord {
	return &r.records[(page.Address()-r.low)>>mm.SuperpageShift]
}

// account moves a record between the range's class counters.
func (r *StatusRange) account(before, after snapshot) {
	r.freeWhole -= classCount(before.class, classWholeFree)
	r.partial -= classCount(before.class, classDividedPartial)
	r.freeWhole += classCount(after.class, classWholeFree)
	r.partial += classCount(after.class, classDividedPartial)
}

// recount rebuilds the class counters by scanning the records.
func (r *StatusRange) recount() {
	r.freeWhole, r.partial = 0, 0
	for i := range r.records {
		switch r.records[i].snapshot().class {
		case classWholeFree:
			r.freeWhole++
		case classDividedPartial:
			r.partial++
		}
	}
}

// appendRecord extends the range by one free whole superpage at its high end.
func (r *StatusRange) appendRecord() *DivisionRecord {
	r.records = append(r.records, DivisionRecord{page: mm.Page2M(r.high)})
	r.high += uintptr(mm.SuperpageSize)
	r.freeWhole++
	return &r.records[len(r.records)-1]
}

// prependRecord extends the range by one free whole superpage at its low end.
func (r *StatusRange) prependRecord() *DivisionRecord {
	r.low -= uintptr(mm.SuperpageSize)
	r.records = append(r.records, DivisionRecord{})
	copy(r.records[1:], r.records)
	r.records[0] = DivisionRecord{page: mm.Page2M(r.low)}
	r.freeWhole++
	return &r.records[0]
}

// absorb appends the records of the range that immediately follows r.
func (r *StatusRange) absorb(next *StatusRange) {
	r.records = append(r.records, next.records...)
	r.high = next.high
	r.freeWhole += next.freeWhole
	r.partial += next.partial
}

// cut removes the record at index and returns the ranges covering the
// records on either side of it. Either returned range may be nil.
func (r *StatusRange) cut(index int) (*StatusRange, *StatusRange) {
	var left, right *StatusRange

	if index > 0 {
		left = &StatusRange{
			low:     r.low,
			high:    r.low + uintptr(index)<<mm.SuperpageShift,
			records: append([]DivisionRecord(nil), r.records[:index]...),
		}
		left.recount()
	}

	if index < len(r.records)-1 {
		right = &StatusRange{
			low:     r.low + uintptr(index+1)<<mm.SuperpageShift,
			high:    r.high,
			records: append([]DivisionRecord(nil), r.records[index+1:]...),
		}
		right.recount()
	}

	return left, right
}

func classCount(c, want recordClass) int {
	if c == want {
		return 1
	}
	return 0
}
