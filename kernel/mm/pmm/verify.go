package pmm

import (
	"fmt"

	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// Verify walks every tracking structure, recomputes the running counters
// and checks them against the values maintained by the allocator. It returns
// an error of the same kind as ErrInvariant describing the first violation
// it finds.
//
// Verify is intended for tests and debug builds; its cost is linear in the
// number of tracked superpages and slices.
func (alloc *Allocator) Verify() *kernel.Error {
	if err := alloc.verify(); err != nil {
		alloc.log.Error().Str("violation", err.Message).Msg("allocator invariant violated")
		return err
	}
	return nil
}

func invariantf(format string, args ...interface{}) *kernel.Error {
	return &kernel.Error{Module: ErrInvariant.Module, Message: fmt.Sprintf(format, args...)}
}

func (alloc *Allocator) verify() *kernel.Error {
	var (
		err                      *kernel.Error
		prevHigh                 uintptr
		haveRange                bool
		wholeFree, wholeUsed     uint64
		divided, partial, free4K uint64
		records                  int
	)

	alloc.index.Ascend(func(rng *StatusRange) bool {
		if err = verifyRange(rng); err != nil {
			return false
		}
		if haveRange && rng.low <= prevHigh {
			err = invariantf("range [0x%x, 0x%x) overlaps or touches previous range ending at 0x%x", rng.low, rng.high, prevHigh)
			return false
		}
		prevHigh, haveRange = rng.high, true
		records += len(rng.records)

		for i := range rng.records {
			rec := &rng.records[i]
			if !alloc.managed(rec.page) {
				err = invariantf("tracked page %s is outside the usable windows", rec.page)
				return false
			}

			switch s := rec.snapshot(); s.class {
			case classWholeFree:
				wholeFree++
			case classWholeUsed:
				wholeUsed++
			case classDividedPartial:
				divided++
				partial++
				free4K += uint64(s.freeSlices)
			case classDividedFull:
				divided++
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	if records != alloc.index.Records() {
		return invariantf("index reports %d records; found %d", alloc.index.Records(), records)
	}

	for _, check := range []struct {
		name     string
		exp, got uint64
	}{
		{"free whole", wholeFree, alloc.wholeFree},
		{"used whole", wholeUsed, alloc.wholeUsed},
		{"divided", divided, alloc.divided},
		{"partially used", partial, alloc.partial},
		{"free slice", free4K, alloc.free4K},
	} {
		if check.exp != check.got {
			return invariantf("%s counter is %d; expected %d", check.name, check.got, check.exp)
		}
	}

	alloc.stack.visit(func(page mm.Page2M) bool {
		switch {
		case !alloc.managed(page):
			err = invariantf("free stack page %s is outside the usable windows", page)
		case alloc.index.Find(page) != nil:
			err = invariantf("free stack page %s is also tracked", page)
		}
		return err == nil
	})
	if err != nil {
		return err
	}

	if got := uint64(records) + uint64(alloc.stack.Count()); got != alloc.total2M {
		return invariantf("%d tracked and %d untracked pages do not add up to %d", records, alloc.stack.Count(), alloc.total2M)
	}

	if free, used := alloc.Free2MPages(), alloc.Allocated2MPages(); free+used != alloc.total2M {
		return invariantf("%d free and %d allocated pages do not add up to %d", free, used, alloc.total2M)
	}

	return nil
}

// verifyRange checks the layout of a single range and the consistency of
// its records.
func verifyRange(rng *StatusRange) *kernel.Error {
	if rng.high <= rng.low || uintptr(len(rng.records)) != (rng.high-rng.low)>>mm.SuperpageShift {
		return invariantf("range [0x%x, 0x%x) holds %d records", rng.low, rng.high, len(rng.records))
	}

	var freeWhole, partial int
	for i := range rng.records {
		rec := &rng.records[i]
		if exp := mm.Page2M(rng.low + uintptr(i)<<mm.SuperpageShift); rec.page != exp {
			return invariantf("record %d of range 0x%x describes page %s; expected %s", i, rng.low, rec.page, exp)
		}

		if rec.div != nil {
			for slice := uint16(0); slice < mm.SlicesPerSuperpage; slice++ {
				if rec.div.bitmap.IsSet(slice) != rec.div.status[slice].IsUsed() {
					return invariantf("bitmap of page %s disagrees with the counter of slice %d", rec.page, slice)
				}
			}
			if rec.whole.IsUsed() {
				return invariantf("divided page %s has a whole usage counter", rec.page)
			}
		}

		switch rec.snapshot().class {
		case classWholeFree:
			freeWhole++
		case classDividedPartial:
			partial++
		}
	}

	if freeWhole != rng.freeWhole || partial != rng.partial {
		return invariantf("range 0x%x counts %d free and %d partial records; found %d and %d",
			rng.low, rng.freeWhole, rng.partial, freeWhole, partial)
	}
	return nil
}

// managed returns true if page lies in a window and is not reserved.
func (alloc *Allocator) managed(page mm.Page2M) bool {
	for _, w := range alloc.windows {
		if w.Contains(page.Address()) {
			return !alloc.reserved(page)
		}
	}
	return false
}
