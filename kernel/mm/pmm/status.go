package pmm

import (
	"math"

	"kobzar/kernel"
)

// PageStatus counts how many mapping-table entries currently reference a
// page. A page with a zero counter is free.
type PageStatus struct {
	used uint32
}

// Inc records a new reference to the page and returns the updated counter.
// Inc fails with ErrStatusOverflow and leaves the counter untouched if the
// counter is saturated.
func (s *PageStatus) Inc() (uint32, *kernel.Error) {
	if s.used == math.MaxUint32 {
		return s.used, ErrStatusOverflow
	}

	s.used++
	return s.used, nil
}

// Dec drops a reference to the page and returns the updated counter. Dec
// fails with ErrStatusUnderflow and leaves the counter untouched if the page
// is already free.
func (s *PageStatus) Dec() (uint32, *kernel.Error) {
	if s.used == 0 {
		return 0, ErrStatusUnderflow
	}

	s.used--
	return s.used, nil
}

// Used returns the current reference count.
func (s *PageStatus) Used() uint32 { return s.used }

// IsFree returns true if no mapping references the page.
func (s *PageStatus) IsFree() bool { return s.used == 0 }

// IsUsed returns true if at least one mapping references the page.
func (s *PageStatus) IsUsed() bool { return s.used != 0 }
