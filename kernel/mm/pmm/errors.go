package pmm

import "kobzar/kernel"

// Allocation errors.
var (
	ErrNoMorePages      = &kernel.Error{Module: "alloc", Message: "no more pages"}
	ErrAlreadyAllocated = &kernel.Error{Module: "alloc", Message: "page already allocated"}
)

// Release errors.
var (
	// ErrUsageCounterNonzero is returned when a release targets an address
	// that the allocator cannot release at the requested granularity.
	ErrUsageCounterNonzero = &kernel.Error{Module: "release", Message: "usage counter nonzero"}

	// ErrCounterUnderflow is returned when releasing a page that is already free.
	ErrCounterUnderflow = &kernel.Error{Module: "release", Message: "usage counter underflow"}
)

// Page division errors.
var (
	ErrAlreadyDivided = &kernel.Error{Module: "page_division", Message: "page already divided"}
	ErrAllocated      = &kernel.Error{Module: "page_division", Message: "page is allocated"}
)

// Page merge errors.
var (
	ErrNotDivided = &kernel.Error{Module: "page_merge", Message: "page is not divided"}
	ErrUsed       = &kernel.Error{Module: "page_merge", Message: "divided page has used slices"}
)

// Page status errors.
var (
	ErrStatusUnderflow = &kernel.Error{Module: "page_status", Message: "decrement of unused page status"}
	ErrStatusOverflow  = &kernel.Error{Module: "page_status", Message: "usage counter overflow"}
	ErrNotAllocated    = &kernel.Error{Module: "page_status", Message: "page is not allocated"}
)

// Allocator setup and bookkeeping errors.
var (
	ErrMisalignedWindow  = &kernel.Error{Module: "pmm", Message: "memory window is not superpage-aligned"}
	ErrOverlappingWindow = &kernel.Error{Module: "pmm", Message: "memory windows overlap"}
	ErrNotTracked        = &kernel.Error{Module: "pmm", Message: "page is not tracked"}
	ErrAlreadyTracked    = &kernel.Error{Module: "pmm", Message: "page is already tracked"}
	ErrNotRetirable      = &kernel.Error{Module: "pmm", Message: "only free whole superpages can be retired"}
	ErrStackFull         = &kernel.Error{Module: "pmm", Message: "free stack is full"}
	ErrInvalidCmdLine    = &kernel.Error{Module: "pmm", Message: "invalid pmm command line option"}
	ErrInvariant         = &kernel.Error{Module: "pmm_verify", Message: "allocator invariant violated"}
)
