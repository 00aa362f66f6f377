package pmm

import (
	"kobzar/kernel"
	"kobzar/kernel/mm"
	"kobzar/kernel/sync"
)

// LockedAllocator serializes access to an Allocator with a spinlock so it can
// be shared by multiple cores.
type LockedAllocator struct {
	mutex sync.Spinlock
	alloc *Allocator
}

// NewLocked wraps alloc. The caller must not use alloc directly afterwards.
func NewLocked(alloc *Allocator) *LockedAllocator {
	return &LockedAllocator{alloc: alloc}
}

// Alloc2M allocates a whole superpage.
func (l *LockedAllocator) Alloc2M() (Page2MHandle, *kernel.Error) {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Alloc2M()
}

// Alloc4K allocates a 4KiB page.
func (l *LockedAllocator) Alloc4K() (Page4KHandle, *kernel.Error) {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Alloc4K()
}

// Release2M drops a reference to a whole superpage.
func (l *LockedAllocator) Release2M(h Page2MHandle) *kernel.Error {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Release2M(h)
}

// Release4K drops a reference to a 4KiB page.
func (l *LockedAllocator) Release4K(h Page4KHandle) *kernel.Error {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Release4K(h)
}

// Retain2M adds a reference to an allocated superpage.
func (l *LockedAllocator) Retain2M(h Page2MHandle) (uint32, *kernel.Error) {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Retain2M(h)
}

// Retain4K adds a reference to an allocated 4KiB page.
func (l *LockedAllocator) Retain4K(h Page4KHandle) (uint32, *kernel.Error) {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Retain4K(h)
}

// Merge merges a fully free divided superpage.
func (l *LockedAllocator) Merge(page mm.Page2M) *kernel.Error {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Merge(page)
}

// Retire returns a free whole superpage to the FreeStack.
func (l *LockedAllocator) Retire(page mm.Page2M) *kernel.Error {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Retire(page)
}

// Stats returns a snapshot of the allocator counters.
func (l *LockedAllocator) Stats() Stats {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Stats()
}

// Verify checks the allocator invariants.
func (l *LockedAllocator) Verify() *kernel.Error {
	l.mutex.Acquire()
	defer l.mutex.Release()
	return l.alloc.Verify()
}

// Do runs fn with exclusive access to the wrapped allocator. fn must not
// retain alloc after it returns.
func (l *LockedAllocator) Do(fn func(alloc *Allocator)) {
	l.mutex.Acquire()
	defer l.mutex.Release()
	fn(l.alloc)
}
