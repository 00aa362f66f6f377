package pmm

import "kobzar/kernel/mm"

// Page2MHandle is returned by the allocator for every allocated superpage.
// The holder owns the use of the page but must return it through the
// allocator that produced the handle.
type Page2MHandle struct {
	page mm.Page2M
}

// Page returns the allocated superpage.
func (h Page2MHandle) Page() mm.Page2M { return h.page }

// Address returns the physical address of the allocated superpage.
func (h Page2MHandle) Address() uintptr { return h.page.Address() }

// Page4KHandle is returned by the allocator for every allocated 4KiB page.
type Page4KHandle struct {
	page mm.Page4K
}

// Page returns the allocated page.
func (h Page4KHandle) Page() mm.Page4K { return h.page }

// Address returns the physical address of the allocated page.
func (h Page4KHandle) Address() uintptr { return h.page.Address() }
